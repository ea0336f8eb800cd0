// Package metrics exports batch progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/valpere/mdtran/internal"
	"github.com/valpere/mdtran/internal/translator"
)

const Namespace = "mdtran"

// Metrics implements turn.Observer and usage.Observer.
type Metrics struct {
	registry *prometheus.Registry

	Calls          prometheus.Counter
	Tokens         *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	Jobs           *prometheus.CounterVec
	FilesCompleted prometheus.Counter
	CallLatency    prometheus.Histogram
	TurnsPerJob    prometheus.Histogram
}

// New registers all collectors on a fresh registry so several instances can
// coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Calls: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "calls_total",
			Help:      "Successful completion calls",
		}),
		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction",
		}, []string{"direction"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "call_failures_total",
			Help:      "Failed completion calls by kind",
		}, []string{"kind"}),
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_total",
			Help:      "Finished jobs by status",
		}, []string{"status"}),
		FilesCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "files_completed_total",
			Help:      "Documents whose translation reached the sentinel",
		}),
		CallLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "call_latency_seconds",
			Help:      "Latency of successful completion calls",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 300},
		}),
		TurnsPerJob: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "turns_per_job",
			Help:      "Successful turns needed per finished job",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CallRecorded(inputTokens, outputTokens int) {
	m.Calls.Inc()
	m.Tokens.WithLabelValues("input").Add(float64(inputTokens))
	m.Tokens.WithLabelValues("output").Add(float64(outputTokens))
}

func (m *Metrics) FileCompleted() {
	m.FilesCompleted.Inc()
}

func (m *Metrics) TurnCompleted(_ internal.Job, _ int, c *translator.Completion) {
	if c != nil && c.Latency > 0 {
		m.CallLatency.Observe(c.Latency.Seconds())
	}
}

func (m *Metrics) TurnFailed(_ internal.Job, _ int, kind translator.FailureKind, _ error) {
	m.Failures.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) JobFinished(_ internal.Job, outcome internal.Outcome) {
	m.Jobs.WithLabelValues(string(outcome.Status)).Inc()
	m.TurnsPerJob.Observe(float64(outcome.Turns))
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
