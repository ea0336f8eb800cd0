package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/valpere/mdtran/internal"
	"github.com/valpere/mdtran/internal/prompt"
	"github.com/valpere/mdtran/internal/translator"
	"github.com/valpere/mdtran/internal/turn"
	"github.com/valpere/mdtran/internal/usage"
)

type OrchestratorConfig struct {
	// Concurrency is the number of jobs allowed to run at once. Zero means
	// one per client (credential).
	Concurrency int
	// Sequential runs jobs one at a time in input order.
	Sequential bool
	Turn       turn.Config
}

type OrchestratorResult struct {
	Outcomes  []internal.Outcome
	Succeeded int
	Failed    int
	Usage     usage.Report
	Duration  time.Duration
}

// Orchestrator runs a batch of jobs. Job i is bound to client i mod
// len(clients); each client gets its own turn controller.
type Orchestrator struct {
	controllers []*turn.Controller
	usage       *usage.Accumulator
	config      OrchestratorConfig
}

func New(clients []translator.CompletionClient, prompts *prompt.Builder, acc *usage.Accumulator, config OrchestratorConfig, opts ...turn.Option) (*Orchestrator, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("at least one completion client is required")
	}
	if prompts == nil || acc == nil {
		return nil, fmt.Errorf("prompt builder and usage accumulator are required")
	}

	if config.Sequential {
		config.Concurrency = 1
	}
	if config.Concurrency <= 0 {
		config.Concurrency = len(clients)
	}

	o := &Orchestrator{usage: acc, config: config}
	for _, c := range clients {
		o.controllers = append(o.controllers, turn.New(c, prompts, acc, config.Turn, opts...))
	}
	return o, nil
}

func (o *Orchestrator) Concurrency() int {
	return o.config.Concurrency
}

// Execute runs every job to a terminal state. A failed job never stops its
// siblings; once ctx is cancelled, jobs that have not started are reported
// as interrupted.
func (o *Orchestrator) Execute(ctx context.Context, jobs []internal.Job) *OrchestratorResult {
	start := time.Now()
	result := &OrchestratorResult{Outcomes: make([]internal.Outcome, len(jobs))}

	if len(jobs) > 0 {
		log.Info().Int("jobs", len(jobs)).Int("concurrency", o.config.Concurrency).Bool("sequential", o.config.Sequential).Msg("batch started")
		if o.config.Sequential {
			o.runSequential(ctx, jobs, result.Outcomes)
		} else {
			o.runParallel(ctx, jobs, result.Outcomes)
		}
	}

	for _, out := range result.Outcomes {
		if out.Succeeded() {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	result.Usage = o.usage.Summary()
	result.Duration = time.Since(start)
	return result
}

func (o *Orchestrator) runSequential(ctx context.Context, jobs []internal.Job, outcomes []internal.Outcome) {
	for i, job := range jobs {
		if ctx.Err() != nil {
			outcomes[i] = interrupted(job)
			continue
		}
		log.Info().Msgf("processing file %d/%d: %s", i+1, len(jobs), job.ID)
		outcomes[i] = o.controllerFor(i).Run(ctx, job)
	}
}

func (o *Orchestrator) runParallel(ctx context.Context, jobs []internal.Job, outcomes []internal.Outcome) {
	sem := semaphore.NewWeighted(int64(o.config.Concurrency))
	eg := errgroup.Group{}

	for i, job := range jobs {
		i, job := i, job // per-iteration copies (go directive < 1.22)
		ctrl := o.controllerFor(i)
		eg.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = interrupted(job)
				return nil
			}
			defer sem.Release(1)

			if ctx.Err() != nil {
				outcomes[i] = interrupted(job)
				return nil
			}
			outcomes[i] = ctrl.Run(ctx, job)
			return nil
		})
	}

	_ = eg.Wait()
}

func (o *Orchestrator) controllerFor(i int) *turn.Controller {
	return o.controllers[i%len(o.controllers)]
}

func interrupted(job internal.Job) internal.Outcome {
	return internal.Outcome{JobID: job.ID, Status: internal.StatusFailed, Reason: internal.ReasonInterrupted}
}
