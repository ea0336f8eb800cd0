// Package turn drives one document through as many completion calls as it
// takes for the model to emit the completion sentinel.
package turn

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/valpere/mdtran/internal"
	"github.com/valpere/mdtran/internal/backoff"
	"github.com/valpere/mdtran/internal/prompt"
	"github.com/valpere/mdtran/internal/translator"
	"github.com/valpere/mdtran/internal/usage"
	"github.com/valpere/mdtran/internal/workspace"
)

const (
	DefaultMaxRetries  = 20
	DefaultCallTimeout = 300 * time.Second
)

type State int

const (
	StateStarting State = iota
	StateAwaitingResponse
	StateContinuing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateContinuing:
		return "continuing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateDone || s == StateFailed
}

// Config bounds a single job.
type Config struct {
	// MaxRetries is the number of consecutive failed calls tolerated; the
	// job fails on the next one.
	MaxRetries int
	// MaxTurns caps successful calls per job. Zero means no cap.
	MaxTurns    int
	CallTimeout time.Duration
	Model       translator.ModelConfig
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Observer receives per-turn and per-job events. Implementations must be
// safe for concurrent use; they are called from every running job.
type Observer interface {
	TurnCompleted(job internal.Job, turn int, c *translator.Completion)
	TurnFailed(job internal.Job, attempt int, kind translator.FailureKind, err error)
	JobFinished(job internal.Job, outcome internal.Outcome)
}

type Option func(*Controller)

func WithObservers(obs ...Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, obs...) }
}

func WithBackoff(p backoff.Policy) Option {
	return func(c *Controller) { c.backoff = p }
}

// WithSleep replaces the cancellable sleep used between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// Controller runs jobs against one completion client. Run may be called
// concurrently for different jobs.
type Controller struct {
	client    translator.CompletionClient
	prompts   *prompt.Builder
	usage     *usage.Accumulator
	backoff   backoff.Policy
	observers []Observer
	sleep     func(ctx context.Context, d time.Duration) error
	cfg       Config
}

func New(client translator.CompletionClient, prompts *prompt.Builder, acc *usage.Accumulator, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		client:  client,
		prompts: prompts,
		usage:   acc,
		backoff: backoff.Default(),
		sleep:   sleepWithCtx,
		cfg:     cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run is the mutable state of one job.
type run struct {
	job        internal.Job
	logger     zerolog.Logger
	transcript Transcript
	artifact   *workspace.Artifact
	failures   int
	outcome    internal.Outcome
}

// Run drives job to a terminal state and reports the outcome. It never
// returns an error: every failure ends up in the outcome.
func (c *Controller) Run(ctx context.Context, job internal.Job) internal.Outcome {
	start := time.Now()
	r := &run{
		job:     job,
		logger:  log.With().Str("job", job.ID).Str("client", c.client.Name()).Logger(),
		outcome: internal.Outcome{JobID: job.ID},
	}
	defer func() {
		if r.artifact == nil {
			return
		}
		if err := r.artifact.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("close artifact")
		}
	}()

	r.logger.Info().Str("destination", job.Destination).Msg("job started")

	state := StateStarting
	for !state.terminal() {
		next := c.step(ctx, r, state)
		if next != state {
			r.logger.Debug().Stringer("from", state).Stringer("to", next).Msg("state transition")
		}
		state = next
	}

	r.outcome.Duration = time.Since(start)
	if state == StateDone {
		r.outcome.Status = internal.StatusSucceeded
		r.logger.Info().Int("turns", r.outcome.Turns).Dur("duration", r.outcome.Duration).Msg("job translated")
	} else {
		r.outcome.Status = internal.StatusFailed
		r.logger.Error().Str("reason", r.outcome.Reason).Int("turns", r.outcome.Turns).Msg("job failed")
	}

	for _, o := range c.observers {
		o.JobFinished(job, r.outcome)
	}
	return r.outcome
}

func (c *Controller) step(ctx context.Context, r *run, state State) State {
	switch state {
	case StateStarting:
		return c.start(r)
	case StateAwaitingResponse:
		return c.await(ctx, r)
	case StateContinuing:
		r.transcript.Append(translator.RoleUser, c.prompts.Continue())
		return StateAwaitingResponse
	default:
		return fail(r, "unexpected state "+state.String())
	}
}

func (c *Controller) start(r *run) State {
	text, err := r.job.SourceText()
	if err != nil {
		return fail(r, err.Error())
	}
	instruction, err := c.prompts.Initial(text)
	if err != nil {
		return fail(r, err.Error())
	}
	art, err := workspace.Create(r.job.Destination)
	if err != nil {
		return fail(r, err.Error())
	}

	r.artifact = art
	r.transcript = Transcript{}
	r.transcript.Append(translator.RoleUser, instruction)
	r.failures = 0
	return StateAwaitingResponse
}

func (c *Controller) await(ctx context.Context, r *run) State {
	if ctx.Err() != nil {
		return fail(r, internal.ReasonInterrupted)
	}
	if c.cfg.MaxTurns > 0 && r.outcome.Turns >= c.cfg.MaxTurns {
		return fail(r, internal.ReasonTurnLimit)
	}

	r.logger.Debug().Int("turn", r.outcome.Turns+1).Int("messages", r.transcript.Len()).Msg("sending request")

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	res := c.client.Send(callCtx, r.transcript.Messages(), c.cfg.Model)
	cancel()

	if !res.OK() {
		return c.retry(ctx, r, res)
	}
	return c.accept(r, res.Completion)
}

func (c *Controller) retry(ctx context.Context, r *run, res translator.Result) State {
	if ctx.Err() != nil {
		return fail(r, internal.ReasonInterrupted)
	}

	r.failures++
	r.outcome.Retries++
	for _, o := range c.observers {
		o.TurnFailed(r.job, r.failures, res.Failure, res.Err)
	}

	if r.failures > c.cfg.MaxRetries {
		r.logger.Error().Err(res.Err).Str("kind", res.Failure.String()).Int("attempt", r.failures).Msg("retry budget exhausted")
		return fail(r, internal.ReasonRetriesExhausted)
	}

	delay := c.backoff.Delay(r.failures)
	r.logger.Warn().
		Err(res.Err).
		Str("kind", res.Failure.String()).
		Int("attempt", r.failures).
		Dur("delay", delay).
		Msg("call failed, retrying")

	if err := c.sleep(ctx, delay); err != nil {
		return fail(r, internal.ReasonInterrupted)
	}
	return StateAwaitingResponse
}

func (c *Controller) accept(r *run, completion *translator.Completion) State {
	r.failures = 0
	r.outcome.Turns++
	r.outcome.InputTokens += completion.InputTokens
	r.outcome.OutputTokens += completion.OutputTokens

	c.usage.RecordCall(completion.InputTokens, completion.OutputTokens)

	if err := r.artifact.Append(completion.Text); err != nil {
		return fail(r, err.Error())
	}
	r.transcript.Append(translator.RoleAssistant, completion.Text)

	r.logger.Info().
		Int("turn", r.outcome.Turns).
		Int("input_tokens", completion.InputTokens).
		Int("output_tokens", completion.OutputTokens).
		Float64("cost", c.usage.Pricing().Cost(completion.InputTokens, completion.OutputTokens)).
		Int("reply_len", len(completion.Text)).
		Msg("reply received")

	for _, o := range c.observers {
		o.TurnCompleted(r.job, r.outcome.Turns, completion)
	}

	if c.prompts.Done(completion.Text) {
		c.usage.RecordFileComplete()
		return StateDone
	}
	return StateContinuing
}

func fail(r *run, reason string) State {
	r.outcome.Reason = reason
	return StateFailed
}

func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
