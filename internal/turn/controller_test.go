package turn

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/mdtran/internal"
	"github.com/valpere/mdtran/internal/backoff"
	"github.com/valpere/mdtran/internal/prompt"
	"github.com/valpere/mdtran/internal/translator"
	"github.com/valpere/mdtran/internal/translator/translatortest"
	"github.com/valpere/mdtran/internal/usage"
)

const sentinel = "<<DONE>>"

type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type recordingObserver struct {
	mu        sync.Mutex
	completed []int
	failed    []translator.FailureKind
	finished  []internal.Outcome
}

func (o *recordingObserver) TurnCompleted(_ internal.Job, turn int, _ *translator.Completion) {
	o.mu.Lock()
	o.completed = append(o.completed, turn)
	o.mu.Unlock()
}

func (o *recordingObserver) TurnFailed(_ internal.Job, _ int, kind translator.FailureKind, _ error) {
	o.mu.Lock()
	o.failed = append(o.failed, kind)
	o.mu.Unlock()
}

func (o *recordingObserver) JobFinished(_ internal.Job, outcome internal.Outcome) {
	o.mu.Lock()
	o.finished = append(o.finished, outcome)
	o.mu.Unlock()
}

func newPrompts(t *testing.T) *prompt.Builder {
	t.Helper()
	b, err := prompt.New(prompt.Options{
		Template: "Translate:\n{{ .Content }}",
		Continue: "continue",
		Sentinel: sentinel,
	})
	require.NoError(t, err)
	return b
}

func newJob(t *testing.T, content string) internal.Job {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(src, []byte(content), 0644))
	return internal.Job{ID: "doc.md", Source: src, Destination: filepath.Join(dir, "out", "translated_doc.md")}
}

func readArtifact(t *testing.T, job internal.Job) string {
	t.Helper()
	b, err := os.ReadFile(job.Destination)
	require.NoError(t, err)
	return string(b)
}

func TestController_TwoTurns(t *testing.T) {
	job := newJob(t, "source document")
	client := translatortest.New("fake").Script("",
		translatortest.Reply("part one, ", 100, 50),
		translatortest.Reply("part two "+sentinel, 180, 40),
	)
	acc := usage.New(usage.DefaultPricing())
	obs := &recordingObserver{}

	c := New(client, newPrompts(t), acc, Config{}, WithObservers(obs), WithSleep((&recordedSleep{}).sleep))
	out := c.Run(context.Background(), job)

	require.True(t, out.Succeeded(), "reason: %s", out.Reason)
	assert.Equal(t, 2, out.Turns)
	assert.Equal(t, 280, out.InputTokens)
	assert.Equal(t, 90, out.OutputTokens)
	assert.Equal(t, "part one, part two "+sentinel, readArtifact(t, job))

	convs := client.Conversations("")
	require.Len(t, convs, 2)
	require.Len(t, convs[0], 1)
	assert.Equal(t, translator.RoleUser, convs[0][0].Role)
	assert.Equal(t, "Translate:\nsource document", convs[0][0].Text)
	require.Len(t, convs[1], 3)
	assert.Equal(t, translator.RoleAssistant, convs[1][1].Role)
	assert.Equal(t, "part one, ", convs[1][1].Text)
	assert.Equal(t, translator.Message{Role: translator.RoleUser, Text: "continue"}, convs[1][2])

	r := acc.Summary()
	assert.Equal(t, int64(2), r.Calls)
	assert.Equal(t, int64(1), r.Files)

	assert.Equal(t, []int{1, 2}, obs.completed)
	require.Len(t, obs.finished, 1)
	assert.Equal(t, internal.StatusSucceeded, obs.finished[0].Status)
}

func TestController_RetriesTransientFailures(t *testing.T) {
	job := newJob(t, "doc")
	steps := translatortest.Repeat(translatortest.Failure(translator.FailureRateLimited), 5)
	steps = append(steps, translatortest.Reply("all "+sentinel, 10, 20))
	client := translatortest.New("fake").Script("", steps...)
	acc := usage.New(usage.DefaultPricing())
	sl := &recordedSleep{}
	policy := backoff.Policy{Base: time.Second, Ceiling: 8 * time.Second}

	c := New(client, newPrompts(t), acc, Config{}, WithSleep(sl.sleep), WithBackoff(policy))
	out := c.Run(context.Background(), job)

	require.True(t, out.Succeeded())
	assert.Equal(t, 5, out.Retries)
	assert.Equal(t, 1, out.Turns)
	assert.Equal(t, int64(1), acc.Summary().Calls)
	assert.Equal(t, int64(10), acc.Summary().InputTokens)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}, sl.delays)
	assert.Equal(t, "all "+sentinel, readArtifact(t, job))

	for _, conv := range client.Conversations("") {
		assert.Len(t, conv, 1, "retries resend the same conversation")
	}
}

func TestController_FailureCounterResetsOnSuccess(t *testing.T) {
	job := newJob(t, "doc")
	var steps []translatortest.Step
	steps = append(steps, translatortest.Repeat(translatortest.Failure(translator.FailureConnection), 3)...)
	steps = append(steps, translatortest.Reply("a", 1, 1))
	steps = append(steps, translatortest.Repeat(translatortest.Failure(translator.FailureOverloaded), 3)...)
	steps = append(steps, translatortest.Reply("b"+sentinel, 1, 1))
	client := translatortest.New("fake").Script("", steps...)
	sl := &recordedSleep{}

	c := New(client, newPrompts(t), usage.New(usage.DefaultPricing()), Config{MaxRetries: 3},
		WithSleep(sl.sleep), WithBackoff(backoff.Policy{Base: time.Second, Ceiling: time.Minute}))
	out := c.Run(context.Background(), job)

	require.True(t, out.Succeeded(), "reason: %s", out.Reason)
	assert.Equal(t, 6, out.Retries)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, sl.delays)
}

func TestController_RetryBudgetExhausted(t *testing.T) {
	job := newJob(t, "doc")
	client := translatortest.New("fake").Script("",
		translatortest.Repeat(translatortest.Failure(translator.FailureUnclassified), 21)...)
	acc := usage.New(usage.DefaultPricing())
	obs := &recordingObserver{}

	c := New(client, newPrompts(t), acc, Config{MaxRetries: DefaultMaxRetries}, WithSleep((&recordedSleep{}).sleep), WithObservers(obs))
	out := c.Run(context.Background(), job)

	assert.Equal(t, internal.StatusFailed, out.Status)
	assert.Equal(t, internal.ReasonRetriesExhausted, out.Reason)
	assert.Equal(t, 21, client.Calls())
	assert.Len(t, obs.failed, 21)
	assert.Zero(t, acc.Summary().Calls)
	assert.Zero(t, acc.Summary().Files)
	assert.Equal(t, "", readArtifact(t, job))
}

func TestController_TwentyFailuresThenSuccess(t *testing.T) {
	job := newJob(t, "doc")
	steps := translatortest.Repeat(translatortest.Failure(translator.FailureTimeout), 20)
	steps = append(steps, translatortest.Reply(sentinel, 1, 1))
	client := translatortest.New("fake").Script("", steps...)

	c := New(client, newPrompts(t), usage.New(usage.DefaultPricing()), Config{MaxRetries: 20}, WithSleep((&recordedSleep{}).sleep))
	out := c.Run(context.Background(), job)

	assert.True(t, out.Succeeded())
}

func TestController_TruncatesExistingArtifact(t *testing.T) {
	job := newJob(t, "doc")
	require.NoError(t, os.MkdirAll(filepath.Dir(job.Destination), 0755))
	require.NoError(t, os.WriteFile(job.Destination, []byte("old translation from a previous run"), 0644))

	for i := 0; i < 2; i++ {
		client := translatortest.New("fake").Script("", translatortest.Reply("fresh "+sentinel, 1, 1))
		c := New(client, newPrompts(t), usage.New(usage.DefaultPricing()), Config{})
		out := c.Run(context.Background(), job)
		require.True(t, out.Succeeded())
		assert.Equal(t, "fresh "+sentinel, readArtifact(t, job))
	}
}

func TestController_MaxTurns(t *testing.T) {
	job := newJob(t, "doc")
	client := translatortest.New("fake").Script("",
		translatortest.Reply("one ", 1, 1),
		translatortest.Reply("two ", 1, 1),
		translatortest.Reply("three", 1, 1),
	)

	c := New(client, newPrompts(t), usage.New(usage.DefaultPricing()), Config{MaxTurns: 2})
	out := c.Run(context.Background(), job)

	assert.Equal(t, internal.StatusFailed, out.Status)
	assert.Equal(t, internal.ReasonTurnLimit, out.Reason)
	assert.Equal(t, 2, client.Calls())
	assert.Equal(t, "one two ", readArtifact(t, job))
}

func TestController_InterruptedKeepsCompletedTurns(t *testing.T) {
	job := newJob(t, "doc")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	client := translatortest.Func(func(ctx context.Context, conv []translator.Message) translator.Result {
		calls++
		if calls == 1 {
			cancel()
			return translator.Succeeded(&translator.Completion{Text: "first turn"})
		}
		return translator.Failed(translator.FailureUnclassified, ctx.Err())
	})

	c := New(client, newPrompts(t), usage.New(usage.DefaultPricing()), Config{})
	out := c.Run(ctx, job)

	assert.Equal(t, internal.StatusFailed, out.Status)
	assert.Equal(t, internal.ReasonInterrupted, out.Reason)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "first turn", readArtifact(t, job))
}

func TestController_InterruptedDuringBackoff(t *testing.T) {
	job := newJob(t, "doc")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := translatortest.New("fake").Script("", translatortest.Failure(translator.FailureRateLimited))
	sleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	c := New(client, newPrompts(t), usage.New(usage.DefaultPricing()), Config{}, WithSleep(sleep))
	out := c.Run(ctx, job)

	assert.Equal(t, internal.ReasonInterrupted, out.Reason)
	assert.Equal(t, 1, client.Calls())
}

func TestController_CallTimeoutIsRetried(t *testing.T) {
	job := newJob(t, "doc")
	calls := 0
	client := translatortest.Func(func(ctx context.Context, conv []translator.Message) translator.Result {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return translator.Failed(translator.Classify(ctx.Err()), ctx.Err())
		}
		return translator.Succeeded(&translator.Completion{Text: sentinel})
	})
	obs := &recordingObserver{}

	c := New(client, newPrompts(t), usage.New(usage.DefaultPricing()), Config{CallTimeout: 20 * time.Millisecond},
		WithSleep((&recordedSleep{}).sleep), WithObservers(obs))
	out := c.Run(context.Background(), job)

	require.True(t, out.Succeeded())
	assert.Equal(t, []translator.FailureKind{translator.FailureTimeout}, obs.failed)
}

func TestController_MissingSource(t *testing.T) {
	dir := t.TempDir()
	job := internal.Job{ID: "gone.md", Source: filepath.Join(dir, "gone.md"), Destination: filepath.Join(dir, "out.md")}
	client := translatortest.New("fake")

	out := New(client, newPrompts(t), usage.New(usage.DefaultPricing()), Config{}).Run(context.Background(), job)

	assert.Equal(t, internal.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "read source")
	assert.Zero(t, client.Calls())
}

func TestController_InMemorySource(t *testing.T) {
	dir := t.TempDir()
	job := internal.Job{ID: "mem", Text: "inline text", Destination: filepath.Join(dir, "mem.md")}
	client := translatortest.New("fake").Script("inline text", translatortest.Reply(sentinel, 1, 1))

	out := New(client, newPrompts(t), usage.New(usage.DefaultPricing()), Config{}).Run(context.Background(), job)
	assert.True(t, out.Succeeded())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_response", StateAwaitingResponse.String())
	assert.Equal(t, "done", StateDone.String())
	assert.True(t, StateFailed.terminal())
	assert.False(t, StateContinuing.terminal())
}
