package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/valpere/mdtran/internal"
	"github.com/valpere/mdtran/internal/translator"
	"github.com/valpere/mdtran/internal/usage"
)

// Journal records one batch run into the store. It implements turn.Observer;
// write errors are logged and never affect the job.
type Journal struct {
	store *Store
	runID string
}

// OpenJournal creates a new run row and returns a journal bound to it.
func OpenJournal(ctx context.Context, s *Store, run Run) (*Journal, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if err := s.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return &Journal{store: s, runID: run.ID}, nil
}

func (j *Journal) RunID() string {
	return j.runID
}

func (j *Journal) TurnCompleted(job internal.Job, turn int, c *translator.Completion) {
	err := j.store.SaveTurn(context.Background(), j.runID, job.ID, turn, c.InputTokens, c.OutputTokens, len(c.Text), c.Latency)
	if err != nil {
		log.Warn().Err(err).Str("job", job.ID).Int("turn", turn).Msg("journal: save turn")
	}
}

func (j *Journal) TurnFailed(internal.Job, int, translator.FailureKind, error) {}

func (j *Journal) JobFinished(job internal.Job, outcome internal.Outcome) {
	var checksum string
	if text, err := job.SourceText(); err == nil {
		checksum = Checksum(text)
	}
	if err := j.store.SaveJob(context.Background(), j.runID, job, checksum, outcome); err != nil {
		log.Warn().Err(err).Str("job", job.ID).Msg("journal: save job")
	}
}

// Finish closes the run with its final tally.
func (j *Journal) Finish(ctx context.Context, succeeded, failed int, report usage.Report, interrupted bool) error {
	status := "completed"
	if interrupted {
		status = "interrupted"
	}
	return j.store.FinishRun(ctx, j.runID, status, succeeded, failed, report)
}
