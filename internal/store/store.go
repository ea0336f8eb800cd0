package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/mdtran/internal"
	"github.com/valpere/mdtran/internal/usage"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// jobs write concurrently; sqlite allows one writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		input_dir TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		model TEXT,
		concurrency INTEGER,
		status TEXT DEFAULT 'running',
		jobs_succeeded INTEGER DEFAULT 0,
		jobs_failed INTEGER DEFAULT 0,
		calls INTEGER DEFAULT 0,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		cost REAL DEFAULT 0,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS jobs (
		run_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		source_checksum TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		turns INTEGER DEFAULT 0,
		retries INTEGER DEFAULT 0,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		finished_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, job_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- turns records every successful call of a job in order
	CREATE TABLE IF NOT EXISTS turns (
		run_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		turn_idx INTEGER NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		reply_chars INTEGER NOT NULL,
		latency_ms INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, job_id, turn_idx),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- glossary stores user-defined terminology injected into the instruction
	CREATE TABLE IF NOT EXISTS glossary (
		id TEXT PRIMARY KEY,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		source_term TEXT NOT NULL,
		target_term TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_lang, target_lang, source_term)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_run ON jobs(run_id);
	CREATE INDEX IF NOT EXISTS idx_turns_job ON turns(run_id, job_id);
	CREATE INDEX IF NOT EXISTS idx_glossary_lookup ON glossary(source_lang, target_lang);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Run is a row from the runs table.
type Run struct {
	ID            string
	InputDir      string
	OutputDir     string
	Model         string
	Concurrency   int
	Status        string
	JobsSucceeded int
	JobsFailed    int
	Calls         int64
	InputTokens   int64
	OutputTokens  int64
	Cost          float64
	StartedAt     time.Time
	FinishedAt    sql.NullTime
}

func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input_dir, output_dir, model, concurrency, status, started_at) VALUES (?, ?, ?, ?, ?, 'running', ?)`,
		run.ID, run.InputDir, run.OutputDir, run.Model, run.Concurrency, run.StartedAt)
	return err
}

// FinishRun stores the final tally and usage of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status string, succeeded, failed int, report usage.Report) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, jobs_succeeded = ?, jobs_failed = ?, calls = ?, input_tokens = ?, output_tokens = ?, cost = ?, finished_at = ? WHERE id = ?`,
		status, succeeded, failed, report.Calls, report.InputTokens, report.OutputTokens, report.TotalCost(), time.Now(), runID)
	return err
}

func (s *Store) SaveJob(ctx context.Context, runID string, job internal.Job, checksum string, out internal.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs (run_id, job_id, source, destination, source_checksum, status, reason, turns, retries, input_tokens, output_tokens, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, job.ID, job.Source, job.Destination, checksum, string(out.Status), out.Reason, out.Turns, out.Retries,
		out.InputTokens, out.OutputTokens, out.Duration.Milliseconds(), time.Now())
	return err
}

func (s *Store) SaveTurn(ctx context.Context, runID, jobID string, turnIdx, inputTokens, outputTokens, replyChars int, latency time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO turns (run_id, job_id, turn_idx, input_tokens, output_tokens, reply_chars, latency_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, jobID, turnIdx, inputTokens, outputTokens, replyChars, latency.Milliseconds())
	return err
}

// ListRuns returns runs ordered by most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, input_dir, output_dir, COALESCE(model, ''), COALESCE(concurrency, 0), status, jobs_succeeded, jobs_failed, calls, input_tokens, output_tokens, cost, started_at, finished_at
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.InputDir, &r.OutputDir, &r.Model, &r.Concurrency, &r.Status, &r.JobsSucceeded, &r.JobsFailed,
			&r.Calls, &r.InputTokens, &r.OutputTokens, &r.Cost, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a run by ID or an error when it does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx,
		`SELECT id, input_dir, output_dir, COALESCE(model, ''), COALESCE(concurrency, 0), status, jobs_succeeded, jobs_failed, calls, input_tokens, output_tokens, cost, started_at, finished_at
		 FROM runs WHERE id = ?`, runID).Scan(&r.ID, &r.InputDir, &r.OutputDir, &r.Model, &r.Concurrency, &r.Status, &r.JobsSucceeded, &r.JobsFailed,
		&r.Calls, &r.InputTokens, &r.OutputTokens, &r.Cost, &r.StartedAt, &r.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// JobRecord is a row from the jobs table.
type JobRecord struct {
	JobID        string
	Source       string
	Destination  string
	Checksum     string
	Status       string
	Reason       string
	Turns        int
	Retries      int
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

func (s *Store) ListJobs(ctx context.Context, runID string) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, source, destination, COALESCE(source_checksum, ''), status, COALESCE(reason, ''), turns, retries, input_tokens, output_tokens, duration_ms
		 FROM jobs WHERE run_id = ? ORDER BY job_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var j JobRecord
		var ms int64
		if err := rows.Scan(&j.JobID, &j.Source, &j.Destination, &j.Checksum, &j.Status, &j.Reason, &j.Turns, &j.Retries, &j.InputTokens, &j.OutputTokens, &ms); err != nil {
			return nil, err
		}
		j.Duration = time.Duration(ms) * time.Millisecond
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountTurns returns the number of recorded turns for a job.
func (s *Store) CountTurns(ctx context.Context, runID, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE run_id = ? AND job_id = ?`, runID, jobID).Scan(&n)
	return n, err
}

// JournalStats summarises every recorded run.
type JournalStats struct {
	Runs          int
	Jobs          int
	JobsSucceeded int
	JobsFailed    int
	Turns         int
	InputTokens   int64
	OutputTokens  int64
	Cost          float64
}

func (s *Store) Stats(ctx context.Context) (*JournalStats, error) {
	stats := &JournalStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost), 0)
		FROM runs`).Scan(&stats.Runs, &stats.InputTokens, &stats.OutputTokens, &stats.Cost)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM jobs`).Scan(&stats.Jobs, &stats.JobsSucceeded, &stats.JobsFailed)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&stats.Turns)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// DeleteRun removes a run with its jobs and turns.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM turns WHERE run_id = ?`,
		`DELETE FROM jobs WHERE run_id = ?`,
		`DELETE FROM runs WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, runID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ClearRuns removes every run and returns how many were deleted.
func (s *Store) ClearRuns(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns`); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Checksum identifies a source document independent of surrounding
// whitespace and Unicode normal form.
func Checksum(text string) string {
	sum := sha256.Sum256([]byte(normalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}
