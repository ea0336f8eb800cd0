package internal

import (
	"fmt"
	"os"
	"time"
)

// Job is one source document queued for translation. It is immutable once
// created by workspace discovery.
type Job struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	// Text holds the raw source when the caller already has it in memory.
	// When empty the source file is read at job start.
	Text string `json:"-"`
}

// SourceText returns the raw markdown to translate.
func (j Job) SourceText() (string, error) {
	if j.Text != "" {
		return j.Text, nil
	}
	b, err := os.ReadFile(j.Source)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(b), nil
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Failure reasons reported in Outcome.Reason.
const (
	ReasonRetriesExhausted = "retry budget exhausted"
	ReasonTurnLimit        = "turn limit reached"
	ReasonInterrupted      = "interrupted"
)

// Outcome is the terminal state of a job as seen by the batch orchestrator.
type Outcome struct {
	JobID        string        `json:"job_id"`
	Status       Status        `json:"status"`
	Reason       string        `json:"reason,omitempty"`
	Turns        int           `json:"turns"`
	Retries      int           `json:"retries"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}

func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}
