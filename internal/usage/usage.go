// Package usage accumulates token counts and cost across a batch run.
package usage

import (
	"fmt"
	"io"
	"sync"
)

const (
	DefaultInputPer1K  = 0.003
	DefaultOutputPer1K = 0.015
)

// Pricing is the cost in USD per 1000 tokens.
type Pricing struct {
	InputPer1K  float64 `mapstructure:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `mapstructure:"output_per_1k" json:"output_per_1k"`
}

func DefaultPricing() Pricing {
	return Pricing{InputPer1K: DefaultInputPer1K, OutputPer1K: DefaultOutputPer1K}
}

// Cost returns the price of a single call.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputPer1K + float64(outputTokens)/1000*p.OutputPer1K
}

// Observer is notified after every accumulator mutation.
type Observer interface {
	CallRecorded(inputTokens, outputTokens int)
	FileCompleted()
}

// Accumulator holds process-lifetime counters. All methods are safe for
// concurrent use; each mutation is applied under one lock.
type Accumulator struct {
	pricing Pricing

	mu           sync.Mutex
	inputTokens  int64
	outputTokens int64
	calls        int64
	files        int64
	observers    []Observer
}

func New(pricing Pricing) *Accumulator {
	return &Accumulator{pricing: pricing}
}

func (a *Accumulator) AddObserver(o Observer) {
	a.mu.Lock()
	a.observers = append(a.observers, o)
	a.mu.Unlock()
}

func (a *Accumulator) RecordCall(inputTokens, outputTokens int) {
	a.mu.Lock()
	a.inputTokens += int64(inputTokens)
	a.outputTokens += int64(outputTokens)
	a.calls++
	obs := a.observers
	a.mu.Unlock()

	for _, o := range obs {
		o.CallRecorded(inputTokens, outputTokens)
	}
}

func (a *Accumulator) RecordFileComplete() {
	a.mu.Lock()
	a.files++
	obs := a.observers
	a.mu.Unlock()

	for _, o := range obs {
		o.FileCompleted()
	}
}

func (a *Accumulator) Pricing() Pricing {
	return a.pricing
}

// Report is a point-in-time snapshot of the accumulator.
type Report struct {
	Files        int64   `json:"files"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
}

func (r Report) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

func (r Report) TotalCost() float64 {
	return r.InputCost + r.OutputCost
}

// CostPerFile is zero when no file completed.
func (r Report) CostPerFile() float64 {
	if r.Files == 0 {
		return 0
	}
	return r.TotalCost() / float64(r.Files)
}

func (a *Accumulator) Summary() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Report{
		Files:        a.files,
		Calls:        a.calls,
		InputTokens:  a.inputTokens,
		OutputTokens: a.outputTokens,
		InputCost:    float64(a.inputTokens) / 1000 * a.pricing.InputPer1K,
		OutputCost:   float64(a.outputTokens) / 1000 * a.pricing.OutputPer1K,
	}
}

// Print writes the human-readable summary shown at the end of a run.
func (r Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Token usage ===")
	fmt.Fprintf(w, "Files processed:  %d\n", r.Files)
	fmt.Fprintf(w, "API calls:        %d\n", r.Calls)
	fmt.Fprintf(w, "Input tokens:     %d\n", r.InputTokens)
	fmt.Fprintf(w, "Output tokens:    %d\n", r.OutputTokens)
	fmt.Fprintf(w, "Total tokens:     %d\n", r.TotalTokens())
	fmt.Fprintln(w, "=== Cost (USD) ===")
	fmt.Fprintf(w, "Input cost:       $%.4f\n", r.InputCost)
	fmt.Fprintf(w, "Output cost:      $%.4f\n", r.OutputCost)
	fmt.Fprintf(w, "Total cost:       $%.4f\n", r.TotalCost())
	fmt.Fprintf(w, "Cost per file:    $%.4f\n", r.CostPerFile())
}
