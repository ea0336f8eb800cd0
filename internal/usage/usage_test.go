package usage

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	mu    sync.Mutex
	calls int
	files int
}

func (o *countingObserver) CallRecorded(int, int) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
}

func (o *countingObserver) FileCompleted() {
	o.mu.Lock()
	o.files++
	o.mu.Unlock()
}

func TestAccumulator_Summary(t *testing.T) {
	a := New(DefaultPricing())
	a.RecordCall(1000, 2000)
	a.RecordCall(500, 0)
	a.RecordFileComplete()

	r := a.Summary()
	assert.Equal(t, int64(2), r.Calls)
	assert.Equal(t, int64(1), r.Files)
	assert.Equal(t, int64(1500), r.InputTokens)
	assert.Equal(t, int64(2000), r.OutputTokens)
	assert.Equal(t, int64(3500), r.TotalTokens())
	assert.InDelta(t, 0.0045, r.InputCost, 1e-9)
	assert.InDelta(t, 0.03, r.OutputCost, 1e-9)
	assert.InDelta(t, 0.0345, r.CostPerFile(), 1e-9)
}

func TestAccumulator_Empty(t *testing.T) {
	r := New(DefaultPricing()).Summary()
	assert.Zero(t, r.Calls)
	assert.Zero(t, r.TotalCost())
	assert.Zero(t, r.CostPerFile())
}

func TestAccumulator_Concurrent(t *testing.T) {
	a := New(Pricing{InputPer1K: 1, OutputPer1K: 1})
	obs := &countingObserver{}
	a.AddObserver(obs)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				a.RecordCall(3, 7)
			}
			a.RecordFileComplete()
		}()
	}
	wg.Wait()

	r := a.Summary()
	require.Equal(t, int64(1000), r.Calls)
	assert.Equal(t, int64(3000), r.InputTokens)
	assert.Equal(t, int64(7000), r.OutputTokens)
	assert.Equal(t, int64(50), r.Files)
	assert.Equal(t, 1000, obs.calls)
	assert.Equal(t, 50, obs.files)
}

func TestPricing_Cost(t *testing.T) {
	p := Pricing{InputPer1K: 0.003, OutputPer1K: 0.015}
	assert.InDelta(t, 0.018, p.Cost(1000, 1000), 1e-9)
}

func TestReport_Print(t *testing.T) {
	a := New(DefaultPricing())
	a.RecordCall(1234, 567)
	a.RecordFileComplete()

	var buf bytes.Buffer
	a.Summary().Print(&buf)

	out := buf.String()
	assert.Contains(t, out, "Files processed:  1")
	assert.Contains(t, out, "API calls:        1")
	assert.Contains(t, out, "Total tokens:     1801")
	assert.Contains(t, out, "Cost per file:")
}
