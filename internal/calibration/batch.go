package calibration

import (
	"time"

	"github.com/opendt-project/opendt/internal/model"
)

// Batch accumulates Tasks and PowerSamples covering at least Width of
// event-time, starting at the last epoch's end (or the first observed
// timestamp), per spec.md §4.6 step 1.
type Batch struct {
	Start time.Time
	Width time.Duration

	tasks     []model.Task
	samples   []model.PowerSample
	watermark time.Time
	started   bool
}

// NewBatch starts an accumulation window of width beginning at start.
func NewBatch(start time.Time, width time.Duration) *Batch {
	return &Batch{Start: start, Width: width}
}

// AddTask appends a task observed at ts to the batch, regardless of
// whether it falls inside [Start, Start+Width), so a candidate replays
// every task added since this batch was opened. Tasks of earlier batches
// are not carried over: each epoch's next batch starts empty.
func (b *Batch) AddTask(t model.Task, ts time.Time) {
	b.tasks = append(b.tasks, t)
	b.advance(ts)
}

// AddSample appends a ground-truth power sample observed at ts.
func (b *Batch) AddSample(s model.PowerSample) {
	b.samples = append(b.samples, s)
	b.advance(s.Timestamp)
}

func (b *Batch) advance(ts time.Time) {
	if !b.started || ts.After(b.watermark) {
		b.watermark = ts
		b.started = true
	}
}

// Ready reports whether the batch has accumulated at least Width of
// event-time since Start.
func (b *Batch) Ready() bool {
	return b.started && !b.watermark.Before(b.Start.Add(b.Width))
}

// End is the batch's alignment window end, Start+Width.
func (b *Batch) End() time.Time {
	return b.Start.Add(b.Width)
}

// Tasks returns every task added to this batch (see AddTask).
func (b *Batch) Tasks() []model.Task {
	return b.tasks
}

// Samples returns the accumulated power samples.
func (b *Batch) Samples() []model.PowerSample {
	return b.samples
}
