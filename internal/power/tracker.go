// Package power implements the Power Tracker (C7): a ring buffer of
// ground-truth PowerSamples bounded by event-time retention (spec.md §4.7).
package power

import (
	"sort"
	"time"

	"github.com/opendt-project/opendt/internal/model"
)

// DefaultMaxRetention is the §6.5-adjacent default retention window.
const DefaultMaxRetention = 24 * time.Hour

// Tracker accumulates PowerSamples in timestamp order and serves range
// queries for MAPE alignment (C6) and window closure (C3, indirectly).
type Tracker struct {
	maxRetention time.Duration
	samples      []model.PowerSample
	oldestLive   time.Time
}

func New(maxRetention time.Duration) *Tracker {
	if maxRetention <= 0 {
		maxRetention = DefaultMaxRetention
	}
	return &Tracker{maxRetention: maxRetention}
}

// SetOldestLiveBatch records the start of the oldest in-flight calibration
// batch. Samples are retained at least back to this point, even if that
// exceeds maxRetention (spec.md §4.7: "whichever is larger").
func (t *Tracker) SetOldestLiveBatch(ts time.Time) {
	t.oldestLive = ts
}

// Add appends a sample (assumed to arrive in non-decreasing timestamp
// order per partition, per the WorkloadMessage invariant that also governs
// this stream) and evicts samples older than the retention floor.
func (t *Tracker) Add(s model.PowerSample) {
	t.samples = append(t.samples, s)
	t.evict(s.Timestamp)
}

func (t *Tracker) evict(now time.Time) {
	retentionFloor := now.Add(-t.maxRetention)
	floor := retentionFloor
	if !t.oldestLive.IsZero() && t.oldestLive.Before(floor) {
		floor = t.oldestLive
	}
	idx := sort.Search(len(t.samples), func(i int) bool {
		return !t.samples[i].Timestamp.Before(floor)
	})
	if idx > 0 {
		t.samples = append([]model.PowerSample{}, t.samples[idx:]...)
	}
}

// SamplesIn returns the slice of samples in [start, end) in timestamp order.
func (t *Tracker) SamplesIn(start, end time.Time) []model.PowerSample {
	lo := sort.Search(len(t.samples), func(i int) bool {
		return !t.samples[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(t.samples), func(i int) bool {
		return !t.samples[i].Timestamp.Before(end)
	})
	if lo >= hi {
		return nil
	}
	out := make([]model.PowerSample, hi-lo)
	copy(out, t.samples[lo:hi])
	return out
}
