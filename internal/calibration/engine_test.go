package calibration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opendt-project/opendt/internal/model"
	"github.com/opendt-project/opendt/internal/power"
)

func TestIngestSampleWiresOldestLiveBatchIntoTracker(t *testing.T) {
	tracker := power.New(time.Hour)
	e := New(Config{MapeWindowMinutes: 60}, nil, nil, tracker, nil, nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.IngestSample(model.PowerSample{Timestamp: base, PowerDrawW: 1})

	// A sample 2 hours later would normally evict everything older than
	// maxRetention (1h), but the in-progress batch pins retention back to
	// its own start.
	e.IngestSample(model.PowerSample{Timestamp: base.Add(2 * time.Hour), PowerDrawW: 2})

	got := tracker.SamplesIn(base.Add(-time.Minute), base.Add(3*time.Hour))
	require.Len(t, got, 2, "the open batch's start must pin the tracker's retention floor")
}

func TestReadyOnlyAfterBatchSpansMapeWindow(t *testing.T) {
	tracker := power.New(time.Hour)
	e := New(Config{MapeWindowMinutes: 60}, nil, nil, tracker, nil, nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.IngestTask(model.Task{ID: 1}, base)
	require.False(t, e.Ready())

	e.IngestTask(model.Task{ID: 2}, base.Add(time.Hour))
	require.True(t, e.Ready())
}
