package calibration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opendt-project/opendt/internal/model"
)

func TestBatchNotReadyUntilWatermarkReachesWidth(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBatch(start, time.Hour)

	b.AddTask(model.Task{ID: 1}, start.Add(30*time.Minute))
	require.False(t, b.Ready())

	b.AddTask(model.Task{ID: 2}, start.Add(time.Hour))
	require.True(t, b.Ready())
}

func TestBatchAccumulatesTasksAcrossAddTaskCalls(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBatch(start, time.Hour)

	b.AddTask(model.Task{ID: 1}, start)
	b.AddTask(model.Task{ID: 2}, start.Add(10*time.Minute))

	require.Len(t, b.Tasks(), 2)
}

func TestBatchEndIsStartPlusWidth(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBatch(start, 90*time.Minute)
	require.Equal(t, start.Add(90*time.Minute), b.End())
}

func TestBatchSamplesAdvanceWatermarkIndependentlyOfTasks(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBatch(start, time.Hour)

	b.AddSample(model.PowerSample{Timestamp: start.Add(2 * time.Hour), PowerDrawW: 10})
	require.True(t, b.Ready(), "a sample alone can advance the watermark past the batch width")
}
