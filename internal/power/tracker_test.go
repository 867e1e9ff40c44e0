package power

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opendt-project/opendt/internal/model"
)

func sample(t time.Time, watts float64) model.PowerSample {
	return model.PowerSample{Timestamp: t, PowerDrawW: watts, EnergyJ: watts * 60}
}

func TestSamplesInReturnsHalfOpenRange(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New(24 * time.Hour)
	for i := 0; i < 5; i++ {
		tr.Add(sample(base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	got := tr.SamplesIn(base.Add(1*time.Minute), base.Add(4*time.Minute))
	require.Len(t, got, 3)
	require.Equal(t, 1.0, got[0].PowerDrawW)
	require.Equal(t, 3.0, got[2].PowerDrawW)
}

func TestEvictsOlderThanRetention(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New(time.Hour)

	tr.Add(sample(base, 1))
	tr.Add(sample(base.Add(2*time.Hour), 2))

	got := tr.SamplesIn(base.Add(-time.Hour), base.Add(3*time.Hour))
	require.Len(t, got, 1, "the sample older than maxRetention relative to the latest arrival should be evicted")
	require.Equal(t, 2.0, got[0].PowerDrawW)
}

func TestOldestLiveBatchExtendsRetention(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New(time.Hour)
	tr.SetOldestLiveBatch(base)

	tr.Add(sample(base, 1))
	tr.Add(sample(base.Add(2*time.Hour), 2))

	got := tr.SamplesIn(base.Add(-time.Minute), base.Add(3*time.Hour))
	require.Len(t, got, 2, "a sample at or after the oldest live batch start must survive eviction even past maxRetention")
}
