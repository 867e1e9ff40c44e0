package calibration

import (
	"math"
	"time"

	"github.com/opendt-project/opendt/internal/model"
)

// DefaultEpsilon is the MAPE scoring epsilon floor (spec.md §4.6 step 5),
// guarding against division by a near-zero observed value.
const DefaultEpsilon = 1e-6

// gridPoint is one sample on the common 1-minute alignment grid.
type gridPoint struct {
	t     time.Time
	value float64
	ok    bool
}

// resampleMinute buckets a (timestamp, value) series onto a 1-minute grid
// spanning [start, end), averaging samples that land in the same bucket.
// Buckets with no samples are left !ok (spec.md §4.6 step 5: "missing
// points on either side are skipped").
func resampleMinute(start, end time.Time, samples []model.PowerSample, toWatts func(model.PowerSample) float64) []gridPoint {
	n := int(end.Sub(start) / time.Minute)
	if n <= 0 {
		return nil
	}
	grid := make([]gridPoint, n)
	sums := make([]float64, n)
	counts := make([]int, n)
	for i := range grid {
		grid[i].t = start.Add(time.Duration(i) * time.Minute)
	}
	for _, s := range samples {
		if s.Timestamp.Before(start) || !s.Timestamp.Before(end) {
			continue
		}
		idx := int(s.Timestamp.Sub(start) / time.Minute)
		sums[idx] += toWatts(s)
		counts[idx]++
	}
	for i := range grid {
		if counts[i] > 0 {
			grid[i].value = sums[i] / float64(counts[i])
			grid[i].ok = true
		}
	}
	return grid
}

func resampleSimMinute(start time.Time, n int, series []model.PowerPoint) []gridPoint {
	grid := make([]gridPoint, n)
	sums := make([]float64, n)
	counts := make([]int, n)
	for i := range grid {
		grid[i].t = start.Add(time.Duration(i) * time.Minute)
	}
	startMs := start.UnixMilli()
	for _, p := range series {
		idx := int((p.TMs - startMs) / 60000)
		if idx < 0 || idx >= n {
			continue
		}
		sums[idx] += p.Watts
		counts[idx]++
	}
	for i := range grid {
		if counts[i] > 0 {
			grid[i].value = sums[i] / float64(counts[i])
			grid[i].ok = true
		}
	}
	return grid
}

// MAPE computes the mean absolute percentage error between a simulated
// power series and observed PowerSamples over [start, end), resampled to
// a common 1-minute grid (spec.md §4.6 step 5). It returns (mape, aligned
// point count). A zero aligned count means no comparison was possible.
func MAPE(start, end time.Time, observed []model.PowerSample, simulated []model.PowerPoint) (float64, int) {
	n := int(end.Sub(start) / time.Minute)
	if n <= 0 {
		return 0, 0
	}
	obsGrid := resampleMinute(start, end, observed, func(s model.PowerSample) float64 { return s.PowerDrawW })
	simGrid := resampleSimMinute(start, n, simulated)

	var sum float64
	var count int
	for i := 0; i < n; i++ {
		if !obsGrid[i].ok || !simGrid[i].ok {
			continue
		}
		denom := math.Max(DefaultEpsilon, obsGrid[i].value)
		sum += math.Abs(obsGrid[i].value-simGrid[i].value) / denom
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}
