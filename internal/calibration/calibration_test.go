package calibration

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opendt-project/opendt/internal/model"
)

func TestLinspaceSinglePointReturnsMin(t *testing.T) {
	require.Equal(t, []float64{1.0}, Linspace(1.0, 9.0, 1))
	require.Equal(t, []float64{1.0}, Linspace(1.0, 9.0, 0))
}

func TestLinspaceEvenlySpacedInclusive(t *testing.T) {
	got := Linspace(0, 10, 5)
	require.Equal(t, []float64{0, 2.5, 5, 7.5, 10}, got)
}

func TestMAPEZeroWhenSeriesMatch(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Minute)
	observed := []model.PowerSample{
		{Timestamp: start, PowerDrawW: 100},
		{Timestamp: start.Add(time.Minute), PowerDrawW: 200},
	}
	simulated := []model.PowerPoint{
		{TMs: start.UnixMilli(), Watts: 100},
		{TMs: start.Add(time.Minute).UnixMilli(), Watts: 200},
	}

	mape, aligned := MAPE(start, end, observed, simulated)
	require.Equal(t, 2, aligned)
	require.InDelta(t, 0.0, mape, 1e-9)
}

func TestMAPEComputesPercentageError(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Minute)
	observed := []model.PowerSample{
		{Timestamp: start, PowerDrawW: 100},
		{Timestamp: start.Add(time.Minute), PowerDrawW: 200},
	}
	simulated := []model.PowerPoint{
		{TMs: start.UnixMilli(), Watts: 100},
		{TMs: start.Add(time.Minute).UnixMilli(), Watts: 150},
	}

	mape, aligned := MAPE(start, end, observed, simulated)
	require.Equal(t, 2, aligned)
	require.InDelta(t, 0.125, mape, 1e-9)
}

func TestMAPESkipsBucketsMissingEitherSide(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Minute)
	observed := []model.PowerSample{
		{Timestamp: start, PowerDrawW: 100},
	}
	simulated := []model.PowerPoint{
		{TMs: start.UnixMilli(), Watts: 100},
		{TMs: start.Add(time.Minute).UnixMilli(), Watts: 999},
	}

	mape, aligned := MAPE(start, end, observed, simulated)
	require.Equal(t, 1, aligned, "the second minute has no observed sample and must be skipped, not scored")
	require.InDelta(t, 0.0, mape, 1e-9)
}

func TestMAPEUsesEpsilonFloorAgainstZeroObserved(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	observed := []model.PowerSample{{Timestamp: start, PowerDrawW: 0}}
	simulated := []model.PowerPoint{{TMs: start.UnixMilli(), Watts: 1}}

	mape, aligned := MAPE(start, end, observed, simulated)
	require.Equal(t, 1, aligned)
	require.InDelta(t, 1.0/DefaultEpsilon, mape, 1e-3)
}

func resultAt(value, mape float64) CandidateResult {
	return CandidateResult{Value: value, MAPE: mape, Aligned: 1}
}

func TestElectPicksMinimumMAPECandidate(t *testing.T) {
	results := []CandidateResult{resultAt(1, 0.5), resultAt(2, 0.1), resultAt(3, 0.3)}
	winner := elect(results, 0, math.NaN(), 1, 3)
	require.NotNil(t, winner)
	require.Equal(t, 2.0, winner.Value)
}

func TestElectSkipsFailedAndUnalignedCandidates(t *testing.T) {
	results := []CandidateResult{
		{Value: 1, MAPE: 0.01, Failed: true},
		{Value: 2, MAPE: 0.02, Aligned: 0},
		resultAt(3, 0.3),
	}
	winner := elect(results, 0, math.NaN(), 1, 3)
	require.NotNil(t, winner)
	require.Equal(t, 3.0, winner.Value)
}

func TestElectReturnsNilWhenNoCandidateSurvives(t *testing.T) {
	results := []CandidateResult{
		{Value: 1, MAPE: 0.01, Failed: true},
		{Value: 2, MAPE: 0.02, Aligned: 0},
	}
	require.Nil(t, elect(results, 0, math.NaN(), 1, 2))
}

func TestElectGatesOnImprovementEpsilonAgainstCurrentMAPE(t *testing.T) {
	results := []CandidateResult{resultAt(1, 0.10)}

	require.Nil(t, elect(results, 0.05, 0.12, 1, 1), "improvement of 0.02 is below the 0.05 epsilon")
	winner := elect(results, 0.01, 0.12, 1, 1)
	require.NotNil(t, winner, "improvement of 0.02 clears the 0.01 epsilon")
	require.Equal(t, 1.0, winner.Value)
}

func TestElectWithNaNCurrentMAPEAlwaysPublishesBest(t *testing.T) {
	results := []CandidateResult{resultAt(1, 0.5)}
	winner := elect(results, 100, math.NaN(), 1, 1)
	require.NotNil(t, winner, "with no baseline to compare against, the best grid candidate always wins")
}

func TestTieBreakPicksValueClosestToMidpoint(t *testing.T) {
	results := []CandidateResult{
		resultAt(1, 0.1),
		resultAt(5, 0.1),
		resultAt(9, 0.1),
	}
	best := tieBreak(results, 0.1, 1, 9)
	require.NotNil(t, best)
	require.Equal(t, 5.0, best.Value, "midpoint of the configured [1,9] range is 5, an exact tied candidate")
}

func TestTieBreakUsesConfiguredRangeNotTiedCandidateSpread(t *testing.T) {
	results := []CandidateResult{
		resultAt(1, 0.1),
		resultAt(5, 0.1),
		resultAt(9, 0.1),
	}
	// The tied candidates' own spread is [1,9] (midpoint 5), but the
	// configured search range is [9,17] (midpoint 13): the closest tied
	// candidate to 13 is 9, not 5.
	best := tieBreak(results, 0.1, 9, 17)
	require.NotNil(t, best)
	require.Equal(t, 9.0, best.Value)
}

func TestTieBreakIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	forward := []CandidateResult{resultAt(1, 0.2), resultAt(3, 0.2), resultAt(8, 0.2)}
	reversed := []CandidateResult{resultAt(8, 0.2), resultAt(3, 0.2), resultAt(1, 0.2)}

	a := tieBreak(forward, 0.2, 1, 8)
	b := tieBreak(reversed, 0.2, 1, 8)
	require.Equal(t, a.Value, b.Value)
}
