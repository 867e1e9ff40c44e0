package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opendt-project/opendt/internal/cache"
	"github.com/opendt-project/opendt/internal/model"
)

func baseTask(id int64) model.Task {
	return model.Task{ID: id, CPUCount: 1, CPUCapacityMHz: 1000, MemCapacityMB: 1}
}

func newTestEngine(t *testing.T, onResult ResultHandler) (*Engine, *cache.Cache) {
	t.Helper()
	c := cache.New(0)
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := New(Config{Width: 5 * time.Minute, FirstWindowAnchor: &anchor, RunPrefix: "test"}, c, onResult)
	return e, c
}

func TestIngestTaskThenHeartbeatClosesWindow(t *testing.T) {
	var reports []model.SimulationReport
	e, _ := newTestEngine(t, func(r model.SimulationReport) { reports = append(reports, r) })

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.IngestTask(baseTask(1), base.Add(time.Minute)))
	e.IngestHeartbeat(base.Add(6 * time.Minute))

	pending := e.DrainPending()
	require.Len(t, pending, 1)
	require.Equal(t, uint64(0), pending[0].WindowID)
	require.Len(t, pending[0].Tasks, 1)
}

func TestHeartbeatWithNoTasksProducesEmptyWindowDispatch(t *testing.T) {
	var reports []model.SimulationReport
	e, _ := newTestEngine(t, func(r model.SimulationReport) { reports = append(reports, r) })

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.IngestHeartbeat(base.Add(6 * time.Minute))

	pending := e.DrainPending()
	require.Len(t, pending, 1, "a heartbeat alone must still close and dispatch an empty window")
	require.Empty(t, pending[0].Tasks)
}

func TestLateTaskIsRejectedAsInvalidEvent(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, e.IngestTask(baseTask(1), base.Add(time.Minute)))
	e.IngestHeartbeat(base.Add(6 * time.Minute))
	_ = e.DrainPending()

	err := e.IngestTask(baseTask(2), base.Add(2*time.Minute))
	require.Error(t, err)
	require.EqualValues(t, 1, e.InvalidEventCount())
}

func TestCumulativeTaskCountGrowsAcrossWindows(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, e.IngestTask(baseTask(1), base.Add(time.Minute)))
	e.IngestHeartbeat(base.Add(6 * time.Minute))
	first := e.DrainPending()
	require.Len(t, first, 1)
	require.Len(t, first[0].Tasks, 1)

	require.NoError(t, e.IngestTask(baseTask(2), base.Add(7*time.Minute)))
	e.IngestHeartbeat(base.Add(11 * time.Minute))
	second := e.DrainPending()
	require.Len(t, second, 1)
	require.Len(t, second[0].Tasks, 2, "window dispatch carries the full cumulative task replay, not just its own tasks")
}

func TestCompleteEmitsStrictlyInWindowIDOrderDespiteOutOfOrderCompletion(t *testing.T) {
	var order []uint64
	e, _ := newTestEngine(t, func(r model.SimulationReport) { order = append(order, r.WindowID) })
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, e.IngestTask(baseTask(1), base.Add(time.Minute)))
	e.IngestHeartbeat(base.Add(16 * time.Minute)) // closes windows 0, 1, 2
	pending := e.DrainPending()
	require.Len(t, pending, 3)

	// Complete out of order: 2, 0, 1.
	e.Complete(pending[2], model.SimulationResult{Status: model.StatusOK})
	require.Empty(t, order, "window 2 must not emit before windows 0 and 1 complete")

	e.Complete(pending[0], model.SimulationResult{Status: model.StatusOK})
	require.Equal(t, []uint64{0}, order)

	e.Complete(pending[1], model.SimulationResult{Status: model.StatusOK})
	require.Equal(t, []uint64{0, 1, 2}, order, "windows 1 and 2 flush together once their predecessor arrives")
}

func TestCacheHitSkipsDispatchAndEmitsSynchronously(t *testing.T) {
	var reports []model.SimulationReport
	e, c := newTestEngine(t, func(r model.SimulationReport) { reports = append(reports, r) })
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, e.IngestTask(baseTask(1), base.Add(time.Minute)))
	e.OnTopologyChange(TopologyUpdate{Fingerprint: "fp-1", Generation: 1})

	key := model.CacheKey{TopologyFingerprint: "fp-1", CumulativeTaskCount: 1}
	c.Put(key, model.SimulationResult{Status: model.StatusOK, EnergyKWh: 42}, 1)

	e.IngestHeartbeat(base.Add(6 * time.Minute))
	require.Empty(t, e.DrainPending(), "a cache hit must not produce a pending Invocation")
	require.Len(t, reports, 1)
	require.Equal(t, 42.0, reports[0].Result.EnergyKWh)
}

func TestTopologyChangeClearsCacheForcingReSimulation(t *testing.T) {
	e, c := newTestEngine(t, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	e.OnTopologyChange(TopologyUpdate{Fingerprint: "fp-1", Generation: 1})
	key := model.CacheKey{TopologyFingerprint: "fp-1", CumulativeTaskCount: 1}
	c.Put(key, model.SimulationResult{Status: model.StatusOK}, 1)

	e.OnTopologyChange(TopologyUpdate{Fingerprint: "fp-2", Generation: 2})
	_, ok := c.Lookup(key)
	require.False(t, ok, "a topology generation change must clear prior cache entries")

	require.NoError(t, e.IngestTask(baseTask(1), base.Add(time.Minute)))
	e.IngestHeartbeat(base.Add(6 * time.Minute))
	require.Len(t, e.DrainPending(), 1, "with the cache cleared, the window must dispatch rather than hit")
}

func TestBackpressureHaltsClosureAtMaxPendingWindows(t *testing.T) {
	c := cache.New(0)
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := New(Config{Width: time.Minute, FirstWindowAnchor: &anchor, RunPrefix: "test", MaxPendingWindows: 2}, c, nil)

	e.IngestHeartbeat(anchor.Add(5 * time.Minute))
	require.Equal(t, 2, e.BacklogDepth(), "closure must stop once BacklogDepth reaches MaxPendingWindows")

	pending := e.DrainPending()
	require.Len(t, pending, 2)
}

func TestBacklogDepthCountsInflightInvocations(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	e.IngestHeartbeat(base.Add(6 * time.Minute))
	require.Equal(t, 1, e.BacklogDepth())

	pending := e.DrainPending()
	require.Equal(t, 1, e.BacklogDepth(), "draining pending must not reduce BacklogDepth until Complete")

	e.Complete(pending[0], model.SimulationResult{Status: model.StatusOK})
	require.Equal(t, 0, e.BacklogDepth())
}
