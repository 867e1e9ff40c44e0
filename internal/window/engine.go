// Package window implements the Window Engine (C3): event-time windowing
// with heartbeat-driven closure over a partially ordered message stream,
// driving cumulative replay through the Simulator Driver (spec.md §4.3).
//
// The Engine itself never spawns goroutines or blocks on I/O. Ingestion
// (IngestTask/IngestHeartbeat) and dispatch decisions run synchronously on
// the caller's single logical thread, exactly the "serial event loop" of
// spec.md §5 — window state transitions and cumulative-task assembly need
// no locking because only one goroutine ever touches them. Actual
// sub-process work is handed to the caller as an Invocation via
// DrainPending; the caller runs it on a bounded worker pool (sized to
// Config.Parallelism) and reports back through Complete, which is the only
// other entry point that mutates Engine state. Complete buffers
// out-of-order completions and emits SimulationReports strictly in
// windowId order (spec.md §4.3's ordering guarantee), so callers may run
// Parallelism > 1 invocations concurrently without breaking it.
package window

import (
	"fmt"
	"time"

	"github.com/opendt-project/opendt/internal/cache"
	"github.com/opendt-project/opendt/internal/errs"
	"github.com/opendt-project/opendt/internal/model"
	"github.com/opendt-project/opendt/internal/telemetry"
)

// DefaultWidth is the §6.5 window.widthMinutes default.
const DefaultWidth = 5 * time.Minute

// DefaultMaxPendingWindows is the §6.5 sim.maxPendingWindows default.
const DefaultMaxPendingWindows = 32

// TopologyUpdate is the subset of a topology.Update the Engine needs. It
// is declared locally (rather than importing package topology) to keep
// the Engine decoupled from how Topology State is implemented.
type TopologyUpdate struct {
	Fingerprint string
	Topology    model.Topology
	Generation  uint64
}

// Invocation is one simulator call the caller must run and eventually
// report back through Complete.
type Invocation struct {
	WindowID   uint64
	RunID      string
	Topology   model.Topology
	Tasks      []model.Task
	CacheKey   model.CacheKey
	Generation uint64
}

// ResultHandler receives one SimulationReport per closed window, in
// windowId order (spec.md §4.3).
type ResultHandler func(model.SimulationReport)

// Config configures an Engine.
type Config struct {
	Width             time.Duration
	FirstWindowAnchor *time.Time
	MaxPendingWindows int
	RunPrefix         string // e.g. "window"; runId becomes "<prefix>-<k>"
	Parallelism       int    // advisory; see doc comment on Invocation handling
}

// Engine owns the window ring and cumulative task store exclusively
// (spec.md §3 ownership).
type Engine struct {
	cfg   Config
	cache *cache.Cache
	onResult ResultHandler

	anchor   time.Time
	anchored bool

	windows     []model.TimeWindow
	currentHead int
	watermark   time.Time

	cumulativeTasks []model.Task
	invalidEvents   uint64

	topoFingerprint string
	topology        model.Topology
	topoGeneration  uint64

	pending   []Invocation
	inflight  int
	completed map[uint64]model.SimulationReport
	nextEmit  uint64
}

// New constructs an Engine. resultCache must be owned exclusively by this
// Engine (single-writer per spec.md §3).
func New(cfg Config, resultCache *cache.Cache, onResult ResultHandler) *Engine {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.MaxPendingWindows <= 0 {
		cfg.MaxPendingWindows = DefaultMaxPendingWindows
	}
	if cfg.RunPrefix == "" {
		cfg.RunPrefix = "window"
	}
	e := &Engine{
		cfg:       cfg,
		cache:     resultCache,
		onResult:  onResult,
		completed: make(map[uint64]model.SimulationReport),
	}
	if cfg.FirstWindowAnchor != nil {
		e.anchor = *cfg.FirstWindowAnchor
		e.anchored = true
	}
	return e
}

// InvalidEventCount returns the count of dropped late/malformed tasks.
func (e *Engine) InvalidEventCount() uint64 { return e.invalidEvents }

// BacklogDepth is CLOSED-but-not-yet-SIMULATED/SKIPPED windows, including
// ones already dispatched to the worker pool but not yet Complete'd
// (spec.md §5 backpressure gauge). inflight already counts a window from
// the moment dispatch queues its Invocation, so it alone is the count —
// adding len(pending) would double-count everything still sitting in the
// hand-off buffer.
func (e *Engine) BacklogDepth() int {
	return e.inflight
}

// OnTopologyChange applies a new Topology.calibrated generation: the
// Result Cache is cleared so subsequent windows re-simulate, and future
// dispatches are tagged with the new generation (spec.md §4.3).
func (e *Engine) OnTopologyChange(u TopologyUpdate) {
	e.topoFingerprint = u.Fingerprint
	e.topology = u.Topology
	e.topoGeneration = u.Generation
	e.cache.Clear(u.Generation)
}

func (e *Engine) windowIndex(ts time.Time) int {
	if !e.anchored {
		e.anchor = ts.Truncate(e.cfg.Width)
		e.anchored = true
	}
	delta := ts.Sub(e.anchor)
	if delta < 0 {
		return -1
	}
	return int(delta / e.cfg.Width)
}

func (e *Engine) ensureWindow(idx int) {
	for len(e.windows) <= idx {
		k := uint64(len(e.windows))
		start := e.anchor.Add(time.Duration(k) * e.cfg.Width)
		e.windows = append(e.windows, model.TimeWindow{
			WindowID: k,
			Start:    start,
			End:      start.Add(e.cfg.Width),
			State:    model.WindowOpen,
		})
	}
}

// IngestTask handles a WorkloadMessage{kind: task} per spec.md §4.3.
// A task submitted before the current (highest-touched) window's start is
// an InvalidEvent and is dropped.
func (e *Engine) IngestTask(task model.Task, ts time.Time) error {
	if e.anchored && len(e.windows) > e.currentHead && ts.Before(e.windows[e.currentHead].Start) {
		e.invalidEvents++
		telemetry.InvalidEventsTotal.Inc()
		return errs.NewEvent(fmt.Sprintf("task %d submitted at %s is before window %d's start", task.ID, ts, e.currentHead))
	}
	idx := e.windowIndex(ts)
	if idx < 0 {
		e.invalidEvents++
		telemetry.InvalidEventsTotal.Inc()
		return errs.NewEvent(fmt.Sprintf("task %d submitted at %s is before the stream anchor", task.ID, ts))
	}
	e.ensureWindow(idx)
	if idx > e.currentHead {
		e.currentHead = idx
	}
	e.windows[idx].Tasks = append(e.windows[idx].Tasks, task)
	if ts.After(e.watermark) {
		e.watermark = ts
	}
	return nil
}

// IngestHeartbeat handles a WorkloadMessage{kind: heartbeat}: advances the
// watermark, materializes any (possibly empty) windows the heartbeat's
// timestamp now reaches, and closes every now-eligible window.
func (e *Engine) IngestHeartbeat(ts time.Time) {
	if ts.After(e.watermark) {
		e.watermark = ts
	}
	idx := e.windowIndex(ts)
	if idx >= 0 {
		e.ensureWindow(idx)
		if idx > e.currentHead {
			e.currentHead = idx
		}
	}
	e.closeEligible()
}

// closeEligible closes windows per spec.md §4.3: window k is eligible when
// watermark >= windows[k].end AND all windows <k are terminal, processed
// in windowId order. Backpressure halts further closure (not ingestion)
// once BacklogDepth reaches MaxPendingWindows.
func (e *Engine) closeEligible() {
	for i := range e.windows {
		w := &e.windows[i]
		if w.State != model.WindowOpen {
			continue
		}
		if e.watermark.Before(w.End) {
			break
		}
		if e.BacklogDepth() >= e.cfg.MaxPendingWindows {
			break
		}
		w.State = model.WindowClosed
		e.dispatch(i)
	}
	telemetry.WindowBacklogDepth.Set(float64(e.BacklogDepth()))
}

// dispatch implements the simulation-dispatch steps of spec.md §4.3 for a
// newly-CLOSED window: append its tasks to the cumulative store, compute
// the cache key, and either resolve a cache hit synchronously or queue an
// Invocation for the caller's worker pool.
func (e *Engine) dispatch(idx int) {
	w := &e.windows[idx]
	e.cumulativeTasks = append(e.cumulativeTasks, w.Tasks...)
	w.Generation = e.topoGeneration

	key := model.CacheKey{
		TopologyFingerprint: e.topoFingerprint,
		CumulativeTaskCount: uint64(len(e.cumulativeTasks)),
	}

	if cached, ok := e.cache.Lookup(key); ok {
		w.State = model.WindowSkipped
		e.emit(w, cached)
		return
	}

	e.inflight++
	e.pending = append(e.pending, Invocation{
		WindowID:   w.WindowID,
		RunID:      fmt.Sprintf("%s-%d", e.cfg.RunPrefix, w.WindowID),
		Topology:   e.topology,
		Tasks:      append([]model.Task{}, e.cumulativeTasks...),
		CacheKey:   key,
		Generation: e.topoGeneration,
	})
}

// DrainPending returns and clears the queue of Invocations the caller must
// run (e.g. on a bounded worker pool). Calling it repeatedly is safe; an
// empty slice means there's nothing new to submit.
func (e *Engine) DrainPending() []Invocation {
	if len(e.pending) == 0 {
		return nil
	}
	out := e.pending
	e.pending = nil
	return out
}

// Complete reports the outcome of an Invocation previously returned by
// DrainPending. It writes through to the Result Cache (unless result is an
// error, or the invocation's generation has gone stale — Cache.Put handles
// the latter) and emits SimulationReports in strict windowId order,
// buffering completions that arrive out of order (spec.md §4.3, §5).
func (e *Engine) Complete(inv Invocation, result model.SimulationResult) {
	e.inflight--

	idx := int(inv.WindowID)
	if idx < len(e.windows) {
		e.windows[idx].State = model.WindowSimulated
	}

	if result.Status == model.StatusOK {
		e.cache.Put(inv.CacheKey, result, inv.Generation)
	}

	e.completed[inv.WindowID] = model.SimulationReport{
		RunID:               inv.RunID,
		WindowID:            inv.WindowID,
		WindowStart:         windowStart(e.windows, idx),
		WindowEnd:           windowEnd(e.windows, idx),
		TaskCount:           windowTaskCount(e.windows, idx),
		TopologyFingerprint: inv.CacheKey.TopologyFingerprint,
		Result:              result,
	}
	e.flushCompleted()
	telemetry.WindowBacklogDepth.Set(float64(e.BacklogDepth()))
}

func (e *Engine) flushCompleted() {
	for {
		rep, ok := e.completed[e.nextEmit]
		if !ok {
			return
		}
		delete(e.completed, e.nextEmit)
		e.nextEmit++
		if e.onResult != nil {
			e.onResult(rep)
		}
	}
}

func (e *Engine) emit(w *model.TimeWindow, result model.SimulationResult) {
	e.completed[w.WindowID] = model.SimulationReport{
		RunID:               fmt.Sprintf("%s-%d", e.cfg.RunPrefix, w.WindowID),
		WindowID:            w.WindowID,
		WindowStart:         w.Start,
		WindowEnd:           w.End,
		TaskCount:           len(w.Tasks),
		TopologyFingerprint: e.topoFingerprint,
		Result:              result,
	}
	e.flushCompleted()
}

func windowStart(ws []model.TimeWindow, idx int) time.Time {
	if idx < 0 || idx >= len(ws) {
		return time.Time{}
	}
	return ws[idx].Start
}

func windowEnd(ws []model.TimeWindow, idx int) time.Time {
	if idx < 0 || idx >= len(ws) {
		return time.Time{}
	}
	return ws[idx].End
}

func windowTaskCount(ws []model.TimeWindow, idx int) int {
	if idx < 0 || idx >= len(ws) {
		return 0
	}
	return len(ws[idx].Tasks)
}
