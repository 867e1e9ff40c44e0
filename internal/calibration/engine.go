// Package calibration implements the Calibration Engine (C6): grid-search
// re-estimation of a topology parameter against ground-truth power,
// publishing an improved TopologySnapshot on topology.calibrated (spec.md
// §4.6).
//
// Candidate dispatch is bounded and parallel the way the teacher's
// connector pool bounds concurrent sub-process invocations (compare
// go/connector and its use of a worker-limited dispatch loop): here the
// bound comes straight from golang.org/x/sync, an errgroup.Group gated by
// a semaphore.Weighted sized to maxParallelWorkers.
package calibration

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opendt-project/opendt/internal/messageplane"
	"github.com/opendt-project/opendt/internal/model"
	"github.com/opendt-project/opendt/internal/power"
	"github.com/opendt-project/opendt/internal/simulator"
	"github.com/opendt-project/opendt/internal/telemetry"
	"github.com/opendt-project/opendt/internal/toppath"
	"github.com/opendt-project/opendt/internal/topology"
)

// DefaultLinspacePoints is the §6.5 calibration.linspacePoints default.
const DefaultLinspacePoints = 10

// DefaultMaxParallelWorkers is the §6.5 calibration.maxParallelWorkers default.
const DefaultMaxParallelWorkers = 4

// DefaultMapeWindowMinutes is the §6.5 calibration.mapeWindowMinutes default.
const DefaultMapeWindowMinutes = 60

// Config mirrors the §6.5 calibration.* configuration group.
type Config struct {
	ParamPath          string
	MinValue           float64
	MaxValue           float64
	LinspacePoints     int
	MaxParallelWorkers int
	MapeWindowMinutes  int
	ImprovementEpsilon float64
	OutputDir          string
	RunPrefix          string
}

func (c *Config) applyDefaults() {
	if c.LinspacePoints <= 0 {
		c.LinspacePoints = DefaultLinspacePoints
	}
	if c.MaxParallelWorkers <= 0 {
		c.MaxParallelWorkers = DefaultMaxParallelWorkers
	}
	if c.MapeWindowMinutes <= 0 {
		c.MapeWindowMinutes = DefaultMapeWindowMinutes
	}
	if c.RunPrefix == "" {
		c.RunPrefix = "calib"
	}
}

// CandidateResult is the scored (or failed) outcome of one candidate
// invocation within an epoch.
type CandidateResult struct {
	Value   float64
	MAPE    float64
	Aligned int
	Failed  bool
	Reason  string
}

// EpochReport is the per-epoch aggregate persisted through the Output
// Sink (spec.md §4.6 step 7).
type EpochReport struct {
	EpochStart time.Time
	EpochEnd   time.Time
	ParamPath  string
	Candidates []CandidateResult
	Winner     *CandidateResult
	Published  bool
}

// Archiver relocates a completed invocation's scratch directory to its
// final per-run archive location (spec.md §4.8). *outputsink.Sink
// satisfies this structurally; calibration does not import outputsink
// directly since outputsink already imports calibration for EpochReport.
type Archiver interface {
	ArchiveRun(runID, scratchDir string) error
}

// Engine drives the grid-search epoch loop described by spec.md §4.6. It
// owns its own Simulator Driver and reads the shared, read-only
// Topology.observed snapshot; it never mutates Topology State directly —
// a winning candidate is published as a TopologySnapshot on
// messageplane.ChannelTopologyCalibrated, and Topology State picks it up
// like any other subscriber of that channel (spec.md §4.2, §4.6).
type Engine struct {
	cfg      Config
	driver   *simulator.Driver
	topo     *topology.State
	tracker  *power.Tracker
	adapter  messageplane.Adapter
	archiver Archiver

	epoch      int
	batchStart time.Time
	batch      *Batch
}

// New constructs an Engine. driver should be a Simulator Driver instance
// private to calibration (spec.md §4.6: "owns its own worker pool"); topo
// is read via Topology.observed only; tracker supplies the ground-truth
// power series for MAPE alignment. archiver may be nil, in which case
// candidate scratch directories are never relocated to a permanent
// archive (they are still removed unless the driver itself was
// configured with Config.Archive).
func New(cfg Config, driver *simulator.Driver, topo *topology.State, tracker *power.Tracker, adapter messageplane.Adapter, archiver Archiver) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg, driver: driver, topo: topo, tracker: tracker, adapter: adapter, archiver: archiver}
}

// width is the alignment window as a time.Duration.
func (e *Engine) width() time.Duration {
	return time.Duration(e.cfg.MapeWindowMinutes) * time.Minute
}

// IngestTask feeds one task into the in-progress batch, starting a new
// batch at the task's own timestamp if none is open yet (spec.md §4.6
// step 1: "starting at ... the first observed timestamp").
func (e *Engine) IngestTask(t model.Task, ts time.Time) {
	e.ensureBatch(ts)
	e.batch.AddTask(t, ts)
}

// IngestSample feeds one ground-truth power sample into the in-progress
// batch and the shared Power Tracker.
func (e *Engine) IngestSample(s model.PowerSample) {
	e.tracker.Add(s)
	e.ensureBatch(s.Timestamp)
	e.batch.AddSample(s)
}

func (e *Engine) ensureBatch(ts time.Time) {
	if e.batch == nil {
		e.batchStart = ts
		e.batch = NewBatch(ts, e.width())
		e.tracker.SetOldestLiveBatch(ts)
	}
}

// Ready reports whether the current batch has accumulated a full
// mapeWindowMinutes span and an epoch can run.
func (e *Engine) Ready() bool {
	return e.batch != nil && e.batch.Ready()
}

// RunEpoch executes one full grid-search epoch (spec.md §4.6 steps 2-7)
// against the current batch, then starts the next batch at this epoch's
// end. It is a caller error to call RunEpoch when Ready() is false.
func (e *Engine) RunEpoch(ctx context.Context) (EpochReport, error) {
	batch := e.batch
	report := EpochReport{
		EpochStart: batch.Start,
		EpochEnd:   batch.End(),
		ParamPath:  e.cfg.ParamPath,
	}

	_, baseTopo, _, ok := e.topo.Get(topology.Observed)
	if !ok {
		e.startNextBatch()
		return report, fmt.Errorf("go.opendt.dev/E006: no observed topology published yet")
	}

	candidates := Linspace(e.cfg.MinValue, e.cfg.MaxValue, e.cfg.LinspacePoints)
	observed := e.tracker.SamplesIn(batch.Start, batch.End())

	results := make([]CandidateResult, len(candidates))
	sem := semaphore.NewWeighted(int64(e.cfg.MaxParallelWorkers))
	g, gctx := errgroup.WithContext(ctx)

	for i, value := range candidates {
		i, value := i, value
		if err := sem.Acquire(gctx, 1); err != nil {
			results[i] = CandidateResult{Value: value, Failed: true, Reason: err.Error()}
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = e.runCandidate(gctx, baseTopo, value, batch, observed, i)
			return nil
		})
	}
	_ = g.Wait()

	report.Candidates = results
	winner := elect(results, e.cfg.ImprovementEpsilon, currentPublishedMAPE(e, observed, batch), e.cfg.MinValue, e.cfg.MaxValue)
	report.Winner = winner

	if winner != nil {
		patched := baseTopo.DeepCopy()
		leaves, err := toppath.Resolve(&patched, e.cfg.ParamPath)
		if err == nil {
			for _, leaf := range leaves {
				leaf.Set(winner.Value)
			}
			snapshot := model.TopologySnapshot{Timestamp: batch.End(), Topology: patched}
			if pubErr := messageplane.PublishJSON(ctx, e.adapter, messageplane.ChannelTopologyCalibrated, messageplane.DatacenterKey, snapshot); pubErr == nil {
				report.Published = true
				telemetry.CalibrationEpochMAPE.Set(winner.MAPE)
			}
		}
	}

	e.startNextBatch()
	return report, nil
}

func (e *Engine) startNextBatch() {
	e.epoch++
	start := e.batch.End()
	e.batch = NewBatch(start, e.width())
	e.batchStart = start
	e.tracker.SetOldestLiveBatch(start)
}

// runCandidate patches a private deep copy of base to value, invokes the
// Simulator Driver in its own scratch directory (spec.md §4.6 step 4:
// "each writes to a unique scratch directory"), and scores the result.
func (e *Engine) runCandidate(ctx context.Context, base model.Topology, value float64, batch *Batch, observed []model.PowerSample, idx int) CandidateResult {
	patched := base.DeepCopy()
	leaves, err := toppath.Resolve(&patched, e.cfg.ParamPath)
	if err != nil {
		return CandidateResult{Value: value, Failed: true, Reason: err.Error()}
	}
	for _, leaf := range leaves {
		leaf.Set(value)
	}

	runID := fmt.Sprintf("%s-%d-%d", e.cfg.RunPrefix, e.epoch, idx)
	result, err := e.driver.Invoke(ctx, patched, batch.Tasks(), e.cfg.OutputDir, runID)
	if err != nil {
		return CandidateResult{Value: value, Failed: true, Reason: err.Error()}
	}
	if e.archiver != nil && len(batch.Tasks()) > 0 {
		if archErr := e.archiver.ArchiveRun(runID, simulator.ScratchDir(e.cfg.OutputDir, runID)); archErr != nil {
			telemetry.Logger(telemetry.Fields{Component: "calibration", RunID: runID}).
				WithField("error", archErr).Warn("archiving candidate run")
		}
	}
	if result.Status != model.StatusOK {
		return CandidateResult{Value: value, Failed: true, Reason: result.ErrorMsg}
	}

	mape, aligned := MAPE(batch.Start, batch.End(), observed, result.PowerSeries)
	return CandidateResult{Value: value, MAPE: mape, Aligned: aligned}
}

// elect picks the minimum-MAPE successful candidate, tie-breaking by the
// value closer to the midpoint of [minValue, maxValue] (spec.md §9 Open
// Question: ties are resolved deterministically rather than by map/slice
// iteration order). It returns nil unless the winner beats
// currentMAPE by at least epsilon (spec.md §4.6 step 6).
func elect(results []CandidateResult, epsilon, currentMAPE, minValue, maxValue float64) *CandidateResult {
	var best *CandidateResult
	for i := range results {
		r := &results[i]
		if r.Failed || r.Aligned == 0 {
			continue
		}
		if best == nil || r.MAPE < best.MAPE {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	best = tieBreak(results, best.MAPE, minValue, maxValue)
	if math.IsNaN(currentMAPE) {
		return best
	}
	if currentMAPE-best.MAPE >= epsilon {
		return best
	}
	return nil
}

// tieBreak returns the candidate with the minimum MAPE among results,
// breaking exact ties by proximity to the midpoint of the configured
// [minValue, maxValue] search range (deterministic regardless of slice
// order, and independent of which candidates happen to be tied).
func tieBreak(results []CandidateResult, minMAPE, minValue, maxValue float64) *CandidateResult {
	var tied []CandidateResult
	for _, r := range results {
		if !r.Failed && r.Aligned > 0 && r.MAPE == minMAPE {
			tied = append(tied, r)
		}
	}
	if len(tied) == 1 {
		return &tied[0]
	}
	sort.Slice(tied, func(i, j int) bool { return tied[i].Value < tied[j].Value })
	mid := (minValue + maxValue) / 2
	best := tied[0]
	bestDist := math.Abs(best.Value - mid)
	for _, r := range tied[1:] {
		if d := math.Abs(r.Value - mid); d < bestDist {
			best = r
			bestDist = d
		}
	}
	return &best
}

// currentPublishedMAPE scores the currently-published calibrated topology
// against the same batch, so a winning candidate must beat the status quo
// by epsilon, not merely win the grid (spec.md §4.6 step 6).
func currentPublishedMAPE(e *Engine, observed []model.PowerSample, batch *Batch) float64 {
	_, calibTopo, _, ok := e.topo.Get(topology.Calibrated)
	if !ok {
		return math.NaN()
	}
	result, err := e.driver.Invoke(context.Background(), calibTopo, batch.Tasks(), e.cfg.OutputDir, fmt.Sprintf("%s-%d-baseline", e.cfg.RunPrefix, e.epoch))
	if err != nil || result.Status != model.StatusOK {
		return math.NaN()
	}
	mape, aligned := MAPE(batch.Start, batch.End(), observed, result.PowerSeries)
	if aligned == 0 {
		return math.NaN()
	}
	return mape
}
