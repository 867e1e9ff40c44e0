// Package outputsink implements the Output Sink (C8): the append-only
// agg_results.parquet aggregate table and per-run archive directories,
// idempotent on runId (spec.md §4.8).
//
// True row-group appends to an already-closed parquet file aren't
// exposed by this codebase's parquet library in a way that's safe across
// process restarts, so the aggregate is held as an in-memory ledger keyed
// by runId (naturally idempotent — a restart replays already-seen runIds
// as no-ops) and rewritten to a temp file and renamed into place on every
// flush, the same rename-after-write pattern used for per-run archives.
// The exclusive file lock (gofrs/flock) still guards the rename against a
// second process attempting a concurrent flush.
package outputsink

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/opendt-project/opendt/internal/calibration"
	"github.com/opendt-project/opendt/internal/model"
	"github.com/opendt-project/opendt/internal/telemetry"
)

// ArchiveMode controls how a previously used runId is treated (spec.md §4.8).
type ArchiveMode int

const (
	// OverwriteAtomic rewrites an existing runId's archive via
	// rename-after-write (default).
	OverwriteAtomic ArchiveMode = iota
	// Strict rejects a write to a previously used runId.
	Strict
)

// Sink owns the aggregate table and per-run archive tree under outDir.
type Sink struct {
	outDir  string
	archive bool
	mode    ArchiveMode

	aggPath string
	lock    *flock.Flock

	rows    map[string]aggRow // keyed by runId, idempotent on replay
	rowByID []string          // insertion order, for stable output
}

// Open loads any existing aggregate table at <outDir>/agg_results.parquet
// (if present) into the in-memory ledger, so a restarted process treats
// previously written runIds as already-seen (spec.md §4.8 idempotence).
func Open(outDir string, archive bool, mode ArchiveMode) (*Sink, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("go.opendt.dev/E004: allocating output dir %s: %w", outDir, err)
	}
	s := &Sink{
		outDir:  outDir,
		archive: archive,
		mode:    mode,
		aggPath: filepath.Join(outDir, "agg_results.parquet"),
		lock:    flock.New(filepath.Join(outDir, "agg_results.parquet.lock")),
		rows:    make(map[string]aggRow),
	}
	if err := s.loadExisting(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) loadExisting() error {
	if _, err := os.Stat(s.aggPath); os.IsNotExist(err) {
		return nil
	}
	fr, err := local.NewLocalFileReader(s.aggPath)
	if err != nil {
		return fmt.Errorf("go.opendt.dev/E003: opening existing %s: %w", s.aggPath, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(aggRow), 4)
	if err != nil {
		// A truncated or partially-written aggregate from a prior crash is
		// discarded rather than treated as fatal (spec.md §4.8: "one
		// partial row is discarded on replay").
		return nil
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	if n == 0 {
		return nil
	}
	rows := make([]aggRow, n)
	if err := pr.Read(&rows); err != nil {
		return nil
	}
	for _, r := range rows {
		if r.RunID == "" {
			continue
		}
		s.put(r)
	}
	return nil
}

func (s *Sink) put(r aggRow) {
	if _, seen := s.rows[r.RunID]; !seen {
		s.rowByID = append(s.rowByID, r.RunID)
	}
	s.rows[r.RunID] = r
}

// WriteSimulationReport appends one row for a closed window's outcome. A
// repeat call with the same RunID overwrites in place (idempotent replay).
func (s *Sink) WriteSimulationReport(rep model.SimulationReport) error {
	energy, cpu, power, runtime := rep.Result.EnergyKWh, rep.Result.MeanCPUUtil, rep.Result.MaxPowerW, rep.Result.RuntimeHours
	if rep.Result.Status != model.StatusOK {
		// §7: an error row carries NaN metrics rather than the zero value a
		// StatusError result leaves them at, so a reader aggregating
		// EnergyKWh/etc. can't mistake "simulation failed" for "simulation
		// used zero energy".
		energy, cpu, power, runtime = math.NaN(), math.NaN(), math.NaN(), math.NaN()
	}
	row := aggRow{
		RunID:               rep.RunID,
		WindowID:            int64(rep.WindowID),
		WindowStart:         rep.WindowStart.UnixMilli(),
		WindowEnd:           rep.WindowEnd.UnixMilli(),
		TaskCount:           int32(rep.TaskCount),
		TopologyFingerprint: rep.TopologyFingerprint,
		Status:              string(rep.Result.Status),
		EnergyKWh:           energy,
		MeanCPUUtil:         cpu,
		MaxPowerW:           power,
		RuntimeHours:        runtime,
		ErrorMsg:            rep.Result.ErrorMsg,
	}
	s.put(row)
	return s.flush()
}

// WriteEpochReport appends one calibration-epoch summary row (spec.md
// §4.6 step 7), keyed by a synthetic runId distinct from any window's.
func (s *Sink) WriteEpochReport(runID string, rep calibration.EpochReport) error {
	row := aggRow{
		RunID:          runID,
		WindowStart:    rep.EpochStart.UnixMilli(),
		WindowEnd:      rep.EpochEnd.UnixMilli(),
		ParamPath:      rep.ParamPath,
		CandidateCount: int32(len(rep.Candidates)),
		Published:      rep.Published,
		Status:         "calibration-epoch",
	}
	if rep.Winner != nil {
		row.WinnerValue = rep.Winner.Value
		row.WinnerMAPE = rep.Winner.MAPE
	} else {
		row.ErrorMsg = "no candidate improved on the published topology"
	}
	s.put(row)
	if rep.Winner != nil {
		telemetry.Logger(telemetry.Fields{Component: "outputsink"}).
			WithField("winner", rep.Winner.Value).
			WithField("mape", rep.Winner.MAPE).
			Info("calibration epoch complete")
	}
	return s.flush()
}

// flush rewrites the full aggregate under an exclusive lock via
// write-to-temp-then-rename, so a reader never observes a partial file
// (spec.md §4.8, §5: "appended under an exclusive file lock").
func (s *Sink) flush() error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("go.opendt.dev/E006: acquiring aggregate lock: %w", err)
	}
	defer s.lock.Unlock()

	tmpPath := s.aggPath + ".tmp"
	fw, err := local.NewLocalFileWriter(tmpPath)
	if err != nil {
		return fmt.Errorf("go.opendt.dev/E004: creating %s: %w", tmpPath, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(aggRow), 4)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("go.opendt.dev/E004: opening aggregate writer: %w", err)
	}
	for _, id := range s.rowByID {
		if err := pw.Write(s.rows[id]); err != nil {
			_ = fw.Close()
			return fmt.Errorf("go.opendt.dev/E004: writing aggregate row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("go.opendt.dev/E004: finalizing aggregate: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("go.opendt.dev/E004: closing aggregate: %w", err)
	}
	return os.Rename(tmpPath, s.aggPath)
}

// ArchiveRun relocates a completed invocation's scratch directory to
// <outDir>/<runId>/{input,output}/…, per spec.md §4.8's runId format
// (e.g. "window-3", "window-3-candidate-2"). Disabled entirely unless
// archiving was enabled at Open.
func (s *Sink) ArchiveRun(runID, scratchDir string) error {
	if !s.archive {
		return nil
	}
	dest := filepath.Join(s.outDir, runID)
	if _, err := os.Stat(dest); err == nil {
		if s.mode == Strict {
			return fmt.Errorf("go.opendt.dev/E006: runId %q already archived (strict mode)", runID)
		}
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("go.opendt.dev/E004: clearing stale archive for %q: %w", runID, err)
		}
	}
	tmpDest := dest + ".tmp-" + uuid.NewString()
	if err := os.Rename(scratchDir, tmpDest); err != nil {
		return fmt.Errorf("go.opendt.dev/E004: staging archive for %q: %w", runID, err)
	}
	return os.Rename(tmpDest, dest)
}

// Close releases the sink's lock handle. The underlying file lock is
// per-flush (acquired and released within flush), so Close is a cheap
// best-effort cleanup rather than a required call.
func (s *Sink) Close() error {
	return s.lock.Close()
}
