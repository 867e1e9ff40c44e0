// Package simulator implements the Simulator Driver (C1): it materializes
// input artifacts for one invocation, runs the external OpenDC-compatible
// binary as a sub-process with a file-based input/output contract, and
// parses its outputs into a model.SimulationResult (spec.md §4.4).
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/opendt-project/opendt/internal/errs"
	"github.com/opendt-project/opendt/internal/model"
	"github.com/opendt-project/opendt/internal/telemetry"
)

// DefaultTimeout is the §6.5 sim.subprocessTimeoutSeconds default.
const DefaultTimeout = 120 * time.Second

// DefaultGracePeriod is the §5 SIGTERM-then-SIGKILL grace period default.
const DefaultGracePeriod = 10 * time.Second

// stderrTailBytes bounds the captured stderr tail on failure (§4.4 step 4).
const stderrTailBytes = 4096

// Config configures one Driver instance. A Driver is stateless and safe to
// share across concurrent Invoke calls, provided each call uses a distinct
// runID (each gets its own scratch directory).
type Config struct {
	// OpenDCBin is the path to the external simulator binary.
	OpenDCBin string
	// JavaHome, if set, is exported to the subprocess environment. If
	// empty, Invoke attempts to discover one from $JAVA_HOME or $PATH.
	JavaHome string
	// Timeout bounds one invocation; zero uses DefaultTimeout.
	Timeout time.Duration
	// GracePeriod bounds the SIGTERM-to-SIGKILL escalation window; zero
	// uses DefaultGracePeriod.
	GracePeriod time.Duration
	// ExportIntervalSeconds is written into experiment.json; zero uses
	// DefaultExportInterval.
	ExportIntervalSeconds int64
	// Archive controls whether the scratch directory's inputs/outputs are
	// retained after Invoke returns (§4.8 per-run archive). When false,
	// the scratch directory is removed on all exit paths.
	Archive bool
}

// Driver runs one external simulator invocation per call to Invoke.
type Driver struct {
	cfg Config
}

// ScratchDir is the staging directory Invoke writes (topology.json,
// tasks.parquet, fragments.parquet, experiment.json, output/) for runID
// under outDir. It is kept out of outDir's top level — under ".scratch" —
// so that a kept-around run (Config.Archive) never collides with the
// Output Sink's own <outDir>/<runId>/ archive destination (spec.md §4.8);
// promoting a scratch directory into that final location is the Output
// Sink's job (outputsink.Sink.ArchiveRun), not the driver's.
func ScratchDir(outDir, runID string) string {
	return filepath.Join(outDir, ".scratch", runID)
}

func New(cfg Config) *Driver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.ExportIntervalSeconds <= 0 {
		cfg.ExportIntervalSeconds = DefaultExportInterval
	}
	return &Driver{cfg: cfg}
}

// Invoke materializes inputs for (topology, tasks) under
// ScratchDir(outDir, runID), runs the simulator, and parses its outputs. It never
// returns a Go error for ordinary simulation failures (timeout, non-zero
// exit, missing artifact) — those are reported as a SimulationResult with
// Status=error, per spec.md §4.4 and the TransientSimFailure taxonomy
// (§7). A non-nil error return means OpenDT itself failed to set up the
// invocation (e.g. could not create the scratch directory).
func (d *Driver) Invoke(ctx context.Context, topo model.Topology, tasks []model.Task, outDir, runID string) (model.SimulationResult, error) {
	log := telemetry.Logger(telemetry.Fields{Component: "simulator", RunID: runID})

	if len(tasks) == 0 {
		// Edge case (§4.4): empty tasks skips invocation entirely.
		telemetry.SimulatorInvocationsTotal.WithLabelValues(string(model.StatusOK)).Inc()
		return model.SimulationResult{Status: model.StatusOK}, nil
	}

	scratch := ScratchDir(outDir, runID)
	outputFolder := filepath.Join(scratch, "output")
	if err := os.MkdirAll(outputFolder, 0o755); err != nil {
		return model.SimulationResult{}, errs.NewResource(fmt.Sprintf("allocating scratch dir %s: %v", scratch, err))
	}
	cleanup := func() {
		if !d.cfg.Archive {
			_ = os.RemoveAll(scratch)
		}
	}
	defer cleanup()

	topologyPath := filepath.Join(scratch, "topology.json")
	tasksPath := filepath.Join(scratch, "tasks.parquet")
	fragmentsPath := filepath.Join(scratch, "fragments.parquet")
	experimentPath := filepath.Join(scratch, "experiment.json")

	if err := writeTopology(topologyPath, topo); err != nil {
		return model.SimulationResult{}, err
	}
	if err := writeTasksParquet(tasksPath, tasks); err != nil {
		return model.SimulationResult{}, err
	}
	if err := writeFragmentsParquet(fragmentsPath, tasks); err != nil {
		return model.SimulationResult{}, err
	}
	if err := writeExperiment(experimentPath, runID, topologyPath, tasksPath, d.cfg.ExportIntervalSeconds, outputFolder); err != nil {
		return model.SimulationResult{}, err
	}

	result := d.run(ctx, experimentPath, outputFolder, runID, log)

	status := string(result.Status)
	telemetry.SimulatorInvocationsTotal.WithLabelValues(status).Inc()
	return result, nil
}

func writeTopology(path string, topo model.Topology) error {
	b, err := model.CanonicalJSON(topo)
	if err != nil {
		return errs.NewIntegrity(fmt.Sprintf("encoding topology.json: %v", err))
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errs.NewResource(fmt.Sprintf("writing topology.json: %v", err))
	}
	return nil
}

func writeTasksParquet(path string, tasks []model.Task) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return errs.NewResource(fmt.Sprintf("creating tasks.parquet: %v", err))
	}
	pw, err := writer.NewParquetWriter(fw, new(taskRow), 4)
	if err != nil {
		_ = fw.Close()
		return errs.NewResource(fmt.Sprintf("opening tasks.parquet writer: %v", err))
	}
	for _, t := range tasks {
		row := taskRow{
			ID:             int32(t.ID),
			SubmissionTime: t.SubmissionTime.UnixMilli(),
			Duration:       t.DurationMs,
			CPUCount:       t.CPUCount,
			CPUCapacity:    t.CPUCapacityMHz,
			MemCapacity:    t.MemCapacityMB,
		}
		if err := pw.Write(row); err != nil {
			_ = fw.Close()
			return errs.NewResource(fmt.Sprintf("writing tasks.parquet row: %v", err))
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return errs.NewResource(fmt.Sprintf("finalizing tasks.parquet: %v", err))
	}
	return fw.Close()
}

func writeFragmentsParquet(path string, tasks []model.Task) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return errs.NewResource(fmt.Sprintf("creating fragments.parquet: %v", err))
	}
	pw, err := writer.NewParquetWriter(fw, new(fragmentRow), 4)
	if err != nil {
		_ = fw.Close()
		return errs.NewResource(fmt.Sprintf("opening fragments.parquet writer: %v", err))
	}
	for _, t := range tasks {
		for _, f := range t.Fragments {
			row := fragmentRow{
				ID:       int32(f.ID),
				TaskID:   int32(f.TaskID),
				Duration: f.DurationMs,
				CPUCount: f.CPUCount,
				CPUUsage: f.CPUUsage,
			}
			if err := pw.Write(row); err != nil {
				_ = fw.Close()
				return errs.NewResource(fmt.Sprintf("writing fragments.parquet row: %v", err))
			}
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return errs.NewResource(fmt.Sprintf("finalizing fragments.parquet: %v", err))
	}
	return fw.Close()
}

func writeExperiment(path, runID, topologyPath, tasksPath string, exportInterval int64, outputFolder string) error {
	exp := experiment{
		Name:       runID,
		Topologies: []pathEntry{{PathToFile: topologyPath}},
		Workloads:  []pathEntry{{PathToFile: tasksPath}},
		ExportModels: []exportModel{{
			ExportInterval: exportInterval,
			Exports:        defaultExports,
		}},
		OutputFolder: outputFolder,
	}
	b, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return errs.NewIntegrity(fmt.Sprintf("encoding experiment.json: %v", err))
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errs.NewResource(fmt.Sprintf("writing experiment.json: %v", err))
	}
	return nil
}

// run launches the external binary, waits for completion under the
// configured timeout, and escalates SIGTERM/SIGKILL on cancellation
// (spec.md §4.4 step 3-4, §5), in the teacher's style of sending a
// termination signal and only resorting to a hard kill after a grace
// period (see go/connector/run.go, which leaves the kill timeout to
// docker; we implement the equivalent ourselves since we invoke a bare
// binary).
func (d *Driver) run(ctx context.Context, experimentPath, outputFolder, runID string, log *logrus.Entry) model.SimulationResult {
	timeoutCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, d.cfg.OpenDCBin, "--experiment-path", experimentPath)
	// CommandContext's default cancel is an immediate SIGKILL; send SIGTERM
	// instead so the grace-period escalation below is what ends the process.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.Env = append(os.Environ(), "JAVA_HOME="+javaHome(d.cfg.JavaHome))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.WithField("experiment", experimentPath).Info("invoking simulator")
	if err := cmd.Start(); err != nil {
		return errorResult(runID, fmt.Sprintf("starting simulator: %v", err))
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitErr:
	case <-timeoutCtx.Done():
		log.Warn("simulator exceeded timeout, sending SIGTERM")
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err = <-waitErr:
		case <-time.After(d.cfg.GracePeriod):
			log.Warn("simulator ignored SIGTERM, sending SIGKILL")
			_ = cmd.Process.Kill()
			err = <-waitErr
		}
		return errorResult(runID, tail(stderr.Bytes()))
	}

	if err != nil {
		log.WithField("error", err).Warn("simulator exited non-zero")
		return errorResult(runID, tail(stderr.Bytes()))
	}

	return d.parseOutputs(runID, outputFolder)
}

func javaHome(configured string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv("JAVA_HOME"); v != "" {
		return v
	}
	if path, err := exec.LookPath("java"); err == nil {
		return filepath.Dir(filepath.Dir(path))
	}
	return ""
}

func tail(b []byte) string {
	if len(b) <= stderrTailBytes {
		return string(b)
	}
	return string(b[len(b)-stderrTailBytes:])
}

// errorResult reports a subprocess timeout or non-zero exit as a
// SimulationResult rather than a Go error (see Invoke's doc comment).
// ErrorMsg is still built from errs.NewSim so its text carries the
// stable go.opendt.dev/E002 prefix.
func errorResult(runID, reason string) model.SimulationResult {
	return model.SimulationResult{Status: model.StatusError, ErrorMsg: errs.NewSim(runID, reason).Error()}
}

// integrityResult reports a parse failure of a required output file after
// a successful exit (ErrIntegrityViolation); the window it belongs to
// still reaches SIMULATED, same as errorResult's ErrTransientSim case.
func integrityResult(runID, reason string) model.SimulationResult {
	return model.SimulationResult{Status: model.StatusError, ErrorMsg: runID + ": " + errs.NewIntegrity(reason).Error()}
}

// parseOutputs reads output/powerSource.parquet and output/host.parquet
// after a clean exit (spec.md §4.4 steps 5-6).
func (d *Driver) parseOutputs(runID, outputFolder string) model.SimulationResult {
	powerPath := filepath.Join(outputFolder, "powerSource.parquet")
	hostPath := filepath.Join(outputFolder, "host.parquet")

	if _, err := os.Stat(powerPath); err != nil {
		return integrityResult(runID, fmt.Sprintf("missing expected artifact: %s", powerPath))
	}
	if _, err := os.Stat(hostPath); err != nil {
		return integrityResult(runID, fmt.Sprintf("missing expected artifact: %s", hostPath))
	}

	powerRows, err := readPowerSource(powerPath)
	if err != nil {
		return integrityResult(runID, err.Error())
	}
	hostRows, err := readHost(hostPath)
	if err != nil {
		return integrityResult(runID, err.Error())
	}

	var energyJ, maxPower float64
	series := make([]model.PowerPoint, 0, len(powerRows))
	for _, r := range powerRows {
		energyJ += r.EnergyUsage
		if r.PowerDraw > maxPower {
			maxPower = r.PowerDraw
		}
		series = append(series, model.PowerPoint{TMs: r.Timestamp, Watts: r.PowerDraw})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].TMs < series[j].TMs })

	var cpuSum float64
	cpuSeries := make([]model.CPUPoint, 0, len(hostRows))
	var minTs, maxTs int64
	for i, r := range hostRows {
		cpuSum += r.CPUUsage
		cpuSeries = append(cpuSeries, model.CPUPoint{TMs: r.Timestamp, Frac: r.CPUUsage})
		if i == 0 || r.Timestamp < minTs {
			minTs = r.Timestamp
		}
		if r.Timestamp > maxTs {
			maxTs = r.Timestamp
		}
	}
	sort.Slice(cpuSeries, func(i, j int) bool { return cpuSeries[i].TMs < cpuSeries[j].TMs })

	var meanCPU float64
	if len(hostRows) > 0 {
		meanCPU = cpuSum / float64(len(hostRows))
	}
	var runtimeHours float64
	if len(hostRows) > 0 {
		runtimeHours = float64(maxTs-minTs) / 3_600_000.0
	}

	return model.SimulationResult{
		Status:       model.StatusOK,
		EnergyKWh:    energyJ / 3_600_000.0,
		MeanCPUUtil:  meanCPU,
		MaxPowerW:    maxPower,
		RuntimeHours: runtimeHours,
		PowerSeries:  series,
		CPUSeries:    cpuSeries,
	}
}

func readPowerSource(path string) ([]powerSourceRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(powerSourceRow), 4)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]powerSourceRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	return rows, nil
}

func readHost(path string) ([]hostRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(hostRow), 4)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]hostRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	return rows, nil
}
