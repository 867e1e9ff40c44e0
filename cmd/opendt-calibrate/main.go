// Command opendt-calibrate runs the Calibration Engine in isolation: it
// consumes workload/power/topology.observed, drives grid-search epochs
// against a private Simulator Driver, and publishes a winning
// TopologySnapshot on topology.calibrated.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/opendt-project/opendt/internal/calibration"
	"github.com/opendt-project/opendt/internal/config"
	"github.com/opendt-project/opendt/internal/messageplane"
	"github.com/opendt-project/opendt/internal/model"
	"github.com/opendt-project/opendt/internal/outputsink"
	"github.com/opendt-project/opendt/internal/power"
	"github.com/opendt-project/opendt/internal/simulator"
	"github.com/opendt-project/opendt/internal/telemetry"
	"github.com/opendt-project/opendt/internal/topology"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !cfg.Calibration.Enabled {
		fmt.Fprintln(os.Stderr, "calibration.enabled is false; nothing to run")
		os.Exit(1)
	}

	runID := os.Getenv("RUN_ID")
	if runID == "" {
		runID = "calib"
	}
	logger := telemetry.Logger(telemetry.Fields{Component: "opendt-calibrate", RunID: runID})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	adapter := messageplane.NewMemoryAdapter(map[string]messageplane.ChannelType{
		messageplane.ChannelWorkload:           messageplane.Stream,
		messageplane.ChannelPower:              messageplane.Stream,
		messageplane.ChannelTopologyObserved:   messageplane.Compacted,
		messageplane.ChannelTopologyCalibrated: messageplane.Compacted,
	})

	// Private to this process, per spec.md §4.6: the Calibration Engine
	// owns its own worker pool and its own Simulator Driver instance,
	// distinct from whatever opendt-sim is running. No Result Cache is
	// used on this side; every candidate invocation runs the simulator.
	topoState := topology.New()
	tracker := power.New(power.DefaultMaxRetention)
	driver := simulator.New(simulator.Config{
		OpenDCBin:   cfg.Sim.OpenDCBin,
		Timeout:     time.Duration(cfg.Sim.SubprocessTimeoutSecs) * time.Second,
		GracePeriod: simulator.DefaultGracePeriod,
		Archive:     cfg.Sim.Archive,
	})
	sink, err := outputsink.Open(cfg.Sim.OutputDir, cfg.Sim.Archive, outputsink.OverwriteAtomic)
	if err != nil {
		logger.WithField("error", err).Fatal("opening output sink")
	}
	defer sink.Close()

	engine := calibration.New(calibration.Config{
		ParamPath:          cfg.Calibration.ParamPath,
		MinValue:           cfg.Calibration.MinValue,
		MaxValue:           cfg.Calibration.MaxValue,
		LinspacePoints:     cfg.Calibration.LinspacePoints,
		MaxParallelWorkers: cfg.Calibration.MaxParallelWorkers,
		MapeWindowMinutes:  cfg.Calibration.MapeWindowMinutes,
		ImprovementEpsilon: cfg.Calibration.ImprovementEpsilon,
		OutputDir:          cfg.Sim.OutputDir,
		RunPrefix:          "calib",
	}, driver, topoState, tracker, adapter, sink)

	sub1, err := adapter.Subscribe(ctx, messageplane.ChannelTopologyObserved, func(m messageplane.Message) error {
		var snap model.TopologySnapshot
		if err := json.Unmarshal(m.Payload, &snap); err != nil {
			return err
		}
		return topoState.Set(topology.Observed, snap.Topology)
	})
	if err != nil {
		logger.WithField("error", err).Fatal("subscribing to topology.observed")
	}
	defer sub1.Cancel()

	subCalib, err := adapter.Subscribe(ctx, messageplane.ChannelTopologyCalibrated, func(m messageplane.Message) error {
		var snap model.TopologySnapshot
		if err := json.Unmarshal(m.Payload, &snap); err != nil {
			return err
		}
		return topoState.Set(topology.Calibrated, snap.Topology)
	})
	if err != nil {
		logger.WithField("error", err).Fatal("subscribing to topology.calibrated")
	}
	defer subCalib.Cancel()

	sub2, err := adapter.Subscribe(ctx, messageplane.ChannelPower, func(m messageplane.Message) error {
		var s model.PowerSample
		if err := json.Unmarshal(m.Payload, &s); err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			telemetry.InvalidEventsTotal.Inc()
			return nil
		}
		engine.IngestSample(s)
		return nil
	})
	if err != nil {
		logger.WithField("error", err).Fatal("subscribing to power")
	}
	defer sub2.Cancel()

	epoch := 0
	sub3, err := adapter.Subscribe(ctx, messageplane.ChannelWorkload, func(m messageplane.Message) error {
		var wm model.WorkloadMessage
		if err := json.Unmarshal(m.Payload, &wm); err != nil {
			return err
		}
		if err := wm.Validate(); err != nil {
			telemetry.InvalidEventsTotal.Inc()
			return nil
		}
		if wm.Kind == model.KindTask {
			engine.IngestTask(*wm.Task, wm.Timestamp)
		}
		if engine.Ready() {
			rep, err := engine.RunEpoch(ctx)
			if err != nil {
				logger.WithField("error", err).Warn("calibration epoch failed")
				return nil
			}
			printEpoch(epoch, rep)
			if err := sink.WriteEpochReport(fmt.Sprintf("%s-epoch-%d", "calib", epoch), rep); err != nil {
				logger.WithField("error", err).Warn("writing epoch aggregate row")
			}
			epoch++
		}
		return nil
	})
	if err != nil {
		logger.WithField("error", err).Fatal("subscribing to workload")
	}
	defer sub3.Cancel()

	logger.Info("opendt-calibrate running")
	<-ctx.Done()
	logger.Info("shutdown signal received")
}

// printEpoch renders a human-readable epoch summary the way the teacher's
// flowctl CLI colors success/failure status lines.
func printEpoch(epoch int, rep calibration.EpochReport) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	if rep.Winner != nil && rep.Published {
		fmt.Printf("epoch %d: %s %s=%.4f mape=%.4f (%d candidates)\n",
			epoch, green("published"), rep.ParamPath, rep.Winner.Value, rep.Winner.MAPE, len(rep.Candidates))
		return
	}
	if rep.Winner != nil {
		fmt.Printf("epoch %d: %s %s=%.4f mape=%.4f cleared improvementEpsilon but could not be published (%d candidates)\n",
			epoch, yellow("no-op"), rep.ParamPath, rep.Winner.Value, rep.Winner.MAPE, len(rep.Candidates))
		return
	}
	fmt.Printf("epoch %d: %s no candidate improved on the published topology (%d candidates)\n",
		epoch, yellow("no-op"), len(rep.Candidates))
}
