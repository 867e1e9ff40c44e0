// Command opendt-sim runs the shadow-mode simulation pipeline: it
// consumes workload/power/topology messages, drives the Window Engine
// and Simulator Driver, and publishes results and the aggregate table.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opendt-project/opendt/internal/cache"
	"github.com/opendt-project/opendt/internal/config"
	"github.com/opendt-project/opendt/internal/messageplane"
	"github.com/opendt-project/opendt/internal/model"
	"github.com/opendt-project/opendt/internal/outputsink"
	"github.com/opendt-project/opendt/internal/power"
	"github.com/opendt-project/opendt/internal/simulator"
	"github.com/opendt-project/opendt/internal/telemetry"
	"github.com/opendt-project/opendt/internal/topology"
	"github.com/opendt-project/opendt/internal/window"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	runID := os.Getenv("RUN_ID")
	if runID == "" {
		runID = "run"
	}
	logger := telemetry.Logger(telemetry.Fields{Component: "opendt-sim", RunID: runID})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(telemetry.Registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithField("error", err).Warn("metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	adapter := messageplane.NewMemoryAdapter(map[string]messageplane.ChannelType{
		messageplane.ChannelWorkload:           messageplane.Stream,
		messageplane.ChannelPower:              messageplane.Stream,
		messageplane.ChannelTopologyObserved:   messageplane.Compacted,
		messageplane.ChannelTopologyCalibrated: messageplane.Compacted,
		messageplane.ChannelResults:            messageplane.Stream,
	})

	topoState := topology.New()
	resultCache := cache.New(cfg.Cache.MaxEntries)
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

	engine := window.New(window.Config{
		Width:             time.Duration(cfg.Window.WidthMinutes) * time.Minute,
		MaxPendingWindows: cfg.Sim.MaxPendingWindows,
		RunPrefix:         "window",
	}, resultCache, func(rep model.SimulationReport) {
		if err := messageplane.PublishJSON(ctx, adapter, messageplane.ChannelResults, "", rep); err != nil {
			logger.WithField("error", err).Warn("publishing result")
		}
		if err := sink.WriteSimulationReport(rep); err != nil {
			logger.WithField("error", err).Warn("writing aggregate row")
		}
	})

	topoState.Subscribe(func(u topology.Update) {
		if u.Cell != topology.Calibrated {
			return
		}
		engine.OnTopologyChange(window.TopologyUpdate{
			Fingerprint: u.Fingerprint,
			Topology:    u.Topology,
			Generation:  u.Generation,
		})
		logger.WithField("generation", u.Generation).Info("calibrated topology updated")
	})

	// runPending drives every pending Invocation synchronously to
	// completion before the caller resumes consuming the next message,
	// preserving the cache-hit/cache-miss ordering guarantee the Window
	// Engine's documentation depends on (spec.md §5's serial event loop).
	runPending := func() {
		for _, inv := range engine.DrainPending() {
			result, err := driver.Invoke(ctx, inv.Topology, inv.Tasks, cfg.Sim.OutputDir, inv.RunID)
			if err != nil {
				logger.WithField("error", err).Warn("simulator invocation setup failed")
				result = model.SimulationResult{Status: model.StatusError, ErrorMsg: err.Error()}
			}
			engine.Complete(inv, result)
			if err == nil && len(inv.Tasks) > 0 {
				// An empty-tasks invocation never allocates a scratch
				// directory (Invoke's short-circuit), so there is nothing
				// for ArchiveRun to relocate.
				if archErr := sink.ArchiveRun(inv.RunID, simulator.ScratchDir(cfg.Sim.OutputDir, inv.RunID)); archErr != nil {
					logger.WithField("error", archErr).Warn("archiving run")
				}
			}
		}
	}

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

	sub2, err := adapter.Subscribe(ctx, messageplane.ChannelTopologyCalibrated, func(m messageplane.Message) error {
		var snap model.TopologySnapshot
		if err := json.Unmarshal(m.Payload, &snap); err != nil {
			return err
		}
		return topoState.Set(topology.Calibrated, snap.Topology)
	})
	if err != nil {
		logger.WithField("error", err).Fatal("subscribing to topology.calibrated")
	}
	defer sub2.Cancel()

	sub3, err := adapter.Subscribe(ctx, messageplane.ChannelPower, func(m messageplane.Message) error {
		var s model.PowerSample
		if err := json.Unmarshal(m.Payload, &s); err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			telemetry.InvalidEventsTotal.Inc()
			return nil
		}
		tracker.Add(s)
		return nil
	})
	if err != nil {
		logger.WithField("error", err).Fatal("subscribing to power")
	}
	defer sub3.Cancel()

	sub4, err := adapter.Subscribe(ctx, messageplane.ChannelWorkload, func(m messageplane.Message) error {
		var wm model.WorkloadMessage
		if err := json.Unmarshal(m.Payload, &wm); err != nil {
			return err
		}
		if err := wm.Validate(); err != nil {
			telemetry.InvalidEventsTotal.Inc()
			return nil
		}
		switch wm.Kind {
		case model.KindTask:
			if err := engine.IngestTask(*wm.Task, wm.Timestamp); err != nil {
				logger.WithField("error", err).Debug("dropped late/invalid task")
			}
		case model.KindHeartbeat:
			engine.IngestHeartbeat(wm.Timestamp)
		}
		runPending()
		return nil
	})
	if err != nil {
		logger.WithField("error", err).Fatal("subscribing to workload")
	}
	defer sub4.Cancel()

	logger.Info("opendt-sim running")
	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight invocations")
	runPending()
}
