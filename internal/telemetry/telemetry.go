// Package telemetry wraps logrus with the fields OpenDT components attach
// to every log line, the way the teacher's go/ops package wraps a ShardRef
// around every published Log (see go/ops/publish.go).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Fields are the structured attributes every component logs with.
type Fields struct {
	Component string
	RunID     string
}

// Logger returns a *logrus.Entry pre-populated with the component's
// identifying fields. Callers chain .WithField for call-site specifics.
func Logger(f Fields) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"component": f.Component,
		"runId":     f.RunID,
	})
}

// Registry is the process-wide Prometheus registry. It is never exposed
// over HTTP by the core itself (dashboards remain a Non-goal); cmd entry
// points may optionally mount promhttp.Handler against it for scraping.
var Registry = prometheus.NewRegistry()

var (
	// WindowBacklogDepth tracks closed-but-unsimulated windows (§5 backpressure).
	WindowBacklogDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opendt_window_backlog_depth",
		Help: "Count of windows that are CLOSED but not yet SIMULATED/SKIPPED.",
	})

	// CacheHitsTotal / CacheMissesTotal instrument the Result Cache (C2).
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opendt_cache_hits_total",
		Help: "Result Cache lookups that found a cached SimulationResult.",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opendt_cache_misses_total",
		Help: "Result Cache lookups that missed.",
	})

	// SimulatorInvocationsTotal instruments the Simulator Driver (C1),
	// partitioned by outcome status.
	SimulatorInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opendt_simulator_invocations_total",
		Help: "Simulator Driver invocations by result status.",
	}, []string{"status"})

	// CalibrationEpochMAPE records the winning candidate's MAPE per epoch (C6).
	CalibrationEpochMAPE = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opendt_calibration_epoch_mape",
		Help: "MAPE of the winning candidate in the most recent calibration epoch.",
	})

	// InvalidEventsTotal instruments dropped late/malformed messages (§7).
	InvalidEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opendt_invalid_events_total",
		Help: "Workload/power messages dropped as InvalidEvent.",
	})
)

func init() {
	Registry.MustRegister(
		WindowBacklogDepth,
		CacheHitsTotal,
		CacheMissesTotal,
		SimulatorInvocationsTotal,
		CalibrationEpochMAPE,
		InvalidEventsTotal,
	)
}
