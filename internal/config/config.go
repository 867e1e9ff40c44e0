// Package config loads the options recognized by the opendt-sim and
// opendt-calibrate entry points, in the teacher's go-flags idiom of
// grouped, tagged struct fields (see go/runtime/flow_consumer.go's
// Config.Consumer group, which this mirrors).
package config

import (
	"fmt"

	flags "github.com/jessevdk/go-flags"

	"github.com/opendt-project/opendt/internal/errs"
)

// Window mirrors the §6.5 window.* / heartbeat.* options.
type Window struct {
	WidthMinutes     int `long:"window-width-minutes" env:"OPENDT_WINDOW_WIDTH_MINUTES" default:"5" description:"Width of each time window"`
	HeartbeatCadence int `long:"heartbeat-cadence-minutes" env:"OPENDT_HEARTBEAT_CADENCE_MINUTES" default:"1" description:"Expected inter-heartbeat spacing (advisory; influences backlog sizing)"`
}

// Cache mirrors the §6.5 cache.* options.
type Cache struct {
	MaxEntries int `long:"cache-max-entries" env:"OPENDT_CACHE_MAX_ENTRIES" default:"1024" description:"LRU bound for the Result Cache"`
}

// Sim mirrors the §6.5 sim.* options.
type Sim struct {
	OpenDCBin             string `long:"sim-opendc-bin" env:"OPENDT_SIM_OPENDC_BIN" required:"true" description:"Path to the external simulator binary"`
	SubprocessTimeoutSecs int    `long:"sim-subprocess-timeout-seconds" env:"OPENDT_SIM_SUBPROCESS_TIMEOUT_SECONDS" default:"120" description:"Per-invocation timeout"`
	MaxPendingWindows     int    `long:"sim-max-pending-windows" env:"OPENDT_SIM_MAX_PENDING_WINDOWS" default:"32" description:"Backpressure threshold"`
	Archive               bool   `long:"sim-archive" env:"OPENDT_SIM_ARCHIVE" description:"Retain per-run scratch directories as archives"`
	OutputDir             string `long:"sim-output-dir" env:"OPENDT_SIM_OUTPUT_DIR" required:"true" description:"Base directory for scratch input/output and the aggregate table"`
}

// Calibration mirrors the §6.5 calibration.* options.
type Calibration struct {
	Enabled            bool    `long:"calibration-enabled" env:"OPENDT_CALIBRATION_ENABLED" description:"Start the Calibration Engine"`
	ParamPath          string  `long:"calibration-param-path" env:"OPENDT_CALIBRATION_PARAM_PATH" description:"Dotted path to the topology parameter being calibrated"`
	MinValue           float64 `long:"calibration-min-value" env:"OPENDT_CALIBRATION_MIN_VALUE" description:"Lower bound of the search space"`
	MaxValue           float64 `long:"calibration-max-value" env:"OPENDT_CALIBRATION_MAX_VALUE" description:"Upper bound of the search space"`
	LinspacePoints     int     `long:"calibration-linspace-points" env:"OPENDT_CALIBRATION_LINSPACE_POINTS" default:"10" description:"Grid resolution"`
	MaxParallelWorkers int     `long:"calibration-max-parallel-workers" env:"OPENDT_CALIBRATION_MAX_PARALLEL_WORKERS" default:"4" description:"Parallelism"`
	MapeWindowMinutes  int     `long:"calibration-mape-window-minutes" env:"OPENDT_CALIBRATION_MAPE_WINDOW_MINUTES" default:"60" description:"Batch span"`
	ImprovementEpsilon float64 `long:"calibration-improvement-epsilon" env:"OPENDT_CALIBRATION_IMPROVEMENT_EPSILON" default:"0" description:"Minimum MAPE improvement required to publish a new candidate"`
}

// Config is the top-level, grouped configuration object parsed by both
// cmd/opendt-sim and cmd/opendt-calibrate (§6.5, §6.6).
type Config struct {
	MetricsAddr string `long:"metrics-addr" env:"OPENDT_METRICS_ADDR" description:"Address to serve Prometheus metrics on; empty disables"`

	Window      Window      `group:"Window"`
	Cache       Cache       `group:"Cache"`
	Sim         Sim         `group:"Sim"`
	Calibration Calibration `group:"Calibration"`
}

// Parse parses argv into a Config, then validates cross-field constraints
// that the flag parser itself can't express.
func Parse(argv []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field invariants of §6.5/§7's
// ConfigurationError. The calibration.* checks run only when calibration
// is enabled; Parse calls Validate for both entry points, so an invalid
// calibration group with calibration enabled also fails opendt-sim's Parse.
func (c *Config) Validate() error {
	if c.Window.WidthMinutes <= 0 {
		return errs.NewConfig("window.widthMinutes", "must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return errs.NewConfig("cache.maxEntries", "must be positive")
	}
	if c.Sim.SubprocessTimeoutSecs <= 0 {
		return errs.NewConfig("sim.subprocessTimeoutSeconds", "must be positive")
	}
	if c.Sim.MaxPendingWindows <= 0 {
		return errs.NewConfig("sim.maxPendingWindows", "must be positive")
	}
	if !c.Calibration.Enabled {
		return nil
	}
	if c.Calibration.ParamPath == "" {
		return errs.NewConfig("calibration.paramPath", "required when calibration is enabled")
	}
	if c.Calibration.MinValue >= c.Calibration.MaxValue {
		return errs.NewConfig("calibration.minValue/maxValue", fmt.Sprintf("minValue (%v) must be less than maxValue (%v)", c.Calibration.MinValue, c.Calibration.MaxValue))
	}
	if c.Calibration.LinspacePoints <= 0 {
		return errs.NewConfig("calibration.linspacePoints", "must be positive")
	}
	if c.Calibration.MaxParallelWorkers <= 0 {
		return errs.NewConfig("calibration.maxParallelWorkers", "must be positive")
	}
	if c.Calibration.MapeWindowMinutes <= 0 {
		return errs.NewConfig("calibration.mapeWindowMinutes", "must be positive")
	}
	return nil
}
