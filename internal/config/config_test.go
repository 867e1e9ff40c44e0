package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Window:      Window{WidthMinutes: 5, HeartbeatCadence: 1},
		Cache:       Cache{MaxEntries: 1024},
		Sim:         Sim{OpenDCBin: "/usr/bin/opendc", SubprocessTimeoutSecs: 120, MaxPendingWindows: 32, OutputDir: "/tmp/out"},
		Calibration: Calibration{Enabled: false},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsNonPositiveWindowWidth(t *testing.T) {
	c := validConfig()
	c.Window.WidthMinutes = 0
	require.Error(t, c.Validate())
}

func TestValidateSkipsCalibrationChecksWhenDisabled(t *testing.T) {
	c := validConfig()
	c.Calibration = Calibration{Enabled: false, MinValue: 5, MaxValue: 1} // would be invalid if enabled
	require.NoError(t, c.Validate())
}

func TestValidateRequiresParamPathWhenCalibrationEnabled(t *testing.T) {
	c := validConfig()
	c.Calibration = Calibration{Enabled: true, MinValue: 0, MaxValue: 1, LinspacePoints: 10, MaxParallelWorkers: 4, MapeWindowMinutes: 60}
	require.Error(t, c.Validate())
}

func TestValidateRejectsInvertedCalibrationRange(t *testing.T) {
	c := validConfig()
	c.Calibration = Calibration{Enabled: true, ParamPath: "x", MinValue: 5, MaxValue: 1, LinspacePoints: 10, MaxParallelWorkers: 4, MapeWindowMinutes: 60}
	require.Error(t, c.Validate())
}

func TestValidateAcceptsWellFormedCalibrationConfig(t *testing.T) {
	c := validConfig()
	c.Calibration = Calibration{Enabled: true, ParamPath: "x", MinValue: 0, MaxValue: 1, LinspacePoints: 10, MaxParallelWorkers: 4, MapeWindowMinutes: 60}
	require.NoError(t, c.Validate())
}

func TestParseFailsWhenRequiredFlagsMissing(t *testing.T) {
	_, err := Parse([]string{})
	require.Error(t, err, "sim-opendc-bin and sim-output-dir are required")
}

func TestParseAppliesDefaultsAndSucceeds(t *testing.T) {
	cfg, err := Parse([]string{"--sim-opendc-bin=/usr/bin/opendc", "--sim-output-dir=/tmp/out"})
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Window.WidthMinutes)
	require.Equal(t, 1024, cfg.Cache.MaxEntries)
	require.Equal(t, 10, cfg.Calibration.LinspacePoints)
}
