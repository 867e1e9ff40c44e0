package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opendt-project/opendt/internal/model"
)

func sampleTopology(coreCount int32) model.Topology {
	return model.Topology{
		Clusters: []model.Cluster{
			{
				Hosts: []model.Host{
					{
						CPU: model.CPU{CoreCount: coreCount, CoreSpeedMHz: 2400},
						Memory: model.Memory{MemorySizeBytes: 1 << 30},
						CPUPowerModel: model.CPUPowerModel{
							ModelType: model.PowerModelLinear,
							Power:     200,
							IdlePower: 50,
							MaxPower:  400,
						},
					},
				},
			},
		},
	}
}

func TestSetIsNoOpWhenUnchanged(t *testing.T) {
	s := New()
	topo := sampleTopology(4)

	require.NoError(t, s.Set(Observed, topo))
	_, _, gen1, _ := s.Get(Observed)

	require.NoError(t, s.Set(Observed, topo))
	_, _, gen2, _ := s.Get(Observed)

	require.Equal(t, gen1, gen2, "Set with an unchanged fingerprint must not bump the generation")
}

func TestSetBumpsGenerationOnChange(t *testing.T) {
	s := New()
	require.NoError(t, s.Set(Observed, sampleTopology(4)))
	_, _, gen1, _ := s.Get(Observed)

	require.NoError(t, s.Set(Observed, sampleTopology(8)))
	_, _, gen2, _ := s.Get(Observed)

	require.Greater(t, gen2, gen1)
}

func TestFirstObservedBootstrapsCalibrated(t *testing.T) {
	s := New()
	topo := sampleTopology(4)
	require.NoError(t, s.Set(Observed, topo))

	fp, calib, gen, ok := s.Get(Calibrated)
	require.True(t, ok)
	require.NotZero(t, gen)
	require.Equal(t, topo, calib)

	wantFP, _ := model.Fingerprint(topo)
	require.Equal(t, wantFP, fp)
}

func TestSubsequentObservedDoesNotReBootstrapCalibrated(t *testing.T) {
	s := New()
	require.NoError(t, s.Set(Observed, sampleTopology(4)))
	_, _, calibGen1, _ := s.Get(Calibrated)

	require.NoError(t, s.Set(Observed, sampleTopology(8)))
	_, _, calibGen2, _ := s.Get(Calibrated)

	require.Equal(t, calibGen1, calibGen2, "calibrated only bootstraps on the first observed arrival")
}

func TestSubscriberReceivesUpdates(t *testing.T) {
	s := New()
	var received []Update
	s.Subscribe(func(u Update) { received = append(received, u) })

	require.NoError(t, s.Set(Observed, sampleTopology(4)))

	require.Len(t, received, 2, "first observed Set should notify for both Observed and the Calibrated bootstrap")
	require.Equal(t, Observed, received[0].Cell)
	require.Equal(t, Calibrated, received[1].Cell)
	require.Empty(t, received[0].Diff, "a cell's first Set has no prior value to diff against")
}

func TestDiffPopulatedOnGenuineChange(t *testing.T) {
	s := New()
	require.NoError(t, s.Set(Observed, sampleTopology(4)))

	var received []Update
	s.Subscribe(func(u Update) { received = append(received, u) })
	require.NoError(t, s.Set(Observed, sampleTopology(8)))

	require.Len(t, received, 1)
	require.NotEmpty(t, received[0].Diff)
}
