package toppath

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opendt-project/opendt/internal/model"
)

func twoHostTopology() model.Topology {
	return model.Topology{
		Clusters: []model.Cluster{
			{
				Hosts: []model.Host{
					{CPUPowerModel: model.CPUPowerModel{AsymUtil: 0.1}},
					{CPUPowerModel: model.CPUPowerModel{AsymUtil: 0.2}},
				},
			},
		},
	}
}

func TestResolveWildcardReturnsOneLeafPerHost(t *testing.T) {
	topo := twoHostTopology()
	leaves, err := Resolve(&topo, "clusters[*].hosts[*].cpuPowerModel.asymUtil")
	require.NoError(t, err)
	require.Len(t, leaves, 2)
	require.Equal(t, 0.1, leaves[0].Get())
	require.Equal(t, 0.2, leaves[1].Get())
}

func TestSetPatchesAllResolvedLeaves(t *testing.T) {
	topo := twoHostTopology()
	leaves, err := Resolve(&topo, "clusters[*].hosts[*].cpuPowerModel.asymUtil")
	require.NoError(t, err)

	for _, l := range leaves {
		l.Set(0.5)
	}

	require.Equal(t, 0.5, topo.Clusters[0].Hosts[0].CPUPowerModel.AsymUtil)
	require.Equal(t, 0.5, topo.Clusters[0].Hosts[1].CPUPowerModel.AsymUtil)
}

func TestResolveUnknownFieldErrors(t *testing.T) {
	topo := twoHostTopology()
	_, err := Resolve(&topo, "clusters[*].hosts[*].cpuPowerModel.nope")
	require.Error(t, err)
}

func TestResolveNonNumericTerminalErrors(t *testing.T) {
	topo := twoHostTopology()
	_, err := Resolve(&topo, "clusters[*].hosts[*].cpuPowerModel")
	require.Error(t, err)
}
