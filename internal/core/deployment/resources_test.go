package deployment

import (
	"testing"

	"github.com/artpar/boxcompose/internal/core/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Network Plan Tests
// =============================================================================

func TestPlanNetworks(t *testing.T) {
	networks := map[string]compose.Network{
		"front":  {},
		"back":   {Name: "shop-back", Internal: true, IPAM: &compose.IPAM{Config: []compose.IPAMConfig{{Subnet: "172.20.0.0/16"}}}},
		"legacy": {External: compose.External{IsExternal: true}},
	}

	plans := PlanNetworks(networks, "shop")
	require.Len(t, plans, 3)

	assert.Equal(t, "back", plans[0].Key)
	assert.Equal(t, "shop-back", plans[0].Name)
	assert.True(t, plans[0].Internal)
	assert.Equal(t, []string{"172.20.0.0/16"}, plans[0].Subnets)
	assert.Equal(t, "shop", plans[0].Labels[LabelProject])

	assert.Equal(t, "front", plans[1].Name)
	assert.True(t, plans[2].External)
}

func TestNetworkPlan_CreateArgs(t *testing.T) {
	assert.Equal(t, []string{"my-net"}, NetworkPlan{Name: "my-net"}.CreateArgs())

	plan := NetworkPlan{
		Name:       "my-net",
		Driver:     "bridge",
		DriverOpts: map[string]string{"mtu": "1400"},
		Internal:   true,
		Attachable: true,
		Labels:     map[string]string{"type": "frontend", "com.example.description": "Test Network"},
		Subnets:    []string{"172.20.0.0/16"},
	}
	assert.Equal(t, []string{
		"--driver", "bridge",
		"--opt", "mtu=1400",
		"--attachable",
		"--internal",
		"--label", "com.example.description=Test Network",
		"--label", "type=frontend",
		"--subnet", "172.20.0.0/16",
		"my-net",
	}, plan.CreateArgs())
}

// =============================================================================
// Volume Plan Tests
// =============================================================================

func TestPlanVolumes(t *testing.T) {
	project := testProject()
	volumes := map[string]compose.Volume{
		"data":  {},
		"cache": {Name: "shared-cache"},
		"ext":   {External: compose.External{IsExternal: true, Name: "corp-vol"}},
	}

	plans := PlanVolumes(volumes, project)
	require.Len(t, plans, 3)

	assert.Equal(t, "cache", plans[0].Key)
	assert.Equal(t, "shared-cache", plans[0].Name)
	assert.Equal(t, "/home/me/.containers/Volumes/shop/shared-cache", plans[0].HostPath)

	assert.Equal(t, "shop_data", plans[1].Name)
	assert.Equal(t, "/home/me/.containers/Volumes/shop/data", plans[1].HostPath)

	assert.True(t, plans[2].External)
	assert.Equal(t, "corp-vol", plans[2].Name)
}

func TestVolumePlan_CreateArgs(t *testing.T) {
	assert.Equal(t, []string{"my-vol"}, VolumePlan{Name: "my-vol"}.CreateArgs())

	plan := VolumePlan{
		Name:       "my-vol",
		Labels:     map[string]string{"storage": "ssd"},
		DriverOpts: map[string]string{"type": "nfs", "device": ":/path/to/dir"},
	}
	assert.Equal(t, []string{
		"--label", "storage=ssd",
		"--opt", "device=:/path/to/dir",
		"--opt", "type=nfs",
		"my-vol",
	}, plan.CreateArgs())
}
