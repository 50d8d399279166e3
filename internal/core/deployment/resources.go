package deployment

import (
	"sort"

	"github.com/artpar/boxcompose/internal/core/compose"
)

// =============================================================================
// Network and Volume Plans
// =============================================================================

// NetworkPlan is a top-level network ready to be ensured on the runtime.
type NetworkPlan struct {
	Key        string
	Name       string
	External   bool
	Driver     string
	DriverOpts map[string]string
	Labels     map[string]string
	Internal   bool
	Attachable bool
	EnableIPv6 bool
	Subnets    []string
}

// VolumePlan is a top-level named volume ready to be ensured on the runtime.
// HostPath is the directory that backs it on runtimes without named volumes.
type VolumePlan struct {
	Key        string
	Name       string
	External   bool
	Driver     string
	DriverOpts map[string]string
	Labels     map[string]string
	HostPath   string
}

// PlanNetworks returns one plan per top-level network, sorted by key.
// The runtime name is the explicit name if set, else the key.
func PlanNetworks(networks map[string]compose.Network, project string) []NetworkPlan {
	keys := sortedKeys(networks)
	plans := make([]NetworkPlan, 0, len(keys))
	for _, key := range keys {
		n := networks[key]
		plan := NetworkPlan{
			Key:        key,
			Name:       NetworkName(key, networks),
			External:   n.External.IsExternal,
			Driver:     n.Driver,
			DriverOpts: n.DriverOpts,
			Labels:     withProjectLabel(n.Labels.Map(), project),
			Internal:   n.Internal,
			Attachable: n.Attachable,
			EnableIPv6: n.EnableIPv6,
		}
		if n.IPAM != nil {
			for _, cfg := range n.IPAM.Config {
				if cfg.Subnet != "" {
					plan.Subnets = append(plan.Subnets, cfg.Subnet)
				}
			}
		}
		plans = append(plans, plan)
	}
	return plans
}

// PlanVolumes returns one plan per top-level volume, sorted by key.
func PlanVolumes(volumes map[string]compose.Volume, project *ProjectContext) []VolumePlan {
	keys := sortedKeys(volumes)
	plans := make([]VolumePlan, 0, len(keys))
	for _, key := range keys {
		v := volumes[key]
		dir := key
		if v.Name != "" {
			dir = v.Name
		}
		name := VolumeName(project.Name, key, v.Name)
		if v.External.IsExternal && v.External.Name != "" {
			name = v.External.Name
		}
		plans = append(plans, VolumePlan{
			Key:        key,
			Name:       name,
			External:   v.External.IsExternal,
			Driver:     v.Driver,
			DriverOpts: v.DriverOpts,
			Labels:     withProjectLabel(v.Labels.Map(), project.Name),
			HostPath:   VolumePath(project.VolumeRoot, project.Name, dir),
		})
	}
	return plans
}

// CreateArgs renders the plan as `network create` arguments.
// The network name is always last.
func (p NetworkPlan) CreateArgs() []string {
	var args []string
	if p.Driver != "" {
		args = append(args, "--driver", p.Driver)
	}
	args = appendPairs(args, "--opt", p.DriverOpts)
	if p.Attachable {
		args = append(args, "--attachable")
	}
	if p.EnableIPv6 {
		args = append(args, "--ipv6")
	}
	if p.Internal {
		args = append(args, "--internal")
	}
	args = appendPairs(args, "--label", p.Labels)
	for _, subnet := range p.Subnets {
		args = append(args, "--subnet", subnet)
	}
	return append(args, p.Name)
}

// CreateArgs renders the plan as `volume create` arguments.
// The volume name is always last.
func (p VolumePlan) CreateArgs() []string {
	var args []string
	if p.Driver != "" {
		args = append(args, "--driver", p.Driver)
	}
	args = appendPairs(args, "--label", p.Labels)
	args = appendPairs(args, "--opt", p.DriverOpts)
	return append(args, p.Name)
}

func appendPairs(args []string, flag string, pairs map[string]string) []string {
	for _, k := range sortedKeys(pairs) {
		args = append(args, flag, k+"="+pairs[k])
	}
	return args
}

func withProjectLabel(labels map[string]string, project string) map[string]string {
	if project == "" {
		return labels
	}
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[LabelProject] = project
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
