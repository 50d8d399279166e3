package deployment

import (
	"io/fs"
	"strings"

	"github.com/artpar/boxcompose/internal/core/compose"
)

// =============================================================================
// Project Context
// =============================================================================

// ProjectContext is the per-invocation state shared by all services.
// Only the driver mutates it, and only between launches.
type ProjectContext struct {
	Name       string
	WorkDir    string
	HomeDir    string
	VolumeRoot string

	// Ambient is the process environment. It is consulted during
	// interpolation but never emitted into containers.
	Ambient map[string]string

	// Env is the project-level .env table.
	Env map[string]string

	// Addresses maps service names to their last known runtime address.
	Addresses map[string]string
}

// NewProjectContext creates a ProjectContext with empty tables.
func NewProjectContext(name, workDir string) *ProjectContext {
	return &ProjectContext{
		Name:      name,
		WorkDir:   workDir,
		Ambient:   map[string]string{},
		Env:       map[string]string{},
		Addresses: map[string]string{},
	}
}

// RecordAddress stores a discovered address for a service. Project-level
// values that are exactly the service name are rewritten to the address.
func (p *ProjectContext) RecordAddress(service, address string) {
	if address == "" {
		return
	}
	if p.Addresses == nil {
		p.Addresses = map[string]string{}
	}
	p.Addresses[service] = address
	for k, v := range p.Env {
		if v == service {
			p.Env[k] = address
		}
	}
}

// Lookup returns the table used to interpolate document fields:
// the ambient environment overlaid with the project .env.
func (p *ProjectContext) Lookup() map[string]string {
	return MergeEnvironment(p.Ambient, p.Env)
}

// =============================================================================
// Run Spec Types
// =============================================================================

// Flag is one runtime option. Value is empty for boolean switches.
type Flag struct {
	Name  string
	Value string
}

// RunSpec is a runtime-agnostic launch instruction for one service.
// Flags always precede Image, and Args always follow it.
type RunSpec struct {
	Service string
	Name    string
	Flags   []Flag
	Image   string
	Args    []string

	// Dir is the project directory relative mount sources resolve against.
	Dir string
}

// Argv renders the spec as `flags... image args...`.
func (r RunSpec) Argv() []string {
	argv := make([]string, 0, len(r.Flags)*2+1+len(r.Args))
	for _, f := range r.Flags {
		argv = append(argv, f.Name)
		if f.Value != "" {
			argv = append(argv, f.Value)
		}
	}
	argv = append(argv, r.Image)
	return append(argv, r.Args...)
}

// Values returns every value given for the named flag, in order.
func (r RunSpec) Values(name string) []string {
	var out []string
	for _, f := range r.Flags {
		if f.Name == name {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether the named flag is present.
func (r RunSpec) Has(name string) bool {
	for _, f := range r.Flags {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Value returns the first value of the named flag.
func (r RunSpec) Value(name string) string {
	for _, f := range r.Flags {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Env returns the -e flags as a map.
func (r RunSpec) Env() map[string]string {
	out := map[string]string{}
	for _, kv := range r.Values(FlagEnv) {
		k, v, _ := strings.Cut(kv, "=")
		out[k] = v
	}
	return out
}

// Runtime flag names. Backends translate these into their own API.
const (
	FlagDetach      = "-d"
	FlagName        = "--name"
	FlagRestart     = "--restart"
	FlagUser        = "--user"
	FlagLabel       = "--label"
	FlagVolume      = "-v"
	FlagEnv         = "-e"
	FlagPublish     = "--publish"
	FlagNetwork     = "--network"
	FlagHostname    = "--hostname"
	FlagWorkdir     = "--workdir"
	FlagPrivileged  = "--privileged"
	FlagReadOnly    = "--read-only"
	FlagCPUs        = "--cpus"
	FlagMemory      = "--memory"
	FlagInit        = "--init"
	FlagInitImage   = "--init-image"
	FlagRuntime     = "--runtime"
	FlagPlatform    = "--platform"
	FlagInteractive = "-i"
	FlagTTY         = "-t"
	FlagEntrypoint  = "--entrypoint"
)

// =============================================================================
// Builder Parameter Types
// =============================================================================

// HostFS is the host filesystem access needed to prepare mount sources.
type HostFS interface {
	Stat(path string) (fs.FileInfo, error)
	MkdirAll(path string, perm fs.FileMode) error
}

// RunSpecParams contains all inputs for building a RunSpec.
// Service must already be interpolated.
type RunSpecParams struct {
	ServiceName string
	Service     compose.Service
	Project     *ProjectContext
	Env         map[string]string
	Image       string
	Detach      bool
	RunID       string
	Networks    map[string]compose.Network
	Volumes     map[string]compose.Volume
	FS          HostFS
}

// =============================================================================
// Container Labels
// =============================================================================

// Label keys used to identify containers started by boxcompose.
const (
	LabelProject = "com.boxcompose.project"
	LabelService = "com.boxcompose.service"
	LabelRun     = "com.boxcompose.run"
)
