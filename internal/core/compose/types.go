package compose

// =============================================================================
// Document - Main Output Type
// =============================================================================

// Document represents a fully decoded Compose document.
// Polymorphic fields are already normalized into their canonical shapes.
type Document struct {
	Version  string              `yaml:"version,omitempty"`
	Name     string              `yaml:"name,omitempty"`
	Services map[string]Service  `yaml:"services"`
	Networks map[string]Network  `yaml:"networks,omitempty"`
	Volumes  map[string]Volume   `yaml:"volumes,omitempty"`
	Configs  map[string]Resource `yaml:"configs,omitempty"`
	Secrets  map[string]Resource `yaml:"secrets,omitempty"`
}

// ServiceNames returns the names of all services in the document.
func (d *Document) ServiceNames() []string {
	names := make([]string, 0, len(d.Services))
	for name := range d.Services {
		names = append(names, name)
	}
	return names
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service definition.
type Service struct {
	Name          string           `yaml:"-"`
	Image         string           `yaml:"image,omitempty"`
	Build         *Build           `yaml:"build,omitempty"`
	Deploy        *Deploy          `yaml:"deploy,omitempty"`
	Restart       string           `yaml:"restart,omitempty"`
	HealthCheck   *HealthCheck     `yaml:"healthcheck,omitempty"`
	Volumes       VolumeList       `yaml:"volumes,omitempty"`
	Environment   MappingOrList    `yaml:"environment,omitempty"`
	EnvFile       StringList       `yaml:"env_file,omitempty"`
	Ports         PortList         `yaml:"ports,omitempty"`
	Command       ShellCommand     `yaml:"command,omitempty"`
	Entrypoint    ShellCommand     `yaml:"entrypoint,omitempty"`
	DependsOn     DependsOn        `yaml:"depends_on,omitempty"`
	User          string           `yaml:"user,omitempty"`
	ContainerName string           `yaml:"container_name,omitempty"`
	Networks      NetworkRefs      `yaml:"networks,omitempty"`
	Hostname      string           `yaml:"hostname,omitempty"`
	Privileged    bool             `yaml:"privileged,omitempty"`
	ReadOnly      bool             `yaml:"read_only,omitempty"`
	WorkingDir    string           `yaml:"working_dir,omitempty"`
	StdinOpen     bool             `yaml:"stdin_open,omitempty"`
	TTY           bool             `yaml:"tty,omitempty"`
	Runtime       string           `yaml:"runtime,omitempty"`
	Init          bool             `yaml:"init,omitempty"`
	InitImage     string           `yaml:"init_image,omitempty"`
	Platform      string           `yaml:"platform,omitempty"`
	CPUs          string           `yaml:"cpus,omitempty"`
	MemLimit      string           `yaml:"mem_limit,omitempty"`
	Labels        MappingOrList    `yaml:"labels,omitempty"`
	Configs       []ServiceFileRef `yaml:"configs,omitempty"`
	Secrets       []ServiceFileRef `yaml:"secrets,omitempty"`
}

// Build represents build configuration. `build: ./dir` decodes to a Build
// with only Context set.
type Build struct {
	Context    string        `yaml:"context,omitempty"`
	Dockerfile string        `yaml:"dockerfile,omitempty"`
	Args       MappingOrList `yaml:"args,omitempty"`
	Target     string        `yaml:"target,omitempty"`
}

// Deploy is parsed for forward compatibility; only resource limits are used.
type Deploy struct {
	Replicas      *int            `yaml:"replicas,omitempty"`
	Resources     DeployResources `yaml:"resources,omitempty"`
	RestartPolicy *DeployRestart  `yaml:"restart_policy,omitempty"`
}

// DeployResources holds limits and reservations.
type DeployResources struct {
	Limits       *ResourceValues `yaml:"limits,omitempty"`
	Reservations *ResourceValues `yaml:"reservations,omitempty"`
}

// ResourceValues is a cpus/memory pair as written in the document.
type ResourceValues struct {
	CPUs   string `yaml:"cpus,omitempty"`
	Memory string `yaml:"memory,omitempty"`
}

// DeployRestart is the Swarm restart policy block.
type DeployRestart struct {
	Condition   string `yaml:"condition,omitempty"`
	Delay       string `yaml:"delay,omitempty"`
	MaxAttempts *int   `yaml:"max_attempts,omitempty"`
	Window      string `yaml:"window,omitempty"`
}

// HealthCheck represents health check configuration. It is never enforced.
type HealthCheck struct {
	Test        StringList `yaml:"test,omitempty"`
	Interval    string     `yaml:"interval,omitempty"`
	Timeout     string     `yaml:"timeout,omitempty"`
	Retries     int        `yaml:"retries,omitempty"`
	StartPeriod string     `yaml:"start_period,omitempty"`
	Disable     bool       `yaml:"disable,omitempty"`
}

// ServiceFileRef is a service-level reference to a top-level config or secret.
type ServiceFileRef struct {
	Source string `yaml:"source"`
	Target string `yaml:"target,omitempty"`
	UID    string `yaml:"uid,omitempty"`
	GID    string `yaml:"gid,omitempty"`
	Mode   string `yaml:"mode,omitempty"`
}

// =============================================================================
// Restart Policy
// =============================================================================

// Restart policy values accepted in documents.
const (
	RestartNo            = "no"
	RestartAlways        = "always"
	RestartOnFailure     = "on-failure"
	RestartUnlessStopped = "unless-stopped"
)

// =============================================================================
// Network Types
// =============================================================================

// Network represents a top-level network definition.
type Network struct {
	Name       string            `yaml:"name,omitempty"`
	Driver     string            `yaml:"driver,omitempty"`
	DriverOpts map[string]string `yaml:"driver_opts,omitempty"`
	External   External          `yaml:"external,omitempty"`
	Internal   bool              `yaml:"internal,omitempty"`
	Attachable bool              `yaml:"attachable,omitempty"`
	EnableIPv6 bool              `yaml:"enable_ipv6,omitempty"`
	Labels     MappingOrList     `yaml:"labels,omitempty"`
	IPAM       *IPAM             `yaml:"ipam,omitempty"`
}

// IPAM represents IP address management configuration.
type IPAM struct {
	Driver string       `yaml:"driver,omitempty"`
	Config []IPAMConfig `yaml:"config,omitempty"`
}

// IPAMConfig represents IPAM configuration.
type IPAMConfig struct {
	Subnet  string `yaml:"subnet,omitempty"`
	Gateway string `yaml:"gateway,omitempty"`
}

// =============================================================================
// Volume Types
// =============================================================================

// Volume represents a top-level named volume definition.
type Volume struct {
	Name       string            `yaml:"name,omitempty"`
	Driver     string            `yaml:"driver,omitempty"`
	DriverOpts map[string]string `yaml:"driver_opts,omitempty"`
	External   External          `yaml:"external,omitempty"`
	Labels     MappingOrList     `yaml:"labels,omitempty"`
}

// External is the canonical shape of `external: true` and
// `external: {name: other}`.
type External struct {
	IsExternal bool
	Name       string
}

// Resource is a top-level config or secret. Parsed, never attached.
type Resource struct {
	Name        string   `yaml:"name,omitempty"`
	File        string   `yaml:"file,omitempty"`
	Environment string   `yaml:"environment,omitempty"`
	External    External `yaml:"external,omitempty"`
}
