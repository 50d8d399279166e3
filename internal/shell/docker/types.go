package docker

import (
	"context"

	"github.com/artpar/boxcompose/internal/core/deployment"
)

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusStopped    ContainerStatus = "stopped"
	ContainerStatusDead       ContainerStatus = "dead"
	ContainerStatusUnknown    ContainerStatus = "unknown"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID      string
	Name    string
	Image   string
	Status  ContainerStatus
	Address string
	Labels  map[string]string
}

// Running reports whether the container is running.
func (c ContainerInfo) Running() bool {
	return c.Status == ContainerStatusRunning
}

// =============================================================================
// Launch Output
// =============================================================================

// Stream identifies which output stream a line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LogLine is one line of service output.
type LogLine struct {
	Service string
	Stream  Stream
	Text    string
}

// =============================================================================
// Options
// =============================================================================

// PullOptions defines options for pulling images.
type PullOptions struct {
	Platform string // e.g., "linux/amd64"
}

// BuildSpec defines an image build.
type BuildSpec struct {
	Context    string // absolute build context directory
	Dockerfile string // relative to Context; empty means Dockerfile
	Args       map[string]string
	Target     string
	Platform   string
	Tag        string
	NoCache    bool
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the container runtime capability the orchestrator drives.
// Every method honours ctx cancellation.
type Client interface {
	// Resource provisioning. Both are idempotent: an existing resource with
	// the same name is success.
	EnsureNetwork(ctx context.Context, plan deployment.NetworkPlan) error
	EnsureVolume(ctx context.Context, plan deployment.VolumePlan) error

	// Container operations
	FindContainer(ctx context.Context, name string) (*ContainerInfo, error)
	Status(ctx context.Context, name string) (ContainerStatus, error)
	Address(ctx context.Context, name string) (string, error)
	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	CommitContainer(ctx context.Context, name, image string) (string, error)

	// Launch starts a container from spec. Without the detach flag it
	// streams output lines to sink and returns when the container exits or
	// ctx is cancelled. With it, it returns once the container is started.
	Launch(ctx context.Context, spec deployment.RunSpec, sink func(LogLine)) error

	// Image operations
	ListImages(ctx context.Context) ([]string, error)
	PullImage(ctx context.Context, ref string, opts PullOptions) error
	BuildImage(ctx context.Context, spec BuildSpec) (string, error)

	Close() error
}
