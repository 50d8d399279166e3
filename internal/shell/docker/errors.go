package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound      = errors.New("container not found")
	ErrContainerAlreadyExists = errors.New("container already exists")
	ErrContainerNotRunning    = errors.New("container is not running")
	ErrContainerExited        = errors.New("container exited with non-zero status")

	// Network and volume errors
	ErrNetworkNotFound = errors.New("network not found")
	ErrVolumeNotFound  = errors.New("volume not found")

	// Image errors
	ErrImageNotFound    = errors.New("image not found")
	ErrImagePullFailed  = errors.New("image pull failed")
	ErrImageBuildFailed = errors.New("image build failed")
	ErrCommitFailed     = errors.New("container commit failed")

	// Launch errors
	ErrInvalidRunSpec       = errors.New("invalid run spec")
	ErrPortAlreadyAllocated = errors.New("port is already allocated")

	// Connection errors
	ErrConnectionFailed = errors.New("runtime connection failed")
	ErrTimeout          = errors.New("operation timed out")

	// Driver errors
	ErrUnknownService = errors.New("unknown service")
)

// RuntimeError wraps a failed runtime interaction with the operation and the
// entity it was applied to.
type RuntimeError struct {
	Op      string // Operation that failed
	Entity  string // container, network, volume, image
	ID      string // Entity name if applicable
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError.
func NewRuntimeError(op, entity, id, message string, err error) *RuntimeError {
	return &RuntimeError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
