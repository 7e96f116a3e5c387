package engine

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by engine operations when the referenced container
// no longer exists. Adapters translate their client's not-found condition
// into this sentinel so callers can test with errors.Is.
var ErrNotFound = errors.New("container not found")

// RunSpec is the fully resolved argument set for a single container creation.
// It is produced by the run specification builder and consumed exactly once
// by an Engine's Create call.
type RunSpec struct {
	Name       string
	Image      string
	PullImage  bool
	Env        []string
	Ports      []PortBinding
	Network    string
	Labels     map[string]string
	Entrypoint []string
	Cmd        []string
	User       string
	WorkingDir string
	Hostname   string
	Privileged bool
	AutoRemove bool
	Memory     int64
	NanoCPUs   int64

	// Extra carries passthrough options the builder does not interpret,
	// keyed as written in the manifest. Adapters apply what they understand
	// and report the rest; an unrecognized key is never an error.
	Extra map[string]any
}

// PortBinding maps a container port to a host port in engine-neutral form.
type PortBinding struct {
	Container int
	Host      int
	Protocol  string
}

// Container state values as reported by Inspect.
const (
	StateCreated = "created"
	StateRunning = "running"
	StateExited  = "exited"
)

// ContainerStatus is a point-in-time view of a container as the engine sees
// it. Callers needing liveness must re-poll; nothing here is cached.
type ContainerStatus struct {
	ID         string
	State      string
	Running    bool
	ExitCode   int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Exited reports whether the container process has terminated.
func (s ContainerStatus) Exited() bool {
	return s.State == StateExited
}

// Signals understood by Signal.
const (
	SignalTerm = "SIGTERM"
	SignalKill = "SIGKILL"
)

// Engine defines the contract for container engine operations. Implementations
// wrap a concrete engine client (Docker, containerd); nothing above this
// interface issues engine calls directly.
type Engine interface {
	// Create allocates the container resource described by spec and returns
	// the engine-assigned identifier. It does not start the container.
	Create(ctx context.Context, spec *RunSpec) (string, error)

	// Start starts a created container.
	Start(ctx context.Context, id string) error

	// Inspect returns the engine's current view of the container.
	Inspect(ctx context.Context, id string) (ContainerStatus, error)

	// Signal delivers a termination signal to the container's init process.
	Signal(ctx context.Context, id string, signal string) error

	// Wait blocks until the container is no longer running and returns its
	// exit code. The context bounds the wait.
	Wait(ctx context.Context, id string) (int, error)

	// Remove deletes the container resource, killing it first if necessary.
	Remove(ctx context.Context, id string) error

	// Logs returns up to tail lines of the container's output. Diagnostics
	// only; never part of the control path.
	Logs(ctx context.Context, id string, tail int) (string, error)

	// Close releases the engine client.
	Close() error
}
