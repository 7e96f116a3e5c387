package pod

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	apperrors "podkit/internal/errors"
	"podkit/pkg/engine"
	"podkit/pkg/podspec"
)

// Pod is the single-use handle for one container-backed service instance.
// Start blocks until the workload is ready or the startup attempt has failed
// and been cleaned up; Close tears the instance down. A stopped pod cannot
// be restarted.
type Pod struct {
	manifest *podspec.Manifest
	eng      engine.Engine
	probe    Probe
	runID    string

	mu      sync.Mutex
	started bool
	closed  bool
	worker  *Worker
	sup     *Supervisor
}

// Option configures a Pod before Start.
type Option func(*Pod)

// WithProbe sets the readiness probe. A nil probe means process-level
// readiness: the pod is ready as soon as the container is running. This is
// the only way a probe reaches the pod; probe.ForConfig resolves the
// manifest's probe section into the value to pass here.
func WithProbe(p Probe) Option {
	return func(pod *Pod) {
		pod.probe = p
	}
}

// New builds a pod handle from a validated manifest. Nothing touches the
// engine until Start. New does not resolve the manifest's probe section
// itself (the probe package sits above this one); callers wanting declared
// http/tcp probes must resolve them with probe.ForConfig and pass the
// result via WithProbe, or the pod falls back to container-running
// readiness.
func New(eng engine.Engine, m *podspec.Manifest, opts ...Option) *Pod {
	p := &Pod{
		manifest: m,
		eng:      eng,
		runID:    uuid.New().String(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the container and blocks until it is ready to serve. On
// failure the container is already torn down when Start returns; the error
// carries the failure detail. Start is single-shot per pod.
func (p *Pod) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return terminatedError(p.manifest.Metadata.Name)
	}
	if p.started {
		p.mu.Unlock()
		return apperrors.NewStateError(
			fmt.Sprintf("Starting pod '%s'", p.manifest.Metadata.Name),
			"The pod has already been started",
			"A pod handle is single-use; create a new pod for another instance",
			fmt.Errorf("pod %s already started", p.manifest.Metadata.Name),
		)
	}
	p.started = true

	spec, err := BuildRunSpec(p.manifest, p.runID)
	if err != nil {
		p.closed = true
		p.mu.Unlock()
		return err
	}

	sup := NewSupervisor(p.eng)
	poller := NewPoller(sup.Status, p.probe)
	w := NewWorker(sup, poller, spec, p.manifest.Spec.StartupDeadline, p.manifest.Spec.StopGracePeriod)
	p.sup = sup
	p.worker = w
	p.mu.Unlock()

	w.Start()
	if err := w.AwaitStartup(ctx); err != nil {
		// The caller gave up; make sure nothing is left running before
		// propagating the cancellation.
		w.Stop()
		w.Join()
		return err
	}

	switch w.State() {
	case StateReady:
		return nil
	case StateFailed:
		return w.Err()
	default:
		return apperrors.NewStartupError(
			fmt.Sprintf("Starting pod '%s'", p.manifest.Metadata.Name),
			"The pod was stopped before the workload became ready",
			"Another caller closed the pod during startup",
			fmt.Errorf("pod %s stopped during startup", p.manifest.Metadata.Name),
		)
	}
}

// Close stops the pod and waits for teardown to complete. It is idempotent
// and safe to call on a pod that never started or that failed to start.
func (p *Pod) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	w := p.worker
	p.mu.Unlock()

	if w == nil {
		return nil
	}
	w.Stop()
	w.Join()
	return nil
}

// State reports the pod's lifecycle state.
func (p *Pod) State() PodState {
	p.mu.Lock()
	w := p.worker
	closed := p.closed
	p.mu.Unlock()

	if w == nil {
		if closed {
			return StateStopped
		}
		return StateStarting
	}
	return w.State()
}

// Status inspects the live container. After teardown, or before Start, it
// returns a container-not-found error.
func (p *Pod) Status(ctx context.Context) (engine.ContainerStatus, error) {
	p.mu.Lock()
	sup := p.sup
	p.mu.Unlock()

	if sup == nil {
		return engine.ContainerStatus{}, apperrors.NewNotFoundError(
			fmt.Sprintf("Inspecting pod '%s'", p.manifest.Metadata.Name),
			"The pod has no container: it was never started or has been stopped",
			"Start the pod before asking for container status",
			fmt.Errorf("pod %s: %w", p.manifest.Metadata.Name, engine.ErrNotFound),
		)
	}
	return sup.Status(ctx)
}

// ContainerID returns the engine-assigned container ID, or empty before the
// container exists.
func (p *Pod) ContainerID() string {
	p.mu.Lock()
	sup := p.sup
	p.mu.Unlock()

	if sup == nil {
		return ""
	}
	return sup.ContainerID()
}

// ExitCode is the lifecycle outcome: zero for a clean run, non-zero when
// startup failed. Meaningful after Close.
func (p *Pod) ExitCode() int {
	p.mu.Lock()
	w := p.worker
	p.mu.Unlock()

	if w == nil {
		return 0
	}
	return w.ExitCode()
}

// Name returns the pod's manifest name.
func (p *Pod) Name() string {
	return p.manifest.Metadata.Name
}

// RunID returns the unique ID of this pod instance.
func (p *Pod) RunID() string {
	return p.runID
}

// Run starts a pod, invokes fn once it is ready, and tears the pod down when
// fn returns. Teardown runs even when fn panics.
func Run(ctx context.Context, eng engine.Engine, m *podspec.Manifest, fn func(ctx context.Context, p *Pod) error, opts ...Option) error {
	p := New(eng, m, opts...)
	defer p.Close()

	if err := p.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, p)
}

func terminatedError(name string) *apperrors.PodKitError {
	return apperrors.NewStateError(
		fmt.Sprintf("Using pod '%s'", name),
		"The pod has been stopped and its container removed",
		"A pod handle is single-use; create and start a new pod instead",
		fmt.Errorf("pod %s is terminated", name),
	)
}
