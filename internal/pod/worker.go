package pod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "podkit/internal/errors"
	"podkit/pkg/engine"
)

// PodState is the lifecycle worker's view of the pod. The worker is the sole
// writer; everyone else reads.
type PodState int

const (
	StateStarting PodState = iota
	StateReady
	StateFailed
	StateStopping
	StateStopped
)

func (s PodState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const diagnosticLogTail = 20

// Worker drives the startup sequence on its own goroutine so a crash or hang
// inside container-start logic cannot take down the controller. It owns all
// PodState transitions and guarantees the teardown sequence runs exactly once
// per pod, on every path.
type Worker struct {
	sup      *Supervisor
	poller   *Poller
	spec     *engine.RunSpec
	deadline time.Duration
	grace    time.Duration

	mu       sync.Mutex
	state    PodState
	startErr error
	exitCode int

	startupSettled chan struct{}
	settleOnce     sync.Once
	done           chan struct{}
	stopCh         chan struct{}
	stopOnce       sync.Once
	teardownOnce   sync.Once
	startOnce      sync.Once
}

// NewWorker wires a worker to its supervisor and poller. deadline bounds the
// wait for readiness; grace bounds the graceful half of teardown.
func NewWorker(sup *Supervisor, poller *Poller, spec *engine.RunSpec, deadline, grace time.Duration) *Worker {
	return &Worker{
		sup:            sup,
		poller:         poller,
		spec:           spec,
		deadline:       deadline,
		grace:          grace,
		startupSettled: make(chan struct{}),
		done:           make(chan struct{}),
		stopCh:         make(chan struct{}),
	}
}

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Stop requests teardown from any state. An in-flight readiness poll is
// abandoned immediately, not waited out. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Join blocks until the worker goroutine has fully finished, including its
// teardown sequence.
func (w *Worker) Join() {
	<-w.done
}

// AwaitStartup blocks until the startup attempt settles or ctx is done. When
// the attempt failed, the container is already torn down by the time this
// returns; State and Err carry the detail.
func (w *Worker) AwaitStartup(ctx context.Context) error {
	select {
	case <-w.startupSettled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current pod state.
func (w *Worker) State() PodState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the startup failure detail, or nil if startup succeeded.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startErr
}

// ExitCode is the worker's terminal exit code: zero for a clean stop,
// non-zero exactly when the startup sequence failed. Meaningful after Join.
func (w *Worker) ExitCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitCode
}

func (w *Worker) setState(state PodState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *Worker) setFailed(err error) {
	w.mu.Lock()
	w.state = StateFailed
	w.startErr = err
	w.exitCode = 1
	w.mu.Unlock()
}

// settle unblocks AwaitStartup. Paths that fail must run teardown first so
// the controller never observes a failed startup with a live container.
func (w *Worker) settle() {
	w.settleOnce.Do(func() {
		close(w.startupSettled)
	})
}

// teardown runs the supervisor's stop sequence exactly once per worker. It
// uses a fresh context so teardown makes progress even when the run context
// is already canceled.
func (w *Worker) teardown() {
	w.teardownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.grace+30*time.Second)
		defer cancel()
		if err := w.sup.Stop(ctx, w.grace); err != nil {
			slog.Error("Teardown failed", "pod", w.spec.Name, "error", err)
		}
	})
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.settle()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Lifecycle worker panicked", "pod", w.spec.Name, "panic", r)
			w.setFailed(apperrors.NewStartupError(
				fmt.Sprintf("Supervising pod '%s'", w.spec.Name),
				"The lifecycle worker crashed during the startup sequence",
				"This is a bug in the orchestrator; check the log file for the panic detail",
				fmt.Errorf("lifecycle worker panicked: %v", r),
			))
			w.teardown()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A stop request from the controller abandons whatever the worker is
	// doing, including an in-flight readiness poll.
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := w.sup.Start(ctx, w.spec); err != nil {
		// The worker context is only ever canceled by a stop request, so a
		// canceled engine call is an external stop, not a failure.
		if errors.Is(err, context.Canceled) {
			w.shutdown()
			return
		}
		w.setFailed(apperrors.NewStartupError(
			fmt.Sprintf("Starting pod '%s'", w.spec.Name),
			"The container engine failed during startup",
			"Check the engine daemon, the image reference, and the port bindings",
			err,
		))
		w.teardown()
		w.settle()
		return
	}

	slog.Info("Container started, awaiting readiness",
		"pod", w.spec.Name,
		"containerID", w.sup.ContainerID(),
		"deadline", w.deadline)

	outcome, err := w.poller.AwaitReady(ctx, w.deadline)
	if err != nil {
		// External stop while polling
		w.shutdown()
		return
	}

	switch outcome.Kind {
	case OutcomeReady:
		w.setState(StateReady)
		w.settle()
		slog.Info("Pod is ready", "pod", w.spec.Name, "containerID", w.sup.ContainerID())
	case OutcomeEarlyExit:
		logTail := w.collectDiagnostics(ctx)
		slog.Error("Container exited before readiness",
			"pod", w.spec.Name,
			"exitCode", outcome.ExitCode,
			"logTail", logTail)
		w.setFailed(apperrors.NewStartupError(
			fmt.Sprintf("Starting pod '%s'", w.spec.Name),
			fmt.Sprintf("The container exited with code %d before the workload became ready", outcome.ExitCode),
			"Check the workload's own logs; the last lines are in the podkit log file",
			fmt.Errorf("container exited with code %d before readiness", outcome.ExitCode),
		))
		w.teardown()
		w.settle()
		return
	case OutcomeTimeout:
		w.setFailed(apperrors.NewStartupError(
			fmt.Sprintf("Starting pod '%s'", w.spec.Name),
			fmt.Sprintf("The workload did not become ready within %s", w.deadline),
			"Increase spec.startupDeadline or check the readiness probe configuration",
			fmt.Errorf("startup deadline %s exceeded", w.deadline),
		))
		w.teardown()
		w.settle()
		return
	}

	w.superviseUntilStop(ctx)
	w.shutdown()
}

// superviseUntilStop holds the worker between Ready and the stop request. A
// container exit in this window is logged for diagnostics; the pod stays
// Ready until the controller decides to stop it.
func (w *Worker) superviseUntilStop(ctx context.Context) {
	go func() {
		code, err := w.sup.Wait(ctx)
		if err == nil {
			slog.Warn("Container exited while pod was ready", "pod", w.spec.Name, "exitCode", code)
		}
	}()

	<-w.stopCh
}

// shutdown runs the stop half of the state machine.
func (w *Worker) shutdown() {
	w.setState(StateStopping)
	slog.Info("Stopping pod", "pod", w.spec.Name, "gracePeriod", w.grace)
	w.teardown()
	w.setState(StateStopped)
	w.settle()
	slog.Info("Pod stopped", "pod", w.spec.Name)
}

// collectDiagnostics fetches the tail of the container log before teardown
// removes it. Best effort: failures degrade to an empty tail.
func (w *Worker) collectDiagnostics(ctx context.Context) string {
	logTail, err := w.sup.Logs(ctx, diagnosticLogTail)
	if err != nil {
		slog.Warn("Failed to collect container log tail", "pod", w.spec.Name, "error", err)
		return ""
	}
	return logTail
}
