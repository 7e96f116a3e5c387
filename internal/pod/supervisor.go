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

// Supervisor owns the container's runtime identity. It is the only component
// that issues engine calls for the container; everything else reads status
// through it. The lifecycle worker is the sole writer of the handle state;
// the mutex exists for cross-goroutine visibility of reads.
type Supervisor struct {
	engine engine.Engine

	mu      sync.Mutex
	id      string
	removed bool
}

// NewSupervisor creates a supervisor bound to a container engine. The
// container identity is allocated by Start.
func NewSupervisor(eng engine.Engine) *Supervisor {
	return &Supervisor{engine: eng}
}

// handle snapshots the container identity without holding the lock across
// engine calls.
func (s *Supervisor) handle() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.removed
}

func (s *Supervisor) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *Supervisor) markRemoved() {
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
}

// Start issues create and start against the engine and returns the
// engine-assigned container ID. The container object exists when Start
// returns; workload readiness is the poller's concern. A start failure
// removes the created container before returning.
func (s *Supervisor) Start(ctx context.Context, spec *engine.RunSpec) (string, error) {
	id, err := s.engine.Create(ctx, spec)
	if err != nil {
		return "", apperrors.NewEngineError(
			fmt.Sprintf("Creating container '%s'", spec.Name),
			"The container engine rejected the create request",
			"Check the image reference, port bindings, and engine daemon logs",
			err,
		)
	}
	s.setID(id)

	if err := s.engine.Start(ctx, id); err != nil {
		// Clean up on start failure so no engine resource leaks
		if removeErr := s.engine.Remove(ctx, id); removeErr != nil && !errors.Is(removeErr, engine.ErrNotFound) {
			slog.Error("Failed to remove container after start failure", "containerID", id, "error", removeErr)
		}
		s.markRemoved()
		return "", apperrors.NewEngineError(
			fmt.Sprintf("Starting container '%s'", spec.Name),
			"The container engine failed to start the container",
			"Check the engine daemon logs and the container's entrypoint",
			err,
		)
	}

	return id, nil
}

// Status is a point-in-time read of the engine's view of the container.
// Never cached: callers needing liveness must re-poll.
func (s *Supervisor) Status(ctx context.Context) (engine.ContainerStatus, error) {
	id, removed := s.handle()
	if removed || id == "" {
		return engine.ContainerStatus{}, s.notFoundError(id)
	}

	status, err := s.engine.Inspect(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return engine.ContainerStatus{}, s.notFoundError(id)
		}
		return engine.ContainerStatus{}, apperrors.NewEngineError(
			fmt.Sprintf("Inspecting container '%s'", id),
			"The container engine failed to report container status",
			"Check that the engine daemon is still reachable",
			err,
		)
	}
	return status, nil
}

// Wait blocks until the container is no longer running and returns its exit
// code. The context bounds the wait.
func (s *Supervisor) Wait(ctx context.Context) (int, error) {
	id, removed := s.handle()
	if removed || id == "" {
		return 0, s.notFoundError(id)
	}
	return s.engine.Wait(ctx, id)
}

// Logs returns up to tail lines of container output for diagnostics.
func (s *Supervisor) Logs(ctx context.Context, tail int) (string, error) {
	id, removed := s.handle()
	if removed || id == "" {
		return "", s.notFoundError(id)
	}
	return s.engine.Logs(ctx, id, tail)
}

// ContainerID returns the engine-assigned identifier, or empty before Start.
func (s *Supervisor) ContainerID() string {
	id, _ := s.handle()
	return id
}

// Stop tears the container down: graceful signal, bounded wait, forced kill
// only if the wait expired, then removal. Removal is attempted even when the
// signal or kill step errors, so engine resources never leak. Idempotent:
// stopping an already-removed handle is a no-op, and every handle access
// afterward fails with a not-found error.
func (s *Supervisor) Stop(ctx context.Context, gracePeriod time.Duration) error {
	id, removed := s.handle()
	if removed {
		return nil
	}
	if id == "" {
		s.markRemoved()
		return nil
	}

	status, err := s.engine.Inspect(ctx, id)
	switch {
	case err != nil && errors.Is(err, engine.ErrNotFound):
		s.markRemoved()
		return nil
	case err != nil:
		slog.Warn("Failed to inspect container before stop", "containerID", id, "error", err)
	case status.Running:
		s.terminate(ctx, id, gracePeriod)
	}

	if err := s.engine.Remove(ctx, id); err != nil && !errors.Is(err, engine.ErrNotFound) {
		return apperrors.NewEngineError(
			fmt.Sprintf("Removing container '%s'", id),
			"The container engine failed to remove the container",
			"Remove the container manually to reclaim engine resources",
			err,
		)
	}

	s.markRemoved()
	return nil
}

// terminate delivers SIGTERM and waits up to gracePeriod for the container to
// stop, escalating to SIGKILL only when the wait expires. Errors are logged
// and absorbed so the subsequent removal always runs.
func (s *Supervisor) terminate(ctx context.Context, id string, gracePeriod time.Duration) {
	if err := s.engine.Signal(ctx, id, engine.SignalTerm); err != nil {
		slog.Warn("Failed to deliver SIGTERM", "containerID", id, "error", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, gracePeriod)
	defer cancel()

	if _, err := s.engine.Wait(waitCtx, id); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Info("Grace period expired, forcing kill", "containerID", id, "gracePeriod", gracePeriod)
			if killErr := s.engine.Signal(ctx, id, engine.SignalKill); killErr != nil {
				slog.Warn("Failed to deliver SIGKILL", "containerID", id, "error", killErr)
			}
		} else if !errors.Is(err, engine.ErrNotFound) {
			slog.Warn("Failed to wait for container stop", "containerID", id, "error", err)
		}
	}
}

func (s *Supervisor) notFoundError(id string) error {
	if id == "" {
		id = "(not started)"
	}
	return apperrors.NewNotFoundError(
		fmt.Sprintf("Accessing container '%s'", id),
		"The container has been removed or was never started",
		"A pod handle is single-use; start a new pod instead of reusing a stopped one",
		fmt.Errorf("container %s: %w", id, engine.ErrNotFound),
	)
}
