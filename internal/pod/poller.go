package pod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "podkit/internal/errors"
	"podkit/pkg/engine"
)

// Probe reports whether the workload inside the container accepts requests.
// A nil error means ready. Implementations must respect the context.
type Probe func(ctx context.Context) error

// OutcomeKind classifies how a startup attempt resolved.
type OutcomeKind int

const (
	OutcomeUnresolved OutcomeKind = iota
	OutcomeReady
	OutcomeTimeout
	OutcomeEarlyExit
)

// Outcome is produced once per pod lifetime by the readiness poller and
// consumed exactly once by the lifecycle worker. ExitCode is meaningful only
// for OutcomeEarlyExit; -1 means the container vanished without reporting one.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeReady:
		return "ready"
	case OutcomeTimeout:
		return "startup-timeout"
	case OutcomeEarlyExit:
		return fmt.Sprintf("early-exit(%d)", o.ExitCode)
	default:
		return "unresolved"
	}
}

// statusFunc is the supervisor's point-in-time container status read,
// injected so the poll loop is testable without an engine.
type statusFunc func(ctx context.Context) (engine.ContainerStatus, error)

const defaultPollInterval = 100 * time.Millisecond

// Poller watches two independent signals, container status and workload
// health, until one of them settles the startup attempt.
type Poller struct {
	status   statusFunc
	probe    Probe
	interval time.Duration
}

// NewPoller creates a poller reading container status through status and
// workload health through probe. A nil probe treats a running container as
// ready.
func NewPoller(status statusFunc, probe Probe) *Poller {
	return &Poller{
		status:   status,
		probe:    probe,
		interval: defaultPollInterval,
	}
}

// AwaitReady polls until the workload is ready, the container exits early, or
// the deadline elapses. The deadline is absolute: no attempt runs past it.
// A context cancellation abandons the poll immediately and is reported as the
// context's error; everything else resolves to an Outcome.
func (p *Poller) AwaitReady(ctx context.Context, deadline time.Duration) (Outcome, error) {
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		obs := p.observe(pollCtx)
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		if outcome, resolved := resolve(obs, pollCtx.Err() != nil); resolved {
			return outcome, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-pollCtx.Done():
			// Deadline expired. Take one final observation so a ready or
			// exited container observed at the boundary still wins over
			// the timeout.
			finalCtx, finalCancel := context.WithTimeout(ctx, p.interval)
			obs = p.observe(finalCtx)
			finalCancel()
			if err := ctx.Err(); err != nil {
				return Outcome{}, err
			}
			outcome, _ := resolve(obs, true)
			return outcome, nil
		case <-ticker.C:
		}
	}
}

// observation is one joint reading of the two startup signals.
type observation struct {
	exited   bool
	exitCode int
	ready    bool
}

func (p *Poller) observe(ctx context.Context) observation {
	var obs observation

	status, err := p.status(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrContainerNotFound) || errors.Is(err, engine.ErrNotFound) {
			// The container vanished out from under us; no exit code to report.
			obs.exited = true
			obs.exitCode = -1
			return obs
		}
		if ctx.Err() == nil {
			slog.Warn("Transient status failure during readiness poll", "error", err)
		}
		return obs
	}

	if status.Exited() {
		obs.exited = true
		obs.exitCode = status.ExitCode
		return obs
	}

	if status.Running {
		if p.probe == nil {
			obs.ready = true
		} else if err := p.probe(ctx); err == nil {
			obs.ready = true
		}
	}

	return obs
}

// resolve merges one observation with the deadline state. The precedence is
// fixed: ready wins over early exit, early exit wins over timeout. Resolved
// reports whether the startup attempt has settled.
func resolve(obs observation, deadlineExceeded bool) (Outcome, bool) {
	switch {
	case obs.ready:
		return Outcome{Kind: OutcomeReady}, true
	case obs.exited:
		return Outcome{Kind: OutcomeEarlyExit, ExitCode: obs.exitCode}, true
	case deadlineExceeded:
		return Outcome{Kind: OutcomeTimeout}, true
	default:
		return Outcome{}, false
	}
}
