package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"podkit/pkg/engine"
)

// Engine implements the engine.Engine interface against a Docker daemon.
type Engine struct {
	client *client.Client
}

// New creates a Docker-backed engine from the environment (DOCKER_HOST et al)
// and verifies the daemon is reachable.
func New() (*Engine, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	// Check if Docker daemon is accessible
	ctx := context.Background()
	if _, err := dockerClient.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}

	return &Engine{client: dockerClient}, nil
}

// Create allocates the container described by spec and returns its ID. The
// image is pulled first when the spec allows it and the image is absent.
func (e *Engine) Create(ctx context.Context, spec *engine.RunSpec) (string, error) {
	if err := e.ensureImage(ctx, spec.Image, spec.PullImage); err != nil {
		return "", err
	}

	config := &container.Config{
		Image:      spec.Image,
		Env:        spec.Env,
		Cmd:        spec.Cmd,
		Entrypoint: spec.Entrypoint,
		User:       spec.User,
		WorkingDir: spec.WorkingDir,
		Hostname:   spec.Hostname,
		Labels:     spec.Labels,
	}

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(spec.Network),
		Privileged:  spec.Privileged,
		AutoRemove:  spec.AutoRemove,
		Resources: container.Resources{
			Memory:   spec.Memory,
			NanoCPUs: spec.NanoCPUs,
		},
	}

	if len(spec.Ports) > 0 {
		exposed, bindings, err := buildPortMaps(spec.Ports)
		if err != nil {
			return "", err
		}
		config.ExposedPorts = exposed
		hostConfig.PortBindings = bindings
	}

	// Opaque passthrough options have no field on the typed create request;
	// surface them instead of dropping them silently.
	for key, value := range spec.Extra {
		slog.Warn("Engine option has no Docker mapping", "option", key, "value", value)
	}

	resp, err := e.client.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	slog.Info("Created container", "name", spec.Name, "containerID", resp.ID)
	return resp.ID, nil
}

// Start starts a created container.
func (e *Engine) Start(ctx context.Context, id string) error {
	if err := e.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("container %s: %w", id, engine.ErrNotFound)
		}
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Inspect returns the daemon's current view of the container.
func (e *Engine) Inspect(ctx context.Context, id string) (engine.ContainerStatus, error) {
	resp, err := e.client.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return engine.ContainerStatus{}, fmt.Errorf("container %s: %w", id, engine.ErrNotFound)
		}
		return engine.ContainerStatus{}, fmt.Errorf("failed to inspect container: %w", err)
	}

	status := engine.ContainerStatus{ID: resp.ID}
	if resp.State != nil {
		status.State = resp.State.Status
		status.Running = resp.State.Running
		status.ExitCode = resp.State.ExitCode
		status.Error = resp.State.Error
		status.StartedAt = parseDockerTime(resp.State.StartedAt)
		status.FinishedAt = parseDockerTime(resp.State.FinishedAt)
	}
	return status, nil
}

// Signal delivers a termination signal to the container's init process.
func (e *Engine) Signal(ctx context.Context, id string, signal string) error {
	if err := e.client.ContainerKill(ctx, id, signal); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("container %s: %w", id, engine.ErrNotFound)
		}
		return fmt.Errorf("failed to signal container with %s: %w", signal, err)
	}
	return nil
}

// Wait blocks until the container is no longer running and returns its exit
// code. The context bounds the wait.
func (e *Engine) Wait(ctx context.Context, id string) (int, error) {
	statusCh, errCh := e.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("container wait reported: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-errCh:
		if client.IsErrNotFound(err) {
			return 0, fmt.Errorf("container %s: %w", id, engine.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to wait for container: %w", err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Remove deletes the container, killing it first if it is still running.
func (e *Engine) Remove(ctx context.Context, id string) error {
	if err := e.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("container %s: %w", id, engine.ErrNotFound)
		}
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Logs returns up to tail lines of the container's combined output.
func (e *Engine) Logs(ctx context.Context, id string, tail int) (string, error) {
	tailValue := "all"
	if tail > 0 {
		tailValue = strconv.Itoa(tail)
	}

	reader, err := e.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tailValue,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", fmt.Errorf("container %s: %w", id, engine.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get container logs: %w", err)
	}
	defer reader.Close()

	// The stream is multiplexed unless the container allocated a TTY.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return buf.String(), nil
}

// Close releases the Docker client.
func (e *Engine) Close() error {
	return e.client.Close()
}

// ensureImage checks that the image exists on the daemon, pulling it when the
// spec permits. Local-only images fail fast when absent.
func (e *Engine) ensureImage(ctx context.Context, ref string, pull bool) error {
	_, err := e.client.ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	if !pull {
		return fmt.Errorf("local image %s is not present on the Docker daemon", ref)
	}

	slog.Info("Pulling image", "image", ref)

	reader, err := e.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// Stream the pull output (but don't print it to avoid clutter)
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to stream image pull output: %w", err)
	}

	slog.Info("Successfully pulled image", "image", ref)
	return nil
}

// buildPortMaps converts the engine-neutral port bindings into the Docker
// exposed-port set and host binding map.
func buildPortMaps(ports []engine.PortBinding) (nat.PortSet, nat.PortMap, error) {
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))

	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(p.Container))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid container port %d/%s: %w", p.Container, proto, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostPort: strconv.Itoa(p.Host),
		})
	}

	return exposed, bindings, nil
}

// parseDockerTime parses the RFC3339Nano timestamps the daemon reports,
// returning the zero time for unset or malformed values.
func parseDockerTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
