package containerd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"podkit/pkg/engine"
)

const (
	// DefaultSocketPath is the conventional containerd socket location.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultNamespace isolates pod containers from other containerd clients.
	DefaultNamespace = "podkit"

	cfsPeriod = 100000
)

// Engine implements the engine.Engine interface against a containerd daemon.
// Port publishing is not supported; workloads that need to be reachable from
// the host use the host network.
type Engine struct {
	client    *containerd.Client
	namespace string
	logRoot   string
}

// New connects to the containerd daemon at socketPath and scopes all
// operations to the given namespace. Empty arguments select the defaults.
func New(socketPath, namespace string) (*Engine, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create containerd client: %w", err)
	}

	// Check if the daemon is accessible
	ctx := context.Background()
	if _, err := client.Version(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to containerd daemon: %w", err)
	}

	logRoot := filepath.Join(os.TempDir(), "podkit", "container-logs")
	if err := os.MkdirAll(logRoot, 0755); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create container log directory: %w", err)
	}

	return &Engine{
		client:    client,
		namespace: namespace,
		logRoot:   logRoot,
	}, nil
}

// Create allocates the container described by spec and returns its ID. The
// task is not created until Start.
func (e *Engine) Create(ctx context.Context, spec *engine.RunSpec) (string, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	if len(spec.Ports) > 0 {
		return "", fmt.Errorf("port publishing is not supported on the containerd engine; use the host network instead")
	}

	img, err := e.ensureImage(ctx, spec.Image, spec.PullImage)
	if err != nil {
		return "", err
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(img),
	}
	if len(spec.Env) > 0 {
		specOpts = append(specOpts, oci.WithEnv(spec.Env))
	}
	if len(spec.Entrypoint) > 0 || len(spec.Cmd) > 0 {
		specOpts = append(specOpts, oci.WithProcessArgs(append(spec.Entrypoint, spec.Cmd...)...))
	}
	if spec.User != "" {
		specOpts = append(specOpts, oci.WithUser(spec.User))
	}
	if spec.WorkingDir != "" {
		specOpts = append(specOpts, oci.WithProcessCwd(spec.WorkingDir))
	}
	if spec.Hostname != "" {
		specOpts = append(specOpts, oci.WithHostname(spec.Hostname))
	}
	if spec.Privileged {
		specOpts = append(specOpts, oci.WithPrivileged)
	}
	if spec.Memory > 0 {
		specOpts = append(specOpts, oci.WithMemoryLimit(uint64(spec.Memory)))
	}
	if spec.NanoCPUs > 0 {
		specOpts = append(specOpts, oci.WithCPUCFS(spec.NanoCPUs/10000, cfsPeriod))
	}
	if spec.Network == "host" {
		specOpts = append(specOpts,
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostHostsFile,
			oci.WithHostResolvconf,
		)
	}

	// Opaque passthrough options have no OCI spec option to attach to;
	// surface them instead of dropping them silently.
	for key, value := range spec.Extra {
		slog.Warn("Engine option has no containerd mapping", "option", key, "value", value)
	}

	id := spec.Name
	container, err := e.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(img),
		containerd.WithNewSnapshot(id+"-snapshot", img),
		containerd.WithNewSpec(specOpts...),
		containerd.WithContainerLabels(spec.Labels),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	slog.Info("Created container", "name", spec.Name, "containerID", container.ID())
	return container.ID(), nil
}

// Start creates and starts the container's task, capturing its output to a
// per-container log file.
func (e *Engine) Start(ctx context.Context, id string) error {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	container, err := e.loadContainer(ctx, id)
	if err != nil {
		return err
	}

	task, err := container.NewTask(ctx, cio.LogFile(e.logFilePath(id)))
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		if _, derr := task.Delete(ctx); derr != nil {
			slog.Error("Failed to delete task after start failure", "containerID", id, "error", derr)
		}
		return fmt.Errorf("failed to start task: %w", err)
	}

	return nil
}

// Inspect returns the daemon's current view of the container.
func (e *Engine) Inspect(ctx context.Context, id string) (engine.ContainerStatus, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	container, err := e.loadContainer(ctx, id)
	if err != nil {
		return engine.ContainerStatus{}, err
	}

	result := engine.ContainerStatus{ID: id}

	task, err := container.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			// Container exists but no task yet
			result.State = engine.StateCreated
			return result, nil
		}
		return engine.ContainerStatus{}, fmt.Errorf("failed to get task: %w", err)
	}

	status, err := task.Status(ctx)
	if err != nil {
		return engine.ContainerStatus{}, fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running, containerd.Pausing, containerd.Paused:
		result.State = engine.StateRunning
		result.Running = true
	case containerd.Created:
		result.State = engine.StateCreated
	case containerd.Stopped:
		result.State = engine.StateExited
		result.ExitCode = int(status.ExitStatus)
		result.FinishedAt = status.ExitTime
	default:
		result.State = string(status.Status)
	}

	return result, nil
}

// Signal delivers a termination signal to the container's task.
func (e *Engine) Signal(ctx context.Context, id string, signal string) error {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	task, err := e.loadTask(ctx, id)
	if err != nil {
		return err
	}

	sig, err := signalFromName(signal)
	if err != nil {
		return err
	}

	if err := task.Kill(ctx, sig); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("container %s: %w", id, engine.ErrNotFound)
		}
		return fmt.Errorf("failed to signal task with %s: %w", signal, err)
	}
	return nil
}

// Wait blocks until the container's task exits and returns its exit code. The
// context bounds the wait.
func (e *Engine) Wait(ctx context.Context, id string) (int, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	task, err := e.loadTask(ctx, id)
	if err != nil {
		return 0, err
	}

	exitCh, err := task.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case exitStatus := <-exitCh:
		code, _, err := exitStatus.Result()
		if err != nil {
			return int(code), fmt.Errorf("task wait reported: %w", err)
		}
		return int(code), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Remove deletes the container and its snapshot, killing the task first if it
// is still running.
func (e *Engine) Remove(ctx context.Context, id string) error {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	container, err := e.loadContainer(ctx, id)
	if err != nil {
		return err
	}

	task, err := container.Task(ctx, nil)
	if err == nil {
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to delete task: %w", err)
		}
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to get task: %w", err)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete container: %w", err)
	}

	if err := os.Remove(e.logFilePath(id)); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove container log file", "containerID", id, "error", err)
	}

	return nil
}

// Logs returns up to tail lines of the container's captured output.
func (e *Engine) Logs(ctx context.Context, id string, tail int) (string, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	if _, err := e.loadContainer(ctx, id); err != nil {
		return "", err
	}

	data, err := os.ReadFile(e.logFilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read container log file: %w", err)
	}

	return tailLines(string(data), tail), nil
}

// Close releases the containerd client.
func (e *Engine) Close() error {
	return e.client.Close()
}

func (e *Engine) loadContainer(ctx context.Context, id string) (containerd.Container, error) {
	container, err := e.client.LoadContainer(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", id, engine.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load container: %w", err)
	}
	return container, nil
}

func (e *Engine) loadTask(ctx context.Context, id string) (containerd.Task, error) {
	container, err := e.loadContainer(ctx, id)
	if err != nil {
		return nil, err
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container %s has no running task: %w", id, engine.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ensureImage resolves the image in the namespace, pulling it when the spec
// permits. Local-only images fail fast when absent.
func (e *Engine) ensureImage(ctx context.Context, ref string, pull bool) (containerd.Image, error) {
	img, err := e.client.GetImage(ctx, ref)
	if err == nil {
		return img, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get image %s: %w", ref, err)
	}
	if !pull {
		return nil, fmt.Errorf("local image %s is not present in containerd namespace %s", ref, e.namespace)
	}

	slog.Info("Pulling image", "image", ref)

	img, err = e.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", ref, err)
	}

	slog.Info("Successfully pulled image", "image", ref)
	return img, nil
}

func (e *Engine) logFilePath(id string) string {
	return filepath.Join(e.logRoot, id+".log")
}

func signalFromName(name string) (syscall.Signal, error) {
	switch name {
	case engine.SignalTerm:
		return syscall.SIGTERM, nil
	case engine.SignalKill:
		return syscall.SIGKILL, nil
	default:
		return 0, fmt.Errorf("unsupported signal %q", name)
	}
}

// tailLines returns the last n lines of text, or all of it when n <= 0.
func tailLines(text string, n int) string {
	if n <= 0 {
		return text
	}
	trimmed := strings.TrimRight(text, "\n")
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n") + "\n"
}
