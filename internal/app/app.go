package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"podkit/internal/deploy"
	apperrors "podkit/internal/errors"
	"podkit/internal/parser"
	"podkit/pkg/engine"
	"podkit/pkg/podspec"
)

const (
	// Color codes for console output
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorWhite  = "\033[37m"
)

// RunOptions carries the CLI inputs for the run workflow. Zero-valued
// durations leave the manifest's own timing untouched.
type RunOptions struct {
	ManifestPath    string
	Engine          string
	StartupDeadline time.Duration
	StopGracePeriod time.Duration
}

// Run orchestrates the complete podkit run workflow: parse the manifest,
// connect to the container engine, roll the deployment out, hold it until the
// context is canceled, and tear everything down. This function implements the
// Facade pattern over all internal components.
func Run(ctx context.Context, opts RunOptions) error {
	slog.Info("Starting podkit run workflow", "manifestPath", opts.ManifestPath, "engine", opts.Engine)

	// Parse the pod manifest (needed for all stages)
	m, err := parser.Parse(opts.ManifestPath)
	if err != nil {
		return fmt.Errorf("manifest parsing failed: %w", err)
	}
	applyOverrides(m, opts)
	slog.Info("Manifest parsed successfully", "name", m.Metadata.Name, "kind", m.Kind, "replicas", m.Spec.Replicas)

	engineName := opts.Engine
	if engineName == "" {
		engineName = "docker"
	}
	if err := checkEngineSupport(engineName, m); err != nil {
		return fmt.Errorf("manifest validation failed: %w", err)
	}

	// Stage 1: Container engine connection
	fmt.Printf("%s🔌 Stage 1: Connecting to %s engine%s\n", ColorCyan, engineName, ColorReset)
	eng, err := NewEngineFactory().GetEngine(engineName)
	if err != nil {
		return fmt.Errorf("engine initialization failed: %w", err)
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			slog.Warn("Failed to close engine client", "error", cerr)
		}
	}()
	fmt.Printf("%s✅ Engine connection established%s\n", ColorGreen, ColorReset)
	fmt.Println()

	return runDeployment(ctx, eng, m)
}

// runDeployment executes stages 2 and 3 of the run workflow against an
// already connected engine: roll the deployment out, hold it until ctx is
// canceled, then stop it. A cancellation that lands during startup is a
// clean shutdown, not a failure; the rollout tears its replicas down before
// returning and the run ends quietly.
func runDeployment(ctx context.Context, eng engine.Engine, m *podspec.Manifest) error {
	d := deploy.New(eng, m)
	replicas := m.Spec.Replicas
	if replicas < 1 {
		replicas = 1
	}

	// Stage 2: Deployment rollout
	fmt.Printf("%s🚀 Stage 2: Starting deployment '%s' with %d replicas%s\n", ColorCyan, d.Name(), replicas, ColorReset)
	if err := d.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Printf("%s🛑 Startup interrupted - all containers have been cleaned up%s\n", ColorYellow, ColorReset)
			slog.Info("Run workflow interrupted during startup", "deployment", d.Name())
			return nil
		}
		return fmt.Errorf("deployment rollout failed: %w", err)
	}

	for _, p := range d.Pods() {
		fmt.Printf("%s✅ Pod '%s' is ready (container %s)%s\n", ColorGreen, p.Name(), shortID(p.ContainerID()), ColorReset)
	}
	fmt.Println()
	fmt.Printf("%s📦 Deployment '%s' is running. Press Ctrl+C to stop.%s\n", ColorWhite, d.Name(), ColorReset)
	slog.Info("Deployment is holding", "deployment", d.Name(), "replicas", replicas)

	<-ctx.Done()

	// Stage 3: Teardown
	fmt.Println()
	fmt.Printf("%s🛑 Stage 3: Stopping deployment '%s'%s\n", ColorCyan, d.Name(), ColorReset)
	if err := d.Stop(); err != nil {
		return fmt.Errorf("deployment teardown failed: %w", err)
	}

	fmt.Printf("%s🎉 PODKIT RUN COMPLETED - all containers removed%s\n", ColorGreen, ColorReset)
	slog.Info("Run workflow completed successfully", "deployment", d.Name())
	return nil
}

// Validate parses a pod manifest and dry-runs the full replica resolution,
// run specification and probe construction included, without touching a
// container engine.
func Validate(manifestPath string) error {
	slog.Info("Starting podkit validate workflow", "manifestPath", manifestPath)

	m, err := parser.Parse(manifestPath)
	if err != nil {
		return fmt.Errorf("manifest parsing failed: %w", err)
	}
	fmt.Printf("%s✅ Manifest parsed: %s%s\n", ColorGreen, m.Metadata.Name, ColorReset)

	if err := deploy.Validate(m); err != nil {
		return fmt.Errorf("manifest validation failed: %w", err)
	}

	replicas := m.Spec.Replicas
	if replicas < 1 {
		replicas = 1
	}
	fmt.Printf("%s✅ Run specification resolves for %d replicas%s\n", ColorGreen, replicas, ColorReset)
	fmt.Printf("%s🎉 Manifest '%s' is valid%s\n", ColorGreen, m.Metadata.Name, ColorReset)
	slog.Info("Validate workflow completed successfully", "name", m.Metadata.Name)
	return nil
}

// applyOverrides lets CLI flags tighten or relax the manifest's timing
// without editing the file.
func applyOverrides(m *podspec.Manifest, opts RunOptions) {
	if opts.StartupDeadline > 0 {
		m.Spec.StartupDeadline = opts.StartupDeadline
	}
	if opts.StopGracePeriod > 0 {
		m.Spec.StopGracePeriod = opts.StopGracePeriod
	}
}

// checkEngineSupport rejects manifest features the selected engine cannot
// honor, before anything connects to it.
func checkEngineSupport(engineName string, m *podspec.Manifest) error {
	if engineName == "containerd" && len(m.Spec.Ports) > 0 {
		return apperrors.NewConfigError(
			fmt.Sprintf("Preparing deployment '%s' for the containerd engine", m.Metadata.Name),
			"The containerd engine has no port publishing layer, so spec.ports cannot be honored",
			"Remove spec.ports and set 'network: host' so containers bind host ports directly, or switch to the docker engine",
			fmt.Errorf("port bindings are not supported on the containerd engine"),
		)
	}
	return nil
}

// shortID trims a container ID to the familiar 12 character form.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
