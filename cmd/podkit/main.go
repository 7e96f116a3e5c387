package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"podkit/internal/app"
	apperrors "podkit/internal/errors"
)

// version is set at build time via ldflags
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "podkit",
	Short:   "Podkit - Container-backed service pod orchestration tool",
	Version: version,
	Long: `Podkit is a CLI tool that runs service pods as supervised containers:
it starts the workload, waits until it reports ready, holds it, and guarantees
every container is removed when the run ends - on success, failure, or interrupt.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pod deployment until interrupted",
	Long: `Run executes the complete podkit workflow: parsing the pod manifest,
starting every replica, waiting for workload readiness, and holding the
deployment until SIGINT or SIGTERM - then tearing every container down.`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			fmt.Fprintln(os.Stderr, "Error: --file flag is required")
			os.Exit(1)
		}

		engineName, _ := cmd.Flags().GetString("engine")
		startupDeadline, _ := cmd.Flags().GetDuration("startup-deadline")
		stopGrace, _ := cmd.Flags().GetDuration("stop-grace")

		// An interactive interrupt cancels the context, which drives the
		// same teardown path as a normal end of run.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := app.RunOptions{
			ManifestPath:    file,
			Engine:          engineName,
			StartupDeadline: startupDeadline,
			StopGracePeriod: stopGrace,
		}
		if err := app.Run(ctx, opts); err != nil {
			apperrors.HandleError(err)
			os.Exit(1)
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a pod manifest without starting anything",
	Long: `Validate parses the pod manifest and resolves the complete replica set,
run specifications and readiness probes included, without touching a
container engine.`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			fmt.Fprintln(os.Stderr, "Error: --file flag is required")
			os.Exit(1)
		}

		if err := app.Validate(file); err != nil {
			apperrors.HandleError(err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the podkit version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("podkit version %s\n", version)
	},
}

func init() {
	runCmd.Flags().StringP("file", "f", "", "Path to the pod manifest YAML file (required)")
	runCmd.Flags().String("engine", "docker", "Container engine to use (docker or containerd)")
	runCmd.Flags().Duration("startup-deadline", 0, "Override the manifest's startup deadline")
	runCmd.Flags().Duration("stop-grace", 0, "Override the manifest's stop grace period")
	if err := runCmd.MarkFlagRequired("file"); err != nil {
		slog.Error("Failed to mark file flag as required for run command", "error", err)
	}
	rootCmd.AddCommand(runCmd)

	validateCmd.Flags().StringP("file", "f", "", "Path to the pod manifest YAML file (required)")
	if err := validateCmd.MarkFlagRequired("file"); err != nil {
		slog.Error("Failed to mark file flag as required for validate command", "error", err)
	}
	rootCmd.AddCommand(validateCmd)

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
