package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"podkit/internal/ui"
)

const (
	logFileName     = "podkit.log"
	logMaxSizeBytes = 10 * 1024 * 1024
	logMaxBackups   = 5
)

// ErrorHandler reports errors on two channels: a structured JSON record to
// the podkit log file, and a readable message on the console.
type ErrorHandler struct {
	logger  *slog.Logger
	console *ui.Console
}

func NewErrorHandler() (*ErrorHandler, error) {
	logFile, err := openLogFile()
	if err != nil {
		return nil, err
	}

	return &ErrorHandler{
		logger: slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})),
		console: ui.NewConsole(),
	}, nil
}

// Handle reports err. A PodKitError keeps its context/cause/suggestion
// structure in both channels; anything else is reported as-is.
func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	var perr *PodKitError
	if errors.As(err, &perr) {
		h.logStructured(perr)
		h.console.PrintError(h.console.FormatErrorMessage(perr.Context, perr.Cause, perr.Suggestion))
		return
	}

	h.logger.Error("Unhandled error occurred", "error", err.Error(), "type", "generic")
	h.console.PrintError(err.Error())
}

func (h *ErrorHandler) logStructured(err *PodKitError) {
	attrs := []slog.Attr{
		slog.String("error", err.OriginalErr.Error()),
		slog.String("type", typeName(err.Type)),
		slog.String("context", err.Context),
	}
	if err.Cause != "" {
		attrs = append(attrs, slog.String("cause", err.Cause))
	}
	if err.Suggestion != "" {
		attrs = append(attrs, slog.String("suggestion", err.Suggestion))
	}

	h.logger.LogAttrs(context.Background(), slog.LevelError, "Podkit error occurred", attrs...)
}

func typeName(errType error) string {
	switch errType {
	case ErrManifestNotFound:
		return "manifest_not_found"
	case ErrManifestParseFailed:
		return "manifest_parse_failed"
	case ErrConfigInvalid:
		return "config_invalid"
	case ErrEngineFailed:
		return "engine_failed"
	case ErrStartupFailed:
		return "startup_failed"
	case ErrContainerNotFound:
		return "container_not_found"
	case ErrPodTerminated:
		return "pod_terminated"
	default:
		return "unknown"
	}
}

// standardLogDir returns the platform's conventional log location for podkit.
// PODKIT_LOG_DIR overrides it.
func standardLogDir() (string, error) {
	if dir := os.Getenv("PODKIT_LOG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", "Podkit"), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return filepath.Join(home, ".local", "share", "podkit", "logs"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Podkit", "logs"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "Podkit", "logs"), nil
	default:
		return filepath.Join(home, ".podkit", "logs"), nil
	}
}

// openLogFile opens podkit.log in the standard log directory, rotating it
// first when it has outgrown the size limit. When the standard location is
// unusable the working directory serves as the fallback.
func openLogFile() (*os.File, error) {
	dir, err := standardLogDir()
	if err == nil {
		f, openErr := openLogIn(dir)
		if openErr == nil {
			return f, nil
		}
		err = openErr
	}
	fmt.Fprintf(os.Stderr, "Warning: cannot write logs to the standard location: %v. Falling back to the current directory.\n", err)

	wd, wdErr := os.Getwd()
	if wdErr != nil {
		return nil, fmt.Errorf("cannot determine current directory for fallback logging: %w", wdErr)
	}
	return openLogIn(wd)
}

func openLogIn(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, logFileName)
	if err := rotateIfNeeded(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to rotate log file: %v\n", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// rotateIfNeeded shifts podkit.log into numbered backups (.1 newest through
// .5 oldest) once it crosses the size limit. The oldest backup drops off.
func rotateIfNeeded(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() < logMaxSizeBytes {
		return nil
	}

	oldest := fmt.Sprintf("%s.%d", path, logMaxBackups)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return err
	}
	for i := logMaxBackups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, fmt.Sprintf("%s.%d", path, i+1)); err != nil {
			return err
		}
	}
	return os.Rename(path, path+".1")
}
