package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// useLogDir points the handler at a per-test log directory.
func useLogDir(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "logs")
	t.Setenv("PODKIT_LOG_DIR", dir)
	return dir
}

func readLogFile(t *testing.T, dir string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(data)
}

func TestNewErrorHandler(t *testing.T) {
	useLogDir(t)

	handler, err := NewErrorHandler()
	if err != nil {
		t.Fatalf("NewErrorHandler() failed: %v", err)
	}
	if handler.logger == nil {
		t.Error("Expected the handler to carry a logger")
	}
	if handler.console == nil {
		t.Error("Expected the handler to carry a console")
	}
}

func TestHandle_PodKitError_WritesStructuredRecord(t *testing.T) {
	dir := useLogDir(t)

	handler, err := NewErrorHandler()
	if err != nil {
		t.Fatalf("NewErrorHandler() failed: %v", err)
	}

	handler.Handle(NewStartupError(
		"Starting pod 'search-executor'",
		"The workload did not become ready within 1m0s",
		"Increase spec.startupDeadline",
		errors.New("startup deadline 1m0s exceeded"),
	))

	var record map[string]any
	if err := json.Unmarshal([]byte(readLogFile(t, dir)), &record); err != nil {
		t.Fatalf("Expected a JSON log record, got: %v", err)
	}

	expectations := map[string]string{
		"error":      "startup deadline 1m0s exceeded",
		"type":       "startup_failed",
		"context":    "Starting pod 'search-executor'",
		"cause":      "The workload did not become ready within 1m0s",
		"suggestion": "Increase spec.startupDeadline",
	}
	for key, expected := range expectations {
		if record[key] != expected {
			t.Errorf("Expected record[%q] = %q, got %v", key, expected, record[key])
		}
	}
}

func TestHandle_PodKitError_OmitsEmptyFields(t *testing.T) {
	dir := useLogDir(t)

	handler, err := NewErrorHandler()
	if err != nil {
		t.Fatalf("NewErrorHandler() failed: %v", err)
	}

	handler.Handle(NewConfigError("Parsing manifest", "", "", errors.New("bad field")))

	content := readLogFile(t, dir)
	if strings.Contains(content, "cause") || strings.Contains(content, "suggestion") {
		t.Errorf("Expected empty fields to be omitted from the record, got: %s", content)
	}
}

func TestHandle_GenericError(t *testing.T) {
	dir := useLogDir(t)

	handler, err := NewErrorHandler()
	if err != nil {
		t.Fatalf("NewErrorHandler() failed: %v", err)
	}

	handler.Handle(errors.New("something unexpected"))

	content := readLogFile(t, dir)
	if !strings.Contains(content, "something unexpected") {
		t.Errorf("Expected the generic error in the log, got: %s", content)
	}
	if !strings.Contains(content, `"type":"generic"`) {
		t.Errorf("Expected the generic type marker, got: %s", content)
	}
}

func TestHandle_NilErrorIsNoOp(t *testing.T) {
	dir := useLogDir(t)

	handler, err := NewErrorHandler()
	if err != nil {
		t.Fatalf("NewErrorHandler() failed: %v", err)
	}

	handler.Handle(nil)

	if content := readLogFile(t, dir); content != "" {
		t.Errorf("Expected nothing logged for a nil error, got: %s", content)
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		errType  error
		expected string
	}{
		{ErrManifestNotFound, "manifest_not_found"},
		{ErrManifestParseFailed, "manifest_parse_failed"},
		{ErrConfigInvalid, "config_invalid"},
		{ErrEngineFailed, "engine_failed"},
		{ErrStartupFailed, "startup_failed"},
		{ErrContainerNotFound, "container_not_found"},
		{ErrPodTerminated, "pod_terminated"},
		{errors.New("other"), "unknown"},
	}

	for _, tt := range tests {
		if got := typeName(tt.errType); got != tt.expected {
			t.Errorf("typeName(%v) = %q, want %q", tt.errType, got, tt.expected)
		}
	}
}

func TestDefault_ReturnsSingleton(t *testing.T) {
	useLogDir(t)
	resetDefaultHandler()
	defer resetDefaultHandler()

	first, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	second, err := Default()
	if err != nil {
		t.Fatalf("Default() failed on second call: %v", err)
	}
	if first != second {
		t.Error("Expected Default() to return the same handler instance")
	}
}

func TestHandleError_WritesThroughDefault(t *testing.T) {
	dir := useLogDir(t)
	resetDefaultHandler()
	defer resetDefaultHandler()

	HandleError(NewEngineError("Creating container", "Engine refused", "Check the daemon", errors.New("port conflict")))

	content := readLogFile(t, dir)
	if !strings.Contains(content, "port conflict") {
		t.Errorf("Expected the error to reach the log file, got: %s", content)
	}
}

func TestStandardLogDir_EnvOverride(t *testing.T) {
	t.Setenv("PODKIT_LOG_DIR", "/custom/log/dir")

	dir, err := standardLogDir()
	if err != nil {
		t.Fatalf("standardLogDir() failed: %v", err)
	}
	if dir != "/custom/log/dir" {
		t.Errorf("Expected the override to win, got %q", dir)
	}
}

func TestStandardLogDir_PlatformLayout(t *testing.T) {
	t.Setenv("PODKIT_LOG_DIR", "")

	dir, err := standardLogDir()
	if err != nil {
		t.Fatalf("standardLogDir() failed: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("Failed to get home directory: %v", err)
	}

	var expected string
	switch runtime.GOOS {
	case "darwin":
		expected = filepath.Join(home, "Library", "Logs", "Podkit")
	case "linux", "freebsd", "openbsd", "netbsd":
		expected = filepath.Join(home, ".local", "share", "podkit", "logs")
	default:
		t.Skipf("No layout expectation for %s", runtime.GOOS)
	}
	if dir != expected {
		t.Errorf("Expected %q on %s, got %q", expected, runtime.GOOS, dir)
	}
}

func TestOpenLogIn_CreatesDirectoryAndFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	f, err := openLogIn(dir)
	if err != nil {
		t.Fatalf("openLogIn() failed: %v", err)
	}
	defer f.Close()

	if _, err := os.Stat(filepath.Join(dir, logFileName)); err != nil {
		t.Errorf("Expected the log file to exist: %v", err)
	}
}

func TestRotateIfNeeded(t *testing.T) {
	t.Run("small file is left alone", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, logFileName)
		if err := os.WriteFile(path, []byte("small"), 0600); err != nil {
			t.Fatal(err)
		}

		if err := rotateIfNeeded(path); err != nil {
			t.Fatalf("rotateIfNeeded() failed: %v", err)
		}
		if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
			t.Error("Expected no backup for a small file")
		}
	})

	t.Run("oversized file becomes backup .1", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, logFileName)
		if err := os.WriteFile(path, make([]byte, logMaxSizeBytes), 0600); err != nil {
			t.Fatal(err)
		}

		if err := rotateIfNeeded(path); err != nil {
			t.Fatalf("rotateIfNeeded() failed: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("Expected the current log to be rotated away")
		}
		if _, err := os.Stat(path + ".1"); err != nil {
			t.Errorf("Expected backup .1 to exist: %v", err)
		}
	})

	t.Run("existing backups shift and the oldest drops", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, logFileName)
		if err := os.WriteFile(path, make([]byte, logMaxSizeBytes), 0600); err != nil {
			t.Fatal(err)
		}
		for i := 1; i <= logMaxBackups; i++ {
			backup := fmt.Sprintf("%s.%d", path, i)
			if err := os.WriteFile(backup, []byte(fmt.Sprintf("backup-%d", i)), 0600); err != nil {
				t.Fatal(err)
			}
		}

		if err := rotateIfNeeded(path); err != nil {
			t.Fatalf("rotateIfNeeded() failed: %v", err)
		}

		// The previous .5 is gone, replaced by the shifted .4
		data, err := os.ReadFile(fmt.Sprintf("%s.%d", path, logMaxBackups))
		if err != nil {
			t.Fatalf("Expected backup .%d to exist: %v", logMaxBackups, err)
		}
		if string(data) != fmt.Sprintf("backup-%d", logMaxBackups-1) {
			t.Errorf("Expected backup .%d to hold the shifted .%d content, got %q",
				logMaxBackups, logMaxBackups-1, data)
		}

		// The fresh rotation landed in .1
		if info, err := os.Stat(path + ".1"); err != nil || info.Size() != logMaxSizeBytes {
			t.Errorf("Expected the oversized log in backup .1, got %v, %v", info, err)
		}
	})

	t.Run("missing file is a no-op", func(t *testing.T) {
		if err := rotateIfNeeded(filepath.Join(t.TempDir(), "absent.log")); err != nil {
			t.Errorf("rotateIfNeeded() on a missing file failed: %v", err)
		}
	})
}

func TestPodKitError_ErrorAndUnwrap(t *testing.T) {
	original := errors.New("underlying detail")
	err := NewEngineError("Creating container", "Engine refused", "Check the daemon", original)

	if err.Error() != "underlying detail" {
		t.Errorf("Expected Error() to surface the original message, got %q", err.Error())
	}
	if !errors.Is(err, original) {
		t.Error("Expected Unwrap to expose the original error")
	}
}

func TestPodKitError_MatchesSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      *PodKitError
		sentinel error
	}{
		{"manifest", NewManifestError("c", "", "", errors.New("x")), ErrManifestNotFound},
		{"parse", NewParseError("c", "", "", errors.New("x")), ErrManifestParseFailed},
		{"config", NewConfigError("c", "", "", errors.New("x")), ErrConfigInvalid},
		{"engine", NewEngineError("c", "", "", errors.New("x")), ErrEngineFailed},
		{"startup", NewStartupError("c", "", "", errors.New("x")), ErrStartupFailed},
		{"not found", NewNotFoundError("c", "", "", errors.New("x")), ErrContainerNotFound},
		{"state", NewStateError("c", "", "", errors.New("x")), ErrPodTerminated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("Expected %v to match its sentinel", tt.err)
			}
			if errors.Is(tt.err, errors.New("other")) {
				t.Error("Expected no match against unrelated errors")
			}
		})
	}
}

func TestPodKitError_WrappedChainsMatch(t *testing.T) {
	inner := NewEngineError("Creating container", "Engine refused", "", errors.New("port conflict"))
	outer := NewStartupError("Starting pod", "Startup failed", "", inner)

	if !errors.Is(outer, ErrStartupFailed) {
		t.Error("Expected the outer sentinel to match")
	}
	if !errors.Is(outer, ErrEngineFailed) {
		t.Error("Expected the inner sentinel to match through the chain")
	}
}
