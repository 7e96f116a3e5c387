package pod

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	apperrors "podkit/internal/errors"
	"podkit/pkg/engine"
)

// MockEngine is a mock implementation of the engine.Engine interface
type MockEngine struct {
	*mock.Mock
}

func NewMockEngine() *MockEngine {
	return &MockEngine{Mock: &mock.Mock{}}
}

func (m *MockEngine) Create(ctx context.Context, spec *engine.RunSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) Start(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockEngine) Inspect(ctx context.Context, id string) (engine.ContainerStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(engine.ContainerStatus), args.Error(1)
}

func (m *MockEngine) Signal(ctx context.Context, id string, signal string) error {
	args := m.Called(ctx, id, signal)
	return args.Error(0)
}

func (m *MockEngine) Wait(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockEngine) Remove(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockEngine) Logs(ctx context.Context, id string, tail int) (string, error) {
	args := m.Called(ctx, id, tail)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) Close() error {
	args := m.Called()
	return args.Error(0)
}

func runningStatus(id string) engine.ContainerStatus {
	return engine.ContainerStatus{ID: id, State: engine.StateRunning, Running: true}
}

func exitedStatus(id string, code int) engine.ContainerStatus {
	return engine.ContainerStatus{ID: id, State: engine.StateExited, ExitCode: code}
}

func notFoundErr(id string) error {
	return fmt.Errorf("container %s: %w", id, engine.ErrNotFound)
}

func testRunSpec() *engine.RunSpec {
	return &engine.RunSpec{
		Name:  "search-executor-0f47ac10",
		Image: "registry.example.com/executor:1.4.2",
	}
}

func TestSupervisor_Start_ReturnsContainerID(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(nil)

	sup := NewSupervisor(mockEngine)
	id, err := sup.Start(context.Background(), testRunSpec())

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if id != "abc123" {
		t.Errorf("Expected container ID 'abc123', got %q", id)
	}
	if sup.ContainerID() != "abc123" {
		t.Errorf("Expected ContainerID() to return 'abc123', got %q", sup.ContainerID())
	}
	mockEngine.AssertExpectations(t)
}

func TestSupervisor_Start_CreateFailure(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("", errors.New("image pull denied"))

	sup := NewSupervisor(mockEngine)
	_, err := sup.Start(context.Background(), testRunSpec())

	if err == nil {
		t.Fatal("Expected error when create fails, got nil")
	}
	if !errors.Is(err, apperrors.ErrEngineFailed) {
		t.Errorf("Expected ErrEngineFailed, got: %v", err)
	}
	mockEngine.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
	mockEngine.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
}

func TestSupervisor_Start_CleansUpWhenStartFails(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(errors.New("oci runtime error"))
	mockEngine.On("Remove", mock.Anything, "abc123").Return(nil)

	sup := NewSupervisor(mockEngine)
	_, err := sup.Start(context.Background(), testRunSpec())

	if err == nil {
		t.Fatal("Expected error when start fails, got nil")
	}
	if !errors.Is(err, apperrors.ErrEngineFailed) {
		t.Errorf("Expected ErrEngineFailed, got: %v", err)
	}
	mockEngine.AssertCalled(t, "Remove", mock.Anything, "abc123")

	// The handle is dead after cleanup
	_, statusErr := sup.Status(context.Background())
	if !errors.Is(statusErr, apperrors.ErrContainerNotFound) {
		t.Errorf("Expected ErrContainerNotFound after cleanup, got: %v", statusErr)
	}
}

func TestSupervisor_Stop_GracefulSequence(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(nil)
	mockEngine.On("Inspect", mock.Anything, "abc123").Return(runningStatus("abc123"), nil)
	mockEngine.On("Signal", mock.Anything, "abc123", engine.SignalTerm).Return(nil)
	mockEngine.On("Wait", mock.Anything, "abc123").Return(0, nil)
	mockEngine.On("Remove", mock.Anything, "abc123").Return(nil)

	sup := NewSupervisor(mockEngine)
	if _, err := sup.Start(context.Background(), testRunSpec()); err != nil {
		t.Fatalf("Expected no error from start, got: %v", err)
	}

	if err := sup.Stop(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Expected no error from stop, got: %v", err)
	}

	mockEngine.AssertCalled(t, "Signal", mock.Anything, "abc123", engine.SignalTerm)
	mockEngine.AssertNotCalled(t, "Signal", mock.Anything, "abc123", engine.SignalKill)
	mockEngine.AssertCalled(t, "Remove", mock.Anything, "abc123")
}

func TestSupervisor_Stop_ForcesKillWhenGraceExpires(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(nil)
	mockEngine.On("Inspect", mock.Anything, "abc123").Return(runningStatus("abc123"), nil)
	mockEngine.On("Signal", mock.Anything, "abc123", engine.SignalTerm).Return(nil)
	// The container ignores SIGTERM and outlives the grace period
	mockEngine.On("Wait", mock.Anything, "abc123").Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(-1, context.DeadlineExceeded)
	mockEngine.On("Signal", mock.Anything, "abc123", engine.SignalKill).Return(nil)
	mockEngine.On("Remove", mock.Anything, "abc123").Return(nil)

	sup := NewSupervisor(mockEngine)
	if _, err := sup.Start(context.Background(), testRunSpec()); err != nil {
		t.Fatalf("Expected no error from start, got: %v", err)
	}

	if err := sup.Stop(context.Background(), 50*time.Millisecond); err != nil {
		t.Fatalf("Expected no error from stop, got: %v", err)
	}

	mockEngine.AssertCalled(t, "Signal", mock.Anything, "abc123", engine.SignalKill)
	mockEngine.AssertCalled(t, "Remove", mock.Anything, "abc123")
}

func TestSupervisor_Stop_RemovesDespiteSignalFailure(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(nil)
	mockEngine.On("Inspect", mock.Anything, "abc123").Return(runningStatus("abc123"), nil)
	mockEngine.On("Signal", mock.Anything, "abc123", engine.SignalTerm).Return(errors.New("signal transport broke"))
	mockEngine.On("Wait", mock.Anything, "abc123").Return(-1, errors.New("wait transport broke"))
	mockEngine.On("Remove", mock.Anything, "abc123").Return(nil)

	sup := NewSupervisor(mockEngine)
	if _, err := sup.Start(context.Background(), testRunSpec()); err != nil {
		t.Fatalf("Expected no error from start, got: %v", err)
	}

	if err := sup.Stop(context.Background(), 50*time.Millisecond); err != nil {
		t.Fatalf("Expected removal to proceed past signal failures, got: %v", err)
	}

	mockEngine.AssertCalled(t, "Remove", mock.Anything, "abc123")
	mockEngine.AssertNotCalled(t, "Signal", mock.Anything, "abc123", engine.SignalKill)
}

func TestSupervisor_Stop_SkipsSignalingWhenContainerExited(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(nil)
	mockEngine.On("Inspect", mock.Anything, "abc123").Return(exitedStatus("abc123", 0), nil)
	mockEngine.On("Remove", mock.Anything, "abc123").Return(nil)

	sup := NewSupervisor(mockEngine)
	if _, err := sup.Start(context.Background(), testRunSpec()); err != nil {
		t.Fatalf("Expected no error from start, got: %v", err)
	}

	if err := sup.Stop(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Expected no error from stop, got: %v", err)
	}

	mockEngine.AssertNotCalled(t, "Signal", mock.Anything, mock.Anything, mock.Anything)
	mockEngine.AssertNotCalled(t, "Wait", mock.Anything, mock.Anything)
	mockEngine.AssertCalled(t, "Remove", mock.Anything, "abc123")
}

func TestSupervisor_Stop_ContainerAlreadyGone(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(nil)
	mockEngine.On("Inspect", mock.Anything, "abc123").Return(engine.ContainerStatus{}, notFoundErr("abc123"))

	sup := NewSupervisor(mockEngine)
	if _, err := sup.Start(context.Background(), testRunSpec()); err != nil {
		t.Fatalf("Expected no error from start, got: %v", err)
	}

	if err := sup.Stop(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Expected vanished container to stop cleanly, got: %v", err)
	}

	mockEngine.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
}

func TestSupervisor_Stop_Idempotent(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(nil)
	mockEngine.On("Inspect", mock.Anything, "abc123").Return(runningStatus("abc123"), nil)
	mockEngine.On("Signal", mock.Anything, "abc123", engine.SignalTerm).Return(nil)
	mockEngine.On("Wait", mock.Anything, "abc123").Return(0, nil)
	mockEngine.On("Remove", mock.Anything, "abc123").Return(nil)

	sup := NewSupervisor(mockEngine)
	if _, err := sup.Start(context.Background(), testRunSpec()); err != nil {
		t.Fatalf("Expected no error from start, got: %v", err)
	}

	if err := sup.Stop(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Expected no error from first stop, got: %v", err)
	}
	if err := sup.Stop(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Expected second stop to be a no-op, got: %v", err)
	}

	mockEngine.AssertNumberOfCalls(t, "Remove", 1)
	mockEngine.AssertNumberOfCalls(t, "Inspect", 1)
}

func TestSupervisor_Stop_BeforeStart(t *testing.T) {
	mockEngine := NewMockEngine()

	sup := NewSupervisor(mockEngine)
	if err := sup.Stop(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Expected stop before start to be a no-op, got: %v", err)
	}

	_, err := sup.Status(context.Background())
	if !errors.Is(err, apperrors.ErrContainerNotFound) {
		t.Errorf("Expected ErrContainerNotFound after stop, got: %v", err)
	}
}

func TestSupervisor_Stop_RemoveFailure(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(nil)
	mockEngine.On("Inspect", mock.Anything, "abc123").Return(exitedStatus("abc123", 0), nil)
	mockEngine.On("Remove", mock.Anything, "abc123").Return(errors.New("device busy"))

	sup := NewSupervisor(mockEngine)
	if _, err := sup.Start(context.Background(), testRunSpec()); err != nil {
		t.Fatalf("Expected no error from start, got: %v", err)
	}

	err := sup.Stop(context.Background(), 5*time.Second)
	if err == nil {
		t.Fatal("Expected error when removal fails, got nil")
	}
	if !errors.Is(err, apperrors.ErrEngineFailed) {
		t.Errorf("Expected ErrEngineFailed, got: %v", err)
	}
}

func TestSupervisor_Status_MapsNotFound(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(nil)
	mockEngine.On("Inspect", mock.Anything, "abc123").Return(engine.ContainerStatus{}, notFoundErr("abc123"))

	sup := NewSupervisor(mockEngine)
	if _, err := sup.Start(context.Background(), testRunSpec()); err != nil {
		t.Fatalf("Expected no error from start, got: %v", err)
	}

	_, err := sup.Status(context.Background())
	if !errors.Is(err, apperrors.ErrContainerNotFound) {
		t.Errorf("Expected ErrContainerNotFound, got: %v", err)
	}
	if !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("Expected the engine sentinel to stay in the chain, got: %v", err)
	}
}

func TestSupervisor_Status_ReportsRunning(t *testing.T) {
	mockEngine := NewMockEngine()
	mockEngine.On("Create", mock.Anything, mock.Anything).Return("abc123", nil)
	mockEngine.On("Start", mock.Anything, "abc123").Return(nil)
	mockEngine.On("Inspect", mock.Anything, "abc123").Return(runningStatus("abc123"), nil)

	sup := NewSupervisor(mockEngine)
	if _, err := sup.Start(context.Background(), testRunSpec()); err != nil {
		t.Fatalf("Expected no error from start, got: %v", err)
	}

	status, err := sup.Status(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !status.Running {
		t.Error("Expected status to report a running container")
	}
}
