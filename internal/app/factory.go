package app

import (
	"fmt"

	"podkit/internal/engine/containerd"
	"podkit/internal/engine/docker"
	"podkit/pkg/engine"
)

// EngineFactory provides methods to create container engine clients based on
// string identifiers. This implements the Factory pattern to decouple the run
// orchestrator from concrete engine implementations.
type EngineFactory struct{}

// NewEngineFactory creates a new instance of EngineFactory.
func NewEngineFactory() *EngineFactory {
	return &EngineFactory{}
}

// GetEngine returns the container engine implementation matching name. An
// empty name selects Docker.
func (f *EngineFactory) GetEngine(name string) (engine.Engine, error) {
	switch name {
	case "", "docker":
		eng, err := docker.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker engine: %w", err)
		}
		return eng, nil
	case "containerd":
		eng, err := containerd.New(containerd.DefaultSocketPath, containerd.DefaultNamespace)
		if err != nil {
			return nil, fmt.Errorf("failed to create containerd engine: %w", err)
		}
		return eng, nil
	default:
		return nil, fmt.Errorf("unsupported container engine: %s", name)
	}
}
