// Package deploy fans a pod manifest out into N replica pods. Replicas are
// independent single-container pods sharing one engine; there is no
// multi-container composition.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	apperrors "podkit/internal/errors"
	"podkit/internal/pod"
	"podkit/internal/probe"
	"podkit/pkg/engine"
	"podkit/pkg/podspec"
)

// maxParallelStarts bounds how many replicas start concurrently, keeping the
// engine daemon from being hammered with simultaneous creates and pulls.
const maxParallelStarts = 4

// Deployment is a single-use handle for one replicated pod rollout. Start
// brings every replica to ready or fails the rollout as a whole; Stop tears
// all replicas down.
type Deployment struct {
	eng      engine.Engine
	manifest *podspec.Manifest

	mu      sync.Mutex
	started bool
	closed  bool
	pods    []*pod.Pod
}

// New builds a deployment handle from a validated manifest. Nothing touches
// the engine until Start.
func New(eng engine.Engine, m *podspec.Manifest) *Deployment {
	return &Deployment{eng: eng, manifest: m}
}

// Name returns the deployment's manifest name.
func (d *Deployment) Name() string {
	return d.manifest.Metadata.Name
}

// Pods returns the replica handles. Populated by Start.
func (d *Deployment) Pods() []*pod.Pod {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pods
}

// Start launches every replica and blocks until all are ready. The first
// startup failure cancels the remaining starts, tears down every replica
// already started, and propagates that failure. Single-shot per deployment.
func (d *Deployment) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.closed || d.started {
		d.mu.Unlock()
		return apperrors.NewStateError(
			fmt.Sprintf("Starting deployment '%s'", d.manifest.Metadata.Name),
			"The deployment has already been started or stopped",
			"A deployment handle is single-use; create a new deployment for another rollout",
			fmt.Errorf("deployment %s already started", d.manifest.Metadata.Name),
		)
	}
	d.started = true
	d.mu.Unlock()

	replicas, err := d.buildReplicas()
	if err != nil {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	d.pods = replicas
	d.mu.Unlock()

	slog.Info("Starting deployment",
		"deployment", d.manifest.Metadata.Name,
		"replicas", len(replicas))

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(maxParallelStarts)
	for _, p := range replicas {
		p := p
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return p.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("Deployment rollout failed, tearing down started replicas",
			"deployment", d.manifest.Metadata.Name,
			"error", err)
		if stopErr := d.Stop(); stopErr != nil {
			slog.Error("Teardown after failed rollout reported an error",
				"deployment", d.manifest.Metadata.Name,
				"error", stopErr)
		}
		return err
	}

	slog.Info("Deployment is ready",
		"deployment", d.manifest.Metadata.Name,
		"replicas", len(replicas))
	return nil
}

// Stop tears down every replica and waits for each teardown to finish.
// Idempotent and safe on a deployment that never started.
func (d *Deployment) Stop() error {
	d.mu.Lock()
	d.closed = true
	pods := d.pods
	d.mu.Unlock()

	var firstErr error
	for _, p := range pods {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Validate dry-runs the replica resolution for a manifest: every replica
// manifest, run specification, and probe is built exactly as Start would
// build them, without touching a container engine.
func Validate(m *podspec.Manifest) error {
	count := m.Spec.Replicas
	if count < 1 {
		count = 1
	}

	for i := 0; i < count; i++ {
		rm, err := replicaManifest(m, i, count)
		if err != nil {
			return err
		}
		if _, err := pod.BuildRunSpec(rm, "validate"); err != nil {
			return err
		}
		if _, err := probe.ForConfig(rm); err != nil {
			return err
		}
	}
	return nil
}

// buildReplicas resolves one manifest and probe per replica before anything
// touches the engine, so a bad replica configuration fails the rollout
// without leaving containers behind.
func (d *Deployment) buildReplicas() ([]*pod.Pod, error) {
	count := d.manifest.Spec.Replicas
	if count < 1 {
		count = 1
	}

	pods := make([]*pod.Pod, 0, count)
	for i := 0; i < count; i++ {
		m, err := replicaManifest(d.manifest, i, count)
		if err != nil {
			return nil, err
		}
		prb, err := probe.ForConfig(m)
		if err != nil {
			return nil, err
		}
		pods = append(pods, pod.New(d.eng, m, pod.WithProbe(prb)))
	}
	return pods, nil
}

// replicaManifest derives the manifest for replica index. A single-replica
// deployment keeps the manifest untouched; with more replicas each gets an
// indexed name and host ports offset by its index so the mappings never
// collide on one host.
func replicaManifest(m *podspec.Manifest, index, count int) (*podspec.Manifest, error) {
	if count == 1 {
		return m, nil
	}

	replica := *m
	replica.Metadata.Name = fmt.Sprintf("%s-%d", m.Metadata.Name, index)

	if len(m.Metadata.Labels) > 0 {
		replica.Metadata.Labels = make(map[string]string, len(m.Metadata.Labels))
		for k, v := range m.Metadata.Labels {
			replica.Metadata.Labels[k] = v
		}
	}

	replica.Spec.Env = append([]podspec.EnvVar(nil), m.Spec.Env...)

	if len(m.Spec.Ports) > 0 {
		replica.Spec.Ports = make([]podspec.PortBinding, len(m.Spec.Ports))
		for i, binding := range m.Spec.Ports {
			host := binding.Host + index
			if host > 65535 {
				return nil, apperrors.NewConfigError(
					fmt.Sprintf("Building replica %d of deployment '%s'", index, m.Metadata.Name),
					fmt.Sprintf("Host port %d offset for the replica exceeds 65535", binding.Host),
					"Lower the host port or the replica count so every replica fits below 65535",
					fmt.Errorf("host port %d out of range for replica %d", host, index),
				)
			}
			binding.Host = host
			replica.Spec.Ports[i] = binding
		}
	}

	return &replica, nil
}
