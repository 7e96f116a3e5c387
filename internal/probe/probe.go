// Package probe builds readiness probes from a pod manifest. A probe dials
// the workload through the host side of its port mapping, so readiness means
// the workload is reachable the same way its clients will reach it.
package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	apperrors "podkit/internal/errors"
	"podkit/internal/pod"
	"podkit/pkg/podspec"
)

const (
	probeHost           = "127.0.0.1"
	probeAttemptTimeout = 2 * time.Second
)

// ForConfig resolves the manifest's probe section into a pod.Probe. A probe
// of type none, or no probe at all, yields a nil probe: the pod counts as
// ready once its container runs.
func ForConfig(m *podspec.Manifest) (pod.Probe, error) {
	cfg := m.Spec.Probe
	if cfg.Type == "" || cfg.Type == podspec.ProbeNone {
		return nil, nil
	}

	port, err := resolveHostPort(m, cfg.Port)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case podspec.ProbeHTTP:
		path := cfg.Path
		if path == "" {
			path = "/"
		}
		return HTTP(port, path), nil
	case podspec.ProbeTCP:
		return TCP(port), nil
	default:
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("Building readiness probe for pod '%s'", m.Metadata.Name),
			fmt.Sprintf("Unknown probe type '%s'", cfg.Type),
			"Supported probe types: http, tcp, none",
			fmt.Errorf("unknown probe type %q", cfg.Type),
		)
	}
}

// HTTP probes readiness with a GET against the workload. A 2xx or 3xx
// status counts as ready; redirects are not followed.
func HTTP(port int, path string) pod.Probe {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(probeHost, strconv.Itoa(port)), path)

	return func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, probeAttemptTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("building probe request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe GET %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("probe GET %s: status %d", url, resp.StatusCode)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
}

// TCP probes readiness by completing a TCP handshake against the workload.
func TCP(port int) pod.Probe {
	address := net.JoinHostPort(probeHost, strconv.Itoa(port))

	return func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, probeAttemptTimeout)
		defer cancel()

		var dialer net.Dialer
		conn, err := dialer.DialContext(attemptCtx, "tcp", address)
		if err != nil {
			return fmt.Errorf("probe dial %s: %w", address, err)
		}
		return conn.Close()
	}
}

// resolveHostPort maps the probe's container port to the address the probe
// actually dials. On the host network the workload binds host ports itself;
// on bridge the probe goes through the declared port mapping.
func resolveHostPort(m *podspec.Manifest, containerPort int) (int, error) {
	if containerPort == 0 {
		return 0, apperrors.NewConfigError(
			fmt.Sprintf("Building readiness probe for pod '%s'", m.Metadata.Name),
			"The probe has no port to dial",
			"Set spec.probe.port or declare a port binding to default from",
			fmt.Errorf("probe port is not set"),
		)
	}

	if m.Spec.Network == podspec.NetworkHost {
		return containerPort, nil
	}

	for _, binding := range m.Spec.Ports {
		if binding.Container == containerPort {
			return binding.Host, nil
		}
	}

	return 0, apperrors.NewConfigError(
		fmt.Sprintf("Building readiness probe for pod '%s'", m.Metadata.Name),
		fmt.Sprintf("Probe port %d is not bound to any host port", containerPort),
		"Declare the probe port under spec.ports so the probe can reach it",
		fmt.Errorf("probe port %d has no host binding", containerPort),
	)
}
