package pod

import (
	"fmt"
	"math"
	"strings"

	apperrors "podkit/internal/errors"
	"podkit/pkg/engine"
	"podkit/pkg/podspec"
)

const (
	// IdentityEnvVar is the reserved environment variable carrying the
	// deployment name into the workload. The injected value wins over any
	// caller entry for the same key; all other keys pass through verbatim.
	IdentityEnvVar = "PODKIT_DEPLOYMENT_NAME"

	// LabelDeploymentName tags every container with its deployment name for
	// discovery and cleanup.
	LabelDeploymentName = "podkit.deployment-name"

	// LabelRunID tags every container with the pod's run identifier.
	LabelRunID = "podkit.run-id"
)

// BuildRunSpec resolves a pod manifest into the exact argument set for the
// engine's create call. It is a pure function of its inputs and never mutates
// the manifest. Passthrough engine options are applied last, so they override
// anything the builder would otherwise set.
func BuildRunSpec(m *podspec.Manifest, runID string) (*engine.RunSpec, error) {
	if err := validateImageRef(m.Spec.Image.Ref); err != nil {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("Building run specification for pod '%s'", m.Metadata.Name),
			"The image reference is empty or malformed",
			"Set spec.image.ref to a valid image reference such as 'nginx:1.27'",
			err,
		)
	}

	spec := &engine.RunSpec{
		Name:      containerName(m.Metadata.Name, runID),
		Image:     m.Spec.Image.Ref,
		PullImage: m.Spec.Image.Source != podspec.ImageSourceLocal,
		Env:       resolveEnv(m.Spec.Env, m.Metadata.Name),
		Network:   m.Spec.Network,
		Labels:    buildLabels(m, runID),
	}
	if spec.Network == "" {
		spec.Network = podspec.DefaultNetwork
	}

	for _, p := range m.Spec.Ports {
		spec.Ports = append(spec.Ports, engine.PortBinding{
			Container: p.Container,
			Host:      p.Host,
			Protocol:  p.Protocol,
		})
	}

	if err := applyEngineOptions(spec, m.Spec.EngineOptions); err != nil {
		return nil, err
	}

	return spec, nil
}

// resolveEnv flattens the ordered override list into KEY=VALUE pairs. Later
// entries win on key collision, keeping the key's first position. Caller
// entries for the identity key are discarded; the injected value is appended
// last so it also wins at the engine level.
func resolveEnv(entries []podspec.EnvVar, deploymentName string) []string {
	keys := make([]string, 0, len(entries))
	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.Name == IdentityEnvVar {
			continue
		}
		if _, seen := values[entry.Name]; !seen {
			keys = append(keys, entry.Name)
		}
		values[entry.Name] = entry.Value
	}

	env := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		env = append(env, key+"="+values[key])
	}
	return append(env, IdentityEnvVar+"="+deploymentName)
}

func buildLabels(m *podspec.Manifest, runID string) map[string]string {
	labels := make(map[string]string, len(m.Metadata.Labels)+2)
	for k, v := range m.Metadata.Labels {
		labels[k] = v
	}
	labels[LabelDeploymentName] = m.Metadata.Name
	labels[LabelRunID] = runID
	return labels
}

func containerName(deploymentName, runID string) string {
	suffix := runID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	if suffix == "" {
		return deploymentName
	}
	return deploymentName + "-" + suffix
}

func validateImageRef(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("image reference is empty")
	}
	if strings.ContainsAny(ref, " \t\n") {
		return fmt.Errorf("image reference %q contains whitespace", ref)
	}
	if strings.HasSuffix(ref, ":") {
		return fmt.Errorf("image reference %q has an empty tag", ref)
	}
	return nil
}

// applyEngineOptions merges the manifest's passthrough options into the spec.
// Keys the builder models are matched case-insensitively and must carry the
// right value type. Anything else is opaque: it lands verbatim in the spec's
// Extra bag for the engine adapter, never a configuration error.
func applyEngineOptions(spec *engine.RunSpec, options map[string]any) error {
	for key, value := range options {
		var err error
		switch strings.ToLower(key) {
		case "name":
			spec.Name, err = stringOption(key, value)
		case "network":
			spec.Network, err = stringOption(key, value)
		case "user":
			spec.User, err = stringOption(key, value)
		case "workdir":
			spec.WorkingDir, err = stringOption(key, value)
		case "hostname":
			spec.Hostname, err = stringOption(key, value)
		case "entrypoint":
			spec.Entrypoint, err = stringSliceOption(key, value)
		case "cmd":
			spec.Cmd, err = stringSliceOption(key, value)
		case "privileged":
			spec.Privileged, err = boolOption(key, value)
		case "autoremove":
			spec.AutoRemove, err = boolOption(key, value)
		case "memory":
			spec.Memory, err = int64Option(key, value)
		case "cpus":
			var cpus float64
			cpus, err = float64Option(key, value)
			if err == nil {
				spec.NanoCPUs = int64(cpus * 1e9)
			}
		case "labels":
			err = mergeLabelsOption(spec, key, value)
		default:
			if spec.Extra == nil {
				spec.Extra = make(map[string]any)
			}
			spec.Extra[key] = value
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func optionError(key string, cause error) error {
	return apperrors.NewConfigError(
		fmt.Sprintf("Applying engine option '%s'", key),
		"The engine option has the wrong value type",
		"Typed options: name, network, user, workdir, hostname, entrypoint, cmd, privileged, autoremove, memory, cpus, labels",
		cause,
	)
}

func stringOption(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", optionError(key, fmt.Errorf("engine option %q expects a string, got %T", key, value))
	}
	return s, nil
}

func stringSliceOption(key string, value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, optionError(key, fmt.Errorf("engine option %q expects strings, got %T", key, item))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, optionError(key, fmt.Errorf("engine option %q expects a string or a list of strings, got %T", key, value))
	}
}

func boolOption(key string, value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, optionError(key, fmt.Errorf("engine option %q expects a boolean, got %T", key, value))
	}
	return b, nil
}

func int64Option(key string, value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, optionError(key, fmt.Errorf("engine option %q expects an integer, got %v", key, v))
		}
		return int64(v), nil
	default:
		return 0, optionError(key, fmt.Errorf("engine option %q expects an integer, got %T", key, value))
	}
}

func float64Option(key string, value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, optionError(key, fmt.Errorf("engine option %q expects a number, got %T", key, value))
	}
}

func mergeLabelsOption(spec *engine.RunSpec, key string, value any) error {
	if spec.Labels == nil {
		spec.Labels = make(map[string]string)
	}

	switch v := value.(type) {
	case map[string]string:
		for k, label := range v {
			spec.Labels[k] = label
		}
		return nil
	case map[string]any:
		for k, item := range v {
			s, ok := item.(string)
			if !ok {
				return optionError(key, fmt.Errorf("engine option %q expects string values, got %T for key %q", key, item, k))
			}
			spec.Labels[k] = s
		}
		return nil
	default:
		return optionError(key, fmt.Errorf("engine option %q expects a map of strings, got %T", key, value))
	}
}
