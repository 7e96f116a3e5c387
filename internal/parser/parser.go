package parser

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	apperrors "podkit/internal/errors"
	"podkit/pkg/podspec"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Parse reads and validates a pod manifest YAML file, returning the parsed
// Manifest with defaults applied or an error.
func Parse(filePath string) (*podspec.Manifest, error) {
	// Check if file exists
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, manifestNotFound(filePath)
	}

	// Configure Viper
	v := viper.New()
	v.SetConfigFile(filePath)
	v.SetConfigType("yaml")

	// Read the file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, manifestNotFound(filePath)
		}
		return nil, apperrors.NewParseError(
			fmt.Sprintf("Reading pod manifest '%s'", filePath),
			"The manifest file could not be read or contains invalid YAML",
			"Verify the file is readable and the YAML syntax is well-formed",
			fmt.Errorf("failed to read pod manifest: %w", err),
		)
	}

	// Unmarshal into Manifest struct
	var m podspec.Manifest
	if err := v.Unmarshal(&m); err != nil {
		return nil, apperrors.NewParseError(
			fmt.Sprintf("Parsing pod manifest '%s'", filePath),
			"The manifest structure does not match the pod schema",
			"Compare the manifest fields against the documented pod manifest schema",
			fmt.Errorf("failed to parse pod manifest - malformed YAML: %w", err),
		)
	}

	applyDefaults(&m)

	// Validate the structure
	if err := validate.Struct(&m); err != nil {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("Validating pod manifest '%s'", filePath),
			"One or more manifest fields failed validation",
			"Fix the reported fields and run 'podkit validate' to re-check",
			formatValidationError(err),
		)
	}

	if err := validateProbe(&m.Spec); err != nil {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("Validating pod manifest '%s'", filePath),
			"The probe configuration is inconsistent with the declared ports",
			"Declare a matching containerPort or set spec.probe.port explicitly",
			err,
		)
	}

	return &m, nil
}

func manifestNotFound(filePath string) error {
	return apperrors.NewManifestError(
		fmt.Sprintf("Loading pod manifest '%s'", filePath),
		"The manifest file does not exist at the given path",
		"Check the path passed via --file and the working directory",
		fmt.Errorf("pod manifest not found: %s", filePath),
	)
}

// applyDefaults fills the optional manifest fields the same way for every
// caller, so downstream code never sees a zero value where a default exists.
func applyDefaults(m *podspec.Manifest) {
	spec := &m.Spec

	if spec.Image.Source == "" {
		spec.Image.Source = podspec.ImageSourceRegistry
	}
	if spec.Network == "" {
		spec.Network = podspec.DefaultNetwork
	}
	if spec.StartupDeadline == 0 {
		spec.StartupDeadline = podspec.DefaultStartupDeadline
	}
	if spec.StopGracePeriod == 0 {
		spec.StopGracePeriod = podspec.DefaultStopGracePeriod
	}
	if spec.Replicas == 0 {
		spec.Replicas = podspec.DefaultReplicas
	}
	if spec.Probe.Type == "" {
		spec.Probe.Type = podspec.ProbeNone
	}

	for i := range spec.Ports {
		if spec.Ports[i].Protocol == "" {
			spec.Ports[i].Protocol = "tcp"
		}
	}

	switch spec.Probe.Type {
	case podspec.ProbeHTTP:
		if spec.Probe.Path == "" {
			spec.Probe.Path = "/"
		}
		fallthrough
	case podspec.ProbeTCP:
		if spec.Probe.Port == 0 && len(spec.Ports) > 0 {
			spec.Probe.Port = spec.Ports[0].Container
		}
	}
}

// validateProbe enforces the cross-field rules the struct tags cannot express:
// an http or tcp probe needs a container port that is actually reachable.
func validateProbe(spec *podspec.PodConfig) error {
	if spec.Probe.Type == podspec.ProbeNone {
		return nil
	}

	if spec.Probe.Port == 0 {
		return fmt.Errorf("validation error: probe type '%s' requires a port, and no port bindings are declared to default from", spec.Probe.Type)
	}

	// On the bridge network the probe dials the mapped host port, so the
	// probe port must correspond to a declared binding.
	if spec.Network == podspec.NetworkBridge {
		for _, p := range spec.Ports {
			if p.Container == spec.Probe.Port {
				return nil
			}
		}
		return fmt.Errorf("validation error: probe port %d does not match any declared container port binding", spec.Probe.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errorMessages []string
		for _, e := range validationErrors {
			errorMessages = append(errorMessages, formatFieldError(e))
		}

		if len(errorMessages) == 1 {
			return fmt.Errorf("validation error: %s", errorMessages[0])
		}

		result := "validation errors:\n"
		for _, msg := range errorMessages {
			result += fmt.Sprintf("  - %s\n", msg)
		}
		return fmt.Errorf("%s", result)
	}
	return fmt.Errorf("validation failed: %w", err)
}

// formatFieldError formats a single validation error into a user-friendly message.
func formatFieldError(e validator.FieldError) string {
	field := e.Field()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("field '%s' is required but missing", field)
	case "eq":
		return fmt.Sprintf("field '%s' must be '%s'", field, e.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, e.Param())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", field, e.Param())
	case "hostname_rfc1123":
		return fmt.Sprintf("field '%s' must be a valid DNS-style name", field)
	default:
		return fmt.Sprintf("field '%s' failed validation (%s)", field, tag)
	}
}
