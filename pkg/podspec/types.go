package podspec

import "time"

// Manifest is the root object that holds the entire configuration for a single
// pod deployment. It's populated by parsing the user's pod YAML file.
type Manifest struct {
	APIVersion string    `yaml:"apiVersion" validate:"required"`
	Kind       string    `yaml:"kind" validate:"required,eq=Pod"`
	Metadata   Metadata  `yaml:"metadata" validate:"required"`
	Spec       PodConfig `yaml:"spec" validate:"required"`
}

// Metadata carries the pod's identity. Name doubles as the deployment name
// injected into the container environment and labels.
type Metadata struct {
	Name        string            `yaml:"name" validate:"required,hostname_rfc1123"`
	Description string            `yaml:"description"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

// PodConfig is the declarative description of the workload container. It is
// immutable once handed to the run specification builder.
type PodConfig struct {
	Image           Image          `yaml:"image" validate:"required"`
	Env             []EnvVar       `yaml:"env,omitempty" validate:"omitempty,dive"`
	Ports           []PortBinding  `yaml:"ports,omitempty" validate:"omitempty,dive"`
	Network         string         `yaml:"network,omitempty" validate:"omitempty,oneof=bridge host none"`
	EngineOptions   map[string]any `yaml:"engineOptions,omitempty"`
	Probe           ProbeConfig    `yaml:"probe,omitempty"`
	StartupDeadline time.Duration  `yaml:"startupDeadline,omitempty"`
	StopGracePeriod time.Duration  `yaml:"stopGracePeriod,omitempty"`
	Replicas        int            `yaml:"replicas,omitempty" validate:"omitempty,min=1,max=64"`
}

// Image identifies the container image and where it comes from. A registry
// image is pulled when absent; a local image must already exist on the engine.
type Image struct {
	Ref    string `yaml:"ref" validate:"required"`
	Source string `yaml:"source,omitempty" validate:"omitempty,oneof=registry local"`
}

// EnvVar is a single environment override. Order matters: later entries win
// on key collision.
type EnvVar struct {
	Name  string `yaml:"name" validate:"required"`
	Value string `yaml:"value"`
}

// PortBinding maps a container port to a host port.
type PortBinding struct {
	Container int    `yaml:"container" validate:"required,min=1,max=65535"`
	Host      int    `yaml:"host" validate:"required,min=1,max=65535"`
	Protocol  string `yaml:"protocol,omitempty" validate:"omitempty,oneof=tcp udp"`
}

// ProbeConfig describes how readiness of the workload is checked once the
// container runs.
type ProbeConfig struct {
	Type string `yaml:"type,omitempty" validate:"omitempty,oneof=http tcp none"`
	Port int    `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Path string `yaml:"path,omitempty"`
}

// Image source values.
const (
	ImageSourceRegistry = "registry"
	ImageSourceLocal    = "local"
)

// Network attachment modes.
const (
	NetworkBridge = "bridge"
	NetworkHost   = "host"
	NetworkNone   = "none"
)

// Probe types.
const (
	ProbeHTTP = "http"
	ProbeTCP  = "tcp"
	ProbeNone = "none"
)

// Defaults applied by the parser when the manifest leaves a field unset.
const (
	DefaultStartupDeadline = 60 * time.Second
	DefaultStopGracePeriod = 10 * time.Second
	DefaultNetwork         = NetworkBridge
	DefaultReplicas        = 1
)
