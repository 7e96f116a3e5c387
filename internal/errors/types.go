package errors

import "errors"

var (
	ErrManifestNotFound    = errors.New("pod manifest file not found")
	ErrManifestParseFailed = errors.New("pod manifest parsing failed")
	ErrConfigInvalid       = errors.New("pod configuration invalid")
	ErrEngineFailed        = errors.New("container engine operation failed")
	ErrStartupFailed       = errors.New("pod failed to start")
	ErrContainerNotFound   = errors.New("container not found")
	ErrPodTerminated       = errors.New("pod already terminated")
)

type PodKitError struct {
	Type        error
	Context     string
	Cause       string
	Suggestion  string
	OriginalErr error
}

func (e *PodKitError) Error() string {
	return e.OriginalErr.Error()
}

func (e *PodKitError) Unwrap() error {
	return e.OriginalErr
}

// Is lets errors.Is match a PodKitError against its sentinel type in addition
// to the wrapped chain.
func (e *PodKitError) Is(target error) bool {
	return target == e.Type
}

func NewPodKitError(errorType error, context, cause, suggestion string, originalErr error) *PodKitError {
	return &PodKitError{
		Type:        errorType,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		OriginalErr: originalErr,
	}
}

func NewManifestError(context, cause, suggestion string, originalErr error) *PodKitError {
	return NewPodKitError(ErrManifestNotFound, context, cause, suggestion, originalErr)
}

func NewParseError(context, cause, suggestion string, originalErr error) *PodKitError {
	return NewPodKitError(ErrManifestParseFailed, context, cause, suggestion, originalErr)
}

func NewConfigError(context, cause, suggestion string, originalErr error) *PodKitError {
	return NewPodKitError(ErrConfigInvalid, context, cause, suggestion, originalErr)
}

func NewEngineError(context, cause, suggestion string, originalErr error) *PodKitError {
	return NewPodKitError(ErrEngineFailed, context, cause, suggestion, originalErr)
}

func NewStartupError(context, cause, suggestion string, originalErr error) *PodKitError {
	return NewPodKitError(ErrStartupFailed, context, cause, suggestion, originalErr)
}

func NewNotFoundError(context, cause, suggestion string, originalErr error) *PodKitError {
	return NewPodKitError(ErrContainerNotFound, context, cause, suggestion, originalErr)
}

func NewStateError(context, cause, suggestion string, originalErr error) *PodKitError {
	return NewPodKitError(ErrPodTerminated, context, cause, suggestion, originalErr)
}
