package manager

import (
	"errors"

	"github.com/mx37/grapheneos-ai/internal/llm"
	"github.com/mx37/grapheneos-ai/internal/session"
)

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string {
	if e.modelID == "" {
		return "too busy"
	}
	return "too busy: " + e.modelID
}

// ErrTooBusy constructs a tooBusyError for modelID.
func ErrTooBusy(modelID string) error { return tooBusyError{modelID: modelID} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// modelNotFoundError is returned when a requested model id is not present in the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// noModelError means an operation needs a loaded model and none is loaded
// and no default is configured.
type noModelError struct{}

func (noModelError) Error() string { return "no model loaded" }

// ErrNoModel constructs a noModelError.
func ErrNoModel() error { return noModelError{} }

// IsNoModel reports whether err means no model is loaded (return 409).
func IsNoModel(err error) bool {
	var e noModelError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing external dependency (e.g., llama.cpp)
// so the HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// invalidRequestError wraps a failure caused by the request itself, such as
// a prompt that does not fit the context window.
type invalidRequestError struct{ err error }

func (e invalidRequestError) Error() string   { return e.err.Error() }
func (e invalidRequestError) Unwrap() error   { return e.err }
func (e invalidRequestError) StatusCode() int { return 400 }

// IsInvalidRequest reports whether err was caused by bad request input.
func IsInvalidRequest(err error) bool {
	var e invalidRequestError
	return errors.As(err, &e)
}

// classify maps session and engine errors onto the manager's error kinds.
// Unknown errors pass through unchanged.
func classify(err error, modelID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, llm.ErrUnavailable):
		return ErrDependencyUnavailable(err.Error())
	case errors.Is(err, session.ErrNoModel):
		return noModelError{}
	case errors.Is(err, session.ErrBusy):
		return tooBusyError{modelID: modelID}
	case errors.Is(err, session.ErrTokenization):
		return invalidRequestError{err: err}
	}
	return err
}
