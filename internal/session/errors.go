package session

import "errors"

// Errors returned by Session. They are wrapped with the engine's own error,
// so callers should test with errors.Is.
var (
	ErrLoad         = errors.New("model load failed")
	ErrContext      = errors.New("context creation failed")
	ErrTokenization = errors.New("tokenization failed")
	ErrEvaluation   = errors.New("prompt evaluation failed")
	ErrDecode       = errors.New("decode failed")
	ErrSample       = errors.New("sampling failed")
	ErrNoModel      = errors.New("no model loaded")
	ErrBusy         = errors.New("generation already in progress")
)

// GenerationError reports a failure after tokens were produced. Partial holds
// what was generated up to that point, already cleaned.
type GenerationError struct {
	Err     error
	Partial Result
}

func (e *GenerationError) Error() string { return e.Err.Error() }

func (e *GenerationError) Unwrap() error { return e.Err }
