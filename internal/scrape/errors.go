package scrape

import (
	"errors"
	"fmt"
)

// Item-level failures. They are reported per item and never abort a run.
var (
	ErrContentUnavailable = errors.New("content unavailable")
	ErrDecoding           = errors.New("decoding error")
	ErrEval               = errors.New("eval error")
	ErrEvalType           = errors.New("eval type error")
	ErrEvalValueMissing   = errors.New("eval value missing")
)

// Startup failures. They abort before any item is read.
var (
	ErrDefinitionNotFound      = errors.New("definition not found")
	ErrDefinitionInvalidFormat = errors.New("unknown definition format")
	ErrDefinitionInvalid       = errors.New("invalid definition")
	ErrStrainTooComplex        = errors.New("strain selector too complex")
	ErrNotTabular              = errors.New("definition does not yield tabular data")
	ErrInputDirNotFound        = errors.New("input directory not found")
)

// Run-level failures.
var (
	ErrSchemaMismatch = errors.New("record does not match output schema")
	ErrWorkerCrashed  = errors.New("worker crashed")
	ErrInterrupted    = errors.New("interrupted")
)

// ItemError attaches the failing item to an item-level error kind.
type ItemError struct {
	Kind error
	Path string
	Err  error
}

// NewItemError wraps err under one of the item-level kinds.
func NewItemError(kind error, path string, err error) *ItemError {
	return &ItemError{Kind: kind, Path: path, Err: err}
}

func (e *ItemError) Error() string {
	msg := e.Kind.Error()
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ItemError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Slug returns the short name used for an error in reports and metrics.
func Slug(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrContentUnavailable):
		return "file-not-found"
	case errors.Is(err, ErrDecoding):
		return "decoding-error"
	case errors.Is(err, ErrEvalValueMissing):
		return "eval-value-missing"
	case errors.Is(err, ErrEvalType):
		return "eval-type-error"
	case errors.Is(err, ErrEval):
		return "eval-error"
	default:
		return "unknown-error"
	}
}
