// Package engineerr defines the stable error taxonomy every backend and
// the memory service surface to callers (spec §7).
//
// The kinds mirror the classification gognee's ClassifyError performs by
// string-sniffing (pkg/gognee/errors.go), but here classification is a
// first-class typed field set at the point an error is created rather
// than guessed afterward from an error string.
package engineerr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind is a machine-readable error classification.
type Kind string

const (
	InvalidInput      Kind = "InvalidInput"
	NotFound          Kind = "NotFound"
	Duplicate         Kind = "Duplicate"
	BackendUnavailable Kind = "BackendUnavailable"
	Timeout           Kind = "Timeout"
	DimensionMismatch Kind = "DimensionMismatch"
	Unauthorized      Kind = "Unauthorized"
	ResourceExhausted Kind = "ResourceExhausted"
	Internal          Kind = "Internal"
)

// Error is the typed error every package in this module returns for
// conditions a caller might want to branch on.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s: %s (correlation_id=%s)", e.Kind, e.Message, e.CorrelationID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
	if kind == Internal {
		e.CorrelationID = uuid.NewString()
	}
	return e
}

// Wrap creates an *Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	e := New(kind, format, args...)
	e.Cause = cause
	return e
}

// KindOf extracts the Kind from err, defaulting to Internal for errors
// that were never classified by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

// HTTPStatus maps a Kind to the HTTP status code the coordinator surface
// uses (spec §7's "user-visible failure" table).
func HTTPStatus(k Kind) int {
	switch k {
	case InvalidInput:
		return 400
	case Unauthorized:
		return 401
	case NotFound:
		return 404
	case Timeout:
		return 504
	case BackendUnavailable:
		return 503
	case ResourceExhausted:
		return 429
	case DimensionMismatch:
		return 409
	case Internal:
		return 500
	default:
		return 500
	}
}
