// ABOUTME: Error taxonomy for lifecycle operations
// ABOUTME: Every rejection carries a Code that transports report as a reason

package lifecycle

import (
	"errors"

	"github.com/2389/trio-gateway/internal/store"
)

// Code is a machine-readable rejection reason.
type Code string

const (
	CodeValidation Code = "validation"
	CodeNotFound   Code = "not_found"
	CodeConflict   Code = "conflict"
	CodeForbidden  Code = "forbidden"
	CodeCapacity   Code = "capacity"
	CodeInternal   Code = "internal"
)

// Error is a classified lifecycle failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so callers can write
// errors.Is(err, lifecycle.ErrCapacity).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Code == e.Code
}

// Code-only sentinels for errors.Is.
var (
	ErrValidation = &Error{Code: CodeValidation}
	ErrNotFound   = &Error{Code: CodeNotFound}
	ErrConflict   = &Error{Code: CodeConflict}
	ErrForbidden  = &Error{Code: CodeForbidden}
	ErrCapacity   = &Error{Code: CodeCapacity}
)

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// CodeOf classifies err. Unclassified errors are internal.
func CodeOf(err error) Code {
	var le *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &le):
		return le.Code
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrDuplicate):
		return CodeConflict
	default:
		return CodeInternal
	}
}
