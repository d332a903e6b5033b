// Package domainerrors provides coded errors that carry enough intent for
// transport layers to pick a status code without inspecting message text.
// Services create or wrap errors with a code; handlers translate via
// pkg/platform/httputil.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// CodeBadRequest marks malformed or unclassifiable input (unknown event
	// shapes, undecodable payloads).
	CodeBadRequest Code = "bad_request"
	// CodeValidation marks a payload that decoded fine but is missing a
	// required field or violates a field invariant.
	CodeValidation Code = "validation_error"
	// CodeConfiguration marks missing or unusable operator-supplied
	// configuration (absent secret, empty mapping). Fatal for the run.
	CodeConfiguration Code = "configuration_error"
	// CodeNotFound marks a referenced entity that does not exist (no
	// placement rule, no controller host, source user absent).
	CodeNotFound Code = "not_found"
	// CodeConflict marks uniqueness violations surfaced by a downstream
	// system (account already exists).
	CodeConflict Code = "conflict"
	// CodeUnavailable marks a downstream collaborator failure (remote
	// execution, provider API outage).
	CodeUnavailable Code = "unavailable"
	// CodeUnauthorized marks a rejected caller credential.
	CodeUnauthorized Code = "unauthorized"
	// CodeInternal marks everything else. Its description is never exposed
	// over HTTP.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error. Description is safe to show callers for
// every code except CodeInternal.
type Error struct {
	Code        Code
	Description string
	wrapped     error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates a coded error with a caller-facing description.
func New(code Code, description string) error {
	return &Error{Code: code, Description: description}
}

// Newf creates a coded error with a formatted description.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and description to an underlying error, preserving
// the chain for errors.Is/As.
func Wrap(err error, code Code, description string) error {
	return &Error{Code: code, Description: description, wrapped: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.wrapped
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HTTPStatus maps a code to its HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
