package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and the HTTP layer.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindAuthorization Kind = "AUTHORIZATION"
	KindConflict      Kind = "CONFLICT"
	KindNotFound      Kind = "NOT_FOUND"
	KindInternal      Kind = "INTERNAL"
)

// Error is a user-facing failure with a stable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input.
func Validation(code, format string, args ...interface{}) *Error {
	return newError(KindValidation, code, format, args...)
}

// Authorization reports a principal that may not perform the operation.
func Authorization(code, format string, args ...interface{}) *Error {
	return newError(KindAuthorization, code, format, args...)
}

// Conflict reports a resource that is not in the required state.
func Conflict(code, format string, args ...interface{}) *Error {
	return newError(KindConflict, code, format, args...)
}

// NotFound reports a missing resource.
func NotFound(code, format string, args ...interface{}) *Error {
	return newError(KindNotFound, code, format, args...)
}

// Internal wraps an unexpected failure. The wrapped error is never shown to clients.
func Internal(err error, format string, args ...interface{}) *Error {
	e := newError(KindInternal, "INTERNAL", format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

// HTTPStatus maps an error kind to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the code and message safe to show to a client.
func Public(err error) (code, message string) {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Code, appErr.Message
	}
	return "INTERNAL", "internal error"
}
