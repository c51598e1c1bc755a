// Package errors defines the service's error taxonomy: invalid search
// arguments surface synchronously to callers, upstream failures are recovered
// inside the refresh cycle and never reach query callers, and an empty result
// set is not an error at all.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidArgument marks malformed search parameters (page, page_size).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUpstreamUnavailable marks a failed fetch from the messages API. It
	// is reported via logs and metrics only; the previously published
	// snapshot keeps serving queries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotReady marks operations that need a published snapshot before the
	// first successful refresh has completed.
	ErrNotReady = errors.New("index not ready")
	// ErrInternal marks unexpected failures.
	ErrInternal = errors.New("internal error")
)

// AppError carries a sentinel, a human-readable message, and the HTTP status
// the error maps to at the edge.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel with a status code and message.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf is New with a format string.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps err to the HTTP status the handler should return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
