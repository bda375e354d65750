package generator

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoBackends is returned when a chain is built with nothing to call.
var ErrNoBackends = errors.New("no generator backends configured")

// TransientError is a failure the next backend in the chain may not share:
// rate limiting, unavailability, or an unknown model.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as transient.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError is a failure every backend would share, such as bad credentials
// or a malformed request. The chain stops on it.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }

func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps err as fatal.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether err is worth retrying on another backend.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether err must abort the chain.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// ParseError reports generator output that is not a well-formed plan.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse generator output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// classifyHTTPError maps a non-200 provider response onto the chain's
// retry semantics.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("generator API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode == http.StatusNotFound:
		// Unknown or retired model; another model may still serve.
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden,
		statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}
