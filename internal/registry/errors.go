package registry

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCircuitOpen indicates requests are short-circuited after repeated failures
	ErrCircuitOpen = errors.New("registry circuit breaker open")

	// ErrInvalidResponse indicates a body that could not be decoded
	ErrInvalidResponse = errors.New("invalid registry response")
)

// Error represents a failed registry call
type Error struct {
	Endpoint   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("registry error [%s]: %s (status: %d)", e.Endpoint, e.Message, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("registry error [%s]: %s: %v", e.Endpoint, e.Message, e.Cause)
	}
	return fmt.Sprintf("registry error [%s]: %s", e.Endpoint, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether the registry answered 404
func IsNotFound(err error) bool {
	var regErr *Error
	return errors.As(err, &regErr) && regErr.StatusCode == http.StatusNotFound
}
