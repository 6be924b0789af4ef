package models

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by repositories
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	ErrInvalidID    = errors.New("invalid ID format")
	ErrNoActiveRace = errors.New("no active race")
)

// ErrorKind classifies an error so callers can decide between retry and abort.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
	KindUpstream   ErrorKind = "upstream"
	KindStorage    ErrorKind = "storage"
	KindInternal   ErrorKind = "internal"
)

// Error is the typed error surfaced by services.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports malformed input. It is never retried automatically.
func NewValidationError(op, message string, details ...string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message, Details: details}
}

// NewConflictError reports a write that collided with existing state.
func NewConflictError(op, message string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: message, Err: err}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(op, message string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message, Err: err}
}

// NewUpstreamError reports an unreachable or misbehaving external service.
func NewUpstreamError(op, message string, err error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Message: message, Err: err}
}

// NewStorageError reports a persistence failure.
func NewStorageError(op, message string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of err. Repository sentinels are classified too,
// anything else is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoActiveRace):
		return KindNotFound
	case errors.Is(err, ErrDuplicateKey):
		return KindConflict
	case errors.Is(err, ErrInvalidID):
		return KindValidation
	}
	return KindInternal
}

// IsConflict reports whether err is a conflict.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsUpstream reports whether err came from an external service.
func IsUpstream(err error) bool {
	return KindOf(err) == KindUpstream
}
