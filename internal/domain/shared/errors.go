// Package shared contains error types and sentinels used across the domain,
// application and infrastructure layers of pagela-hub. This package has zero
// external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Reconciliation errors
	ErrCalendarResolution = errors.New("academic period could not be resolved")
	ErrUnknownClub        = errors.New("child references an unknown club")
	ErrRunLocked          = errors.New("another reconciliation run holds the lock")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "calendar", "attendance", "reconcile"
	Op      string // Operation that failed, e.g., "Resolve", "Create"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// Kind is the closed classification of a failed remote call. It is decided
// once, at the HTTP adapter boundary, and consumed by the reconciler.
type Kind int

const (
	// KindFatal is any failure that is neither a conflict, a validation
	// rejection nor transient (auth failures, undecodable bodies, ...).
	KindFatal Kind = iota

	// KindConflict means the entity already exists.
	KindConflict

	// KindValidation means the request was rejected for its content.
	KindValidation

	// KindTransient means the call may succeed if repeated later.
	KindTransient
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// RemoteError is a classified failure returned by the remote store.
type RemoteError struct {
	Kind    Kind
	Status  int    // HTTP status, 0 for transport failures
	Message string // Message extracted from the response body
	Err     error  // Underlying transport error (optional)
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	switch {
	case e.Status > 0 && e.Message != "":
		return fmt.Sprintf("remote %s (status %d): %s", e.Kind, e.Status, e.Message)
	case e.Status > 0:
		return fmt.Sprintf("remote %s (status %d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("remote %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("remote %s: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying transport error.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is maps remote kinds onto the base sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrAlreadyExists:
		return e.Kind == KindConflict
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrServiceUnavailable:
		return e.Kind == KindTransient
	case ErrExternalService:
		return true
	}
	return false
}

// KindOf returns the remote kind carried by err. Errors that did not come
// from the remote store are fatal.
func KindOf(err error) Kind {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Kind
	}
	return KindFatal
}

// IsConflict checks if the error is a duplicate-creation conflict.
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}

// IsTransient checks if the error is a transient remote failure.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}
