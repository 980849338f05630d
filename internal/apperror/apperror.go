// Package apperror defines the error kinds shared by the service and HTTP layers.
//
// Each kind is a sentinel error. Constructors return an *AppError that wraps the
// sentinel, so callers classify with errors.Is and read the human-readable
// message with errors.As:
//
//	var appErr *apperror.AppError
//	if errors.As(err, &appErr) && errors.Is(err, apperror.ErrNotFound) { ... }
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRateLimited     = errors.New("rate limited")
	ErrStorage         = errors.New("storage error")
)

// AppError carries a kind, a client-safe message and, for storage failures,
// the underlying cause.
type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, never shown to clients
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// NotFound reports a missing resource (404).
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// ValidationFailed reports bad input in field (400).
func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Unauthenticated reports a missing or unverifiable caller identity (401).
// The message goes to the client as-is, so it must not describe which check failed.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// RateLimited reports that the caller exceeded its request budget (429).
func RateLimited(message string) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: message,
	}
}

// Storage wraps a persistence failure. The message is safe for clients;
// cause keeps the driver error for logs and is reachable through errors.Is.
func Storage(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorage,
		Message: message,
		Cause:   cause,
	}
}
