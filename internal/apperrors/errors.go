// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation       = errors.New("validation error")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrProvision        = errors.New("machine provisioning failed")
	ErrReadinessTimeout = errors.New("machine readiness timed out")
	ErrForward          = errors.New("forwarding to machine failed")
	ErrInternal         = errors.New("internal error")
)

// User-visible dispatch failure messages. Provider detail stays in Cause.
const (
	MsgProvision = "failed to create machine"
	MsgReadiness = "machine failed to start in time"
	MsgForward   = "failed to process video"
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message, safe to return to callers
	Field    string // For validation errors (e.g., "input_url")
	Op       string // Operation that failed (e.g., "fly.createMachine")
	Cause    error  // Underlying error, logged but never returned to callers
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and the cause so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// Unauthorized creates an authentication error.
func Unauthorized(message string) error {
	return &Error{
		Sentinel: ErrUnauthorized,
		Message:  message,
	}
}

// Provision creates a provisioning failure.
func Provision(op string, cause error) error {
	return &Error{
		Sentinel: ErrProvision,
		Message:  MsgProvision,
		Op:       op,
		Cause:    cause,
	}
}

// ReadinessTimeout creates a readiness failure.
func ReadinessTimeout(op string, cause error) error {
	return &Error{
		Sentinel: ErrReadinessTimeout,
		Message:  MsgReadiness,
		Op:       op,
		Cause:    cause,
	}
}

// Forward creates a forwarding failure.
func Forward(op string, cause error) error {
	return &Error{
		Sentinel: ErrForward,
		Message:  MsgForward,
		Op:       op,
		Cause:    cause,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Detail returns the operation and cause of err for logging, or err itself.
func Detail(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) || appErr.Cause == nil {
		if err == nil {
			return ""
		}
		return err.Error()
	}
	if appErr.Op == "" {
		return appErr.Cause.Error()
	}
	return fmt.Sprintf("%s: %v", appErr.Op, appErr.Cause)
}
