package client

import (
	"errors"
	"fmt"
)

// ErrValidation classifies builder errors raised before any network call.
var ErrValidation = errors.New("validation error")

// ErrNoResult is returned when a submitter reports success without a result.
var ErrNoResult = errors.New("service returned no result")

// ValidationError reports a missing or invalid builder field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// StageError reports the pipeline stage that failed. Stage is 1-based.
type StageError struct {
	Stage int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("job %d failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
