package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity or request fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidMode is returned when a merge mode is not recognized.
	ErrInvalidMode = errors.New("invalid merge mode")

	// ErrInvalidStatus is returned when a task status is not recognized.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrUnsupportedFormat is returned when an input file extension is not in
	// the allow-list for its kind.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrInvalidTransition is returned when a task update would move the task
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrNotReady is returned when a task's output is requested before the task
	// has succeeded.
	ErrNotReady = errors.New("task output not ready")

	// ErrCapacityOutOfRange is returned when the output capacity is set outside
	// of its allowed bounds.
	ErrCapacityOutOfRange = errors.New("capacity out of range")
)

// ValidationError describes a rejected input field. It always unwraps to
// ErrValidation so callers can match the whole class with errors.Is.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError for the given field.
// err may be nil or a more specific sentinel such as ErrUnsupportedFormat.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap exposes both the specific cause and ErrValidation.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil || errors.Is(e.Err, ErrValidation) {
		return []error{ErrValidation}
	}
	return []error{e.Err, ErrValidation}
}

// NotReadyError is returned by download when the task has not produced output.
// Task carries the record so callers can report its status or stored error.
type NotReadyError struct {
	Task *Task
}

func (e *NotReadyError) Error() string {
	if e.Task.Status == TaskStatusFailed {
		return fmt.Sprintf("task %s failed: %s", e.Task.ID, e.Task.Error)
	}
	return fmt.Sprintf("task %s is %s", e.Task.ID, e.Task.Status)
}

func (e *NotReadyError) Unwrap() error {
	return ErrNotReady
}
