package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/store"
	"github.com/phrazzld/avmerge/internal/task"
)

// Service-level sentinels. The API layer maps them to status codes.
var (
	// ErrTaskNotFound indicates that no task exists with the requested ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrOutputGone indicates that a successful task's output was evicted.
	ErrOutputGone = errors.New("output file no longer available")

	// ErrBusy indicates that the task queue cannot accept more work.
	ErrBusy = errors.New("server is busy, try again later")
)

// MergeServiceError wraps unexpected failures with the operation that hit
// them.
type MergeServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "download")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for MergeServiceError.
func (e *MergeServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("merge service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *MergeServiceError) Unwrap() error {
	return e.Err
}

// NewMergeServiceError maps known conditions onto service sentinels and wraps
// everything else. Validation and not-ready errors pass through unchanged so
// their details stay reachable.
func NewMergeServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	var notReady *domain.NotReadyError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.As(err, &notReady):
		return err
	case errors.Is(err, store.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, store.ErrOutputNotFound):
		return ErrOutputGone
	case errors.Is(err, task.ErrQueueFull), errors.Is(err, task.ErrQueueClosed):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}

	return &MergeServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
