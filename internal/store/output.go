package store

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// OutputFile describes one published result file.
type OutputFile struct {
	// Name is the file's base name inside the output directory.
	Name string
	// Path is the full path to the file.
	Path string
	// TaskID is the owning task, or uuid.Nil for orphans whose name does not
	// carry a task identity.
	TaskID  uuid.UUID
	Size    int64
	ModTime time.Time
}

// Orphan reports whether the file name did not resolve to a task identity.
func (f OutputFile) Orphan() bool {
	return f.TaskID == uuid.Nil
}

// OutputView is the set of output operations that are safe to call while the
// structural lock is held by OutputStore.Exclusive.
type OutputView interface {
	// ListByAge returns published files ordered oldest first. Files with equal
	// modification times are ordered by name.
	ListByAge(ctx context.Context) ([]OutputFile, error)

	// Count returns the number of published files.
	Count(ctx context.Context) (int, error)

	// Remove deletes a published file by name.
	Remove(ctx context.Context, f OutputFile) error
}

// Reservation is an in-progress output. Writers fill Path() and then either
// Commit to publish it under the task's identity or Discard it.
type Reservation interface {
	Path() string
	Commit(ctx context.Context) (OutputFile, error)
	Discard() error
}

// OutputStore is the bounded directory of result files.
//
// Publishing is atomic from a reader's perspective: in-flight writes are
// never listed, counted or opened.
type OutputStore interface {
	OutputView

	// Reserve allocates a temporary location for the task's output.
	Reserve(ctx context.Context, taskID uuid.UUID) (Reservation, error)

	// Write streams r into a new output for taskID and publishes it.
	Write(ctx context.Context, taskID uuid.UUID, r io.Reader) (OutputFile, error)

	// Open returns the published output for taskID.
	// Returns ErrOutputNotFound if there is none.
	Open(ctx context.Context, taskID uuid.UUID) (*os.File, OutputFile, error)

	// Delete removes the output for taskID. Returns ErrOutputNotFound if absent.
	Delete(ctx context.Context, taskID uuid.UUID) error

	// Exclusive runs fn while holding the structural lock. Commits block until
	// fn returns. fn must only use the provided view.
	Exclusive(ctx context.Context, fn func(view OutputView) error) error
}
