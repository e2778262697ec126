package task

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/engine"
	"github.com/phrazzld/avmerge/internal/store"
)

// Progress messages written to task records by the runner.
const (
	MessageLoading     = "Loading video and audio files"
	MessageCompleted   = "Video merge completed successfully"
	MessageFailed      = "Video processing failed"
	MessageInterrupted = "Processing was interrupted"

	// ErrInterrupted is the error recorded on tasks that were processing
	// when the previous process exited.
	ErrInterrupted = "interrupted by service restart"
)

// Result is what a successful Execute produced.
type Result struct {
	// Output is the published file.
	Output store.OutputFile

	// Rollback removes the published output. The runner calls it when the
	// success transition cannot be recorded.
	Rollback func(ctx context.Context) error
}

// Task represents a unit of background work to be processed
type Task interface {
	// ID returns the task's unique identifier
	ID() uuid.UUID

	// Type returns the task type identifier
	Type() string

	// Record returns the pending record that Submit persists.
	Record() *domain.Task

	// Execute runs the task logic and publishes its output.
	Execute(ctx context.Context, progress engine.ProgressFunc) (*Result, error)

	// Cleanup releases the task's inputs once it has finished, whatever the
	// outcome.
	Cleanup()
}

// Factory builds tasks, either for a new submission or from a record that
// survived a restart.
type Factory interface {
	New(mode domain.Mode, in domain.TaskInput) (Task, error)
	FromRecord(rec *domain.Task) (Task, error)
}

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume tasks without the ability to enqueue
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming tasks
	GetChannel() <-chan Task
}

// TaskQueueWriter provides write access to the task queue
// allowing services to enqueue tasks for processing
type TaskQueueWriter interface {
	// Enqueue adds a task to the queue for processing
	// Returns an error if the queue is full or closed
	Enqueue(task Task) error

	// Close closes the task queue, preventing further task submission
	Close()
}
