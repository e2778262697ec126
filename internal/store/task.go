package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
)

// TaskFilter narrows List and Count. A zero Status matches every task and a
// non-positive Limit means no limit.
type TaskFilter struct {
	Status domain.TaskStatus
	Limit  int
}

// Matches reports whether t satisfies the status part of the filter.
func (f TaskFilter) Matches(t *domain.Task) bool {
	return f.Status == "" || t.Status == f.Status
}

// TaskMutator changes a task in place. Returning an error aborts the update
// and leaves the stored record untouched.
type TaskMutator func(t *domain.Task) error

// TaskStore defines the durable mapping from task identity to task record.
//
// Implementations must make Create, Update and Delete crash-consistent: a
// partially written record is never visible as valid. Update is atomic with
// respect to other updates on the same ID, and updates on different IDs do
// not contend with each other.
type TaskStore interface {
	// Create stores a new task. Returns ErrTaskExists if the ID is taken and
	// ErrInvalidEntity if the record fails domain validation.
	Create(ctx context.Context, task *domain.Task) error

	// Get retrieves a task by ID. Returns ErrTaskNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update loads the task, applies fn to a copy, validates the result and
	// persists it. Returns the stored record after the update.
	// Returns ErrTaskNotFound if absent; errors from fn (including
	// domain.ErrInvalidTransition) are returned unchanged.
	Update(ctx context.Context, id uuid.UUID, fn TaskMutator) (*domain.Task, error)

	// List returns matching tasks ordered most recent first.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// Count returns the number of tasks matching the filter's status.
	Count(ctx context.Context, filter TaskFilter) (int, error)

	// CountByStatus returns per-status totals. Every status has an entry.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// Delete removes a task. Returns ErrTaskNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error
}

// ApplyUpdate runs fn against a copy of current and validates the outcome.
// Store implementations share it so that every backend enforces the same
// transition and field rules.
func ApplyUpdate(current *domain.Task, fn TaskMutator) (*domain.Task, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.ID != current.ID {
		return nil, NewStoreError("task", "update", "task ID is immutable", ErrInvalidEntity)
	}
	if current.Terminal() && *next != *current {
		return nil, fmt.Errorf("%w: %s task is immutable", domain.ErrInvalidTransition, current.Status)
	}
	if next.Status != current.Status && !current.Status.CanTransitionTo(next.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, next.Status)
	}
	if err := next.Validate(); err != nil {
		return nil, NewStoreError("task", "update", "invalid task state", errors.Join(ErrInvalidEntity, err))
	}
	return next, nil
}

// ValidateForCreate checks that a task may be inserted as a new record.
func ValidateForCreate(task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return NewStoreError("task", "create", "invalid task", errors.Join(ErrInvalidEntity, err))
	}
	if task.Status != domain.TaskStatusPending {
		return NewStoreError("task", "create", "new tasks must be pending", ErrInvalidEntity)
	}
	return nil
}

// SortNewestFirst orders tasks by creation time descending, then by ID so the
// order is deterministic for equal timestamps.
func SortNewestFirst(tasks []*domain.Task) {
	slices.SortFunc(tasks, func(a, b *domain.Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}
