package eviction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/events"
	"github.com/phrazzld/avmerge/internal/store"
)

// Capacity bounds and default.
const (
	MinCapacity     = 1
	MaxCapacity     = 100
	DefaultCapacity = 10
)

// Result summarizes one eviction pass.
type Result struct {
	FilesBefore    int         `json:"files_before"`
	FilesAfter     int         `json:"files_after"`
	FilesDeleted   int         `json:"files_deleted"`
	Capacity       int         `json:"max_files_limit"`
	DeletedTaskIDs []uuid.UUID `json:"deleted_task_ids,omitempty"`
	Skipped        bool        `json:"skipped,omitempty"`
	StartedAt      time.Time   `json:"timestamp"`
}

type capacityRequest struct {
	Capacity int `validate:"min=1,max=100"`
}

// Policy keeps the output store at or below a configurable capacity by
// deleting the oldest outputs together with their task records.
//
// At most one pass runs at a time. Run waits for an in-flight pass; TryRun
// returns immediately with Skipped set.
type Policy struct {
	outputs  store.OutputStore
	tasks    store.TaskStore
	logger   *slog.Logger
	validate *validator.Validate

	capacity atomic.Int64
	passMu   sync.Mutex
}

// NewPolicy creates a Policy with the given initial capacity.
func NewPolicy(outputs store.OutputStore, tasks store.TaskStore, capacity int, logger *slog.Logger) (*Policy, error) {
	if outputs == nil {
		return nil, errors.New("output store cannot be nil")
	}
	if tasks == nil {
		return nil, errors.New("task store cannot be nil")
	}

	p := &Policy{
		outputs:  outputs,
		tasks:    tasks,
		logger:   logger.With(slog.String("component", "eviction")),
		validate: validator.New(),
	}
	if err := p.SetCapacity(capacity); err != nil {
		return nil, err
	}
	return p, nil
}

// Capacity returns the capacity that the next pass will enforce.
func (p *Policy) Capacity() int {
	return int(p.capacity.Load())
}

// SetCapacity changes the capacity. Values outside [MinCapacity, MaxCapacity]
// are rejected and the previous capacity stays in effect. A pass already in
// flight keeps the capacity it started with.
func (p *Policy) SetCapacity(n int) error {
	if err := p.validate.Struct(capacityRequest{Capacity: n}); err != nil {
		return domain.NewValidationError("max_files",
			fmt.Sprintf("must be between %d and %d", MinCapacity, MaxCapacity),
			domain.ErrCapacityOutOfRange)
	}

	old := p.capacity.Swap(int64(n))
	if old != 0 && old != int64(n) {
		p.logger.Info("output capacity changed", "old_limit", old, "new_limit", n)
	}
	return nil
}

// Run performs a pass, waiting for any pass already in progress.
func (p *Policy) Run(ctx context.Context) (Result, error) {
	p.passMu.Lock()
	defer p.passMu.Unlock()
	return p.pass(ctx)
}

// TryRun performs a pass unless one is already running, in which case it
// returns a Result with Skipped set.
func (p *Policy) TryRun(ctx context.Context) (Result, error) {
	if !p.passMu.TryLock() {
		p.logger.Debug("eviction pass already running, skipping")
		return Result{Skipped: true, Capacity: p.Capacity(), StartedAt: time.Now().UTC()}, nil
	}
	defer p.passMu.Unlock()
	return p.pass(ctx)
}

// HandleEvent runs a pass after each successful task.
func (p *Policy) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeTaskSucceeded {
		return nil
	}
	_, err := p.TryRun(ctx)
	return err
}

func (p *Policy) pass(ctx context.Context) (Result, error) {
	res := Result{Capacity: p.Capacity(), StartedAt: time.Now().UTC()}

	err := p.outputs.Exclusive(ctx, func(view store.OutputView) error {
		files, err := view.ListByAge(ctx)
		if err != nil {
			return err
		}

		res.FilesBefore = len(files)
		remaining := len(files)
		for _, f := range files {
			if remaining <= res.Capacity {
				break
			}
			if err := view.Remove(ctx, f); err != nil && !errors.Is(err, store.ErrOutputNotFound) {
				return fmt.Errorf("failed to remove %s: %w", f.Name, err)
			}
			remaining--
			res.FilesDeleted++

			if f.Orphan() {
				p.logger.Info("evicted orphan output", "file", f.Name)
				continue
			}
			p.deleteTaskRecord(ctx, f.TaskID)
			res.DeletedTaskIDs = append(res.DeletedTaskIDs, f.TaskID)
		}

		res.FilesAfter = remaining
		return nil
	})
	if err != nil {
		p.logger.Error("eviction pass aborted",
			"error", err,
			"files_before", res.FilesBefore,
			"files_deleted", res.FilesDeleted,
			"capacity", res.Capacity)
		res.FilesAfter = res.FilesBefore - res.FilesDeleted
		return res, err
	}

	if res.FilesDeleted > 0 {
		p.logger.Info("eviction pass completed",
			"files_before", res.FilesBefore,
			"files_after", res.FilesAfter,
			"files_deleted", res.FilesDeleted,
			"capacity", res.Capacity)
	}
	return res, nil
}

// deleteTaskRecord removes the record owning an evicted file. A missing
// record is expected for outputs whose task was already cleaned up.
func (p *Policy) deleteTaskRecord(ctx context.Context, id uuid.UUID) {
	err := p.tasks.Delete(ctx, id)
	switch {
	case err == nil:
		p.logger.Debug("deleted task record for evicted output", "task_id", id)
	case errors.Is(err, store.ErrNotFound):
		p.logger.Debug("evicted output had no task record", "task_id", id)
	default:
		p.logger.Warn("failed to delete task record for evicted output", "task_id", id, "error", err)
	}
}
