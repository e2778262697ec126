package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/engine"
	"github.com/phrazzld/avmerge/internal/store"
)

// Common errors
var (
	ErrNilEngine      = errors.New("engine cannot be nil")
	ErrNilOutputStore = errors.New("output store cannot be nil")
	ErrNilLogger      = errors.New("logger cannot be nil")
	ErrNilRecord      = errors.New("task record cannot be nil")
)

// MergeTask combines a video and an audio file into a published output.
type MergeTask struct {
	record  *domain.Task
	engine  engine.Engine
	outputs store.OutputStore
	logger  *slog.Logger
}

var _ Task = (*MergeTask)(nil)

// NewMergeTask wraps rec, which must carry both input paths.
func NewMergeTask(rec *domain.Task, eng engine.Engine, outputs store.OutputStore, logger *slog.Logger) (*MergeTask, error) {
	if rec == nil {
		return nil, ErrNilRecord
	}
	if eng == nil {
		return nil, ErrNilEngine
	}
	if outputs == nil {
		return nil, ErrNilOutputStore
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if rec.VideoPath == "" || rec.AudioPath == "" {
		return nil, domain.ErrMissingInputPaths
	}

	return &MergeTask{
		record:  rec.Clone(),
		engine:  eng,
		outputs: outputs,
		logger:  logger.With("task_id", rec.ID, "mode", rec.Mode),
	}, nil
}

// ID returns the task's unique identifier
func (t *MergeTask) ID() uuid.UUID {
	return t.record.ID
}

// Type returns the merge mode.
func (t *MergeTask) Type() string {
	return string(t.record.Mode)
}

// Record returns a copy of the task's record.
func (t *MergeTask) Record() *domain.Task {
	return t.record.Clone()
}

// Execute reserves an output, runs the engine into it and publishes it. The
// reservation is discarded on any failure.
func (t *MergeTask) Execute(ctx context.Context, progress engine.ProgressFunc) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("task cancelled by context: %w", err)
	}

	res, err := t.outputs.Reserve(ctx, t.record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve output: %w", err)
	}

	err = t.engine.Merge(ctx, engine.Request{
		VideoPath:  t.record.VideoPath,
		AudioPath:  t.record.AudioPath,
		OutputPath: res.Path(),
		Mode:       t.record.Mode,
		Progress:   progress,
	})
	if err != nil {
		t.discard(res)
		return nil, err
	}

	out, err := res.Commit(ctx)
	if err != nil {
		t.discard(res)
		return nil, fmt.Errorf("failed to publish output: %w", err)
	}
	t.logger.Info("output published", "file", out.Name, "file_size", out.Size)

	id := t.record.ID
	return &Result{
		Output: out,
		Rollback: func(ctx context.Context) error {
			return t.outputs.Delete(ctx, id)
		},
	}, nil
}

func (t *MergeTask) discard(res store.Reservation) {
	if err := res.Discard(); err != nil {
		t.logger.Warn("failed to discard partial output", "error", err)
	}
}

// Cleanup removes the uploaded inputs.
func (t *MergeTask) Cleanup() {
	for _, p := range []string{t.record.VideoPath, t.record.AudioPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.logger.Warn("failed to remove temp input", "error", err)
		}
	}
}

// MergeTaskFactory creates MergeTask instances
type MergeTaskFactory struct {
	engine  engine.Engine
	outputs store.OutputStore
	logger  *slog.Logger
}

var _ Factory = (*MergeTaskFactory)(nil)

// NewMergeTaskFactory creates a new factory for MergeTasks
func NewMergeTaskFactory(eng engine.Engine, outputs store.OutputStore, logger *slog.Logger) *MergeTaskFactory {
	return &MergeTaskFactory{
		engine:  eng,
		outputs: outputs,
		logger:  logger.With("component", "merge_task_factory"),
	}
}

// New creates a pending MergeTask for a fresh submission.
func (f *MergeTaskFactory) New(mode domain.Mode, in domain.TaskInput) (Task, error) {
	rec, err := domain.NewTask(mode, in)
	if err != nil {
		return nil, err
	}
	return NewMergeTask(rec, f.engine, f.outputs, f.logger)
}

// FromRecord rebuilds a MergeTask from a stored record.
func (f *MergeTaskFactory) FromRecord(rec *domain.Task) (Task, error) {
	return NewMergeTask(rec, f.engine, f.outputs, f.logger)
}
