package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/engine"
	"github.com/phrazzld/avmerge/internal/events"
	"github.com/phrazzld/avmerge/internal/redact"
	"github.com/phrazzld/avmerge/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// EngineTimeout bounds a single Execute call
	EngineTimeout time.Duration
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:   2,
		QueueSize:     100,
		EngineTimeout: 30 * time.Minute,
	}
}

// TaskRunner persists submitted tasks, feeds them to a worker pool and drives
// each record from pending to a terminal status.
type TaskRunner struct {
	store   store.TaskStore
	outputs store.OutputStore
	factory Factory
	emitter events.EventEmitter
	queue   *TaskQueue
	pool    *WorkerPool
	config  TaskRunnerConfig
	logger  *slog.Logger
	metrics *runnerMetrics
	tracer  trace.Tracer

	recoverCtx    context.Context
	recoverCancel context.CancelFunc
	recoverWG     sync.WaitGroup
	stopOnce      sync.Once
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(
	taskStore store.TaskStore,
	outputs store.OutputStore,
	factory Factory,
	emitter events.EventEmitter,
	config TaskRunnerConfig,
	logger *slog.Logger,
) (*TaskRunner, error) {
	if taskStore == nil {
		return nil, errors.New("task store cannot be nil")
	}
	if outputs == nil {
		return nil, errors.New("output store cannot be nil")
	}
	if factory == nil {
		return nil, errors.New("task factory cannot be nil")
	}
	if emitter == nil {
		return nil, errors.New("event emitter cannot be nil")
	}

	defaults := DefaultTaskRunnerConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.EngineTimeout <= 0 {
		config.EngineTimeout = defaults.EngineTimeout
	}

	metrics, err := newRunnerMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create task metrics: %w", err)
	}

	logger = logger.With("component", "task_runner")
	r := &TaskRunner{
		store:   taskStore,
		outputs: outputs,
		factory: factory,
		emitter: emitter,
		queue:   NewTaskQueue(config.QueueSize, logger),
		config:  config,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer(instrumentationName),
	}
	r.recoverCtx, r.recoverCancel = context.WithCancel(context.Background())
	r.pool = NewWorkerPool(r.queue, WorkerPoolConfig{WorkerCount: config.WorkerCount}, r.process, logger)
	r.pool.SetErrorHandler(r.handleWorkerError)
	return r, nil
}

// Submit records the task as pending and queues it. It never waits for
// processing. When the queue is full the record is removed again and an
// error wrapping ErrQueueFull is returned.
func (r *TaskRunner) Submit(ctx context.Context, task Task) error {
	rec := task.Record()
	log := r.logger.With("task_id", task.ID(), "mode", task.Type())

	if err := r.store.Create(ctx, rec); err != nil {
		task.Cleanup()
		return fmt.Errorf("failed to save task: %w", err)
	}

	if err := r.queue.Enqueue(task); err != nil {
		r.metrics.recordRejected(ctx, task.Type())
		if delErr := r.store.Delete(context.WithoutCancel(ctx), task.ID()); delErr != nil {
			log.Error("failed to remove rejected task record", "error", delErr)
		}
		task.Cleanup()
		log.Warn("task rejected", "error", err)
		return err
	}

	r.metrics.recordSubmitted(ctx, task.Type())
	log.Info("task submitted", "queue_len", r.queue.Len())
	return nil
}

// Start recovers unfinished tasks from a previous run and starts the workers.
func (r *TaskRunner) Start(ctx context.Context) error {
	pending, err := r.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	r.pool.Start()

	if len(pending) > 0 {
		r.recoverWG.Add(1)
		go r.requeue(pending)
	}
	return nil
}

// Stop closes the queue, cancels the workers and waits for them to return.
// Tasks left pending are picked up again by the next Start.
func (r *TaskRunner) Stop() {
	r.stopOnce.Do(func() {
		r.recoverCancel()
		r.recoverWG.Wait()
		r.queue.Close()
		r.pool.Stop()
	})
}

// Recover fails every task that was processing when the previous process
// exited and returns the pending tasks, oldest first, for re-queueing.
func (r *TaskRunner) Recover(ctx context.Context) ([]Task, error) {
	processing, err := r.store.List(ctx, store.TaskFilter{Status: domain.TaskStatusProcessing})
	if err != nil {
		return nil, fmt.Errorf("failed to get processing tasks: %w", err)
	}
	pending, err := r.store.List(ctx, store.TaskFilter{Status: domain.TaskStatusPending})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending tasks: %w", err)
	}

	r.logger.Info("recovering unfinished tasks",
		"pending_count", len(pending),
		"processing_count", len(processing))

	for _, rec := range processing {
		log := r.logger.With("task_id", rec.ID, "mode", rec.Mode)
		_, err := r.store.Update(ctx, rec.ID, func(t *domain.Task) error {
			return t.Fail(ErrInterrupted, MessageInterrupted)
		})
		if err != nil {
			log.Error("failed to mark interrupted task failed", "error", err)
			continue
		}
		if err := r.outputs.Delete(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error("failed to remove output of interrupted task", "error", err)
		}
		if t, err := r.factory.FromRecord(rec); err == nil {
			t.Cleanup()
		}
		log.Info("marked interrupted task failed")
	}

	// List is newest first; requeue in submission order.
	slices.Reverse(pending)
	tasks := make([]Task, 0, len(pending))
	for _, rec := range pending {
		t, err := r.factory.FromRecord(rec)
		if err != nil {
			r.logger.Error("cannot rebuild pending task", "task_id", rec.ID, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *TaskRunner) requeue(tasks []Task) {
	defer r.recoverWG.Done()

	for i, t := range tasks {
		if err := r.queue.EnqueueWait(r.recoverCtx, t); err != nil {
			r.logger.Warn("stopped requeueing recovered tasks",
				"error", err,
				"remaining", len(tasks)-i)
			return
		}
	}
	r.logger.Info("requeued recovered tasks", "count", len(tasks))
}

// process drives one task through processing to a terminal status.
func (r *TaskRunner) process(ctx context.Context, task Task) error {
	id := task.ID()
	log := r.logger.With("task_id", id, "mode", task.Type())

	if ctx.Err() != nil {
		log.Info("shutting down, leaving task pending")
		return nil
	}
	defer task.Cleanup()

	// Record writes must land even when shutdown cancels ctx mid-task.
	storeCtx := context.WithoutCancel(ctx)
	started := time.Now()

	if _, err := r.store.Update(storeCtx, id, func(t *domain.Task) error {
		return t.Start(MessageLoading)
	}); err != nil {
		return fmt.Errorf("failed to mark task processing: %w", err)
	}
	log.Info("processing task")

	progress := func(message string) {
		if _, err := r.store.Update(storeCtx, id, func(t *domain.Task) error {
			return t.Progress(message)
		}); err != nil {
			log.Warn("failed to record progress", "message", message, "error", err)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, r.config.EngineTimeout)
	res, err := r.execute(execCtx, task, progress)
	cancel()
	if err != nil {
		r.fail(storeCtx, task, started, err)
		return err
	}

	if _, err := r.store.Update(storeCtx, id, func(t *domain.Task) error {
		return t.Succeed(res.Output.Path, res.Output.Size, MessageCompleted)
	}); err != nil {
		log.Error("failed to record success, rolling back output", "error", err)
		if res.Rollback != nil {
			if rbErr := res.Rollback(storeCtx); rbErr != nil && !errors.Is(rbErr, store.ErrNotFound) {
				log.Error("failed to roll back output", "error", rbErr)
			}
		}
		r.fail(storeCtx, task, started, fmt.Errorf("failed to record result: %w", err))
		return err
	}

	elapsed := time.Since(started)
	r.metrics.recordFinished(storeCtx, task.Type(), string(domain.TaskStatusSuccess), elapsed)
	log.Info("task completed",
		"duration_ms", elapsed.Milliseconds(),
		"file_size", res.Output.Size)

	r.emit(storeCtx, events.TypeTaskSucceeded, id, events.TaskOutcome{
		Mode:       task.Type(),
		OutputPath: res.Output.Path,
		OutputSize: res.Output.Size,
		DurationMS: elapsed.Milliseconds(),
	})
	return nil
}

// execute runs the task, turning a panic into an error.
func (r *TaskRunner) execute(ctx context.Context, task Task, progress engine.ProgressFunc) (res *Result, err error) {
	ctx, span := r.tracer.Start(ctx, "task.execute", trace.WithAttributes(
		attribute.String("task.id", task.ID().String()),
		attribute.String("task.mode", task.Type())))
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panic: %v", p)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, r.failureMessage(err))
		}
		span.End()
	}()

	res, err = task.Execute(ctx, progress)
	if err == nil && res == nil {
		err = errors.New("task produced no result")
	}
	return res, err
}

func (r *TaskRunner) fail(ctx context.Context, task Task, started time.Time, cause error) {
	id := task.ID()
	log := r.logger.With("task_id", id, "mode", task.Type())
	msg := r.failureMessage(cause)

	if _, err := r.store.Update(ctx, id, func(t *domain.Task) error {
		return t.Fail(msg, MessageFailed)
	}); err != nil {
		log.Error("failed to mark task failed", "error", err, "cause", cause)
	}

	elapsed := time.Since(started)
	r.metrics.recordFinished(ctx, task.Type(), string(domain.TaskStatusFailed), elapsed)
	log.Error("task failed", "error", cause, "duration_ms", elapsed.Milliseconds())

	r.emit(ctx, events.TypeTaskFailed, id, events.TaskOutcome{
		Mode:       task.Type(),
		Error:      msg,
		DurationMS: elapsed.Milliseconds(),
	})
}

// failureMessage renders the error stored on a failed task. It is shown to
// clients, so internal details are reduced to a category.
func (r *TaskRunner) failureMessage(err error) string {
	var engErr *engine.Error
	switch {
	case errors.As(err, &engErr):
		return engErr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return engine.NewError(engine.KindTimeout,
			fmt.Sprintf("processing exceeded %s", r.config.EngineTimeout), err).Error()
	case errors.Is(err, context.Canceled):
		return "processing cancelled by service shutdown"
	case errors.Is(err, store.ErrStorage), errors.Is(err, store.ErrInvalidEntity):
		return "storage failure while processing task"
	default:
		return redact.Error(err)
	}
}

// handleWorkerError is called by the pool for errors returned from process,
// including panics outside Execute. It makes sure no task stays processing.
func (r *TaskRunner) handleWorkerError(task Task, err error) {
	ctx := context.Background()
	rec, getErr := r.store.Get(ctx, task.ID())
	if getErr != nil || rec.Terminal() {
		return
	}
	if rec.Status == domain.TaskStatusProcessing {
		r.fail(ctx, task, rec.UpdatedAt, err)
		return
	}
	r.logger.Error("task could not be started",
		"task_id", task.ID(),
		"status", rec.Status,
		"error", err)
}

func (r *TaskRunner) emit(ctx context.Context, eventType string, id uuid.UUID, outcome events.TaskOutcome) {
	event, err := events.NewEvent(eventType, id, outcome)
	if err != nil {
		r.logger.Error("failed to create event", "event_type", eventType, "task_id", id, "error", err)
		return
	}
	if err := r.emitter.EmitEvent(ctx, event); err != nil {
		r.logger.Warn("event handler failed", "event_type", eventType, "task_id", id, "error", err)
	}
}
