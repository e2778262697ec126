package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/store"
)

const recordExt = ".json"

// TaskStore implements store.TaskStore with one JSON file per task.
//
// Structural operations (create, delete, list) take mu exclusively or shared;
// updates hold mu shared plus a per-task lock, so updates to different tasks
// proceed in parallel while a delete of the same task waits.
type TaskStore struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates the directory if needed and returns a store rooted there.
func NewTaskStore(dir string, logger *slog.Logger) (*TaskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, store.NewStorageError("task", "init", err)
	}
	return &TaskStore{
		dir:    dir,
		logger: logger.With(slog.String("component", "task_store"), slog.String("dir", dir)),
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}, nil
}

// Create stores a new pending task.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateForCreate(task); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(task.ID)
	if _, err := os.Stat(path); err == nil {
		return store.ErrTaskExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return store.NewStorageError("task", "create", err)
	}

	if err := s.write(task); err != nil {
		s.logger.Error("failed to create task record", "task_id", task.ID, "error", err)
		return store.NewStorageError("task", "create", err)
	}

	s.logger.Debug("task record created", "task_id", task.ID, "mode", task.Mode)
	return nil
}

// Get retrieves a task by ID.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.read(id)
}

// Update applies fn to the stored task and persists the result atomically.
func (s *TaskStore) Update(ctx context.Context, id uuid.UUID, fn store.TaskMutator) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.read(id)
	if err != nil {
		return nil, err
	}

	next, err := store.ApplyUpdate(current, fn)
	if err != nil {
		return nil, err
	}

	if err := s.write(next); err != nil {
		s.logger.Error("failed to update task record", "task_id", id, "error", err)
		return nil, store.NewStorageError("task", "update", err)
	}

	return next.Clone(), nil
}

// List returns matching tasks, most recent first.
func (s *TaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	tasks, err := s.scan(ctx, filter)
	if err != nil {
		return nil, err
	}

	store.SortNewestFirst(tasks)
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

// Count returns the number of tasks matching the filter's status.
func (s *TaskStore) Count(ctx context.Context, filter store.TaskFilter) (int, error) {
	tasks, err := s.scan(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// CountByStatus returns per-status totals.
func (s *TaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	tasks, err := s.scan(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.TaskStatus]int, 4)
	for _, st := range domain.AllTaskStatuses() {
		counts[st] = 0
	}
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// Delete removes a task record.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.recordPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store.ErrTaskNotFound
		}
		return store.NewStorageError("task", "delete", err)
	}

	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()

	s.logger.Debug("task record deleted", "task_id", id)
	return nil
}

func (s *TaskStore) scan(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, store.NewStorageError("task", "list", err)
	}

	tasks := make([]*domain.Task, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}

		t, err := s.read(id)
		if err != nil {
			// Records are renamed into place, so a failure here is a damaged file.
			s.logger.Warn("skipping unreadable task record", "file", name, "error", err)
			continue
		}
		if filter.Matches(t) {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *TaskStore) read(id uuid.UUID) (*domain.Task, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrTaskNotFound
		}
		return nil, store.NewStorageError("task", "get", err)
	}

	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, store.NewStorageError("task", "get", fmt.Errorf("decode %s: %w", id, err))
	}
	if err := t.Validate(); err != nil {
		return nil, store.NewStoreError("task", "get", "stored record is invalid", errors.Join(store.ErrInvalidEntity, err))
	}
	return &t, nil
}

func (s *TaskStore) write(t *domain.Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return writeFileAtomic(s.dir, s.recordPath(t.ID), data)
}

func (s *TaskStore) recordPath(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+recordExt)
}

func (s *TaskStore) lockFor(id uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}
