package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/platform/logger"
	"github.com/phrazzld/avmerge/internal/store"
)

const taskColumns = `id, mode, status, message, error_message, output_path, output_size,
	video_filename, audio_filename, video_path, audio_path, created_at, updated_at`

// PostgresTaskStore implements store.TaskStore using PostgreSQL.
type PostgresTaskStore struct {
	db *sql.DB
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore
func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

// Create implements store.TaskStore.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := store.ValidateForCreate(task); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		taskArgs(task)...,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return store.ErrTaskExists
		}
		log.Error("failed to save task", "task_id", task.ID, "error", err)
		return store.NewStoreError("task", "create", "failed to save task", MapError(err))
	}
	return nil
}

// Get implements store.TaskStore.
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return getTask(ctx, s.db, id, false)
}

// Update loads the row with SELECT ... FOR UPDATE inside a transaction so
// concurrent updates of the same task serialize on the row lock.
func (s *PostgresTaskStore) Update(ctx context.Context, id uuid.UUID, fn store.TaskMutator) (*domain.Task, error) {
	var updated *domain.Task

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := getTask(ctx, tx, id, true)
		if err != nil {
			return err
		}

		next, err := store.ApplyUpdate(current, fn)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = $2, message = $3, error_message = $4, output_path = $5,
				output_size = $6, updated_at = $7
			WHERE id = $1`,
			next.ID,
			string(next.Status),
			next.Message,
			nullString(next.Error),
			nullString(next.OutputPath),
			next.OutputSize,
			next.UpdatedAt,
		)
		if err != nil {
			return store.NewStoreError("task", "update", "failed to update task", MapError(err))
		}
		if err := CheckRowsAffected(result, store.ErrTaskNotFound); err != nil {
			return err
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List implements store.TaskStore.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT ` + taskColumns + ` FROM tasks`)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&query, ` WHERE status = $%d`, len(args))
	}
	query.WriteString(` ORDER BY created_at DESC, id::text ASC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&query, ` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		log.Error("failed to query tasks", "status", filter.Status, "error", err)
		return nil, store.NewStoreError("task", "list", "failed to query tasks", MapError(err))
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Warn("failed to close rows", "error", err)
		}
	}()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list", "failed to read tasks", MapError(err))
	}
	return tasks, nil
}

// Count implements store.TaskStore.
func (s *PostgresTaskStore) Count(ctx context.Context, filter store.TaskFilter) (int, error) {
	var (
		n   int
		err error
	)
	if filter.Status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = $1`,
			string(filter.Status)).Scan(&n)
	}
	if err != nil {
		return 0, store.NewStoreError("task", "count", "failed to count tasks", MapError(err))
	}
	return n, nil
}

// CountByStatus implements store.TaskStore.
func (s *PostgresTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	counts := make(map[domain.TaskStatus]int)
	for _, st := range domain.AllTaskStatuses() {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, store.NewStoreError("task", "count", "failed to count tasks", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, store.NewStoreError("task", "count", "failed to read counts", MapError(err))
		}
		counts[domain.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "count", "failed to read counts", MapError(err))
	}
	return counts, nil
}

// Delete implements store.TaskStore.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return store.NewStoreError("task", "delete", "failed to delete task", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrTaskNotFound)
}

func getTask(ctx context.Context, q store.DBTX, id uuid.UUID, forUpdate bool) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	t, err := scanTask(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t          domain.Task
		mode       string
		status     string
		errMsg     sql.NullString
		outputPath sql.NullString
	)
	err := row.Scan(
		&t.ID, &mode, &status, &t.Message, &errMsg, &outputPath, &t.OutputSize,
		&t.VideoFilename, &t.AudioFilename, &t.VideoPath, &t.AudioPath,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, store.NewStoreError("task", "get", "failed to read task", MapError(err))
	}

	t.Mode = domain.Mode(mode)
	t.Status = domain.TaskStatus(status)
	t.Error = errMsg.String
	t.OutputPath = outputPath.String
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()

	if err := t.Validate(); err != nil {
		return nil, store.NewStoreError("task", "get", "stored task is invalid", errors.Join(store.ErrInvalidEntity, err))
	}
	return &t, nil
}

func taskArgs(t *domain.Task) []any {
	return []any{
		t.ID,
		string(t.Mode),
		string(t.Status),
		t.Message,
		nullString(t.Error),
		nullString(t.OutputPath),
		t.OutputSize,
		t.VideoFilename,
		t.AudioFilename,
		t.VideoPath,
		t.AudioPath,
		t.CreatedAt,
		t.UpdatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
