package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/store"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL applies when the configured TTL is zero.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "avmerge:task:"

// tombstone marks a deleted record. It is not valid JSON, so it cannot be
// confused with a cached task.
const tombstone = "deleted"

// Client is the subset of the go-redis API the cache needs. *goredis.Client
// satisfies it.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// CachedTaskStore decorates a store.TaskStore with a redis read-through cache
// for Get.
//
// Only terminal records are cached; pending and processing records always
// come from the backing store and their keys are invalidated on every write.
// Delete leaves a tombstone for one TTL and fills use SET NX, so a Get that
// read the record before an eviction cannot write it back afterwards.
// Cache failures are logged and never fail the call.
type CachedTaskStore struct {
	next   store.TaskStore
	client Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ store.TaskStore = (*CachedTaskStore)(nil)

// NewCachedTaskStore wraps next with the cache.
func NewCachedTaskStore(next store.TaskStore, client Client, ttl time.Duration, logger *slog.Logger) *CachedTaskStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedTaskStore{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "task_cache")),
	}
}

// Create implements store.TaskStore.
func (s *CachedTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := s.next.Create(ctx, task); err != nil {
		return err
	}
	s.invalidate(ctx, task.ID)
	return nil
}

// Get implements store.TaskStore.
func (s *CachedTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, deleted := s.lookup(ctx, id)
	if deleted {
		return nil, store.ErrTaskNotFound
	}
	if t != nil {
		return t, nil
	}

	t, err := s.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, t)
	return t, nil
}

// Update implements store.TaskStore.
func (s *CachedTaskStore) Update(ctx context.Context, id uuid.UUID, fn store.TaskMutator) (*domain.Task, error) {
	t, err := s.next.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	if t.Terminal() {
		s.remember(ctx, t)
	} else {
		s.invalidate(ctx, id)
	}
	return t, nil
}

// List implements store.TaskStore.
func (s *CachedTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	return s.next.List(ctx, filter)
}

// Count implements store.TaskStore.
func (s *CachedTaskStore) Count(ctx context.Context, filter store.TaskFilter) (int, error) {
	return s.next.Count(ctx, filter)
}

// CountByStatus implements store.TaskStore.
func (s *CachedTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	return s.next.CountByStatus(ctx)
}

// Delete implements store.TaskStore.
func (s *CachedTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.next.Delete(ctx, id)
	if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
		s.invalidate(ctx, id)
		return err
	}
	if serr := s.client.Set(ctx, taskKey(id), tombstone, s.ttl).Err(); serr != nil {
		s.logger.Warn("cache tombstone write failed", "task_id", id, "error", serr)
		s.invalidate(ctx, id)
	}
	return err
}

// lookup returns the cached record, or deleted=true when the key holds a
// tombstone. A nil task with deleted=false is a miss.
func (s *CachedTaskStore) lookup(ctx context.Context, id uuid.UUID) (t *domain.Task, deleted bool) {
	data, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("cache read failed", "task_id", id, "error", err)
		return nil, false
	}
	if string(data) == tombstone {
		return nil, true
	}

	var cached domain.Task
	if err := json.Unmarshal(data, &cached); err != nil {
		s.logger.Warn("discarding undecodable cache entry", "task_id", id, "error", err)
		s.invalidate(ctx, id)
		return nil, false
	}
	if cached.ID != id || !cached.Terminal() || cached.Validate() != nil {
		s.invalidate(ctx, id)
		return nil, false
	}
	return &cached, false
}

func (s *CachedTaskStore) remember(ctx context.Context, t *domain.Task) {
	if !t.Terminal() {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		s.logger.Warn("failed to encode task for cache", "task_id", t.ID, "error", err)
		return
	}
	if err := s.client.SetNX(ctx, taskKey(t.ID), data, s.ttl).Err(); err != nil {
		s.logger.Warn("cache write failed", "task_id", t.ID, "error", err)
	}
}

func (s *CachedTaskStore) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.client.Del(ctx, taskKey(id)).Err(); err != nil {
		s.logger.Warn("cache invalidation failed", "task_id", id, "error", err)
	}
}

func taskKey(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// Connect creates a client for addr and verifies it with PING.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}
