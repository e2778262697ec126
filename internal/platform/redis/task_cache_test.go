package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/platform/filesystem"
	"github.com/phrazzld/avmerge/internal/store"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory Client. When broken is set every call fails.
type fakeClient struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	broken bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return goredis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := c.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (c *fakeClient) Set(_ context.Context, key string, value any, exp time.Duration) *goredis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return goredis.NewStatusResult("", errors.New("connection refused"))
	}
	c.data[key] = encode(value)
	c.ttls[key] = exp
	return goredis.NewStatusResult("OK", nil)
}

func (c *fakeClient) SetNX(_ context.Context, key string, value any, exp time.Duration) *goredis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return goredis.NewBoolResult(false, errors.New("connection refused"))
	}
	if _, ok := c.data[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	c.data[key] = encode(value)
	c.ttls[key] = exp
	return goredis.NewBoolResult(true, nil)
}

func encode(value any) string {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		panic("unexpected cache value type")
	}
}

func (c *fakeClient) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return goredis.NewIntResult(0, errors.New("connection refused"))
	}
	var n int64
	for _, k := range keys {
		if _, ok := c.data[k]; ok {
			delete(c.data, k)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

func (c *fakeClient) has(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[taskKey(id)]
	return ok
}

func (c *fakeClient) value(id uuid.UUID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[taskKey(id)]
}

// pausingStore blocks Get after the backing read completes until release is
// closed, so a Delete can run between the read and the cache fill.
type pausingStore struct {
	store.TaskStore
	read    chan struct{}
	release chan struct{}
}

func (s *pausingStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := s.TaskStore.Get(ctx, id)
	close(s.read)
	<-s.release
	return t, err
}

// countingStore counts Get calls that reach the backing store.
type countingStore struct {
	store.TaskStore
	mu   sync.Mutex
	gets int
}

func (s *countingStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.TaskStore.Get(ctx, id)
}

func (s *countingStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCachedStore(t *testing.T, client Client) (*CachedTaskStore, *countingStore) {
	t.Helper()
	backing, err := filesystem.NewTaskStore(filepath.Join(t.TempDir(), "tasks"), testLogger())
	require.NoError(t, err)
	counting := &countingStore{TaskStore: backing}
	return NewCachedTaskStore(counting, client, time.Minute, testLogger()), counting
}

func newTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.ModeMerge, domain.TaskInput{VideoPath: "/in/v.mp4", AudioPath: "/in/a.wav"})
	require.NoError(t, err)
	return task
}

func TestCachedTaskStore_OnlyTerminalRecordsAreCached(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s, backing := newCachedStore(t, client)

	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))

	_, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	_, err = s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, backing.getCount(), "pending records bypass the cache")
	assert.False(t, client.has(task.ID))

	_, err = s.Update(ctx, task.ID, func(t *domain.Task) error { return t.Start("Loading") })
	require.NoError(t, err)
	assert.False(t, client.has(task.ID))

	done, err := s.Update(ctx, task.ID, func(t *domain.Task) error {
		return t.Succeed("/out/merged.mp4", 10, "done")
	})
	require.NoError(t, err)
	assert.True(t, client.has(task.ID))
	assert.Equal(t, time.Minute, client.ttls[taskKey(task.ID)])

	before := backing.getCount()
	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, before, backing.getCount(), "terminal record served from cache")
	assert.Equal(t, done.OutputPath, got.OutputPath)
	assert.Equal(t, domain.TaskStatusSuccess, got.Status)
}

func TestCachedTaskStore_ReadThroughFillsCache(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	backingFS, err := filesystem.NewTaskStore(filepath.Join(t.TempDir(), "tasks"), testLogger())
	require.NoError(t, err)

	task := newTask(t)
	require.NoError(t, backingFS.Create(ctx, task))
	_, err = backingFS.Update(ctx, task.ID, func(t *domain.Task) error { return t.Start("x") })
	require.NoError(t, err)
	_, err = backingFS.Update(ctx, task.ID, func(t *domain.Task) error { return t.Fail("boom", "failed") })
	require.NoError(t, err)

	s := NewCachedTaskStore(backingFS, client, 0, testLogger())
	assert.Equal(t, DefaultTTL, s.ttl)

	_, err = s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, client.has(task.ID))
}

func TestCachedTaskStore_DeleteLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s, _ := newCachedStore(t, client)

	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))
	_, err := s.Update(ctx, task.ID, func(t *domain.Task) error { return t.Start("x") })
	require.NoError(t, err)
	_, err = s.Update(ctx, task.ID, func(t *domain.Task) error { return t.Fail("boom", "failed") })
	require.NoError(t, err)
	require.True(t, client.has(task.ID))

	require.NoError(t, s.Delete(ctx, task.ID))
	assert.Equal(t, tombstone, client.value(task.ID))
	assert.Equal(t, time.Minute, client.ttls[taskKey(task.ID)])

	_, err = s.Get(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestCachedTaskStore_DeleteDuringReadThroughStaysDeleted(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	backing, err := filesystem.NewTaskStore(filepath.Join(t.TempDir(), "tasks"), testLogger())
	require.NoError(t, err)

	task := newTask(t)
	require.NoError(t, backing.Create(ctx, task))
	_, err = backing.Update(ctx, task.ID, func(t *domain.Task) error { return t.Start("x") })
	require.NoError(t, err)
	_, err = backing.Update(ctx, task.ID, func(t *domain.Task) error {
		return t.Succeed("/out/merged.mp4", 10, "done")
	})
	require.NoError(t, err)

	pausing := &pausingStore{TaskStore: backing, read: make(chan struct{}), release: make(chan struct{})}
	s := NewCachedTaskStore(pausing, client, time.Minute, testLogger())

	type result struct {
		task *domain.Task
		err  error
	}
	done := make(chan result, 1)
	go func() {
		got, err := s.Get(ctx, task.ID)
		done <- result{got, err}
	}()

	<-pausing.read
	require.NoError(t, s.Delete(ctx, task.ID))
	close(pausing.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, domain.TaskStatusSuccess, res.task.Status)

	assert.Equal(t, tombstone, client.value(task.ID), "late fill must not replace the tombstone")
	_, err = s.Get(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestCachedTaskStore_DeleteMissingRecordStillTombstones(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s, _ := newCachedStore(t, client)

	id := uuid.New()
	err := s.Delete(ctx, id)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.Equal(t, tombstone, client.value(id))
}

func TestCachedTaskStore_CorruptEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s, backing := newCachedStore(t, client)

	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))
	client.data[taskKey(task.ID)] = "{not json"

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, 1, backing.getCount())
	assert.False(t, client.has(task.ID))
}

func TestCachedTaskStore_BrokenCacheIsTransparent(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.broken = true
	s, _ := newCachedStore(t, client)

	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))
	_, err := s.Update(ctx, task.ID, func(t *domain.Task) error { return t.Start("x") })
	require.NoError(t, err)
	_, err = s.Update(ctx, task.ID, func(t *domain.Task) error { return t.Succeed("/out/x.mp4", 1, "ok") })
	require.NoError(t, err)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, got.Status)

	tasks, err := s.List(ctx, store.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	n, err := s.Count(ctx, store.TaskFilter{Status: domain.TaskStatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.TaskStatusSuccess])
}

func TestCachedTaskStore_RealRedis(t *testing.T) {
	addr := os.Getenv("AVMERGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AVMERGE_TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	ctx := context.Background()

	client, err := Connect(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, backing := newCachedStore(t, client)
	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))
	t.Cleanup(func() { _ = client.Del(ctx, taskKey(task.ID)).Err() })

	_, err = s.Update(ctx, task.ID, func(t *domain.Task) error { return t.Start("x") })
	require.NoError(t, err)
	_, err = s.Update(ctx, task.ID, func(t *domain.Task) error { return t.Succeed("/out/x.mp4", 1, "ok") })
	require.NoError(t, err)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, got.Status)
	assert.Equal(t, 0, backing.getCount())

	ttl, err := client.TTL(ctx, taskKey(task.ID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
