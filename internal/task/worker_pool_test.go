package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/avmerge/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTaskQueue implements TaskQueueReader for testing
type mockTaskQueue struct {
	ch chan Task
}

func newMockTaskQueue() *mockTaskQueue {
	return &mockTaskQueue{
		ch: make(chan Task, 10),
	}
}

func (m *mockTaskQueue) GetChannel() <-chan Task {
	return m.ch
}

func TestNewWorkerPool(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()

	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 5}, nil, logger)

	assert.Equal(t, 5, pool.workerCount)
	assert.Equal(t, taskQueue, pool.taskQueue)
	assert.NotNil(t, pool.process, "nil process falls back to Execute")
	assert.Nil(t, pool.errorHandler)

	for _, n := range []int{0, -5} {
		pool = NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: n}, nil, logger)
		assert.Equal(t, 1, pool.workerCount)
	}

	assert.Equal(t, 2, DefaultWorkerPoolConfig().WorkerCount)
}

func TestWorkerPool_ProcessTask_Success(t *testing.T) {
	taskQueue := newMockTaskQueue()
	completed := make(chan Task, 1)

	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1},
		func(ctx context.Context, task Task) error {
			completed <- task
			return nil
		}, setupTestLogger())
	pool.Start()
	defer pool.Stop()

	task := newMockTask()
	taskQueue.ch <- task

	select {
	case got := <-completed:
		assert.Equal(t, task.ID(), got.ID())
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for task to complete")
	}
}

func TestWorkerPool_ProcessTask_Error(t *testing.T) {
	taskQueue := newMockTaskQueue()
	errorHandled := make(chan error, 1)
	expectedErr := errors.New("test error")

	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1},
		func(ctx context.Context, task Task) error {
			return expectedErr
		}, setupTestLogger())
	pool.SetErrorHandler(func(task Task, err error) {
		errorHandled <- err
	})
	pool.Start()
	defer pool.Stop()

	taskQueue.ch <- newMockTask()

	select {
	case err := <-errorHandled:
		assert.Equal(t, expectedErr, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for error handler")
	}
}

func TestWorkerPool_PanicFailsOnlyThatTask(t *testing.T) {
	taskQueue := newMockTaskQueue()
	errorHandled := make(chan error, 1)
	var processed atomic.Int32

	panicking := newMockTask()
	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1},
		func(ctx context.Context, task Task) error {
			processed.Add(1)
			if task.ID() == panicking.ID() {
				panic("test panic")
			}
			return nil
		}, setupTestLogger())
	pool.SetErrorHandler(func(task Task, err error) {
		errorHandled <- err
	})
	pool.Start()
	defer pool.Stop()

	taskQueue.ch <- panicking
	taskQueue.ch <- newMockTask()

	select {
	case err := <-errorHandled:
		assert.Contains(t, err.Error(), "panic")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for error handler after panic")
	}

	// The same worker keeps processing.
	assert.Eventually(t, func() bool { return processed.Load() == 2 },
		time.Second, 10*time.Millisecond)
}

func TestWorkerPool_DefaultProcessRunsExecute(t *testing.T) {
	taskQueue := newMockTaskQueue()
	executed := make(chan struct{})

	task := newMockTask()
	task.execFn = func(ctx context.Context, _ engine.ProgressFunc) (*Result, error) {
		close(executed)
		return &Result{}, nil
	}

	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1}, nil, setupTestLogger())
	pool.Start()
	defer pool.Stop()

	taskQueue.ch <- task

	select {
	case <-executed:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for Execute")
	}
}

func TestWorkerPool_StopCancelsRunningTask(t *testing.T) {
	taskQueue := newMockTaskQueue()
	taskStarted := make(chan struct{})
	taskCompleted := make(chan error, 1)

	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1},
		func(ctx context.Context, task Task) error {
			close(taskStarted)
			<-ctx.Done()
			taskCompleted <- ctx.Err()
			return ctx.Err()
		}, setupTestLogger())
	pool.Start()

	taskQueue.ch <- newMockTask()

	select {
	case <-taskStarted:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for task to start")
	}

	stopDone := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopDone)
	}()

	select {
	case err := <-taskCompleted:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for task to be canceled")
	}

	select {
	case <-stopDone:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for worker pool to stop")
	}
}

func TestWorkerPool_ExitsWhenQueueClosed(t *testing.T) {
	taskQueue := newMockTaskQueue()
	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 3}, nil, setupTestLogger())
	pool.Start()

	close(taskQueue.ch)

	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("workers did not exit after the queue closed")
	}
	pool.Stop()
}
