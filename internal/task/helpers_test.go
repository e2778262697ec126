package task

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/engine"
	"github.com/phrazzld/avmerge/internal/store"
)

// mockTask implements the Task interface for testing
type mockTask struct {
	record  *domain.Task
	execFn  func(ctx context.Context, progress engine.ProgressFunc) (*Result, error)
	cleaned atomic.Int32
}

func newMockTask() *mockTask {
	rec, err := domain.NewTask(domain.ModeMerge, domain.TaskInput{
		VideoPath: "/tmp/in/video.mp4",
		AudioPath: "/tmp/in/audio.mp3",
	})
	if err != nil {
		panic(err)
	}
	return &mockTask{record: rec}
}

func (m *mockTask) ID() uuid.UUID {
	return m.record.ID
}

func (m *mockTask) Type() string {
	return string(m.record.Mode)
}

func (m *mockTask) Record() *domain.Task {
	return m.record.Clone()
}

func (m *mockTask) Execute(ctx context.Context, progress engine.ProgressFunc) (*Result, error) {
	if m.execFn != nil {
		return m.execFn(ctx, progress)
	}
	return &Result{Output: store.OutputFile{
		Name:   m.record.ID.String() + ".mp4",
		Path:   "/out/" + m.record.ID.String() + ".mp4",
		TaskID: m.record.ID,
		Size:   1,
	}}, nil
}

func (m *mockTask) Cleanup() {
	m.cleaned.Add(1)
}

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
