package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/eviction"
	"github.com/phrazzld/avmerge/internal/store"
	"github.com/phrazzld/avmerge/internal/task"
)

// Listing bounds.
const (
	DefaultListLimit = 10
	MaxListLimit     = 1000
)

// TaskRunner defines the interface for submitting background tasks
type TaskRunner interface {
	// Submit records the task as pending and queues it for processing
	Submit(ctx context.Context, task task.Task) error
}

// Evictor is the part of the eviction policy the service drives.
type Evictor interface {
	Run(ctx context.Context) (eviction.Result, error)
	Capacity() int
	SetCapacity(n int) error
}

// Upload is one client-supplied input file.
type Upload struct {
	Filename string
	Content  io.Reader
}

// SubmitRequest carries a new merge job.
type SubmitRequest struct {
	Mode  domain.Mode
	Video Upload
	Audio Upload
}

// ListTasksRequest selects tasks for ListTasks. Status is optional.
type ListTasksRequest struct {
	Status string `validate:"omitempty,oneof=pending processing success failed"`
	Limit  int    `validate:"min=1,max=1000"`
}

// TaskList is a page of tasks, most recent first.
type TaskList struct {
	Tasks  []*domain.Task
	Total  int
	Limit  int
	Filter domain.TaskStatus
}

// Download is an opened output ready to stream. The caller closes File.
type Download struct {
	File     *os.File
	Info     store.OutputFile
	Filename string
	Task     *domain.Task
}

// Info summarizes the service state.
type Info struct {
	TaskCount       int
	OutputFileCount int
	Capacity        int
	StatusCounts    map[domain.TaskStatus]int
	VideoFormats    []string
	AudioFormats    []string
}

// StorageStatus renders the output usage as "n/m files".
func (i *Info) StorageStatus() string {
	return fmt.Sprintf("%d/%d files", i.OutputFileCount, i.Capacity)
}

// CapacityChange reports the effect of SetCapacity.
type CapacityChange struct {
	Old              int
	New              int
	CurrentFiles     int
	CleanupTriggered bool
	Cleanup          *eviction.Result
}

// MergeService provides the merge job use cases
type MergeService interface {
	// Submit stores the uploads and queues a new task. It never waits for
	// processing.
	Submit(ctx context.Context, req SubmitRequest) (*domain.Task, error)

	// GetStatus returns the task record.
	GetStatus(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Download opens a successful task's output. For other statuses it returns
	// a *domain.NotReadyError carrying the task.
	Download(ctx context.Context, id uuid.UUID) (*Download, error)

	// ListTasks returns tasks most recent first.
	ListTasks(ctx context.Context, req ListTasksRequest) (*TaskList, error)

	// Info returns counts, capacity and supported formats.
	Info(ctx context.Context) (*Info, error)

	// Cleanup runs an eviction pass, waiting for one already in flight.
	Cleanup(ctx context.Context) (eviction.Result, error)

	// SetCapacity changes the output capacity and evicts when the current
	// count exceeds it.
	SetCapacity(ctx context.Context, n int) (*CapacityChange, error)
}

// mergeServiceImpl implements the MergeService interface
type mergeServiceImpl struct {
	tasks    store.TaskStore
	outputs  store.OutputStore
	runner   TaskRunner
	factory  task.Factory
	evictor  Evictor
	tempDir  string
	validate *validator.Validate
	logger   *slog.Logger
}

// NewMergeService creates a new MergeService. Uploads are written under
// tempDir, which is created if needed.
func NewMergeService(
	tasks store.TaskStore,
	outputs store.OutputStore,
	runner TaskRunner,
	factory task.Factory,
	evictor Evictor,
	tempDir string,
	logger *slog.Logger,
) (MergeService, error) {
	if tasks == nil {
		return nil, &MergeServiceError{Operation: "create_service", Message: "task store cannot be nil"}
	}
	if outputs == nil {
		return nil, &MergeServiceError{Operation: "create_service", Message: "output store cannot be nil"}
	}
	if runner == nil {
		return nil, &MergeServiceError{Operation: "create_service", Message: "task runner cannot be nil"}
	}
	if factory == nil {
		return nil, &MergeServiceError{Operation: "create_service", Message: "task factory cannot be nil"}
	}
	if evictor == nil {
		return nil, &MergeServiceError{Operation: "create_service", Message: "evictor cannot be nil"}
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, &MergeServiceError{Operation: "create_service", Message: "cannot create temp dir", Err: err}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &mergeServiceImpl{
		tasks:    tasks,
		outputs:  outputs,
		runner:   runner,
		factory:  factory,
		evictor:  evictor,
		tempDir:  tempDir,
		validate: validator.New(),
		logger:   logger.With("component", "merge_service"),
	}, nil
}

// Submit validates the uploads before touching the disk so rejected requests
// leave nothing behind.
func (s *mergeServiceImpl) Submit(ctx context.Context, req SubmitRequest) (*domain.Task, error) {
	if !req.Mode.Valid() {
		return nil, domain.NewValidationError("mode", "is not supported", domain.ErrInvalidMode)
	}
	if err := domain.ValidateVideoFilename(req.Video.Filename); err != nil {
		return nil, err
	}
	if err := domain.ValidateAudioFilename(req.Audio.Filename); err != nil {
		return nil, err
	}
	if req.Video.Content == nil || req.Audio.Content == nil {
		return nil, domain.NewValidationError("inputs", "file content is required", domain.ErrValidation)
	}

	videoPath, err := s.saveUpload(ctx, "video", req.Video)
	if err != nil {
		return nil, NewMergeServiceError("submit", "failed to store video upload", err)
	}
	audioPath, err := s.saveUpload(ctx, "audio", req.Audio)
	if err != nil {
		removeFiles(s.logger, videoPath)
		return nil, NewMergeServiceError("submit", "failed to store audio upload", err)
	}

	t, err := s.factory.New(req.Mode, domain.TaskInput{
		VideoPath:     videoPath,
		AudioPath:     audioPath,
		VideoFilename: filepath.Base(req.Video.Filename),
		AudioFilename: filepath.Base(req.Audio.Filename),
	})
	if err != nil {
		removeFiles(s.logger, videoPath, audioPath)
		return nil, NewMergeServiceError("submit", "failed to create task", err)
	}

	// The runner cleans up the inputs itself when Submit fails.
	if err := s.runner.Submit(ctx, t); err != nil {
		return nil, NewMergeServiceError("submit", "failed to submit task", err)
	}

	s.logger.Info("merge task accepted",
		"task_id", t.ID(),
		"mode", req.Mode,
		"video_filename", filepath.Base(req.Video.Filename),
		"audio_filename", filepath.Base(req.Audio.Filename))
	return t.Record().Clone(), nil
}

// saveUpload streams an upload into a uniquely named file under tempDir,
// keeping the lower-cased client extension so the engine can sniff the
// container.
func (s *mergeServiceImpl) saveUpload(ctx context.Context, kind string, up Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(up.Filename))
	f, err := os.CreateTemp(s.tempDir, kind+"-*"+ext)
	if err != nil {
		return "", store.NewStorageError("upload", "create", err)
	}

	if _, err := io.Copy(f, up.Content); err != nil {
		_ = f.Close()
		removeFiles(s.logger, f.Name())
		return "", fmt.Errorf("failed to write %s upload: %w", kind, err)
	}
	if err := f.Close(); err != nil {
		removeFiles(s.logger, f.Name())
		return "", store.NewStorageError("upload", "close", err)
	}
	return f.Name(), nil
}

// GetStatus implements MergeService.
func (s *mergeServiceImpl) GetStatus(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, NewMergeServiceError("get_status", "failed to load task", err)
	}
	return t, nil
}

// Download implements MergeService.
func (s *mergeServiceImpl) Download(ctx context.Context, id uuid.UUID) (*Download, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, NewMergeServiceError("download", "failed to load task", err)
	}
	if t.Status != domain.TaskStatusSuccess {
		return nil, &domain.NotReadyError{Task: t}
	}

	f, info, err := s.outputs.Open(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrOutputNotFound) {
			s.logger.Warn("output missing for successful task", "task_id", id)
		}
		return nil, NewMergeServiceError("download", "failed to open output", err)
	}

	return &Download{
		File:     f,
		Info:     info,
		Filename: fmt.Sprintf("%s_%s.mp4", t.Mode.OutputPrefix(), t.ID),
		Task:     t,
	}, nil
}

// ListTasks implements MergeService.
func (s *mergeServiceImpl) ListTasks(ctx context.Context, req ListTasksRequest) (*TaskList, error) {
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if err := s.validate.Struct(req); err != nil {
		return nil, listValidationError(err)
	}

	filter := store.TaskFilter{Status: domain.TaskStatus(req.Status), Limit: req.Limit}
	tasks, err := s.tasks.List(ctx, filter)
	if err != nil {
		return nil, NewMergeServiceError("list_tasks", "failed to list tasks", err)
	}
	total, err := s.tasks.Count(ctx, store.TaskFilter{Status: filter.Status})
	if err != nil {
		return nil, NewMergeServiceError("list_tasks", "failed to count tasks", err)
	}

	if tasks == nil {
		tasks = []*domain.Task{}
	}
	return &TaskList{
		Tasks:  tasks,
		Total:  total,
		Limit:  req.Limit,
		Filter: filter.Status,
	}, nil
}

func listValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Status":
			return domain.NewValidationError("status",
				"must be one of pending, processing, success, failed", domain.ErrInvalidStatus)
		case "Limit":
			return domain.NewValidationError("limit",
				fmt.Sprintf("must be between 1 and %d", MaxListLimit), domain.ErrValidation)
		}
	}
	return domain.NewValidationError("", err.Error(), domain.ErrValidation)
}

// Info implements MergeService.
func (s *mergeServiceImpl) Info(ctx context.Context) (*Info, error) {
	counts, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return nil, NewMergeServiceError("info", "failed to count tasks", err)
	}
	files, err := s.outputs.Count(ctx)
	if err != nil {
		return nil, NewMergeServiceError("info", "failed to count outputs", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	return &Info{
		TaskCount:       total,
		OutputFileCount: files,
		Capacity:        s.evictor.Capacity(),
		StatusCounts:    counts,
		VideoFormats:    domain.VideoExtensions,
		AudioFormats:    domain.AudioExtensions,
	}, nil
}

// Cleanup implements MergeService.
func (s *mergeServiceImpl) Cleanup(ctx context.Context) (eviction.Result, error) {
	res, err := s.evictor.Run(ctx)
	if err != nil {
		return res, NewMergeServiceError("cleanup", "eviction pass failed", err)
	}
	return res, nil
}

// SetCapacity implements MergeService.
func (s *mergeServiceImpl) SetCapacity(ctx context.Context, n int) (*CapacityChange, error) {
	old := s.evictor.Capacity()
	if err := s.evictor.SetCapacity(n); err != nil {
		return nil, NewMergeServiceError("set_capacity", "invalid capacity", err)
	}

	current, err := s.outputs.Count(ctx)
	if err != nil {
		return nil, NewMergeServiceError("set_capacity", "failed to count outputs", err)
	}

	change := &CapacityChange{Old: old, New: n, CurrentFiles: current}
	if current > n {
		res, err := s.evictor.Run(ctx)
		if err != nil {
			return nil, NewMergeServiceError("set_capacity", "eviction pass failed", err)
		}
		change.CleanupTriggered = true
		change.Cleanup = &res
		change.CurrentFiles = res.FilesAfter
	}
	return change, nil
}

func removeFiles(logger *slog.Logger, paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove upload", "path", filepath.Base(p), "error", err)
		}
	}
}
