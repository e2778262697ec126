package api

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/eviction"
	"github.com/phrazzld/avmerge/internal/service"
)

// Version is reported by /health and /info.
const Version = "2.1.0"

// APIName is reported by /info.
const APIName = "Video Audio Merger API"

// SubmitResponse is returned by the three submit endpoints.
type SubmitResponse struct {
	TaskID    uuid.UUID         `json:"task_id"`
	Status    domain.TaskStatus `json:"status"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"created_at"`
}

// TaskResponse is the client view of a task record. Server-side paths are
// never exposed; OutputFile is the base name only.
type TaskResponse struct {
	TaskID        uuid.UUID         `json:"task_id"`
	Status        domain.TaskStatus `json:"status"`
	Type          domain.Mode       `json:"type"`
	Message       string            `json:"message"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	VideoFilename string            `json:"video_filename,omitempty"`
	AudioFilename string            `json:"audio_filename,omitempty"`
	OutputFile    string            `json:"output_file,omitempty"`
	FileSize      int64             `json:"file_size,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// TaskListResponse is returned by GET /tasks.
type TaskListResponse struct {
	Tasks        []TaskResponse `json:"tasks"`
	Total        int            `json:"total"`
	Limit        int            `json:"limit"`
	FilterStatus *string        `json:"filter_status"`
}

// CleanupResponse is returned by POST /cleanup.
type CleanupResponse struct {
	Status         string      `json:"status"`
	Message        string      `json:"message"`
	FilesBefore    int         `json:"files_before"`
	FilesAfter     int         `json:"files_after"`
	FilesDeleted   int         `json:"files_deleted"`
	MaxFilesLimit  int         `json:"max_files_limit"`
	DeletedTaskIDs []uuid.UUID `json:"deleted_task_ids,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// MaxFilesResponse is returned by POST /config/max-files.
type MaxFilesResponse struct {
	Status           string           `json:"status"`
	Message          string           `json:"message"`
	OldLimit         int              `json:"old_limit"`
	NewLimit         int              `json:"new_limit"`
	CurrentFiles     int              `json:"current_files"`
	CleanupTriggered bool             `json:"cleanup_triggered"`
	Cleanup          *CleanupResponse `json:"cleanup,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// InfoResponse is returned by GET /info.
type InfoResponse struct {
	API                   string                    `json:"api"`
	Version               string                    `json:"version"`
	OutputFiles           int                       `json:"output_files"`
	MaxOutputFiles        int                       `json:"max_output_files"`
	StorageStatus         string                    `json:"storage_status"`
	TotalTasks            int                       `json:"total_tasks"`
	TaskStatusCounts      map[domain.TaskStatus]int `json:"task_status_counts"`
	SupportedVideoFormats []string                  `json:"supported_video_formats"`
	SupportedAudioFormats []string                  `json:"supported_audio_formats"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

func newSubmitResponse(t *domain.Task) SubmitResponse {
	return SubmitResponse{
		TaskID:    t.ID,
		Status:    t.Status,
		Message:   "Task created successfully. Use the task_id to check status.",
		CreatedAt: t.CreatedAt,
	}
}

func newTaskResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		TaskID:        t.ID,
		Status:        t.Status,
		Type:          t.Mode,
		Message:       t.Message,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		VideoFilename: t.VideoFilename,
		AudioFilename: t.AudioFilename,
		FileSize:      t.OutputSize,
		Error:         t.Error,
	}
	if t.OutputPath != "" {
		resp.OutputFile = filepath.Base(t.OutputPath)
	}
	return resp
}

func newTaskListResponse(list *service.TaskList) TaskListResponse {
	resp := TaskListResponse{
		Tasks: make([]TaskResponse, 0, len(list.Tasks)),
		Total: list.Total,
		Limit: list.Limit,
	}
	for _, t := range list.Tasks {
		resp.Tasks = append(resp.Tasks, newTaskResponse(t))
	}
	if list.Filter != "" {
		s := string(list.Filter)
		resp.FilterStatus = &s
	}
	return resp
}

func newCleanupResponse(res eviction.Result) CleanupResponse {
	ts := res.StartedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return CleanupResponse{
		Status:         "success",
		Message:        fmt.Sprintf("Cleanup completed. Deleted %d files.", res.FilesDeleted),
		FilesBefore:    res.FilesBefore,
		FilesAfter:     res.FilesAfter,
		FilesDeleted:   res.FilesDeleted,
		MaxFilesLimit:  res.Capacity,
		DeletedTaskIDs: res.DeletedTaskIDs,
		Timestamp:      ts,
	}
}

func newInfoResponse(info *service.Info) InfoResponse {
	return InfoResponse{
		API:                   APIName,
		Version:               Version,
		OutputFiles:           info.OutputFileCount,
		MaxOutputFiles:        info.Capacity,
		StorageStatus:         info.StorageStatus(),
		TotalTasks:            info.TaskCount,
		TaskStatusCounts:      info.StatusCounts,
		SupportedVideoFormats: info.VideoFormats,
		SupportedAudioFormats: info.AudioFormats,
	}
}
