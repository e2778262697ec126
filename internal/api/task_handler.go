package api

import (
	"errors"
	"mime"
	"net/http"

	"github.com/phrazzld/avmerge/internal/api/shared"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/platform/logger"
	"github.com/phrazzld/avmerge/internal/service"
)

// TaskHandler serves task status, downloads and listings.
type TaskHandler struct {
	mergeService service.MergeService
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(mergeService service.MergeService) *TaskHandler {
	return &TaskHandler{mergeService: mergeService}
}

// GetStatus handles GET /task/{id}/status.
func (h *TaskHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		// A malformed ID can never name a task.
		HandleAPIError(w, r, service.ErrTaskNotFound, "")
		return
	}

	t, err := h.mergeService.GetStatus(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task status")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newTaskResponse(t))
}

// Download handles GET /task/{id}/download. Unfinished tasks get 202 with
// their status, failed tasks 409 with the stored error.
func (h *TaskHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, service.ErrTaskNotFound, "")
		return
	}

	dl, err := h.mergeService.Download(r.Context(), id)
	if err != nil {
		var notReady *domain.NotReadyError
		if errors.As(err, &notReady) {
			status := http.StatusAccepted
			if notReady.Task.Status == domain.TaskStatusFailed {
				status = http.StatusConflict
			}
			shared.RespondWithJSON(w, r, status, newTaskResponse(notReady.Task))
			return
		}
		HandleAPIError(w, r, err, "Failed to download output")
		return
	}
	defer func() {
		if err := dl.File.Close(); err != nil {
			logger.FromContext(r.Context()).Warn("failed to close output file", "task_id", id, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	http.ServeContent(w, r, dl.Filename, dl.Info.ModTime, dl.File)
}

// ListTasks handles GET /tasks?status=&limit=.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := shared.QueryInt(r, "limit", service.DefaultListLimit)
	if err != nil {
		HandleAPIError(w, r, domain.NewValidationError("limit", "must be an integer", domain.ErrValidation), "")
		return
	}

	list, err := h.mergeService.ListTasks(r.Context(), service.ListTasksRequest{
		Status: shared.QueryString(r, "status"),
		Limit:  limit,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newTaskListResponse(list))
}
