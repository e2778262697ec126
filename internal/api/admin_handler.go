package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/phrazzld/avmerge/internal/api/shared"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/service"
)

// AdminHandler serves cleanup, capacity configuration, info and health.
type AdminHandler struct {
	mergeService service.MergeService
	now          func() time.Time
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(mergeService service.MergeService) *AdminHandler {
	return &AdminHandler{
		mergeService: mergeService,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Cleanup handles POST /cleanup.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.mergeService.Cleanup(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Cleanup failed")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, newCleanupResponse(res))
}

// SetMaxFiles handles POST /config/max-files?max_files=N.
func (h *AdminHandler) SetMaxFiles(w http.ResponseWriter, r *http.Request) {
	if shared.QueryString(r, "max_files") == "" {
		HandleAPIError(w, r, domain.NewValidationError("max_files", "is required", domain.ErrValidation), "")
		return
	}
	n, err := shared.QueryInt(r, "max_files", 0)
	if err != nil {
		HandleAPIError(w, r, domain.NewValidationError("max_files", "must be an integer", domain.ErrValidation), "")
		return
	}

	change, err := h.mergeService.SetCapacity(r.Context(), n)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to update max files")
		return
	}

	resp := MaxFilesResponse{
		Status:           "success",
		Message:          fmt.Sprintf("Maximum files limit updated from %d to %d", change.Old, change.New),
		OldLimit:         change.Old,
		NewLimit:         change.New,
		CurrentFiles:     change.CurrentFiles,
		CleanupTriggered: change.CleanupTriggered,
		Timestamp:        h.now(),
	}
	if change.Cleanup != nil {
		cleanup := newCleanupResponse(*change.Cleanup)
		resp.Cleanup = &cleanup
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Info handles GET /info.
func (h *AdminHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.mergeService.Info(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get service info")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, newInfoResponse(info))
}

// Health handles GET /health.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Message:   "API is running",
		Timestamp: h.now(),
		Version:   Version,
	})
}
