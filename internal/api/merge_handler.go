package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/avmerge/internal/api/shared"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/platform/logger"
	"github.com/phrazzld/avmerge/internal/service"
)

// Multipart field names for the two uploads.
const (
	VideoField = "video_file"
	AudioField = "audio_file"
)

// multipartMemory is how much of a multipart body is held in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

// MergeHandler accepts merge jobs.
type MergeHandler struct {
	mergeService   service.MergeService
	maxUploadBytes int64
}

// NewMergeHandler creates a new MergeHandler. maxUploadBytes bounds the whole
// request body; zero disables the limit.
func NewMergeHandler(mergeService service.MergeService, maxUploadBytes int64) *MergeHandler {
	return &MergeHandler{
		mergeService:   mergeService,
		maxUploadBytes: maxUploadBytes,
	}
}

// Merge handles POST /merge.
func (h *MergeHandler) Merge(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.ModeMerge)
}

// MergeReplaceAudio handles POST /merge-replace-audio.
func (h *MergeHandler) MergeReplaceAudio(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.ModeReplaceAudio)
}

// LoopVideoToAudio handles POST /loop-video-to-audio.
func (h *MergeHandler) LoopVideoToAudio(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.ModeLoopToAudio)
}

func (h *MergeHandler) submit(w http.ResponseWriter, r *http.Request, mode domain.Mode) {
	log := logger.FromContext(r.Context())

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			shared.RespondWithErrorAndLog(w, r, http.StatusRequestEntityTooLarge, "Upload too large", err)
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Warn("failed to remove multipart temp files", "error", err)
		}
	}()

	video, videoHdr, err := formFile(r, VideoField)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	defer func() { _ = video.Close() }()

	audio, audioHdr, err := formFile(r, AudioField)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	defer func() { _ = audio.Close() }()

	t, err := h.mergeService.Submit(r.Context(), service.SubmitRequest{
		Mode:  mode,
		Video: service.Upload{Filename: videoHdr.Filename, Content: video},
		Audio: service.Upload{Filename: audioHdr.Filename, Content: audio},
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create merge task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, newSubmitResponse(t))
}
