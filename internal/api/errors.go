package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/avmerge/internal/api/shared"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/service"
	"github.com/phrazzld/avmerge/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrOutputGone),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict

	case errors.Is(err, service.ErrBusy):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return SanitizeValidationError(verr)
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return "Validation error"
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, service.ErrOutputGone),
		errors.Is(err, store.ErrOutputNotFound):
		return "Output file not found"
	case errors.Is(err, domain.ErrNotReady):
		return "Task output is not ready"
	case errors.Is(err, service.ErrBusy):
		return "Server is busy, try again later"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError renders a validation error for clients. Field
// errors are built from our own field names and allow-lists; anything without
// a field may carry library text and is replaced.
func SanitizeValidationError(verr *domain.ValidationError) string {
	if verr.Field == "" {
		return "Validation error"
	}
	return verr.Error()
}

// HandleAPIError maps err to a status code and safe message and writes the
// response. fallbackMsg replaces the generic message for 500s.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallbackMsg != "" {
		msg = fallbackMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}
