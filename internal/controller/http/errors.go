package http

import (
	"errors"
	"net/http"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
	"github.com/vadim/neo-chat/internal/httpx/response"
)

// errorStatus maps a domain error to an HTTP status and a stable code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, entity.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, entity.ErrNotParticipant):
		return http.StatusForbidden, "not_participant"
	case entity.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case entity.IsValidation(err):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, entity.ErrAttachmentUploadFailed):
		return http.StatusBadGateway, "upload_failed"
	case errors.Is(err, entity.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// errorMessage hides internal details behind a generic message
func errorMessage(status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal server error"
	case http.StatusBadGateway:
		return entity.ErrAttachmentUploadFailed.Error()
	case http.StatusGatewayTimeout:
		return entity.ErrTimeout.Error()
	default:
		return err.Error()
	}
}

func handleChatError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	response.ErrorCode(w, status, code, errorMessage(status, err))
}
