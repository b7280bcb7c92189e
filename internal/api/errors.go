package api

import (
	"errors"
	"net/http"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/pkg/httpx"

	"go.uber.org/zap"
)

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrDuplicateSignature):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrWebhookAuthenticity):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrExternalProvider):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		message = "internal error"
	}
	httpx.WriteError(w, status, domain.ErrorCode(err), message, nil)
}

func badRequest(w http.ResponseWriter, message string, details any) {
	httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}
