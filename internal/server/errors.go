package server

import (
	"errors"
	"net/http"

	"github.com/hyperjump/bunsho/internal/chat"
	"github.com/hyperjump/bunsho/internal/models"
)

// statusFor maps an error kind to an HTTP status and a client-facing message.
// Backend and persistence failures get a generic message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrIndexing):
		return http.StatusInternalServerError, chat.ErrIndexing.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrUnsupportedFormat),
		errors.Is(err, models.ErrExtractionEmpty):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrBackendUnavailable):
		return http.StatusInternalServerError, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
