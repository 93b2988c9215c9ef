package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/recur-api/internal/domain"
	"github.com/phrazzld/recur-api/internal/recurrence"
	"github.com/phrazzld/recur-api/internal/store"
)

// MapErrorToStatusCode translates domain and store errors into HTTP status
// codes. Unrecognized errors map to 500.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, recurrence.ErrInvalidRule):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-safe message for an error. Internal
// details are only exposed for well-known error categories.
func GetSafeErrorMessage(err error) string {
	switch MapErrorToStatusCode(err) {
	case http.StatusNotFound:
		return "Resource not found"
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusUnauthorized:
		return "Unauthorized"
	default:
		return "An internal error occurred"
	}
}
