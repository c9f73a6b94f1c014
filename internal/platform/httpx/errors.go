// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Unclassified errors get a generic 500 so internals never leak.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	switch {
	case status == http.StatusInternalServerError:
		Problem(w, status, "Internal Error", "something went wrong, please try again later")
	case errors.Is(err, db.ErrConflict), errors.Is(err, shared.ErrLockHeld):
		Problem(w, status, "Conflict", "the resource was modified concurrently; reload and retry")
	default:
		Problem(w, status, titleFor(status), err.Error())
	}
}

// Error logs and reports unexpected failures before delegating to RespondError.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if StatusOf(err) >= http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
	}
	RespondError(w, err)
}

// StatusOf returns the status RespondError would write for err.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, access.ErrNotFound), errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, shared.ErrDuplicate), errors.Is(err, access.ErrInvalidState), errors.Is(err, db.ErrConflict),
		errors.Is(err, shared.ErrLockHeld), errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden), errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials), errors.Is(err, shared.ErrSessionExpired):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func titleFor(status int) string {
	switch status {
	case http.StatusNotFound:
		return "Not Found"
	case http.StatusConflict:
		return "Invalid State"
	case http.StatusBadRequest:
		return "Validation Failed"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusUnauthorized:
		return "Unauthorized"
	}
	return http.StatusText(status)
}
