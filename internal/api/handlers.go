package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fosdem-friends/talktrack/internal/middleware"
	"github.com/fosdem-friends/talktrack/internal/quota"
	"github.com/fosdem-friends/talktrack/internal/session"
)

// Handlers holds dependencies for the tracker HTTP handlers.
type Handlers struct {
	session *session.Session
	metrics *middleware.Metrics
}

// NewHandlers creates a Handlers instance. metrics may be nil in tests.
func NewHandlers(s *session.Session, metrics *middleware.Metrics) *Handlers {
	return &Handlers{
		session: s,
		metrics: metrics,
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already started; nothing to do but log.
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// fail writes a standardized error response and records the error code for
// the request log line.
func fail(w http.ResponseWriter, r *http.Request, code, message string) {
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, StatusCodeMapping(code), code, message)
}

// sessionErrorCode maps protocol errors to API error codes.
func sessionErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		return ErrCodeValidation
	case errors.Is(err, session.ErrAuth):
		return ErrCodeAuthFailed
	case errors.Is(err, session.ErrIncorrectPin), errors.Is(err, session.ErrPinRequired):
		return ErrCodeIncorrectPin
	case errors.Is(err, session.ErrNotJoined):
		return ErrCodeNotJoined
	case errors.Is(err, quota.ErrQuotaExceeded):
		return ErrCodeQuotaExceeded
	case errors.Is(err, quota.ErrNotAllowed):
		return ErrCodeGroupNotAllowed
	default:
		return ErrCodeInternal
	}
}

// methodNotAllowed rejects a request with the wrong verb.
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
	WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
}
