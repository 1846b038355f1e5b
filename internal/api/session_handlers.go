package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fosdem-friends/talktrack/internal/middleware"
	"github.com/fosdem-friends/talktrack/internal/quota"
)

// RegisterRequest represents the request body for claiming a nickname.
type RegisterRequest struct {
	Nickname string `json:"nickname"`
	Group    string `json:"group"`
	Pin      string `json:"pin,omitempty"`
}

// GetSession handles GET /v1/session - reports the current session state.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, h.session.State())
}

// Register handles POST /v1/register - claims or reclaims a nickname in a group.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	reg, err := h.session.Register(r.Context(), req.Nickname, req.Group, req.Pin)
	if err != nil {
		code := sessionErrorCode(err)
		if h.metrics != nil {
			switch {
			case errors.Is(err, quota.ErrQuotaExceeded):
				h.metrics.IncQuotaRejections("quota")
			case errors.Is(err, quota.ErrNotAllowed):
				h.metrics.IncQuotaRejections("allowlist")
			}
		}
		if code == ErrCodeInternal {
			slog.ErrorContext(r.Context(), "registration failed", "error", err, "group", req.Group)
			fail(w, r, code, "Failed to register")
			return
		}
		fail(w, r, code, err.Error())
		return
	}

	if h.metrics != nil {
		outcome := "new"
		if reg.Existing {
			outcome = "existing"
		}
		h.metrics.IncRegistrations(outcome)
	}

	// Tag the request log line with the claimed identity.
	middleware.UpdateResponseContext(w, middleware.SetUserUID(r.Context(), reg.UID))

	writeJSON(w, r, http.StatusOK, reg)
}

// Logout handles POST /v1/logout - drops the active session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	h.session.Logout()
	w.WriteHeader(http.StatusNoContent)
}

// AvailabilityResponse wraps the quota availability report.
type AvailabilityResponse struct {
	Group string `json:"group"`
	quota.Availability
}

// Availability handles GET /v1/groups/availability?group= - reports whether a
// group can accept a new member, without registering.
func (h *Handlers) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	group := strings.TrimSpace(r.URL.Query().Get("group"))
	if group == "" {
		fail(w, r, ErrCodeValidation, "group query parameter is required")
		return
	}

	avail, err := h.session.Availability(r.Context(), group)
	if err != nil {
		slog.ErrorContext(r.Context(), "availability check failed", "error", err, "group", group)
		fail(w, r, ErrCodeInternal, "Failed to check availability")
		return
	}

	writeJSON(w, r, http.StatusOK, AvailabilityResponse{Group: group, Availability: avail})
}

// SavedSession handles GET /v1/session/saved - reports the persisted group
// hint, if any, so a client can offer to resume.
func (h *Handlers) SavedSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	group := h.session.CheckSavedSession()
	writeJSON(w, r, http.StatusOK, map[string]string{"group": group})
}

// Restore handles POST /v1/session/restore - re-enters a persisted session.
// A missing or stale hint is not an error; the response says whether a
// session came back.
func (h *Handlers) Restore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}

	reg := h.session.Restore(r.Context())
	if reg == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"restored": false})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"restored": true, "session": reg})
}
