package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fosdem-friends/talktrack/internal/attendance"
)

// ToggleRequest represents the request body for toggling an attendance marker.
type ToggleRequest struct {
	Kind string `json:"kind"` // "going" or "here"
}

// Talks handles GET /v1/talks - the schedule filtered through the current
// view, search and filter.
func (h *Handlers) Talks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, h.session.FilteredTalks())
}

// MyTalks handles GET /v1/talks/mine - the current user's planned talks in
// schedule order.
func (h *Handlers) MyTalks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, h.session.MyTalks())
}

// TalkRoutes dispatches /v1/talks/{slug} and its subresources:
//
//	GET  /v1/talks/{slug}            - talk details
//	POST /v1/talks/{slug}/toggle     - flip an attendance marker
//	GET  /v1/talks/{slug}/attendees  - who holds a marker on the talk
func (h *Handlers) TalkRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/talks/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		fail(w, r, ErrCodeBadRequest, "Talk slug is required")
		return
	}
	slug := parts[0]

	switch {
	case len(parts) == 1:
		h.getTalk(w, r, slug)
	case len(parts) == 2 && parts[1] == "toggle":
		h.toggleAttendance(w, r, slug)
	case len(parts) == 2 && parts[1] == "attendees":
		h.attendees(w, r, slug)
	default:
		fail(w, r, ErrCodeNotFound, "The requested resource was not found")
	}
}

func (h *Handlers) getTalk(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	talk, ok := h.session.GetTalkBySlug(slug)
	if !ok {
		fail(w, r, ErrCodeNotFound, "Talk not found")
		return
	}
	writeJSON(w, r, http.StatusOK, talk)
}

func (h *Handlers) toggleAttendance(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	kind := attendance.Kind(strings.TrimSpace(req.Kind))
	if err := h.session.ToggleAttendance(r.Context(), slug, kind); err != nil {
		code := sessionErrorCode(err)
		if code == ErrCodeInternal {
			slog.ErrorContext(r.Context(), "attendance toggle failed", "error", err, "talk", slug)
			fail(w, r, code, "Failed to toggle attendance")
			return
		}
		fail(w, r, code, err.Error())
		return
	}

	if h.metrics != nil {
		h.metrics.IncAttendanceToggles(string(kind))
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"talk":      slug,
		"kind":      kind,
		"attending": h.session.IsUserAttending(slug, kind),
	})
}

func (h *Handlers) attendees(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	kind := attendance.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = attendance.Going
	}
	if !kind.Valid() {
		fail(w, r, ErrCodeValidation, "kind must be 'going' or 'here'")
		return
	}

	writeJSON(w, r, http.StatusOK, h.session.GetAttendees(slug, kind))
}

// Users handles GET /v1/users - every other member of the group.
func (h *Handlers) Users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, h.session.GetOtherUsers())
}

// UserRoutes dispatches /v1/users/{uid}/talks - a member's planned talks.
func (h *Handlers) UserRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "talks" {
		fail(w, r, ErrCodeNotFound, "The requested resource was not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	uid := parts[0]
	writeJSON(w, r, http.StatusOK, map[string]any{
		"uid":      uid,
		"nickname": h.session.GetNickname(uid),
		"talks":    h.session.TalksForUser(uid),
	})
}

// Here handles GET /v1/here - which talk each group member is at right now.
func (h *Handlers) Here(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, h.session.HereStatus())
}
