package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fosdem-friends/talktrack/internal/schedule"
	"github.com/fosdem-friends/talktrack/internal/view"
)

// maxScheduleBytes caps schedule uploads. Conference schedules run a few
// megabytes at most.
const maxScheduleBytes = 32 << 20

// LoadSchedule handles POST /v1/schedule - installs a schedule document.
// The body is the raw XML document.
func (h *Handlers) LoadSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}

	doc, err := io.ReadAll(io.LimitReader(r.Body, maxScheduleBytes))
	if err != nil {
		fail(w, r, ErrCodeBadRequest, "Failed to read request body")
		return
	}

	if err := h.session.LoadSchedule(doc); err != nil {
		if errors.Is(err, schedule.ErrMalformed) {
			fail(w, r, ErrCodeMalformedSchedule, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "schedule load failed", "error", err)
		fail(w, r, ErrCodeInternal, "Failed to load schedule")
		return
	}

	if h.metrics != nil {
		h.metrics.IncScheduleLoads()
	}

	writeJSON(w, r, http.StatusOK, map[string]bool{"loaded": true})
}

// SetView handles PUT /v1/view - switches the active view.
func (h *Handlers) SetView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r)
		return
	}

	var req struct {
		View string `json:"view"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if err := h.session.SetCurrentView(view.View(req.View)); err != nil {
		fail(w, r, ErrCodeValidation, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"view": req.View})
}

// Filter handles PUT and DELETE /v1/filter - sets or clears the friends-view
// filter.
func (h *Handlers) Filter(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		var req struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			fail(w, r, ErrCodeBadRequest, "Invalid JSON in request body")
			return
		}
		if err := h.session.SetFilter(view.FilterType(req.Type), req.Value); err != nil {
			fail(w, r, ErrCodeValidation, err.Error())
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"type": req.Type, "value": req.Value})
	case http.MethodDelete:
		h.session.ClearFilter()
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r)
	}
}

// Search handles PUT /v1/search - updates the search query. An empty query
// clears the search.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r)
		return
	}

	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	h.session.SetSearchQuery(req.Query)
	writeJSON(w, r, http.StatusOK, map[string]string{"query": req.Query})
}
