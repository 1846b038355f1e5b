package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fosdem-friends/talktrack/internal/view"
)

func TestLoadSchedule(t *testing.T) {
	h, s := newTestHandlers(t)

	req := httptest.NewRequest("POST", "/v1/schedule", strings.NewReader(testScheduleDoc))
	w := httptest.NewRecorder()
	h.LoadSchedule(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if !resp["loaded"] {
		t.Error("loaded = false")
	}
	if !s.State().ScheduleLoaded {
		t.Error("session did not record the schedule")
	}
}

func TestLoadSchedule_Malformed(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest("POST", "/v1/schedule", strings.NewReader("<schedule><unclosed"))
	w := httptest.NewRecorder()
	h.LoadSchedule(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Error.Code != ErrCodeMalformedSchedule {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeMalformedSchedule)
	}
}

func TestSetView(t *testing.T) {
	h, s := newTestHandlers(t)

	req := httptest.NewRequest("PUT", "/v1/view", strings.NewReader(`{"view":"myplan"}`))
	w := httptest.NewRecorder()
	h.SetView(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := s.State().View; got != view.MyPlan {
		t.Errorf("view = %q, want %q", got, view.MyPlan)
	}
}

func TestSetView_Invalid(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest("PUT", "/v1/view", strings.NewReader(`{"view":"bogus"}`))
	w := httptest.NewRecorder()
	h.SetView(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Error.Code != ErrCodeValidation {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeValidation)
	}
}

func TestFilter(t *testing.T) {
	h, s := newTestHandlers(t)

	req := httptest.NewRequest("PUT", "/v1/filter", strings.NewReader(`{"type":"user","value":"uid123"}`))
	w := httptest.NewRecorder()
	h.Filter(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if f := s.State().Filter; f.Type != view.FilterUser || f.Value != "uid123" {
		t.Errorf("filter = %+v", f)
	}

	w = httptest.NewRecorder()
	h.Filter(w, httptest.NewRequest("DELETE", "/v1/filter", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if f := s.State().Filter; f.Type != view.FilterNone {
		t.Errorf("filter after clear = %+v", f)
	}
}

func TestFilter_InvalidType(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest("PUT", "/v1/filter", strings.NewReader(`{"type":"track","value":"main"}`))
	w := httptest.NewRecorder()
	h.Filter(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearch(t *testing.T) {
	h, s := newTestHandlers(t)

	req := httptest.NewRequest("PUT", "/v1/search", strings.NewReader(`{"query":"keynote"}`))
	w := httptest.NewRecorder()
	h.Search(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := s.State().Search; got != "keynote" {
		t.Errorf("search = %q, want keynote", got)
	}

	// Empty query clears the search.
	w = httptest.NewRecorder()
	h.Search(w, httptest.NewRequest("PUT", "/v1/search", strings.NewReader(`{"query":""}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := s.State().Search; got != "" {
		t.Errorf("search after clear = %q", got)
	}
}
