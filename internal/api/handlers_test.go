package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fosdem-friends/talktrack/internal/auth"
	"github.com/fosdem-friends/talktrack/internal/localstore"
	"github.com/fosdem-friends/talktrack/internal/session"
	"github.com/fosdem-friends/talktrack/internal/store"
)

const testScheduleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<schedule>
  <tracks>
    <track slug="main">Main Track</track>
  </tracks>
  <events>
    <event>
      <slug>keynote</slug>
      <title>Opening Keynote</title>
      <track slug="main">Main Track</track>
      <date>2026-02-07</date>
      <start>09:00</start>
      <duration>00:50</duration>
      <room>Janson</room>
    </event>
    <event>
      <slug>closing</slug>
      <title>Closing Session</title>
      <track slug="main">Main Track</track>
      <date>2026-02-08</date>
      <start>17:00</start>
      <duration>00:30</duration>
      <room>Janson</room>
    </event>
  </events>
</schedule>`

func newTestHandlers(t *testing.T) (*Handlers, *session.Session) {
	t.Helper()

	st := store.NewMemory()
	local := localstore.NewMemory()
	issuer, err := auth.NewIssuer("test-secret", local)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	s, err := session.New(session.Options{Store: st, Auth: issuer, Local: local})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	return NewHandlers(s, nil), s
}

// decodeErrorResponse parses a standard error envelope from a recorder.
func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal error response %q: %v", w.Body.String(), err)
	}
	return resp
}

// waitFor polls cond for up to two seconds. The session's group mirrors are
// fed by store watches, so reads can lag a write briefly.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
