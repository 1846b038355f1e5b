package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fosdem-friends/talktrack/internal/events"
)

func dialEventStream(t *testing.T, es *EventStream) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(es.Handler))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventStream_PushesScheduleLoaded(t *testing.T) {
	_, s := newTestHandlers(t)
	es := NewEventStream(s, nil)
	defer es.Close()

	conn := dialEventStream(t, es)

	waitFor(t, func() bool { return es.ConnectionCount() == 1 })

	if err := s.LoadSchedule([]byte(testScheduleDoc)); err != nil {
		t.Fatalf("LoadSchedule() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal stream message: %v", err)
	}
	if msg.Event != events.ScheduleLoaded {
		t.Errorf("event = %q, want %q", msg.Event, events.ScheduleLoaded)
	}
}

func TestEventStream_PushesUserChanged(t *testing.T) {
	h, s := newTestHandlers(t)
	es := NewEventStream(s, nil)
	defer es.Close()

	conn := dialEventStream(t, es)
	waitFor(t, func() bool { return es.ConnectionCount() == 1 })

	w := httptest.NewRecorder()
	h.Register(w, registerRequest(t, "alice", "devroom", ""))
	if w.Code != 200 {
		t.Fatalf("registration failed: %d %s", w.Code, w.Body.String())
	}

	// Registration also fires auth and users events; scan for user_changed.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal stream message: %v", err)
		}
		if msg.Event == events.UserChanged {
			return
		}
	}
}

func TestEventStream_DisconnectDropsClient(t *testing.T) {
	_, s := newTestHandlers(t)
	es := NewEventStream(s, nil)
	defer es.Close()

	conn := dialEventStream(t, es)
	waitFor(t, func() bool { return es.ConnectionCount() == 1 })

	conn.Close()
	waitFor(t, func() bool { return es.ConnectionCount() == 0 })
}

func TestEventStream_CloseUnsubscribes(t *testing.T) {
	_, s := newTestHandlers(t)
	es := NewEventStream(s, nil)

	bus := s.Bus()
	if got := bus.SubscriberCount(events.ScheduleLoaded); got == 0 {
		t.Fatal("stream did not subscribe to schedule_loaded")
	}

	before := bus.SubscriberCount(events.ScheduleLoaded)
	es.Close()
	if got := bus.SubscriberCount(events.ScheduleLoaded); got != before-1 {
		t.Errorf("subscriber count after Close = %d, want %d", got, before-1)
	}
}
