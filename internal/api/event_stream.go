package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fosdem-friends/talktrack/internal/events"
	"github.com/fosdem-friends/talktrack/internal/middleware"
	"github.com/fosdem-friends/talktrack/internal/session"
)

// StreamMessage is the wire envelope for pushed session events.
type StreamMessage struct {
	Event   events.Event `json:"event"`
	Payload any          `json:"payload,omitempty"`
}

// streamedEvents is the set of bus events forwarded to WebSocket clients.
var streamedEvents = []events.Event{
	events.ScheduleLoaded,
	events.UserChanged,
	events.UsersUpdated,
	events.AttendanceUpdated,
	events.ViewChanged,
	events.AuthStateChanged,
}

// EventStream manages WebSocket connections and pushes session events to
// them as they happen, so clients never poll for group activity.
type EventStream struct {
	upgrader websocket.Upgrader
	metrics  *middleware.Metrics

	mu           sync.Mutex
	conns        map[*websocket.Conn]bool
	unsubscribes []func()
}

// NewEventStream creates an event stream fed by the session's bus.
// metrics may be nil in tests.
func NewEventStream(s *session.Session, metrics *middleware.Metrics) *EventStream {
	es := &EventStream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The daemon serves one trusted local client; cross-origin
			// policy is enforced by the CORS middleware in front.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics: metrics,
		conns:   make(map[*websocket.Conn]bool),
	}

	for _, event := range streamedEvents {
		ev := event
		es.unsubscribes = append(es.unsubscribes, s.On(ev, func(payload any) {
			es.broadcast(ev, payload)
		}))
	}
	return es
}

// Handler handles GET /v1/events - upgrades to a WebSocket and streams
// session events until the client disconnects.
func (es *EventStream) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := es.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	es.register(conn)
	defer es.unregister(conn)

	// Clients only listen; the read loop exists to notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (es *EventStream) register(conn *websocket.Conn) {
	es.mu.Lock()
	es.conns[conn] = true
	count := len(es.conns)
	es.mu.Unlock()

	if es.metrics != nil {
		es.metrics.SetEventStreamClients(count)
	}
}

func (es *EventStream) unregister(conn *websocket.Conn) {
	es.mu.Lock()
	delete(es.conns, conn)
	count := len(es.conns)
	es.mu.Unlock()

	conn.Close()
	if es.metrics != nil {
		es.metrics.SetEventStreamClients(count)
	}
}

// broadcast sends one event to every connected client. Serialization happens
// once; the write lock also serializes access to each connection, which
// gorilla requires.
func (es *EventStream) broadcast(event events.Event, payload any) {
	data, err := json.Marshal(StreamMessage{Event: event, Payload: payload})
	if err != nil {
		slog.Error("failed to marshal stream message", "event", string(event), "error", err)
		return
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	for conn := range es.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Warn("failed to push event to websocket client",
				"event", string(event),
				"error", err,
			)
			// The read loop will notice the dead connection and clean up.
		}
	}
}

// ConnectionCount returns the number of connected clients.
func (es *EventStream) ConnectionCount() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.conns)
}

// Close unsubscribes from the bus and drops all client connections.
func (es *EventStream) Close() {
	for _, unsub := range es.unsubscribes {
		unsub()
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	for conn := range es.conns {
		conn.Close()
	}
	es.conns = make(map[*websocket.Conn]bool)
}
