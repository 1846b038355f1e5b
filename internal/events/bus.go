// Package events provides the in-process notification bus connecting state
// transitions to whatever is observing the session: projections, the HTTP
// event stream, tests.
package events

import "sync"

// Event names the fixed set of notifications the core emits.
type Event string

const (
	// ScheduleLoaded fires after a schedule document is parsed and installed.
	ScheduleLoaded Event = "schedule_loaded"
	// UserChanged fires when the active identity changes (register, restore, logout).
	UserChanged Event = "user_changed"
	// UsersUpdated fires on every live snapshot of the group's user map.
	UsersUpdated Event = "users_updated"
	// AttendanceUpdated fires on every live snapshot of the attendance tree.
	AttendanceUpdated Event = "attendance_updated"
	// ViewChanged fires when the current view selection changes.
	ViewChanged Event = "view_changed"
	// AuthStateChanged fires when the anonymous auth collaborator reports a
	// session state transition.
	AuthStateChanged Event = "auth_state_changed"
)

// Handler receives the payload published with an event.
type Handler func(payload any)

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe registry. Delivery happens inline
// on the publishing goroutine, in subscription order, with no batching or
// deduplication. Handlers must not block.
type Bus struct {
	mu          sync.RWMutex
	nextID      uint64
	subscribers map[Event][]subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Event][]subscriber)}
}

// Subscribe registers a handler for an event and returns a function that
// removes it again. Callers that never unsubscribe simply discard the
// return value.
func (b *Bus) Subscribe(event Event, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subscribers[event] = append(b.subscribers[event], subscriber{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[event]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers payload to every handler subscribed to event, in the
// order they subscribed.
func (b *Bus) Publish(event Event, payload any) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subscribers[event]))
	copy(subs, b.subscribers[event])
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(payload)
	}
}

// SubscriberCount returns the number of handlers registered for an event.
func (b *Bus) SubscriberCount(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[event])
}
