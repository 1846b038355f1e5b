// Package store defines the contract for the external key-tree data store
// the tracker delegates persistence and real-time fan-out to, plus an
// in-memory implementation used by tests and single-node development.
//
// Paths are slash-separated, rooted at "groups/{group}/...". Writes are
// last-write-wins with no transactions; concurrent writers race and the
// store keeps whichever arrives last. Live subscriptions deliver whole
// subtree snapshots, not deltas.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when no value exists at the path.
var ErrNotFound = errors.New("store: not found")

// Snapshot is the full contents of a subtree, keyed by path relative to the
// watched prefix.
type Snapshot map[string][]byte

// Store is the external store collaborator contract.
type Store interface {
	// Get reads the value at an exact path. Returns ErrNotFound when absent.
	Get(ctx context.Context, path string) ([]byte, error)

	// List reads every value under prefix, keyed by relative path.
	// An empty subtree yields an empty map, not an error.
	List(ctx context.Context, prefix string) (Snapshot, error)

	// Set writes a value at a path, creating or overwriting it.
	Set(ctx context.Context, path string, value []byte) error

	// Delete removes the value at a path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error

	// Now returns the store's server-assigned time. Timestamps recorded in
	// the tree come from here, never from the client's clock.
	Now(ctx context.Context) (time.Time, error)

	// Watch subscribes to a subtree. The channel receives the current
	// snapshot immediately, then a fresh snapshot after every relevant
	// change. Consecutive changes may coalesce into one snapshot. The
	// channel closes when ctx is cancelled.
	Watch(ctx context.Context, prefix string) (<-chan Snapshot, error)
}

// Join builds a slash path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// UnderPrefix reports whether path sits at or below prefix.
func UnderPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Memory is an in-memory Store. Thread-safe via RWMutex. Watch snapshots
// coalesce under write bursts the same way the managed store's do.
type Memory struct {
	mu       sync.RWMutex
	values   map[string][]byte
	watchers []*memoryWatcher
}

type memoryWatcher struct {
	prefix string
	notify chan struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

// Get reads the value at an exact path.
func (m *Memory) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[path]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// List reads every value under prefix.
func (m *Memory) List(ctx context.Context, prefix string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(prefix), nil
}

// snapshotLocked collects the subtree under prefix. Caller holds m.mu.
func (m *Memory) snapshotLocked(prefix string) Snapshot {
	snap := make(Snapshot)
	for path, value := range m.values {
		if !UnderPrefix(path, prefix) {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
		out := make([]byte, len(value))
		copy(out, value)
		snap[rel] = out
	}
	return snap
}

// Set writes a value at a path.
func (m *Memory) Set(ctx context.Context, path string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.values[path] = stored
	m.mu.Unlock()

	m.notifyWatchers(path)
	return nil
}

// Delete removes the value at a path.
func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	_, existed := m.values[path]
	delete(m.values, path)
	m.mu.Unlock()

	if existed {
		m.notifyWatchers(path)
	}
	return nil
}

// Now returns the current time. The in-memory store is its own server.
func (m *Memory) Now(ctx context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

// Watch subscribes to a subtree.
func (m *Memory) Watch(ctx context.Context, prefix string) (<-chan Snapshot, error) {
	w := &memoryWatcher{
		prefix: prefix,
		notify: make(chan struct{}, 1),
	}

	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer m.removeWatcher(w)

		// Initial snapshot, then one per coalesced change.
		for {
			m.mu.RLock()
			snap := m.snapshotLocked(prefix)
			m.mu.RUnlock()

			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}

			select {
			case <-w.notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (m *Memory) notifyWatchers(path string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.watchers {
		if UnderPrefix(path, w.prefix) {
			select {
			case w.notify <- struct{}{}:
			default:
			}
		}
	}
}

func (m *Memory) removeWatcher(w *memoryWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.watchers {
		if existing == w {
			m.watchers = append(m.watchers[:i:i], m.watchers[i+1:]...)
			return
		}
	}
}
