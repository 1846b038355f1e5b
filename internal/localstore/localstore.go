// Package localstore is the tracker's local persistence: a small synchronous
// key-value store holding session-restore hints between runs. It is the Go
// rendition of the browser's localStorage and keeps the same keys.
package localstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Keys persisted across sessions.
const (
	// GroupKey holds the last joined group name.
	GroupKey = "fosdem_group"
	// NicknameKey holds the last used nickname, case-preserved.
	NicknameKey = "fosdem_nickname"
	// SessionKey holds the anonymous auth session token.
	SessionKey = "fosdem_session"
)

// Store is the local persistence contract. All operations are synchronous;
// Get returns the empty string for absent keys.
type Store interface {
	Get(key string) string
	Set(key, value string) error
	Delete(key string) error
}

// Memory is an in-memory Store for tests.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory local store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get returns the value for key, or "" when absent.
func (m *Memory) Get(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

// Set stores a value.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// File is a Store persisted as a single JSON file, rewritten atomically on
// every mutation. Suited to the handful of keys this system keeps.
type File struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// OpenFile loads (or initializes) a file-backed local store at path.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstore read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("localstore parse %s: %w", path, err)
	}
	return f, nil
}

// Get returns the value for key, or "" when absent.
func (f *File) Get(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key]
}

// Set stores a value and flushes to disk.
func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return f.flushLocked()
}

// Delete removes a key and flushes to disk.
func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.flushLocked()
}

// flushLocked writes the store through a temp file and rename. Caller holds
// f.mu.
func (f *File) flushLocked() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("localstore encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".localstore-*")
	if err != nil {
		return fmt.Errorf("localstore temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("localstore write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localstore close: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localstore rename: %w", err)
	}
	return nil
}
