package health

import (
	"context"

	"github.com/fosdem-friends/talktrack/internal/store"
)

// StoreChecker implements health checking for the attendance key-tree store,
// independent of which backend is configured. A store that can report its
// server time can serve reads and writes.
type StoreChecker struct {
	store store.Store
}

// NewStoreChecker creates a new attendance store health checker.
func NewStoreChecker(st store.Store) *StoreChecker {
	return &StoreChecker{
		store: st,
	}
}

// HealthCheck probes the store by requesting its server timestamp.
func (s *StoreChecker) HealthCheck(ctx context.Context) error {
	_, err := s.store.Now(ctx)
	return err
}
