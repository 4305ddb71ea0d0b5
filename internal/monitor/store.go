package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
)

// StateStore persists one PersistedState per key.
type StateStore interface {
	// Load returns domain.ErrNotFound when nothing is stored under key.
	Load(ctx context.Context, key string) (domain.PersistedState, error)
	Save(ctx context.Context, key string, state domain.PersistedState) error
}

// HistorySource serves historical volume observations for backfill.
type HistorySource interface {
	VolumeHistory(ctx context.Context, tankID string, from, to time.Time, limit int) ([]domain.VolumeObservation, error)
}

// StorageKey namespaces a tank's persisted state.
func StorageKey(tankID string) string {
	return "tank_monitor_" + tankID
}

// MemoryStore is a StateStore kept in process memory. States are stored in
// their JSON encoding so callers never share maps or slices with the store.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

// Load implements StateStore.
func (s *MemoryStore) Load(_ context.Context, key string) (domain.PersistedState, error) {
	s.mu.Lock()
	data, ok := s.states[key]
	s.mu.Unlock()
	if !ok {
		return domain.PersistedState{}, fmt.Errorf("load state %q: %w", key, domain.ErrNotFound)
	}
	var state domain.PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.PersistedState{}, fmt.Errorf("decode state %q: %w", key, err)
	}
	return state, nil
}

// Save implements StateStore.
func (s *MemoryStore) Save(ctx context.Context, key string, state domain.PersistedState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state %q: %w", key, err)
	}
	s.mu.Lock()
	s.states[key] = data
	s.mu.Unlock()
	return nil
}
