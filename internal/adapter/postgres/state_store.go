package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
	"github.com/couchcryptid/tank-monitor-service/internal/monitor"
)

// StateStore keeps one JSONB document per storage key.
type StateStore struct {
	pool *Pool
}

// NewStateStore returns a StateStore backed by pool. Migrate must have run.
func NewStateStore(pool *Pool) *StateStore {
	return &StateStore{pool: pool}
}

var _ monitor.StateStore = (*StateStore)(nil)

// Load returns the state stored under key, or domain.ErrNotFound.
func (s *StateStore) Load(ctx context.Context, key string) (domain.PersistedState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM tank_state WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PersistedState{}, fmt.Errorf("load state %q: %w", key, domain.ErrNotFound)
		}
		return domain.PersistedState{}, fmt.Errorf("load state %q: %w", key, err)
	}
	return decodeState(key, raw)
}

// Save upserts the state under key.
func (s *StateStore) Save(ctx context.Context, key string, state domain.PersistedState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state %q: %w", key, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tank_state (key, state, version, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET state = EXCLUDED.state,
		    version = EXCLUDED.version,
		    updated_at = NOW()
	`, key, raw, state.Version)
	if err != nil {
		return fmt.Errorf("save state %q: %w", key, err)
	}
	return nil
}

func decodeState(key string, raw []byte) (domain.PersistedState, error) {
	var state domain.PersistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.PersistedState{}, fmt.Errorf("decode state %q: %w", key, errors.Join(domain.ErrInvalidState, err))
	}
	return state, nil
}
