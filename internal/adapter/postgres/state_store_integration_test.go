//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
)

func setupPool(t *testing.T) *Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tanks"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestStateStore_RoundTrip(t *testing.T) {
	pool := setupPool(t)
	store := NewStateStore(pool)
	ctx := context.Background()

	_, err := store.Load(ctx, "tank_monitor_missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	ts := "2026-03-01T08:00:00Z"
	state := domain.PersistedState{
		Version:          domain.StateVersion,
		ConsumptionDaily: map[string]float64{"2026-03-10": 12.5},
		RefillHistory: []domain.StoredRefill{
			{ID: "r1", Timestamp: ts, VolumeAdded: domain.Float(900), TotalVolume: 2400, Source: "detected"},
		},
		LastRefill: domain.StoredLastRefill{Timestamp: &ts, Volume: domain.Float(900)},
		LastVolume: domain.Float(2310.5),
	}
	require.NoError(t, store.Save(ctx, "tank_monitor_a", state))

	got, err := store.Load(ctx, "tank_monitor_a")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	state.ConsumptionDaily["2026-03-11"] = 3
	require.NoError(t, store.Save(ctx, "tank_monitor_a", state))
	got, err = store.Load(ctx, "tank_monitor_a")
	require.NoError(t, err)
	assert.Len(t, got.ConsumptionDaily, 2)
}
