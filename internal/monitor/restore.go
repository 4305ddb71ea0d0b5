package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
)

// Default backfill bounds.
const (
	DefaultBackfillLookback = 60 * 24 * time.Hour
	DefaultBackfillLimit    = 1000
)

// Export returns the tank's durable state.
func (c *Coordinator) Export() domain.PersistedState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := domain.PersistedState{
		Version:          domain.StateVersion,
		ConsumptionDaily: c.consumption.Export(),
		RefillHistory:    make([]domain.StoredRefill, 0, len(c.refills)),
	}
	for _, r := range c.refills {
		state.RefillHistory = append(state.RefillHistory, domain.StoreRefill(r))
	}
	if !c.lastRefillAt.IsZero() {
		ts := domain.FormatTimestamp(c.lastRefillAt)
		state.LastRefill.Timestamp = &ts
	}
	if c.lastRefillVolume != nil {
		state.LastRefill.Volume = domain.Float(*c.lastRefillVolume)
	}
	if c.hasVolume {
		state.LastVolume = domain.Float(c.currentVolume)
	}
	return state
}

// Restore loads the persisted state of the tank. When nothing usable is
// stored it reconstructs the consumption ledger from the history source.
// Storage failures are logged and counted; the tank then starts empty.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.saver == nil {
		return c.Backfill(ctx)
	}
	state, err := c.saver.store.Load(ctx, StorageKey(c.tankID))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.logger.Info("no persisted state")
		return c.Backfill(ctx)
	case err != nil:
		c.persistFailed("load", err)
		return c.Backfill(ctx)
	case state.Version != domain.StateVersion:
		c.logger.Warn("ignoring persisted state with unknown version", "version", state.Version)
		return c.Backfill(ctx)
	}

	if err := c.apply(state); err != nil {
		c.persistFailed("load", err)
		return c.Backfill(ctx)
	}
	return nil
}

// apply replaces the ledgers with state. It validates everything before
// touching the coordinator so a malformed state leaves it unchanged.
func (c *Coordinator) apply(state domain.PersistedState) error {
	refills := make([]domain.RefillRecord, 0, len(state.RefillHistory))
	for _, sr := range state.RefillHistory {
		r, err := domain.LoadRefill(sr)
		if err != nil {
			return fmt.Errorf("restore refill history: %w", err)
		}
		if r.ID == "" {
			r.ID = c.newID()
		}
		refills = append(refills, r)
	}
	slices.SortStableFunc(refills, func(a, b domain.RefillRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	var lastRefillAt time.Time
	if state.LastRefill.Timestamp != nil {
		ts, err := domain.ParseTimestamp(*state.LastRefill.Timestamp)
		if err != nil {
			return fmt.Errorf("restore last refill: %w", err)
		}
		lastRefillAt = ts
	}

	consumption := domain.NewConsumptionTracker(
		c.settings.ConsumptionDays, c.settings.HistoryDays, c.settings.location())
	if err := consumption.Import(state.ConsumptionDaily); err != nil {
		return fmt.Errorf("restore consumption: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	consumption.Prune(now)
	c.consumption = consumption
	c.refills = refills
	c.pruneRefills(now)
	c.lastRefillAt = lastRefillAt
	c.lastRefillVolume = nil
	if state.LastRefill.Volume != nil {
		c.lastRefillVolume = domain.Float(*state.LastRefill.Volume)
	}
	if state.LastVolume != nil && !c.hasVolume {
		c.currentVolume = min(max(*state.LastVolume, 0), c.settings.Dimensions.Capacity())
		c.hasVolume = true
	}
	c.emit(now, domain.OutcomeRestored)
	c.logger.Info("state restored",
		"refills", len(c.refills),
		"consumption_days", c.consumption.Len(),
		"initialized", c.hasVolume,
	)
	return nil
}

// Backfill rebuilds the consumption ledger from up to BackfillLimit volume
// observations of the last BackfillLookback. Drops between successive
// observations smaller than the refill threshold count as consumption on
// the later observation's date. Drops below MinConsumption are skipped like
// negligible live readings, so sensor jitter does not accumulate; larger
// drops and any increase are skipped too.
func (c *Coordinator) Backfill(ctx context.Context) error {
	if c.history == nil {
		return nil
	}
	lookback, limit := c.settings.BackfillLookback, c.settings.BackfillLimit
	if lookback <= 0 {
		lookback = DefaultBackfillLookback
	}
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	now := c.clock.Now()
	obs, err := c.history.VolumeHistory(ctx, c.tankID, now.Add(-lookback), now, limit)
	if err != nil {
		c.persistFailed("backfill", err)
		return fmt.Errorf("backfill %q: %w", c.tankID, err)
	}
	slices.SortStableFunc(obs, func(a, b domain.VolumeObservation) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	var recorded int
	for i := 1; i < len(obs); i++ {
		drop := obs[i-1].Volume - obs[i].Volume
		if drop < c.settings.MinConsumption || drop >= c.settings.RefillThreshold {
			continue
		}
		if err := c.consumption.RecordAt(drop, obs[i].Timestamp, now); err != nil {
			c.logger.Warn("skipping backfill observation", "timestamp", obs[i].Timestamp, "error", err)
			continue
		}
		recorded++
	}
	c.logger.Info("consumption backfilled", "observations", len(obs), "recorded", recorded)
	if recorded > 0 {
		c.emit(now, domain.OutcomeRestored)
		c.scheduleSave()
	}
	return nil
}
