package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
	"github.com/couchcryptid/tank-monitor-service/internal/observability"
)

// Plausible range for an ambient or fuel temperature sensor.
const (
	minTemperature = -90.0
	maxTemperature = 150.0
)

// Coordinator turns one tank's raw sensor readings into snapshots.
//
// All state lives behind a single mutex, so cycles for a tank are strictly
// serialized even when readings arrive from several goroutines. Persistence
// runs outside the lock on the saver's goroutine.
type Coordinator struct {
	mu sync.Mutex

	tankID   string
	settings Settings
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	history  HistorySource
	saver    *deferredSaver
	newID    func() string

	buffer      *ReadingBuffer
	consumption *domain.ConsumptionTracker
	refill      *domain.RefillStabilizer
	refills     []domain.RefillRecord

	currentVolume  float64
	hasVolume      bool
	temperature    float64
	hasTemperature bool
	lastProcessed  time.Time

	lastRefillAt     time.Time
	lastRefillVolume *float64

	latest domain.Snapshot
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source for debounce and persistence timers.
func WithClock(c clockwork.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger sets the logger. The tank id is attached to every entry.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithMetrics enables refill, consumption and persistence metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// WithStateStore persists the tank's ledgers to store, coalescing writes
// for the given delay.
func WithStateStore(store StateStore, delay time.Duration) Option {
	return func(co *Coordinator) {
		co.saver = &deferredSaver{store: store, delay: delay}
	}
}

// WithHistorySource enables backfilling the consumption ledger from an
// observation store when no persisted state exists.
func WithHistorySource(h HistorySource) Option {
	return func(co *Coordinator) { co.history = h }
}

// NewCoordinator validates settings and returns a coordinator with empty state.
func NewCoordinator(tankID string, settings Settings, opts ...Option) (*Coordinator, error) {
	if tankID == "" {
		return nil, fmt.Errorf("create coordinator: missing tank id")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("create coordinator %q: %w", tankID, err)
	}
	c := &Coordinator{
		tankID:   tankID,
		settings: settings,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		newID:    uuid.NewString,
		buffer:   NewReadingBuffer(settings.BufferSize),
		consumption: domain.NewConsumptionTracker(
			settings.ConsumptionDays, settings.HistoryDays, settings.location()),
		refill: domain.NewRefillStabilizer(domain.RefillStabilizerConfig{
			StabilizationPeriod: settings.StabilizationPeriod,
			StabilityThreshold:  settings.StabilityThreshold,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("tank_id", tankID)
	if c.saver != nil {
		c.saver.clock = c.clock
		c.saver.logger = c.logger
		c.saver.key = StorageKey(tankID)
		c.saver.export = c.Export
		c.saver.onError = c.persistFailed
	}
	c.latest = c.buildSnapshot(c.clock.Now(), "")
	return c, nil
}

// TankID returns the tank this coordinator owns.
func (c *Coordinator) TankID() string { return c.tankID }

// Settings returns the tank's configuration.
func (c *Coordinator) Settings() Settings { return c.settings }

// Process dispatches a parsed sensor event.
func (c *Coordinator) Process(ev domain.SensorEvent) (domain.Snapshot, error) {
	switch ev.Kind {
	case domain.SensorAirGap:
		if !ev.Available {
			return c.Unavailable(ev.Timestamp), nil
		}
		return c.ProcessAirGap(ev.Value, ev.Timestamp)
	case domain.SensorTemperature:
		if !ev.Available {
			return c.TemperatureUnavailable(ev.Timestamp), nil
		}
		return c.ProcessTemperature(ev.Value, ev.Timestamp)
	default:
		return c.Snapshot(), fmt.Errorf("process %q reading: %w", ev.Kind, domain.ErrInvalidReading)
	}
}

// ProcessAirGap runs one processing cycle for an air gap reading in cm.
// A zero ts means now. Invalid readings abort the cycle without touching
// state and return the previous snapshot with an ErrInvalidReading error.
func (c *Coordinator) ProcessAirGap(airGapCM float64, ts time.Time) (domain.Snapshot, error) {
	if math.IsNaN(airGapCM) || math.IsInf(airGapCM, 0) || airGapCM < 0 {
		c.logger.Warn("invalid air gap reading", "air_gap_cm", airGapCM)
		return c.Snapshot(), fmt.Errorf("process air gap %v cm: %w", airGapCM, domain.ErrInvalidReading)
	}
	return c.processVolume(c.settings.Dimensions.Volume(airGapCM), ts), nil
}

func (c *Coordinator) processVolume(volume float64, ts time.Time) domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.stamp(ts)
	return c.emit(now, c.classify(volume, now))
}

// ProcessTemperature records a temperature in °C. A zero ts means now.
func (c *Coordinator) ProcessTemperature(celsius float64, ts time.Time) (domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if math.IsNaN(celsius) || celsius < minTemperature || celsius > maxTemperature {
		c.logger.Warn("invalid temperature reading", "temperature_c", celsius)
		return c.latest, fmt.Errorf("process temperature %v °C: %w", celsius, domain.ErrInvalidReading)
	}
	c.temperature = celsius
	c.hasTemperature = true
	return c.emit(c.stamp(ts), domain.OutcomeTemperature), nil
}

// TemperatureUnavailable forgets the last temperature; snapshots omit the
// normalized volume until a new temperature arrives.
func (c *Coordinator) TemperatureUnavailable(ts time.Time) domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hasTemperature = false
	return c.emit(c.stamp(ts), domain.OutcomeUnavailable)
}

// Unavailable handles an air gap sensor reporting an unknown state. The
// cycle is aborted and the state is left as it was.
func (c *Coordinator) Unavailable(ts time.Time) domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("air gap sensor unavailable")
	return c.emit(c.stamp(ts), domain.OutcomeUnavailable)
}

// RecordRefill records a manual refill and bypasses stabilization. With a
// volume, the liters are added to the current volume (capped at capacity).
// Without one, the refill is logged at the current volume with an unknown
// added amount. Any refill in progress is abandoned.
func (c *Coordinator) RecordRefill(volume *float64, ts time.Time) (domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if volume != nil && (math.IsNaN(*volume) || math.IsInf(*volume, 0) || *volume <= 0) {
		return c.latest, fmt.Errorf("record refill of %v L: %w", *volume, domain.ErrInvalidReading)
	}
	now := c.stamp(ts)

	if c.refill.InProgress() {
		c.logger.Info("abandoning detected refill for manual refill")
		c.refill.Reset()
	}

	switch {
	case volume != nil:
		total := *volume
		if c.hasVolume {
			total += c.currentVolume
		}
		total = min(total, c.settings.Dimensions.Capacity())
		c.currentVolume = total
		c.hasVolume = true
		c.appendRefill(now, domain.Float(*volume), total, domain.RefillManual)
	case c.hasVolume:
		c.appendRefill(now, nil, c.currentVolume, domain.RefillManual)
	default:
		c.logger.Warn("manual refill without volume before first reading; ignored")
		return c.emit(now, domain.OutcomeManualRefill), nil
	}

	c.lastProcessed = now
	c.afterRefill()
	var added any = "unknown"
	if volume != nil {
		added = *volume
	}
	c.logger.Info("manual refill recorded", "volume_added", added, "total_volume", c.currentVolume)
	return c.emit(now, domain.OutcomeManualRefill), nil
}

// Snapshot returns the snapshot of the last processing cycle.
func (c *Coordinator) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// RefillHistory returns the refill log, oldest first.
func (c *Coordinator) RefillHistory() []domain.RefillRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.RefillRecord, len(c.refills))
	for i, r := range c.refills {
		out[i] = r
		if r.VolumeAdded != nil {
			out[i].VolumeAdded = domain.Float(*r.VolumeAdded)
		}
	}
	return out
}

// ConsumptionHistory returns the daily consumption ledger, oldest first.
func (c *Coordinator) ConsumptionHistory() []domain.DailyConsumption {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumption.Prune(c.clock.Now())
	return c.consumption.History()
}

// classify runs the volume part of a cycle and returns what it did.
func (c *Coordinator) classify(volume float64, now time.Time) domain.Outcome {
	if last, ok := c.buffer.Latest(); ok {
		if now.Equal(last.Timestamp) && volume == last.Volume {
			return domain.OutcomeDuplicate
		}
		if now.Before(last.Timestamp) {
			c.logger.Debug("stale reading ignored", "timestamp", now, "latest", last.Timestamp)
			return domain.OutcomeStale
		}
	}
	c.buffer.Add(Reading{Timestamp: now, Volume: volume})

	if !c.hasVolume {
		c.currentVolume = volume
		c.hasVolume = true
		c.lastProcessed = now
		c.scheduleSave()
		c.logger.Info("tank initialized", "volume", volume)
		return domain.OutcomeInitialized
	}

	if c.refill.InProgress() {
		c.refill.Add(volume)
		if c.refill.ShouldFinalize(now) {
			c.finalizeRefill(now)
			return domain.OutcomeRefillFinalized
		}
		return domain.OutcomeStabilizing
	}

	if volume-c.currentVolume > c.settings.RefillThreshold {
		c.refill.Start(c.currentVolume, volume, now)
		c.logger.Info("refill detected", "pre_refill_volume", c.currentVolume, "reading", volume)
		return domain.OutcomeRefillStarted
	}

	if now.Sub(c.lastProcessed) < c.settings.DebounceInterval {
		return domain.OutcomeDebounced
	}
	c.lastProcessed = now

	smoothed := c.buffer.Median(c.settings.BufferSize)
	delta := smoothed - c.currentVolume
	switch {
	case delta > 0 && delta < c.settings.NoiseThreshold:
		c.logger.Debug("volume increase within noise", "delta", delta)
		return domain.OutcomeNoise
	case delta >= c.settings.NoiseThreshold:
		c.logger.Warn("unexpected volume increase", "delta", delta, "volume", smoothed)
		c.currentVolume = smoothed
		c.scheduleSave()
		return domain.OutcomeUnexpectedIncrease
	case -delta >= c.settings.MinConsumption:
		if err := c.consumption.Record(-delta, now); err != nil {
			c.logger.Error("record consumption", "error", err)
			return domain.OutcomeNegligible
		}
		c.currentVolume = smoothed
		if c.metrics != nil {
			c.metrics.ConsumptionLiters.WithLabelValues(c.tankID).Add(-delta)
		}
		c.logger.Debug("consumption recorded", "liters", -delta, "volume", smoothed)
		c.scheduleSave()
		return domain.OutcomeConsumption
	default:
		c.currentVolume = smoothed
		return domain.OutcomeNegligible
	}
}

func (c *Coordinator) finalizeRefill(now time.Time) {
	res := c.refill.Finalize()
	c.currentVolume = res.StableVolume
	c.lastProcessed = now
	c.buffer.DropBefore(res.StartedAt)
	c.appendRefill(now, domain.Float(res.Delta), res.StableVolume, domain.RefillDetected)
	c.afterRefill()
	c.logger.Info("refill finalized",
		"pre_refill_volume", res.PreRefillVolume,
		"stable_volume", res.StableVolume,
		"volume_added", res.Delta,
		"readings", res.Readings,
		"stable", res.Stable,
	)
}

func (c *Coordinator) afterRefill() {
	if c.settings.ClearConsumptionOnRefill {
		c.consumption.Reset()
	}
	c.scheduleSave()
}

func (c *Coordinator) appendRefill(now time.Time, added *float64, total float64, source domain.RefillSource) {
	c.refills = append(c.refills, domain.RefillRecord{
		ID:               c.newID(),
		Timestamp:        now,
		VolumeAdded:      added,
		TotalVolumeAfter: total,
		Source:           source,
	})
	c.pruneRefills(now)
	c.lastRefillAt = now
	// Liters added by the last refill; nil when a manual refill gave no amount.
	c.lastRefillVolume = nil
	if added != nil {
		c.lastRefillVolume = domain.Float(*added)
	}
	if c.metrics != nil {
		c.metrics.Refills.WithLabelValues(c.tankID, string(source)).Inc()
	}
}

func (c *Coordinator) pruneRefills(now time.Time) {
	if c.settings.RefillRetention > 0 {
		cutoff := now.Add(-c.settings.RefillRetention)
		c.refills = slices.DeleteFunc(c.refills, func(r domain.RefillRecord) bool {
			return r.Timestamp.Before(cutoff)
		})
	}
	if limit := c.settings.RefillHistoryMax; limit > 0 && len(c.refills) > limit {
		c.refills = slices.Clone(c.refills[len(c.refills)-limit:])
	}
}

func (c *Coordinator) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return c.clock.Now()
	}
	return ts
}

// emit builds the cycle's snapshot and remembers it.
func (c *Coordinator) emit(now time.Time, outcome domain.Outcome) domain.Snapshot {
	c.latest = c.buildSnapshot(now, outcome)
	return c.latest
}

func (c *Coordinator) buildSnapshot(now time.Time, outcome domain.Outcome) domain.Snapshot {
	s := domain.Snapshot{
		TankID:      c.tankID,
		At:          now,
		Outcome:     outcome,
		RefillState: c.refill.State(),
		Initialized: c.hasVolume,
		Capacity:    c.settings.Dimensions.Capacity(),

		DailyConsumption:        c.consumption.Daily(now),
		AverageDailyConsumption: c.consumption.AverageDaily(now),
		MonthlyConsumption:      c.consumption.Monthly(now),
	}
	s.DailyEnergyKWh = s.DailyConsumption * domain.KeroseneKWhPerLiter

	if c.hasVolume {
		s.MeasuredVolume = c.currentVolume
		if days, ok := c.consumption.DaysUntilEmpty(now, c.currentVolume); ok {
			s.DaysUntilEmpty = domain.Float(days)
		}
	}
	if c.settings.TemperatureEnabled && c.hasTemperature {
		s.Temperature = domain.Float(c.temperature)
		if c.hasVolume {
			s.NormalizedVolume = domain.Float(domain.NormalizeVolume(
				c.currentVolume, s.Temperature, c.settings.ReferenceTemperature))
		}
	}
	if !c.lastRefillAt.IsZero() {
		at := c.lastRefillAt
		s.LastRefillAt = &at
	}
	if c.lastRefillVolume != nil {
		s.LastRefillVolume = domain.Float(*c.lastRefillVolume)
	}
	return s
}

func (c *Coordinator) scheduleSave() {
	if c.saver != nil {
		c.saver.Schedule()
	}
}

func (c *Coordinator) persistFailed(operation string, err error) {
	c.logger.Error("persistence failed", "operation", operation, "error", err)
	if c.metrics != nil {
		c.metrics.PersistenceFailures.WithLabelValues(operation).Inc()
	}
}

// Flush cancels any pending debounced save and writes the state now.
func (c *Coordinator) Flush(ctx context.Context) error {
	if c.saver == nil {
		return nil
	}
	return c.saver.Flush(ctx)
}
