package monitor

import (
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
	"github.com/couchcryptid/tank-monitor-service/internal/observability"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// testSettings disables smoothing and debouncing so each reading is
// classified on its own.
func testSettings() Settings {
	s := DefaultSettings()
	s.BufferSize = 1
	s.DebounceInterval = 0
	s.Location = time.UTC
	return s
}

func newTestCoordinator(t *testing.T, s Settings, opts ...Option) (*Coordinator, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	c, err := NewCoordinator("garage", s, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return c, clock
}

func TestNewCoordinator_RejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero diameter", func(s *Settings) { s.Dimensions.DiameterCM = 0 }},
		{"negative length", func(s *Settings) { s.Dimensions.LengthCM = -1 }},
		{"zero refill threshold", func(s *Settings) { s.RefillThreshold = 0 }},
		{"noise above refill", func(s *Settings) { s.NoiseThreshold = 150 }},
		{"empty buffer", func(s *Settings) { s.BufferSize = 0 }},
		{"zero stabilization", func(s *Settings) { s.StabilizationPeriod = 0 }},
		{"zero consumption days", func(s *Settings) { s.ConsumptionDays = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			_, err := NewCoordinator("garage", s)
			require.Error(t, err)
		})
	}
}

func TestNewCoordinator_DimensionsErrorIsSentinel(t *testing.T) {
	s := DefaultSettings()
	s.Dimensions.DiameterCM = -5
	_, err := NewCoordinator("garage", s)
	require.ErrorIs(t, err, domain.ErrInvalidDimensions)
}

func TestCoordinator_InitialSnapshot(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())

	snap := c.Snapshot()
	assert.Equal(t, "garage", snap.TankID)
	assert.False(t, snap.Initialized)
	assert.Equal(t, domain.RefillMonitoring, snap.RefillState)
	assert.InDelta(t, 3534.29, snap.Capacity, 0.01)
	assert.Nil(t, snap.DaysUntilEmpty)
}

func TestCoordinator_ProcessAirGap(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())

	snap, err := c.ProcessAirGap(45, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInitialized, snap.Outcome)
	assert.True(t, snap.Initialized)
	assert.InDelta(t, 2642, snap.MeasuredVolume, 1)
	assert.Equal(t, t0, snap.At)
}

func TestCoordinator_ProcessAirGapUsesClockWhenUnstamped(t *testing.T) {
	c, clock := newTestCoordinator(t, testSettings())
	clock.Advance(time.Minute)

	snap, err := c.ProcessAirGap(45, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), snap.At)
}

func TestCoordinator_InvalidAirGap(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)

	for _, gap := range []float64{-1, math.NaN(), math.Inf(1)} {
		snap, err := c.ProcessAirGap(gap, t0.Add(time.Minute))
		require.ErrorIs(t, err, domain.ErrInvalidReading)
		assert.InDelta(t, 1000, snap.MeasuredVolume, 1e-9)
		assert.Equal(t, domain.OutcomeInitialized, snap.Outcome)
	}
}

func TestCoordinator_AirGapNearEmptyStaysInRange(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	diameter := c.Settings().Dimensions.DiameterCM

	snap, err := c.ProcessAirGap(diameter-1e-12, t0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.MeasuredVolume, 0.0)
	assert.LessOrEqual(t, snap.MeasuredVolume, snap.Capacity)
}

func TestCoordinator_AirGapUnavailable(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)

	snap, err := c.Process(domain.SensorEvent{
		TankID: "garage", Kind: domain.SensorAirGap, Timestamp: t0.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnavailable, snap.Outcome)
	assert.InDelta(t, 1000, snap.MeasuredVolume, 1e-9)
}

func TestCoordinator_Classification(t *testing.T) {
	tests := []struct {
		name       string
		next       float64
		want       domain.Outcome
		wantVolume float64
		wantDaily  float64
	}{
		{"noise", 1001, domain.OutcomeNoise, 1000, 0},
		{"unexpected increase", 1050, domain.OutcomeUnexpectedIncrease, 1050, 0},
		{"consumption", 990, domain.OutcomeConsumption, 990, 10},
		{"negligible drop", 999.95, domain.OutcomeNegligible, 999.95, 0},
		{"unchanged", 1000, domain.OutcomeNegligible, 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCoordinator(t, testSettings())
			c.processVolume(1000, t0)

			snap := c.processVolume(tt.next, t0.Add(2*time.Minute))
			assert.Equal(t, tt.want, snap.Outcome)
			assert.InDelta(t, tt.wantVolume, snap.MeasuredVolume, 1e-9)
			assert.InDelta(t, tt.wantDaily, snap.DailyConsumption, 1e-9)
			assert.Equal(t, domain.RefillMonitoring, snap.RefillState)
		})
	}
}

func TestCoordinator_ConsumptionForecast(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)

	snap := c.processVolume(990, t0.Add(time.Hour))
	require.NotNil(t, snap.DaysUntilEmpty)
	assert.InDelta(t, 99, *snap.DaysUntilEmpty, 1e-9)
	assert.InDelta(t, 10, snap.AverageDailyConsumption, 1e-9)
	assert.InDelta(t, 10, snap.MonthlyConsumption, 1e-9)
	assert.InDelta(t, 100, snap.DailyEnergyKWh, 1e-9)
}

func TestCoordinator_NoiseNeverMutates(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)

	for i, v := range []float64{1000.5, 1001, 1001.9, 1000.1} {
		snap := c.processVolume(v, t0.Add(time.Duration(i+1)*time.Minute))
		assert.Equal(t, domain.OutcomeNoise, snap.Outcome)
		assert.InDelta(t, 1000, snap.MeasuredVolume, 1e-9)
		assert.Zero(t, snap.DailyConsumption)
	}
}

func TestCoordinator_DuplicateReadingIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)
	first := c.processVolume(990, t0.Add(time.Minute))

	again := c.processVolume(990, t0.Add(time.Minute))
	assert.Equal(t, domain.OutcomeDuplicate, again.Outcome)
	assert.InDelta(t, first.MeasuredVolume, again.MeasuredVolume, 1e-9)
	assert.InDelta(t, first.DailyConsumption, again.DailyConsumption, 1e-9)
	assert.Equal(t, 2, c.buffer.Len())
}

func TestCoordinator_StaleReadingIgnored(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)
	c.processVolume(990, t0.Add(2*time.Minute))

	snap := c.processVolume(900, t0.Add(time.Minute))
	assert.Equal(t, domain.OutcomeStale, snap.Outcome)
	assert.InDelta(t, 990, snap.MeasuredVolume, 1e-9)
	assert.InDelta(t, 10, snap.DailyConsumption, 1e-9)
}

func TestCoordinator_DebounceBuffersReading(t *testing.T) {
	s := testSettings()
	s.BufferSize = 5
	s.DebounceInterval = 60 * time.Second
	c, _ := newTestCoordinator(t, s)
	c.processVolume(1000, t0)

	snap := c.processVolume(990, t0.Add(10*time.Second))
	assert.Equal(t, domain.OutcomeDebounced, snap.Outcome)
	assert.InDelta(t, 1000, snap.MeasuredVolume, 1e-9)
	assert.Zero(t, snap.DailyConsumption)
	assert.Equal(t, 2, c.buffer.Len())

	// The next cycle past the debounce interval sees the median of the
	// buffered readings.
	snap = c.processVolume(990, t0.Add(70*time.Second))
	assert.Equal(t, domain.OutcomeConsumption, snap.Outcome)
	assert.InDelta(t, 990, snap.MeasuredVolume, 1e-9)
	assert.InDelta(t, 10, snap.DailyConsumption, 1e-9)
}

func TestCoordinator_MedianSuppressesSpike(t *testing.T) {
	s := testSettings()
	s.BufferSize = 5
	c, _ := newTestCoordinator(t, s)
	c.processVolume(1000, t0)
	c.processVolume(1000, t0.Add(10*time.Second))

	snap := c.processVolume(950, t0.Add(20*time.Second))
	assert.Equal(t, domain.OutcomeNegligible, snap.Outcome)
	assert.InDelta(t, 1000, snap.MeasuredVolume, 1e-9)
	assert.Zero(t, snap.DailyConsumption)
}

func TestCoordinator_RefillStabilizes(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)

	snap := c.processVolume(1150, t0.Add(time.Minute))
	assert.Equal(t, domain.OutcomeRefillStarted, snap.Outcome)
	assert.Equal(t, domain.RefillStabilizing, snap.RefillState)
	assert.InDelta(t, 1000, snap.MeasuredVolume, 1e-9)
	assert.Zero(t, snap.DailyConsumption)

	for i, v := range []float64{1148, 1152, 1150} {
		snap = c.processVolume(v, t0.Add(time.Duration(i+2)*time.Minute))
		assert.Equal(t, domain.OutcomeStabilizing, snap.Outcome)
		assert.Zero(t, snap.DailyConsumption)
	}

	snap = c.processVolume(1149, t0.Add(5*time.Minute))
	assert.Equal(t, domain.OutcomeRefillFinalized, snap.Outcome)
	assert.Equal(t, domain.RefillMonitoring, snap.RefillState)
	assert.InDelta(t, 1150, snap.MeasuredVolume, 1e-9)
	require.NotNil(t, snap.LastRefillVolume)
	assert.InDelta(t, 150, *snap.LastRefillVolume, 1e-9)
	require.NotNil(t, snap.LastRefillAt)
	assert.Equal(t, t0.Add(5*time.Minute), *snap.LastRefillAt)

	history := c.RefillHistory()
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
	assert.Equal(t, domain.RefillDetected, history[0].Source)
	require.NotNil(t, history[0].VolumeAdded)
	assert.InDelta(t, 150, *history[0].VolumeAdded, 1e-9)
	assert.InDelta(t, 1150, history[0].TotalVolumeAfter, 1e-9)
}

func TestCoordinator_RefillDropsPreRefillReadings(t *testing.T) {
	s := testSettings()
	s.BufferSize = 5
	c, _ := newTestCoordinator(t, s)
	c.processVolume(1000, t0)
	for i, v := range []float64{1150, 1150, 1150, 1150, 1150} {
		c.processVolume(v, t0.Add(time.Duration(i+1)*10*time.Second))
	}
	require.Equal(t, domain.RefillMonitoring, c.Snapshot().RefillState)
	assert.Equal(t, 5, c.buffer.Len())

	snap := c.processVolume(1149, t0.Add(70*time.Second))
	assert.Equal(t, domain.OutcomeNegligible, snap.Outcome)
	assert.InDelta(t, 1150, snap.MeasuredVolume, 1e-9)
}

func TestCoordinator_RefillTimesOut(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)
	c.processVolume(1200, t0.Add(time.Minute))
	c.processVolume(1300, t0.Add(10*time.Minute))

	snap := c.processVolume(1400, t0.Add(31*time.Minute+time.Second))
	assert.Equal(t, domain.OutcomeRefillFinalized, snap.Outcome)
	assert.InDelta(t, 1400, snap.MeasuredVolume, 1e-9)

	history := c.RefillHistory()
	require.Len(t, history, 1)
	assert.InDelta(t, 400, *history[0].VolumeAdded, 1e-9)
}

func TestCoordinator_RefillAboveThresholdNeverRecordsConsumption(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)
	c.processVolume(990, t0.Add(time.Minute))

	snap := c.processVolume(1500, t0.Add(2*time.Minute))
	assert.Equal(t, domain.RefillStabilizing, snap.RefillState)
	assert.InDelta(t, 10, snap.DailyConsumption, 1e-9)
}

func TestCoordinator_ClearConsumptionOnRefill(t *testing.T) {
	tests := []struct {
		name      string
		clear     bool
		wantDaily float64
	}{
		{"keep ledger", false, 10},
		{"clear ledger", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			s.ClearConsumptionOnRefill = tt.clear
			c, _ := newTestCoordinator(t, s)
			c.processVolume(1000, t0)
			c.processVolume(990, t0.Add(time.Minute))

			c.processVolume(1500, t0.Add(2*time.Minute))
			var snap domain.Snapshot
			for i := range 4 {
				snap = c.processVolume(1500, t0.Add(time.Duration(i+3)*time.Minute))
			}
			require.Equal(t, domain.OutcomeRefillFinalized, snap.Outcome)
			assert.InDelta(t, tt.wantDaily, snap.DailyConsumption, 1e-9)
			assert.InDelta(t, tt.wantDaily, snap.MonthlyConsumption, 1e-9)
		})
	}
}

func TestCoordinator_ClearConsumptionOnManualRefill(t *testing.T) {
	for _, clear := range []bool{false, true} {
		s := testSettings()
		s.ClearConsumptionOnRefill = clear
		c, _ := newTestCoordinator(t, s)
		c.processVolume(1000, t0)
		c.processVolume(990, t0.Add(time.Minute))

		snap, err := c.RecordRefill(nil, t0.Add(2*time.Minute))
		require.NoError(t, err)
		if clear {
			assert.Zero(t, snap.DailyConsumption)
		} else {
			assert.InDelta(t, 10, snap.DailyConsumption, 1e-9)
		}
	}
}

func TestCoordinator_RecordRefill(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)

	snap, err := c.RecordRefill(domain.Float(500), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeManualRefill, snap.Outcome)
	assert.InDelta(t, 1500, snap.MeasuredVolume, 1e-9)
	require.NotNil(t, snap.LastRefillVolume)
	assert.InDelta(t, 500, *snap.LastRefillVolume, 1e-9)

	snap, err = c.RecordRefill(nil, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 1500, snap.MeasuredVolume, 1e-9)
	assert.Nil(t, snap.LastRefillVolume, "unknown amount must not be reported as the tank volume")
	require.NotNil(t, snap.LastRefillAt)
	assert.Equal(t, t0.Add(2*time.Minute), *snap.LastRefillAt)
	assert.Nil(t, c.Export().LastRefill.Volume)

	history := c.RefillHistory()
	require.Len(t, history, 2)
	assert.Equal(t, domain.RefillManual, history[0].Source)
	assert.InDelta(t, 500, *history[0].VolumeAdded, 1e-9)
	assert.InDelta(t, 1500, history[0].TotalVolumeAfter, 1e-9)
	assert.Nil(t, history[1].VolumeAdded)
	assert.InDelta(t, 1500, history[1].TotalVolumeAfter, 1e-9)
}

func TestCoordinator_RecordRefillCapsAtCapacity(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(3000, t0)

	snap, err := c.RecordRefill(domain.Float(1000), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, snap.Capacity, snap.MeasuredVolume, 1e-9)
}

func TestCoordinator_RecordRefillBeforeFirstReading(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())

	snap, err := c.RecordRefill(nil, t0)
	require.NoError(t, err)
	assert.False(t, snap.Initialized)
	assert.Empty(t, c.RefillHistory())

	snap, err = c.RecordRefill(domain.Float(800), t0)
	require.NoError(t, err)
	assert.True(t, snap.Initialized)
	assert.InDelta(t, 800, snap.MeasuredVolume, 1e-9)
}

func TestCoordinator_RecordRefillRejectsInvalidVolume(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)

	for _, v := range []float64{0, -5, math.NaN()} {
		_, err := c.RecordRefill(domain.Float(v), t0.Add(time.Minute))
		require.ErrorIs(t, err, domain.ErrInvalidReading)
	}
	assert.Empty(t, c.RefillHistory())
}

func TestCoordinator_RecordRefillAbandonsStabilization(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)
	c.processVolume(1500, t0.Add(time.Minute))

	snap, err := c.RecordRefill(domain.Float(500), t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.RefillMonitoring, snap.RefillState)
	assert.InDelta(t, 1500, snap.MeasuredVolume, 1e-9)
	assert.Len(t, c.RefillHistory(), 1)
}

func TestCoordinator_RefillHistoryBounded(t *testing.T) {
	s := testSettings()
	s.RefillHistoryMax = 3
	c, _ := newTestCoordinator(t, s)
	c.processVolume(100, t0)

	for i := range 5 {
		_, err := c.RecordRefill(domain.Float(10), t0.Add(time.Duration(i+1)*time.Hour))
		require.NoError(t, err)
	}

	history := c.RefillHistory()
	require.Len(t, history, 3)
	assert.Equal(t, t0.Add(3*time.Hour), history[0].Timestamp)
	assert.InDelta(t, 150, history[2].TotalVolumeAfter, 1e-9)
}

func TestCoordinator_RefillHistoryRetention(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(100, t0)
	_, err := c.RecordRefill(domain.Float(10), t0)
	require.NoError(t, err)

	later := t0.AddDate(1, 0, 1)
	_, err = c.RecordRefill(domain.Float(10), later)
	require.NoError(t, err)

	history := c.RefillHistory()
	require.Len(t, history, 1)
	assert.Equal(t, later, history[0].Timestamp)
}

func TestCoordinator_RefillHistoryIsCopy(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1000, t0)
	_, err := c.RecordRefill(domain.Float(100), t0.Add(time.Minute))
	require.NoError(t, err)

	history := c.RefillHistory()
	*history[0].VolumeAdded = 999

	assert.InDelta(t, 100, *c.RefillHistory()[0].VolumeAdded, 1e-9)
}

func TestCoordinator_Temperature(t *testing.T) {
	s := testSettings()
	s.TemperatureEnabled = true
	c, _ := newTestCoordinator(t, s)
	c.processVolume(1500, t0)

	snap, err := c.ProcessTemperature(-5, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTemperature, snap.Outcome)
	require.NotNil(t, snap.Temperature)
	require.NotNil(t, snap.NormalizedVolume)
	assert.InDelta(t, 1529, *snap.NormalizedVolume, 1)
	assert.InDelta(t, 1500, snap.MeasuredVolume, 1e-9)

	snap = c.TemperatureUnavailable(t0.Add(2 * time.Minute))
	assert.Nil(t, snap.NormalizedVolume)
	assert.Nil(t, snap.Temperature)
}

func TestCoordinator_TemperatureDisabled(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())
	c.processVolume(1500, t0)

	snap, err := c.ProcessTemperature(-5, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, snap.NormalizedVolume)
}

func TestCoordinator_InvalidTemperature(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())

	for _, temp := range []float64{math.NaN(), 500, -200, math.Inf(-1)} {
		_, err := c.ProcessTemperature(temp, t0)
		require.ErrorIs(t, err, domain.ErrInvalidReading)
	}
}

func TestCoordinator_ProcessUnknownKind(t *testing.T) {
	c, _ := newTestCoordinator(t, testSettings())

	_, err := c.Process(domain.SensorEvent{TankID: "garage", Kind: "pressure", Available: true})
	require.ErrorIs(t, err, domain.ErrInvalidReading)
}

func TestCoordinator_Metrics(t *testing.T) {
	m := observability.NewMetricsForTesting()
	c, _ := newTestCoordinator(t, testSettings(), WithMetrics(m))
	c.processVolume(1000, t0)
	c.processVolume(990, t0.Add(time.Minute))
	_, err := c.RecordRefill(domain.Float(100), t0.Add(2*time.Minute))
	require.NoError(t, err)

	assert.InDelta(t, 10, testutil.ToFloat64(m.ConsumptionLiters.WithLabelValues("garage")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Refills.WithLabelValues("garage", "manual")), 1e-9)
}
