package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/tank-monitor-service/internal/config"
	"github.com/couchcryptid/tank-monitor-service/internal/domain"
)

// Settings is the static configuration of one tank.
type Settings struct {
	Dimensions domain.TankDimensions

	// RefillThreshold is the volume jump in liters that starts a refill.
	RefillThreshold float64
	// NoiseThreshold is in liters, the same unit as the volume deltas it is
	// compared against. Smoothed increases below it are ignored as noise.
	NoiseThreshold float64
	// MinConsumption is the smallest drop in liters recorded as consumption.
	MinConsumption float64

	TemperatureEnabled   bool
	ReferenceTemperature float64

	BufferSize          int
	DebounceInterval    time.Duration
	StabilizationPeriod time.Duration
	StabilityThreshold  float64

	ConsumptionDays int
	HistoryDays     int

	RefillRetention  time.Duration
	RefillHistoryMax int

	// ClearConsumptionOnRefill empties the consumption ledger whenever a
	// refill is recorded.
	ClearConsumptionOnRefill bool

	// Backfill bounds the history query used when no state is persisted.
	BackfillLookback time.Duration
	BackfillLimit    int

	// Location decides where calendar days start for the consumption ledger.
	Location *time.Location
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Dimensions:           domain.TankDimensions{DiameterCM: 150, LengthCM: 200},
		RefillThreshold:      100,
		NoiseThreshold:       2,
		MinConsumption:       0.1,
		ReferenceTemperature: 15,
		BufferSize:           5,
		DebounceInterval:     60 * time.Second,
		StabilizationPeriod:  30 * time.Minute,
		StabilityThreshold:   5,
		ConsumptionDays:      7,
		HistoryDays:          365,
		RefillRetention:      365 * 24 * time.Hour,
		RefillHistoryMax:     100,
		BackfillLookback:     DefaultBackfillLookback,
		BackfillLimit:        DefaultBackfillLimit,
		Location:             time.Local,
	}
}

// SettingsFromConfig builds a tank's settings from its configuration.
func SettingsFromConfig(cfg *config.Config, tank config.Tank) Settings {
	s := DefaultSettings()
	s.Dimensions = domain.TankDimensions{DiameterCM: tank.DiameterCM, LengthCM: tank.LengthCM}
	s.RefillThreshold = tank.RefillThreshold
	s.NoiseThreshold = tank.NoiseThreshold
	s.MinConsumption = tank.MinConsumption
	s.TemperatureEnabled = tank.TemperatureEnabled
	s.ReferenceTemperature = tank.ReferenceTemperature
	s.BufferSize = tank.BufferSize
	s.DebounceInterval = tank.Debounce
	s.StabilizationPeriod = tank.StabilizationPeriod
	s.StabilityThreshold = tank.StabilityThreshold
	s.ConsumptionDays = tank.ConsumptionDays
	s.HistoryDays = tank.HistoryDays
	s.ClearConsumptionOnRefill = tank.ClearConsumptionOnRefill
	if cfg.BackfillLookback > 0 {
		s.BackfillLookback = cfg.BackfillLookback
	}
	if cfg.BackfillLimit > 0 {
		s.BackfillLimit = cfg.BackfillLimit
	}
	if cfg.Location != nil {
		s.Location = cfg.Location
	}
	return s
}

// Validate reports configuration errors. They are surfaced once at setup.
func (s Settings) Validate() error {
	if err := s.Dimensions.Validate(); err != nil {
		return err
	}
	var errs []error
	if s.RefillThreshold <= 0 {
		errs = append(errs, errors.New("refill threshold must be positive"))
	}
	if s.NoiseThreshold < 0 {
		errs = append(errs, errors.New("noise threshold must not be negative"))
	}
	if s.NoiseThreshold >= s.RefillThreshold {
		errs = append(errs, fmt.Errorf("noise threshold %.1f L must be below refill threshold %.1f L", s.NoiseThreshold, s.RefillThreshold))
	}
	if s.MinConsumption < 0 {
		errs = append(errs, errors.New("minimum consumption must not be negative"))
	}
	if s.BufferSize < 1 {
		errs = append(errs, errors.New("reading buffer size must be at least 1"))
	}
	if s.DebounceInterval < 0 {
		errs = append(errs, errors.New("debounce interval must not be negative"))
	}
	if s.StabilizationPeriod <= 0 {
		errs = append(errs, errors.New("stabilization period must be positive"))
	}
	if s.StabilityThreshold < 0 {
		errs = append(errs, errors.New("stability threshold must not be negative"))
	}
	if s.ConsumptionDays < 1 {
		errs = append(errs, errors.New("consumption days must be at least 1"))
	}
	if s.HistoryDays < s.ConsumptionDays {
		errs = append(errs, errors.New("consumption history must cover the averaging window"))
	}
	return errors.Join(errs...)
}

func (s Settings) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}
