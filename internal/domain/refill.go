package domain

import (
	"slices"
	"time"
)

// stableWindow is the number of most recent readings that must agree before
// a refill is considered settled.
const stableWindow = 5

// RefillState is the refill stabilizer's state machine state.
type RefillState string

const (
	// RefillMonitoring means no refill is in progress.
	RefillMonitoring RefillState = "monitoring"
	// RefillStabilizing means a refill jump was seen and readings are settling.
	RefillStabilizing RefillState = "stabilizing"
)

// RefillStabilizerConfig tunes how a refill settles.
type RefillStabilizerConfig struct {
	// StabilizationPeriod bounds how long a refill may stay unsettled before
	// it is finalized anyway.
	StabilizationPeriod time.Duration
	// StabilityThreshold is the max-min spread in liters across the last five
	// readings for the tank to count as settled.
	StabilityThreshold float64
}

// RefillResult is the outcome of a finalized refill.
type RefillResult struct {
	StartedAt       time.Time
	PreRefillVolume float64
	StableVolume    float64
	Delta           float64
	Readings        int
	Stable          bool
}

// RefillStabilizer buffers readings after a refill jump until they settle.
//
// It cycles between RefillMonitoring and RefillStabilizing and never
// terminates. The timeout is evaluated lazily when a reading arrives: a tank
// that stops reporting mid-refill stays stabilizing until its next reading.
type RefillStabilizer struct {
	cfg       RefillStabilizerConfig
	state     RefillState
	startedAt time.Time
	preRefill float64
	readings  []float64
}

// NewRefillStabilizer returns a stabilizer in the monitoring state.
func NewRefillStabilizer(cfg RefillStabilizerConfig) *RefillStabilizer {
	return &RefillStabilizer{cfg: cfg, state: RefillMonitoring}
}

// State returns the current state.
func (s *RefillStabilizer) State() RefillState { return s.state }

// InProgress reports whether a refill is stabilizing.
func (s *RefillStabilizer) InProgress() bool { return s.state == RefillStabilizing }

// StartedAt returns when the current refill was detected.
func (s *RefillStabilizer) StartedAt() time.Time { return s.startedAt }

// PreRefillVolume returns the volume captured just before the jump.
func (s *RefillStabilizer) PreRefillVolume() float64 { return s.preRefill }

// Readings returns a copy of the stabilization buffer.
func (s *RefillStabilizer) Readings() []float64 { return slices.Clone(s.readings) }

// Start enters RefillStabilizing. The buffer is cleared and seeded with the
// reading that triggered the jump.
func (s *RefillStabilizer) Start(preRefillVolume, firstReading float64, now time.Time) {
	s.state = RefillStabilizing
	s.startedAt = now
	s.preRefill = preRefillVolume
	s.readings = []float64{firstReading}
}

// Add appends a reading to the stabilization buffer. It is a no-op while monitoring.
func (s *RefillStabilizer) Add(volume float64) {
	if s.state != RefillStabilizing {
		return
	}
	s.readings = append(s.readings, volume)
}

// Elapsed returns the time since the refill started.
func (s *RefillStabilizer) Elapsed(now time.Time) time.Duration {
	if s.state != RefillStabilizing {
		return 0
	}
	return now.Sub(s.startedAt)
}

// IsStable reports whether the last five readings spread no more than the
// stability threshold.
func (s *RefillStabilizer) IsStable() bool {
	if len(s.readings) < stableWindow {
		return false
	}
	return spread(s.recent()) <= s.cfg.StabilityThreshold
}

// ShouldFinalize reports whether the refill is settled or has timed out.
func (s *RefillStabilizer) ShouldFinalize(now time.Time) bool {
	if s.state != RefillStabilizing {
		return false
	}
	return s.IsStable() || s.Elapsed(now) >= s.cfg.StabilizationPeriod
}

// StableVolume is the median of the last five readings, or the latest
// reading when fewer than five were buffered.
func (s *RefillStabilizer) StableVolume() float64 {
	if len(s.readings) == 0 {
		return s.preRefill
	}
	if len(s.readings) < stableWindow {
		return s.readings[len(s.readings)-1]
	}
	return Median(s.recent())
}

// Finalize computes the refill result and returns the stabilizer to
// RefillMonitoring with an empty buffer.
func (s *RefillStabilizer) Finalize() RefillResult {
	stable := s.StableVolume()
	res := RefillResult{
		StartedAt:       s.startedAt,
		PreRefillVolume: s.preRefill,
		StableVolume:    stable,
		Delta:           stable - s.preRefill,
		Readings:        len(s.readings),
		Stable:          s.IsStable(),
	}
	s.Reset()
	return res
}

// Reset abandons any refill in progress.
func (s *RefillStabilizer) Reset() {
	s.state = RefillMonitoring
	s.startedAt = time.Time{}
	s.preRefill = 0
	s.readings = nil
}

func (s *RefillStabilizer) recent() []float64 {
	if len(s.readings) <= stableWindow {
		return s.readings
	}
	return s.readings[len(s.readings)-stableWindow:]
}
