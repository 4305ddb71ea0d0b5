package domain

import "time"

// KeroseneKWhPerLiter is the approximate energy content of heating kerosene.
const KeroseneKWhPerLiter = 10.0

// Outcome names what a processing cycle did with its input.
type Outcome string

const (
	OutcomeInitialized        Outcome = "initialized"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeStale              Outcome = "stale"
	OutcomeRefillStarted      Outcome = "refill_started"
	OutcomeStabilizing        Outcome = "stabilizing"
	OutcomeRefillFinalized    Outcome = "refill_finalized"
	OutcomeDebounced          Outcome = "debounced"
	OutcomeNoise              Outcome = "noise"
	OutcomeUnexpectedIncrease Outcome = "unexpected_increase"
	OutcomeConsumption        Outcome = "consumption"
	OutcomeNegligible         Outcome = "negligible"
	OutcomeTemperature        Outcome = "temperature"
	OutcomeManualRefill       Outcome = "manual_refill"
	OutcomeRestored           Outcome = "restored"
	OutcomeUnavailable        Outcome = "unavailable"
)

// RefillSource distinguishes detected refills from manual commands.
type RefillSource string

const (
	RefillDetected RefillSource = "detected"
	RefillManual   RefillSource = "manual"
)

// RefillRecord is one entry of the append-only refill log.
type RefillRecord struct {
	ID               string
	Timestamp        time.Time
	VolumeAdded      *float64 // nil when a manual refill did not state an amount
	TotalVolumeAfter float64
	Source           RefillSource
}

// Snapshot is the fully derived view of a tank after one processing cycle.
// It is built from scratch every cycle and shares no memory with the
// coordinator that produced it.
type Snapshot struct {
	TankID      string      `json:"tank_id"`
	At          time.Time   `json:"at"`
	Outcome     Outcome     `json:"outcome"`
	RefillState RefillState `json:"refill_state"`

	// Initialized is false until the first valid air gap reading arrives;
	// MeasuredVolume is meaningless before that.
	Initialized      bool     `json:"initialized"`
	MeasuredVolume   float64  `json:"measured_volume"`
	NormalizedVolume *float64 `json:"normalized_volume,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	Capacity         float64  `json:"capacity"`

	DailyConsumption        float64  `json:"daily_consumption"`
	AverageDailyConsumption float64  `json:"average_daily_consumption"`
	MonthlyConsumption      float64  `json:"monthly_consumption"`
	DailyEnergyKWh          float64  `json:"daily_energy_kwh"`
	DaysUntilEmpty          *float64 `json:"days_until_empty,omitempty"`

	LastRefillAt     *time.Time `json:"last_refill_at,omitempty"`
	LastRefillVolume *float64   `json:"last_refill_volume,omitempty"`
}

// FillPercent returns the measured volume as a percentage of capacity.
func (s Snapshot) FillPercent() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return s.MeasuredVolume / s.Capacity * 100
}

// Float returns a pointer to a copy of v.
func Float(v float64) *float64 { return &v }

// VolumeObservation is one historical volume sample of a tank, as kept by an
// external time-series store.
type VolumeObservation struct {
	TankID    string    `json:"tank_id"`
	Timestamp time.Time `json:"timestamp"`
	Volume    float64   `json:"volume"`
}
