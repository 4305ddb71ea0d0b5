package domain

import (
	"fmt"
	"math"
)

// TankDimensions are the interior dimensions of a horizontal cylindrical tank.
type TankDimensions struct {
	DiameterCM float64 `json:"diameter_cm"`
	LengthCM   float64 `json:"length_cm"`
}

// Validate reports ErrInvalidDimensions for non-positive or non-finite sizes.
func (d TankDimensions) Validate() error {
	if !isFinitePositive(d.DiameterCM) || !isFinitePositive(d.LengthCM) {
		return fmt.Errorf("diameter %.1f cm, length %.1f cm: %w", d.DiameterCM, d.LengthCM, ErrInvalidDimensions)
	}
	return nil
}

// Capacity returns the full-cylinder volume in liters.
func (d TankDimensions) Capacity() float64 {
	return CalculateVolume(0, d.DiameterCM, d.LengthCM)
}

// Volume converts an air gap reading into liters for this tank.
func (d TankDimensions) Volume(airGapCM float64) float64 {
	return CalculateVolume(airGapCM, d.DiameterCM, d.LengthCM)
}

// CalculateVolume returns the liquid volume in liters of a horizontal
// cylindrical tank given the air gap between the sensor and the surface.
//
// A negative air gap is a malfunctioning sensor and degrades to an empty
// reading (0 L) instead of an error. An air gap at or beyond the diameter is
// also empty. No rounding is applied; round only for display.
func CalculateVolume(airGapCM, diameterCM, lengthCM float64) float64 {
	if !isFinitePositive(diameterCM) || !isFinitePositive(lengthCM) {
		return 0
	}
	if airGapCM < 0 || math.IsNaN(airGapCM) {
		return 0
	}

	r := diameterCM / 2
	h := diameterCM - airGapCM

	if h <= 0 {
		return 0
	}
	if h >= diameterCM {
		return math.Pi * r * r * lengthCM / 1000
	}

	// Floating-point overshoot near h≈0 and h≈diameter can push the ratio
	// just outside acos's domain.
	cos := math.Max(-1, math.Min(1, (r-h)/r))
	chord := math.Sqrt(math.Max(0, 2*r*h-h*h))
	area := r*r*math.Acos(cos) - (r-h)*chord

	// Cancellation near the edges can push the area just outside [0, πr²].
	area = min(max(0, area), math.Pi*r*r)
	return area * lengthCM / 1000
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
