package domain

// ThermalExpansionCoefficient is the volumetric expansion of kerosene per °C.
const ThermalExpansionCoefficient = 0.00095

// minCorrectionFactor keeps the normalization denominator away from zero.
// It is only reachable at physically implausible temperature differences.
const minCorrectionFactor = 1e-3

// NormalizeVolume converts a measured volume to its equivalent at the
// reference temperature. A nil currentTemp means no temperature is known and
// the measured volume is returned unchanged.
func NormalizeVolume(measured float64, currentTemp *float64, referenceTemp float64) float64 {
	if currentTemp == nil {
		return measured
	}

	factor := 1 + ThermalExpansionCoefficient*(*currentTemp-referenceTemp)
	if factor < minCorrectionFactor {
		factor = minCorrectionFactor
	}
	return measured / factor
}
