// Package domain models liquid storage tank telemetry and the pure
// calculations derived from it.
//
// # Data Source
//
// Each tank carries an ultrasonic distance sensor mounted at the top of a
// horizontal cylindrical tank. The sensor reports the air gap, the distance
// from the sensor face to the liquid surface, in centimeters. An optional
// temperature probe reports the liquid (or ambient) temperature in °C.
// Readings arrive on change, at an irregular cadence, and are noisy: a
// resting tank jitters by a few millimeters and a tank being refilled sloshes
// for several minutes.
//
// # Tank Geometry
//
//	liquid_height = diameter - air_gap
//
// The wetted cross section of a horizontal cylinder is a circular segment:
//
//	area = r²·acos((r-h)/r) - (r-h)·sqrt(2rh - h²)
//	volume_liters = area · length / 1000
//
// All dimensions are interior centimeters, so cm³/1000 gives liters.
//
// # Thermal Normalization
//
// Kerosene expands by roughly 0.095% per °C. Volumes are normalized to a
// reference temperature so that a cold night does not read as consumption:
//
//	normalized = measured / (1 + α·(t - t_ref)),  α = 0.00095 /°C
//
// # Units
//
// Volumes, thresholds and deltas are liters. Distances are centimeters.
// Consumption buckets are keyed by calendar date ("2006-01-02") in the
// tracker's configured location so that "today" resets at local midnight.
//
// # Serialized Form
//
// Persisted state uses plain JSON types only: dates and timestamps are
// ISO-8601 strings, missing values are null. See [PersistedState].
package domain
