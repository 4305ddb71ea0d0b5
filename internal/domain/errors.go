package domain

import "errors"

var (
	// ErrInvalidReading is returned for sensor values that are negative,
	// non-finite or otherwise physically impossible.
	ErrInvalidReading = errors.New("invalid reading")

	// ErrInvalidDimensions is returned at setup for non-positive tank dimensions.
	ErrInvalidDimensions = errors.New("invalid tank dimensions")

	// ErrNegativeConsumption is returned when a negative consumption is recorded.
	// Volume increases are refills and never reach the consumption ledger.
	ErrNegativeConsumption = errors.New("negative consumption")

	// ErrUnknownTank is returned when an event names a tank that is not configured.
	ErrUnknownTank = errors.New("unknown tank")

	// ErrNotFound is returned by state stores when no state exists for a key.
	ErrNotFound = errors.New("not found")
)

// ErrInvalidState is returned when persisted state cannot be imported.
var ErrInvalidState = errors.New("invalid persisted state")
