package domain

import (
	"fmt"
	"time"
)

// StateVersion is the schema version of PersistedState. Stored state with a
// different version is ignored.
const StateVersion = 1

// PersistedState is the durable, JSON-compatible form of a tank's history.
type PersistedState struct {
	Version          int                `json:"version"`
	ConsumptionDaily map[string]float64 `json:"consumption_daily"`
	RefillHistory    []StoredRefill     `json:"refill_history"`
	LastRefill       StoredLastRefill   `json:"last_refill"`
	LastVolume       *float64           `json:"last_volume"`
}

// StoredRefill is a RefillRecord with its timestamp as an ISO-8601 string.
type StoredRefill struct {
	ID          string   `json:"id,omitempty"`
	Timestamp   string   `json:"timestamp"`
	VolumeAdded *float64 `json:"volume_added"`
	TotalVolume float64  `json:"total_volume"`
	Source      string   `json:"source,omitempty"`
}

// StoredLastRefill summarizes the most recent refill.
type StoredLastRefill struct {
	Timestamp *string  `json:"timestamp"`
	Volume    *float64 `json:"volume"`
}

// FormatTimestamp renders t as an ISO-8601 string.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// ParseTimestamp parses an ISO-8601 timestamp written by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, ErrInvalidState)
	}
	return t, nil
}

// StoreRefill converts a RefillRecord to its stored form.
func StoreRefill(r RefillRecord) StoredRefill {
	return StoredRefill{
		ID:          r.ID,
		Timestamp:   FormatTimestamp(r.Timestamp),
		VolumeAdded: copyFloat(r.VolumeAdded),
		TotalVolume: r.TotalVolumeAfter,
		Source:      string(r.Source),
	}
}

// LoadRefill converts a stored refill back into a RefillRecord.
func LoadRefill(s StoredRefill) (RefillRecord, error) {
	ts, err := ParseTimestamp(s.Timestamp)
	if err != nil {
		return RefillRecord{}, err
	}
	source := RefillSource(s.Source)
	if source == "" {
		source = RefillDetected
	}
	return RefillRecord{
		ID:               s.ID,
		Timestamp:        ts,
		VolumeAdded:      copyFloat(s.VolumeAdded),
		TotalVolumeAfter: s.TotalVolume,
		Source:           source,
	}, nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}
