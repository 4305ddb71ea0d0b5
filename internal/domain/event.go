package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RawEvent represents an unprocessed message from a sensor source.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// SensorKind identifies which sensor produced a reading.
type SensorKind string

const (
	SensorAirGap      SensorKind = "air_gap"
	SensorTemperature SensorKind = "temperature"
)

// SensorEvent is a parsed reading addressed to one tank.
type SensorEvent struct {
	TankID string
	Kind   SensorKind
	Value  float64
	// Available is false when the sensor reported an unknown or unavailable
	// state; Value is zero then.
	Available bool
	Timestamp time.Time
}

// sensorPayload is the JSON wire format of a reading. Value stays raw so that
// numbers, numeric strings and state strings can all be accepted.
type sensorPayload struct {
	TankID    string          `json:"tank_id"`
	Kind      string          `json:"kind"`
	Value     json.RawMessage `json:"value"`
	Timestamp string          `json:"timestamp"`
}
