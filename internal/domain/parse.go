package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header keys carrying routing metadata for payloads that are a bare value,
// as published by devices over MQTT.
const (
	HeaderTankID = "tank_id"
	HeaderKind   = "kind"
)

// ParseSensorEvent decodes a RawEvent into a SensorEvent.
//
// The payload is either a JSON object {tank_id, kind, value, timestamp} or a
// bare value with tank and kind taken from the headers. The tank id falls
// back to the message key. Values may be numbers, numeric strings, or the
// states "unknown"/"unavailable"/null, which parse as an unavailable reading.
// A missing timestamp uses the message timestamp, then the current time.
func ParseSensorEvent(raw RawEvent) (SensorEvent, error) {
	payload, err := decodePayload(raw)
	if err != nil {
		return SensorEvent{}, err
	}

	tankID := strings.TrimSpace(payload.TankID)
	if tankID == "" {
		tankID = strings.TrimSpace(string(raw.Key))
	}
	if tankID == "" {
		return SensorEvent{}, fmt.Errorf("parse sensor event: missing tank id")
	}

	kind, err := parseKind(payload.Kind)
	if err != nil {
		return SensorEvent{}, err
	}

	value, available, err := parseValue(payload.Value)
	if err != nil {
		return SensorEvent{}, err
	}

	ts, err := parseTimestamp(payload.Timestamp, raw.Timestamp)
	if err != nil {
		return SensorEvent{}, err
	}

	return SensorEvent{
		TankID:    tankID,
		Kind:      kind,
		Value:     value,
		Available: available,
		Timestamp: ts,
	}, nil
}

func decodePayload(raw RawEvent) (sensorPayload, error) {
	trimmed := bytes.TrimSpace(raw.Value)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var p sensorPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return sensorPayload{}, fmt.Errorf("parse sensor event: %w", err)
		}
		if p.TankID == "" {
			p.TankID = raw.Headers[HeaderTankID]
		}
		if p.Kind == "" {
			p.Kind = raw.Headers[HeaderKind]
		}
		return p, nil
	}

	return sensorPayload{
		TankID: raw.Headers[HeaderTankID],
		Kind:   raw.Headers[HeaderKind],
		Value:  json.RawMessage(trimmed),
	}, nil
}

func parseKind(s string) (SensorKind, error) {
	switch SensorKind(strings.ToLower(strings.TrimSpace(s))) {
	case SensorAirGap, "airgap", "distance":
		return SensorAirGap, nil
	case SensorTemperature, "temp":
		return SensorTemperature, nil
	default:
		return "", fmt.Errorf("parse sensor event: unknown sensor kind %q", s)
	}
}

// parseValue accepts a JSON number, a JSON string or a bare unquoted token.
func parseValue(raw json.RawMessage) (value float64, available bool, err error) {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, fmt.Errorf("parse sensor value: %w", err)
		}
		s = strings.TrimSpace(s)
	}

	switch strings.ToLower(s) {
	case "", "null", "unknown", "unavailable", "none":
		return 0, false, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse sensor value %q: %w", s, ErrInvalidReading)
	}
	return v, true, nil
}

func parseTimestamp(s string, fallback time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if !fallback.IsZero() {
			return fallback, nil
		}
		return clock.Now(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sensor timestamp %q: %w", s, err)
	}
	return ts, nil
}
