package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
	"github.com/couchcryptid/tank-monitor-service/internal/monitor"
)

const refillCSV = `timestamp,air_gap_cm,temperature_c
2026-03-10T06:00:00Z,45,8
2026-03-10T12:00:00Z,46,
2026-03-10T14:00:00Z,10,9
2026-03-10T14:01:00Z,10,
2026-03-10T14:02:00Z,10,
2026-03-10T14:03:00Z,10,
2026-03-10T14:04:00Z,10,
2026-03-10T14:05:00Z,10,
2026-03-10T14:06:00Z,10,
`

func replaySettings() monitor.Settings {
	s := monitor.DefaultSettings()
	s.BufferSize = 1
	s.DebounceInterval = 0
	s.Location = time.UTC
	s.TemperatureEnabled = true
	return s
}

func TestReadRows(t *testing.T) {
	rows, err := readRows(strings.NewReader(refillCSV))
	require.NoError(t, err)
	require.Len(t, rows, 9)

	assert.Equal(t, 2, rows[0].line)
	assert.True(t, rows[0].at.Equal(time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)))
	assert.InDelta(t, 45, rows[0].airGap, 1e-9)
	require.NotNil(t, rows[0].temperature)
	assert.InDelta(t, 8, *rows[0].temperature, 1e-9)
	assert.Nil(t, rows[1].temperature)
}

func TestReadRows_WithoutHeader(t *testing.T) {
	rows, err := readRows(strings.NewReader("2026-03-10T06:00:00Z,45\n2026-03-10T07:00:00Z, 44.5\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].line)
	assert.InDelta(t, 44.5, rows[1].airGap, 1e-9)
}

func TestReadRows_Errors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want string
	}{
		{"too few columns", "2026-03-10T06:00:00Z\n", "want 2 or 3 columns"},
		{"too many columns", "2026-03-10T06:00:00Z,45,8,9\n", "want 2 or 3 columns"},
		{"bad timestamp", "yesterday,45\n", "line 1: timestamp"},
		{"bad air gap", "2026-03-10T06:00:00Z,deep\n", "line 1: air gap"},
		{"bad temperature", "timestamp,air_gap_cm\n2026-03-10T06:00:00Z,45,warm\n", "line 2: temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readRows(strings.NewReader(tt.csv))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReplay_TablePrintsRefillAndConsumption(t *testing.T) {
	rows, err := readRows(strings.NewReader(refillCSV))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, replay(rows, "garage", replaySettings(), false, &out))

	text := out.String()
	assert.Contains(t, text, "OUTCOME")
	assert.Contains(t, text, string(domain.OutcomeInitialized))
	assert.Contains(t, text, string(domain.OutcomeConsumption))
	assert.Contains(t, text, string(domain.OutcomeRefillStarted))
	assert.Contains(t, text, string(domain.OutcomeRefillFinalized))

	refills := text[strings.Index(text, "Refills:"):strings.Index(text, "Consumption:")]
	assert.Contains(t, refills, "2026-03-10T14:04:00Z")
	assert.Contains(t, refills, "detected")

	consumption := text[strings.Index(text, "Consumption:"):]
	assert.Contains(t, consumption, "2026-03-10")
}

func TestReplay_JSONLines(t *testing.T) {
	rows, err := readRows(strings.NewReader(refillCSV))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, replay(rows, "garage", replaySettings(), true, &out))

	var snaps []domain.Snapshot
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var s domain.Snapshot
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		snaps = append(snaps, s)
	}
	require.Len(t, snaps, len(rows))
	assert.Equal(t, "garage", snaps[0].TankID)
	assert.Equal(t, domain.OutcomeInitialized, snaps[0].Outcome)
	require.NotNil(t, snaps[0].Temperature)
	assert.InDelta(t, 8, *snaps[0].Temperature, 1e-9)
	assert.NotNil(t, snaps[0].NormalizedVolume)
	require.NotNil(t, snaps[len(snaps)-1].LastRefillAt)
	assert.True(t, snaps[len(snaps)-1].LastRefillAt.Equal(time.Date(2026, 3, 10, 14, 4, 0, 0, time.UTC)))
}

func TestReplay_NoRows(t *testing.T) {
	err := replay(nil, "garage", replaySettings(), false, &bytes.Buffer{})
	assert.EqualError(t, err, "csv has no readings")
}

func TestRun_UsesConfiguredTank(t *testing.T) {
	t.Setenv("TANK_IDS", "garage,cellar")
	t.Setenv("TIMEZONE", "UTC")
	path := filepath.Join(t.TempDir(), "garage.csv")
	require.NoError(t, os.WriteFile(path, []byte(refillCSV), 0o600))

	var out bytes.Buffer
	require.NoError(t, run([]string{"-csv", path, "-tank", "cellar", "-json"}, &out))
	assert.Contains(t, out.String(), `"tank_id":"cellar"`)
}

func TestRun_Errors(t *testing.T) {
	t.Setenv("TANK_IDS", "garage")
	t.Setenv("TIMEZONE", "UTC")

	err := run(nil, &bytes.Buffer{})
	assert.EqualError(t, err, "missing required flag: -csv")

	path := filepath.Join(t.TempDir(), "garage.csv")
	require.NoError(t, os.WriteFile(path, []byte(refillCSV), 0o600))
	err = run([]string{"-csv", path, "-tank", "shed"}, &bytes.Buffer{})
	assert.EqualError(t, err, `tank "shed" is not configured`)

	err = run([]string{"-csv", filepath.Join(t.TempDir(), "missing.csv")}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "open csv")
}
