// Command replay feeds a CSV of recorded sensor readings through an offline
// tank coordinator and prints every snapshot, the refill history and the
// daily consumption ledger. Tank settings come from the same environment
// variables as the service, so a configuration can be checked against real
// data before it is deployed.
//
// The CSV has the columns timestamp,air_gap_cm[,temperature_c] with RFC 3339
// timestamps. A header row is optional.
//
// Usage:
//
//	TANK_IDS=garage TANK_GARAGE_TANK_DIAMETER_CM=150 \
//	  go run ./cmd/replay -csv data/garage.csv -tank garage
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/tank-monitor-service/internal/config"
	"github.com/couchcryptid/tank-monitor-service/internal/monitor"
)

// row is one line of the replay CSV.
type row struct {
	line        int
	at          time.Time
	airGap      float64
	temperature *float64
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	csvPath := fs.String("csv", "", "path to the readings CSV")
	tankID := fs.String("tank", "", "configured tank whose settings to use (default: first in TANK_IDS)")
	jsonOut := fs.Bool("json", false, "print snapshots as JSON lines")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *csvPath == "" {
		fs.Usage()
		return errors.New("missing required flag: -csv")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tank, err := selectTank(cfg.Tanks, *tankID)
	if err != nil {
		return err
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return err
	}
	return replay(rows, tank.ID, monitor.SettingsFromConfig(cfg, tank), *jsonOut, out)
}

func selectTank(tanks []config.Tank, id string) (config.Tank, error) {
	if id == "" && len(tanks) > 0 {
		return tanks[0], nil
	}
	for _, t := range tanks {
		if t.ID == id {
			return t, nil
		}
	}
	return config.Tank{}, fmt.Errorf("tank %q is not configured", id)
}

func readRows(r io.Reader) ([]row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []row
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "timestamp") {
			continue
		}
		parsed, err := parseRow(line, rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, parsed)
	}
	return rows, nil
}

func parseRow(line int, rec []string) (row, error) {
	if len(rec) < 2 || len(rec) > 3 {
		return row{}, fmt.Errorf("line %d: want 2 or 3 columns, got %d", line, len(rec))
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[0]))
	if err != nil {
		return row{}, fmt.Errorf("line %d: timestamp: %w", line, err)
	}
	airGap, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil {
		return row{}, fmt.Errorf("line %d: air gap: %w", line, err)
	}
	r := row{line: line, at: at, airGap: airGap}
	if len(rec) == 3 && strings.TrimSpace(rec[2]) != "" {
		temp, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return row{}, fmt.Errorf("line %d: temperature: %w", line, err)
		}
		r.temperature = &temp
	}
	return r, nil
}

func replay(rows []row, tankID string, settings monitor.Settings, jsonOut bool, out io.Writer) error {
	if len(rows) == 0 {
		return errors.New("csv has no readings")
	}
	clock := clockwork.NewFakeClockAt(rows[0].at)
	c, err := monitor.NewCoordinator(tankID, settings, monitor.WithClock(clock))
	if err != nil {
		return fmt.Errorf("tank %q: %w", tankID, err)
	}

	enc := json.NewEncoder(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if !jsonOut {
		fmt.Fprintln(tw, "TIME\tOUTCOME\tREFILL\tVOLUME_L\tNORMALIZED_L\tTODAY_L\tAVG_L\tDAYS_LEFT")
	}

	for _, r := range rows {
		if d := r.at.Sub(clock.Now()); d > 0 {
			clock.Advance(d)
		}
		if r.temperature != nil {
			if _, err := c.ProcessTemperature(*r.temperature, r.at); err != nil {
				fmt.Fprintf(os.Stderr, "line %d: %v\n", r.line, err)
			}
		}
		snap, err := c.ProcessAirGap(r.airGap, r.at)
		if err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", r.line, err)
			continue
		}
		if jsonOut {
			if err := enc.Encode(snap); err != nil {
				return fmt.Errorf("encode snapshot: %w", err)
			}
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%s\t%.2f\t%.2f\t%s\n",
			snap.At.Format(time.RFC3339), snap.Outcome, snap.RefillState, snap.MeasuredVolume,
			optional(snap.NormalizedVolume, "%.1f"), snap.DailyConsumption,
			snap.AverageDailyConsumption, optional(snap.DaysUntilEmpty, "%.0f"))
	}
	if jsonOut {
		return nil
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Refills:")
	for _, r := range c.RefillHistory() {
		fmt.Fprintf(out, "  %s  %-8s added=%s total=%.1f\n",
			r.Timestamp.Format(time.RFC3339), r.Source, optional(r.VolumeAdded, "%.1f"), r.TotalVolumeAfter)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Consumption:")
	for _, d := range c.ConsumptionHistory() {
		fmt.Fprintf(out, "  %s  %.2f L\n", d.Date, d.Liters)
	}
	return nil
}

func optional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
