package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// DateLayout is the calendar-day key format of the consumption ledger.
const DateLayout = "2006-01-02"

// DailyConsumption is one ledger entry.
type DailyConsumption struct {
	Date   string  `json:"date"`
	Liters float64 `json:"liters"`
}

// ConsumptionTracker is a bounded daily consumption ledger. Buckets are keyed
// by calendar date in loc and pruned to historyDays on every record and
// aggregate call. It is not safe for concurrent use; its owner serializes access.
type ConsumptionTracker struct {
	averagingDays int
	historyDays   int
	loc           *time.Location
	daily         map[string]float64
}

// NewConsumptionTracker creates an empty ledger. averagingDays is the trailing
// window used for the daily average and the days-until-empty forecast.
func NewConsumptionTracker(averagingDays, historyDays int, loc *time.Location) *ConsumptionTracker {
	if averagingDays < 1 {
		averagingDays = 1
	}
	if historyDays < 1 {
		historyDays = 1
	}
	if loc == nil {
		loc = time.Local
	}
	return &ConsumptionTracker{
		averagingDays: averagingDays,
		historyDays:   historyDays,
		loc:           loc,
		daily:         make(map[string]float64),
	}
}

// Record adds liters to the bucket of ts's calendar date and prunes relative to ts.
func (t *ConsumptionTracker) Record(liters float64, ts time.Time) error {
	return t.RecordAt(liters, ts, ts)
}

// RecordAt adds liters to the bucket of ts's calendar date and prunes relative
// to pruneAt. Backfill uses it to record historical deltas against today's
// retention window.
func (t *ConsumptionTracker) RecordAt(liters float64, ts, pruneAt time.Time) error {
	if math.IsNaN(liters) || math.IsInf(liters, 0) {
		return fmt.Errorf("record consumption %v: %w", liters, ErrInvalidReading)
	}
	if liters < 0 {
		return fmt.Errorf("record consumption %.3f L: %w", liters, ErrNegativeConsumption)
	}
	key := t.dayKey(ts)
	t.daily[key] += liters
	t.Prune(pruneAt)
	return nil
}

// Prune drops buckets older than the retention window ending at now.
func (t *ConsumptionTracker) Prune(now time.Time) {
	cutoff := t.dayKey(now.AddDate(0, 0, -t.historyDays))
	for day := range t.daily {
		if day <= cutoff {
			delete(t.daily, day)
		}
	}
}

// Daily returns the liters consumed on now's calendar date.
func (t *ConsumptionTracker) Daily(now time.Time) float64 {
	t.Prune(now)
	return t.daily[t.dayKey(now)]
}

// Monthly returns the liters consumed from the 1st of now's month through now.
func (t *ConsumptionTracker) Monthly(now time.Time) float64 {
	t.Prune(now)
	local := now.In(t.loc)
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, t.loc).Format(DateLayout)
	today := t.dayKey(now)

	var total float64
	for day, liters := range t.daily {
		if day >= first && day <= today {
			total += liters
		}
	}
	return total
}

// AverageDaily returns the mean daily consumption over the trailing averaging
// window. The divisor spans from the oldest bucket inside the window through
// today (at least one day), so partial history is not diluted by days the
// tracker never saw.
func (t *ConsumptionTracker) AverageDaily(now time.Time) float64 {
	t.Prune(now)
	today := t.dayKey(now)
	windowStart := t.dayKey(now.AddDate(0, 0, -(t.averagingDays - 1)))

	var (
		total  float64
		oldest string
	)
	for day, liters := range t.daily {
		if day < windowStart || day > today {
			continue
		}
		total += liters
		if oldest == "" || day < oldest {
			oldest = day
		}
	}
	if oldest == "" {
		return 0
	}

	days := daysBetween(oldest, today) + 1
	if days < 1 {
		days = 1
	}
	return total / float64(days)
}

// DaysUntilEmpty forecasts how long currentVolume lasts at the average daily
// rate. ok is false when there is not enough data (no consumption in the
// window). An empty tank forecasts zero days.
func (t *ConsumptionTracker) DaysUntilEmpty(now time.Time, currentVolume float64) (days float64, ok bool) {
	if currentVolume <= 0 {
		return 0, true
	}
	avg := t.AverageDaily(now)
	if avg <= 0 {
		return 0, false
	}
	return currentVolume / avg, true
}

// Reset clears every bucket.
func (t *ConsumptionTracker) Reset() {
	t.daily = make(map[string]float64)
}

// Len returns the number of day buckets held.
func (t *ConsumptionTracker) Len() int {
	return len(t.daily)
}

// Export returns a copy of the ledger suitable for durable storage.
func (t *ConsumptionTracker) Export() map[string]float64 {
	return maps.Clone(t.daily)
}

// Import replaces the ledger with a previously exported one. The ledger is
// left untouched if any entry is malformed.
func (t *ConsumptionTracker) Import(daily map[string]float64) error {
	next := make(map[string]float64, len(daily))
	for day, liters := range daily {
		if _, err := time.Parse(DateLayout, day); err != nil {
			return fmt.Errorf("import consumption day %q: %w", day, ErrInvalidState)
		}
		if liters < 0 || math.IsNaN(liters) || math.IsInf(liters, 0) {
			return fmt.Errorf("import consumption %s=%v: %w", day, liters, ErrInvalidState)
		}
		next[day] = liters
	}
	t.daily = next
	return nil
}

// History returns the ledger sorted by date ascending.
func (t *ConsumptionTracker) History() []DailyConsumption {
	days := slices.Sorted(maps.Keys(t.daily))
	out := make([]DailyConsumption, 0, len(days))
	for _, day := range days {
		out = append(out, DailyConsumption{Date: day, Liters: t.daily[day]})
	}
	return out
}

func (t *ConsumptionTracker) dayKey(ts time.Time) string {
	return ts.In(t.loc).Format(DateLayout)
}

// daysBetween counts whole calendar days from a to b (both DateLayout keys).
func daysBetween(a, b string) int {
	ta, errA := time.Parse(DateLayout, a)
	tb, errB := time.Parse(DateLayout, b)
	if errA != nil || errB != nil {
		return 0
	}
	return int(tb.Sub(ta).Hours() / 24)
}
