package monitor

import (
	"slices"
	"time"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
)

// readingWindow is how long raw readings stay in the buffer.
const readingWindow = 5 * time.Minute

// Reading is a raw volume sample.
type Reading struct {
	Timestamp time.Time
	Volume    float64
}

// ReadingBuffer holds the readings of the trailing window in arrival order,
// capped at a fixed number of entries. It prunes on every insert.
type ReadingBuffer struct {
	window   time.Duration
	capacity int
	readings []Reading
}

// NewReadingBuffer sizes the buffer for a median filter over filterSize
// readings: it keeps max(filterSize*2, 10) entries.
func NewReadingBuffer(filterSize int) *ReadingBuffer {
	return &ReadingBuffer{
		window:   readingWindow,
		capacity: max(filterSize*2, 10),
	}
}

// Add appends r and drops readings older than the window or beyond the cap.
func (b *ReadingBuffer) Add(r Reading) {
	b.readings = append(b.readings, r)
	b.prune(r.Timestamp.Add(-b.window))
	if over := len(b.readings) - b.capacity; over > 0 {
		b.readings = slices.Clone(b.readings[over:])
	}
}

// prune removes readings at or before cutoff. Readings are sorted by time.
func (b *ReadingBuffer) prune(cutoff time.Time) {
	idx := 0
	for idx < len(b.readings) && !b.readings[idx].Timestamp.After(cutoff) {
		idx++
	}
	if idx > 0 {
		b.readings = slices.Clone(b.readings[idx:])
	}
}

// DropBefore removes readings older than t.
func (b *ReadingBuffer) DropBefore(t time.Time) {
	b.prune(t.Add(-time.Nanosecond))
}

// Latest returns the most recent reading.
func (b *ReadingBuffer) Latest() (Reading, bool) {
	if len(b.readings) == 0 {
		return Reading{}, false
	}
	return b.readings[len(b.readings)-1], true
}

// Median returns the median volume of the last n readings, or of all of them
// when fewer are buffered.
func (b *ReadingBuffer) Median(n int) float64 {
	start := max(len(b.readings)-n, 0)
	volumes := make([]float64, 0, len(b.readings)-start)
	for _, r := range b.readings[start:] {
		volumes = append(volumes, r.Volume)
	}
	return domain.Median(volumes)
}

// Len returns the number of buffered readings.
func (b *ReadingBuffer) Len() int { return len(b.readings) }

// Cap returns the maximum number of buffered readings.
func (b *ReadingBuffer) Cap() int { return b.capacity }
