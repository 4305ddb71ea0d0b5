package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
	"github.com/couchcryptid/tank-monitor-service/internal/monitor"
	"github.com/couchcryptid/tank-monitor-service/internal/pipeline"
)

// ObservationStore records emitted volumes and serves them for backfill.
type ObservationStore struct {
	conn *Conn
}

// NewObservationStore returns a store writing to the tank_observations table.
func NewObservationStore(conn *Conn) *ObservationStore {
	return &ObservationStore{conn: conn}
}

var (
	_ pipeline.BatchLoader  = (*ObservationStore)(nil)
	_ monitor.HistorySource = (*ObservationStore)(nil)
)

type observationRow struct {
	TankID           string
	ObservedAt       time.Time
	MeasuredVolume   float64
	NormalizedVolume *float64
	Temperature      *float64
	Outcome          string
}

// observationRows keeps snapshots that carry a measured volume. Snapshots of
// uninitialized tanks and cycles that rejected their input are dropped.
func observationRows(snapshots []domain.Snapshot) []observationRow {
	rows := make([]observationRow, 0, len(snapshots))
	for _, s := range snapshots {
		if !s.Initialized {
			continue
		}
		switch s.Outcome {
		case domain.OutcomeDuplicate, domain.OutcomeStale, domain.OutcomeUnavailable, domain.OutcomeRestored:
			continue
		}
		rows = append(rows, observationRow{
			TankID:           s.TankID,
			ObservedAt:       s.At.UTC(),
			MeasuredVolume:   s.MeasuredVolume,
			NormalizedVolume: s.NormalizedVolume,
			Temperature:      s.Temperature,
			Outcome:          string(s.Outcome),
		})
	}
	return rows
}

// LoadBatch implements pipeline.BatchLoader.
func (s *ObservationStore) LoadBatch(ctx context.Context, snapshots []domain.Snapshot) error {
	rows := observationRows(snapshots)
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO tank_observations (
			tank_id, observed_at, measured_volume, normalized_volume, temperature, outcome
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(r.TankID, r.ObservedAt, r.MeasuredVolume, r.NormalizedVolume, r.Temperature, r.Outcome); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// VolumeHistory returns up to limit observations of tankID within [from, to],
// oldest first.
func (s *ObservationStore) VolumeHistory(ctx context.Context, tankID string, from, to time.Time, limit int) ([]domain.VolumeObservation, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT observed_at, measured_volume
		FROM (
			SELECT observed_at, measured_volume
			FROM tank_observations FINAL
			WHERE tank_id = ? AND observed_at >= ? AND observed_at <= ?
			ORDER BY observed_at DESC
			LIMIT ?
		)
		ORDER BY observed_at ASC
	`, tankID, from.UTC(), to.UTC(), uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query volume history: %w", err)
	}
	defer rows.Close()

	var out []domain.VolumeObservation
	for rows.Next() {
		obs := domain.VolumeObservation{TankID: tankID}
		if err := rows.Scan(&obs.Timestamp, &obs.Volume); err != nil {
			return nil, fmt.Errorf("scan volume history: %w", err)
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volume history: %w", err)
	}
	return out, nil
}
