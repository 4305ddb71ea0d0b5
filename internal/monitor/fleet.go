package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
)

// Fleet routes sensor events to the coordinator of their tank.
// The set of tanks is fixed at construction.
type Fleet struct {
	tanks map[string]*Coordinator
	ids   []string
}

// NewFleet builds a fleet from coordinators with distinct tank ids.
func NewFleet(coordinators ...*Coordinator) (*Fleet, error) {
	f := &Fleet{tanks: make(map[string]*Coordinator, len(coordinators))}
	for _, c := range coordinators {
		if _, dup := f.tanks[c.TankID()]; dup {
			return nil, fmt.Errorf("create fleet: duplicate tank id %q", c.TankID())
		}
		f.tanks[c.TankID()] = c
		f.ids = append(f.ids, c.TankID())
	}
	slices.Sort(f.ids)
	return f, nil
}

// IDs returns the configured tank ids in sorted order.
func (f *Fleet) IDs() []string {
	return slices.Clone(f.ids)
}

// Tank returns the coordinator of tankID.
func (f *Fleet) Tank(tankID string) (*Coordinator, error) {
	c, ok := f.tanks[tankID]
	if !ok {
		return nil, fmt.Errorf("tank %q: %w", tankID, domain.ErrUnknownTank)
	}
	return c, nil
}

// Process routes ev to its tank and runs one processing cycle.
func (f *Fleet) Process(ctx context.Context, ev domain.SensorEvent) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	c, err := f.Tank(ev.TankID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return c.Process(ev)
}

// RecordRefill records a manual refill on tankID.
func (f *Fleet) RecordRefill(tankID string, volume *float64, at time.Time) (domain.Snapshot, error) {
	c, err := f.Tank(tankID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return c.RecordRefill(volume, at)
}

// Snapshots returns the latest snapshot of every tank, sorted by tank id.
func (f *Fleet) Snapshots() []domain.Snapshot {
	out := make([]domain.Snapshot, 0, len(f.ids))
	for _, id := range f.ids {
		out = append(out, f.tanks[id].Snapshot())
	}
	return out
}

// Restore restores every tank. It keeps going past failures and joins them.
func (f *Fleet) Restore(ctx context.Context) error {
	var errs []error
	for _, id := range f.ids {
		if err := f.tanks[id].Restore(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush writes every tank's state synchronously.
func (f *Fleet) Flush(ctx context.Context) error {
	var errs []error
	for _, id := range f.ids {
		if err := f.tanks[id].Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
