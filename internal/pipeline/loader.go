package pipeline

import (
	"context"
	"errors"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
)

// MultiLoader fans a batch out to several loaders. Every loader sees the
// batch even if an earlier one fails; the failures are joined.
type MultiLoader []BatchLoader

func (m MultiLoader) LoadBatch(ctx context.Context, snapshots []domain.Snapshot) error {
	var errs []error
	for _, l := range m {
		if err := l.LoadBatch(ctx, snapshots); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
