package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
)

// saveTimeout bounds one background write.
const saveTimeout = 10 * time.Second

// deferredSaver coalesces state writes. The first Schedule arms a timer;
// later calls before it fires join the same write. The export runs when the
// timer fires, so the write carries the latest state.
type deferredSaver struct {
	store   StateStore
	delay   time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	key     string
	export  func() domain.PersistedState
	onError func(operation string, err error)

	mu      sync.Mutex
	timer   clockwork.Timer
	writeMu sync.Mutex
}

// Schedule arms the save timer unless one is already pending.
func (s *deferredSaver) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return
	}
	s.timer = s.clock.AfterFunc(s.delay, s.fire)
}

// Pending reports whether a save is scheduled.
func (s *deferredSaver) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *deferredSaver) fire() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.write(ctx); err != nil {
		s.onError("save", err)
	}
}

// Flush cancels a pending timer and writes synchronously.
func (s *deferredSaver) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if err := s.write(ctx); err != nil {
		s.onError("save", err)
		return err
	}
	return nil
}

func (s *deferredSaver) write(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	state := s.export()
	if err := s.store.Save(ctx, s.key, state); err != nil {
		return err
	}
	s.logger.Debug("state saved", "key", s.key, "refills", len(state.RefillHistory), "days", len(state.ConsumptionDaily))
	return nil
}
