// Package sweeper runs scheduled cleanup of expired admission records.
//
// Backends with native expiry (Redis) make cleanup a no-op; the SQLite and
// memory backends rely on the sweeper to reclaim counters, ledger entries,
// escalations, and suppressions whose lifetime has passed.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"photoshare/gatekeeper/pkg/admission/store"
)

// Sweeper drives Backend.Cleanup on a cron schedule.
type Sweeper struct {
	backend  store.Backend
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool

	// nowFunc is swapped in tests.
	nowFunc func() time.Time
}

// New creates a sweeper. An empty schedule disables it.
func New(backend store.Backend, schedule string, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		backend:  backend,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "sweeper"),
		nowFunc:  time.Now,
	}
}

// Start schedules cleanup runs and stops them when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("cleanup schedule not configured, sweeper disabled")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.Run(ctx)
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("sweeper started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Run executes one cleanup cycle immediately.
func (s *Sweeper) Run(ctx context.Context) {
	removed, err := s.backend.Cleanup(ctx, s.nowFunc())
	if err != nil {
		s.logger.Error("cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("cleanup completed", "removed", removed)
	} else {
		s.logger.Debug("cleanup completed, nothing expired")
	}
}

// Stop halts the schedule and waits for a running cleanup to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("sweeper stopped")
	}
}
