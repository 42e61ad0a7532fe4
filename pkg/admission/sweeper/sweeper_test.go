package sweeper

import (
	"context"
	"testing"
	"time"

	"photoshare/gatekeeper/pkg/admission/store"
)

func TestRun_RemovesExpiredRecords(t *testing.T) {
	backend := store.NewMemoryBackend()
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	backend.SetClock(func() time.Time { return base })

	if _, err := backend.IncrementAndCheck(ctx, "user:1", "upload", time.Minute); err != nil {
		t.Fatalf("IncrementAndCheck failed: %v", err)
	}

	s := New(backend, "@hourly", nil)
	s.nowFunc = func() time.Time { return base.Add(24 * time.Hour) }
	s.Run(ctx)

	// The expired counter is gone; a fresh increment starts at 1.
	backend.SetClock(func() time.Time { return base })
	wc, err := backend.IncrementAndCheck(ctx, "user:1", "upload", time.Minute)
	if err != nil {
		t.Fatalf("IncrementAndCheck failed: %v", err)
	}
	if wc.Count != 1 {
		t.Errorf("Expected count 1 after sweep, got %d", wc.Count)
	}
}

func TestStart_RejectsInvalidSchedule(t *testing.T) {
	s := New(store.NewMemoryBackend(), "not a schedule", nil)
	if err := s.Start(context.Background()); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

func TestStart_EmptyScheduleDisables(t *testing.T) {
	s := New(store.NewMemoryBackend(), "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Stop()
}
