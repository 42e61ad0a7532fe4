package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()

	s, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteIncrementAndCheck_Counts(t *testing.T) {
	s := newTestSQLiteBackend(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 10, 0, time.UTC)
	s.nowFunc = fixedClock(base)

	for i := 1; i <= 3; i++ {
		wc, err := s.IncrementAndCheck(ctx, "user:1", "upload", time.Minute)
		if err != nil {
			t.Fatalf("IncrementAndCheck failed: %v", err)
		}
		if wc.Count != int64(i) {
			t.Errorf("Expected count %d, got %d", i, wc.Count)
		}
		if wc.Remaining != 50*time.Second {
			t.Errorf("Expected 50s remaining, got %v", wc.Remaining)
		}
	}

	// Next window starts fresh
	s.nowFunc = fixedClock(base.Add(time.Minute))
	wc, err := s.IncrementAndCheck(ctx, "user:1", "upload", time.Minute)
	if err != nil {
		t.Fatalf("IncrementAndCheck failed: %v", err)
	}
	if wc.Count != 1 {
		t.Errorf("Expected count reset to 1 in new window, got %d", wc.Count)
	}
}

func TestSQLiteAppendViolation_Idempotent(t *testing.T) {
	s := newTestSQLiteBackend(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	v := Violation{
		ID:         "a",
		Identifier: "user:1",
		RouteKey:   "upload",
		Weight:     2,
		Timestamp:  at,
		ExpiresAt:  at.Add(time.Hour),
	}
	if err := s.AppendViolation(ctx, v); err != nil {
		t.Fatalf("AppendViolation failed: %v", err)
	}
	v.ID = "b"
	if err := s.AppendViolation(ctx, v); err != nil {
		t.Fatalf("AppendViolation replay failed: %v", err)
	}

	sum, err := s.WeightedViolations(ctx, "user:1", at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("WeightedViolations failed: %v", err)
	}
	if sum != 2 {
		t.Errorf("Expected weighted sum 2 after replay, got %g", sum)
	}
}

func TestSQLiteSaveEscalation_CAS(t *testing.T) {
	s := newTestSQLiteBackend(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	s.nowFunc = fixedClock(at)

	rec := EscalationRecord{
		Identifier:      "user:1",
		Tier:            "WATCH",
		EnteredAt:       at,
		LastViolationAt: at,
		ExpiresAt:       at.Add(30 * time.Minute),
	}

	swapped, err := s.SaveEscalation(ctx, nil, rec)
	if err != nil {
		t.Fatalf("SaveEscalation failed: %v", err)
	}
	if !swapped {
		t.Fatal("Expected create to swap")
	}

	swapped, _ = s.SaveEscalation(ctx, nil, rec)
	if swapped {
		t.Error("Expected second create to lose the CAS")
	}

	loaded, err := s.LoadEscalation(ctx, "user:1")
	if err != nil {
		t.Fatalf("LoadEscalation failed: %v", err)
	}
	if loaded == nil || loaded.Version != 1 || loaded.Tier != "WATCH" {
		t.Fatalf("Expected WATCH version 1 record, got %+v", loaded)
	}

	next := *loaded
	next.Tier = "HIGH"
	swapped, _ = s.SaveEscalation(ctx, loaded, next)
	if !swapped {
		t.Error("Expected update with current version to swap")
	}

	swapped, _ = s.SaveEscalation(ctx, loaded, next)
	if swapped {
		t.Error("Expected update with stale version to lose the CAS")
	}

	loaded, _ = s.LoadEscalation(ctx, "user:1")
	if loaded == nil || loaded.Tier != "HIGH" || loaded.Version != 2 {
		t.Errorf("Expected HIGH version 2 record, got %+v", loaded)
	}
}

func TestSQLiteSaveEscalation_CreateOverExpiredRow(t *testing.T) {
	s := newTestSQLiteBackend(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	s.nowFunc = fixedClock(at)

	rec := EscalationRecord{
		Identifier:      "user:1",
		Tier:            "HIGH",
		EnteredAt:       at,
		LastViolationAt: at,
		ExpiresAt:       at.Add(30 * time.Minute),
	}
	if _, err := s.SaveEscalation(ctx, nil, rec); err != nil {
		t.Fatalf("SaveEscalation failed: %v", err)
	}

	// After the cool-down the lingering row reads as absent and a fresh
	// create overwrites it. A live row still rejects the create.
	s.nowFunc = fixedClock(at.Add(31 * time.Minute))

	if loaded, _ := s.LoadEscalation(ctx, "user:1"); loaded != nil {
		t.Errorf("Expected expired record to read as absent, got %+v", loaded)
	}

	swapped, err := s.SaveEscalation(ctx, nil, EscalationRecord{
		Identifier:      "user:1",
		Tier:            "WATCH",
		EnteredAt:       at.Add(31 * time.Minute),
		LastViolationAt: at.Add(31 * time.Minute),
		ExpiresAt:       at.Add(61 * time.Minute),
	})
	if err != nil {
		t.Fatalf("SaveEscalation failed: %v", err)
	}
	if !swapped {
		t.Error("Expected create over expired row to swap")
	}

	loaded, _ := s.LoadEscalation(ctx, "user:1")
	if loaded == nil || loaded.Tier != "WATCH" {
		t.Errorf("Expected fresh WATCH record, got %+v", loaded)
	}
}

func TestSQLiteMarkNotified_Dedupe(t *testing.T) {
	s := newTestSQLiteBackend(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	s.nowFunc = fixedClock(at)

	send, err := s.MarkNotified(ctx, "user:1", "WATCH", 15*time.Minute)
	if err != nil {
		t.Fatalf("MarkNotified failed: %v", err)
	}
	if !send {
		t.Error("Expected first notification to send")
	}

	send, _ = s.MarkNotified(ctx, "user:1", "WATCH", 15*time.Minute)
	if send {
		t.Error("Expected repeat within interval to be suppressed")
	}

	s.nowFunc = fixedClock(at.Add(15 * time.Minute))
	send, _ = s.MarkNotified(ctx, "user:1", "WATCH", 15*time.Minute)
	if !send {
		t.Error("Expected send after the dedupe interval elapsed")
	}
}

func TestSQLiteCleanup(t *testing.T) {
	s := newTestSQLiteBackend(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	s.nowFunc = fixedClock(at)

	if _, err := s.IncrementAndCheck(ctx, "user:1", "upload", time.Minute); err != nil {
		t.Fatalf("IncrementAndCheck failed: %v", err)
	}
	if err := s.AppendViolation(ctx, Violation{
		Identifier: "user:1", RouteKey: "upload", Weight: 1,
		Timestamp: at, ExpiresAt: at.Add(time.Hour),
	}); err != nil {
		t.Fatalf("AppendViolation failed: %v", err)
	}

	deleted, err := s.Cleanup(ctx, at)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected nothing deleted, got %d", deleted)
	}

	deleted, err = s.Cleanup(ctx, at.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 expired rows deleted, got %d", deleted)
	}
}

func TestSQLiteClose_Idempotent(t *testing.T) {
	s, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}

	_, err = s.IncrementAndCheck(context.Background(), "user:1", "upload", time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable after close, got %v", err)
	}
}
