package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CollapsesBursts(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { calls.Add(1) })
	}

	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected burst to collapse into 1 callback, got %d", got)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()

	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("Expected no callback after Stop, got %d", got)
	}
}

func TestThresholdWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	initial := `
limits:
  default:
    rate_limit: 100
    window: 1m
`
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	source := NewThresholdSource(BuildThresholdTable(&cfg.Limits))

	watcher, err := NewThresholdWatcher(path, source, nil)
	if err != nil {
		t.Fatalf("NewThresholdWatcher failed: %v", err)
	}
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Watch(ctx)

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	updated := `
limits:
  default:
    rate_limit: 42
    window: 1m
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("Failed to update config: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if source.Current().Default().RateLimit == 42 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Expected thresholds to reload to 42, still %d",
		source.Current().Default().RateLimit)
}

func TestThresholdWatcher_KeepsTableOnBrokenReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte(`
limits:
  default:
    rate_limit: 100
    window: 1m
`), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	source := NewThresholdSource(BuildThresholdTable(&cfg.Limits))

	watcher, err := NewThresholdWatcher(path, source, nil)
	if err != nil {
		t.Fatalf("NewThresholdWatcher failed: %v", err)
	}
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Watch(ctx)
	time.Sleep(100 * time.Millisecond)

	// A file that fails validation must not disturb the active table.
	if err := os.WriteFile(path, []byte(`
limits:
  default:
    rate_limit: -5
    window: 1m
`), 0o644); err != nil {
		t.Fatalf("Failed to update config: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if got := source.Current().Default().RateLimit; got != 100 {
		t.Errorf("Expected active table to survive broken reload, got rate limit %d", got)
	}
}
