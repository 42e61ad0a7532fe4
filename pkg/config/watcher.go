package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ThresholdWatcher watches the configuration file and swaps a fresh
// ThresholdTable into a ThresholdSource when the file changes. Reloads are
// debounced so editors that write in several bursts trigger one reload, and a
// reload that fails to parse or validate leaves the active table untouched.
type ThresholdWatcher struct {
	path     string
	source   *ThresholdSource
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce *Debouncer

	mu      sync.Mutex
	running bool
	doneCh  chan struct{}
}

// NewThresholdWatcher creates a watcher for the given config file path.
func NewThresholdWatcher(path string, source *ThresholdSource, logger *slog.Logger) (*ThresholdWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &ThresholdWatcher{
		path:     path,
		source:   source,
		watcher:  watcher,
		logger:   logger.With("component", "config.watcher"),
		debounce: NewDebouncer(200 * time.Millisecond),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch starts watching for file changes. It blocks until the context is
// cancelled or Stop is called.
func (w *ThresholdWatcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	// Watch the directory rather than the file: editors replace files by
	// rename, which drops a watch on the file itself.
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	w.logger.Info("watching config for threshold changes", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.doneCh:
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounce.Trigger(w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

// reload re-reads the configuration and swaps the threshold snapshot.
func (w *ThresholdWatcher) reload() {
	cfg, err := LoadConfigWithEnvOverrides(w.path)
	if err != nil {
		w.logger.Error("threshold reload failed, keeping active thresholds", "error", err)
		return
	}

	w.source.Swap(BuildThresholdTable(&cfg.Limits))
	w.logger.Info("thresholds reloaded",
		"routes", len(cfg.Limits.Routes),
		"default_rate_limit", cfg.Limits.Default.RateLimit,
	)
}

// Stop stops the watcher.
func (w *ThresholdWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		close(w.doneCh)
	}
	w.debounce.Stop()
	return w.watcher.Close()
}

// Debouncer collapses rapid event bursts into one callback after a quiet
// period.
type Debouncer struct {
	interval time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	callback func()
	stopCh   chan struct{}
}

// NewDebouncer creates a new debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Trigger registers an event. The callback runs after the debounce interval
// if no further events arrive.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		select {
		case <-d.stopCh:
			return
		default:
		}

		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// Stop cancels any pending callback.
func (d *Debouncer) Stop() {
	close(d.stopCh)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
