package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher live-reloads Config's reloadable fields from ConfigFile whenever
// it changes, falling back to polling if the filesystem doesn't support
// fsnotify (some container overlay/network mounts don't deliver events).
// Set CONFIG_WATCHER_FALLBACK=false to disable the fallback and fail
// startup instead of silently polling.
type Watcher struct {
	cfg    *Config
	path   string
	logger *slog.Logger

	fsw          *fsnotify.Watcher
	pollingMode  bool
	pollInterval time.Duration

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher builds a Watcher for cfg.ConfigFile. Returns (nil, nil) if
// ConfigFile is unset — there is nothing to watch.
func NewWatcher(cfg *Config, logger *slog.Logger) (*Watcher, error) {
	if cfg.ConfigFile == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		cfg:          cfg,
		path:         cfg.ConfigFile,
		logger:       logger,
		pollInterval: 5 * time.Second,
	}

	fallbackDisabled := os.Getenv("CONFIG_WATCHER_FALLBACK") == "false"

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		if fallbackDisabled {
			return nil, err
		}
		logger.Warn("config watcher: fsnotify unavailable, falling back to polling", "error", err)
		w.pollingMode = true
		return w, nil
	}

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		if fallbackDisabled {
			return nil, err
		}
		logger.Warn("config watcher: failed to watch config directory, falling back to polling", "error", err)
		w.pollingMode = true
		return w, nil
	}

	w.fsw = fsw
	return w, nil
}

// Start runs until ctx is canceled, reloading cfg each time the file
// changes (debounced) or, in polling mode, each pollInterval.
func (w *Watcher) Start(ctx context.Context) {
	if w.pollingMode {
		w.pollLoop(ctx)
		return
	}
	defer w.fsw.Close()

	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounce(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) debounce(ctx context.Context) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(250*time.Millisecond, func() {
		w.reload(ctx)
	})
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var lastMod time.Time
	if stat, err := os.Stat(w.path); err == nil {
		lastMod = stat.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if stat.ModTime().After(lastMod) {
				lastMod = stat.ModTime()
				w.reload(ctx)
			}
		}
	}
}

func (w *Watcher) reload(_ context.Context) {
	if err := w.cfg.ApplyFileOverrides(w.path); err != nil {
		w.logger.Warn("config watcher: reload failed, keeping previous values", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config watcher: reloaded", "path", w.path)
}
