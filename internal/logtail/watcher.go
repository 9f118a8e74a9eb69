package logtail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultPollInterval = 500 * time.Millisecond

// Watcher wakes its callbacks when the log file may have changed. It
// combines fsnotify events on the parent directory with a polling ticker,
// so a missed notification only delays a change by one interval.
type Watcher struct {
	Path         string
	PollInterval time.Duration
	Logger       *slog.Logger

	// OnCreate runs when the file is created after the watch started.
	OnCreate func(ctx context.Context)
	// OnChange runs for every write notification and every poll tick.
	OnChange func(ctx context.Context)
}

// Run watches until ctx is cancelled. The parent directory is created if it
// does not exist. If fsnotify cannot be set up, Run keeps polling.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	absPath, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("resolve log path: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, polling only", "error", err)
	} else {
		defer fsWatcher.Close()
		if err := fsWatcher.Add(dir); err != nil {
			logger.Warn("watch log dir failed, polling only", "dir", dir, "error", err)
		} else {
			events = fsWatcher.Events
			errs = fsWatcher.Errors
		}
	}

	logger.Info("watching log", "path", absPath, "poll_interval", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Op&fsnotify.Create != 0 && w.OnCreate != nil {
				w.OnCreate(ctx)
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && w.OnChange != nil {
				w.OnChange(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("log watcher error", "error", err)
		case <-ticker.C:
			if w.OnChange != nil {
				w.OnChange(ctx)
			}
		}
	}
}
