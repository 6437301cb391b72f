package indexer

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
)

// waitForLockRelease blocks until the directory's lock marker is gone, the
// timeout elapses or ctx ends. It reports whether the marker is gone.
// Directory events wake it early; polling covers filesystems without
// notification support.
func waitForLockRelease(ctx context.Context, dir *engine.Directory, timeout, poll time.Duration, logger *slog.Logger) (bool, error) {
	if !dir.IsLocked() {
		return true, nil
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	var events chan fsnotify.Event
	var watchErrs chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("lock watcher unavailable, polling", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(dir.Path()); err != nil {
			logger.Debug("cannot watch index directory, polling", "error", err)
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if !dir.IsLocked() {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return !dir.IsLocked(), nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) == engine.LockFileName && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debug("lock marker removed", "event", ev.Op.String())
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			logger.Debug("lock watcher error", "error", err)
		case <-ticker.C:
		}
	}
}
