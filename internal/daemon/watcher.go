package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reports modifications of the database file made by anyone but this
// daemon. The file is replaced by rename on every write, so its directory is
// watched rather than the file. The in-memory copy is authoritative: an
// outside change is logged and will be overwritten by the next write.
// It blocks until the context is cancelled.
func (d *Daemon) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path := filepath.Clean(d.db.Path())
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	d.logger.Info("watching database for outside changes", "path", path)

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if d.recentlyPersisted() {
				continue
			}
			d.logger.Debug("database file changed", "op", event.Op)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			op := event.Op
			debounceTimer = time.AfterFunc(d.debounce, func() {
				if d.recentlyPersisted() {
					return
				}
				d.externalChanges.Add(1)
				d.logger.Warn("database modified outside the daemon; the next write will replace it",
					"path", path, "op", op)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("file watcher error", "error", err)
		}
	}
}
