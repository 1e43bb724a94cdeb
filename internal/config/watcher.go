package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads non-bot settings when the config file changes on disk
// outside the IPC surface (an editor, or a GUI writing the file directly).
// Events are debounced because editors produce write bursts, and the store's
// own atomic save shows up as a rename we must also absorb.
func Watch(ctx context.Context, store *Store, onReload func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: atomic saves replace the file inode, and a watch
	// on the old inode would go quiet after the first rename.
	dir := filepath.Dir(store.Path())
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()

		var pending *time.Timer
		trigger := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != filepath.Base(store.Path()) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(300*time.Millisecond, func() {
					select {
					case trigger <- struct{}{}:
					default:
					}
				})
			case <-trigger:
				if err := store.Reload(); err != nil {
					slog.Warn("config reload failed", "error", err)
					continue
				}
				slog.Info("config reloaded from disk")
				if onReload != nil {
					onReload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Debug("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
