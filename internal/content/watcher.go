package content

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Change kinds reported by Watch.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// ChangeCallback receives the kind of change and the slash-separated path
// relative to the watched root.
type ChangeCallback func(kind, rel string)

// Watch reports image changes under root until ctx is cancelled.
// Directories created at runtime are added to the watch list and the images
// already inside them are reported as created.
func Watch(ctx context.Context, root string, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))

	emit := func(kind, abs string) {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return
		}
		logger.Debug("watcher: change", slog.String("path", rel), slog.String("op", kind))
		if cb != nil {
			cb(kind, filepath.ToSlash(rel))
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					reportNewDir(ev.Name, func(abs string) { emit(ChangeCreated, abs) })
					continue
				}
			}

			if !IsSupported(ev.Name) {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				emit(ChangeCreated, ev.Name)
			case ev.Op&fsnotify.Write != 0:
				emit(ChangeUpdated, ev.Name)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Rename fires on the old path; the new one arrives as Create.
				emit(ChangeDeleted, ev.Name)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func reportNewDir(dir string, fn func(abs string)) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !IsSupported(p) {
			return nil
		}
		fn(p)
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
