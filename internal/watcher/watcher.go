package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gridcat/gridcat/internal/scanner"
)

// Watcher observes the configured roots recursively and emits debounced
// batches of file events matching the include patterns.
type Watcher struct {
	fsw      *fsnotify.Watcher
	deb      *Debouncer
	includes []string
}

// New creates a Watcher over the given roots. Every existing subdirectory is
// registered; directories created later are picked up from their create
// events.
func New(roots []string, includes []string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		deb:      NewDebouncer(debounce),
		includes: includes,
	}

	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	return w, nil
}

// addTree registers a directory and all its subdirectories.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping unwatchable path",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			slog.Warn("failed to watch directory",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

// Run pumps events until the context is cancelled, invoking onBatch for each
// debounced batch. Always returns the context's error.
func (w *Watcher) Run(ctx context.Context, onBatch func([]FileEvent)) error {
	defer w.deb.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case batch, ok := <-w.deb.Output():
			if !ok {
				return nil
			}
			onBatch(batch)

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

// handle maps one fsnotify event into the debouncer, registering newly
// created directories as it goes.
func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				slog.Warn("failed to watch new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
			}
			return
		}
	}

	if !scanner.MatchesAny(filepath.Base(event.Name), w.includes) {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		op = OpDelete
	default:
		return // chmod etc.
	}

	w.deb.Add(FileEvent{Path: event.Name, Operation: op})
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
