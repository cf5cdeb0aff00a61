// Package watcher turns filesystem events in the boards directory into
// board-level change notifications. Debouncing is the sync coordinator's
// job; the watcher only filters and translates.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/miokidk/astra-sync/internal/store"
)

// BoardEvent reports a local change to one board document.
type BoardEvent struct {
	ID      uuid.UUID
	Deleted bool
}

// Watcher monitors the boards directory for document changes.
type Watcher struct {
	rootPath       string
	watcher        *fsnotify.Watcher
	ignorePatterns []string
	output         chan BoardEvent
	stopCh         chan struct{}
}

// NewWatcher creates a watcher over the boards directory. Metadata sidecars
// and the assets subdirectory are excluded via the ignore patterns.
func NewWatcher(rootPath string, ignorePatterns []string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		rootPath:       rootPath,
		watcher:        fsWatcher,
		ignorePatterns: ignorePatterns,
		output:         make(chan BoardEvent, 100),
		stopCh:         make(chan struct{}),
	}, nil
}

// Start begins watching. Board documents live flat in the root directory,
// so only the root needs a watch.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.rootPath); err != nil {
		return err
	}

	go w.processEvents(ctx)

	slog.Info("board watcher started", "path", w.rootPath)
	return nil
}

// Events returns the channel of board change events.
func (w *Watcher) Events() <-chan BoardEvent {
	return w.output
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

// processEvents handles fsnotify events.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			relPath, err := filepath.Rel(w.rootPath, event.Name)
			if err != nil {
				continue
			}
			relPath = filepath.ToSlash(relPath)

			if w.shouldIgnore(relPath) {
				continue
			}

			id, ok := store.ParseBoardFilename(relPath)
			if !ok {
				continue
			}
			w.handleEvent(event, id)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("board watcher error", "error", err)
		}
	}
}

// handleEvent translates a single fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event, id uuid.UUID) {
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.emit(BoardEvent{ID: id})

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// Rename away is a delete; an atomic-write rename into place
		// arrives as Create on the target name instead.
		w.emit(BoardEvent{ID: id, Deleted: true})

	case event.Has(fsnotify.Chmod):
		// Ignore chmod events
	}
}

func (w *Watcher) emit(ev BoardEvent) {
	select {
	case w.output <- ev:
	case <-w.stopCh:
	}
}

// shouldIgnore checks if a path matches any ignore pattern
func (w *Watcher) shouldIgnore(relPath string) bool {
	for _, pattern := range w.ignorePatterns {
		matched, err := doublestar.Match(pattern, relPath)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
