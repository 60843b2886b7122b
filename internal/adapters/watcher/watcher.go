// Package watcher reloads the tile source when its file changes on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event represents a change of the watched file.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called once per burst of events on the watched file.
type Handler func(ctx context.Context, event Event) error

// Reloader is a tile source that can be reopened in place.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Config holds watcher configuration.
type Config struct {
	File     string        // File to watch; its directory is observed
	Debounce time.Duration // Quiet period before the handler runs
}

// Watcher watches a single file. Replacing the file by rename is seen as a
// create in its directory, which is why the directory is watched.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	file      string
	debounce  time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending Operation
	wg      sync.WaitGroup
}

// New creates a watcher for cfg.File.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if cfg.File == "" {
		return nil, errors.New("watch file is required")
	}

	file, err := filepath.Abs(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("resolving watch file: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		file:      file,
		debounce:  cfg.Debounce,
	}, nil
}

// Start watches the file's directory until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.file)
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.logger.Info("watching tile source", "path", w.file)

	w.wg.Add(1)
	go w.eventLoop(ctx)

	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.fsWatcher.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

// eventLoop processes fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ctx, event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent debounces events on the watched file.
func (w *Watcher) handleFsEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.file {
		return
	}

	w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())

	op := fsnotifyOpToOperation(event.Op)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer == nil {
		w.pending = op
		w.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })
		return
	}

	w.pending = mergeOperation(w.pending, op)
	w.timer.Reset(w.debounce)
}

// fire runs the handler for the pending event.
func (w *Watcher) fire(ctx context.Context) {
	w.mu.Lock()
	event := Event{Path: w.file, Operation: w.pending}
	w.timer = nil
	w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	w.logger.Info("processing file event",
		"path", event.Path,
		"operation", event.Operation.String(),
	)

	if err := w.handler(ctx, event); err != nil {
		w.logger.Error("handler error",
			"path", event.Path,
			"operation", event.Operation.String(),
			"error", err,
		)
	}
}

// mergeOperation folds a new event into the pending one. A delete followed
// by a create is a replacement; a delete always wins otherwise.
func mergeOperation(pending, next Operation) Operation {
	switch {
	case pending == OpDelete && next == OpCreate:
		return OpCreate
	case next == OpDelete:
		return OpDelete
	case pending == OpCreate:
		return OpCreate
	default:
		return next
	}
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove):
		return OpDelete
	case op.Has(fsnotify.Rename):
		// The file is gone from its original location.
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

// ReloadHandler reloads r when the watched file is created or modified.
// A deleted file keeps the current connection open.
func ReloadHandler(r Reloader, logger *slog.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		if event.Operation == OpDelete {
			logger.Warn("tile source removed, keeping the open source", "path", event.Path)
			return nil
		}

		start := time.Now()
		if err := r.Reload(ctx); err != nil {
			return fmt.Errorf("reloading tile source: %w", err)
		}

		logger.Info("tile source reloaded", "path", event.Path, "duration", time.Since(start))
		return nil
	}
}
