package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a directory tree with fsnotify and emits debounced batches.
//
// fsnotify watches are per directory, so new directories are added as they
// appear. A removed directory produces no per-file events; the watcher keeps
// the set of files it has seen to report them deleted.
type Watcher struct {
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	opts      Options
	logger    *slog.Logger

	events chan []FileEvent
	errors chan error

	mu      sync.Mutex
	root    string
	known   map[string]struct{}
	stopped bool
	stopCh  chan struct{}
}

// New creates a watcher. Start must be called to begin watching.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fs:        fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		opts:      opts,
		logger:    slog.Default(),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		known:     make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start watches root until ctx is cancelled or Stop is called. It blocks.
func (w *Watcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}

	w.mu.Lock()
	w.root = abs
	w.mu.Unlock()

	if err := w.addTree(abs, false); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}
	w.logger.Debug("watch_started", slog.String("root", abs))

	go w.forward()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handle converts one fsnotify event into debouncer input.
func (w *Watcher) handle(event fsnotify.Event) {
	rel, ok := w.rel(event.Name)
	if !ok {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if w.opts.ignoresDir(filepath.Base(event.Name)) {
				return
			}
			// Files may already exist by the time the watch is added.
			if err := w.addTree(event.Name, true); err != nil {
				w.emitError(err)
			}
			return
		}
		w.file(rel, OpCreate)

	case event.Has(fsnotify.Write):
		w.file(rel, OpModify)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// The path is gone; it may have been a file or a directory.
		for _, gone := range w.forget(rel) {
			w.debouncer.Add(FileEvent{Path: gone, Operation: OpDelete, Timestamp: time.Now()})
		}
	}
}

// file records a create or modify of rel if it is watched.
func (w *Watcher) file(rel string, op Operation) {
	if !w.opts.Wants(rel) {
		return
	}
	w.mu.Lock()
	w.known[rel] = struct{}{}
	w.mu.Unlock()
	w.debouncer.Add(FileEvent{Path: rel, Operation: op, Timestamp: time.Now()})
}

// forget drops rel, or every known file under rel, and returns them.
func (w *Watcher) forget(rel string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var gone []string
	prefix := rel + "/"
	for p := range w.known {
		if p == rel || strings.HasPrefix(p, prefix) {
			gone = append(gone, p)
			delete(w.known, p)
		}
	}
	return gone
}

// addTree watches dir and its subdirectories. Files found are recorded as
// known; with announce they are also reported as created.
func (w *Watcher) addTree(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped.
			return nil
		}
		if d.IsDir() {
			if p != dir && w.opts.ignoresDir(d.Name()) {
				return filepath.SkipDir
			}
			return w.fs.Add(p)
		}
		rel, ok := w.rel(p)
		if !ok || !w.opts.Wants(rel) {
			return nil
		}
		if announce {
			w.file(rel, OpCreate)
			return nil
		}
		w.mu.Lock()
		w.known[rel] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

// rel returns name relative to the root in slash form.
func (w *Watcher) rel(name string) (string, bool) {
	w.mu.Lock()
	root := w.root
	w.mu.Unlock()

	rel, err := filepath.Rel(root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// forward moves debounced batches to the events channel.
func (w *Watcher) forward() {
	for batch := range w.debouncer.Output() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		select {
		case w.events <- batch:
		default:
			w.logger.Warn("watch_batch_dropped", slog.Int("batch_size", len(batch)))
		}
		w.mu.Unlock()
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns the channel of debounced batches.
// The channel is closed when the watcher stops.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watch errors.
// The channel is closed when the watcher stops.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Known returns the number of watched files seen so far.
func (w *Watcher) Known() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.known)
}

// Stop stops the watcher and releases resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	w.debouncer.Stop()
	err := w.fs.Close()

	close(w.events)
	close(w.errors)
	return err
}
