package watcher

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events per path. Within one window:
//   - CREATE then MODIFY is CREATE
//   - CREATE then DELETE is nothing
//   - MODIFY then DELETE is DELETE
//   - DELETE then CREATE or MODIFY is MODIFY
type Debouncer struct {
	window  time.Duration
	logger  *slog.Logger
	mu      sync.Mutex
	pending map[string]FileEvent
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer emitting a batch once no event has
// arrived for window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		logger:  slog.Default(),
		pending: make(map[string]FileEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add adds an event to the current batch and restarts the window.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		if merged, keep := coalesce(existing, event); keep {
			d.pending[event.Path] = merged
		} else {
			delete(d.pending, event.Path)
		}
	} else {
		d.pending[event.Path] = event
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges next into prev. keep is false when they cancel out.
func coalesce(prev, next FileEvent) (merged FileEvent, keep bool) {
	merged = next
	switch prev.Operation {
	case OpCreate:
		switch next.Operation {
		case OpDelete:
			return FileEvent{}, false
		default:
			merged.Operation = OpCreate
		}
	case OpDelete:
		if next.Operation != OpDelete {
			merged.Operation = OpModify
		}
	case OpModify:
		if next.Operation == OpCreate {
			merged.Operation = OpModify
		}
	}
	return merged, true
}

// flush emits the pending events sorted by path.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.pending))
	for _, e := range d.pending {
		events = append(events, e)
	}
	slices.SortFunc(events, func(a, b FileEvent) int { return cmp.Compare(a.Path, b.Path) })

	select {
	case d.output <- events:
		d.pending = make(map[string]FileEvent)
	default:
		// Consumer is behind; keep the batch and retry after another window.
		d.logger.Warn("debouncer_output_full", slog.Int("batch_size", len(events)))
		d.timer = time.AfterFunc(d.window, d.flush)
	}
}

// Output returns the channel of debounced batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop drops pending events and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
