// Package pass drives one compilation pass over an index: open, decide
// between a full rebuild and an incremental update, feed the source items,
// and always close.
package pass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cierrors "github.com/Aman-CERP/classidx/internal/errors"
	"github.com/Aman-CERP/classidx/internal/index"
	"github.com/Aman-CERP/classidx/internal/ui"
)

// DefaultBatchSize is the number of items handed to UpdateBatch at once.
const DefaultBatchSize = 64

// Handle is the part of an open index a pass needs.
// *index.Writer satisfies it.
type Handle[T any] interface {
	IsEmpty() bool
	Recovered() bool
	Name() string
	UpdateBatch(ctx context.Context, items []index.Item[T]) error
	RemoveSource(ctx context.Context, sourceID string) (int, error)
	Clear(ctx context.Context) error
	Close() error
	Abort() error
}

// OpenFunc opens the index for one pass.
type OpenFunc[T any] func(ctx context.Context) (Handle[T], error)

// Source supplies the items of a pass.
type Source[T any] interface {
	// All returns every item; used when the index must be rebuilt.
	All(ctx context.Context) ([]index.Item[T], error)

	// Changed returns the items added or modified since the last pass.
	Changed(ctx context.Context) ([]index.Item[T], error)

	// Removed returns the ids of items deleted since the last pass.
	Removed(ctx context.Context) ([]string, error)
}

// Result contains the outcome of a pass.
type Result struct {
	// Index is the index canonical name.
	Index string

	// Full is true when the index was empty and every item was fed.
	Full bool

	// Recovered is true when the store had to be recreated on open.
	Recovered bool

	// Updated is the number of items written.
	Updated int

	// Removed is the number of removed source ids.
	Removed int

	// Dropped is the number of keys deleted with their last contributor.
	Dropped int

	// Duration is the total pass time.
	Duration time.Duration
}

// Config configures a Runner.
type Config struct {
	// Renderer displays progress. Defaults to ui.Discard.
	Renderer ui.Renderer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// BatchSize bounds each UpdateBatch call. Defaults to DefaultBatchSize.
	BatchSize int
}

// Runner executes compilation passes.
type Runner[T any] struct {
	renderer  ui.Renderer
	logger    *slog.Logger
	batchSize int
}

// NewRunner creates a Runner.
func NewRunner[T any](cfg Config) *Runner[T] {
	if cfg.Renderer == nil {
		cfg.Renderer = ui.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Runner[T]{
		renderer:  cfg.Renderer,
		logger:    cfg.Logger,
		batchSize: cfg.BatchSize,
	}
}

// Run executes one pass. The handle is always released: Close marks the index
// EXIST after a successful pass, while a failed pass aborts and leaves it
// CORRUPTED so the next pass rebuilds it. The pass error takes precedence
// over a release error.
func (r *Runner[T]) Run(ctx context.Context, open OpenFunc[T], src Source[T]) (result *Result, err error) {
	start := time.Now()

	if err := r.renderer.Start(ctx); err != nil {
		return nil, fmt.Errorf("start renderer: %w", err)
	}
	defer func() {
		if stopErr := r.renderer.Stop(); stopErr != nil {
			r.logger.Warn("renderer_stop_failed", slog.String("error", stopErr.Error()))
		}
	}()

	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageOpen, Message: "opening index"})
	h, err := open(ctx)
	if err != nil {
		r.renderer.AddError(ui.ErrorEvent{Err: err})
		return nil, err
	}

	result = &Result{
		Index:     h.Name(),
		Full:      h.IsEmpty(),
		Recovered: h.Recovered(),
	}
	log := r.logger.With(slog.String("index", result.Index))
	log.Info("pass_started", slog.Bool("full", result.Full), slog.Bool("recovered", result.Recovered))

	defer func() {
		result.Duration = time.Since(start)
		if err != nil {
			r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageClose, Message: "aborting index"})
			if abortErr := h.Abort(); abortErr != nil {
				log.Warn("pass_abort_failed", slog.String("error", abortErr.Error()))
			}
			log.Warn("pass_failed", slog.String("error", err.Error()))
			return
		}

		r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageClose, Message: "closing index"})
		if err = h.Close(); err != nil {
			r.renderer.AddError(ui.ErrorEvent{Err: err})
			log.Error("pass_close_failed", slog.String("error", err.Error()))
			return
		}
		r.renderer.Complete(ui.CompletionStats{
			Index:     result.Index,
			Full:      result.Full,
			Recovered: result.Recovered,
			Updated:   result.Updated,
			Removed:   result.Removed,
			Dropped:   result.Dropped,
			Duration:  result.Duration,
		})
		log.Info("pass_completed",
			slog.Int("updated", result.Updated),
			slog.Int("removed", result.Removed),
			slog.Int("dropped", result.Dropped),
			slog.Duration("duration", result.Duration))
	}()

	var items []index.Item[T]
	if result.Full {
		items, err = src.All(ctx)
		if err != nil {
			return result, fmt.Errorf("list source items: %w", err)
		}
		// An untrusted store may still hold keys of sources that are gone.
		if err = h.Clear(ctx); err != nil {
			r.renderer.AddError(ui.ErrorEvent{Err: err})
			return result, err
		}
	} else {
		var removed []string
		removed, err = src.Removed(ctx)
		if err != nil {
			return result, fmt.Errorf("list removed items: %w", err)
		}
		if err = r.remove(ctx, h, removed, result); err != nil {
			return result, err
		}
		items, err = src.Changed(ctx)
		if err != nil {
			return result, fmt.Errorf("list changed items: %w", err)
		}
	}

	if err = r.update(ctx, h, items, result); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Runner[T]) remove(ctx context.Context, h Handle[T], ids []string, result *Result) error {
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		dropped, err := h.RemoveSource(ctx, id)
		if err != nil {
			r.renderer.AddError(ui.ErrorEvent{Item: id, Err: err})
			return err
		}
		result.Removed++
		result.Dropped += dropped
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageRemove,
			Current:     i + 1,
			Total:       len(ids),
			CurrentItem: id,
		})
	}
	return nil
}

func (r *Runner[T]) update(ctx context.Context, h Handle[T], items []index.Item[T], result *Result) error {
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageUpdate, Total: len(items)})

	for start := 0; start < len(items); start += r.batchSize {
		end := min(start+r.batchSize, len(items))
		batch := items[start:end]

		if err := h.UpdateBatch(ctx, batch); err != nil {
			r.renderer.AddError(ui.ErrorEvent{Item: failedItem(err), Err: err})
			return err
		}
		result.Updated += len(batch)
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageUpdate,
			Current:     end,
			Total:       len(items),
			CurrentItem: batch[len(batch)-1].ID,
		})
	}
	return nil
}

// failedItem names the source an index error was reported for, if any.
func failedItem(err error) string {
	var ie *cierrors.IndexError
	if errors.As(err, &ie) {
		return ie.Details["source"]
	}
	return ""
}
