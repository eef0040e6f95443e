package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/classidx/internal/codec"
	cierrors "github.com/Aman-CERP/classidx/internal/errors"
	"github.com/Aman-CERP/classidx/internal/kvstore"
	"github.com/Aman-CERP/classidx/internal/marker"
)

// Writer is an open index. It lives for one compilation pass: Open acquires
// the directory lock and store files, Close releases them.
type Writer[T any, K comparable, V any] struct {
	name string
	dir  string

	keys      codec.KeyCodec[K]
	values    codec.ValueCodec[V]
	extractor Extractor[T, K, V]
	workers   int
	logger    *slog.Logger

	empty     bool
	recovered bool

	lock  *flock.Flock
	store Backend
	cache *lru.Cache[string, Entry[V]]

	// mu serializes store mutations, cache fills and Close.
	mu     sync.Mutex
	closed atomic.Bool

	// failed is set once any mutation of the session fails. The store may
	// then be missing items, so Close leaves the marker CORRUPTED.
	failed atomic.Bool
}

// Open opens the index in dir for one pass.
//
// dir must already hold the version and state markers (see marker.Init),
// otherwise an ERR_201_MISSING_MARKER error is returned and nothing on disk
// is touched. If the store fails to open, its files are deleted and the open
// is retried, at most Options.OpenAttempts times in total. On success the
// state marker is set to CORRUPTED until Close.
func Open[T any, K comparable, V any](
	ctx context.Context,
	dir string,
	keys codec.KeyCodec[K],
	values codec.ValueCodec[V],
	extractor Extractor[T, K, V],
	opts Options,
) (*Writer[T, K, V], error) {
	opts = opts.withDefaults(dir)
	name := opts.Name
	log := opts.Logger.With(slog.String("index", name), slog.String("dir", dir))

	if missing := marker.Missing(dir); len(missing) > 0 {
		return nil, cierrors.MissingMarkerError(name, dir, missing)
	}

	lock, err := acquireLock(name, dir)
	if err != nil {
		return nil, err
	}

	recovered := false
	retry := cierrors.RetryConfig{
		MaxRetries: opts.OpenAttempts - 1,
		OnFailure: func(attempt int, openErr error) error {
			recovered = true
			removed, rmErr := kvstore.RemoveFiles(dir, opts.StoreBaseName)
			log.Warn("class_index_store_recovered",
				slog.Int("attempt", attempt+1),
				slog.String("error", openErr.Error()),
				slog.Any("removed", removed))
			return rmErr
		},
	}
	store, err := cierrors.RetryWithResult(ctx, retry, func() (Backend, error) {
		return opts.Opener(dir)
	})
	if err != nil {
		_ = lock.Unlock()
		log.Error("class_index_open_failed", slog.String("error", err.Error()))
		return nil, cierrors.StoreOpenError(name, dir, err)
	}

	state, err := marker.Load(dir)
	if err != nil {
		log.Warn("class_index_state_unreadable", slog.String("error", err.Error()))
	}

	if err := marker.Save(dir, marker.StateCorrupted); err != nil {
		_ = store.Close()
		_ = lock.Unlock()
		return nil, cierrors.New(cierrors.ErrCodeMarkerWrite,
			fmt.Sprintf("cannot mark index %s in %s as open", name, dir), err).WithIndex(name, dir)
	}

	cache, err := lru.New[string, Entry[V]](opts.CacheSize)
	if err != nil {
		_ = store.Close()
		_ = lock.Unlock()
		return nil, cierrors.InternalError("cannot create lookup cache", err)
	}

	w := &Writer[T, K, V]{
		name:      name,
		dir:       dir,
		keys:      keys,
		values:    values,
		extractor: extractor,
		workers:   opts.Workers,
		logger:    log,
		empty:     state != marker.StateExist || recovered,
		recovered: recovered,
		lock:      lock,
		store:     store,
		cache:     cache,
	}

	log.Info("class_index_opened",
		slog.String("previous_state", state.String()),
		slog.Bool("empty", w.empty),
		slog.Bool("recovered", recovered))

	return w, nil
}

// IsEmpty reports whether the index must be rebuilt from scratch: the previous
// session did not close cleanly, or the store had to be recreated. It is fixed
// at Open and does not change as updates are applied.
func (w *Writer[T, K, V]) IsEmpty() bool {
	return w.empty
}

// Recovered reports whether Open had to delete and recreate the store.
func (w *Writer[T, K, V]) Recovered() bool {
	return w.recovered
}

// Name returns the index canonical name.
func (w *Writer[T, K, V]) Name() string {
	return w.name
}

// Dir returns the index directory.
func (w *Writer[T, K, V]) Dir() string {
	return w.dir
}

// Update extracts the pairs of item and makes them the contribution of
// sourceID: keys sourceID contributed earlier but no longer emits lose it as a
// contributor. The change is written atomically. A failed Update leaves the
// index to be rebuilt by the next pass. Calling Update after Close returns
// ERR_502_HANDLE_CLOSED.
func (w *Writer[T, K, V]) Update(ctx context.Context, sourceID string, item T) error {
	if w.closed.Load() {
		return w.closedError()
	}

	pairs, err := w.extract(sourceID, item)
	if err != nil {
		return w.fail(err)
	}
	return w.fail(w.write(ctx, sourceID, pairs))
}

// UpdateBatch runs the extractor over items concurrently, then writes each
// item's pairs in order. Extraction errors abort before anything is written.
func (w *Writer[T, K, V]) UpdateBatch(ctx context.Context, items []Item[T]) error {
	if w.closed.Load() {
		return w.closedError()
	}

	extracted := make([][]kvstore.Pair, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for i, it := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pairs, err := w.extract(it.ID, it.Value)
			extracted[i] = pairs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return w.fail(err)
	}

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return w.fail(err)
		}
		if err := w.write(ctx, it.ID, extracted[i]); err != nil {
			return w.fail(err)
		}
	}
	return nil
}

// fail records that the session lost a mutation. err is returned unchanged.
func (w *Writer[T, K, V]) fail(err error) error {
	if err != nil && !errors.Is(err, cierrors.ErrHandleClosed) {
		w.failed.Store(true)
	}
	return err
}

// Failed reports whether a mutation of this session failed.
func (w *Writer[T, K, V]) Failed() bool {
	return w.failed.Load()
}

// extract runs the extractor and encodes its output, sorted by encoded key.
func (w *Writer[T, K, V]) extract(sourceID string, item T) ([]kvstore.Pair, error) {
	m, err := w.extractor.Extract(item)
	if err != nil {
		return nil, cierrors.New(cierrors.ErrCodeExtractFailed,
			fmt.Sprintf("cannot extract %s for index %s", sourceID, w.name), err).
			WithIndex(w.name, w.dir).WithDetail("source", sourceID)
	}

	pairs := make([]kvstore.Pair, 0, len(m))
	for k, v := range m {
		kb, err := w.keys.Encode(k)
		if err != nil {
			return nil, cierrors.New(cierrors.ErrCodeInvalidInput,
				fmt.Sprintf("cannot encode key %v from %s", k, sourceID), err).WithIndex(w.name, w.dir)
		}
		vb, err := w.values.Encode(v)
		if err != nil {
			return nil, cierrors.New(cierrors.ErrCodeInvalidInput,
				fmt.Sprintf("cannot encode value for key %v from %s", k, sourceID), err).WithIndex(w.name, w.dir)
		}
		pairs = append(pairs, kvstore.Pair{Key: kb, Value: vb})
	}
	slices.SortFunc(pairs, func(a, b kvstore.Pair) int { return bytes.Compare(a.Key, b.Key) })
	return pairs, nil
}

func (w *Writer[T, K, V]) write(ctx context.Context, sourceID string, pairs []kvstore.Pair) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return w.closedError()
	}

	dropped, err := w.store.ReplaceSource(ctx, sourceID, pairs)
	// Contributor sets change beyond the written keys, so the whole cache goes.
	// Lookup fills the cache under mu, so nothing stale is added back.
	w.cache.Purge()
	if err != nil {
		return cierrors.StoreWriteError(w.name, w.dir, err).WithDetail("source", sourceID)
	}
	if len(dropped) > 0 {
		w.logger.Debug("class_index_keys_dropped",
			slog.String("source", sourceID),
			slog.Int("dropped", len(dropped)))
	}
	return nil
}

// Lookup returns the value stored for key and the sources that contributed it.
func (w *Writer[T, K, V]) Lookup(ctx context.Context, key K) (Entry[V], bool, error) {
	if w.closed.Load() {
		return Entry[V]{}, false, w.closedError()
	}

	kb, err := w.keys.Encode(key)
	if err != nil {
		return Entry[V]{}, false, cierrors.New(cierrors.ErrCodeInvalidInput,
			fmt.Sprintf("cannot encode key %v", key), err)
	}
	if e, ok := w.cache.Get(string(kb)); ok {
		return copyEntry(e), true, nil
	}

	// Read and fill under mu so a concurrent write cannot slip in between.
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return Entry[V]{}, false, w.closedError()
	}

	rec, ok, err := w.store.Get(ctx, kb)
	if err != nil {
		return Entry[V]{}, false, cierrors.New(cierrors.ErrCodeInternal,
			fmt.Sprintf("cannot read index %s", w.name), err).WithIndex(w.name, w.dir)
	}
	if !ok {
		return Entry[V]{}, false, nil
	}

	v, err := w.values.Decode(rec.Value)
	if err != nil {
		return Entry[V]{}, false, cierrors.New(cierrors.ErrCodeFileCorrupt,
			fmt.Sprintf("cannot decode value of %v in index %s", key, w.name), err).WithIndex(w.name, w.dir)
	}
	e := Entry[V]{Value: v, Contributors: rec.Contributors}
	w.cache.Add(string(kb), e)
	return copyEntry(e), true, nil
}

func copyEntry[V any](e Entry[V]) Entry[V] {
	e.Contributors = slices.Clone(e.Contributors)
	return e
}

// KeysForSource returns the keys sourceID contributed.
func (w *Writer[T, K, V]) KeysForSource(ctx context.Context, sourceID string) ([]K, error) {
	if w.closed.Load() {
		return nil, w.closedError()
	}

	raw, err := w.store.KeysBySource(ctx, sourceID)
	if err != nil {
		return nil, cierrors.New(cierrors.ErrCodeInternal,
			fmt.Sprintf("cannot list keys of %s in index %s", sourceID, w.name), err).WithIndex(w.name, w.dir)
	}
	return w.decodeKeys(raw)
}

// RemoveSource withdraws sourceID's contributions and deletes the keys no
// other source contributed. It returns the number of deleted keys.
func (w *Writer[T, K, V]) RemoveSource(ctx context.Context, sourceID string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return 0, w.closedError()
	}

	dropped, err := w.store.RemoveSource(ctx, sourceID)
	if err != nil {
		return 0, w.fail(cierrors.StoreWriteError(w.name, w.dir, err).WithDetail("source", sourceID))
	}
	// Contributor sets of surviving keys changed too.
	w.cache.Purge()

	w.logger.Debug("class_index_source_removed",
		slog.String("source", sourceID),
		slog.Int("dropped", len(dropped)))
	return len(dropped), nil
}

// Clear deletes every key of the index. A pass that rebuilds the index calls
// it first, so sources deleted while the index was untrusted leave nothing
// behind.
func (w *Writer[T, K, V]) Clear(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return w.closedError()
	}

	err := w.store.Clear(ctx)
	w.cache.Purge()
	if err != nil {
		return w.fail(cierrors.StoreWriteError(w.name, w.dir, err))
	}
	w.logger.Debug("class_index_cleared")
	return nil
}

func (w *Writer[T, K, V]) decodeKeys(raw [][]byte) ([]K, error) {
	keys := make([]K, 0, len(raw))
	for _, kb := range raw {
		k, err := w.keys.Decode(kb)
		if err != nil {
			return nil, cierrors.New(cierrors.ErrCodeFileCorrupt,
				fmt.Sprintf("cannot decode key %q in index %s", kb, w.name), err).WithIndex(w.name, w.dir)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Stats returns key and source counts.
func (w *Writer[T, K, V]) Stats(ctx context.Context) (Stats, error) {
	if w.closed.Load() {
		return Stats{}, w.closedError()
	}

	st := Stats{Name: w.name, Dir: w.dir, Empty: w.empty, Recovered: w.recovered}
	var err error
	if st.Keys, err = w.store.Count(ctx); err != nil {
		return Stats{}, cierrors.InternalError("cannot count keys", err).WithIndex(w.name, w.dir)
	}
	if st.Sources, err = w.store.SourceCount(ctx); err != nil {
		return Stats{}, cierrors.InternalError("cannot count sources", err).WithIndex(w.name, w.dir)
	}
	return st, nil
}

// Close flushes and closes the store, then marks the directory EXIST.
// If a mutation of the session failed, or the store fails to close, the
// marker stays CORRUPTED and the next Open reports IsEmpty. The directory
// lock is released either way. After Close the Writer is unusable; closing
// again is a no-op.
func (w *Writer[T, K, V]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Swap(true) {
		return nil
	}
	defer func() {
		if err := w.lock.Unlock(); err != nil {
			w.logger.Warn("class_index_unlock_failed", slog.String("error", err.Error()))
		}
	}()
	w.cache.Purge()

	if err := w.store.Close(); err != nil {
		w.logger.Error("class_index_close_failed", slog.String("error", err.Error()))
		return cierrors.StoreCloseError(w.name, w.dir, err)
	}

	if w.failed.Load() {
		w.logger.Warn("class_index_left_corrupted",
			slog.String("reason", "a mutation failed during the session"))
		return nil
	}

	if err := marker.Save(w.dir, marker.StateExist); err != nil {
		return cierrors.New(cierrors.ErrCodeMarkerWrite,
			fmt.Sprintf("cannot mark index %s in %s as closed", w.name, w.dir), err).WithIndex(w.name, w.dir)
	}

	w.logger.Info("class_index_closed")
	return nil
}

func (w *Writer[T, K, V]) closedError() error {
	return cierrors.New(cierrors.ErrCodeHandleClosed,
		fmt.Sprintf("index %s is closed", w.name), nil).WithIndex(w.name, w.dir)
}
