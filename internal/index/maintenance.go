package index

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/gofrs/flock"

	cierrors "github.com/Aman-CERP/classidx/internal/errors"
	"github.com/Aman-CERP/classidx/internal/kvstore"
	"github.com/Aman-CERP/classidx/internal/marker"
)

// acquireLock takes the directory's writer lock without blocking.
func acquireLock(name, dir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, cierrors.New(cierrors.ErrCodeIndexLocked,
			fmt.Sprintf("cannot lock index %s in %s", name, dir), err).WithIndex(name, dir)
	}
	if !locked {
		return nil, cierrors.New(cierrors.ErrCodeIndexLocked,
			fmt.Sprintf("index %s in %s is held by another writer", name, dir), nil).
			WithIndex(name, dir).
			WithSuggestion("wait for the running compilation pass to finish")
	}
	return lock, nil
}

// Abort releases the store and the lock like a crash would: the state marker
// stays CORRUPTED, so the next Open reports IsEmpty. Use it to give up on a
// session whose updates must not be trusted. Aborting a closed Writer is a no-op.
func (w *Writer[T, K, V]) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Swap(true) {
		return nil
	}
	w.cache.Purge()

	storeErr := w.store.Close()
	lockErr := w.lock.Unlock()
	w.logger.Warn("class_index_aborted")
	return errors.Join(storeErr, lockErr)
}

// Reset discards the contents of the index in dir and leaves it CORRUPTED, so
// that the next pass rebuilds it. It fails with ERR_209_INDEX_LOCKED while a
// writer holds the index.
func Reset(dir string, opts Options) error {
	opts = opts.withDefaults(dir)
	if missing := marker.Missing(dir); len(missing) > 0 {
		return cierrors.MissingMarkerError(opts.Name, dir, missing)
	}

	lock, err := acquireLock(opts.Name, dir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	// Marker first: a crash between the two steps still forces a rebuild.
	if err := marker.Save(dir, marker.StateCorrupted); err != nil {
		return cierrors.New(cierrors.ErrCodeMarkerWrite,
			fmt.Sprintf("cannot reset index %s in %s", opts.Name, dir), err).WithIndex(opts.Name, dir)
	}
	removed, err := kvstore.RemoveFiles(dir, opts.StoreBaseName)
	if err != nil {
		return cierrors.New(cierrors.ErrCodeFilePermission,
			fmt.Sprintf("cannot remove store files of index %s in %s", opts.Name, dir), err).WithIndex(opts.Name, dir)
	}
	opts.Logger.Info("class_index_reset",
		slog.String("index", opts.Name),
		slog.String("dir", dir),
		slog.Any("removed", removed))
	return nil
}

// List returns the names of the index directories under dataRoot, sorted.
func List(dataRoot string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dataRoot, indexesDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list indexes in %s: %w", dataRoot, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
