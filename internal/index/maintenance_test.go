package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cierrors "github.com/Aman-CERP/classidx/internal/errors"
	"github.com/Aman-CERP/classidx/internal/kvstore"
	"github.com/Aman-CERP/classidx/internal/marker"
)

func TestAbort_LeavesCorrupted(t *testing.T) {
	// Given: a cleanly closed index that is reopened and written to
	ctx := context.Background()
	dir := newIndexDir(t)
	require.NoError(t, mustOpen(t, dir).Close())
	w := mustOpen(t, dir)
	require.NoError(t, w.Update(ctx, "A.class", pairs{"k": "v"}))

	// When: the session is aborted
	require.NoError(t, w.Abort())
	require.NoError(t, w.Abort())

	// Then: the marker stays CORRUPTED, the handle is unusable and the lock is free
	assert.Equal(t, marker.StateCorrupted, readState(t, dir))
	assert.True(t, errors.Is(w.Update(ctx, "B.class", pairs{"x": "y"}), cierrors.ErrHandleClosed))
	require.NoError(t, w.Close())
	assert.Equal(t, marker.StateCorrupted, readState(t, dir))

	w2 := mustOpen(t, dir)
	defer func() { _ = w2.Close() }()
	assert.True(t, w2.IsEmpty())
}

func TestReset_DiscardsStore(t *testing.T) {
	// Given: a populated, cleanly closed index
	ctx := context.Background()
	dir := newIndexDir(t)
	w := mustOpen(t, dir)
	require.NoError(t, w.Update(ctx, "A.class", pairs{"k": "v"}))
	require.NoError(t, w.Close())

	// When: resetting
	require.NoError(t, Reset(dir, quietOptions()))

	// Then: the store is gone and the next open rebuilds from nothing
	assert.False(t, kvstore.Exists(dir))
	assert.Equal(t, marker.StateCorrupted, readState(t, dir))

	w2 := mustOpen(t, dir)
	defer func() { _ = w2.Close() }()
	assert.True(t, w2.IsEmpty())
	_, found, err := w2.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReset_Refusals(t *testing.T) {
	// Given: an uninitialized directory
	err := Reset(filepath.Join(t.TempDir(), "nothing"), quietOptions())
	assert.True(t, errors.Is(err, cierrors.ErrMissingMarker))

	// And: an index held by a writer
	dir := newIndexDir(t)
	w := mustOpen(t, dir)
	defer func() { _ = w.Close() }()

	err = Reset(dir, quietOptions())
	assert.True(t, errors.Is(err, cierrors.ErrIndexLocked))
}

func TestList(t *testing.T) {
	root := t.TempDir()

	names, err := List(root)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, n := range []string{"sigs", "docs"} {
		require.NoError(t, marker.Init(DirFor(root, n)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "index", "stray.txt"), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "index", ".hidden"), 0o755))

	names, err = List(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "sigs"}, names)
}
