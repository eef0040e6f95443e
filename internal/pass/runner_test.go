package pass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/classidx/internal/codec"
	cierrors "github.com/Aman-CERP/classidx/internal/errors"
	"github.com/Aman-CERP/classidx/internal/extract"
	"github.com/Aman-CERP/classidx/internal/index"
	"github.com/Aman-CERP/classidx/internal/marker"
	"github.com/Aman-CERP/classidx/internal/ui"
)

// mockRenderer implements ui.Renderer for testing.
type mockRenderer struct {
	startCalled    bool
	stopCalled     bool
	completeCalled bool
	progress       []ui.ProgressEvent
	errors         []ui.ErrorEvent
	stats          ui.CompletionStats
}

func (m *mockRenderer) Start(ctx context.Context) error {
	m.startCalled = true
	return nil
}

func (m *mockRenderer) UpdateProgress(event ui.ProgressEvent) {
	m.progress = append(m.progress, event)
}

func (m *mockRenderer) AddError(event ui.ErrorEvent) {
	m.errors = append(m.errors, event)
}

func (m *mockRenderer) Complete(stats ui.CompletionStats) {
	m.completeCalled = true
	m.stats = stats
}

func (m *mockRenderer) Stop() error {
	m.stopCalled = true
	return nil
}

// mockHandle records calls made by the runner.
type mockHandle struct {
	empty     bool
	updateErr error
	removeErr error
	closeErr  error

	updated []string
	removed []string
	cleared int
	closed  int
	aborted int
}

func (h *mockHandle) IsEmpty() bool   { return h.empty }
func (h *mockHandle) Recovered() bool { return false }
func (h *mockHandle) Name() string    { return "mock" }

func (h *mockHandle) UpdateBatch(ctx context.Context, items []index.Item[string]) error {
	if h.updateErr != nil {
		return h.updateErr
	}
	for _, it := range items {
		h.updated = append(h.updated, it.ID)
	}
	return nil
}

func (h *mockHandle) RemoveSource(ctx context.Context, id string) (int, error) {
	if h.removeErr != nil {
		return 0, h.removeErr
	}
	h.removed = append(h.removed, id)
	return 1, nil
}

func (h *mockHandle) Clear(context.Context) error {
	h.cleared++
	return nil
}

func (h *mockHandle) Close() error {
	h.closed++
	return h.closeErr
}

func (h *mockHandle) Abort() error {
	h.aborted++
	return nil
}

// staticSource serves fixed item lists.
type staticSource struct {
	all, changed []index.Item[string]
	removed      []string
	err          error
}

func (s staticSource) All(context.Context) ([]index.Item[string], error) {
	return s.all, s.err
}

func (s staticSource) Changed(context.Context) ([]index.Item[string], error) {
	return s.changed, s.err
}

func (s staticSource) Removed(context.Context) ([]string, error) {
	return s.removed, s.err
}

func items(ids ...string) []index.Item[string] {
	out := make([]index.Item[string], len(ids))
	for i, id := range ids {
		out[i] = index.Item[string]{ID: id, Value: id}
	}
	return out
}

func opener(h *mockHandle) OpenFunc[string] {
	return func(context.Context) (Handle[string], error) { return h, nil }
}

func quietConfig(r ui.Renderer) Config {
	return Config{Renderer: r, Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), BatchSize: 2}
}

var testSource = staticSource{
	all:     items("A", "B", "C"),
	changed: items("B"),
	removed: []string{"D"},
}

func TestRun_EmptyIndexFeedsAll(t *testing.T) {
	// Given: an index that must be rebuilt
	h := &mockHandle{empty: true}
	r := &mockRenderer{}

	// When: running a pass
	res, err := NewRunner[string](quietConfig(r)).Run(context.Background(), opener(h), testSource)

	// Then: the store is cleared, every item is fed, handle closed once
	require.NoError(t, err)
	assert.True(t, res.Full)
	assert.Equal(t, 1, h.cleared)
	assert.Equal(t, []string{"A", "B", "C"}, h.updated)
	assert.Empty(t, h.removed)
	assert.Equal(t, 1, h.closed)
	assert.Zero(t, h.aborted)
	assert.Equal(t, 3, res.Updated)

	// And: the renderer saw the whole lifecycle
	assert.True(t, r.startCalled)
	assert.True(t, r.stopCalled)
	assert.True(t, r.completeCalled)
	assert.Equal(t, ui.StageOpen, r.progress[0].Stage)
	assert.Equal(t, ui.StageClose, r.progress[len(r.progress)-1].Stage)
	assert.True(t, r.stats.Full)
}

func TestRun_CleanIndexIsIncremental(t *testing.T) {
	h := &mockHandle{empty: false}

	res, err := NewRunner[string](quietConfig(&mockRenderer{})).Run(context.Background(), opener(h), testSource)

	require.NoError(t, err)
	assert.False(t, res.Full)
	assert.Equal(t, []string{"B"}, h.updated)
	assert.Equal(t, []string{"D"}, h.removed)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.Dropped)
	assert.Zero(t, h.cleared)
	assert.Equal(t, 1, h.closed)
}

func TestRun_UpdateErrorAborts(t *testing.T) {
	// Given: updates fail
	updateErr := cierrors.New(cierrors.ErrCodeExtractFailed, "cannot extract B", nil).WithDetail("source", "B")
	h := &mockHandle{empty: true, updateErr: updateErr, closeErr: errors.New("close failed")}
	r := &mockRenderer{}

	// When: running
	_, err := NewRunner[string](quietConfig(r)).Run(context.Background(), opener(h), testSource)

	// Then: the update error is returned and the handle was aborted, not closed
	require.Error(t, err)
	assert.ErrorIs(t, err, cierrors.ErrExtract)
	assert.Equal(t, 1, h.aborted)
	assert.Zero(t, h.closed)
	assert.False(t, r.completeCalled)
	require.NotEmpty(t, r.errors)
	assert.Equal(t, "B", r.errors[0].Item)
}

func TestRun_CloseErrorReturned(t *testing.T) {
	closeErr := cierrors.StoreCloseError("mock", "/tmp/mock", errors.New("fsync"))
	h := &mockHandle{closeErr: closeErr}

	res, err := NewRunner[string](quietConfig(&mockRenderer{})).Run(context.Background(), opener(h), testSource)

	assert.ErrorIs(t, err, cierrors.ErrStoreClose)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Updated)
}

func TestRun_RemoveErrorStopsPass(t *testing.T) {
	h := &mockHandle{removeErr: errors.New("disk gone")}

	_, err := NewRunner[string](quietConfig(&mockRenderer{})).Run(context.Background(), opener(h), testSource)

	assert.EqualError(t, err, "disk gone")
	assert.Empty(t, h.updated)
	assert.Equal(t, 1, h.aborted)
	assert.Zero(t, h.closed)
}

func TestRun_SourceErrorAborts(t *testing.T) {
	// Given: a rebuild whose source cannot be listed
	h := &mockHandle{empty: true}
	src := staticSource{err: errors.New("walk failed")}

	// When: running
	_, err := NewRunner[string](quietConfig(&mockRenderer{})).Run(context.Background(), opener(h), src)

	// Then: nothing was cleared and the index is not marked clean
	assert.ErrorContains(t, err, "list source items: walk failed")
	assert.Zero(t, h.cleared)
	assert.Equal(t, 1, h.aborted)
	assert.Zero(t, h.closed)
}

func TestRun_OpenErrorNoClose(t *testing.T) {
	openErr := cierrors.MissingMarkerError("sigs", "/x", []string{"state"})
	r := &mockRenderer{}
	open := func(context.Context) (Handle[string], error) { return nil, openErr }

	res, err := NewRunner[string](quietConfig(r)).Run(context.Background(), open, testSource)

	assert.Nil(t, res)
	assert.ErrorIs(t, err, cierrors.ErrMissingMarker)
	assert.True(t, r.stopCalled)
	assert.Len(t, r.errors, 1)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &mockHandle{}

	_, err := NewRunner[string](quietConfig(&mockRenderer{})).Run(ctx, opener(h), testSource)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.aborted)
	assert.Zero(t, h.closed)
}

func TestRun_BatchesProgress(t *testing.T) {
	h := &mockHandle{empty: true}
	r := &mockRenderer{}
	src := staticSource{all: items("1", "2", "3", "4", "5")}

	_, err := NewRunner[string](quietConfig(r)).Run(context.Background(), opener(h), src)
	require.NoError(t, err)

	var currents []int
	for _, ev := range r.progress {
		if ev.Stage == ui.StageUpdate && ev.Current > 0 {
			currents = append(currents, ev.Current)
		}
	}
	assert.Equal(t, []int{2, 4, 5}, currents)
}

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner[string](Config{})

	assert.Equal(t, DefaultBatchSize, r.batchSize)
	assert.NotNil(t, r.logger)
	assert.IsType(t, ui.Discard{}, r.renderer)
}

// memSource is an in-memory properties source for the end-to-end tests.
type memSource struct {
	files   map[string]string
	changed []string
	removed []string
}

func (s memSource) toItems(ids []string) []index.Item[[]byte] {
	out := make([]index.Item[[]byte], 0, len(ids))
	for _, id := range ids {
		out = append(out, index.Item[[]byte]{ID: id, Value: []byte(s.files[id])})
	}
	return out
}

func (s memSource) All(context.Context) ([]index.Item[[]byte], error) {
	ids := make([]string, 0, len(s.files))
	for id := range s.files {
		ids = append(ids, id)
	}
	return s.toItems(ids), nil
}

func (s memSource) Changed(context.Context) ([]index.Item[[]byte], error) {
	return s.toItems(s.changed), nil
}

func (s memSource) Removed(context.Context) ([]string, error) {
	return s.removed, nil
}

func TestRun_WithRealIndex(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index", "props")
	require.NoError(t, marker.Init(dir))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var lastHandle *index.Writer[[]byte, string, string]
	open := func(ctx context.Context) (Handle[[]byte], error) {
		w, err := index.Open[[]byte, string, string](ctx, dir, codec.String{}, codec.String{},
			extract.Properties{}, index.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
		lastHandle = w
		return w, nil
	}
	runner := NewRunner[[]byte](Config{Logger: logger})

	// Given: a fresh index and two files
	src := memSource{files: map[string]string{
		"a.properties": "x=1\ny=2\n",
		"b.properties": "y=3\n",
	}}

	// When: the first pass runs
	res, err := runner.Run(ctx, open, src)

	// Then: it is a full build and the index ends clean
	require.NoError(t, err)
	assert.True(t, res.Full)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, marker.StateExist, mustState(t, dir))

	// When: a.properties is deleted and b changes
	src.files["b.properties"] = "y=4\nz=5\n"
	delete(src.files, "a.properties")
	src.changed = []string{"b.properties"}
	src.removed = []string{"a.properties"}
	res, err = runner.Run(ctx, open, src)

	// Then: the second pass is incremental
	require.NoError(t, err)
	assert.False(t, res.Full)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.Dropped, "x had only a.properties as contributor")

	// And: lookups reflect the new state
	w, err := index.Open[[]byte, string, string](ctx, dir, codec.String{}, codec.String{},
		extract.Properties{}, index.Options{Logger: logger})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.False(t, w.IsEmpty())

	_, ok, err := w.Lookup(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)

	e, ok, err := w.Lookup(ctx, "y")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "4", e.Value)
	assert.Equal(t, []string{"b.properties"}, e.Contributors)
	assert.NotNil(t, lastHandle)
}

func TestRun_WithRealIndexBadFile(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "props")
	require.NoError(t, marker.Init(dir))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	open := func(ctx context.Context) (Handle[[]byte], error) {
		w, err := index.Open[[]byte, string, string](ctx, dir, codec.String{}, codec.String{},
			extract.Properties{}, index.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
		return w, nil
	}

	runner := NewRunner[[]byte](Config{Logger: logger})

	// Given: a rebuild that includes a file the extractor rejects
	src := memSource{files: map[string]string{
		"bad.properties":  "no separator here\n",
		"good.properties": "k=1\n",
	}}

	// When: the pass runs
	_, err := runner.Run(ctx, open, src)

	// Then: it fails and the index is left CORRUPTED
	require.Error(t, err)
	assert.ErrorIs(t, err, cierrors.ErrExtract)
	assert.Contains(t, fmt.Sprint(err), "bad.properties")
	assert.Equal(t, marker.StateCorrupted, mustState(t, dir))

	// When: the file is fixed and an incremental-looking pass runs
	src.files["bad.properties"] = "fixed=1\n"
	src.changed = []string{"bad.properties"}
	res, err := runner.Run(ctx, open, src)

	// Then: the pass is a full rebuild and picks up every file
	require.NoError(t, err)
	assert.True(t, res.Full)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, marker.StateExist, mustState(t, dir))
	assertLookup(t, dir, logger, "k", "1")
	assertLookup(t, dir, logger, "fixed", "1")
}

func TestRun_ChangedSourceDropsStaleKeys(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "props")
	require.NoError(t, marker.Init(dir))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewRunner[[]byte](Config{Logger: logger})

	// Given: an index built from a.properties
	src := memSource{files: map[string]string{"a.properties": "old=1\nkept=1\n"}}
	_, err := runner.Run(ctx, realOpener(dir, logger), src)
	require.NoError(t, err)

	// When: a.properties is edited to drop "old" and an incremental pass runs
	src.files["a.properties"] = "new=1\nkept=2\n"
	src.changed = []string{"a.properties"}
	res, err := runner.Run(ctx, realOpener(dir, logger), src)

	// Then: "old" no longer resolves and the new keys do
	require.NoError(t, err)
	assert.False(t, res.Full)
	assertMissing(t, dir, logger, "old")
	assertLookup(t, dir, logger, "new", "1")
	assertLookup(t, dir, logger, "kept", "2")
}

func TestRun_FullPassAfterCrashDropsDeletedSources(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "props")
	require.NoError(t, marker.Init(dir))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewRunner[[]byte](Config{Logger: logger})

	// Given: an index holding two files
	src := memSource{files: map[string]string{
		"a.properties":    "a=1\n",
		"gone.properties": "gone=1\n",
	}}
	_, err := runner.Run(ctx, realOpener(dir, logger), src)
	require.NoError(t, err)

	// And: a session that crashed without closing
	w, err := index.Open[[]byte, string, string](ctx, dir, codec.String{}, codec.String{},
		extract.Properties{}, index.Options{Logger: logger})
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	// When: gone.properties is deleted and the next pass runs
	delete(src.files, "gone.properties")
	res, err := runner.Run(ctx, realOpener(dir, logger), src)

	// Then: the rebuild does not keep keys of the deleted file
	require.NoError(t, err)
	assert.True(t, res.Full)
	assertMissing(t, dir, logger, "gone")
	assertLookup(t, dir, logger, "a", "1")
}

func realOpener(dir string, logger *slog.Logger) OpenFunc[[]byte] {
	return func(ctx context.Context) (Handle[[]byte], error) {
		w, err := index.Open[[]byte, string, string](ctx, dir, codec.String{}, codec.String{},
			extract.Properties{}, index.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

func assertLookup(t *testing.T, dir string, logger *slog.Logger, key, want string) {
	t.Helper()
	e, ok := lookup(t, dir, logger, key)
	require.True(t, ok, "key %q", key)
	assert.Equal(t, want, e.Value)
}

func assertMissing(t *testing.T, dir string, logger *slog.Logger, key string) {
	t.Helper()
	_, ok := lookup(t, dir, logger, key)
	assert.False(t, ok, "key %q", key)
}

func lookup(t *testing.T, dir string, logger *slog.Logger, key string) (index.Entry[string], bool) {
	t.Helper()
	ctx := context.Background()
	w, err := index.Open[[]byte, string, string](ctx, dir, codec.String{}, codec.String{},
		extract.Properties{}, index.Options{Logger: logger})
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()
	e, ok, err := w.Lookup(ctx, key)
	require.NoError(t, err)
	return e, ok
}

func mustState(t *testing.T, dir string) marker.State {
	t.Helper()
	s, err := marker.Load(dir)
	require.NoError(t, err)
	return s
}
