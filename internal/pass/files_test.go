package pass

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/classidx/internal/index"
)

func seedTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func ids(items []index.Item[[]byte]) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestFileSource_AllWalksMatchingFiles(t *testing.T) {
	// Given: a tree with nested and filtered files
	root := seedTree(t, map[string]string{
		"b.properties":       "b=1",
		"org/x/a.properties": "a=1",
		"README.md":          "#",
	})
	src := FileSource{Root: root, Match: ExtMatcher([]string{".properties"})}

	// When: listing all items
	items, err := src.All(context.Background())

	// Then: matching files are returned sorted with slash ids and their content
	require.NoError(t, err)
	assert.Equal(t, []string{"b.properties", "org/x/a.properties"}, ids(items))
	assert.Equal(t, []byte("a=1"), items[1].Value)
}

func TestFileSource_ChangedSkipsVanishedFiles(t *testing.T) {
	root := seedTree(t, map[string]string{"a.properties": "a=1"})
	src := FileSource{Root: root, ChangedIDs: []string{"a.properties", "gone.properties"}, RemovedIDs: []string{"old.properties"}}

	changed, err := src.Changed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.properties"}, ids(changed))

	removed, err := src.Removed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"old.properties"}, removed)
}

func TestFileSource_AllMissingRoot(t *testing.T) {
	src := FileSource{Root: filepath.Join(t.TempDir(), "missing")}

	_, err := src.All(context.Background())

	assert.Error(t, err)
}

func TestFileSource_Cancelled(t *testing.T) {
	root := seedTree(t, map[string]string{"a.properties": "a=1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FileSource{Root: root}.All(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtMatcher(t *testing.T) {
	assert.Nil(t, ExtMatcher(nil))

	m := ExtMatcher([]string{".properties", ".sig"})
	assert.True(t, m("a/b.sig"))
	assert.False(t, m("a/b.class"))
}
