package marker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissing_EmptyDir(t *testing.T) {
	// Given: a directory without markers
	dir := t.TempDir()

	// When: checking markers
	missing := Missing(dir)

	// Then: both are reported
	assert.Equal(t, []string{VersionFile, StateFile}, missing)
	assert.False(t, Initialized(dir))
}

func TestMissing_NonexistentDir(t *testing.T) {
	missing := Missing(filepath.Join(t.TempDir(), "nope"))

	assert.Equal(t, []string{VersionFile, StateFile}, missing)
}

func TestMissing_OnlyState(t *testing.T) {
	// Given: a directory with only a version file
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, VersionFile), []byte("1"), 0o644))

	// Then: state is reported missing
	assert.Equal(t, []string{StateFile}, Missing(dir))
}

func TestInit_CreatesMarkers(t *testing.T) {
	// Given: a nonexistent index directory
	dir := filepath.Join(t.TempDir(), "index", "signatures")

	// When: initializing
	require.NoError(t, Init(dir))

	// Then: both markers exist, state is CORRUPTED, version is current
	assert.True(t, Initialized(dir))
	state, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StateCorrupted, state)

	v, err := ReadVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, v)
}

func TestInit_KeepsExistingState(t *testing.T) {
	// Given: an initialized directory that closed cleanly
	dir := t.TempDir()
	require.NoError(t, Init(dir))
	require.NoError(t, Save(dir, StateExist))

	// When: initializing again
	require.NoError(t, Init(dir))

	// Then: the state is untouched
	state, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StateExist, state)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	for _, s := range []State{StateExist, StateCorrupted, StateExist} {
		require.NoError(t, Save(dir, s))
		got, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	// And: no temp file is left behind
	assert.NoFileExists(t, filepath.Join(dir, StateFile+tmpSuffix))
}

func TestLoad_MissingIsCorrupted(t *testing.T) {
	state, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, StateCorrupted, state)
}

func TestLoad_GarbageIsCorrupted(t *testing.T) {
	// Given: a state marker with unexpected content
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFile), []byte("EXI"), 0o644))

	// Then: it loads as CORRUPTED
	state, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StateCorrupted, state)
}

func TestParseState_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, StateExist, ParseState("EXIST\n"))
	assert.Equal(t, StateCorrupted, ParseState("exist"))
	assert.Equal(t, StateCorrupted, ParseState(""))
}

func TestReadVersion_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, VersionFile), []byte("v1"), 0o644))

	_, err := ReadVersion(dir)

	assert.ErrorContains(t, err, "invalid version marker")
}

func TestSave_MissingDirFails(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "gone"), StateExist)

	assert.ErrorContains(t, err, "save state marker EXIST")
}
