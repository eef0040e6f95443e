package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cierrors "github.com/Aman-CERP/classidx/internal/errors"
	"github.com/Aman-CERP/classidx/internal/index"
	"github.com/Aman-CERP/classidx/internal/marker"
	"github.com/Aman-CERP/classidx/internal/ui"
)

// testEnv is an isolated project: HOME and XDG config point at temp dirs and
// the working directory holds a classes/ tree of properties files.
type testEnv struct {
	work    string
	src     string
	dataDir string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, v := range []string{"CLASSIDX_DATA_DIR", "CLASSIDX_LOG_LEVEL", "NO_COLOR"} {
		t.Setenv(v, "")
	}

	work := t.TempDir()
	t.Chdir(work)

	env := testEnv{
		work:    work,
		src:     filepath.Join(work, "classes"),
		dataDir: filepath.Join(work, ".classidx"),
	}
	env.write(t, "a/A.properties", "com.example.A=sigA\nshared=fromA\n")
	env.write(t, "b/B.properties", "com.example.B=sigB\nshared=fromB\n")
	env.write(t, "b/notes.txt", "ignored=yes\n")
	return env
}

func (e testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(e.src, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (e testEnv) indexDir(name string) string {
	return index.DirFor(e.dataDir, name)
}

// run executes the root command with args and returns the combined output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, a := newRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	defer a.teardown()
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "classidx %s\n%s", strings.Join(args, " "), out)
	return out
}

func statusOf(t *testing.T, name string) ui.StatusInfo {
	t.Helper()
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "status", name, "--json")), &info))
	return info
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"init", "index", "watch", "status", "verify", "get", "keys", "remove", "config", "doctor", "logs", "version"} {
		found, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, found.Name())
	}
}

func TestLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Given: a freshly initialized index
	out := mustRun(t, "init", "sigs")
	assert.Contains(t, out, "Initialized index sigs")
	info := statusOf(t, "sigs")
	assert.True(t, info.Initialized)
	assert.Equal(t, "CORRUPTED", info.State)

	// When: running the first pass
	out = mustRun(t, "index", "sigs", env.src, "--plain")

	// Then: every properties file was fed and the index closed cleanly
	assert.Contains(t, out, "full rebuild")
	info = statusOf(t, "sigs")
	assert.Equal(t, "EXIST", info.State)
	assert.Equal(t, marker.FormatVersion, info.Version)
	assert.Equal(t, 3, info.Keys)
	assert.Equal(t, 2, info.Sources)
	assert.NotZero(t, info.StoreSize)
	assert.False(t, info.LastClosed.IsZero())

	// And: lookups see values and contributors
	out = mustRun(t, "get", "sigs", "com.example.A")
	assert.Contains(t, out, "sigA")
	assert.Contains(t, out, "a/A.properties")

	var res getResult
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "get", "sigs", "shared", "--json")), &res))
	assert.Equal(t, []string{"a/A.properties", "b/B.properties"}, res.Contributors)

	out = mustRun(t, "keys", "sigs", "a/A.properties")
	assert.Equal(t, "com.example.A\nshared\n", out)

	mustRun(t, "verify", "sigs")

	// When: removing one source
	out = mustRun(t, "remove", "sigs", "a/A.properties")

	// Then: its private key is gone and the shared key keeps the other contributor
	assert.Contains(t, out, "Removed a/A.properties (1 keys dropped)")
	_, err := run(t, "get", "sigs", "com.example.A")
	assert.ErrorContains(t, err, "not found")

	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "get", "sigs", "shared", "--json")), &res))
	assert.Equal(t, []string{"b/B.properties"}, res.Contributors)
	assert.Equal(t, "EXIST", statusOf(t, "sigs").State)
}

func TestIndex_IncrementalAndFull(t *testing.T) {
	env := newTestEnv(t)
	mustRun(t, "init", "sigs")
	mustRun(t, "index", "sigs", env.src, "--plain")

	// Given: one file rewritten and one deleted
	env.write(t, "a/A.properties", "com.example.A=sigA2\n")
	require.NoError(t, os.Remove(filepath.Join(env.src, "b", "B.properties")))

	// When: an incremental pass names them
	out := mustRun(t, "index", "sigs", env.src, "a/A.properties", "--removed", "b/B.properties", "--plain")

	// Then: only those changes are applied
	assert.Contains(t, out, "incremental")
	assert.Contains(t, mustRun(t, "get", "sigs", "com.example.A"), "sigA2")
	_, err := run(t, "get", "sigs", "com.example.B")
	assert.Error(t, err)

	// When: forcing a full rebuild
	out = mustRun(t, "index", "sigs", env.src, "--full", "--plain")

	// Then: the pass starts from an empty store
	assert.Contains(t, out, "full rebuild")
	info := statusOf(t, "sigs")
	assert.Equal(t, "EXIST", info.State)
	assert.Equal(t, 1, info.Sources)
}

func TestIndex_CrashedSessionRebuilds(t *testing.T) {
	env := newTestEnv(t)
	mustRun(t, "init", "sigs")
	mustRun(t, "index", "sigs", env.src, "--plain")

	// Given: a session that never closed
	require.NoError(t, marker.Save(env.indexDir("sigs"), marker.StateCorrupted))

	// When: an incremental pass is requested for one file
	out := mustRun(t, "index", "sigs", env.src, "a/A.properties", "--plain")

	// Then: the pass ignores the file list and rebuilds everything
	assert.Contains(t, out, "full rebuild")
	assert.Equal(t, 2, statusOf(t, "sigs").Sources)
}

func TestIndex_CrashedSessionForgetsDeletedFiles(t *testing.T) {
	env := newTestEnv(t)
	mustRun(t, "init", "sigs")
	mustRun(t, "index", "sigs", env.src, "--plain")

	// Given: a session that never closed and a file deleted meanwhile
	require.NoError(t, marker.Save(env.indexDir("sigs"), marker.StateCorrupted))
	require.NoError(t, os.Remove(filepath.Join(env.src, "b", "B.properties")))

	// When: the next pass runs
	out := mustRun(t, "index", "sigs", env.src, "--plain")

	// Then: the rebuild does not keep the deleted file's keys
	assert.Contains(t, out, "full rebuild")
	assert.Equal(t, 1, statusOf(t, "sigs").Sources)
	_, err := run(t, "get", "sigs", "com.example.B")
	assert.Error(t, err)
}

func TestIndex_Errors(t *testing.T) {
	env := newTestEnv(t)

	t.Run("not initialized", func(t *testing.T) {
		_, err := run(t, "index", "nope", env.src)
		assert.Equal(t, cierrors.ErrCodeMissingMarker, cierrors.GetCode(err))
	})

	t.Run("invalid name", func(t *testing.T) {
		_, err := run(t, "init", "../escape")
		assert.Equal(t, cierrors.ErrCodeInvalidName, cierrors.GetCode(err))
	})

	t.Run("missing source dir", func(t *testing.T) {
		mustRun(t, "init", "sigs")
		_, err := run(t, "index", "sigs", filepath.Join(env.work, "absent"))
		assert.ErrorContains(t, err, "does not exist")
	})

	t.Run("file outside root", func(t *testing.T) {
		_, err := run(t, "index", "sigs", env.src, filepath.Join(env.work, "elsewhere.properties"))
		assert.ErrorContains(t, err, "is not inside")
	})
}

func TestInit_Idempotent(t *testing.T) {
	newTestEnv(t)
	mustRun(t, "init", "sigs")

	out := mustRun(t, "init", "sigs")

	assert.Contains(t, out, "already initialized")
}

func TestRemove_RefusesUnbuiltIndex(t *testing.T) {
	env := newTestEnv(t)
	mustRun(t, "init", "sigs")

	// When: removing from an index that was never built
	_, err := run(t, "remove", "sigs", "a/A.properties")

	// Then: the command fails and the index still needs a rebuild
	assert.ErrorContains(t, err, "must be rebuilt")
	state, err := marker.Load(env.indexDir("sigs"))
	require.NoError(t, err)
	assert.Equal(t, marker.StateCorrupted, state)
}

func TestReadCommands_KeepCorruptedState(t *testing.T) {
	env := newTestEnv(t)
	mustRun(t, "init", "sigs")
	mustRun(t, "index", "sigs", env.src, "--plain")
	require.NoError(t, marker.Save(env.indexDir("sigs"), marker.StateCorrupted))

	// When: querying and checking the index
	out := mustRun(t, "get", "sigs", "com.example.B")
	assert.Contains(t, out, "results may be incomplete")
	mustRun(t, "keys", "sigs", "b/B.properties")
	mustRun(t, "status", "sigs")
	_, verifyErr := run(t, "verify", "sigs")

	// Then: verify reports the state and nothing flipped it back to EXIST
	assert.ErrorContains(t, verifyErr, "failed verification")
	state, err := marker.Load(env.indexDir("sigs"))
	require.NoError(t, err)
	assert.Equal(t, marker.StateCorrupted, state)
}

func TestGet_UnbuiltIndex(t *testing.T) {
	newTestEnv(t)
	mustRun(t, "init", "sigs")

	_, err := run(t, "get", "sigs", "any")

	assert.Equal(t, cierrors.ErrCodeStoreOpen, cierrors.GetCode(err))
}

func TestVerify_CorruptStore(t *testing.T) {
	env := newTestEnv(t)
	mustRun(t, "init", "sigs")
	mustRun(t, "index", "sigs", env.src, "--plain")

	// Given: a store file overwritten with garbage
	dbs, err := filepath.Glob(filepath.Join(env.indexDir("sigs"), "*.db"))
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	require.NoError(t, os.WriteFile(dbs[0], bytes.Repeat([]byte("garbage!"), 512), 0o644))

	// When: verifying
	out, err := run(t, "verify", "sigs")

	// Then: the store problem is reported
	require.Error(t, err)
	assert.Contains(t, out, "Store:")

	// And: the next pass recovers it
	out = mustRun(t, "index", "sigs", env.src, "--plain")
	assert.Contains(t, out, "recreated")
	mustRun(t, "verify", "sigs")
}

func TestStatus_AllIndexes(t *testing.T) {
	newTestEnv(t)

	out := mustRun(t, "status")
	assert.Contains(t, out, "No indexes")

	mustRun(t, "init", "beta")
	mustRun(t, "init", "alpha")

	var infos []ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "status", "--json")), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "beta", infos[1].Name)

	out = mustRun(t, "status")
	assert.Contains(t, out, "Index: alpha")
	assert.Contains(t, out, "Index: beta")
}

func TestStatus_Uninitialized(t *testing.T) {
	newTestEnv(t)

	info := statusOf(t, "ghost")

	assert.False(t, info.Initialized)
	assert.Equal(t, []string{marker.VersionFile, marker.StateFile}, info.Missing)
}

func TestDataDirFlag(t *testing.T) {
	env := newTestEnv(t)
	other := filepath.Join(env.work, "elsewhere")

	mustRun(t, "--data-dir", other, "init", "sigs")

	assert.True(t, marker.Initialized(index.DirFor(other, "sigs")))
	assert.False(t, marker.Initialized(env.indexDir("sigs")))
}

func TestExecute_FormatsIndexErrors(t *testing.T) {
	newTestEnv(t)
	root, a := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"index", "nope", "."})
	stderr := &bytes.Buffer{}

	err := execute(context.Background(), root, a, stderr)

	require.Error(t, err)
	assert.Contains(t, stderr.String(), "Error: ")
	assert.Contains(t, stderr.String(), "["+cierrors.ErrCodeMissingMarker+"]")
}

func TestProfileFlags(t *testing.T) {
	env := newTestEnv(t)
	cpu := filepath.Join(env.work, "cpu.prof")
	heap := filepath.Join(env.work, "heap.prof")
	mustRun(t, "init", "sigs")

	mustRun(t, "--profile-cpu", cpu, "--profile-mem", heap, "index", "sigs", env.src, "--plain")

	assert.FileExists(t, cpu)
	assert.FileExists(t, heap)
}
