package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewConfig_DefaultsAreValid(t *testing.T) {
	cfg := NewConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Index.OpenAttempts)
	assert.Equal(t, 64, cfg.Index.BatchSize)
	assert.Equal(t, []string{".properties"}, cfg.Watch.Extensions)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestGetUserConfigPath_XDG(t *testing.T) {
	xdg := isolate(t)

	assert.Equal(t, filepath.Join(xdg, "classidx", "config.yaml"), GetUserConfigPath())
	assert.Equal(t, filepath.Join(xdg, "classidx"), GetUserConfigDir())
	assert.False(t, UserConfigExists())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	// Given: no user config, no project config
	isolate(t)

	// When: loading
	cfg, err := Load(t.TempDir())

	// Then: defaults are returned
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_Precedence(t *testing.T) {
	// Given: user config, project config and env all set
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "classidx", "config.yaml"), `
index:
  cache_size: 10
  workers: 3
logging:
  level: debug
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectFile), `
index:
  cache_size: 20
watch:
  extensions: [".sig"]
`)
	t.Setenv("CLASSIDX_WORKERS", "7")

	// When: loading
	cfg, err := Load(dir)

	// Then: project overrides user, env overrides both, untouched keys keep defaults
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Index.CacheSize)
	assert.Equal(t, 7, cfg.Index.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{".sig"}, cfg.Watch.Extensions)
	assert.Equal(t, 2, cfg.Index.OpenAttempts)
}

func TestLoad_YmlFallback(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".classidx.yml"), "data_dir: build/idx\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "build/idx", cfg.DataDir)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"malformed yaml", "index: [", "failed to parse"},
		{"zero open attempts", "index:\n  open_attempts: -1\n", "open_attempts"},
		{"bad debounce", "watch:\n  debounce: soon\n", "watch.debounce"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, ProjectFile), tt.content)

			_, err := Load(dir)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CLASSIDX_DATA_DIR", "/var/idx")
	t.Setenv("CLASSIDX_CACHE_SIZE", "99")
	t.Setenv("CLASSIDX_OPEN_ATTEMPTS", "4")
	t.Setenv("CLASSIDX_BUSY_TIMEOUT_MS", "250")
	t.Setenv("CLASSIDX_BATCH_SIZE", "not-a-number")
	t.Setenv("CLASSIDX_WATCH_DEBOUNCE", "1s")
	t.Setenv("CLASSIDX_LOG_LEVEL", "warn")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "/var/idx", cfg.DataDir)
	assert.Equal(t, 99, cfg.Index.CacheSize)
	assert.Equal(t, 4, cfg.Index.OpenAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.BusyTimeout())
	assert.Equal(t, 64, cfg.Index.BatchSize, "unparseable value is ignored")
	assert.Equal(t, "warn", cfg.Logging.Level)

	d, err := cfg.DebounceWindow()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, path, "index:\n  batch_size: 8\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Index.BatchSize)

	_, err = LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestResolveDataDir(t *testing.T) {
	root := t.TempDir()
	cfg := NewConfig()

	assert.Equal(t, filepath.Join(root, DefaultDataDir), cfg.ResolveDataDir(root))

	cfg.DataDir = "out/idx"
	assert.Equal(t, filepath.Join(root, "out/idx"), cfg.ResolveDataDir(root))

	cfg.DataDir = "/abs/idx"
	assert.Equal(t, "/abs/idx", cfg.ResolveDataDir(root))
}

func TestFindProjectRoot(t *testing.T) {
	// Given: a project marked by .classidx.yaml with a nested directory
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ProjectFile), "version: 1\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	// When: searching from the nested directory
	got, err := FindProjectRoot(nested)

	// Then: the marked directory is found
	require.NoError(t, err)
	assert.Equal(t, root, got)

	_, err = FindProjectRoot(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	isolate(t)
	cfg := NewConfig()
	cfg.Index.CacheSize = 321
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, cfg.WriteYAML(path))
	loaded, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestBackupFile(t *testing.T) {
	// Given: a config file
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "version: 1\n")

	// When: backing it up more times than are kept
	var last string
	for range MaxBackups + 2 {
		b, err := BackupFile(path)
		require.NoError(t, err)
		last = b
	}

	// Then: only the newest MaxBackups remain, newest first
	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
	assert.Equal(t, last, backups[0])
}

func TestBackupFile_Missing(t *testing.T) {
	b, err := BackupFile(filepath.Join(t.TempDir(), "none.yaml"))

	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestRestoreBackup(t *testing.T) {
	// Given: a backup of the original content and an edited file
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "version: 1\n")
	backup, err := BackupFile(path)
	require.NoError(t, err)
	writeFile(t, path, "version: 2\n")

	// When: restoring
	require.NoError(t, RestoreBackup(path, backup))

	// Then: the original content is back and the edit was backed up
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestBackupUserConfig(t *testing.T) {
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "classidx", "config.yaml"), "version: 1\n")

	b, err := BackupUserConfig()

	require.NoError(t, err)
	assert.FileExists(t, b)
}
