// Package config loads classidx configuration from defaults, the user config,
// the project config and CLASSIDX_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectFile is the project configuration file name.
	ProjectFile = ".classidx.yaml"

	// projectFileAlt is accepted when ProjectFile is absent.
	projectFileAlt = ".classidx.yml"

	// DefaultDataDir is the data directory, relative to the project root.
	DefaultDataDir = ".classidx"
)

// Config represents the complete classidx configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	DataDir string        `yaml:"data_dir" json:"data_dir"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Watch   WatchConfig   `yaml:"watch" json:"watch"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// IndexConfig tunes how indexes are opened and written.
type IndexConfig struct {
	// CacheSize is the number of decoded lookups kept per open index.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// Workers bounds concurrent extraction. 0 means GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers"`

	// OpenAttempts is the total number of store opens, recovery included.
	OpenAttempts int `yaml:"open_attempts" json:"open_attempts"`

	// BusyTimeoutMS is the SQLite busy timeout in milliseconds.
	BusyTimeoutMS int `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`

	// SQLiteCacheMB is the SQLite page cache size in MB.
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`

	// BatchSize is the number of items per UpdateBatch call in a pass.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// WatchConfig configures `classidx watch`.
type WatchConfig struct {
	// Debounce is the quiet period before a batch of file events runs a pass.
	Debounce string `yaml:"debounce" json:"debounce"`

	// Extensions selects the watched files. Empty means every file.
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: "",
		Index: IndexConfig{
			CacheSize:     1024,
			Workers:       0,
			OpenAttempts:  2,
			BusyTimeoutMS: 5000,
			SQLiteCacheMB: 16,
			BatchSize:     64,
		},
		Watch: WatchConfig{
			Debounce:   "200ms",
			Extensions: []string{".properties"},
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/classidx/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/classidx/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "classidx", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "classidx", "config.yaml")
	}
	return filepath.Join(home, ".config", "classidx", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/classidx/config.yaml)
//  3. Project config (.classidx.yaml in dir)
//  4. Environment variables (CLASSIDX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := LoadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with exactly one file, then env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile loads .classidx.yaml, or .classidx.yml as a fallback.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectFile, projectFileAlt} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Index.CacheSize != 0 {
		c.Index.CacheSize = other.Index.CacheSize
	}
	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}
	if other.Index.OpenAttempts != 0 {
		c.Index.OpenAttempts = other.Index.OpenAttempts
	}
	if other.Index.BusyTimeoutMS != 0 {
		c.Index.BusyTimeoutMS = other.Index.BusyTimeoutMS
	}
	if other.Index.SQLiteCacheMB != 0 {
		c.Index.SQLiteCacheMB = other.Index.SQLiteCacheMB
	}
	if other.Index.BatchSize != 0 {
		c.Index.BatchSize = other.Index.BatchSize
	}

	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if len(other.Watch.Extensions) > 0 {
		c.Watch.Extensions = other.Watch.Extensions
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies CLASSIDX_* environment variable overrides.
// Unparseable numbers are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CLASSIDX_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	envInt("CLASSIDX_CACHE_SIZE", &c.Index.CacheSize)
	envInt("CLASSIDX_WORKERS", &c.Index.Workers)
	envInt("CLASSIDX_OPEN_ATTEMPTS", &c.Index.OpenAttempts)
	envInt("CLASSIDX_BUSY_TIMEOUT_MS", &c.Index.BusyTimeoutMS)
	envInt("CLASSIDX_BATCH_SIZE", &c.Index.BatchSize)
	if v := os.Getenv("CLASSIDX_WATCH_DEBOUNCE"); v != "" {
		c.Watch.Debounce = v
	}
	if v := os.Getenv("CLASSIDX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Index.CacheSize < 1 {
		return fmt.Errorf("index.cache_size must be positive, got %d", c.Index.CacheSize)
	}
	if c.Index.Workers < 0 {
		return fmt.Errorf("index.workers must be non-negative, got %d", c.Index.Workers)
	}
	if c.Index.OpenAttempts < 1 {
		return fmt.Errorf("index.open_attempts must be at least 1, got %d", c.Index.OpenAttempts)
	}
	if c.Index.BusyTimeoutMS < 0 {
		return fmt.Errorf("index.busy_timeout_ms must be non-negative, got %d", c.Index.BusyTimeoutMS)
	}
	if c.Index.SQLiteCacheMB < 0 {
		return fmt.Errorf("index.sqlite_cache_mb must be non-negative, got %d", c.Index.SQLiteCacheMB)
	}
	if c.Index.BatchSize < 1 {
		return fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize)
	}

	if _, err := c.DebounceWindow(); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be positive, got %d", c.Logging.MaxSizeMB)
	}
	if c.Logging.MaxFiles < 1 {
		return fmt.Errorf("logging.max_files must be positive, got %d", c.Logging.MaxFiles)
	}
	return nil
}

// DebounceWindow parses Watch.Debounce.
func (c *Config) DebounceWindow() (time.Duration, error) {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("watch.debounce must be a positive duration, got %q", c.Watch.Debounce)
	}
	return d, nil
}

// BusyTimeout returns Index.BusyTimeoutMS as a duration.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Index.BusyTimeoutMS) * time.Millisecond
}

// ResolveDataDir returns the data directory for the project rooted at root.
// A relative DataDir is resolved against root.
func (c *Config) ResolveDataDir(root string) string {
	dir := c.DataDir
	if dir == "" {
		dir = DefaultDataDir
	}
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return dir
}

// FindProjectRoot finds the project root directory.
// It looks for a .git directory or a .classidx.yaml/.yml file by walking up
// the directory tree, and returns the absolute startDir if none is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	if !dirExists(absDir) {
		return "", fmt.Errorf("directory does not exist: %s", absDir)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) ||
			fileExists(filepath.Join(currentDir, ProjectFile)) ||
			fileExists(filepath.Join(currentDir, projectFileAlt)) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
