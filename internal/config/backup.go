package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	// MaxBackups is the maximum number of backups kept per config file.
	MaxBackups = 3

	// BackupSuffix separates the config file name from the backup timestamp.
	BackupSuffix = ".bak"

	// backupStamp sorts lexicographically in time order.
	backupStamp = "20060102-150405.000000000"
)

// BackupFile copies path to a timestamped sibling and prunes old backups.
// Returns "" and nil if path does not exist.
func BackupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := path + BackupSuffix + "." + time.Now().Format(backupStamp)
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	// Best effort: the backup itself succeeded.
	_ = pruneBackups(path)
	return backupPath, nil
}

// BackupUserConfig backs up the user config file.
func BackupUserConfig() (string, error) {
	return BackupFile(GetUserConfigPath())
}

// ListBackups returns the backups of path, newest first.
func ListBackups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(path) + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, entry.Name()))
		}
	}

	slices.Sort(backups)
	slices.Reverse(backups)
	return backups, nil
}

// pruneBackups removes backups of path beyond MaxBackups, keeping the newest.
func pruneBackups(path string) error {
	backups, err := ListBackups(path)
	if err != nil || len(backups) <= MaxBackups {
		return err
	}
	for _, old := range backups[MaxBackups:] {
		_ = os.Remove(old)
	}
	return nil
}

// RestoreBackup replaces path with the content of backupPath.
// The current file, if any, is backed up first.
func RestoreBackup(path, backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}

	if _, err := BackupFile(path); err != nil {
		return fmt.Errorf("failed to backup current config before restore: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write restored config: %w", err)
	}
	return nil
}
