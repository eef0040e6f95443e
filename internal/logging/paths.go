package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogFileName is the name of the active log file.
const LogFileName = "classidx.log"

// DefaultLogDir returns the default log directory (~/.classidx/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".classidx", "logs")
	}
	return filepath.Join(home, ".classidx", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), LogFileName)
}

// FindLogFile returns explicit if it exists, or the default log file.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file found, run an index pass first\nExpected at: %s", path)
	}
	return path, nil
}
