// Package marker manages the lifecycle marker files of an index directory.
//
// Every initialized index directory holds two small files:
//
//	version  the on-disk format version the directory was created with
//	state    the durability state: EXIST after a clean close, CORRUPTED otherwise
//
// The state file is always replaced atomically (temp file + rename), so a crash
// never leaves a half-written marker behind.
package marker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// VersionFile is the name of the format version marker.
	VersionFile = "version"
	// StateFile is the name of the durability state marker.
	StateFile = "state"

	// FormatVersion is the on-disk format written by Init.
	FormatVersion = 1

	tmpSuffix = ".tmp"
)

// State is the durability state recorded in the state file.
type State string

const (
	// StateExist means the last session on this directory closed cleanly.
	StateExist State = "EXIST"
	// StateCorrupted means a session is open, crashed, or failed to close.
	StateCorrupted State = "CORRUPTED"
)

// String returns the on-disk representation.
func (s State) String() string {
	return string(s)
}

// ParseState parses marker content. Anything other than a known state is CORRUPTED.
func ParseState(s string) State {
	switch State(strings.TrimSpace(s)) {
	case StateExist:
		return StateExist
	default:
		return StateCorrupted
	}
}

// Missing returns the marker files absent from dir, in the order version, state.
// It only reads the directory. A missing dir reports both markers.
func Missing(dir string) []string {
	present := make(map[string]bool)
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			present[e.Name()] = true
		}
	}

	var missing []string
	for _, name := range []string{VersionFile, StateFile} {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// Initialized reports whether dir holds both marker files.
func Initialized(dir string) bool {
	return len(Missing(dir)) == 0
}

// Init creates dir and any missing marker files. A fresh state is CORRUPTED:
// an index nobody has built yet cannot be trusted. Existing markers are kept.
func Init(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	versionPath := filepath.Join(dir, VersionFile)
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		if err := writeAtomic(dir, VersionFile, []byte(strconv.Itoa(FormatVersion))); err != nil {
			return fmt.Errorf("write version marker: %w", err)
		}
	}

	statePath := filepath.Join(dir, StateFile)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		if err := Save(dir, StateCorrupted); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the state marker. A missing or unrecognized marker loads as
// CORRUPTED with a nil error; other read failures return CORRUPTED and the error.
func Load(dir string) (State, error) {
	data, err := os.ReadFile(filepath.Join(dir, StateFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StateCorrupted, nil
		}
		return StateCorrupted, fmt.Errorf("read state marker: %w", err)
	}
	return ParseState(string(data)), nil
}

// Save atomically replaces the state marker.
func Save(dir string, s State) error {
	if err := writeAtomic(dir, StateFile, []byte(s)); err != nil {
		return fmt.Errorf("save state marker %s: %w", s, err)
	}
	return nil
}

// ReadVersion returns the format version recorded in dir.
func ReadVersion(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, VersionFile))
	if err != nil {
		return 0, fmt.Errorf("read version marker: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid version marker: %w", err)
	}
	return v, nil
}

// writeAtomic writes data to dir/name through a synced temp file and a rename.
func writeAtomic(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	tmpPath := path + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	// Persist the rename itself. Not supported everywhere, so best effort.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
