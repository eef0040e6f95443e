// Package daemon tracks the long-running watch process of an index through a
// PID file in the index directory.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// WatchPIDFile is the PID file name inside an index directory.
const WatchPIDFile = "watch.pid"

var (
	// ErrPIDFileNotFound is returned when the PID file doesn't exist.
	ErrPIDFileNotFound = errors.New("PID file not found")

	// ErrAlreadyRunning is returned by Acquire when a live process owns the file.
	ErrAlreadyRunning = errors.New("already running")
)

// PIDFile manages a process ID file.
type PIDFile struct {
	path string
}

// NewPIDFile creates a new PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// ForIndex returns the watch PID file of the index in dir.
func ForIndex(dir string) *PIDFile {
	return NewPIDFile(filepath.Join(dir, WatchPIDFile))
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire records the current process. A file left by a dead process is
// replaced; one owned by a live process yields ErrAlreadyRunning.
func (p *PIDFile) Acquire() error {
	if pid, ok := p.Running(); ok && pid != os.Getpid() {
		return fmt.Errorf("process %d: %w", pid, ErrAlreadyRunning)
	}
	return p.Write()
}

// Write writes the current process's PID to the file.
// Creates the directory if it doesn't exist.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrPIDFileNotFound
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file %s", p.path)
	}
	return pid, nil
}

// Remove deletes the PID file if it still names the current process.
func (p *PIDFile) Remove() error {
	if pid, err := p.Read(); err == nil && pid != os.Getpid() {
		return nil
	}
	err := os.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Running returns the stored PID if that process is alive.
func (p *PIDFile) Running() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, processExists(pid)
}

// Signal sends a signal to the process with the stored PID.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	return nil
}

// processExists checks if a process with the given PID exists.
func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes for existence.
	return process.Signal(syscall.Signal(0)) == nil
}
