package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID returns a PID that no live process uses.
func deadPID(t *testing.T) int {
	t.Helper()
	for pid := 999_999; pid > 900_000; pid-- {
		if !processExists(pid) {
			return pid
		}
	}
	t.Skip("no free PID found")
	return 0
}

func TestPIDFile_WriteRead(t *testing.T) {
	pf := ForIndex(t.TempDir())
	assert.Equal(t, WatchPIDFile, filepath.Base(pf.Path()))

	require.NoError(t, pf.Write())

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	running, ok := pf.Running()
	assert.True(t, ok)
	assert.Equal(t, os.Getpid(), running)
}

func TestPIDFile_ReadErrors(t *testing.T) {
	dir := t.TempDir()
	pf := NewPIDFile(filepath.Join(dir, "x.pid"))

	_, err := pf.Read()
	assert.ErrorIs(t, err, ErrPIDFileNotFound)

	require.NoError(t, os.WriteFile(pf.Path(), []byte("nope"), 0o644))
	_, err = pf.Read()
	assert.ErrorContains(t, err, "invalid PID")

	_, ok := pf.Running()
	assert.False(t, ok)
}

func TestPIDFile_AcquireReplacesStaleFile(t *testing.T) {
	// Given: a PID file left by a dead process
	pf := ForIndex(t.TempDir())
	require.NoError(t, os.WriteFile(pf.Path(), []byte(strconv.Itoa(deadPID(t))), 0o644))

	// When: acquiring
	require.NoError(t, pf.Acquire())

	// Then: the file names this process
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_AcquireRefusesLiveProcess(t *testing.T) {
	// Given: a PID file owned by another live process (our parent)
	pf := ForIndex(t.TempDir())
	require.NoError(t, os.WriteFile(pf.Path(), []byte(strconv.Itoa(os.Getppid())), 0o644))

	err := pf.Acquire()

	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestPIDFile_RemoveKeepsForeignFile(t *testing.T) {
	pf := ForIndex(t.TempDir())
	require.NoError(t, os.WriteFile(pf.Path(), []byte(strconv.Itoa(os.Getppid())), 0o644))

	require.NoError(t, pf.Remove())
	assert.FileExists(t, pf.Path())

	require.NoError(t, pf.Write())
	require.NoError(t, pf.Remove())
	assert.NoFileExists(t, pf.Path())
	assert.NoError(t, pf.Remove())
}

func TestPIDFile_Signal(t *testing.T) {
	pf := ForIndex(t.TempDir())

	assert.ErrorIs(t, pf.Signal(syscall.Signal(0)), ErrPIDFileNotFound)

	require.NoError(t, pf.Write())
	assert.NoError(t, pf.Signal(syscall.Signal(0)))
}
