package watcher

import (
	"path"
	"slices"
	"strings"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing file was rewritten.
	OpModify
	// OpDelete indicates a file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is slash-separated and relative to the watched root.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 200ms
	DebounceWindow time.Duration

	// EventBufferSize is the number of batches buffered for the consumer.
	// Default: 16
	EventBufferSize int

	// Extensions selects files by suffix, e.g. ".properties". Empty means all files.
	Extensions []string

	// IgnoreDirs are directory names skipped anywhere in the tree.
	// Default: .git and .classidx
	IgnoreDirs []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		EventBufferSize: 16,
		IgnoreDirs:      []string{".git", ".classidx"},
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.IgnoreDirs == nil {
		o.IgnoreDirs = defaults.IgnoreDirs
	}
	return o
}

// Wants reports whether a file at the relative path rel is watched.
func (o Options) Wants(rel string) bool {
	for _, dir := range strings.Split(path.Dir(rel), "/") {
		if o.ignoresDir(dir) {
			return false
		}
	}
	if len(o.Extensions) == 0 {
		return true
	}
	return slices.Contains(o.Extensions, path.Ext(rel))
}

func (o Options) ignoresDir(name string) bool {
	return slices.Contains(o.IgnoreDirs, name)
}
