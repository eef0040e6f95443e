// Package ui renders compilation-pass progress and index status in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a step of a compilation pass.
type Stage int

const (
	// StageOpen opens the index and reads its marker.
	StageOpen Stage = iota
	// StageRemove withdraws deleted sources.
	StageRemove
	// StageUpdate extracts and writes source items.
	StageUpdate
	// StageClose flushes the store and marks the index clean.
	StageClose
	// StageComplete indicates the pass is done.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageOpen:
		return "Open"
	case StageRemove:
		return "Remove"
	case StageUpdate:
		return "Update"
	case StageClose:
		return "Close"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageOpen:
		return "OPEN"
	case StageRemove:
		return "RM"
	case StageUpdate:
		return "UPDATE"
	case StageClose:
		return "CLOSE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentItem string
	Message     string
}

// ErrorEvent represents a failure on one source item.
type ErrorEvent struct {
	Item   string
	Err    error
	IsWarn bool
}

// CompletionStats summarizes a finished pass.
type CompletionStats struct {
	Index     string
	Full      bool
	Recovered bool
	Updated   int
	Removed   int
	Dropped   int
	Duration  time.Duration
	Errors    int
	Warnings  int
}

// Renderer displays pass progress.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	IndexName  string // shown in the TUI header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithIndexName sets the index name shown in the header.
func WithIndexName(name string) ConfigOption {
	return func(c *Config) {
		c.IndexName = name
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// text renderer for CI, pipes, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// Discard is a Renderer that draws nothing.
type Discard struct{}

func (Discard) Start(context.Context) error  { return nil }
func (Discard) UpdateProgress(ProgressEvent) {}
func (Discard) AddError(ErrorEvent)          {}
func (Discard) Complete(CompletionStats)     {}
func (Discard) Stop() error                  { return nil }

var _ Renderer = Discard{}
