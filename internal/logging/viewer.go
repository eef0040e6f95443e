package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
)

// maxLineSize bounds a single log line.
const maxLineSize = 1024 * 1024

// LogEntry represents a parsed JSON log line.
type LogEntry struct {
	Time    time.Time
	Level   string
	Msg     string
	Attrs   map[string]any
	Raw     string // Original line
	IsValid bool   // Whether JSON parsing succeeded
}

// ViewerConfig configures the log viewer.
type ViewerConfig struct {
	Level   string         // Minimum level (debug, info, warn, error)
	Pattern *regexp.Regexp // Raw line filter
	NoColor bool
}

// Viewer reads, filters and prints log entries.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
	levels map[string]lipgloss.Style
}

// NewViewer creates a new log viewer.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	v := &Viewer{config: cfg, out: out}
	if !cfg.NoColor {
		v.levels = map[string]lipgloss.Style{
			"debug": lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
			"info":  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			"warn":  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			"error": lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		}
	}
	return v
}

// Tail returns the matching entries among the last n lines of path.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Ring of the last n lines.
	lines := make([]string, 0, max(n, 0))
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if n <= 0 {
			continue
		}
		if len(lines) == n {
			lines = slices.Delete(lines, 0, 1)
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	var entries []LogEntry
	for _, line := range lines {
		if entry := parseLine(line); v.matches(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Follow sends entries appended to path until ctx is cancelled.
// A rotation is detected by the file being recreated and reading restarts
// at the top of the new file.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- LogEntry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch log directory: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch log file: %w", err)

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Has(fsnotify.Create) {
				reopened, err := os.Open(path)
				if err != nil {
					continue
				}
				_ = file.Close()
				file = reopened
				reader.Reset(file)
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := v.drain(ctx, reader, entries); err != nil {
				return nil
			}
		}
	}
}

// drain sends every complete line available from r.
func (v *Viewer) drain(ctx context.Context, r *bufio.Reader, entries chan<- LogEntry) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			// Partial lines stay buffered until the writer finishes them.
			return nil
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			continue
		}
		entry := parseLine(line)
		if !v.matches(entry) {
			continue
		}
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FormatEntry formats a log entry for display. Attributes are sorted by key.
func (v *Viewer) FormatEntry(entry LogEntry) string {
	if !entry.IsValid {
		return entry.Raw
	}

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(entry.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(v.formatLevel(entry.Level))
	b.WriteByte(' ')
	b.WriteString(entry.Msg)
	for _, k := range keys {
		_, _ = fmt.Fprintf(&b, " %s=%v", k, entry.Attrs[k])
	}
	return b.String()
}

// Print prints entries to the output.
func (v *Viewer) Print(entries []LogEntry) {
	for _, entry := range entries {
		_, _ = fmt.Fprintln(v.out, v.FormatEntry(entry))
	}
}

func (v *Viewer) formatLevel(level string) string {
	label := fmt.Sprintf("%-5s", strings.ToUpper(level))
	if len(label) > 5 {
		label = label[:5]
	}
	if style, ok := v.levels[strings.ToLower(level)]; ok {
		return style.Render(label)
	}
	return label
}

func (v *Viewer) matches(entry LogEntry) bool {
	if v.config.Level != "" && entry.IsValid &&
		LevelFromString(entry.Level) < LevelFromString(v.config.Level) {
		return false
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(entry.Raw) {
		return false
	}
	return true
}

// parseLine parses a slog JSON line. Other lines come back with IsValid false.
func parseLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return entry
	}
	entry.IsValid = true

	if t, ok := data[slog.TimeKey].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			entry.Time = parsed
		}
	}
	entry.Level, _ = data[slog.LevelKey].(string)
	entry.Msg, _ = data[slog.MessageKey].(string)

	entry.Attrs = make(map[string]any, len(data))
	for k, val := range data {
		if k != slog.TimeKey && k != slog.LevelKey && k != slog.MessageKey {
			entry.Attrs[k] = val
		}
	}
	return entry
}
