package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo describes one index on disk.
type StatusInfo struct {
	Name        string    `json:"name"`
	Dir         string    `json:"dir"`
	Initialized bool      `json:"initialized"`
	Missing     []string  `json:"missing,omitempty"`
	State       string    `json:"state,omitempty"`
	Version     int       `json:"version,omitempty"`
	Keys        int       `json:"keys"`
	Sources     int       `json:"sources"`
	StoreSize   int64     `json:"store_size"`
	LastClosed  time.Time `json:"last_closed,omitzero"`
	StoreError  string    `json:"store_error,omitempty"`
	WatcherPID  int       `json:"watcher_pid,omitempty"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index: "+info.Name))
	_, _ = fmt.Fprintf(r.out, "  Directory: %s\n", info.Dir)

	if !info.Initialized {
		_, _ = fmt.Fprintf(r.out, "  State:     %s (missing %v)\n", r.renderState("MISSING"), info.Missing)
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "  State:     %s\n", r.renderState(info.State))
	_, _ = fmt.Fprintf(r.out, "  Version:   %d\n", info.Version)
	if !info.LastClosed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Closed:    %s\n", formatTime(info.LastClosed))
	}
	_, _ = fmt.Fprintln(r.out)

	if info.StoreError != "" {
		_, _ = fmt.Fprintf(r.out, "  Store:     %s\n", r.styles.Error.Render(info.StoreError))
		return nil
	}
	_, _ = fmt.Fprintf(r.out, "  Keys:      %d\n", info.Keys)
	_, _ = fmt.Fprintf(r.out, "  Sources:   %d\n", info.Sources)
	_, _ = fmt.Fprintf(r.out, "  Size:      %s\n", FormatBytes(info.StoreSize))
	if info.WatcherPID > 0 {
		_, _ = fmt.Fprintf(r.out, "  Watcher:   running (pid %d)\n", info.WatcherPID)
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "EXIST":
		return r.styles.Success.Render(state)
	case "CORRUPTED":
		return r.styles.Warning.Render(state + " (rebuild on next pass)")
	case "MISSING":
		return r.styles.Error.Render(state)
	default:
		return state
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
