// Package output formats the short, line-oriented results of classidx commands.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/classidx/internal/ui"
)

// Writer provides formatted output for CLI commands.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New creates a Writer. Color is used only when out is a terminal and
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	noColor := !ui.IsTTY(out) || ui.DetectNoColor()
	return &Writer{
		out:    out,
		styles: ui.GetStyles(noColor),
	}
}

// Status prints a message behind an icon. An empty icon indents the message.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "  %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// KV prints a "label: value" line with the label padded to width.
func (w *Writer) KV(label string, value any, width int) {
	padded := fmt.Sprintf("%-*s", width+1, label+":")
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.styles.Label.Render(padded), value)
}

// List prints one item per line.
func (w *Writer) List(items []string) {
	for _, item := range items {
		_, _ = fmt.Fprintln(w.out, item)
	}
}

// Code prints a block with each line indented.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
