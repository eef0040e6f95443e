package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against dataDir, creating it if needed.
func (c *Checker) RunAll(ctx context.Context, dataDir string) []CheckResult {
	write := c.CheckWritePermissions(dataDir)

	results := []CheckResult{write}
	// Statfs needs an existing path.
	results = append(results, c.CheckDiskSpace(existingParent(dataDir)))
	results = append(results, c.CheckFileDescriptors())
	if write.Status == StatusPass {
		results = append(results, c.CheckStore(ctx, dataDir))
	}
	return results
}

// HasCriticalFailures reports whether a required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	return slices.ContainsFunc(results, CheckResult.IsCritical)
}

// SummaryStatus condenses results into "ready", "ready_with_warnings" or "failed".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	critical, other := partition(results)
	switch {
	case len(critical) > 0:
		return "failed"
	case len(other) > 0:
		return "ready_with_warnings"
	default:
		return "ready"
	}
}

// partition splits the results that did not pass into critical failures and
// everything else (warnings and optional failures).
func partition(results []CheckResult) (critical, other []CheckResult) {
	for _, r := range results {
		switch {
		case r.IsCritical():
			critical = append(critical, r)
		case r.Status != StatusPass:
			other = append(other, r)
		}
	}
	return critical, other
}

// PrintResults writes a report of results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	w := c.output
	_, _ = fmt.Fprintf(w, "classidx System Check\n%s\n\n", strings.Repeat("=", 21))

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(w, "      %s\n", r.Details)
		}
	}
	_, _ = fmt.Fprintf(w, "\nStatus: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	critical, other := partition(results)
	printGroup(w, "error(s)", critical)
	printGroup(w, "warning(s)", other)
}

func printGroup(w io.Writer, label string, results []CheckResult) {
	if len(results) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%d %s:\n", len(results), label)
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "  - %s: %s\n", r.Name, r.Message)
	}
}

// CheckWritePermissions creates dir if needed and checks that a file can be
// written there and renamed over another, as marker saves do.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}

	target := filepath.Join(dir, ".preflight")
	tmp := target + ".tmp"
	defer func() {
		_ = os.Remove(tmp)
		_ = os.Remove(target)
	}()

	for _, p := range []string{target, tmp} {
		if err := os.WriteFile(p, []byte("ok"), 0o644); err != nil {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("permission denied: %v", err)
			return result
		}
	}
	if err := os.Rename(tmp, target); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("rename failed: %v", err)
		result.Details = "state markers are replaced atomically by rename"
		return result
	}

	result.Status = StatusPass
	result.Message = "OK"
	result.Details = dir
	return result
}

// existingParent returns path or its nearest existing ancestor.
func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
