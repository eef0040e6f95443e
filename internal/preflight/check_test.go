package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSON(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "disk_space", Status: StatusWarn, Required: true})

	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"disk_space","status":"WARN","message":"","required":true}`, string(data))
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass is not critical", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail is critical", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail is not critical", CheckResult{Status: StatusFail, Required: false}, false},
		{"required warn is not critical", CheckResult{Status: StatusWarn, Required: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_SummaryStatus(t *testing.T) {
	c := New()

	assert.Equal(t, "ready", c.SummaryStatus([]CheckResult{{Status: StatusPass, Required: true}}))
	assert.Equal(t, "ready_with_warnings", c.SummaryStatus([]CheckResult{{Status: StatusWarn}}))
	assert.Equal(t, "ready_with_warnings", c.SummaryStatus([]CheckResult{{Status: StatusFail}}))
	assert.Equal(t, "failed", c.SummaryStatus([]CheckResult{{Status: StatusFail, Required: true}}))
}

func TestChecker_RunAll(t *testing.T) {
	// Given: a data directory that does not exist yet
	dataDir := filepath.Join(t.TempDir(), "project", ".classidx")

	// When: running every check
	results := New().RunAll(context.Background(), dataDir)

	// Then: every check ran and the scratch files are gone
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"write_permissions", "disk_space", "file_descriptors", "store"}, names)
	assert.Equal(t, StatusPass, results[0].Status)
	assert.Equal(t, StatusPass, results[3].Status, results[3].Message)

	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	result := New().CheckWritePermissions(dir)

	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestRunAll_SkipsStoreWhenNotWritable(t *testing.T) {
	// Given: a data directory path blocked by a regular file
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	results := New().RunAll(context.Background(), filepath.Join(blocker, ".classidx"))

	require.Len(t, results, 3)
	assert.Equal(t, StatusFail, results[0].Status)
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: a verbose checker and mixed results
	buf := &bytes.Buffer{}
	c := New(WithVerbose(true), WithOutput(buf))
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "1.0 GB free", Required: true},
		{Name: "file_descriptors", Status: StatusWarn, Message: "256 (minimum: 1024)", Details: "Run 'ulimit -n 10240'"},
		{Name: "store", Status: StatusFail, Message: "open: boom", Required: true},
	}

	// When: printing
	c.PrintResults(results)

	// Then: each check, its details and the summary are shown
	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space: 1.0 GB free")
	assert.Contains(t, out, "Run 'ulimit -n 10240'")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):")
	assert.Contains(t, out, "1 warning(s):")
}
