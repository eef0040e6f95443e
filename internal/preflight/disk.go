package preflight

import (
	"fmt"
	"syscall"

	"github.com/Aman-CERP/classidx/internal/ui"
)

// MinDiskSpaceBytes is the minimum required free disk space (64MB).
const MinDiskSpaceBytes = 64 * 1024 * 1024

// CheckDiskSpace checks if there's sufficient disk space at the given path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	available := int64(stat.Bavail) * int64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", ui.FormatBytes(available), ui.FormatBytes(MinDiskSpaceBytes))

	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
		result.Details = "a full disk fails the close of the next pass and forces a rebuild"
		return result
	}

	result.Status = StatusPass
	return result
}
