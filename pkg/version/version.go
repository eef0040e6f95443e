// Package version reports the classidx release and the index layout it reads
// and writes.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/Aman-CERP/classidx/internal/marker"
)

// Release metadata, injected at link time:
//
//	-ldflags "-X github.com/Aman-CERP/classidx/pkg/version.Version=v0.3.0"
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// IndexFormat is the on-disk index layout this binary understands. Indexes
// written with another format must be rebuilt.
const IndexFormat = marker.FormatVersion

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string `json:"version"`
	IndexFormat int    `json:"index_format"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	GoVersion   string `json:"go_version"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
}

// GetInfo collects the build info. Commit and date fall back to the VCS
// stamp embedded by the toolchain, then to "unknown".
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:     Version,
		IndexFormat: IndexFormat,
		Commit:      Commit,
		Date:        Date,
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "" && len(s.Value) >= 7:
				info.Commit = s.Value[:7]
			case s.Key == "vcs.time" && info.Date == "":
				info.Date = s.Value
			}
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return info
}

// String renders the build info on one line.
func (b BuildInfo) String() string {
	return fmt.Sprintf("classidx %s (index format %d, commit: %s, built: %s, go: %s %s/%s)",
		b.Version, b.IndexFormat, b.Commit, b.Date, b.GoVersion, b.OS, b.Arch)
}

// String is GetInfo().String().
func String() string {
	return GetInfo().String()
}

// Short returns the release and index format, e.g. "v0.3.0+format.1".
func Short() string {
	return fmt.Sprintf("%s+format.%d", Version, IndexFormat)
}
