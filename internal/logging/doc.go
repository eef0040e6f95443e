// Package logging writes classidx's structured logs.
//
// Logs are JSON lines in ~/.classidx/logs/classidx.log, rotated by size.
// With --debug the same records are also written to stderr at debug level.
// The Viewer reads them back for `classidx logs`.
package logging
