// Package preflight checks that the machine can host class indexes before a
// pass relies on it.
//
// The package validates:
//   - Free disk space under the data directory
//   - Write and rename permission in the data directory (markers are replaced
//     by rename)
//   - The file descriptor limit (watching needs descriptors on some platforms)
//   - A store round trip through the SQLite driver
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, "/path/to/.classidx")
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
