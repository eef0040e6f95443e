// Package errors provides structured error handling for classidx.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (markers, store files, locks)
//   - 4XX: Validation errors
//   - 5XX: Internal errors (contract violations, extractor failures)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeMissingMarker  = "ERR_201_MISSING_MARKER"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeMarkerWrite    = "ERR_204_MARKER_WRITE"
	ErrCodeStoreOpen      = "ERR_205_STORE_OPEN"
	ErrCodeFileCorrupt    = "ERR_206_FILE_CORRUPT"
	ErrCodeStoreWrite     = "ERR_207_STORE_WRITE"
	ErrCodeStoreClose     = "ERR_208_STORE_CLOSE"
	ErrCodeIndexLocked    = "ERR_209_INDEX_LOCKED"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidName  = "ERR_402_INVALID_NAME"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeHandleClosed  = "ERR_502_HANDLE_CLOSED"
	ErrCodeExtractFailed = "ERR_503_EXTRACT_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_MISSING_MARKER")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreOpen, ErrCodeStoreClose, ErrCodeDiskFull:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// A locked index may be released by its holder; everything else is surfaced as-is.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
