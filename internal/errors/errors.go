package errors

import (
	stderrors "errors"
	"fmt"
)

// IndexError is the structured error type for classidx.
// It provides rich context for error handling, logging, and user presentation.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_201_MISSING_MARKER").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs
	// (typically "index" and "dir").
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() against the sentinel errors below.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithIndex records the index canonical name and directory on the error.
func (e *IndexError) WithIndex(name, dir string) *IndexError {
	return e.WithDetail("index", name).WithDetail("dir", dir)
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *IndexError) WithSuggestion(suggestion string) *IndexError {
	e.Suggestion = suggestion
	return e
}

// Sentinel errors for errors.Is matching. They match any IndexError with the same code.
var (
	ErrMissingMarker = &IndexError{Code: ErrCodeMissingMarker}
	ErrStoreOpen     = &IndexError{Code: ErrCodeStoreOpen}
	ErrStoreWrite    = &IndexError{Code: ErrCodeStoreWrite}
	ErrStoreClose    = &IndexError{Code: ErrCodeStoreClose}
	ErrIndexLocked   = &IndexError{Code: ErrCodeIndexLocked}
	ErrCorrupt       = &IndexError{Code: ErrCodeFileCorrupt}
	ErrHandleClosed  = &IndexError{Code: ErrCodeHandleClosed}
	ErrExtract       = &IndexError{Code: ErrCodeExtractFailed}
)

// New creates a new IndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexError from an existing error.
// The error's message becomes the IndexError message.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// MissingMarkerError reports an index directory that was never initialized.
func MissingMarkerError(name, dir string, missing []string) *IndexError {
	return New(ErrCodeMissingMarker,
		fmt.Sprintf("%v file for index %s not found in %s", missing, name, dir), nil).
		WithIndex(name, dir).
		WithSuggestion(fmt.Sprintf("run 'classidx init %s' to create the index", name))
}

// StoreOpenError reports a store that could not be opened even after recovery.
func StoreOpenError(name, dir string, cause error) *IndexError {
	return New(ErrCodeStoreOpen,
		fmt.Sprintf("cannot open store for index %s in %s", name, dir), cause).
		WithIndex(name, dir)
}

// StoreWriteError reports a failed write during an update.
func StoreWriteError(name, dir string, cause error) *IndexError {
	return New(ErrCodeStoreWrite,
		fmt.Sprintf("cannot write to index %s in %s", name, dir), cause).
		WithIndex(name, dir)
}

// StoreCloseError reports a failed flush or close.
func StoreCloseError(name, dir string, cause error) *IndexError {
	return New(ErrCodeStoreClose,
		fmt.Sprintf("cannot close index %s in %s", name, dir), cause).
		WithIndex(name, dir).
		WithSuggestion("the index will be rebuilt on the next pass")
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an IndexError with Retryable flag set.
func IsRetryable(err error) bool {
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current compilation pass.
func IsFatal(err error) bool {
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an IndexError.
// Returns empty string if not an IndexError.
func GetCode(err error) string {
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from an IndexError.
// Returns empty string if not an IndexError.
func GetCategory(err error) Category {
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie.Category
	}
	return ""
}
