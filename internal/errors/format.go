package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// FormatForUser returns a user-friendly error message.
// If debug is true, includes the details and underlying cause.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	var ie *IndexError
	if !stderrors.As(err, &ie) {
		return err.Error()
	}

	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(ie.Message)
	sb.WriteString("\n")

	if ie.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(ie.Suggestion)
		sb.WriteString("\n")
	}

	if debug {
		for _, k := range sortedKeys(ie.Details) {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, ie.Details[k]))
		}
		if ie.Cause != nil {
			sb.WriteString(fmt.Sprintf("  cause: %v\n", ie.Cause))
		}
	}

	sb.WriteString(fmt.Sprintf("\n[%s]", ie.Code))

	return sb.String()
}

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var ie *IndexError
	if !stderrors.As(err, &ie) {
		ie = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", ie.Message))
	if ie.Cause != nil && ie.Cause.Error() != ie.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %v\n", ie.Cause))
	}
	if ie.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ie.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ie.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
// Suitable for machine consumption and structured logging.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	var ie *IndexError
	if !stderrors.As(err, &ie) {
		ie = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       ie.Code,
		Message:    ie.Message,
		Category:   string(ie.Category),
		Severity:   string(ie.Severity),
		Details:    ie.Details,
		Suggestion: ie.Suggestion,
		Retryable:  ie.Retryable,
	}

	if ie.Cause != nil {
		je.Cause = ie.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	var ie *IndexError
	if !stderrors.As(err, &ie) {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": ie.Code,
		"message":    ie.Message,
		"category":   string(ie.Category),
		"severity":   string(ie.Severity),
		"retryable":  ie.Retryable,
	}

	if ie.Cause != nil {
		result["cause"] = ie.Cause.Error()
	}

	if ie.Suggestion != "" {
		result["suggestion"] = ie.Suggestion
	}

	for k, v := range ie.Details {
		result["detail_"+k] = v
	}

	return result
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
