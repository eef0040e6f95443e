// Package extract provides stock extractors for the class index.
package extract

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// maxLineSize bounds a single properties line.
const maxLineSize = 1 << 20

// Properties extracts key/value pairs from "key=value" text, one pair per line.
// Blank lines and lines starting with '#' or '!' are skipped. Keys and values
// are trimmed; a later line overrides an earlier line with the same key.
type Properties struct {
	// Separator splits key from value. Defaults to "=".
	Separator string

	// Prefix is prepended to every key.
	Prefix string
}

// Extract parses data. A non-comment line without a separator or with an
// empty key is an error naming the line.
func (p Properties) Extract(data []byte) (map[string]string, error) {
	sep := p.Separator
	if sep == "" {
		sep = "="
	}

	pairs := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}

		key, value, ok := strings.Cut(line, sep)
		if !ok {
			return nil, fmt.Errorf("line %d: missing %q", lineNo, sep)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}
		pairs[p.Prefix+key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
	}
	return pairs, nil
}
