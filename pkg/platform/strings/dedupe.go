// Package strings holds small string-slice helpers for configuration parsing.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each element and drops empties and repeats, keeping the
// first occurrence order. A nil or empty input is returned unchanged.
//
//	DedupeAndTrim([]string{" k1:9092", "k2:9092", "k1:9092", ""})
//	// []string{"k1:9092", "k2:9092"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
