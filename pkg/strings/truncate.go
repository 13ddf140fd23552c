// Package strings holds text helpers shared by the output layers.
package strings

import (
	"strings"
)

// DefaultMaxLen is the default width of a truncated table cell.
const DefaultMaxLen = 60

// MinTruncateLen is the smallest maxLen Truncate honours: one character
// plus "...".
const MinTruncateLen = 4

// Truncate folds s onto a single line and cuts it to at most maxLen runes,
// marking the cut with "...". Runs of whitespace, including newlines from
// multi-line accessible text, collapse to one space.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
