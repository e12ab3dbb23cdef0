package util

import (
	"strings"

	"github.com/samber/lo"
)

// NormalizeSpace trims s and collapses every run of whitespace into a single space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// UniqueTrimmed trims every item, drops blanks and duplicates while keeping the
// first occurrence, and caps the result at limit entries (limit <= 0 means no cap).
func UniqueTrimmed(items []string, limit int) []string {
	trimmed := lo.FilterMap(items, func(item string, _ int) (string, bool) {
		text := strings.TrimSpace(item)
		return text, text != ""
	})
	out := lo.Uniq(trimmed)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TruncateString truncates s to maxLen runes and appends "..." if truncated.
// If preserveWords is true, truncates at the last space before maxLen when possible.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	cut := maxLen - 3
	if preserveWords {
		if idx := lastSpaceBeforeRune(runes, cut); idx > 0 {
			cut = idx
		}
	}
	return string(runes[:cut]) + "..."
}

// TruncateRunes cuts s to at most maxLen runes without any marker.
func TruncateRunes(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen < 0 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

func lastSpaceBeforeRune(runes []rune, pos int) int {
	if pos > len(runes) {
		pos = len(runes)
	}
	for i := pos - 1; i >= 0; i-- {
		if runes[i] == ' ' || runes[i] == '\t' || runes[i] == '\n' {
			return i
		}
	}
	return -1
}
