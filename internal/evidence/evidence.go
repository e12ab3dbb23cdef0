// Package evidence scopes and formats external snippets before they are
// fused into reviewer prompts.
package evidence

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"github.com/forensight/forensight/internal/metrics"
	"github.com/forensight/forensight/internal/search"
	"github.com/forensight/forensight/internal/util"
)

// PlaceholderCompany is used in queries when the entity name is unknown.
const PlaceholderCompany = "target company"

const maxSnippetRunes = 800

var corporateSuffixes = map[string]struct{}{
	"inc": {}, "corp": {}, "corporation": {}, "ltd": {}, "limited": {},
	"llc": {}, "plc": {}, "co": {}, "company": {},
}

// IsPlaceholder reports whether name carries no usable entity identity.
func IsPlaceholder(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PlaceholderCompany, "目标公司", "公司":
		return true
	}
	return false
}

// EntityTokens derives lower-case match tokens from an entity name. Corporate
// suffixes are dropped; a lone surviving token is joined by the whole
// normalized name. Placeholders yield no tokens.
func EntityTokens(name string) []string {
	if IsPlaceholder(name) {
		return nil
	}
	base := strings.Join(strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")

	tokens := lo.Filter(strings.Fields(base), func(tok string, _ int) bool {
		_, suffix := corporateSuffixes[tok]
		return !suffix
	})
	if len(tokens) == 1 {
		tokens = append(tokens, base)
	}
	return lo.Uniq(tokens)
}

// FilterByEntity keeps results mentioning the entity in title, content or URL.
// Without usable tokens, or when nothing matches, the input is returned as-is
// so a role is never starved of context by an imperfect name match.
func FilterByEntity(results []search.Result, entity string) []search.Result {
	tokens := EntityTokens(entity)
	if len(tokens) == 0 || len(results) == 0 {
		return results
	}
	filtered := lo.Filter(results, func(r search.Result, _ int) bool {
		hay := strings.ToLower(r.Title + " " + r.Content + " " + r.URL)
		return lo.SomeBy(tokens, func(tok string) bool { return strings.Contains(hay, tok) })
	})
	if len(filtered) == 0 {
		metrics.EntityFilterFallbacks.Inc()
		return results
	}
	return filtered
}

// Dedupe drops repeated (URL, Title) pairs, keeping first occurrences, and
// caps the result at limit entries (limit <= 0 means no cap).
func Dedupe(results []search.Result, limit int) []search.Result {
	out := lo.UniqBy(results, func(r search.Result) [2]string { return r.Key() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Format renders results as a prompt block, one "- title | snippet (url)" line each.
func Format(results []search.Result) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		snippet := util.TruncateString(util.NormalizeSpace(r.Content), maxSnippetRunes, true)
		lines = append(lines, fmt.Sprintf("- %s | %s (%s)", r.Title, snippet, r.URL))
	}
	return strings.Join(lines, "\n")
}
