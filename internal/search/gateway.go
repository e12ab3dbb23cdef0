package search

import "context"

// Result is one external snippet. Identity for deduplication is (URL, Title).
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Key returns the deduplication identity.
func (r Result) Key() [2]string {
	return [2]string{r.URL, r.Title}
}

// Gateway is a text-search provider. Search never fails: provider errors and
// disablement both yield an empty slice.
type Gateway interface {
	Search(ctx context.Context, query string, maxResults int) []Result
	Enabled() bool
}

// Disabled is a Gateway that is switched off.
type Disabled struct{}

func (Disabled) Search(context.Context, string, int) []Result { return nil }
func (Disabled) Enabled() bool                                { return false }

// IsEnabled reports whether g is non-nil and enabled.
func IsEnabled(g Gateway) bool {
	return g != nil && g.Enabled()
}
