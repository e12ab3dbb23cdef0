package review

import (
	"context"
	"strings"
	"sync"

	"github.com/forensight/forensight/internal/search"
	"github.com/forensight/forensight/internal/workpaper"
)

// fakeGateway records queries and answers from a fixed result set.
type fakeGateway struct {
	mu      sync.Mutex
	enabled bool
	queries []string
	results func(query string) []search.Result
}

func (g *fakeGateway) Search(_ context.Context, query string, maxResults int) []search.Result {
	g.mu.Lock()
	g.queries = append(g.queries, query)
	g.mu.Unlock()
	if g.results == nil {
		return nil
	}
	out := g.results(query)
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

func (g *fakeGateway) Enabled() bool { return g.enabled }

func (g *fakeGateway) Queries() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.queries...)
}

// acmeGateway returns one snippet per query that mentions Acme.
func acmeGateway() *fakeGateway {
	return &fakeGateway{
		enabled: true,
		results: func(q string) []search.Result {
			return []search.Result{{
				Title:   "Acme Holdings filing: " + q,
				URL:     "https://example.com/" + strings.ReplaceAll(q, " ", "-"),
				Content: "Acme Holdings disclosed details relevant to " + q,
			}}
		},
	}
}

func testWorkpaper() *workpaper.Workpaper {
	return &workpaper.Workpaper{
		CompanyProfile:   "Acme Holdings Ltd",
		FinancialSummary: "Revenue grew 80% while operating cash flow turned negative.",
		FraudTypeABlock:  "Top five customers account for 70% of revenue; two were founded last year.",
		MetricsNotes:     []string{"balance_sheet.inventory not disclosed"},
		ContextCapsule:   "Context highlights:\n- Company: Acme Holdings Ltd\n",
	}
}

func reportWith(plan map[string]any) map[string]any {
	r := map[string]any{
		"risk_level":        "medium",
		"risk_points":       []any{"receivables outpace revenue"},
		"evidence":          []any{"AR up 120% year on year"},
		"reasoning_summary": "cash conversion is weak",
		"suggestions":       []any{"confirm receivables with customers"},
		"confidence":        0.6,
	}
	if plan != nil {
		r["research_plan"] = plan
	}
	return r
}

func plan(need bool, minRounds int, followUps ...string) map[string]any {
	q := make([]any, len(followUps))
	for i, f := range followUps {
		q[i] = f
	}
	return map[string]any{
		"need_autonomous_research": need,
		"minimum_rounds":           minRounds,
		"follow_up_queries":        q,
		"reason":                   "test",
	}
}
