package research

import (
	"fmt"
	"strings"

	"github.com/forensight/forensight/internal/util"
)

var guardrailTemplates = []string{
	"%s annual report risk factors footnote disclosure",
	"%s annual report filing footnote disclosure",
	"%s regulator enforcement investigation disclosure",
}

// GuardrailQuery returns the round-robin fallback query for a zero-based round.
// Consecutive rounds never get the same template.
func GuardrailQuery(company string, round int) string {
	if round < 0 {
		round = 0
	}
	return util.NormalizeSpace(fmt.Sprintf(guardrailTemplates[round%len(guardrailTemplates)], company))
}

// RoundCandidates assembles a round's candidate queries in priority order:
// model suggestions, the guardrail query, then any extras.
func RoundCandidates(company string, followUps []string, round int, extras ...string) []string {
	out := make([]string, 0, len(followUps)+1+len(extras))
	out = append(out, followUps...)
	out = append(out, GuardrailQuery(company, round))
	out = append(out, extras...)
	return out
}

// QueryLedger remembers every query issued during one run so later rounds do
// not repeat them. Not safe for concurrent use; each loop owns its ledger.
type QueryLedger struct {
	seen map[string]struct{}
}

// NewQueryLedger creates an empty ledger.
func NewQueryLedger() *QueryLedger {
	return &QueryLedger{seen: make(map[string]struct{})}
}

// Next normalizes whitespace, drops blanks and anything already issued, caps
// the batch at limit and records the survivors as issued.
func (l *QueryLedger) Next(candidates []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, c := range candidates {
		if len(out) >= limit {
			break
		}
		q := util.NormalizeSpace(c)
		if q == "" {
			continue
		}
		if _, dup := l.seen[q]; dup {
			continue
		}
		l.seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// Seen reports whether q (after normalization) was already issued.
func (l *QueryLedger) Seen(q string) bool {
	_, ok := l.seen[util.NormalizeSpace(q)]
	return ok
}

// Len returns the number of distinct queries issued.
func (l *QueryLedger) Len() int { return len(l.seen) }

var gapMarkers = []string{"未披露", "缺失", "无法计算", "not disclosed", "missing", "unavailable", "n/a"}

var metricTerms = map[string]string{
	"inventory":             "inventory",
	"cost_of_goods_sold":    "cost of sales",
	"cost_of_sales":         "cost of sales",
	"cost_of_revenue":       "cost of sales",
	"revenue":               "revenue",
	"operating_revenue":     "revenue",
	"accounts_receivable":   "accounts receivable",
	"notes_receivable":      "notes receivable",
	"net_income":            "net income",
	"operating_income":      "operating income",
	"gross_profit":          "gross profit",
	"interest_expense":      "interest expense",
	"operating_cash_flow":   "operating cash flow",
	"cash_and_equivalents":  "cash and cash equivalents",
	"total_assets":          "total assets",
	"total_liabilities":     "total liabilities",
	"current_assets":        "current assets",
	"current_liabilities":   "current liabilities",
	"shareholders_equity":   "shareholders equity",
	"total_equity":          "shareholders equity",
	"ebitda":                "EBITDA",
	"shares_outstanding":    "shares outstanding",
	"short_term_debt":       "short-term borrowings",
	"long_term_debt":        "long-term debt",
	"related_party_balance": "related party transactions",
}

// MetricGapTerms maps undisclosed-metric notes such as
// "balance_sheet.inventory 未披露" or "income_statement.revenue not disclosed"
// to search terms, deduplicated in note order.
func MetricGapTerms(notes []string) []string {
	var terms []string
	for _, note := range notes {
		lower := strings.ToLower(note)
		if !containsAny(lower, gapMarkers) {
			continue
		}
		key := metricKey(lower)
		if key == "" {
			continue
		}
		term, ok := metricTerms[key]
		if !ok {
			term = strings.ReplaceAll(key, "_", " ")
		}
		terms = append(terms, term)
	}
	return util.UniqueTrimmed(terms, 0)
}

// MetricGapQuery builds one search query covering up to three gap terms, or
// "" when nothing is missing.
func MetricGapQuery(company string, notes []string) string {
	terms := MetricGapTerms(notes)
	if len(terms) == 0 {
		return ""
	}
	if len(terms) > 3 {
		terms = terms[:3]
	}
	return util.NormalizeSpace(company + " " + strings.Join(terms, " ") + " disclosure")
}

// metricKey pulls "inventory" out of "balance_sheet.inventory 未披露".
func metricKey(note string) string {
	for _, field := range strings.Fields(note) {
		if end := strings.IndexFunc(field, notKeyRune); end >= 0 {
			field = field[:end]
		}
		if !strings.ContainsAny(field, "._") {
			continue
		}
		field = strings.Trim(field, "._")
		if i := strings.LastIndex(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if field != "" {
			return field
		}
	}
	return ""
}

func notKeyRune(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '.')
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
