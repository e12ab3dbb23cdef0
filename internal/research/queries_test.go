package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardrailQueryRoundRobin(t *testing.T) {
	seen := map[string]int{}
	prev := ""
	for round := 0; round < 6; round++ {
		q := GuardrailQuery("Apple Inc.", round)
		assert.Contains(t, q, "Apple Inc.")
		assert.NotEqual(t, prev, q, "round %d repeats previous guardrail", round)
		seen[q]++
		prev = q
	}
	assert.Len(t, seen, len(guardrailTemplates))
	assert.Equal(t, GuardrailQuery("Apple", 0), GuardrailQuery("Apple", -1))
}

func TestQueryLedgerNext(t *testing.T) {
	ledger := NewQueryLedger()

	first := ledger.Next([]string{"Apple  revenue", "Apple revenue", "", "Apple\tinventory"}, MaxRoundQueries)
	assert.Equal(t, []string{"Apple revenue", "Apple inventory"}, first)

	second := ledger.Next([]string{"Apple revenue", "Apple auditor change"}, MaxRoundQueries)
	assert.Equal(t, []string{"Apple auditor change"}, second)
	assert.True(t, ledger.Seen(" Apple   inventory "))
	assert.Equal(t, 3, ledger.Len())
}

func TestQueryLedgerCap(t *testing.T) {
	ledger := NewQueryLedger()
	candidates := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	assert.Len(t, ledger.Next(candidates, MaxRoundQueries), MaxRoundQueries)
	// Capped-out candidates were never issued and remain available.
	assert.Equal(t, []string{"g", "h"}, ledger.Next(candidates, MaxRoundQueries))
}

func TestRoundCandidatesOrder(t *testing.T) {
	got := RoundCandidates("Apple", []string{"Apple peers"}, 1, "Apple inventory disclosure")
	assert.Equal(t, []string{"Apple peers", GuardrailQuery("Apple", 1), "Apple inventory disclosure"}, got)
}

func TestMetricGapTerms(t *testing.T) {
	notes := []string{
		"income_statement.cost_of_goods_sold 未披露",
		"balance_sheet.inventory 未披露",
		"balance_sheet.inventory not disclosed",
		"cash_flow.operating_cash_flow missing",
		"valuation.pe_ratio 无法计算",
		"profitability computed from audited statements",
		"balance_sheet.accounts_receivable未披露",
	}
	assert.Equal(t,
		[]string{"cost of sales", "inventory", "operating cash flow", "pe ratio", "accounts receivable"},
		MetricGapTerms(notes))
	assert.Empty(t, MetricGapTerms([]string{"all metrics disclosed"}))
}

func TestMetricGapQuery(t *testing.T) {
	q := MetricGapQuery("Apple Inc.", []string{
		"income_statement.cost_of_goods_sold 未披露",
		"balance_sheet.inventory 未披露",
	})
	assert.Equal(t, "Apple Inc. cost of sales inventory disclosure", q)
	assert.Empty(t, MetricGapQuery("Apple Inc.", nil))
}
