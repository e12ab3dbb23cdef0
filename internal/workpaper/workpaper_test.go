package workpaper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensight/forensight/internal/evidence"
)

const sampleJSON = `{
  "company_profile": "Apple Inc.",
  "financial_summary": "Net sales grew 2%.",
  "industry_comparables": "",
  "financial_metrics": {
    "profitability": {"gross_margin": 0.44, "roe": null},
    "efficiency": {"inventory_turnover": 12.0}
  },
  "metrics_notes": ["balance_sheet.inventory 未披露"],
  "context_pack": {"company_name": "Apple Inc.", "business_overview": "Consumer electronics"},
  "fraud_type_A_block": "No fictitious revenue indicators.",
  "upstream_trace_id": "abc"
}`

func TestDecode(t *testing.T) {
	wp, err := Decode(strings.NewReader(sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, "Apple Inc.", wp.CompanyName())
	require.NotNil(t, wp.FinancialMetrics.Profitability.GrossMargin)
	assert.InDelta(t, 0.44, *wp.FinancialMetrics.Profitability.GrossMargin, 1e-9)
	assert.Nil(t, wp.FinancialMetrics.Profitability.ROE)
	assert.Equal(t, 2, wp.FinancialMetrics.Available())
	assert.Contains(t, wp.ContextCapsule, "- Company: Apple Inc.")
	assert.Contains(t, wp.ContextCapsule, "- Business overview: Consumer electronics")

	_, err = Decode(strings.NewReader("{"))
	assert.Error(t, err)
}

func TestCompanyNameResolution(t *testing.T) {
	wp := &Workpaper{}
	assert.Equal(t, evidence.PlaceholderCompany, wp.CompanyName())

	wp.ContextPack.CompanyName = " Starbucks Corporation "
	assert.Equal(t, "Starbucks Corporation", wp.CompanyName())

	wp.CompanyProfile = "Starbucks"
	assert.Equal(t, "Starbucks", wp.CompanyName())
}

func TestApplyCompanyHint(t *testing.T) {
	wp := &Workpaper{}
	wp.ApplyCompanyHint("Apple Inc.")
	assert.Equal(t, "Apple Inc.", wp.CompanyProfile)
	assert.Equal(t, "Apple Inc.", wp.ContextPack.CompanyName)

	wp.ApplyCompanyHint("Other")
	assert.Equal(t, "Apple Inc.", wp.CompanyProfile)
}

func TestSelect(t *testing.T) {
	wp, err := Decode(strings.NewReader(sampleJSON))
	require.NoError(t, err)

	got, err := wp.Select([]string{"fraud_type_A_block", "financial_metrics", "metrics_notes", "nope"})
	require.NoError(t, err)
	assert.Equal(t, "No fictitious revenue indicators.", got["fraud_type_A_block"])
	assert.Equal(t, []any{"balance_sheet.inventory 未披露"}, got["metrics_notes"])
	assert.Contains(t, got["financial_metrics"], "efficiency")
	assert.Equal(t, "", got["nope"])
	assert.Len(t, got, 4)
}

func TestEnrichableFields(t *testing.T) {
	assert.Equal(t, []string{"company_profile", "industry_comparables", "industry_benchmark_summary", "external_search_summary"}, EnrichableNames())

	wp := &Workpaper{FraudTypeABlock: "audited"}
	for _, f := range EnrichableFields() {
		assert.True(t, wp.SetEnrichable(f, "new "+string(f)))
		assert.Equal(t, "new "+string(f), wp.Enrichable(f))
	}

	assert.False(t, wp.SetEnrichable(EnrichableField("fraud_type_A_block"), "overwritten"))
	assert.Equal(t, "audited", wp.FraudTypeABlock)

	f, ok := ParseEnrichableField("industry_comparables")
	assert.True(t, ok)
	assert.Equal(t, FieldIndustryComparables, f)
	_, ok = ParseEnrichableField("financial_summary")
	assert.False(t, ok)
}

func TestScopedFields(t *testing.T) {
	wp := &Workpaper{FinancialSummary: "untouched"}
	fields := ScopedFields()
	require.Len(t, fields, 8)

	all, err := wp.Fields()
	require.NoError(t, err)
	for _, f := range fields {
		assert.Contains(t, all, string(f), "scoped field %s must be a workpaper field", f)
		assert.True(t, wp.SetScoped(f, "only "+string(f)))
		assert.Equal(t, "only "+string(f), wp.Scoped(f))
	}
	assert.Equal(t, "only fraud_type_C_block", wp.FraudTypeCBlock)
	assert.Equal(t, "only external_search_summary", wp.ExternalSearchSummary)

	assert.False(t, wp.SetScoped("financial_summary", "rewritten"))
	assert.Empty(t, wp.Scoped("financial_summary"))
	assert.Equal(t, "untouched", wp.FinancialSummary)
}
