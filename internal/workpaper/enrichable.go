package workpaper

// EnrichableField names one of the few fields the completeness loop may rewrite.
type EnrichableField string

const (
	FieldCompanyProfile           EnrichableField = "company_profile"
	FieldIndustryComparables      EnrichableField = "industry_comparables"
	FieldIndustryBenchmarkSummary EnrichableField = "industry_benchmark_summary"
	FieldExternalSearchSummary    EnrichableField = "external_search_summary"
)

var enrichable = []EnrichableField{
	FieldCompanyProfile,
	FieldIndustryComparables,
	FieldIndustryBenchmarkSummary,
	FieldExternalSearchSummary,
}

// EnrichableFields returns the full enrichable universe in canonical order.
func EnrichableFields() []EnrichableField {
	return append([]EnrichableField(nil), enrichable...)
}

// EnrichableNames returns EnrichableFields as plain strings.
func EnrichableNames() []string {
	out := make([]string, len(enrichable))
	for i, f := range enrichable {
		out[i] = string(f)
	}
	return out
}

// ParseEnrichableField maps a name onto the enum.
func ParseEnrichableField(name string) (EnrichableField, bool) {
	for _, f := range enrichable {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}

// Enrichable returns the current value of f.
func (w *Workpaper) Enrichable(f EnrichableField) string {
	switch f {
	case FieldCompanyProfile:
		return w.CompanyProfile
	case FieldIndustryComparables:
		return w.IndustryComparables
	case FieldIndustryBenchmarkSummary:
		return w.IndustryBenchmarkSummary
	case FieldExternalSearchSummary:
		return w.ExternalSearchSummary
	}
	return ""
}

// SetEnrichable overwrites f. Values outside the enum are rejected.
func (w *Workpaper) SetEnrichable(f EnrichableField, value string) bool {
	switch f {
	case FieldCompanyProfile:
		w.CompanyProfile = value
	case FieldIndustryComparables:
		w.IndustryComparables = value
	case FieldIndustryBenchmarkSummary:
		w.IndustryBenchmarkSummary = value
	case FieldExternalSearchSummary:
		w.ExternalSearchSummary = value
	default:
		return false
	}
	return true
}
