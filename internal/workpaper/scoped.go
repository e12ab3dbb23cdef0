package workpaper

// ScopedField names a narrative field that must discuss only the target
// entity. Scope sanitization rewrites these and nothing else.
type ScopedField string

const (
	ScopeIndustryComparables   ScopedField = "industry_comparables"
	ScopeExternalSearchSummary ScopedField = "external_search_summary"
	ScopeFraudTypeA            ScopedField = "fraud_type_A_block"
	ScopeFraudTypeB            ScopedField = "fraud_type_B_block"
	ScopeFraudTypeC            ScopedField = "fraud_type_C_block"
	ScopeFraudTypeD            ScopedField = "fraud_type_D_block"
	ScopeFraudTypeE            ScopedField = "fraud_type_E_block"
	ScopeFraudTypeF            ScopedField = "fraud_type_F_block"
)

var scoped = []ScopedField{
	ScopeIndustryComparables,
	ScopeExternalSearchSummary,
	ScopeFraudTypeA,
	ScopeFraudTypeB,
	ScopeFraudTypeC,
	ScopeFraudTypeD,
	ScopeFraudTypeE,
	ScopeFraudTypeF,
}

// ScopedFields returns every scoped field in canonical order.
func ScopedFields() []ScopedField {
	return append([]ScopedField(nil), scoped...)
}

func (w *Workpaper) scopedRef(f ScopedField) *string {
	switch f {
	case ScopeIndustryComparables:
		return &w.IndustryComparables
	case ScopeExternalSearchSummary:
		return &w.ExternalSearchSummary
	case ScopeFraudTypeA:
		return &w.FraudTypeABlock
	case ScopeFraudTypeB:
		return &w.FraudTypeBBlock
	case ScopeFraudTypeC:
		return &w.FraudTypeCBlock
	case ScopeFraudTypeD:
		return &w.FraudTypeDBlock
	case ScopeFraudTypeE:
		return &w.FraudTypeEBlock
	case ScopeFraudTypeF:
		return &w.FraudTypeFBlock
	}
	return nil
}

// Scoped returns the current value of f.
func (w *Workpaper) Scoped(f ScopedField) string {
	if p := w.scopedRef(f); p != nil {
		return *p
	}
	return ""
}

// SetScoped overwrites f. Values outside the set are rejected.
func (w *Workpaper) SetScoped(f ScopedField, value string) bool {
	p := w.scopedRef(f)
	if p == nil {
		return false
	}
	*p = value
	return true
}
