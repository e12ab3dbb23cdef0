// Package workpaper models the shared dossier every reviewer reads.
package workpaper

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/forensight/forensight/internal/evidence"
	"github.com/forensight/forensight/internal/search"
)

// Workpaper is everything known about one target entity. Only enrichable
// fields are rewritten after creation, and only before the panel runs.
type Workpaper struct {
	CompanyProfile           string           `json:"company_profile"`
	FinancialSummary         string           `json:"financial_summary"`
	RiskDisclosures          string           `json:"risk_disclosures"`
	MajorEvents              string           `json:"major_events"`
	GovernanceSignals        string           `json:"governance_signals"`
	IndustryComparables      string           `json:"industry_comparables"`
	AnnouncementsSummary     string           `json:"announcements_summary"`
	RelatedPartiesSummary    string           `json:"related_parties_summary"`
	IndustryBenchmarkSummary string           `json:"industry_benchmark_summary"`
	ExternalSearchSummary    string           `json:"external_search_summary"`
	FinancialMetrics         FinancialMetrics `json:"financial_metrics"`
	MetricsNotes             []string         `json:"metrics_notes"`
	ContextPack              ContextPack      `json:"context_pack"`
	ContextCapsule           string           `json:"context_capsule"`
	FraudTypeABlock          string           `json:"fraud_type_A_block"`
	FraudTypeBBlock          string           `json:"fraud_type_B_block"`
	FraudTypeCBlock          string           `json:"fraud_type_C_block"`
	FraudTypeDBlock          string           `json:"fraud_type_D_block"`
	FraudTypeEBlock          string           `json:"fraud_type_E_block"`
	FraudTypeFBlock          string           `json:"fraud_type_F_block"`
	Evidence                 []EvidenceQuote  `json:"evidence,omitempty"`

	// ResearchLog holds the snippets used by the last enrichment fill.
	ResearchLog []search.Result `json:"_react_search,omitempty"`
}

// EvidenceQuote is a verbatim excerpt with its location in the source filing.
type EvidenceQuote struct {
	Quote  string `json:"quote"`
	Source string `json:"source"`
}

// ContextPack is the company background extracted from the filing.
type ContextPack struct {
	CompanyName           string `json:"company_name"`
	BusinessOverview      string `json:"business_overview"`
	Segments              string `json:"segments"`
	Geographies           string `json:"geographies"`
	RevenueMix            string `json:"revenue_mix"`
	MajorProducts         string `json:"major_products"`
	KeyAccountingPolicies string `json:"key_accounting_policies"`
	TopRiskFactors        string `json:"top_risk_factors"`
	GovernanceOverview    string `json:"governance_overview"`
	AuditControls         string `json:"audit_controls"`
}

// Decode reads a workpaper from JSON. Unknown fields are ignored since
// upstream extractors attach their own bookkeeping.
func Decode(r io.Reader) (*Workpaper, error) {
	var wp Workpaper
	if err := json.NewDecoder(r).Decode(&wp); err != nil {
		return nil, fmt.Errorf("decode workpaper: %w", err)
	}
	if wp.ContextCapsule == "" && wp.ContextPack != (ContextPack{}) {
		wp.ContextCapsule = BuildCapsule(wp.ContextPack)
	}
	return &wp, nil
}

// CompanyName resolves the entity name: the profile hint, then the context
// pack, then a placeholder that disables entity filtering.
func (w *Workpaper) CompanyName() string {
	if name := strings.TrimSpace(w.CompanyProfile); name != "" {
		return name
	}
	if name := strings.TrimSpace(w.ContextPack.CompanyName); name != "" {
		return name
	}
	return evidence.PlaceholderCompany
}

// ApplyCompanyHint fills an empty profile with an externally extracted name.
func (w *Workpaper) ApplyCompanyHint(name string) {
	name = strings.TrimSpace(name)
	if name != "" && strings.TrimSpace(w.CompanyProfile) == "" {
		w.CompanyProfile = name
	}
	if name != "" && strings.TrimSpace(w.ContextPack.CompanyName) == "" {
		w.ContextPack.CompanyName = name
	}
}

// Fields returns the workpaper as a field-name keyed map.
func (w *Workpaper) Fields() (map[string]any, error) {
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal workpaper: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal workpaper: %w", err)
	}
	return out, nil
}

// Select returns the named fields in a map; unknown names map to "".
func (w *Workpaper) Select(names []string) (map[string]any, error) {
	all, err := w.Fields()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := all[name]; ok {
			out[name] = v
		} else {
			out[name] = ""
		}
	}
	return out, nil
}

// BuildCapsule flattens a context pack into the digest repeated in prompts.
func BuildCapsule(p ContextPack) string {
	var b strings.Builder
	b.WriteString("Context highlights:\n")
	for _, line := range [][2]string{
		{"Company", p.CompanyName},
		{"Business overview", p.BusinessOverview},
		{"Segments", p.Segments},
		{"Geographies", p.Geographies},
		{"Revenue mix", p.RevenueMix},
		{"Major products/services", p.MajorProducts},
		{"Key accounting policies", p.KeyAccountingPolicies},
		{"Top risk factors", p.TopRiskFactors},
		{"Governance overview", p.GovernanceOverview},
		{"Internal control/audit", p.AuditControls},
	} {
		fmt.Fprintf(&b, "- %s: %s\n", line[0], strings.TrimSpace(line[1]))
	}
	return b.String()
}
