// Package review runs the reviewer panel: per-role bounded research loops,
// the workpaper completeness loop and the final adjudication.
package review

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/research"
	"github.com/forensight/forensight/internal/search"
)

// Report is one reviewer's structured finding. Each retry round produces a
// fresh Report that fully replaces the previous one.
type Report struct {
	RiskLevel        string   `json:"risk_level"`
	RiskPoints       []string `json:"risk_points"`
	Evidence         []string `json:"evidence"`
	ReasoningSummary string   `json:"reasoning_summary"`
	Suggestions      []string `json:"suggestions"`
	Confidence       float64  `json:"confidence"`

	ResearchPlan   *research.Plan  `json:"research_plan,omitempty"`
	ExternalSearch []search.Result `json:"_external_search,omitempty"`
	ReactAttempts  int             `json:"_react_attempts"`
}

// Verdict is the adjudicated outcome across every report.
type Verdict struct {
	OverallRiskLevel string   `json:"overall_risk_level"`
	AcceptedPoints   []string `json:"accepted_points"`
	RejectedPoints   []string `json:"rejected_points"`
	Rationale        string   `json:"rationale"`
	Uncertainty      string   `json:"uncertainty"`
	Suggestions      []string `json:"suggestions"`
}

func decodeReport(raw map[string]any) (*Report, error) {
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "research_plan" || strings.HasPrefix(k, "_") {
			continue
		}
		fields[k] = v
	}
	var r Report
	if err := weakDecode(fields, &r); err != nil {
		return nil, &oracle.ParseError{Err: fmt.Errorf("decode report: %w", err)}
	}
	if _, ok := raw["research_plan"].(map[string]any); ok {
		plan := research.ExtractPlan(raw)
		r.ResearchPlan = &plan
	}
	switch {
	case r.Confidence < 0:
		r.Confidence = 0
	case r.Confidence > 1:
		r.Confidence = 1
	}
	return &r, nil
}

func decodeVerdict(raw map[string]any) (*Verdict, error) {
	var v Verdict
	if err := weakDecode(raw, &v); err != nil {
		return nil, &oracle.ParseError{Err: fmt.Errorf("decode verdict: %w", err)}
	}
	return &v, nil
}

func weakDecode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
