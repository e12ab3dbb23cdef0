package review

import (
	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/workpaper"
)

var stringList = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

var reportSchema = oracle.Schema{
	"type": "object",
	"properties": map[string]any{
		"risk_level":        map[string]any{"type": "string"},
		"risk_points":       stringList,
		"evidence":          stringList,
		"reasoning_summary": map[string]any{"type": "string"},
		"suggestions":       stringList,
		"confidence":        map[string]any{"type": "number"},
		// Left untyped: a malformed plan falls back in research.ExtractPlan.
		"research_plan": map[string]any{
			"description": "need_autonomous_research, minimum_rounds (0-2), follow_up_queries, reason",
		},
	},
	"required": []any{"risk_level", "risk_points", "evidence", "reasoning_summary", "suggestions", "confidence"},
}

var verdictSchema = oracle.Schema{
	"type": "object",
	"properties": map[string]any{
		"overall_risk_level": map[string]any{"type": "string"},
		"accepted_points":    stringList,
		"rejected_points":    stringList,
		"rationale":          map[string]any{"type": "string"},
		"uncertainty":        map[string]any{"type": "string"},
		"suggestions":        stringList,
	},
	"required": []any{"overall_risk_level", "accepted_points", "rejected_points", "rationale", "uncertainty", "suggestions"},
}

// workpaperPlanSchema only describes the plan; research.ExtractWorkpaperPlan
// coerces loose values and drops what it cannot use.
var workpaperPlanSchema = oracle.Schema{
	"type": "object",
	"properties": map[string]any{
		"need_autonomous_research": map[string]any{"description": "boolean"},
		"minimum_rounds":           map[string]any{"description": "integer, 0-2"},
		"target_fields":            map[string]any{"description": "list of field names"},
		"follow_up_queries":        map[string]any{"description": "list of search queries"},
		"reason":                   map[string]any{"description": "string"},
	},
}

// fillSchema requires exactly the named string fields.
func fillSchema(fields []workpaper.EnrichableField) oracle.Schema {
	props := make(map[string]any, len(fields))
	required := make([]any, 0, len(fields))
	for _, f := range fields {
		props[string(f)] = map[string]any{"type": "string"}
		required = append(required, string(f))
	}
	return oracle.Schema{"type": "object", "properties": props, "required": required}
}

// scopedSchema requires every scoped field as a string.
func scopedSchema(fields []workpaper.ScopedField) oracle.Schema {
	props := make(map[string]any, len(fields))
	required := make([]any, 0, len(fields))
	for _, f := range fields {
		props[string(f)] = map[string]any{"type": "string"}
		required = append(required, string(f))
	}
	return oracle.Schema{"type": "object", "properties": props, "required": required}
}
