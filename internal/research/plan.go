// Package research turns an oracle's self-assessment into a bounded,
// normalized decision about further autonomous research.
package research

import (
	"strings"

	"github.com/spf13/cast"

	"github.com/forensight/forensight/internal/util"
)

const (
	// RoleMaxRounds bounds the minimum number of rounds a reviewer may demand.
	RoleMaxRounds = 2
	// AgentHardCap bounds retry rounds per reviewer run.
	AgentHardCap = 4
	// WorkpaperHardCap bounds completeness rounds and the minimum a workpaper plan may demand.
	WorkpaperHardCap = 2

	MaxFollowUpQueries = 5
	MaxRoundQueries    = 6
	MaxRoundResults    = 8

	FallbackReason    = "fallback:no_research_plan"
	InvalidPlanReason = "invalid_plan"

	planField = "research_plan"
)

// Plan is a normalized research decision. Reason is for audit only.
type Plan struct {
	NeedAutonomousResearch bool     `json:"need_autonomous_research"`
	MinimumRounds          int      `json:"minimum_rounds"`
	FollowUpQueries        []string `json:"follow_up_queries"`
	Reason                 string   `json:"reason"`
}

// WorkpaperPlan is a Plan scoped to a restricted set of rewritable fields.
type WorkpaperPlan struct {
	Plan
	TargetFields []string `json:"target_fields"`
}

// ExtractPlan reads the research_plan object nested in a raw reviewer report.
// Reports without one get the evidence heuristic: no evidence means one more
// round is needed. It never fails.
func ExtractPlan(report map[string]any) Plan {
	if nested, ok := report[planField].(map[string]any); ok {
		return decodePlan(nested, RoleMaxRounds)
	}
	need := isEmptyList(report["evidence"])
	plan := Plan{
		NeedAutonomousResearch: need,
		FollowUpQueries:        []string{},
		Reason:                 FallbackReason,
	}
	if need {
		plan.MinimumRounds = 1
	}
	return plan
}

// ExtractWorkpaperPlan normalizes a raw workpaper-level plan. Target fields
// outside allowed are dropped. Anything that is not an object yields a plan
// that stops research.
func ExtractWorkpaperPlan(raw any, allowed []string) WorkpaperPlan {
	obj, ok := raw.(map[string]any)
	if !ok {
		return WorkpaperPlan{
			Plan:         Plan{FollowUpQueries: []string{}, Reason: InvalidPlanReason},
			TargetFields: []string{},
		}
	}
	return WorkpaperPlan{
		Plan:         decodePlan(obj, WorkpaperHardCap),
		TargetFields: normalizeTargets(obj["target_fields"], allowed),
	}
}

func decodePlan(obj map[string]any, maxRounds int) Plan {
	return Plan{
		NeedAutonomousResearch: toBool(obj["need_autonomous_research"]),
		MinimumRounds:          ClampRounds(toInt(obj["minimum_rounds"]), maxRounds),
		FollowUpQueries:        util.UniqueTrimmed(toStrings(obj["follow_up_queries"]), MaxFollowUpQueries),
		Reason:                 trimmed(obj["reason"]),
	}
}

// ClampRounds bounds n into [0, max].
func ClampRounds(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

func toBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false
	}
	return b
}

func toInt(v any) int {
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0
	}
	return n
}

func toStrings(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, err := cast.ToStringE(item); err == nil {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func trimmed(v any) string {
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func normalizeTargets(v any, allowed []string) []string {
	out := []string{}
	for _, field := range util.UniqueTrimmed(toStrings(v), 0) {
		for _, a := range allowed {
			if field == a {
				out = append(out, field)
				break
			}
		}
	}
	return out
}

func isEmptyList(v any) bool {
	switch items := v.(type) {
	case nil:
		return true
	case []any:
		return len(items) == 0
	case []string:
		return len(items) == 0
	default:
		return true
	}
}
