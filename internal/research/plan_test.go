package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPlanDecodesNestedPlan(t *testing.T) {
	report := map[string]any{
		"evidence": []any{"revenue up 40% while cash flat"},
		"research_plan": map[string]any{
			"need_autonomous_research": true,
			"minimum_rounds":           1,
			"follow_up_queries":        []any{"  Apple channel stuffing ", "Apple channel stuffing", "", "Apple 10-K revenue recognition"},
			"reason":                   "  receivables outpace revenue  ",
		},
	}

	plan := ExtractPlan(report)
	assert.True(t, plan.NeedAutonomousResearch)
	assert.Equal(t, 1, plan.MinimumRounds)
	assert.Equal(t, []string{"Apple channel stuffing", "Apple 10-K revenue recognition"}, plan.FollowUpQueries)
	assert.Equal(t, "receivables outpace revenue", plan.Reason)
}

func TestExtractPlanClampsMinimumRounds(t *testing.T) {
	for _, raw := range []any{999, 4, 2.9, "999", int64(3)} {
		plan := ExtractPlan(map[string]any{"research_plan": map[string]any{"minimum_rounds": raw}})
		assert.Equal(t, RoleMaxRounds, plan.MinimumRounds, "input %v", raw)
	}
	for _, raw := range []any{-5, "many", nil, map[string]any{}, true} {
		plan := ExtractPlan(map[string]any{"research_plan": map[string]any{"minimum_rounds": raw}})
		assert.GreaterOrEqual(t, plan.MinimumRounds, 0, "input %v", raw)
		assert.LessOrEqual(t, plan.MinimumRounds, RoleMaxRounds, "input %v", raw)
	}
	plan := ExtractPlan(map[string]any{"research_plan": map[string]any{"minimum_rounds": "many"}})
	assert.Equal(t, 0, plan.MinimumRounds)
}

func TestExtractPlanCoercesFlag(t *testing.T) {
	cases := map[string]struct {
		raw  any
		want bool
	}{
		"bool":         {raw: true, want: true},
		"string true":  {raw: "true", want: true},
		"string false": {raw: "false", want: false},
		"garbage":      {raw: "perhaps", want: false},
		"missing":      {raw: nil, want: false},
		"number":       {raw: 1, want: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			plan := ExtractPlan(map[string]any{"research_plan": map[string]any{"need_autonomous_research": tc.raw}})
			assert.Equal(t, tc.want, plan.NeedAutonomousResearch)
		})
	}
}

func TestExtractPlanCapsFollowUps(t *testing.T) {
	queries := []any{"q1", "q2", "q3", "q4", "q5", "q6", "q7", 42}
	plan := ExtractPlan(map[string]any{"research_plan": map[string]any{"follow_up_queries": queries}})
	assert.Len(t, plan.FollowUpQueries, MaxFollowUpQueries)

	plan = ExtractPlan(map[string]any{"research_plan": map[string]any{"follow_up_queries": "not a list"}})
	assert.Empty(t, plan.FollowUpQueries)
}

func TestExtractPlanFallback(t *testing.T) {
	t.Run("empty evidence needs one round", func(t *testing.T) {
		plan := ExtractPlan(map[string]any{"evidence": []any{}})
		assert.True(t, plan.NeedAutonomousResearch)
		assert.Equal(t, 1, plan.MinimumRounds)
		assert.Empty(t, plan.FollowUpQueries)
		assert.Equal(t, FallbackReason, plan.Reason)
	})

	t.Run("evidence present stops", func(t *testing.T) {
		plan := ExtractPlan(map[string]any{"evidence": []any{"note 7"}})
		assert.False(t, plan.NeedAutonomousResearch)
		assert.Equal(t, 0, plan.MinimumRounds)
		assert.Equal(t, FallbackReason, plan.Reason)
	})

	t.Run("non-object plan falls back", func(t *testing.T) {
		plan := ExtractPlan(map[string]any{"research_plan": "yes please", "evidence": []string{"x"}})
		assert.False(t, plan.NeedAutonomousResearch)
		assert.Equal(t, FallbackReason, plan.Reason)
	})

	t.Run("nil report", func(t *testing.T) {
		plan := ExtractPlan(nil)
		assert.True(t, plan.NeedAutonomousResearch)
		assert.Equal(t, 1, plan.MinimumRounds)
	})
}

func TestExtractWorkpaperPlan(t *testing.T) {
	allowed := []string{"company_profile", "industry_comparables", "industry_benchmark_summary", "external_search_summary"}

	t.Run("normalizes targets and clamps", func(t *testing.T) {
		plan := ExtractWorkpaperPlan(map[string]any{
			"need_autonomous_research": true,
			"minimum_rounds":           7,
			"target_fields":            []any{"industry_comparables", "fraud_type_A_block", " industry_comparables ", "company_profile"},
			"follow_up_queries":        []any{"Apple peers gross margin"},
			"reason":                   "peers missing",
		}, allowed)
		assert.True(t, plan.NeedAutonomousResearch)
		assert.Equal(t, WorkpaperHardCap, plan.MinimumRounds)
		assert.Equal(t, []string{"industry_comparables", "company_profile"}, plan.TargetFields)
		assert.Equal(t, []string{"Apple peers gross margin"}, plan.FollowUpQueries)
	})

	t.Run("invalid input stops research", func(t *testing.T) {
		plan := ExtractWorkpaperPlan([]any{"oops"}, allowed)
		assert.False(t, plan.NeedAutonomousResearch)
		assert.Equal(t, 0, plan.MinimumRounds)
		assert.Empty(t, plan.TargetFields)
		assert.Equal(t, InvalidPlanReason, plan.Reason)
	})
}
