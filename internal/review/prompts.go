package review

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forensight/forensight/internal/evidence"
	"github.com/forensight/forensight/internal/search"
	"github.com/forensight/forensight/internal/util"
	"github.com/forensight/forensight/internal/workpaper"
)

const defaultMaxInputRunes = 60000

const reviewConstraints = `Constraints:
1) Take no preset stance. Judge only from the evidence provided.
2) If data is missing, say so explicitly and state why. Do not speculate.
3) Look for signals that corroborate each other. A single anomaly on its own does not justify a high risk level.
4) Every risk point must point to specific evidence.
5) For watch-list items, explain why further verification is needed.
6) Be honest about gaps. Fill research_plan with need_autonomous_research, minimum_rounds (0-2), up to 5 follow_up_queries and a short reason.`

const reviewPreamble = "Produce a structured fraud-risk report from the input below. Cite evidence and do not speculate."

const adjudicatorSystem = "You are the adjudicator. Weigh every reviewer's conclusions and decide the overall fraud risk level."

const workpaperPlanSystem = "You audit workpaper completeness and decide whether further autonomous external research is needed."

const workpaperFillSystem = "You complete missing workpaper fields from external search results."

func buildReviewPrompt(content, capsule string) string {
	var b strings.Builder
	b.WriteString(reviewPreamble)
	b.WriteString("\n\n")
	if capsule != "" {
		fmt.Fprintf(&b, "Context capsule:\n%s\n\n", capsule)
	}
	b.WriteString(reviewConstraints)
	fmt.Fprintf(&b, "\n\nInput:\n%s\n", content)
	return b.String()
}

func appendDigest(prompt, heading string, results []search.Result) string {
	if len(results) == 0 {
		return prompt
	}
	return prompt + "\n\n" + heading + ":\n" + evidence.Format(results)
}

func appendCapsuleReminder(prompt, capsule string) string {
	if capsule == "" {
		return prompt
	}
	return prompt + "\n\nContext reminder:\n" + capsule
}

func buildRetryPrompt(base string, results []search.Result, completed int) string {
	prompt := appendDigest(base, "Supplementary findings", results)
	return prompt + fmt.Sprintf("\n\nCompleted research rounds: %d", completed)
}

func buildWorkpaperPlanPrompt(wpJSON string, completed int) string {
	return fmt.Sprintf(`Judge how complete the workpaper is, then return a research plan.
Requirements:
1) need_autonomous_research: whether to keep researching.
2) minimum_rounds: the minimum number of research rounds you recommend (0-2).
3) target_fields: choose only from %s.
4) follow_up_queries: concrete search queries to run.
5) reason: why.

Completed rounds: %d
Current workpaper:
%s
`, strings.Join(workpaper.EnrichableNames(), ", "), completed, wpJSON)
}

func buildFillPrompt(fields []workpaper.EnrichableField, wpJSON string, results []search.Result) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	digest := evidence.Format(results)
	if digest == "" {
		digest = "No external search results."
	}
	return fmt.Sprintf(`Complete the listed fields from the external search results. Keep each value concise and auditable, and output only the listed fields.
Fields: %s

Current workpaper:
%s

External search digest:
%s`, strings.Join(names, ", "), wpJSON, digest)
}

func buildAdjudicationPrompt(reportsJSON string) string {
	return "Reviewer conclusions:\n" + reportsJSON
}

// renderJSON marshals v and truncates it to maxRunes.
func renderJSON(v any, maxRunes int) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render prompt input: %w", err)
	}
	if maxRunes <= 0 {
		maxRunes = defaultMaxInputRunes
	}
	return util.TruncateRunes(string(raw), maxRunes), nil
}
