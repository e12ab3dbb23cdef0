package review

import (
	"context"
	"time"

	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/evidence"
	"github.com/forensight/forensight/internal/metrics"
	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/research"
	"github.com/forensight/forensight/internal/search"
	"github.com/forensight/forensight/internal/tracing"
	"github.com/forensight/forensight/internal/workpaper"
)

// Enricher fills gaps in the enrichable workpaper fields before the panel
// runs. It is best-effort: failures end enrichment and are only logged.
type Enricher struct {
	oracle        oracle.Oracle
	gateway       search.Gateway
	maxInputRunes int
	logger        *zap.Logger
}

// NewEnricher creates an enricher. A nil gateway disables enrichment.
func NewEnricher(o oracle.Oracle, g search.Gateway, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if g == nil {
		g = search.Disabled{}
	}
	return &Enricher{oracle: o, gateway: g, maxInputRunes: defaultMaxInputRunes, logger: logger}
}

// Enrich rewrites the targeted fields of wp in place from external evidence
// and returns wp. Callers that need the original keep their own copy.
func (e *Enricher) Enrich(ctx context.Context, wp *workpaper.Workpaper, maxRounds int) *workpaper.Workpaper {
	if wp == nil || !search.IsEnabled(e.gateway) || !e.oracle.SupportsIteration() {
		return wp
	}
	ctx, span := tracing.StartSpan(ctx, "review.enrich")
	defer span.End()
	start := time.Now()

	limit := max(research.ClampRounds(maxRounds, research.WorkpaperHardCap), 1)
	company := wp.CompanyName()
	allowed := workpaper.EnrichableNames()
	ledger := research.NewQueryLedger()
	requiredMin, attempts := 0, 0

	for attempts < limit {
		wpJSON, err := renderJSON(wp, e.maxInputRunes)
		if err != nil {
			e.logger.Warn("Workpaper enrichment stopped", zap.Error(err))
			break
		}
		raw, err := e.oracle.Generate(oracle.WithPurpose(ctx, "enrich_plan"), workpaperPlanSystem,
			buildWorkpaperPlanPrompt(wpJSON, attempts), workpaperPlanSchema)
		if err != nil {
			e.logger.Warn("Workpaper research plan failed", zap.Int("round", attempts+1), zap.Error(err))
			break
		}
		plan := research.ExtractWorkpaperPlan(raw, allowed)
		requiredMin = max(requiredMin, plan.MinimumRounds)
		if !plan.NeedAutonomousResearch && attempts >= requiredMin {
			break
		}

		targets := enrichTargets(plan)
		queries := ledger.Next(
			research.RoundCandidates(company, plan.FollowUpQueries, attempts),
			research.MaxRoundQueries,
		)
		var results []search.Result
		for _, q := range queries {
			results = append(results, e.gateway.Search(ctx, q, initialSearchResults)...)
		}
		results = evidence.FilterByEntity(results, company)
		if len(results) == 0 {
			e.logger.Info("Workpaper enrichment found no evidence",
				zap.Int("round", attempts+1), zap.Strings("queries", queries))
			break
		}

		if len(targets) > 0 {
			filled, err := e.oracle.Generate(oracle.WithPurpose(ctx, "enrich_fill"), workpaperFillSystem,
				buildFillPrompt(targets, wpJSON, results), fillSchema(targets))
			if err != nil {
				e.logger.Warn("Workpaper fill failed", zap.Int("round", attempts+1), zap.Error(err))
				break
			}
			for _, f := range targets {
				v, ok := filled[string(f)]
				if !ok {
					continue
				}
				if wp.SetEnrichable(f, cast.ToString(v)) {
					metrics.EnrichedFields.WithLabelValues(string(f)).Inc()
				}
			}
			wp.ResearchLog = results
		}
		attempts++
	}

	span.SetAttributes(attribute.Int("enrich.rounds", attempts))
	metrics.EnrichmentRounds.Observe(float64(attempts))
	e.logger.Info("Workpaper enrichment finished", zap.Int("rounds", attempts), zap.Duration("elapsed", time.Since(start)))
	return wp
}

// enrichTargets maps plan targets onto the enum; an empty list under a
// positive research decision means every enrichable field.
func enrichTargets(plan research.WorkpaperPlan) []workpaper.EnrichableField {
	if len(plan.TargetFields) == 0 {
		if plan.NeedAutonomousResearch {
			return workpaper.EnrichableFields()
		}
		return nil
	}
	out := make([]workpaper.EnrichableField, 0, len(plan.TargetFields))
	for _, name := range plan.TargetFields {
		if f, ok := workpaper.ParseEnrichableField(name); ok {
			out = append(out, f)
		}
	}
	return out
}
