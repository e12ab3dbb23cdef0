package review

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/evidence"
	"github.com/forensight/forensight/internal/metrics"
	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/research"
	"github.com/forensight/forensight/internal/roles"
	"github.com/forensight/forensight/internal/search"
	"github.com/forensight/forensight/internal/tracing"
	"github.com/forensight/forensight/internal/workpaper"
)

const initialSearchResults = 5

// AgentOptions tunes one reviewer run.
type AgentOptions struct {
	EnableResearch bool
	// MaxRetries is the requested retry budget, clamped to [1, AgentHardCap].
	MaxRetries int
	// PeerFindings is appended to the role content; the panel uses it to hand
	// the combined risk points to the defense role.
	PeerFindings string
}

// Reviewer runs one role against a workpaper.
type Reviewer struct {
	oracle        oracle.Oracle
	gateway       search.Gateway
	catalog       *roles.Catalog
	maxInputRunes int
	logger        *zap.Logger
}

// Option configures a Reviewer.
type Option func(*Reviewer)

// WithMaxInputRunes caps the rendered workpaper content per prompt.
func WithMaxInputRunes(n int) Option {
	return func(r *Reviewer) {
		if n > 0 {
			r.maxInputRunes = n
		}
	}
}

// NewReviewer creates a reviewer. A nil gateway disables external search.
func NewReviewer(o oracle.Oracle, g search.Gateway, catalog *roles.Catalog, logger *zap.Logger, opts ...Option) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if g == nil {
		g = search.Disabled{}
	}
	if catalog == nil {
		catalog = roles.MustDefault()
	}
	r := &Reviewer{
		oracle:        o,
		gateway:       g,
		catalog:       catalog,
		maxInputRunes: defaultMaxInputRunes,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CanIterate reports whether retry rounds can run at all.
func (r *Reviewer) CanIterate() bool {
	return r.oracle.SupportsIteration() && search.IsEnabled(r.gateway)
}

// Run produces the final report for role. Oracle failures are returned as-is
// (wrapped with the role name); search failures only shrink the evidence.
func (r *Reviewer) Run(ctx context.Context, role roles.Role, wp *workpaper.Workpaper, opts AgentOptions) (report *Report, err error) {
	def, err := r.catalog.Get(role)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "review.agent", attribute.String("review.role", string(role)))
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ReviewerDuration.WithLabelValues(string(role), status).Observe(time.Since(start).Seconds())
		tracing.EndSpan(span, err)
	}()

	content, err := r.content(role, wp, opts.PeerFindings)
	if err != nil {
		return nil, err
	}
	company := wp.CompanyName()
	prompt := buildReviewPrompt(content, wp.ContextCapsule)

	initial := evidence.FilterByEntity(
		r.gateway.Search(ctx, company+" "+def.QueryFocus, initialSearchResults),
		company,
	)
	prompt = appendDigest(prompt, "External search digest", initial)
	prompt = appendCapsuleReminder(prompt, wp.ContextCapsule)

	raw, err := r.oracle.Generate(oracle.WithPurpose(ctx, "review"), def.SystemPrompt, prompt, reportSchema)
	if err != nil {
		return nil, fmt.Errorf("reviewer %s: %w", role, err)
	}
	report, err = decodeReport(raw)
	if err != nil {
		return nil, fmt.Errorf("reviewer %s: %w", role, err)
	}
	report.ExternalSearch = initial

	if !opts.EnableResearch || !r.CanIterate() {
		return report, nil
	}

	limit := opts.MaxRetries
	if limit < 1 {
		limit = 1
	}
	if limit > research.AgentHardCap {
		limit = research.AgentHardCap
	}
	ledger := research.NewQueryLedger()
	gapQuery := research.MetricGapQuery(company, wp.MetricsNotes)
	requiredMin, attempts := 0, 0

	for {
		plan := research.ExtractPlan(raw)
		requiredMin = max(requiredMin, plan.MinimumRounds)
		if attempts >= limit || (attempts >= requiredMin && !plan.NeedAutonomousResearch) {
			break
		}

		queries := ledger.Next(
			research.RoundCandidates(company, plan.FollowUpQueries, attempts, gapQuery),
			research.MaxRoundQueries,
		)
		results := r.gather(ctx, queries, company)
		r.logger.Debug("Research round",
			zap.String("role", string(role)),
			zap.Int("round", attempts+1),
			zap.Int("required_min", requiredMin),
			zap.Bool("need", plan.NeedAutonomousResearch),
			zap.Strings("queries", queries),
			zap.Int("results", len(results)))

		raw, err = r.oracle.Generate(oracle.WithPurpose(ctx, "research"), def.SystemPrompt,
			buildRetryPrompt(prompt, results, attempts+1), reportSchema)
		if err != nil {
			return nil, fmt.Errorf("reviewer %s round %d: %w", role, attempts+1, err)
		}
		next, err := decodeReport(raw)
		if err != nil {
			return nil, fmt.Errorf("reviewer %s round %d: %w", role, attempts+1, err)
		}
		next.ExternalSearch = results
		report = next
		attempts++
	}

	report.ReactAttempts = attempts
	metrics.ResearchRounds.WithLabelValues(string(role)).Observe(float64(attempts))
	return report, nil
}

func (r *Reviewer) content(role roles.Role, wp *workpaper.Workpaper, peer string) (string, error) {
	fields, err := r.catalog.Fields(role)
	if err != nil {
		return "", err
	}
	var selected map[string]any
	if fields == nil {
		selected, err = wp.Fields()
	} else {
		selected, err = wp.Select(fields)
	}
	if err != nil {
		return "", err
	}
	content, err := renderJSON(selected, r.maxInputRunes)
	if err != nil {
		return "", err
	}
	if peer != "" {
		content += "\n\nRisk points raised by the other reviewers:\n" + peer
	}
	return content, nil
}

// gather searches every query, then dedupes, caps and scopes the union.
func (r *Reviewer) gather(ctx context.Context, queries []string, company string) []search.Result {
	var all []search.Result
	for _, q := range queries {
		all = append(all, r.gateway.Search(ctx, q, initialSearchResults)...)
	}
	return evidence.FilterByEntity(evidence.Dedupe(all, research.MaxRoundResults), company)
}
