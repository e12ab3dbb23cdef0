package review

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/forensight/forensight/internal/metrics"
	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/roles"
	"github.com/forensight/forensight/internal/tracing"
	"github.com/forensight/forensight/internal/workpaper"
)

const (
	DefaultMaxConcurrency  = 4
	maxPanelConcurrency    = 16
	DefaultAgentMaxRetries = 4
)

// PanelOptions tunes one panel run.
type PanelOptions struct {
	EnableDefense bool
	// DisableResearch skips every reviewer's retry rounds.
	DisableResearch bool
	MaxConcurrency  int
	AgentMaxRetries int
	// OnResult is called once per finished reviewer. Calls are serialized.
	OnResult func(role roles.Role, report *Report)
}

// PanelResult holds every reviewer report and the adjudicated verdict.
type PanelResult struct {
	Reports map[roles.Role]*Report `json:"reports"`
	Verdict *Verdict               `json:"verdict"`
}

// Panel coordinates the reviewer roles over one shared workpaper.
type Panel struct {
	reviewer *Reviewer
	logger   *zap.Logger
}

// NewPanel creates a panel around reviewer; adjudication uses the same oracle.
func NewPanel(reviewer *Reviewer, logger *zap.Logger) *Panel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Panel{reviewer: reviewer, logger: logger}
}

// Concurrency returns the effective worker count for requested.
func (p *Panel) Concurrency(requested int) int {
	if !p.reviewer.oracle.SupportsIteration() {
		return 1
	}
	if requested <= 0 {
		return DefaultMaxConcurrency
	}
	return min(requested, maxPanelConcurrency)
}

// Run reviews wp with every panel role, then defense if enabled, then
// adjudicates. The first reviewer failure cancels the rest and is returned.
func (p *Panel) Run(ctx context.Context, wp *workpaper.Workpaper, opts PanelOptions) (result *PanelResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "review.panel")
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.PanelDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		tracing.EndSpan(span, err)
	}()

	retries := opts.AgentMaxRetries
	if retries <= 0 {
		retries = DefaultAgentMaxRetries
	}
	agentOpts := AgentOptions{EnableResearch: !opts.DisableResearch, MaxRetries: retries}

	var mu sync.Mutex
	reports := make(map[roles.Role]*Report, len(roles.PanelRoles)+1)
	record := func(role roles.Role, report *Report) {
		mu.Lock()
		defer mu.Unlock()
		reports[role] = report
		if opts.OnResult != nil {
			opts.OnResult(role, report)
		}
	}

	workers := p.Concurrency(opts.MaxConcurrency)
	p.logger.Info("Starting review panel",
		zap.String("company", wp.CompanyName()),
		zap.Int("concurrency", workers),
		zap.Bool("defense", opts.EnableDefense))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, role := range roles.PanelRoles {
		g.Go(func() error {
			report, err := p.reviewer.Run(gctx, role, wp, agentOpts)
			if err != nil {
				p.logger.Error("Reviewer failed", zap.String("role", string(role)), zap.Error(err))
				return err
			}
			record(role, report)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if opts.EnableDefense {
		defenseOpts := agentOpts
		defenseOpts.PeerFindings = combinedRiskPoints(reports)
		report, err := p.reviewer.Run(ctx, roles.Defense, wp, defenseOpts)
		if err != nil {
			return nil, err
		}
		record(roles.Defense, report)
	}

	verdict, err := p.adjudicate(ctx, reports)
	if err != nil {
		return nil, err
	}
	return &PanelResult{Reports: reports, Verdict: verdict}, nil
}

func (p *Panel) adjudicate(ctx context.Context, reports map[roles.Role]*Report) (*Verdict, error) {
	payload, err := renderJSON(reports, p.reviewer.maxInputRunes)
	if err != nil {
		return nil, err
	}
	raw, err := p.reviewer.oracle.Generate(oracle.WithPurpose(ctx, "adjudicate"), adjudicatorSystem,
		buildAdjudicationPrompt(payload), verdictSchema)
	if err != nil {
		return nil, fmt.Errorf("adjudication: %w", err)
	}
	return decodeVerdict(raw)
}

// combinedRiskPoints lists every risk point tagged with its role, in role order.
func combinedRiskPoints(reports map[roles.Role]*Report) string {
	names := make([]string, 0, len(reports))
	for role := range reports {
		names = append(names, string(role))
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		for _, point := range reports[roles.Role(name)].RiskPoints {
			fmt.Fprintf(&b, "- [%s] %s\n", name, point)
		}
	}
	if b.Len() == 0 {
		return "- (none)"
	}
	return strings.TrimRight(b.String(), "\n")
}
