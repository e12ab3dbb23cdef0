package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/forensight/forensight/internal/db"
	"github.com/forensight/forensight/internal/metrics"
	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/review"
	"github.com/forensight/forensight/internal/roles"
	"github.com/forensight/forensight/internal/runs"
	"github.com/forensight/forensight/internal/search"
	"github.com/forensight/forensight/internal/streaming"
	"github.com/forensight/forensight/internal/workpaper"
)

type memoryStepLog struct {
	mu      sync.Mutex
	recs    []*db.StepRecord
	onQueue func(*db.StepRecord)
}

func (l *memoryStepLog) QueueStep(rec *db.StepRecord) {
	l.mu.Lock()
	l.recs = append(l.recs, rec)
	hook := l.onQueue
	l.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
}

func (f *fixture) runIDs() []string {
	seen := map[string]bool{}
	var ids []string
	f.steps.mu.Lock()
	defer f.steps.mu.Unlock()
	for _, rec := range f.steps.recs {
		if !seen[rec.RunID] {
			seen[rec.RunID] = true
			ids = append(ids, rec.RunID)
		}
	}
	return ids
}

func (l *memoryStepLog) Steps() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.recs))
	for i, rec := range l.recs {
		out[i] = rec.Step
	}
	return out
}

func report(level string) map[string]any {
	return map[string]any{
		"risk_level":        level,
		"risk_points":       []any{"related-party sales lack commercial substance"},
		"evidence":          []any{"note 32 lists five new distributors"},
		"reasoning_summary": "sales to new distributors cluster at year end",
		"suggestions":       []any{"confirm distributor sell-through"},
		"confidence":        0.7,
	}
}

func verdict() map[string]any {
	return map[string]any{
		"overall_risk_level": "high",
		"accepted_points":    []any{"year-end channel stuffing"},
		"rejected_points":    []any{},
		"rationale":          "several reviewers point to the same distributors",
		"uncertainty":        "no sell-through data",
		"suggestions":        []any{"obtain distributor inventory reports"},
	}
}

// panelScript answers every reviewer in panel order, then adjudicates.
func panelScript(defense bool) *oracle.Scripted {
	var responses []map[string]any
	for range roles.PanelRoles {
		responses = append(responses, report("medium"))
	}
	if defense {
		responses = append(responses, report("low"))
	}
	responses = append(responses, verdict())
	return oracle.NewScripted(responses...)
}

type fixture struct {
	runner   *Runner
	registry *runs.Registry
	events   *streaming.Manager
	steps    *memoryStepLog
	oracle   *oracle.Scripted
}

func newFixture(t *testing.T, o *oracle.Scripted) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := runs.NewRegistry(runs.NewMemoryStore(), 0, 0, logger)
	events := streaming.NewManager(64)
	steps := &memoryStepLog{}
	reviewer := review.NewReviewer(o, search.Disabled{}, nil, logger)
	runner := NewRunner(registry,
		review.NewEnricher(o, search.Disabled{}, logger),
		review.NewPanel(reviewer, logger),
		logger,
		WithEvents(events),
		WithStepLog(steps),
	)
	return &fixture{runner: runner, registry: registry, events: events, steps: steps, oracle: o}
}

func testWorkpaper() *workpaper.Workpaper {
	return &workpaper.Workpaper{
		CompanyProfile:   "Acme Holdings Ltd",
		FinancialSummary: "Revenue grew 80% while operating cash flow turned negative.",
		FraudTypeABlock:  "Top five distributors account for 70% of revenue.",
	}
}

func TestRunCompletesAndRecordsEveryStage(t *testing.T) {
	f := newFixture(t, panelScript(true))
	ctx := context.Background()
	submitted := testutil.ToFloat64(metrics.RunsSubmitted.WithLabelValues("sync"))

	result, err := f.runner.Run(ctx, Request{Workpaper: testWorkpaper()})
	require.NoError(t, err)
	require.NotEmpty(t, result.RunID)
	assert.Equal(t, submitted+1, testutil.ToFloat64(metrics.RunsSubmitted.WithLabelValues("sync")))
	assert.Equal(t, "high", result.FinalReport.OverallRiskLevel)
	assert.Len(t, result.AgentReports, len(roles.PanelRoles)+1)
	assert.Equal(t, "low", result.AgentReports[roles.Defense].RiskLevel)
	assert.Zero(t, f.oracle.Remaining())

	run, err := f.registry.Get(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCompleted, run.Status)
	assert.Len(t, run.AgentReports, len(roles.PanelRoles)+1)
	assert.NotEmpty(t, run.Workpaper)
	var final review.Verdict
	require.NoError(t, json.Unmarshal(run.FinalReport, &final))
	assert.Equal(t, []string{"year-end channel stuffing"}, final.AcceptedPoints)

	steps := f.steps.Steps()
	require.Len(t, steps, len(roles.PanelRoles)+3)
	assert.Equal(t, runs.StepWorkpaper, steps[0])
	assert.Equal(t, runs.AgentStep(string(roles.Base)), steps[1])
	assert.Equal(t, runs.AgentStep(string(roles.Defense)), steps[len(steps)-2])
	assert.Equal(t, runs.StepFinal, steps[len(steps)-1])

	evs := f.events.ReplaySince(result.RunID, 0)
	require.Len(t, evs, len(roles.PanelRoles)+4)
	assert.Equal(t, streaming.EventRunStarted, evs[0].Type)
	assert.Equal(t, streaming.EventWorkpaperEnriched, evs[1].Type)
	last := evs[len(evs)-1]
	assert.Equal(t, streaming.EventRunCompleted, last.Type)
	assert.Equal(t, "high", last.Message)
	assert.True(t, last.Terminal())
}

func TestRunFailedByRegistryIsNotReportedComplete(t *testing.T) {
	f := newFixture(t, panelScript(true))
	ctx := context.Background()
	var once sync.Once
	f.steps.onQueue = func(rec *db.StepRecord) {
		if rec.Step == runs.AgentStep(string(roles.Base)) {
			once.Do(func() {
				assert.NoError(t, f.registry.Fail(ctx, rec.RunID, errors.New(runs.TimeoutMessage)))
			})
		}
	}

	result, err := f.runner.Run(ctx, Request{Workpaper: testWorkpaper()})
	require.ErrorIs(t, err, runs.ErrRunFinished)
	assert.Nil(t, result)

	ids := f.runIDs()
	require.Len(t, ids, 1)
	run, err := f.registry.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Equal(t, runs.TimeoutMessage, run.Error)

	evs := f.events.ReplaySince(ids[0], 0)
	require.NotEmpty(t, evs)
	assert.Equal(t, streaming.EventRunFailed, evs[len(evs)-1].Type)
	for _, evt := range evs {
		assert.NotEqual(t, streaming.EventRunCompleted, evt.Type)
	}
	assert.NotContains(t, f.steps.Steps(), runs.StepFinal)
}

func TestRunSanitizesScopeBeforePanel(t *testing.T) {
	responses := []map[string]any{{
		"industry_comparables": "Not disclosed",
		"fraud_type_A_block":   "Acme Holdings: top five distributors are 70% of revenue.",
	}}
	for range roles.PanelRoles {
		responses = append(responses, report("medium"))
	}
	responses = append(responses, report("low"), verdict())
	o := oracle.NewIterativeScripted(responses...)

	logger := zaptest.NewLogger(t)
	registry := runs.NewRegistry(runs.NewMemoryStore(), 0, 0, logger)
	runner := NewRunner(registry,
		review.NewEnricher(o, search.Disabled{}, logger),
		review.NewPanel(review.NewReviewer(o, search.Disabled{}, nil, logger), logger),
		logger,
		WithSanitizer(review.NewSanitizer(o, logger)),
	)

	wp := testWorkpaper()
	wp.IndustryComparables = "Starbucks faced similar distributor issues."
	result, err := runner.Run(context.Background(), Request{Workpaper: wp})
	require.NoError(t, err)
	assert.Zero(t, o.Remaining())

	assert.Equal(t, "Not disclosed", result.Workpaper.IndustryComparables)
	assert.Equal(t, "Acme Holdings: top five distributors are 70% of revenue.", result.Workpaper.FraudTypeABlock)
	assert.Equal(t, "Starbucks faced similar distributor issues.", wp.IndustryComparables)

	calls := o.Calls()
	assert.Contains(t, calls[0].User, "Target company: Acme Holdings Ltd")
	for _, c := range calls[1:] {
		assert.NotContains(t, c.User, "Starbucks")
	}
}

func TestRunWithoutDefense(t *testing.T) {
	f := newFixture(t, panelScript(false))
	off := false

	result, err := f.runner.Run(context.Background(), Request{
		Workpaper: testWorkpaper(),
		Options:   Options{EnableDefense: &off},
	})
	require.NoError(t, err)
	assert.Len(t, result.AgentReports, len(roles.PanelRoles))
	assert.NotContains(t, result.AgentReports, roles.Defense)
	assert.Zero(t, f.oracle.Remaining())
}

func TestRunFailureMarksRunFailed(t *testing.T) {
	f := newFixture(t, oracle.NewScripted(report("medium"), report("high")))
	ctx := context.Background()

	_, err := f.runner.Run(ctx, Request{Workpaper: testWorkpaper()})
	require.ErrorIs(t, err, oracle.ErrScriptExhausted)

	evs := f.events.ReplaySince(evsRunID(t, f), 0)
	last := evs[len(evs)-1]
	assert.Equal(t, streaming.EventRunFailed, last.Type)

	run, err := f.registry.Get(ctx, last.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Contains(t, run.Error, oracle.ErrScriptExhausted.Error())
	assert.Contains(t, f.steps.Steps(), "error")
}

// evsRunID returns the only run ID the fixture has seen, via the step log.
func evsRunID(t *testing.T, f *fixture) string {
	t.Helper()
	f.steps.mu.Lock()
	defer f.steps.mu.Unlock()
	require.NotEmpty(t, f.steps.recs)
	return f.steps.recs[0].RunID
}

func TestSubmitRunsInBackground(t *testing.T) {
	f := newFixture(t, panelScript(true))
	ctx := context.Background()

	id, err := f.runner.Submit(ctx, Request{Workpaper: testWorkpaper()})
	require.NoError(t, err)

	run, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "async", run.Meta["mode"])

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.runner.Shutdown(shutdownCtx))

	run, err = f.registry.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCompleted, run.Status)
	assert.NotEmpty(t, run.FinalReport)
}

func TestCompanyHintFillsEmptyProfile(t *testing.T) {
	f := newFixture(t, panelScript(true))
	wp := testWorkpaper()
	wp.CompanyProfile = ""

	result, err := f.runner.Run(context.Background(), Request{
		Workpaper: wp,
		Options:   Options{CompanyHint: "Beta Industrial Co"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Beta Industrial Co", result.Workpaper.CompanyProfile)
	assert.Empty(t, wp.CompanyProfile, "caller's workpaper must not be modified")
	assert.Contains(t, f.oracle.Calls()[0].User, "Beta Industrial Co")
}

func TestRejectsMissingWorkpaper(t *testing.T) {
	f := newFixture(t, panelScript(true))
	_, err := f.runner.Run(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoWorkpaper)
	_, err = f.runner.Submit(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoWorkpaper)
}

func TestSetDefaultsAppliesToLaterRuns(t *testing.T) {
	f := newFixture(t, panelScript(false))
	f.runner.SetDefaults(Defaults{EnableDefense: false, WorkpaperMaxRounds: 1, MaxConcurrency: 2, AgentMaxRetries: 1})

	result, err := f.runner.Run(context.Background(), Request{Workpaper: testWorkpaper()})
	require.NoError(t, err)
	assert.NotContains(t, result.AgentReports, roles.Defense)
}
