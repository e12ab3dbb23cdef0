// Package analysis drives one review run end to end: entity scope
// sanitization, workpaper enrichment, the reviewer panel and adjudication,
// with every stage recorded in the run registry, the optional step log and
// the live event stream.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/db"
	"github.com/forensight/forensight/internal/metrics"
	"github.com/forensight/forensight/internal/review"
	"github.com/forensight/forensight/internal/roles"
	"github.com/forensight/forensight/internal/runs"
	"github.com/forensight/forensight/internal/streaming"
	"github.com/forensight/forensight/internal/tracing"
	"github.com/forensight/forensight/internal/workpaper"
)

// ErrNoWorkpaper is returned when a request carries no workpaper.
var ErrNoWorkpaper = errors.New("workpaper is required")

// Options tunes one run. Zero values take the runner defaults.
type Options struct {
	EnableDefense      *bool  `json:"enable_defense,omitempty"`
	EnableResearch     *bool  `json:"enable_research,omitempty"`
	WorkpaperMaxRounds int    `json:"workpaper_max_rounds,omitempty"`
	MaxConcurrency     int    `json:"max_concurrency,omitempty"`
	AgentMaxRetries    int    `json:"agent_max_retries,omitempty"`
	CompanyHint        string `json:"company_hint,omitempty"`
}

// Request is one analysis submission.
type Request struct {
	Workpaper *workpaper.Workpaper `json:"workpaper"`
	Options   Options              `json:"options"`
}

// Result is the outcome of a completed run.
type Result struct {
	RunID        string                        `json:"run_id"`
	Workpaper    *workpaper.Workpaper          `json:"workpaper"`
	AgentReports map[roles.Role]*review.Report `json:"agent_reports"`
	FinalReport  *review.Verdict               `json:"final_report"`
}

// Defaults holds the runner-wide settings a request may override.
type Defaults struct {
	EnableDefense      bool
	EnableResearch     bool
	WorkpaperMaxRounds int
	MaxConcurrency     int
	AgentMaxRetries    int
}

// StepLog receives every stage payload for durable storage.
type StepLog interface {
	QueueStep(rec *db.StepRecord)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEvents publishes stage events to m.
func WithEvents(m *streaming.Manager) RunnerOption {
	return func(r *Runner) { r.events = m }
}

// WithStepLog persists stage payloads to log.
func WithStepLog(log StepLog) RunnerOption {
	return func(r *Runner) { r.steps = log }
}

// WithSanitizer rewrites entity-scoped workpaper fields before enrichment.
func WithSanitizer(s *review.Sanitizer) RunnerOption {
	return func(r *Runner) { r.sanitizer = s }
}

// WithDefaults replaces the runner defaults.
func WithDefaults(d Defaults) RunnerOption {
	return func(r *Runner) { r.defaults = d }
}

// Runner executes analysis runs synchronously or in the background.
type Runner struct {
	registry  *runs.Registry
	sanitizer *review.Sanitizer
	enricher  *review.Enricher
	panel     *review.Panel
	events    *streaming.Manager
	steps     StepLog
	logger    *zap.Logger

	mu       sync.RWMutex
	defaults Defaults

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner wires the pipeline stages together.
func NewRunner(registry *runs.Registry, enricher *review.Enricher, panel *review.Panel, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		registry: registry,
		enricher: enricher,
		panel:    panel,
		defaults: Defaults{
			EnableDefense:      true,
			EnableResearch:     true,
			WorkpaperMaxRounds: 2,
			MaxConcurrency:     review.DefaultMaxConcurrency,
			AgentMaxRetries:    review.DefaultAgentMaxRetries,
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes req to completion and returns its result.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Workpaper == nil {
		return nil, ErrNoWorkpaper
	}
	id := uuid.NewString()
	if err := r.start(ctx, id, req, "sync"); err != nil {
		return nil, err
	}
	return r.execute(ctx, id, req)
}

// Submit registers a run and executes it in the background. The returned
// ID can be polled through the registry right away.
func (r *Runner) Submit(ctx context.Context, req Request) (string, error) {
	if req.Workpaper == nil {
		return "", ErrNoWorkpaper
	}
	id := uuid.NewString()
	if err := r.start(ctx, id, req, "async"); err != nil {
		return "", err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.execute(r.ctx, id, req); err != nil {
			r.logger.Warn("Background run failed", zap.String("run_id", id), zap.Error(err))
		}
	}()
	return id, nil
}

// Shutdown waits for background runs, cancelling them once ctx is done.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) start(ctx context.Context, id string, req Request, mode string) error {
	metrics.RunsSubmitted.WithLabelValues(mode).Inc()
	meta := map[string]any{
		"mode":    mode,
		"company": req.Workpaper.CompanyName(),
	}
	if _, err := r.registry.Start(ctx, id, meta); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	r.publish(streaming.Event{RunID: id, Type: streaming.EventRunStarted, Message: req.Workpaper.CompanyName()})
	return nil
}

func (r *Runner) execute(ctx context.Context, id string, req Request) (result *Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "analysis.run")
	start := time.Now()
	defer func() { tracing.EndSpan(span, err) }()

	opts := r.resolve(req.Options)
	logger := r.logger.With(zap.String("run_id", id))

	wp := *req.Workpaper
	wp.ApplyCompanyHint(req.Options.CompanyHint)
	if r.sanitizer != nil {
		r.sanitizer.Sanitize(ctx, &wp)
	}

	enriched := r.enricher.Enrich(ctx, &wp, opts.WorkpaperMaxRounds)
	r.record(ctx, id, runs.StepWorkpaper, enriched)
	r.publish(streaming.Event{RunID: id, Type: streaming.EventWorkpaperEnriched, Message: enriched.CompanyName()})

	panelResult, err := r.panel.Run(ctx, enriched, review.PanelOptions{
		EnableDefense:   opts.EnableDefense,
		DisableResearch: !opts.EnableResearch,
		MaxConcurrency:  opts.MaxConcurrency,
		AgentMaxRetries: opts.AgentMaxRetries,
		OnResult: func(role roles.Role, report *review.Report) {
			r.record(ctx, id, runs.AgentStep(string(role)), report)
			r.publish(streaming.Event{
				RunID:   id,
				Type:    streaming.EventAgentCompleted,
				Role:    string(role),
				Message: report.RiskLevel,
			})
		},
	})
	if err != nil {
		r.fail(ctx, id, err)
		return nil, err
	}

	if err := r.registry.Complete(ctx, id, panelResult.Verdict); err != nil {
		if errors.Is(err, runs.ErrRunFinished) {
			// the registry failed the run first, typically a timeout seen by a poller
			err = fmt.Errorf("complete run: %w", err)
			r.fail(ctx, id, err)
			return nil, err
		}
		logger.Warn("Failed to complete run", zap.Error(err))
	}
	r.logStep(id, runs.StepFinal, panelResult.Verdict)
	payload, _ := json.Marshal(panelResult.Verdict)
	r.publish(streaming.Event{
		RunID:   id,
		Type:    streaming.EventRunCompleted,
		Message: panelResult.Verdict.OverallRiskLevel,
		Payload: payload,
	})
	logger.Info("Run completed",
		zap.String("company", enriched.CompanyName()),
		zap.String("risk_level", panelResult.Verdict.OverallRiskLevel),
		zap.Duration("elapsed", time.Since(start)))

	return &Result{
		RunID:        id,
		Workpaper:    enriched,
		AgentReports: panelResult.Reports,
		FinalReport:  panelResult.Verdict,
	}, nil
}

// SetDefaults replaces the defaults for runs started afterwards.
func (r *Runner) SetDefaults(d Defaults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = d
}

func (r *Runner) resolve(o Options) Defaults {
	r.mu.RLock()
	d := r.defaults
	r.mu.RUnlock()
	if o.EnableDefense != nil {
		d.EnableDefense = *o.EnableDefense
	}
	if o.EnableResearch != nil {
		d.EnableResearch = *o.EnableResearch
	}
	if o.WorkpaperMaxRounds > 0 {
		d.WorkpaperMaxRounds = o.WorkpaperMaxRounds
	}
	if o.MaxConcurrency > 0 {
		d.MaxConcurrency = o.MaxConcurrency
	}
	if o.AgentMaxRetries > 0 {
		d.AgentMaxRetries = o.AgentMaxRetries
	}
	return d
}

// record stores a stage payload in the registry and the step log. A run the
// registry already finished (timed out while polled) only logs a warning.
func (r *Runner) record(ctx context.Context, id, step string, payload any) {
	if err := r.registry.RecordStep(ctx, id, step, payload); err != nil {
		r.logger.Warn("Failed to record run step",
			zap.String("run_id", id), zap.String("step", step), zap.Error(err))
	}
	r.logStep(id, step, payload)
}

func (r *Runner) logStep(id, step string, payload any) {
	if r.steps == nil {
		return
	}
	rec, err := db.NewStepRecord(id, step, payload)
	if err != nil {
		r.logger.Warn("Failed to encode run step", zap.String("run_id", id), zap.Error(err))
		return
	}
	r.steps.QueueStep(rec)
}

func (r *Runner) fail(ctx context.Context, id string, cause error) {
	// the run context may be the reason for failing
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.registry.Fail(ctx, id, cause); err != nil && !errors.Is(err, runs.ErrRunFinished) {
		r.logger.Warn("Failed to mark run failed", zap.String("run_id", id), zap.Error(err))
	}
	r.logStep(id, "error", map[string]string{"error": cause.Error()})
	r.publish(streaming.Event{RunID: id, Type: streaming.EventRunFailed, Message: cause.Error()})
	r.logger.Error("Run failed", zap.String("run_id", id), zap.Error(cause))
}

func (r *Runner) publish(evt streaming.Event) {
	if r.events != nil {
		r.events.Publish(evt)
	}
}
