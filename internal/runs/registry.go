package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/metrics"
)

const (
	DefaultTimeout = 300 * time.Second
	DefaultTTL     = time.Hour

	// StepWorkpaper and StepFinal are the reserved step names; agent steps
	// are AgentStep(role).
	StepWorkpaper = "workpaper"
	StepFinal     = "final_report"
	agentPrefix   = "agent:"
)

// AgentStep names the step recorded when a reviewer finishes.
func AgentStep(role string) string { return agentPrefix + role }

// Registry implements the run lifecycle over a Store: created at submission,
// updated per stage, failed on staleness when polled and dropped after the TTL.
type Registry struct {
	store   Store
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewRegistry creates a registry. Zero durations take the defaults.
func NewRegistry(store Store, timeout, ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{store: store, timeout: timeout, ttl: ttl, now: time.Now, logger: logger}
}

// Start records a new running run.
func (r *Registry) Start(ctx context.Context, id string, meta map[string]any) (*Run, error) {
	now := r.now()
	run := &Run{
		ID:           id,
		Status:       StatusRunning,
		Meta:         meta,
		StepOutputs:  map[string]json.RawMessage{},
		AgentReports: map[string]json.RawMessage{},
		StartedAt:    now,
		LastUpdate:   now,
	}
	if err := r.store.Create(ctx, run); err != nil {
		return nil, err
	}
	metrics.RunsActive.Inc()
	return run, nil
}

// RecordStep merges one stage output into the run. The workpaper and agent
// steps are also mirrored into their dedicated fields.
func (r *Registry) RecordStep(ctx context.Context, id, step string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal step %s: %w", step, err)
	}
	return r.store.Update(ctx, id, func(run *Run) error {
		if run.Terminal() {
			return ErrRunFinished
		}
		if run.StepOutputs == nil {
			run.StepOutputs = map[string]json.RawMessage{}
		}
		run.StepOutputs[step] = raw
		switch {
		case step == StepWorkpaper:
			run.Workpaper = raw
		case strings.HasPrefix(step, agentPrefix):
			if run.AgentReports == nil {
				run.AgentReports = map[string]json.RawMessage{}
			}
			run.AgentReports[strings.TrimPrefix(step, agentPrefix)] = raw
		}
		run.LastUpdate = r.now()
		return nil
	})
}

// Complete marks the run completed with its final report.
func (r *Registry) Complete(ctx context.Context, id string, final any) error {
	raw, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("marshal final report: %w", err)
	}
	return r.finish(ctx, id, func(run *Run) {
		run.Status = StatusCompleted
		run.FinalReport = raw
		run.StepOutputs[StepFinal] = raw
	})
}

// Fail marks the run failed with cause's message.
func (r *Registry) Fail(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return r.finish(ctx, id, func(run *Run) {
		run.Status = StatusFailed
		run.Error = msg
	})
}

func (r *Registry) finish(ctx context.Context, id string, apply func(*Run)) error {
	var started time.Time
	var status Status
	err := r.store.Update(ctx, id, func(run *Run) error {
		if run.Terminal() {
			return ErrRunFinished
		}
		if run.StepOutputs == nil {
			run.StepOutputs = map[string]json.RawMessage{}
		}
		apply(run)
		run.LastUpdate = r.now()
		started, status = run.StartedAt, run.Status
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RunsActive.Dec()
	metrics.RecordRunFinished(string(status), r.now().Sub(started).Seconds())
	return nil
}

// Get returns the run, first failing it if it has been running without an
// update for longer than the timeout.
func (r *Registry) Get(ctx context.Context, id string) (*Run, error) {
	run, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusRunning || r.now().Sub(run.LastUpdate) <= r.timeout {
		return run, nil
	}

	err = r.Fail(ctx, id, errors.New(TimeoutMessage))
	switch {
	case err == nil:
		r.logger.Warn("Run timed out", zap.String("run_id", id), zap.Time("last_update", run.LastUpdate))
	case errors.Is(err, ErrRunFinished):
		// A concurrent writer finished it first.
	default:
		return nil, err
	}
	return r.store.Get(ctx, id)
}

// Sweep drops runs idle for longer than the TTL.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	return r.store.Sweep(ctx, r.now().Add(-r.ttl))
}

// Janitor sweeps every interval until ctx is done.
func (r *Registry) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Warn("Run sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Debug("Swept expired runs", zap.Int("count", n))
			}
		}
	}
}
