// Package runs tracks analysis runs from submission to a terminal status.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TimeoutMessage is the error recorded on runs that stopped reporting progress.
const TimeoutMessage = "run timed out"

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunExists   = errors.New("run already exists")
	ErrRunFinished = errors.New("run already finished")
)

// Run is the externally visible record of one analysis.
type Run struct {
	ID           string                     `json:"id"`
	Status       Status                     `json:"status"`
	Meta         map[string]any             `json:"meta,omitempty"`
	StepOutputs  map[string]json.RawMessage `json:"step_outputs"`
	Workpaper    json.RawMessage            `json:"workpaper,omitempty"`
	AgentReports map[string]json.RawMessage `json:"agent_reports"`
	FinalReport  json.RawMessage            `json:"final_report,omitempty"`
	Error        string                     `json:"error,omitempty"`
	StartedAt    time.Time                  `json:"started_at"`
	LastUpdate   time.Time                  `json:"last_update"`
}

// Terminal reports whether the run reached completed or failed.
func (r *Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Clone returns a copy that shares no maps with r. Raw JSON values are
// treated as immutable and shared.
func (r *Run) Clone() *Run {
	c := *r
	c.Meta = maps.Clone(r.Meta)
	c.StepOutputs = maps.Clone(r.StepOutputs)
	c.AgentReports = maps.Clone(r.AgentReports)
	return &c
}

// Store persists runs. Update applies fn atomically with respect to other
// writers of the same run.
type Store interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Update(ctx context.Context, id string, fn func(*Run) error) error
	Delete(ctx context.Context, id string) error
	// Sweep removes runs last updated before cutoff and returns how many went.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}
