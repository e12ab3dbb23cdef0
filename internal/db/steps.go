package db

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS run_steps (
		id         TEXT PRIMARY KEY,
		run_id     TEXT NOT NULL,
		step       TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps (run_id, created_at)`,
}

// JSONB is a raw JSON column stored as text.
type JSONB json.RawMessage

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return "null", nil
	}
	return string(j), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(JSONB(nil), v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return nil
}

// MarshalJSON keeps the payload verbatim in API output.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

// StepRecord is one persisted stage output of a run.
type StepRecord struct {
	ID        uuid.UUID `db:"id" json:"id"`
	RunID     string    `db:"run_id" json:"run_id"`
	Step      string    `db:"step" json:"step"`
	Payload   JSONB     `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewStepRecord marshals payload into a record stamped now.
func NewStepRecord(runID, step string, payload any) (*StepRecord, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal step %s: %w", step, err)
	}
	return &StepRecord{ID: uuid.New(), RunID: runID, Step: step, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}

// EnsureSchema creates the run_steps table if needed.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := c.exec(ctx, func() error {
			_, err := c.db.ExecContext(ctx, stmt)
			return err
		}); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveStep inserts rec.
func (c *Client) SaveStep(ctx context.Context, rec *StepRecord) error {
	if rec == nil {
		return nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return c.exec(ctx, func() error {
		_, err := c.db.NamedExecContext(ctx, `
			INSERT INTO run_steps (id, run_id, step, payload, created_at)
			VALUES (:id, :run_id, :step, :payload, :created_at)`, rec)
		return err
	})
}

// ListSteps returns a run's steps in write order.
func (c *Client) ListSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	var out []StepRecord
	err := c.exec(ctx, func() error {
		return c.db.SelectContext(ctx, &out, c.db.Rebind(`
			SELECT id, run_id, step, payload, created_at
			FROM run_steps WHERE run_id = ? ORDER BY created_at, id`), runID)
	})
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return out, nil
}
