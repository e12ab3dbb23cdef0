package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/circuitbreaker"
	"github.com/forensight/forensight/internal/config"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewClient(sqlx.NewDb(mockDB, "sqlmock"), circuitbreaker.Settings{}, zap.NewNop()), mock
}

func TestEnsureSchema(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS run_steps").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_run_steps_run_id").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	require.NoError(t, c.EnsureSchema(context.Background()))
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveStep(t *testing.T) {
	c, mock := newMockClient(t)
	rec, err := NewStepRecord("run-1", "workpaper", map[string]any{"company_profile": "Acme"})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO run_steps").
		WithArgs(rec.ID.String(), "run-1", "workpaper", `{"company_profile":"Acme"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	require.NoError(t, c.SaveStep(context.Background(), rec))
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueStepIsFlushedOnClose(t *testing.T) {
	c, mock := newMockClient(t)
	rec, err := NewStepRecord("run-2", "agent:base", map[string]any{"risk_level": "low"})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO run_steps").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	c.QueueStep(rec)
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSteps(t *testing.T) {
	c, mock := newMockClient(t)
	id := uuid.New()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "run_id", "step", "payload", "created_at"}).
		AddRow(id.String(), "run-3", "final_report", []byte(`{"overall_risk_level":"high"}`), at)
	mock.ExpectQuery("SELECT id, run_id, step, payload, created_at FROM run_steps").
		WithArgs("run-3").
		WillReturnRows(rows)
	mock.ExpectClose()

	steps, err := c.ListSteps(context.Background(), "run-3")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, id, steps[0].ID)
	assert.Equal(t, "final_report", steps[0].Step)
	assert.JSONEq(t, `{"overall_risk_level":"high"}`, string(steps[0].Payload))

	out, err := json.Marshal(steps[0])
	require.NoError(t, err)
	assert.Contains(t, string(out), `"payload":{"overall_risk_level":"high"}`)

	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveStepErrorsTripBreaker(t *testing.T) {
	c, mock := newMockClient(t)
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO run_steps").WillReturnError(errors.New("connection reset"))
	}
	for i := 0; i < 3; i++ {
		assert.Error(t, c.SaveStep(context.Background(), &StepRecord{RunID: "r", Step: "s", Payload: JSONB(`1`)}))
	}
	assert.True(t, c.cb.IsOpen())
	assert.ErrorIs(t, c.SaveStep(context.Background(), &StepRecord{RunID: "r", Step: "s"}), circuitbreaker.ErrOpen)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, circuitbreaker.Settings{}, nil)
	assert.Error(t, err)
}

func TestJSONBScan(t *testing.T) {
	var j JSONB
	require.NoError(t, j.Scan(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, string(j))
	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)
	assert.Error(t, j.Scan(42))
}
