package review

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/roles"
)

var errReviewerDown = errors.New("reviewer down")

// routedOracle answers by role, identified through the system prompt.
type routedOracle struct {
	bySystem map[string]roles.Role
	failRole roles.Role
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu    sync.Mutex
	users map[roles.Role]string
}

func newRoutedOracle(t *testing.T) *routedOracle {
	t.Helper()
	c := roles.MustDefault()
	o := &routedOracle{bySystem: map[string]roles.Role{}, users: map[roles.Role]string{}}
	for _, r := range roles.All() {
		def, err := c.Get(r)
		require.NoError(t, err)
		o.bySystem[def.SystemPrompt] = r
	}
	return o
}

func (o *routedOracle) Generate(ctx context.Context, system, user string, _ oracle.Schema) (map[string]any, error) {
	n := o.inFlight.Add(1)
	defer o.inFlight.Add(-1)
	for {
		cur := o.maxInFlight.Load()
		if n <= cur || o.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if system == adjudicatorSystem {
		return map[string]any{
			"overall_risk_level": "high",
			"accepted_points":    []any{"[fraud_type_A] customer concentration"},
			"rejected_points":    []any{},
			"rationale":          "corroborated by several reviewers",
			"uncertainty":        "receivable confirmations unavailable",
			"suggestions":        []any{"confirm top customers"},
		}, nil
	}
	role := o.bySystem[system]
	o.mu.Lock()
	o.users[role] = user
	o.mu.Unlock()
	if role == o.failRole {
		return nil, errReviewerDown
	}
	r := reportWith(plan(false, 0))
	r["risk_points"] = []any{string(role) + " concern"}
	return r, nil
}

func (o *routedOracle) SupportsIteration() bool { return true }

func (o *routedOracle) userFor(role roles.Role) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.users[role]
}

func TestPanelRunsEveryRoleAndAdjudicates(t *testing.T) {
	o := newRoutedOracle(t)
	p := NewPanel(NewReviewer(o, nil, nil, zaptest.NewLogger(t)), zaptest.NewLogger(t))

	var mu sync.Mutex
	var seen []roles.Role
	res, err := p.Run(context.Background(), testWorkpaper(), PanelOptions{
		EnableDefense: true,
		OnResult: func(role roles.Role, report *Report) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, role)
		},
	})
	require.NoError(t, err)
	assert.Len(t, res.Reports, 8)
	assert.ElementsMatch(t, roles.All(), seen)
	assert.Equal(t, roles.Defense, seen[len(seen)-1])

	require.NotNil(t, res.Verdict)
	assert.Equal(t, "high", res.Verdict.OverallRiskLevel)
	assert.Equal(t, []string{"confirm top customers"}, res.Verdict.Suggestions)
	assert.Empty(t, res.Verdict.RejectedPoints)

	defense := o.userFor(roles.Defense)
	assert.Contains(t, defense, "Risk points raised by the other reviewers:")
	assert.Contains(t, defense, "- [fraud_type_A] fraud_type_A concern")
	assert.Contains(t, defense, "- [base] base concern")
	assert.Contains(t, defense, "fraud_type_F_block")
}

func TestPanelWithoutDefense(t *testing.T) {
	o := newRoutedOracle(t)
	p := NewPanel(NewReviewer(o, nil, nil, nil), nil)

	res, err := p.Run(context.Background(), testWorkpaper(), PanelOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Reports, 7)
	assert.NotContains(t, res.Reports, roles.Defense)
	assert.Empty(t, o.userFor(roles.Defense))
}

func TestPanelFailsOnFirstReviewerError(t *testing.T) {
	o := newRoutedOracle(t)
	o.failRole = roles.FraudTypeC
	p := NewPanel(NewReviewer(o, nil, nil, nil), nil)

	res, err := p.Run(context.Background(), testWorkpaper(), PanelOptions{EnableDefense: true})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, errReviewerDown)
	assert.Contains(t, err.Error(), "fraud_type_C")
	assert.Empty(t, o.userFor(roles.Defense))
}

func TestPanelBoundsConcurrency(t *testing.T) {
	o := newRoutedOracle(t)
	o.delay = 20 * time.Millisecond
	p := NewPanel(NewReviewer(o, nil, nil, nil), nil)

	_, err := p.Run(context.Background(), testWorkpaper(), PanelOptions{MaxConcurrency: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, o.maxInFlight.Load(), int32(2))
}

func TestPanelConcurrency(t *testing.T) {
	p := NewPanel(NewReviewer(newRoutedOracle(t), nil, nil, nil), nil)
	assert.Equal(t, DefaultMaxConcurrency, p.Concurrency(0))
	assert.Equal(t, 3, p.Concurrency(3))
	assert.Equal(t, 16, p.Concurrency(64))

	scripted := NewPanel(NewReviewer(oracle.NewScripted(), nil, nil, nil), nil)
	assert.Equal(t, 1, scripted.Concurrency(8))
}

func TestPanelScriptedRunsSequentially(t *testing.T) {
	var responses []map[string]any
	for range roles.All() {
		responses = append(responses, reportWith(plan(true, 2)))
	}
	responses = append(responses, map[string]any{
		"overall_risk_level": "low",
		"accepted_points":    []any{},
		"rejected_points":    []any{"single-signal alarm"},
		"rationale":          "no corroboration",
		"uncertainty":        "limited disclosure",
		"suggestions":        []any{},
	})
	o := oracle.NewScripted(responses...)
	p := NewPanel(NewReviewer(o, acmeGateway(), nil, nil), nil)

	var order []roles.Role
	res, err := p.Run(context.Background(), testWorkpaper(), PanelOptions{
		EnableDefense:  true,
		MaxConcurrency: 8,
		OnResult:       func(role roles.Role, _ *Report) { order = append(order, role) },
	})
	require.NoError(t, err)
	assert.Equal(t, roles.All(), order)
	assert.Equal(t, "low", res.Verdict.OverallRiskLevel)
	assert.Equal(t, 0, o.Remaining())
	for _, r := range res.Reports {
		assert.Equal(t, 0, r.ReactAttempts)
	}
}
