package review

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/forensight/forensight/internal/circuitbreaker"
	"github.com/forensight/forensight/internal/config"
	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/roles"
)

// chatServer answers chat completion requests with the queued objects in order.
type chatServer struct {
	*httptest.Server
	mu      sync.Mutex
	replies []map[string]any
	hits    int
}

func newChatServer(t *testing.T, replies ...map[string]any) *chatServer {
	t.Helper()
	cs := &chatServer{replies: replies}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if cs.hits >= len(cs.replies) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		content, err := json.Marshal(cs.replies[cs.hits])
		assert.NoError(t, err)
		cs.hits++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": string(content)}}},
		})
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *chatServer) Hits() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.hits
}

func (cs *chatServer) client(t *testing.T) *oracle.ChatClient {
	return oracle.NewChatClient(config.LLMConfig{
		Model:          "test-model",
		APIKey:         "secret",
		BaseURL:        cs.URL,
		TimeoutSeconds: 5,
		JSONMode:       true,
	}, circuitbreaker.Settings{FailureThreshold: 10}, zaptest.NewLogger(t))
}

func TestReviewerMalformedPlanFromChatFallsBack(t *testing.T) {
	tests := []struct {
		name string
		plan any
	}{
		{"null", nil},
		{"string", "none needed"},
		{"array", []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := reportWith(nil)
			report["research_plan"] = tt.plan
			cs := newChatServer(t, report)
			r := NewReviewer(cs.client(t), acmeGateway(), nil, zaptest.NewLogger(t))

			got, err := r.Run(context.Background(), roles.Base, testWorkpaper(), AgentOptions{EnableResearch: true, MaxRetries: 4})
			require.NoError(t, err)
			assert.Equal(t, "medium", got.RiskLevel)
			assert.Nil(t, got.ResearchPlan)
			assert.Equal(t, 0, got.ReactAttempts)
			assert.Equal(t, 1, cs.Hits())
		})
	}
}

func TestReviewerMalformedPlanWithoutEvidenceRetries(t *testing.T) {
	first := reportWith(nil)
	first["evidence"] = []any{}
	first["research_plan"] = "later"
	cs := newChatServer(t, first, reportWith(plan(false, 0)))
	r := NewReviewer(cs.client(t), acmeGateway(), nil, zaptest.NewLogger(t))

	got, err := r.Run(context.Background(), roles.FraudTypeA, testWorkpaper(), AgentOptions{EnableResearch: true, MaxRetries: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, cs.Hits())
	assert.Equal(t, 1, got.ReactAttempts)
}

func TestEnrichAcceptsLooseChatPlan(t *testing.T) {
	cs := newChatServer(t,
		map[string]any{
			"need_autonomous_research": "true",
			"minimum_rounds":           "1",
			"target_fields":            []any{"industry_comparables"},
		},
		map[string]any{"industry_comparables": "Valvco, Flowserve"},
		map[string]any{"need_autonomous_research": false},
	)
	gw := acmeGateway()
	e := NewEnricher(cs.client(t), gw, zaptest.NewLogger(t))

	out := e.Enrich(context.Background(), testWorkpaper(), 2)
	assert.Equal(t, "Valvco, Flowserve", out.IndustryComparables)
	assert.Equal(t, 3, cs.Hits())
	assert.NotEmpty(t, gw.Queries())
}
