package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrScriptExhausted is returned once a Scripted oracle has no responses left.
var ErrScriptExhausted = errors.New("scripted oracle has no more responses")

// Call is one request seen by a Scripted oracle.
type Call struct {
	System string
	User   string
	Schema Schema
}

// Scripted replays queued responses in order. It cannot iterate, so every
// retry loop is skipped and panels run sequentially.
type Scripted struct {
	mu        sync.Mutex
	responses []map[string]any
	calls     []Call
	iterative bool
}

// NewScripted queues responses.
func NewScripted(responses ...map[string]any) *Scripted {
	return &Scripted{responses: responses}
}

// NewIterativeScripted is a Scripted oracle that claims iteration support.
func NewIterativeScripted(responses ...map[string]any) *Scripted {
	return &Scripted{responses: responses, iterative: true}
}

// LoadScript reads a JSON array of response objects.
func LoadScript(r io.Reader) (*Scripted, error) {
	var responses []map[string]any
	if err := json.NewDecoder(r).Decode(&responses); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	return NewScripted(responses...), nil
}

func (s *Scripted) Generate(ctx context.Context, system, user string, schema Schema) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{System: system, User: user, Schema: schema})
	if len(s.responses) == 0 {
		return nil, ErrScriptExhausted
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next, nil
}

func (s *Scripted) SupportsIteration() bool { return s.iterative }

// Calls returns a copy of every request seen so far.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Remaining returns the number of unconsumed responses.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}
