// Package streaming fans run progress events out to live subscribers and
// keeps a short per-run history for replay.
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published over a run's lifetime.
const (
	EventRunStarted        = "run.started"
	EventWorkpaperEnriched = "workpaper.enriched"
	EventAgentCompleted    = "agent.completed"
	EventRunCompleted      = "run.completed"
	EventRunFailed         = "run.failed"
)

const defaultCapacity = 256

// Event is one progress notification for a run.
type Event struct {
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
}

// Terminal reports whether no further events follow e for its run.
func (e Event) Terminal() bool {
	return e.Type == EventRunCompleted || e.Type == EventRunFailed
}

// Marshal returns JSON for SSE data lines and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub for run events.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-run ring buffer for replay and Last-Event-ID support
	history  map[string]*ring
	capacity int
}

// NewManager creates a manager keeping up to capacity events per run.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for runID; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, found := subs[ch]; !found {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish stamps evt with the next sequence number for its run and sends it
// to every subscriber without blocking. Slow subscribers miss events and
// must catch up through ReplaySince.
func (m *Manager) Publish(evt Event) Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rg := m.history[evt.RunID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.RunID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	rg.lastPublish = evt.Timestamp

	for ch := range m.subscribers[evt.RunID] {
		select {
		case ch <- evt:
		default:
		}
	}
	return evt
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Sweep drops the history of runs with no events since cutoff and no
// subscribers. It returns the number of runs forgotten.
func (m *Manager) Sweep(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rg := range m.history {
		if _, watched := m.subscribers[id]; watched {
			continue
		}
		if rg.lastPublish.Before(cutoff) {
			delete(m.history, id)
			n++
		}
	}
	return n
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf         []Event
	start       int
	count       int
	nextSeq     uint64
	lastPublish time.Time
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
