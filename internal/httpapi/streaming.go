package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/runs"
	"github.com/forensight/forensight/internal/streaming"
)

const (
	subscriberBuffer  = 256
	sseHeartbeat      = 15 * time.Second
	websocketPingRate = 20 * time.Second
)

// subscription is an event feed for one run: the replayed backlog followed
// by live events, filtered by type.
type subscription struct {
	backlog []streaming.Event
	live    chan streaming.Event
	filter  map[string]struct{}
	done    bool
	cancel  func()
}

func (s *subscription) wants(ev streaming.Event) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[ev.Type]
	return ok
}

// subscribe validates the run and opens its feed. done is set when the run
// is already terminal, in which case the backlog is all there is.
func (h *Handler) subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) (*subscription, bool) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "event streaming is not enabled")
		return nil, false
	}
	id := r.PathValue("id")
	run, err := h.registry.Get(ctx, id)
	if errors.Is(err, runs.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return nil, false
	}

	sub := &subscription{filter: parseTypes(r.URL.Query().Get("types"))}
	// subscribe before replaying so nothing published in between is lost
	sub.live = h.events.Subscribe(id, subscriberBuffer)
	sub.cancel = func() { h.events.Unsubscribe(id, sub.live) }
	sub.backlog = h.events.ReplaySince(id, lastEventID(r))
	sub.done = run.Terminal()
	for _, ev := range sub.backlog {
		if ev.Terminal() {
			sub.done = true
		}
	}
	return sub, true
}

// handleSSE streams a run's events via Server-Sent Events until the run
// finishes or the client disconnects.
// GET /api/runs/{id}/events?types=agent.completed,run.completed
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ctx := r.Context()
	sub, ok := h.subscribe(ctx, w, r)
	if !ok {
		return
	}
	defer sub.cancel()
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": connected to run %s\n\n", r.PathValue("id"))
	var lastSeq uint64
	for _, ev := range sub.backlog {
		lastSeq = ev.Seq
		if sub.wants(ev) {
			writeSSE(w, ev)
		}
	}
	flusher.Flush()
	if sub.done {
		return
	}

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", r.PathValue("id")))
			return
		case ev, open := <-sub.live:
			if !open {
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			if sub.wants(ev) {
				writeSSE(w, ev)
				flusher.Flush()
			}
			if ev.Terminal() {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) {
	fmt.Fprintf(w, "id: %d\n", ev.Seq)
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
}

func parseTypes(s string) map[string]struct{} {
	filter := map[string]struct{}{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}
	return filter
}

// lastEventID reads the replay cursor from the Last-Event-ID header or the
// last_event_id query parameter.
func lastEventID(r *http.Request) uint64 {
	for _, v := range []string{r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id")} {
		if v == "" {
			continue
		}
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
