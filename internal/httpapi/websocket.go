package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // bearer token gates access
}

// handleWS streams a run's events as JSON messages over a WebSocket and
// closes normally once the run finishes.
// GET /api/runs/{id}/ws
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, ok := h.subscribe(ctx, w, r)
	if !ok {
		return
	}
	defer sub.cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	closeNormally := func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
			time.Now().Add(time.Second))
	}

	var lastSeq uint64
	for _, ev := range sub.backlog {
		lastSeq = ev.Seq
		if !sub.wants(ev) {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	if sub.done {
		closeNormally()
		return
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(3 * websocketPingRate))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(3 * websocketPingRate))
	})

	// reader pump: discard client messages, notice disconnects
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(websocketPingRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case ev, open := <-sub.live:
			if !open {
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			if sub.wants(ev) {
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
			if ev.Terminal() {
				closeNormally()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
