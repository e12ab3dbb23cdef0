// Package httpapi serves the run API: submission, polling, step history and
// live progress over SSE or WebSocket.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/analysis"
	"github.com/forensight/forensight/internal/db"
	"github.com/forensight/forensight/internal/runs"
	"github.com/forensight/forensight/internal/streaming"
)

const maxRequestBytes = 16 << 20

// Submitter starts background runs.
type Submitter interface {
	Submit(ctx context.Context, req analysis.Request) (string, error)
}

// StepLister reads a run's persisted step log.
type StepLister interface {
	ListSteps(ctx context.Context, runID string) ([]db.StepRecord, error)
}

// Handler serves /api/runs. Steps and events are optional.
type Handler struct {
	submitter Submitter
	registry  *runs.Registry
	steps     StepLister
	events    *streaming.Manager
	authToken string
	logger    *zap.Logger
}

// NewHandler creates a handler. steps and events may be nil.
func NewHandler(submitter Submitter, registry *runs.Registry, steps StepLister, events *streaming.Manager, authToken string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		submitter: submitter,
		registry:  registry,
		steps:     steps,
		events:    events,
		authToken: authToken,
		logger:    logger,
	}
}

// RegisterRoutes registers the run routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/runs", h.authorize(http.HandlerFunc(h.handleSubmit)))
	mux.Handle("GET /api/runs/{id}", h.authorize(http.HandlerFunc(h.handleGet)))
	mux.Handle("GET /api/runs/{id}/steps", h.authorize(http.HandlerFunc(h.handleSteps)))
	mux.Handle("GET /api/runs/{id}/events", h.authorize(http.HandlerFunc(h.handleSSE)))
	mux.Handle("GET /api/runs/{id}/ws", h.authorize(http.HandlerFunc(h.handleWS)))
}

// authorize enforces the bearer token when one is configured. The WebSocket
// route also accepts ?token= since browsers cannot set headers on upgrade.
func (h *Handler) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewServer builds the HTTP server around mux.
func NewServer(port int, readTimeout, writeTimeout time.Duration, mux http.Handler) *http.Server {
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		// streaming routes clear the write deadline per connection
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": sanitizeErr(msg)})
}

// sanitizeErr trims error messages for client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
