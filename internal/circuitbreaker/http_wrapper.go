package circuitbreaker

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a breaker. 5xx and 429 responses count
// as breaker failures; other 4xx do not trip it.
type HTTPWrapper struct {
	client *http.Client
	cb     *Breaker
}

// NewHTTPWrapper creates a wrapper and registers its breaker with GlobalCollector.
func NewHTTPWrapper(client *http.Client, name, service string, settings Settings, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	cb := New(name, settings.FromEnv(name), logger)
	GlobalCollector.Register(cb, service)
	return &HTTPWrapper{client: client, cb: cb}
}

// Breaker exposes the underlying breaker.
func (hw *HTTPWrapper) Breaker() *Breaker { return hw.cb }

// Do executes req through the breaker. Responses classified as failures are
// still returned to the caller with a nil error so the body can be inspected.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var doErr error
		resp, doErr = hw.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &StatusError{Code: resp.StatusCode}
		}
		return nil
	})
	GlobalCollector.RecordRequest(hw.cb, err == nil)

	if _, ok := err.(*StatusError); ok {
		return resp, nil
	}
	return resp, err
}

// StatusError marks a response status that counted as a breaker failure.
type StatusError struct{ Code int }

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d %s", e.Code, http.StatusText(e.Code))
}
