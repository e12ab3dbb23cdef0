package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testSettings() Settings {
	return Settings{
		MaxRequests:      5,
		Interval:         200 * time.Millisecond,
		Timeout:          100 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

func TestBreakerStates(t *testing.T) {
	cb := New("test", testSettings(), zaptest.NewLogger(t))
	ctx := context.Background()

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(ctx, func() error { return errors.New("upstream down") }))
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrOpen)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenLimitsRequests(t *testing.T) {
	s := testSettings()
	s.MaxRequests = 2
	s.SuccessThreshold = 5
	cb := New("test", s, zaptest.NewLogger(t))
	ctx := context.Background()

	cb.mu.Lock()
	cb.setState(StateHalfOpen, time.Now())
	cb.mu.Unlock()

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrTooManyRequests)
}

func TestBreakerCounts(t *testing.T) {
	cb := New("test", Settings{}, zaptest.NewLogger(t))
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errors.New("boom") })
	_ = cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	s := testSettings()
	s.FailureThreshold = 1
	cb := New("test", s, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	err := cb.Execute(ctx, func() error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), context.Canceled)
	assert.Equal(t, uint32(1), cb.Counts().Requests)
}

func TestStateChangeMetricsHook(t *testing.T) {
	s := testSettings()
	s.FailureThreshold = 2
	cb := New("hook-test", s, zaptest.NewLogger(t))

	var from, to State
	cb.onStateChange = func(_ string, prev, next State) { from, to = prev, next }
	NewCollector().Register(cb, "unit")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	}
	assert.Equal(t, StateClosed, from)
	assert.Equal(t, StateOpen, to)
}

func TestHTTPWrapperClassifiesStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		switch {
		case n <= 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := testSettings()
	s.FailureThreshold = 2
	hw := NewHTTPWrapper(srv.Client(), "http-wrapper-test", "unit", s, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		resp.Body.Close()
	}
	assert.True(t, hw.Breaker().IsOpen())

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = hw.Do(req)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
