package health

import (
	"context"
	"time"

	"github.com/forensight/forensight/internal/circuitbreaker"
)

const slowPing = 100 * time.Millisecond

// Pinger is any dependency that can check its own connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker pings a store (Redis, the step log database). A slow but
// successful ping reports degraded.
type PingChecker struct {
	name     string
	target   Pinger
	breaker  *circuitbreaker.Breaker
	critical bool
	timeout  time.Duration
}

// NewPingChecker creates a checker for target. breaker may be nil.
func NewPingChecker(name string, target Pinger, breaker *circuitbreaker.Breaker, critical bool) *PingChecker {
	return &PingChecker{name: name, target: target, breaker: breaker, critical: critical, timeout: 5 * time.Second}
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return p.timeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Timestamp: start}
	if p.breaker != nil && p.breaker.IsOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = p.name + " circuit breaker is open"
		return result
	}

	err := p.target.Ping(ctx)
	result.Duration = time.Since(start)
	result.Details = map[string]any{"latency_ms": result.Duration.Milliseconds()}
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = p.name + " ping failed"
	case result.Duration > slowPing:
		result.Status = StatusDegraded
		result.Message = p.name + " responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = p.name + " healthy"
	}
	return result
}

// BreakerChecker reports an upstream API (oracle, search) through its
// breaker state without calling it.
type BreakerChecker struct {
	name     string
	breaker  *circuitbreaker.Breaker
	critical bool
}

// NewBreakerChecker creates a checker over breaker.
func NewBreakerChecker(name string, breaker *circuitbreaker.Breaker, critical bool) *BreakerChecker {
	return &BreakerChecker{name: name, breaker: breaker, critical: critical}
}

func (b *BreakerChecker) Name() string           { return b.name }
func (b *BreakerChecker) IsCritical() bool       { return b.critical }
func (b *BreakerChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerChecker) Check(context.Context) CheckResult {
	state := b.breaker.State()
	counts := b.breaker.Counts()
	result := CheckResult{
		Timestamp: time.Now(),
		Details: map[string]any{
			"state":                state.String(),
			"consecutive_failures": counts.ConsecutiveFailures,
		},
	}
	switch state {
	case circuitbreaker.StateOpen:
		result.Status = StatusUnhealthy
		result.Message = b.name + " circuit breaker is open"
	case circuitbreaker.StateHalfOpen:
		result.Status = StatusDegraded
		result.Message = b.name + " recovering"
	default:
		result.Status = StatusHealthy
		result.Message = b.name + " healthy"
	}
	return result
}
