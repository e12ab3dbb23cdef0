package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forensight_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forensight_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forensight_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)
)

// Collector exports breaker state for every registered dependency.
type Collector struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	services map[string]string
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		breakers: make(map[string]*Breaker),
		services: make(map[string]string),
	}
}

// Register attaches state-change metrics to b under the given service label.
func (c *Collector) Register(b *Breaker, service string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := b.Name()
	c.breakers[name] = b
	c.services[name] = service

	b.mu.Lock()
	prev := b.onStateChange
	b.onStateChange = func(cbName string, from, to State) {
		if prev != nil {
			prev(cbName, from, to)
		}
		breakerStateChanges.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))
	}
	b.mu.Unlock()
	breakerState.WithLabelValues(name, service).Set(float64(StateClosed))
}

// RecordRequest records one guarded call.
func (c *Collector) RecordRequest(b *Breaker, success bool) {
	c.mu.RLock()
	service := c.services[b.Name()]
	c.mu.RUnlock()

	result := "success"
	if !success {
		result = "failure"
	}
	breakerRequests.WithLabelValues(b.Name(), service, b.State().String(), result).Inc()
}

// Refresh publishes the current state gauge of every breaker.
func (c *Collector) Refresh() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, b := range c.breakers {
		breakerState.WithLabelValues(name, c.services[name]).Set(float64(b.State()))
	}
}

// Run refreshes gauges every interval until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh()
		}
	}
}

// Global collector instance
var GlobalCollector = NewCollector()
