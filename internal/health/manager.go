package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers on demand.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	logger   *zap.Logger
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{checkers: make(map[string]Checker), logger: logger}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker
	m.logger.Debug("Registered health checker", zap.String("name", name), zap.Bool("critical", checker.IsCritical()))
	return nil
}

// Names returns the registered checker names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetDetailedHealth runs every checker concurrently, each under its own timeout.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	start := time.Now()
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	var mu sync.Mutex
	var wg sync.WaitGroup
	components := make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := m.runSingleCheck(ctx, c)
			mu.Lock()
			components[c.Name()] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	summary := HealthSummary{Total: len(components)}
	for _, r := range components {
		switch r.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		default:
			summary.Unhealthy++
		}
		if r.Critical {
			summary.Critical++
		}
	}
	overall := calculateOverallStatus(components)
	overall.Duration = time.Since(start)
	return DetailedHealth{
		Overall:    overall,
		Components: components,
		Summary:    summary,
		Timestamp:  overall.Timestamp,
	}
}

// GetOverallHealth returns the overall health status
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	return m.GetDetailedHealth(ctx).Overall
}

// IsReady reports whether no critical dependency is unhealthy.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

func (m *Manager) runSingleCheck(ctx context.Context, checker Checker) CheckResult {
	timeout := checker.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := checker.Check(ctx)
	result.Component = checker.Name()
	result.Critical = checker.IsCritical()
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	if result.Status != StatusHealthy {
		m.logger.Warn("Health check not healthy",
			zap.String("component", result.Component),
			zap.String("status", result.Status.String()),
			zap.String("error", result.Error))
	}
	return result
}

func calculateOverallStatus(components map[string]CheckResult) OverallHealth {
	overall := OverallHealth{
		Status:    StatusHealthy,
		Message:   "All components healthy",
		Timestamp: time.Now(),
		Ready:     true,
		Live:      true,
	}
	for _, r := range components {
		if r.Status == StatusHealthy {
			continue
		}
		if r.Critical && r.Status != StatusDegraded {
			overall.Status = StatusUnhealthy
			overall.Message = fmt.Sprintf("Critical component %s is %s", r.Component, r.Status)
			overall.Ready = false
			continue
		}
		if overall.Status == StatusHealthy {
			overall.Status = StatusDegraded
			overall.Message = fmt.Sprintf("Component %s is %s", r.Component, r.Status)
		}
		overall.Degraded = true
	}
	return overall
}
