package observability

import (
	"context"
	"sync"
	"time"
)

// ComponentStatus is the health status of one external collaborator.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck probes one collaborator (KV, RPC, social API).
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the report for a single collaborator.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ms"`
}

// SystemHealth aggregates all collaborators; overall status is the worst one.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     time.Duration              `json:"uptime"`
}

// HealthMonitor runs registered checks on demand. The backend is poll-driven,
// so checks run when the health endpoint is hit rather than on a timer.
type HealthMonitor struct {
	mu        sync.Mutex
	checks    map[string]HealthCheck
	startTime time.Time
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
	}
}

// Register adds a named check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every registered check in parallel and aggregates the results.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.Lock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.Unlock()

	results := make(map[string]ComponentHealth, len(checks))
	var (
		wg sync.WaitGroup
		rm sync.Mutex
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn HealthCheck) {
			defer wg.Done()
			start := time.Now()
			result := fn(ctx)
			result.Name = name
			result.LastChecked = time.Now()
			result.Latency = time.Since(start)
			rm.Lock()
			results[name] = result
			rm.Unlock()
		}(name, fn)
	}
	wg.Wait()

	worst := StatusHealthy
	for _, h := range results {
		if statusSeverity(h.Status) > statusSeverity(worst) {
			worst = h.Status
		}
	}
	return SystemHealth{
		Status:     worst,
		Components: results,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime),
	}
}

func statusSeverity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}

// Healthy is a convenience constructor for a passing check result.
func Healthy(message string) ComponentHealth {
	return ComponentHealth{Status: StatusHealthy, Message: message}
}

// Unhealthy is a convenience constructor for a failing check result.
func Unhealthy(err error) ComponentHealth {
	return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
}
