package types

import (
	"context"
	"time"
)

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnknown   HealthStatus = "unknown"
)

type HealthManager interface {
	LifecycleManager
	RegisterChecker(name string, checker HealthChecker)
	RegisterRoutes(router HTTPRouter)
	Check(ctx context.Context) HealthReport
}

// HealthStatus is the outcome of one check or of the whole report.
type HealthStatus string

// Severity orders statuses so that a report takes the worst of its checks.
// Any unrecognised status ranks as unhealthy.
func (s HealthStatus) Severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusUnknown:
		return 1
	case StatusDegraded:
		return 2
	default:
		return 3
	}
}

// Worst returns whichever of s and other is more severe.
func (s HealthStatus) Worst(other HealthStatus) HealthStatus {
	if other.Severity() > s.Severity() {
		return other
	}
	return s
}

type HealthCheck struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message,omitempty"`
	LastCheck time.Time              `json:"last_check"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthChecker probes one dependency, such as the cache store or the
// upstream circuit breaker.
type HealthChecker func(ctx context.Context) HealthCheck

type HealthReport struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Service   ServiceInfo            `json:"service"`
	Checks    map[string]HealthCheck `json:"checks"`
	Summary   HealthSummary          `json:"summary"`
}

type ServiceInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
	Unknown   int `json:"unknown"`
}

func (s *HealthSummary) Add(status HealthStatus) {
	switch status {
	case StatusHealthy:
		s.Healthy++
	case StatusDegraded:
		s.Degraded++
	case StatusUnhealthy:
		s.Unhealthy++
	default:
		s.Unknown++
	}
}
