// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// ReadinessChecker is the interface for readiness checks.
// Implemented by lifecycle providers and the registry store.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// CheckFunc adapts a function to ReadinessChecker.
type CheckFunc func(ctx context.Context) error

// Ready calls f.
func (f CheckFunc) Ready(ctx context.Context) error { return f(ctx) }

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type check struct {
	name     string
	checker  ReadinessChecker
	critical bool
}

// Checker performs health checks on dependencies.
type Checker struct {
	provider ReadinessChecker
	optional []check
	timeout  time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker around the machine provider.
func NewChecker(provider ReadinessChecker) *Checker {
	return &Checker{
		provider: provider,
		timeout:  5 * time.Second,
	}
}

// AddCheck registers an additional dependency. A failing non-critical check
// marks the service degraded but still ready; machines can be dispatched
// without it.
func (c *Checker) AddCheck(name string, checker ReadinessChecker, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.optional = append(c.optional, check{name: name, checker: checker, critical: critical})
	c.cachedReady = nil
}

// Liveness returns true if the service is alive.
// This should be a lightweight check that doesn't depend on external services.
// Failing this probe should trigger a container restart.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks if the service is ready to accept traffic.
// Failing this probe should remove the instance from load balancer rotation.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	// Use cached result if recent (avoid hammering the provider API)
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	extra := append([]check(nil), c.optional...)
	c.mu.RUnlock()

	checks := make(map[string]CheckResult)
	overallStatus := StatusHealthy

	providerCheck := c.run(ctx, c.provider, "provider not configured")
	checks["provider"] = providerCheck
	if providerCheck.Status != StatusHealthy {
		overallStatus = StatusUnhealthy
	}

	for _, ch := range extra {
		result := c.run(ctx, ch.checker, ch.name+" not configured")
		if result.Status != StatusHealthy {
			if ch.critical {
				overallStatus = StatusUnhealthy
			} else {
				result.Status = StatusDegraded
				if overallStatus == StatusHealthy {
					overallStatus = StatusDegraded
				}
			}
		}
		checks[ch.name] = result
	}

	response := &Response{
		Status: overallStatus,
		Checks: checks,
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) run(ctx context.Context, checker ReadinessChecker, missing string) CheckResult {
	if checker == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: missing,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := checker.Ready(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}

	return CheckResult{
		Status: StatusHealthy,
	}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// IsReady returns true if the service can accept traffic, possibly degraded.
func (r *Response) IsReady() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

// SetShuttingDown marks the service as shutting down.
// This causes readiness checks to return unhealthy, signaling
// load balancers to stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil // Clear cache to ensure immediate effect
}
