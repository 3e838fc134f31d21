package health

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// HealthChecker runs a fixed set of named dependency checks.
type HealthChecker struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]Check),
		timeout: timeout,
	}
}

// Add registers a check under name. Not safe to call once checks are running.
func (h *HealthChecker) Add(name string, check Check) *HealthChecker {
	h.checks[name] = check
	return h
}

// GetHealthStatus runs every check and returns the report plus whether all
// of them passed.
func (h *HealthChecker) GetHealthStatus(ctx context.Context) (map[string]interface{}, bool) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	checks := make(map[string]interface{}, len(names))
	for _, name := range names {
		if err := h.run(ctx, h.checks[name]); err != nil {
			healthy = false
			checks[name] = map[string]interface{}{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]interface{}{"status": "ok"}
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}
	return map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}, healthy
}

func (h *HealthChecker) run(ctx context.Context, check Check) (err error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return check(ctx)
}
