// Package health runs periodic probes against a chart engine and tracks
// consecutive failures so the degradation controller knows when to switch.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// probeTimeout bounds a single health probe.
const probeTimeout = 10 * time.Second

// Probe is anything that can report its own health. Every transcriber engine
// satisfies it.
type Probe interface {
	HealthCheck(ctx context.Context) (bool, error)
	Name() string
}

// ServiceStatus represents the current health state of a probed service.
// All fields are safe for JSON serialization and exposed via /api/health.
type ServiceStatus struct {
	Name      string    `json:"name"`
	IsHealthy bool      `json:"is_healthy"`
	LastCheck time.Time `json:"last_check_time"`

	// ConsecutiveFails is reset to 0 when a check succeeds.
	ConsecutiveFails int    `json:"consecutive_fails"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// HealthChecker performs periodic health checks on a Probe.
//
// Thread-safety: All public methods are thread-safe.
type HealthChecker struct {
	probe         Probe
	status        ServiceStatus
	mu            sync.RWMutex
	checkInterval time.Duration
	failThreshold int
	stopChan      chan struct{}
	stopOnce      sync.Once
	log           *slog.Logger
}

// NewHealthChecker creates a checker that marks the probe unhealthy after
// failThreshold consecutive failures. It starts healthy (optimistic) until
// the first probe says otherwise.
func NewHealthChecker(probe Probe, checkInterval time.Duration, failThreshold int) *HealthChecker {
	if failThreshold <= 0 {
		failThreshold = 1
	}
	return &HealthChecker{
		probe:         probe,
		checkInterval: checkInterval,
		failThreshold: failThreshold,
		stopChan:      make(chan struct{}),
		status: ServiceStatus{
			Name:      probe.Name(),
			IsHealthy: true,
			LastCheck: time.Now(),
		},
		log: slog.Default().With("component", "health_checker", "probe", probe.Name()),
	}
}

// Start performs an immediate check, then one every checkInterval until Stop
// is called or ctx is cancelled. It blocks; run it in a goroutine.
func (hc *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	hc.CheckNow(ctx)

	for {
		select {
		case <-ticker.C:
			hc.CheckNow(ctx)
		case <-hc.stopChan:
			hc.log.Info("health checker stopped")
			return
		case <-ctx.Done():
			hc.log.Info("health checker context cancelled")
			return
		}
	}
}

// CheckNow runs one probe and updates the status.
func (hc *HealthChecker) CheckNow(ctx context.Context) ServiceStatus {
	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	isHealthy, err := hc.probe.HealthCheck(checkCtx)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.status.LastCheck = time.Now()
	if isHealthy {
		if !hc.status.IsHealthy {
			hc.log.Info("probe recovered")
		}
		hc.status.IsHealthy = true
		hc.status.ConsecutiveFails = 0
		hc.status.ErrorMessage = ""
		return hc.status
	}

	hc.status.ConsecutiveFails++
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	hc.status.ErrorMessage = fmt.Sprintf("Health check failed: %s", errMsg)

	if hc.status.ConsecutiveFails >= hc.failThreshold {
		if hc.status.IsHealthy {
			hc.log.Error("marking unhealthy", "consecutive_fails", hc.status.ConsecutiveFails, "error", errMsg)
		}
		hc.status.IsHealthy = false
	} else {
		hc.log.Warn("health check failed", "consecutive_fails", hc.status.ConsecutiveFails, "threshold", hc.failThreshold, "error", errMsg)
	}
	return hc.status
}

// GetStatus returns a copy of the current health status.
func (hc *HealthChecker) GetStatus() ServiceStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.status
}

// Stop terminates the check loop. Safe to call multiple times.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopChan) })
}
