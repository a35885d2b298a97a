// Package degradation switches chart generation between the preferred
// engine and a fallback engine based on the preferred engine's health.
package degradation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/transcriber"
	"github.com/houzhh15/singstudio/pkg/metrics"
)

// Controller picks the active engine on every call. It is itself a
// transcriber.Engine, so the orchestrator never sees the switching.
//
// Thread-safety: All public methods are thread-safe.
type Controller struct {
	primary  transcriber.Engine
	fallback transcriber.Engine
	checker  *health.HealthChecker

	mu         sync.Mutex
	current    transcriber.Engine
	isDegraded bool
	log        *slog.Logger
}

// NewController starts on the primary engine. hc must monitor primary.
func NewController(primary, fallback transcriber.Engine, hc *health.HealthChecker) *Controller {
	return &Controller{
		primary:  primary,
		fallback: fallback,
		checker:  hc,
		current:  primary,
		log:      slog.Default().With("component", "degradation"),
	}
}

// GetTranscriber returns the active engine, switching to the fallback when the
// primary is unhealthy and back once it recovers.
func (dc *Controller) GetTranscriber() transcriber.Engine {
	status := dc.checker.GetStatus()

	dc.mu.Lock()
	defer dc.mu.Unlock()

	switch {
	case !status.IsHealthy && !dc.isDegraded:
		dc.log.Warn("degrading to fallback engine", "primary", dc.primary.Name(), "fallback", dc.fallback.Name(), "reason", status.ErrorMessage)
		dc.current = dc.fallback
		dc.isDegraded = true
		metrics.RecordDegradationEvent(dc.primary.Name(), dc.fallback.Name())
	case status.IsHealthy && dc.isDegraded:
		dc.log.Info("recovering to primary engine", "primary", dc.primary.Name())
		dc.current = dc.primary
		dc.isDegraded = false
	}
	return dc.current
}

// IsDegraded reports whether the fallback engine is active.
func (dc *Controller) IsDegraded() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.isDegraded
}

// Status returns the primary engine's health as seen by the checker.
func (dc *Controller) Status() health.ServiceStatus {
	return dc.checker.GetStatus()
}

// Transcribe delegates to the active engine.
func (dc *Controller) Transcribe(ctx context.Context, req transcriber.Request, report func(float64, string)) (string, error) {
	return dc.GetTranscriber().Transcribe(ctx, req, report)
}

// HealthCheck delegates to the active engine.
func (dc *Controller) HealthCheck(ctx context.Context) (bool, error) {
	return dc.GetTranscriber().HealthCheck(ctx)
}

// Name returns the active engine's name.
func (dc *Controller) Name() string {
	return dc.GetTranscriber().Name()
}
