package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

// MockTranscriber is the degraded-mode engine. Without a Chart it fails every
// request with ErrUnavailable, so jobs end FAILED with a clear message instead
// of hanging on a dead engine. With a Chart it writes a copy of it, which is
// what tests and demo setups use.
type MockTranscriber struct {
	Chart *ultrastar.Chart
}

// NewMockTranscriber creates the degraded-mode engine.
func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{}
}

func (m *MockTranscriber) Transcribe(ctx context.Context, req Request, report func(float64, string)) (string, error) {
	if m.Chart == nil {
		slog.Warn("transcription requested in degraded mode", "audio", req.AudioFile)
		return "", fmt.Errorf("%w: running in degraded mode", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if report != nil {
		report(1, "Mock transcription complete")
	}
	base := strings.TrimSuffix(filepath.Base(req.AudioFile), filepath.Ext(req.AudioFile))
	out := filepath.Join(req.OutputDir, base+".txt")
	if err := ensureDir(req.OutputDir); err != nil {
		return "", err
	}
	if err := m.Chart.Clone().WriteFile(out); err != nil {
		return "", err
	}
	return out, nil
}

// HealthCheck always reports unhealthy: the mock is never a real engine.
func (m *MockTranscriber) HealthCheck(ctx context.Context) (bool, error) {
	return false, nil
}

func (m *MockTranscriber) Name() string { return "mock-degraded" }
