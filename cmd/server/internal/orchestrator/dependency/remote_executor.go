package dependency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/houzhh15/singstudio/pkg/metrics"
	"github.com/sony/gobreaker"
)

const breakerName = "deps-service"

// errRemoteStatus marks a non-200 answer that still carried a command result.
// It must not count against the breaker: the service is up, the command failed.
var errRemoteStatus = errors.New("dependency service returned error")

// RemoteExecutor executes commands via HTTP calls to a dependency service.
// Calls go through a circuit breaker so a dead service fails fast instead of
// stalling every job for a full HTTP timeout.
type RemoteExecutor struct {
	config     ExecutorConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *slog.Logger
}

// NewRemoteExecutor creates a new RemoteExecutor with the given configuration.
func NewRemoteExecutor(config ExecutorConfig) *RemoteExecutor {
	log := slog.Default().With("component", "remote_executor")
	return &RemoteExecutor{
		config: config,
		httpClient: &http.Client{
			// HTTP timeout should be slightly larger than command timeout
			Timeout: config.DefaultTimeout + 10*time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, errRemoteStatus) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
				metrics.RecordBreakerStateChange(name, to.String())
			},
		}),
		log: log,
	}
}

// ExecuteCommand executes a command remotely via HTTP POST /api/v1/execute.
func (e *RemoteExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.post(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return CommandResponse{}, fmt.Errorf("dependency service unavailable (network error): %w", err)
	}
	resp, _ := out.(CommandResponse)
	return resp, err
}

func (e *RemoteExecutor) post(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("failed to serialize request: %w", err)
	}
	e.log.Debug("sending command", "url", e.config.ServiceURL, "command", req.Command, "args", req.Args)

	url := fmt.Sprintf("%s/api/v1/execute", e.config.ServiceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return CommandResponse{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("failed to call dependency service (network error): %w", err)
	}
	defer httpResp.Body.Close()

	var resp CommandResponse
	bodyBytes, _ := io.ReadAll(httpResp.Body)
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		e.log.Error("failed to parse response body", "status", httpResp.StatusCode, "body", string(bodyBytes), "error", err)
		return CommandResponse{}, fmt.Errorf("failed to parse response (HTTP %d): %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		e.log.Warn("dependency service returned error", "status", httpResp.StatusCode, "stderr", resp.Stderr)
		return resp, fmt.Errorf("%w (HTTP %d): %s", errRemoteStatus, httpResp.StatusCode, resp.Stderr)
	}

	resp.Duration = time.Duration(resp.DurationMs) * time.Millisecond
	if resp.Duration == 0 {
		resp.Duration = time.Since(start)
	}
	if req.OnLine != nil && resp.Stdout != "" {
		lw := &lineWriter{fn: req.OnLine}
		_, _ = lw.Write([]byte(resp.Stdout))
		lw.flush()
	}
	return resp, nil
}

// HealthCheck verifies that the remote dependency service is reachable and healthy.
func (e *RemoteExecutor) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/v1/health", e.config.ServiceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dependency service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dependency service unhealthy (HTTP %d)", resp.StatusCode)
	}
	return nil
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (e *RemoteExecutor) BreakerState() string {
	return e.breaker.State().String()
}
