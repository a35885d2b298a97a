package dependency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/houzhh15/singstudio/pkg/metrics"
)

// FallbackExecutor tries remote execution first, then falls back to local on
// network failure. After a successful fallback local becomes the primary mode
// until the next HealthCheck finds the service again.
type FallbackExecutor struct {
	config         ExecutorConfig
	remoteExecutor *RemoteExecutor
	localExecutor  *LocalExecutor
	primaryMode    ExecutionMode
	mu             sync.RWMutex
}

// NewFallbackExecutor creates a new FallbackExecutor with remote as the initial primary mode.
func NewFallbackExecutor(config ExecutorConfig) *FallbackExecutor {
	return &FallbackExecutor{
		config:         config,
		remoteExecutor: NewRemoteExecutor(config),
		localExecutor:  NewLocalExecutor(config),
		primaryMode:    ModeRemote,
	}
}

// ExecuteCommand executes a command using the current primary mode, with automatic fallback.
func (e *FallbackExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	start := time.Now()
	mode := e.PrimaryMode()

	var resp CommandResponse
	var err error

	if mode == ModeRemote {
		resp, err = e.remoteExecutor.ExecuteCommand(ctx, req)
		if err != nil && ctx.Err() == nil && isNetworkError(err) {
			slog.Warn("remote execution failed, attempting local fallback",
				"command", req.Command,
				"error", err.Error())

			metrics.RecordCommandExecution(req.Command, string(ModeRemote), "failed")
			metrics.RecordCommandDuration(req.Command, string(ModeRemote), time.Since(start).Seconds())
			return e.fallbackToLocal(ctx, req)
		}
	} else {
		resp, err = e.localExecutor.ExecuteCommand(ctx, req)
	}

	status := determineExecutionStatus(resp, err)
	metrics.RecordCommandExecution(req.Command, string(mode), status)
	metrics.RecordCommandDuration(req.Command, string(mode), time.Since(start).Seconds())

	return resp, err
}

// determineExecutionStatus categorizes an execution as "success", "timeout", or "failed".
func determineExecutionStatus(resp CommandResponse, err error) string {
	if err == nil && resp.Success {
		return "success"
	}
	if err != nil && strings.Contains(err.Error(), "timeout") {
		return "timeout"
	}
	return "failed"
}

// HealthCheck probes remote then local and switches the primary mode to the
// first one that answers.
func (e *FallbackExecutor) HealthCheck(ctx context.Context) error {
	remoteErr := e.remoteExecutor.HealthCheck(ctx)
	if remoteErr == nil {
		e.setPrimaryMode(ModeRemote)
		return nil
	}
	slog.Warn("remote dependency service unavailable, trying local fallback", "error", remoteErr.Error())

	localErr := e.localExecutor.HealthCheck(ctx)
	if localErr == nil {
		if e.PrimaryMode() != ModeLocal {
			slog.Info("local dependencies available, using local mode (degraded)")
			metrics.RecordDegradationEvent(string(ModeRemote), string(ModeLocal))
		}
		e.setPrimaryMode(ModeLocal)
		return nil
	}
	return fmt.Errorf("both remote and local dependencies unavailable: %w", errors.Join(remoteErr, localErr))
}

func (e *FallbackExecutor) fallbackToLocal(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	start := time.Now()
	resp, err := e.localExecutor.ExecuteCommand(ctx, req)

	status := determineExecutionStatus(resp, err)
	metrics.RecordCommandExecution(req.Command, string(ModeLocal), status)
	metrics.RecordCommandDuration(req.Command, string(ModeLocal), time.Since(start).Seconds())

	if err == nil && resp.Success {
		e.setPrimaryMode(ModeLocal)
		slog.Info("local fallback succeeded, updated primary mode to local", "command", req.Command)
		metrics.RecordDegradationEvent(string(ModeRemote), string(ModeLocal))
	}
	return resp, err
}

// isNetworkError reports whether err means the service could not be reached,
// as opposed to the command itself failing.
func isNetworkError(err error) bool {
	if err == nil || errors.Is(err, errRemoteStatus) {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "network error")
}

// PrimaryMode returns the mode the next command will try first.
func (e *FallbackExecutor) PrimaryMode() ExecutionMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.primaryMode
}

func (e *FallbackExecutor) setPrimaryMode(mode ExecutionMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.primaryMode = mode
}
