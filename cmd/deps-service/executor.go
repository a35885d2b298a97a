package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/houzhh15/singstudio/pkg/metrics"
)

const metricsMode = "service"

// Executor runs whitelisted binaries with a deadline and captures output.
type Executor struct {
	config *Config
	log    *slog.Logger
}

// NewExecutor creates an Executor over config.
func NewExecutor(config *Config) *Executor {
	return &Executor{config: config, log: slog.Default().With("component", "executor")}
}

// ExecuteCommand runs req. A non-zero exit is reported in the response, not
// as an error; errors mean the command could not run or ran out of time.
func (e *Executor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	cmdConfig, err := e.config.GetCommandConfig(req.Command)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("failed to get command config: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = cmdConfig.timeout
	}
	if timeout <= 0 {
		return CommandResponse{}, fmt.Errorf("no timeout configured for command %s", req.Command)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cmdConfig.BinaryPath, req.Args...)
	cmd.Dir = req.WorkingDir
	if len(req.Env) > 0 {
		cmd.Env = os.Environ()
		for key, value := range req.Env {
			cmd.Env = append(cmd.Env, key+"="+value)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Info("executing command", "command", req.Command, "binary", cmdConfig.BinaryPath, "args", req.Args, "timeout", timeout)
	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	resp := CommandResponse{
		Success:     runErr == nil,
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		DurationMs:  duration.Milliseconds(),
		OutputFiles: []string{},
	}
	if cmd.ProcessState != nil {
		resp.ExitCode = cmd.ProcessState.ExitCode()
	}
	metrics.RecordCommandDuration(req.Command, metricsMode, duration.Seconds())

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		metrics.RecordCommandExecution(req.Command, metricsMode, "timeout")
		e.log.Warn("command timed out", "command", req.Command, "timeout", timeout)
		return resp, fmt.Errorf("command timeout after %v", timeout)
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordCommandExecution(req.Command, metricsMode, "cancelled")
		return resp, fmt.Errorf("command cancelled: %w", err)
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		metrics.RecordCommandExecution(req.Command, metricsMode, "success")
		e.log.Info("command succeeded", "command", req.Command, "duration_ms", resp.DurationMs)
		return resp, nil
	case errors.As(runErr, &exitErr):
		metrics.RecordCommandExecution(req.Command, metricsMode, "failed")
		e.log.Warn("command failed", "command", req.Command, "exit_code", resp.ExitCode, "stderr", resp.Stderr)
		return resp, nil
	default:
		resp.ExitCode = -1
		metrics.RecordCommandExecution(req.Command, metricsMode, "failed")
		e.log.Error("command could not start", "command", req.Command, "error", runErr)
		return resp, fmt.Errorf("failed to run %s: %w", req.Command, runErr)
	}
}
