package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/dependency"
)

const cliTimeout = 90 * time.Minute

// CommandRunner executes engine commands. *dependency.DependencyClient
// implements it, which gives the CLI engine the same local/remote/fallback
// execution as the other media tools.
type CommandRunner interface {
	ExecuteCommand(ctx context.Context, req dependency.CommandRequest) (dependency.CommandResponse, error)
	HealthCheck(ctx context.Context) error
}

// CLITranscriber runs the UltraSinger script with python.
type CLITranscriber struct {
	runner CommandRunner
	script string
	log    *slog.Logger
}

// NewCLITranscriber creates a CLI engine for the UltraSinger.py at scriptPath.
func NewCLITranscriber(runner CommandRunner, scriptPath string) *CLITranscriber {
	return &CLITranscriber{
		runner: runner,
		script: scriptPath,
		log:    slog.Default().With("component", "transcriber", "engine", "ultrasinger-cli"),
	}
}

func (c *CLITranscriber) args(req Request) []string {
	args := []string{
		c.script,
		"-i", req.AudioFile,
		"-o", req.OutputDir,
	}
	if req.WhisperModel != "" {
		args = append(args, "--whisper", req.WhisperModel)
	}
	if req.CrepeModel != "" {
		args = append(args, "--crepe", req.CrepeModel)
	}
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}
	if req.ForceCPU {
		args = append(args, "--force_cpu")
	}
	return args
}

// Transcribe runs UltraSinger and returns the chart it wrote.
func (c *CLITranscriber) Transcribe(ctx context.Context, req Request, report func(float64, string)) (string, error) {
	if report == nil {
		report = nopReport
	}
	if err := ensureDir(req.OutputDir); err != nil {
		return "", err
	}

	// stage markers only move forward
	var mu sync.Mutex
	last := 0.0
	onLine := func(line string) {
		m, ok := matchStage(line)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if m.fraction <= last {
			return
		}
		last = m.fraction
		report(m.fraction, m.message)
	}

	started := time.Now().Truncate(time.Second)
	report(0, "Starting UltraSinger processing...")
	c.log.Info("transcription started", "audio", req.AudioFile, "whisper", req.WhisperModel, "crepe", req.CrepeModel)

	resp, err := c.runner.ExecuteCommand(ctx, dependency.CommandRequest{
		Command: dependency.CmdPython,
		Args:    c.args(req),
		Timeout: cliTimeout,
		OnLine:  onLine,
	})
	if err != nil {
		return "", fmt.Errorf("ultrasinger failed: %w", err)
	}
	if !resp.Success || resp.ExitCode != 0 {
		return "", fmt.Errorf("ultrasinger failed (exit code %d): %s", resp.ExitCode, tail(resp.Stderr, 500))
	}

	chart, err := findChart(req.OutputDir, started)
	if err != nil {
		return "", err
	}
	report(1, "UltraSinger processing complete")
	c.log.Info("transcription finished", "chart", chart, "duration", resp.Duration)
	return chart, nil
}

// HealthCheck is healthy when a script is configured and the executor is up.
func (c *CLITranscriber) HealthCheck(ctx context.Context) (bool, error) {
	if c.script == "" {
		return false, fmt.Errorf("ultrasinger script path not configured")
	}
	if err := c.runner.HealthCheck(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (c *CLITranscriber) Name() string { return "ultrasinger-cli" }

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
