package dependency

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the process
// group was killed.
const waitDelay = 5 * time.Second

// LocalExecutor executes commands directly on the local system.
type LocalExecutor struct {
	config ExecutorConfig
}

// NewLocalExecutor creates a new LocalExecutor with the given configuration.
func NewLocalExecutor(config ExecutorConfig) *LocalExecutor {
	return &LocalExecutor{config: config}
}

// ExecuteCommand executes a command locally and returns the result. On timeout
// or cancellation the whole process group is killed, so engines that fork
// workers (python, ffmpeg filters) do not linger.
func (e *LocalExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	binaryPath, err := e.resolveBinaryPath(req.Command)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("failed to resolve binary path for %s: %w", req.Command, err)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.config.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binaryPath, req.Args...)
	cmd.Env = append(os.Environ(), e.buildEnvSlice(req.Env)...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	var lines *lineWriter
	if req.OnLine != nil {
		lines = &lineWriter{fn: req.OnLine}
		cmd.Stdout = io.MultiWriter(&stdout, lines)
		cmd.Stderr = io.MultiWriter(&stderr, lines)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)
	if lines != nil {
		lines.flush()
	}

	resp := CommandResponse{
		Success:    err == nil,
		ExitCode:   e.getExitCode(err),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   duration,
		DurationMs: duration.Milliseconds(),
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return resp, fmt.Errorf("command execution timeout (%v): %s", timeout, req.Command)
	case errors.Is(ctx.Err(), context.Canceled):
		return resp, fmt.Errorf("command %s cancelled: %w", req.Command, ctx.Err())
	}
	return resp, err
}

// HealthCheck verifies that all configured local binaries are available.
func (e *LocalExecutor) HealthCheck(ctx context.Context) error {
	for cmd, path := range e.config.LocalBinaryPaths {
		if _, err := exec.LookPath(path); err != nil {
			return fmt.Errorf("local command %s not available at %s: %w", cmd, path, err)
		}
	}
	return nil
}

// resolveBinaryPath resolves the binary path from config or PATH.
func (e *LocalExecutor) resolveBinaryPath(command string) (string, error) {
	if path, ok := e.config.LocalBinaryPaths[command]; ok && path != "" {
		return path, nil
	}
	return exec.LookPath(command)
}

func (e *LocalExecutor) buildEnvSlice(envMap map[string]string) []string {
	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

func (e *LocalExecutor) getExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// lineWriter splits a byte stream into lines for OnLine. yt-dlp rewrites its
// progress line with '\r', so both '\r' and '\n' terminate a line.
type lineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		if i > 0 {
			w.fn(string(w.buf[:i]))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		sc := bufio.NewScanner(bytes.NewReader(w.buf))
		for sc.Scan() {
			w.fn(sc.Text())
		}
		w.buf = nil
	}
}
