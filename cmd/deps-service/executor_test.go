package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCommand(t *testing.T) {
	e := NewExecutor(testConfig(t))

	t.Run("captures stdout", func(t *testing.T) {
		resp, err := e.ExecuteCommand(context.Background(), CommandRequest{Command: "echo", Args: []string{"hello", "world"}})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, 0, resp.ExitCode)
		assert.Equal(t, "hello world\n", resp.Stdout)
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		resp, err := e.ExecuteCommand(context.Background(), CommandRequest{Command: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, 3, resp.ExitCode)
		assert.Equal(t, "oops", strings.TrimSpace(resp.Stderr))
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := e.ExecuteCommand(context.Background(), CommandRequest{Command: "rm"})
		assert.ErrorContains(t, err, "failed to get command config")
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		resp, err := e.ExecuteCommand(context.Background(), CommandRequest{Command: "sh", Args: []string{"-c", "pwd"}, WorkingDir: dir})
		require.NoError(t, err)
		assert.Contains(t, resp.Stdout, dir)
	})

	t.Run("environment", func(t *testing.T) {
		resp, err := e.ExecuteCommand(context.Background(), CommandRequest{
			Command: "sh",
			Args:    []string{"-c", "echo $TEST_VAR"},
			Env:     map[string]string{"TEST_VAR": "duet"},
		})
		require.NoError(t, err)
		assert.Equal(t, "duet\n", resp.Stdout)
	})
}

func TestExecuteCommandTimeout(t *testing.T) {
	e := NewExecutor(testConfig(t))

	start := time.Now()
	resp, err := e.ExecuteCommand(context.Background(), CommandRequest{
		Command: "sleep",
		Args:    []string{"5"},
		Timeout: 100 * time.Millisecond,
	})
	assert.ErrorContains(t, err, "command timeout")
	assert.False(t, resp.Success)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecuteCommandConfiguredTimeout(t *testing.T) {
	e := NewExecutor(testConfig(t))

	// sleep is configured with 2s
	_, err := e.ExecuteCommand(context.Background(), CommandRequest{Command: "sleep", Args: []string{"4"}})
	assert.ErrorContains(t, err, "command timeout after 2s")
}

func TestExecuteCommandCancelled(t *testing.T) {
	e := NewExecutor(testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	resp, err := e.ExecuteCommand(ctx, CommandRequest{Command: "sleep", Args: []string{"1.5"}})
	assert.Error(t, err)
	assert.False(t, resp.Success)
}
