package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultAcquireTimeout = 30 * time.Second

// ConcurrencyLimiter caps parallel executions per command with one weighted
// semaphore each, sized by max_concurrent.
type ConcurrencyLimiter struct {
	semaphores map[string]*semaphore.Weighted
	wait       time.Duration
}

// NewConcurrencyLimiter builds the semaphores from config. The map is fixed
// after construction, so no lock is needed.
func NewConcurrencyLimiter(config *Config) *ConcurrencyLimiter {
	l := &ConcurrencyLimiter{
		semaphores: make(map[string]*semaphore.Weighted, len(config.Commands)),
		wait:       defaultAcquireTimeout,
	}
	for _, cmd := range config.Commands {
		l.semaphores[cmd.Name] = semaphore.NewWeighted(int64(cmd.MaxConcurrent))
	}
	return l
}

// Acquire blocks until a slot for commandName frees up, ctx ends, or the
// wait timeout passes.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context, commandName string) error {
	sem, ok := l.semaphores[commandName]
	if !ok {
		return fmt.Errorf("no semaphore configured for command: %s", commandName)
	}

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire semaphore for command %s: %w", commandName, err)
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (l *ConcurrencyLimiter) Release(commandName string) {
	if sem, ok := l.semaphores[commandName]; ok {
		sem.Release(1)
	}
}
