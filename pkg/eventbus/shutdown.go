package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ShutdownHook represents a function to call during shutdown
type ShutdownHook func(ctx context.Context) error

// MultiComponentShutdown handles shutdown of multiple components with ordering
type MultiComponentShutdown struct {
	hooks   []shutdownEntry
	mu      sync.Mutex
	logger  *slog.Logger
	timeout time.Duration
}

type shutdownEntry struct {
	name     string
	priority int
	hook     ShutdownHook
}

// NewMultiComponentShutdown creates a new multi-component shutdown handler
func NewMultiComponentShutdown(timeout time.Duration) *MultiComponentShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MultiComponentShutdown{
		hooks:   make([]shutdownEntry, 0),
		logger:  slog.Default().With("component", "multi-shutdown"),
		timeout: timeout,
	}
}

// RegisterHook adds a shutdown hook with a priority
// Higher priority hooks are executed first
func (mcs *MultiComponentShutdown) RegisterHook(name string, priority int, hook ShutdownHook) {
	mcs.mu.Lock()
	defer mcs.mu.Unlock()

	mcs.hooks = append(mcs.hooks, shutdownEntry{
		name:     name,
		priority: priority,
		hook:     hook,
	})

	// Sort by priority (descending)
	for i := len(mcs.hooks) - 1; i > 0; i-- {
		if mcs.hooks[i].priority > mcs.hooks[i-1].priority {
			mcs.hooks[i], mcs.hooks[i-1] = mcs.hooks[i-1], mcs.hooks[i]
		} else {
			break
		}
	}
}

// Shutdown executes all shutdown hooks in priority order
func (mcs *MultiComponentShutdown) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mcs.timeout)
	defer cancel()

	mcs.mu.Lock()
	hooks := make([]shutdownEntry, len(mcs.hooks))
	copy(hooks, mcs.hooks)
	mcs.mu.Unlock()

	mcs.logger.Info("starting multi-component shutdown",
		"components", len(hooks),
		"timeout", mcs.timeout.String(),
	)

	var firstErr error
	for _, entry := range hooks {
		mcs.logger.Info("shutting down component",
			"name", entry.name,
			"priority", entry.priority,
		)

		if err := entry.hook(ctx); err != nil {
			mcs.logger.Error("component shutdown error",
				"name", entry.name,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			mcs.logger.Info("component shutdown complete", "name", entry.name)
		}

		// Check if context is cancelled
		if ctx.Err() != nil {
			mcs.logger.Warn("shutdown timeout reached", "remaining", len(hooks))
			return ctx.Err()
		}
	}

	mcs.logger.Info("all components shut down")
	return firstErr
}

// Common shutdown priorities
const (
	ShutdownPriorityEventBus = 100 // High priority - shut down event bus first
	ShutdownPriorityKafka    = 90  // High priority - flush Kafka messages
	ShutdownPriorityRedis    = 80  // Medium-high priority
	ShutdownPriorityAPI      = 50  // Medium priority - stop accepting new requests
	ShutdownPriorityStorage  = 10  // Low priority - close storage last
	ShutdownPriorityCleanup  = 0   // Lowest priority - final cleanup
)
