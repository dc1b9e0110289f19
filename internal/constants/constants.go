package constants

import "time"

// Pipeline constants
const (
	// MaxQueuedBlocks bounds the fetch burst performed by gap-fill.
	MaxQueuedBlocks = 25

	// DefaultFinalityBlockCount is used when a network config omits one.
	DefaultFinalityBlockCount = 32
)

// Supervisor / poller error-backoff schedule, indexed by consecutive
// error count (1-indexed; index 0 is unused so ErrorTimeouts[n] is the
// delay after the n-th consecutive failure).
var ErrorTimeouts = []time.Duration{
	0,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	60 * time.Second,
	60 * time.Second,
	60 * time.Second,
	60 * time.Second,
	60 * time.Second,
	60 * time.Second,
	60 * time.Second,
	60 * time.Second,
}

// FatalErrorThreshold is the number of consecutive failures after which
// a pipeline or poller promotes to a fatal error.
const FatalErrorThreshold = 14

// DefaultPollingInterval is used when a network config omits one.
const DefaultPollingInterval = 2 * time.Second

// API / HTTP server constants, kept for the companion health/metrics mux.
const (
	DefaultAPIHost    = "localhost"
	DefaultAPIPort    = 8080
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 15 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// EventBus constants
const (
	DefaultEventBufferSize = 256
	DefaultEventHistorySize = 128
)
