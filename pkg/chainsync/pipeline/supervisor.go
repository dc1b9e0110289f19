package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xmhha/chainsync/internal/constants"
	"github.com/0xmhha/chainsync/pkg/chainsync/rpcqueue"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Supervisor drives a Pipeline's consumer loop with the synchronization
// core's shared error-backoff schedule: each consecutive retryable ingest
// failure clears the queue and waits constants.ErrorTimeouts[consecutiveErrors]
// before consuming again, so the failed block comes back only when the
// poller re-enqueues it, and the 14th consecutive failure is promoted to
// fatal. A successful ingest resets the counter.
//
// Grounded on the teacher's pkg/multichain HealthChecker: a
// context-cancelable goroutine driven by a simple wait/retry loop rather
// than a fixed ticker, since the wait duration itself varies with the
// error count.
type Supervisor struct {
	pipeline *Pipeline
	logger   *zap.Logger
	metrics  *Metrics

	mu                sync.Mutex
	consecutiveErrors int
}

// NewSupervisor returns a Supervisor driving pipeline.
func NewSupervisor(pipeline *Pipeline, logger *zap.Logger, metrics *Metrics) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		pipeline: pipeline,
		logger:   logger.Named("chainsync.pipeline.supervisor"),
		metrics:  metrics,
	}
}

// Run consumes pipeline's queue until it is closed and drained or ctx is
// canceled, clearing the queue and backing off on transient failure (see
// ingestWithRetry) and promoting to fatal after
// constants.FatalErrorThreshold consecutive failures.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, ok := s.pipeline.queue.Dequeue()
		if !ok {
			return
		}
		s.pipeline.reportQueueDepth()

		if !s.ingestWithRetry(ctx, raw) {
			return
		}
	}
}

// ingestWithRetry attempts raw once. On success it resets the error
// streak. On a retryable failure it clears the pipeline's queue and
// backs off before returning, rather than looping on the identical
// cached block: a poison-pill block that keeps failing must not be
// replayed forever, so the next poll re-fetches and re-enqueues
// whatever the current tip is by then. It returns false when the
// supervisor's loop should stop (unrecoverable reorg, non-retryable
// error, fatal threshold reached, or ctx canceled).
func (s *Supervisor) ingestWithRetry(ctx context.Context, raw *types.Block) bool {
	err := s.pipeline.process(ctx, raw)
	if err == nil {
		s.reset()
		return true
	}
	if err == ErrUnrecoverableReorg {
		s.promoteFatal(err)
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if !rpcqueue.IsRetryable(err) {
		// A decode or other non-transient error means retrying the
		// identical block can never succeed.
		s.promoteFatal(fmt.Errorf("non-retryable ingest failure: %w", err))
		return false
	}

	n := s.incrementErrors()
	if s.metrics != nil {
		s.metrics.ConsecutiveErrors.Set(float64(n))
	}
	if n >= constants.FatalErrorThreshold {
		s.promoteFatal(fmt.Errorf("exceeded %d consecutive ingest failures: %w", n, err))
		return false
	}

	delay := constants.ErrorTimeouts[n]
	s.logger.Warn("ingest failed, clearing queue and backing off for next poll",
		zap.Uint64("block", raw.NumberU64()),
		zap.Int("consecutiveErrors", n),
		zap.Duration("backoff", delay),
		zap.Error(err))

	// Prevent the poison-pill block from looping: drop whatever the
	// poller has queued behind it too, since it's all stale once we
	// stop advancing past raw.
	s.pipeline.queue.Clear()

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) incrementErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrors++
	return s.consecutiveErrors
}

func (s *Supervisor) reset() {
	s.mu.Lock()
	s.consecutiveErrors = 0
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConsecutiveErrors.Set(0)
	}
}

func (s *Supervisor) promoteFatal(err error) {
	if s.metrics != nil {
		s.metrics.FatalErrorsTotal.Inc()
	}
	s.logger.Error("promoting to fatal", zap.Error(err))
	s.pipeline.sink.OnFatalError(err)
}

// ConsecutiveErrors reports the supervisor's current error streak, for
// introspection.
func (s *Supervisor) ConsecutiveErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveErrors
}
