// Package poller implements the ticker-driven chain-tip poll that feeds
// raw blocks into a pipeline.Pipeline's queue. Grounded on the teacher's
// pkg/fetch/fetcher.go Run() catch-up loop: poll latest, sleep and retry
// on error, continue from where the last successful poll left off.
package poller

import (
	"context"
	"time"

	"github.com/0xmhha/chainsync/internal/constants"
	"github.com/0xmhha/chainsync/pkg/chainsync/pipeline"
	"github.com/0xmhha/chainsync/pkg/chainsync/rpcqueue"
	"github.com/0xmhha/chainsync/pkg/events"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Config configures a Poller. ErrorTimeouts/FatalThreshold default to the
// shared constants.ErrorTimeouts/FatalErrorThreshold schedule, overridable
// so tests aren't bound to the production backoff durations. cmd/chainsync
// leaves both unset, so the binary always uses the defaults.
type Config struct {
	RPC             rpcqueue.Queue
	Pipeline        *pipeline.Pipeline
	Sink            events.Sink
	Logger          *zap.Logger
	Metrics         *Metrics
	PollingInterval time.Duration
	ErrorTimeouts   []time.Duration
	FatalThreshold  int
}

// Poller periodically fetches the chain's latest block and enqueues it
// onto a Pipeline. It maintains its own consecutive-error counter,
// separate from the Supervisor's: a poll failure never reaches the
// pipeline queue, so it must never count against the ingest budget.
type Poller struct {
	rpc            rpcqueue.Queue
	pipe           *pipeline.Pipeline
	sink           events.Sink
	logger         *zap.Logger
	metrics        *Metrics
	interval       time.Duration
	errorTimeouts  []time.Duration
	fatalThreshold int

	lastPolledHash common.Hash
}

// New returns a Poller built from cfg.
func New(cfg Config) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PollingInterval
	if interval <= 0 {
		interval = constants.DefaultPollingInterval
	}
	errorTimeouts := cfg.ErrorTimeouts
	if errorTimeouts == nil {
		errorTimeouts = constants.ErrorTimeouts
	}
	fatalThreshold := cfg.FatalThreshold
	if fatalThreshold <= 0 {
		fatalThreshold = constants.FatalErrorThreshold
	}
	return &Poller{
		rpc:            cfg.RPC,
		pipe:           cfg.Pipeline,
		sink:           cfg.Sink,
		logger:         logger.Named("chainsync.poller"),
		metrics:        cfg.Metrics,
		interval:       interval,
		errorTimeouts:  errorTimeouts,
		fatalThreshold: fatalThreshold,
	}
}

// Run polls the chain tip every interval until ctx is canceled, promoting
// a fatal error to the sink after the configured fatal threshold
// (constants.FatalErrorThreshold by default) of consecutive poll
// failures. A successful poll resets the counter.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := p.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveErrors++
			if p.metrics != nil {
				p.metrics.PollErrorsTotal.Inc()
				p.metrics.ConsecutiveErrors.Set(float64(consecutiveErrors))
			}
			if consecutiveErrors >= p.fatalThreshold {
				p.logger.Error("exceeded consecutive poll failures, promoting fatal",
					zap.Int("consecutiveErrors", consecutiveErrors), zap.Error(err))
				if p.sink != nil {
					p.sink.OnFatalError(err)
				}
				return
			}
			delay := p.errorTimeouts[consecutiveErrors%len(p.errorTimeouts)]
			p.logger.Warn("poll failed, backing off",
				zap.Int("consecutiveErrors", consecutiveErrors), zap.Duration("backoff", delay), zap.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		consecutiveErrors = 0
		if p.metrics != nil {
			p.metrics.ConsecutiveErrors.Set(0)
		}
	}
}

// pollOnce fetches the current chain tip and enqueues it if it is new.
func (p *Poller) pollOnce(ctx context.Context) error {
	if p.metrics != nil {
		p.metrics.PollsTotal.Inc()
	}
	latest, err := p.rpc.GetBlockByNumber(ctx, nil)
	if err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.LatestPolledBlock.Set(float64(latest.NumberU64()))
	}
	if latest.Hash() == p.lastPolledHash {
		return nil
	}
	p.lastPolledHash = latest.Hash()
	p.pipe.Enqueue(latest)
	return nil
}
