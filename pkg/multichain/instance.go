package multichain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xmhha/chainsync/pkg/chainsync/chain"
	"github.com/0xmhha/chainsync/pkg/chainsync/factory"
	"github.com/0xmhha/chainsync/pkg/chainsync/fetch"
	"github.com/0xmhha/chainsync/pkg/chainsync/pipeline"
	"github.com/0xmhha/chainsync/pkg/chainsync/poller"
	"github.com/0xmhha/chainsync/pkg/chainsync/rpcqueue"
	"github.com/0xmhha/chainsync/pkg/client"
	"github.com/0xmhha/chainsync/pkg/events"
	"go.uber.org/zap"
)

// rpcStatter is satisfied by rpcqueue's concrete Queue implementation;
// asserted against for metrics export since Stats isn't part of the
// rpcqueue.Queue interface every other collaborator depends on.
type rpcStatter interface {
	Stats() (calls, retries int64)
}

// ChainInstance wraps one chain's synchronization core — rpcqueue,
// factory tracker, fetcher, pipeline, supervisor and poller — with the
// lifecycle and status bookkeeping the Manager/Registry/HealthChecker
// operate on.
type ChainInstance struct {
	Config   *ChainConfig
	Client   *client.Client
	RPC      rpcqueue.Queue
	Tracker  *factory.Tracker
	Fetcher  *fetch.Fetcher
	Pipeline *pipeline.Pipeline

	supervisor *pipeline.Supervisor
	poller     *poller.Poller

	sink   events.Sink
	logger *zap.Logger

	statusMu  sync.RWMutex
	status    ChainStatus
	startedAt *time.Time
	lastError string
	lastErrAt *time.Time

	createdAt time.Time

	ctx        context.Context
	cancelFunc context.CancelFunc
	runningWg  sync.WaitGroup
}

// NewChainInstance constructs an instance for cfg, wired to sink as its
// downstream event consumer. The RPC client/queue/pipeline are built
// lazily in Start so a registered-but-not-started chain never dials out.
func NewChainInstance(cfg *ChainConfig, sink events.Sink, logger *zap.Logger) *ChainInstance {
	return &ChainInstance{
		Config:    cfg,
		sink:      sink,
		logger:    logger.Named("chain").With(zap.String("chainId", cfg.ID)),
		status:    StatusRegistered,
		createdAt: time.Now(),
	}
}

// Start dials the chain's RPC endpoint and begins the synchronization
// core's consumer/poll loops in background goroutines.
func (ci *ChainInstance) Start(ctx context.Context) error {
	ci.setStatus(StatusStarting)

	if err := ci.initClient(); err != nil {
		ci.setError(err)
		return fmt.Errorf("%w: %v", ErrClientInitFailed, err)
	}
	ci.initCore()

	ci.ctx, ci.cancelFunc = context.WithCancel(ctx)

	ci.runningWg.Add(2)
	go func() {
		defer ci.runningWg.Done()
		ci.supervisor.Run(ci.ctx)
	}()
	go func() {
		defer ci.runningWg.Done()
		ci.poller.Run(ci.ctx)
	}()

	now := time.Now()
	ci.statusMu.Lock()
	ci.startedAt = &now
	ci.statusMu.Unlock()
	ci.setStatus(StatusActive)

	ci.logger.Info("chain instance started",
		zap.String("rpc", ci.Config.RPCEndpoint),
		zap.Uint64("chainId", ci.Config.ChainID))

	return nil
}

// Stop shuts the pipeline queue down, cancels the poller, and waits for
// both background loops to return.
func (ci *ChainInstance) Stop(ctx context.Context) error {
	ci.setStatus(StatusStopping)

	if ci.Pipeline != nil {
		ci.Pipeline.Close()
	}
	if ci.cancelFunc != nil {
		ci.cancelFunc()
	}

	done := make(chan struct{})
	go func() {
		ci.runningWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		ci.setStatus(StatusError)
		return ctx.Err()
	}

	if ci.Client != nil {
		ci.Client.Close()
	}

	ci.setStatus(StatusStopped)
	ci.logger.Info("chain instance stopped")
	return nil
}

// Status returns the instance's current lifecycle status.
func (ci *ChainInstance) Status() ChainStatus {
	ci.statusMu.RLock()
	defer ci.statusMu.RUnlock()
	return ci.status
}

// Info returns a read-only snapshot of this instance's identity.
func (ci *ChainInstance) Info() *ChainInfo {
	ci.statusMu.RLock()
	defer ci.statusMu.RUnlock()
	return &ChainInfo{
		ID:          ci.Config.ID,
		Name:        ci.Config.Name,
		ChainID:     ci.Config.ChainID,
		RPCEndpoint: ci.Config.RPCEndpoint,
		Status:      ci.status,
		StartHeight: ci.Config.StartHeight,
		CreatedAt:   ci.createdAt,
		StartedAt:   ci.startedAt,
	}
}

// HealthCheck reports this instance's current sync health, comparing the
// pipeline's tracked head against a fresh RPC poll of the chain tip.
func (ci *ChainInstance) HealthCheck(ctx context.Context) *HealthStatus {
	ci.statusMu.RLock()
	status := ci.status
	lastErr := ci.lastError
	lastErrAt := ci.lastErrAt
	startedAt := ci.startedAt
	ci.statusMu.RUnlock()

	hs := &HealthStatus{
		ChainID:       ci.Config.ID,
		Status:        status,
		LastError:     lastErr,
		LastErrorTime: lastErrAt,
		CheckedAt:     time.Now(),
	}
	if startedAt != nil {
		hs.Uptime = time.Since(*startedAt)
	}

	if ci.Pipeline != nil {
		finalized := ci.Pipeline.FinalizedBlock()
		unfinalized := ci.Pipeline.UnfinalizedBlocks()
		hs.IndexedHeight = finalized.Number
		if n := len(unfinalized); n > 0 {
			hs.IndexedHeight = unfinalized[n-1].Number
			hs.LastBlockTime = time.Unix(int64(unfinalized[n-1].Timestamp), 0)
		}
	}

	if ci.Client != nil {
		start := time.Now()
		latest, err := ci.Client.GetLatestBlockNumber(ctx)
		hs.RPCLatency = time.Since(start)
		if err != nil {
			hs.IsHealthy = false
			hs.LastError = err.Error()
			return hs
		}
		hs.LatestHeight = latest
		if latest > hs.IndexedHeight {
			hs.SyncLag = latest - hs.IndexedHeight
		}
	}

	hs.IsHealthy = status == StatusActive || status == StatusSyncing
	return hs
}

// GetMetrics returns a snapshot of this chain's operational counters.
func (ci *ChainInstance) GetMetrics() *ChainMetrics {
	m := &ChainMetrics{ChainID: ci.Config.ID}
	if ci.Pipeline != nil {
		m.FinalizedHeight = ci.Pipeline.FinalizedBlock().Number
		m.UnfinalizedBlocks = len(ci.Pipeline.UnfinalizedBlocks())
		_, dequeued, _, size := ci.Pipeline.QueueStats()
		m.BlocksIndexed = uint64(dequeued)
		m.QueueDepth = size
	}
	if ci.supervisor != nil {
		m.ConsecutiveErrors = ci.supervisor.ConsecutiveErrors()
	}
	if statter, ok := ci.RPC.(rpcStatter); ok {
		calls, retries := statter.Stats()
		m.RPCCalls = calls
		m.RPCRetries = retries
	}
	return m
}

// initClient dials the chain's RPC endpoint.
func (ci *ChainInstance) initClient() error {
	c, err := client.NewClient(&client.Config{
		Endpoint: ci.Config.RPCEndpoint,
		Timeout:  ci.Config.RPCTimeout,
		Logger:   ci.logger,
	})
	if err != nil {
		return err
	}
	ci.Client = c
	return nil
}

// initCore builds the rpcqueue, factory tracker, fetcher, pipeline,
// supervisor and poller that make up this chain's synchronization core.
func (ci *ChainInstance) initCore() {
	ci.RPC = rpcqueue.New(ci.Client, &rpcqueue.Config{
		RateLimitRPS: ci.Config.RateLimitRPS,
		BurstSize:    ci.Config.BurstSize,
	}, ci.logger)

	sources := ci.Config.sources()
	ci.Tracker = factory.NewTracker(sources.Factories)
	ci.Tracker.SetLogger(ci.logger)
	ci.Fetcher = fetch.New(ci.RPC, ci.Tracker, ci.Config.ChainID, ci.logger)

	ci.Pipeline = pipeline.New(pipeline.Config{
		Network:        ci.Config.network(),
		Sources:        sources,
		Tracker:        ci.Tracker,
		Fetcher:        ci.Fetcher,
		RPC:            ci.RPC,
		Sink:           ci.sink,
		Logger:         ci.logger,
		FinalizedBlock: chain.LightBlock{Number: ci.Config.StartHeight},
	})
	ci.supervisor = pipeline.NewSupervisor(ci.Pipeline, ci.logger, nil)
	ci.poller = poller.New(poller.Config{
		RPC:             ci.RPC,
		Pipeline:        ci.Pipeline,
		Sink:            ci.sink,
		Logger:          ci.logger,
		PollingInterval: ci.Config.PollingInterval,
	})
}

func (ci *ChainInstance) setStatus(status ChainStatus) {
	ci.statusMu.Lock()
	ci.status = status
	ci.statusMu.Unlock()
}

func (ci *ChainInstance) setError(err error) {
	now := time.Now()
	ci.statusMu.Lock()
	ci.status = StatusError
	ci.lastError = err.Error()
	ci.lastErrAt = &now
	ci.statusMu.Unlock()
}
