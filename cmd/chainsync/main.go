// Command chainsync runs the real-time chain synchronization core: one
// or more Pipeline+Supervisor+Poller trios reading from upstream JSON-RPC
// endpoints, emitting BlockEvent/ReorgEvent/FinalizeEvent onto a shared
// in-process event bus that fans out to the configured downstream
// transport (local, Redis, Kafka) and, optionally, a WebSocket hub.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/chainsync/internal/config"
	"github.com/0xmhha/chainsync/internal/logger"
	"github.com/0xmhha/chainsync/pkg/api"
	"github.com/0xmhha/chainsync/pkg/chainsync/chain"
	"github.com/0xmhha/chainsync/pkg/chainsync/factory"
	"github.com/0xmhha/chainsync/pkg/chainsync/fetch"
	"github.com/0xmhha/chainsync/pkg/chainsync/pipeline"
	"github.com/0xmhha/chainsync/pkg/chainsync/poller"
	"github.com/0xmhha/chainsync/pkg/chainsync/rpcqueue"
	"github.com/0xmhha/chainsync/pkg/client"
	"github.com/0xmhha/chainsync/pkg/eventbus"
	"github.com/0xmhha/chainsync/pkg/events"
	"github.com/0xmhha/chainsync/pkg/multichain"
)

func main() {
	configFile := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewWithConfig(&logger.Config{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("chainsync exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// shutdown orders every long-lived component's teardown by
	// eventbus.ShutdownPriority*: the in-process sink first, then the
	// downstream transport, then the API server, then the chain
	// synchronization core last, mirroring the teacher's multi-component
	// shutdown sequencing.
	shutdown := eventbus.NewMultiComponentShutdown(30 * time.Second)

	sink := events.NewEventBusWithHistory(cfg.EventBus.PublishBufferSize, cfg.EventBus.HistorySize)
	sink.SetMetrics(events.NewMetrics("chainsync", "eventbus"))
	go sink.Run()

	transport, err := eventbus.NewEventBus(cfg)
	if err != nil {
		return fmt.Errorf("failed to build downstream event transport: %w", err)
	}
	go transport.Run()

	bridgeID := events.SubscriptionID("downstream-transport")
	bridge := sink.Subscribe(bridgeID, []events.EventType{
		events.EventTypeBlock,
		events.EventTypeReorg,
		events.EventTypeFinalize,
	}, cfg.EventBus.PublishBufferSize)
	go pumpToTransport(bridge, transport, log)

	shutdown.RegisterHook("sink", eventbus.ShutdownPriorityEventBus, func(context.Context) error {
		sink.Unsubscribe(bridgeID)
		sink.Stop()
		return nil
	})
	shutdown.RegisterHook("downstream-transport", transportShutdownPriority(cfg), func(context.Context) error {
		transport.Stop()
		return nil
	})

	var checker api.HealthChecker

	if cfg.MultiChain.Enabled {
		manager, err := multichain.NewManager(toManagerConfig(&cfg.MultiChain), sink, log)
		if err != nil {
			return fmt.Errorf("failed to build multichain manager: %w", err)
		}
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start multichain manager: %w", err)
		}
		shutdown.RegisterHook("multichain-manager", eventbus.ShutdownPriorityStorage, manager.Stop)
		checker = managerHealthChecker{manager}
	} else {
		single, err := newSingleChain(cfg, sink, log)
		if err != nil {
			return fmt.Errorf("failed to build single-chain core: %w", err)
		}
		single.Start(ctx)
		shutdown.RegisterHook("chain-core", eventbus.ShutdownPriorityStorage, func(context.Context) error {
			single.Stop()
			return nil
		})
		checker = single
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(&cfg.API, log, checker, sink)
		apiErrCh := make(chan error, 1)
		apiServer.Start(apiErrCh)
		shutdown.RegisterHook("api-server", eventbus.ShutdownPriorityAPI, apiServer.Stop)
		go func() {
			if err := <-apiErrCh; err != nil {
				log.Error("api server error", zap.Error(err))
			}
		}()
	}

	log.Info("chainsync started")
	<-ctx.Done()
	log.Info("chainsync shutting down")
	return shutdown.Shutdown(context.Background())
}

// transportShutdownPriority picks the downstream transport's shutdown
// priority to match its backend. Higher priorities shut down first: a
// plain local bus shares the sink's ShutdownPriorityEventBus, while Kafka
// and Redis producers take their lower priorities and so shut down after
// the sink has stopped feeding them.
func transportShutdownPriority(cfg *config.Config) int {
	switch cfg.EventBus.Type {
	case "kafka":
		return eventbus.ShutdownPriorityKafka
	case "redis", "hybrid":
		return eventbus.ShutdownPriorityRedis
	default:
		return eventbus.ShutdownPriorityEventBus
	}
}

func pumpToTransport(sub *events.Subscription, transport eventbus.EventBus, log *zap.Logger) {
	for event := range sub.Channel {
		if !transport.Publish(event) {
			log.Warn("downstream transport dropped event", zap.String("type", event.Type().String()))
		}
	}
}

// toManagerConfig adapts internal/config's YAML-facing MultiChainConfig
// into pkg/multichain's ManagerConfig, mapping the path-based
// ChainConfig.Sources field to a nil *chain.Sources since no on-disk
// filter-source loader exists yet (see DESIGN.md).
func toManagerConfig(c *config.MultiChainConfig) *multichain.ManagerConfig {
	mc := &multichain.ManagerConfig{
		Enabled:              c.Enabled,
		HealthCheckInterval:  c.HealthCheckInterval,
		MaxUnhealthyDuration: c.MaxUnhealthyDuration,
		AutoRestart:          c.AutoRestart,
		AutoRestartDelay:     c.AutoRestartDelay,
	}
	for _, cc := range c.Chains {
		mc.Chains = append(mc.Chains, multichain.ChainConfig{
			ID:                 cc.ID,
			Name:               cc.Name,
			RPCEndpoint:        cc.RPCEndpoint,
			ChainID:            cc.ChainID,
			Enabled:            cc.Enabled,
			FinalityBlockCount: cc.FinalityBlockCount,
			PollingInterval:    cc.PollingInterval,
		})
	}
	return mc
}

// managerHealthChecker adapts *multichain.Manager to api.HealthChecker
// without pkg/api importing pkg/multichain.
type managerHealthChecker struct {
	manager *multichain.Manager
}

func (m managerHealthChecker) HealthCheck(ctx context.Context) map[string]*api.HealthReport {
	out := make(map[string]*api.HealthReport)
	for id, hs := range m.manager.HealthCheck(ctx) {
		out[id] = &api.HealthReport{
			ChainID:       hs.ChainID,
			Status:        string(hs.Status),
			IsHealthy:     hs.IsHealthy,
			LatestHeight:  hs.LatestHeight,
			IndexedHeight: hs.IndexedHeight,
			SyncLag:       hs.SyncLag,
			LastError:     hs.LastError,
			CheckedAt:     hs.CheckedAt,
		}
	}
	return out
}

// singleChain wires one chain's synchronization core directly, without
// the multichain Manager/Registry/HealthChecker machinery, for the
// common single-network deployment.
type singleChain struct {
	client     *client.Client
	rpc        rpcqueue.Queue
	pipeline   *pipeline.Pipeline
	supervisor *pipeline.Supervisor
	poller     *poller.Poller
	logger     *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newSingleChain(cfg *config.Config, sink events.Sink, log *zap.Logger) (*singleChain, error) {
	c, err := client.NewClient(&client.Config{
		Endpoint: cfg.RPC.Endpoint,
		Timeout:  cfg.RPC.Timeout,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	rpc := rpcqueue.New(c, &rpcqueue.Config{
		RateLimitRPS: cfg.RPC.RateLimitRPS,
		BurstSize:    cfg.RPC.BurstSize,
	}, log)

	// No on-disk filter-source loader exists yet (see DESIGN.md): an
	// empty Sources ingests every block for finality/reorg bookkeeping
	// but builds no records.
	sources := &chain.Sources{}
	tracker := factory.NewTracker(sources.Factories)
	tracker.SetLogger(log)
	fetcher := fetch.New(rpc, tracker, 0, log)

	network := chain.Network{
		Name:               cfg.ChainSync.Network,
		FinalityBlockCount: cfg.ChainSync.Pipeline.FinalityBlockCount,
		PollingInterval:    uint64(cfg.ChainSync.Poller.Interval / time.Millisecond),
	}

	pipelineMetrics := pipeline.NewMetrics("chainsync", "pipeline")
	pipe := pipeline.New(pipeline.Config{
		Network:   network,
		Sources:   sources,
		Tracker:   tracker,
		Fetcher:   fetcher,
		RPC:       rpc,
		Sink:      sink,
		Logger:    log,
		QueueSize: cfg.ChainSync.Pipeline.MaxQueuedBlocks,
		Metrics:   pipelineMetrics,
	})

	sup := pipeline.NewSupervisor(pipe, log, pipelineMetrics)
	p := poller.New(poller.Config{
		RPC:             rpc,
		Pipeline:        pipe,
		Sink:            sink,
		Logger:          log,
		Metrics:         poller.NewMetrics("chainsync", "poller"),
		PollingInterval: cfg.ChainSync.Poller.Interval,
	})

	return &singleChain{
		client:     c,
		rpc:        rpc,
		pipeline:   pipe,
		supervisor: sup,
		poller:     p,
		logger:     log,
		done:       make(chan struct{}),
	}, nil
}

func (s *singleChain) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.done)
		go s.poller.Run(runCtx)
		s.supervisor.Run(runCtx)
	}()
}

func (s *singleChain) Stop() {
	s.pipeline.Close()
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	s.client.Close()
}

func (s *singleChain) HealthCheck(_ context.Context) map[string]*api.HealthReport {
	finalized := s.pipeline.FinalizedBlock()
	unfinalized := s.pipeline.UnfinalizedBlocks()
	indexed := finalized.Number
	if n := len(unfinalized); n > 0 {
		indexed = unfinalized[n-1].Number
	}

	latest, err := s.client.GetLatestBlockNumber(context.Background())
	report := &api.HealthReport{
		ChainID:       "default",
		IndexedHeight: indexed,
		CheckedAt:     time.Now(),
	}
	if err != nil {
		report.Status = "error"
		report.LastError = err.Error()
		return map[string]*api.HealthReport{"default": report}
	}

	report.LatestHeight = latest
	if latest > indexed {
		report.SyncLag = latest - indexed
	}
	report.IsHealthy = true
	report.Status = "active"
	return map[string]*api.HealthReport{"default": report}
}
