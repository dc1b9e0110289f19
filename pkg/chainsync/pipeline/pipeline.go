package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/0xmhha/chainsync/internal/constants"
	"github.com/0xmhha/chainsync/pkg/chainsync/builder"
	"github.com/0xmhha/chainsync/pkg/chainsync/chain"
	"github.com/0xmhha/chainsync/pkg/chainsync/factory"
	"github.com/0xmhha/chainsync/pkg/chainsync/fetch"
	"github.com/0xmhha/chainsync/pkg/chainsync/rpcqueue"
	"github.com/0xmhha/chainsync/pkg/events"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Pipeline is the Reorg-Safe Pipeline: a single-consumer state machine
// that classifies every dequeued block against the current head
// (duplicate / reorg-below-head / gap-fill / happy-path / reorg-adjacent),
// maintains the finalized/unfinalized block lists and the factory
// tracker's membership sets, builds and emits events, and drives
// finalization.
//
// Run's goroutine is the sole writer of finalizedBlock/unfinalizedBlocks,
// but every access (including the writer's own) goes through mu so the
// read-only accessors a health endpoint or the Supervisor calls from
// another goroutine never race it.
type Pipeline struct {
	chainID uint64
	network chain.Network
	sources *chain.Sources

	tracker *factory.Tracker
	fetcher *fetch.Fetcher
	rpc     rpcqueue.Queue
	queue   *BlockQueue
	sink    events.Sink
	logger  *zap.Logger
	metrics *Metrics

	mu                sync.RWMutex
	finalizedBlock    chain.LightBlock
	unfinalizedBlocks []chain.LightBlock
}

// Config bundles a Pipeline's collaborators and initial state.
type Config struct {
	Network        chain.Network
	Sources        *chain.Sources
	Tracker        *factory.Tracker
	Fetcher        *fetch.Fetcher
	RPC            rpcqueue.Queue
	Sink           events.Sink
	Logger         *zap.Logger
	Metrics        *Metrics
	QueueSize      int
	FinalizedBlock chain.LightBlock
}

// New returns a Pipeline seeded at cfg.FinalizedBlock, with no unfinalized
// blocks yet ingested.
func New(cfg Config) *Pipeline {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = constants.MaxQueuedBlocks
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		chainID:        cfg.Network.ChainID,
		network:        cfg.Network,
		sources:        cfg.Sources,
		tracker:        cfg.Tracker,
		fetcher:        cfg.Fetcher,
		rpc:            cfg.RPC,
		queue:          NewBlockQueue(queueSize),
		sink:           cfg.Sink,
		logger:         logger.Named("chainsync.pipeline"),
		metrics:        cfg.Metrics,
		finalizedBlock: cfg.FinalizedBlock,
	}
}

// Enqueue offers a freshly fetched raw block to the pipeline's queue. The
// poller and the pipeline's own gap-fill/reorg paths are the only callers.
func (p *Pipeline) Enqueue(block *types.Block) bool {
	ok := p.queue.Enqueue(block)
	p.reportQueueDepth()
	return ok
}

// Close shuts the pipeline's queue down, letting Run drain and return.
func (p *Pipeline) Close() {
	p.queue.Close()
}

// Run is the pipeline's single consumer loop. It returns when the queue
// is closed and drained, or when ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, ok := p.queue.Dequeue()
		if !ok {
			return
		}
		p.reportQueueDepth()

		if err := p.process(ctx, raw); err != nil {
			if err == ErrUnrecoverableReorg {
				if p.metrics != nil {
					p.metrics.FatalErrorsTotal.Inc()
				}
				p.logger.Error("unrecoverable reorg, promoting to fatal", zap.Error(err))
				p.sink.OnFatalError(err)
				return
			}
			// Backoff and fatal promotion for retryable/transient
			// failures live in Supervisor.Run (see supervisor.go), a
			// separate consumer loop; Run itself logs the failure and
			// keeps consuming.
			p.logger.Warn("block ingest failed", zap.Uint64("block", raw.NumberU64()), zap.Error(err))
		}
	}
}

func (p *Pipeline) reportQueueDepth() {
	if p.metrics != nil {
		p.metrics.QueueDepth.Set(float64(p.queue.Len()))
	}
}

// head returns the current chain tip: the last unfinalized block, or the
// finalized block if none are unfinalized yet.
func (p *Pipeline) head() chain.LightBlock {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.headLocked()
}

func (p *Pipeline) headLocked() chain.LightBlock {
	if n := len(p.unfinalizedBlocks); n > 0 {
		return p.unfinalizedBlocks[n-1]
	}
	return p.finalizedBlock
}

// process classifies raw against the current head and dispatches to the
// matching path. Called only from Run's goroutine.
func (p *Pipeline) process(ctx context.Context, raw *types.Block) error {
	head := p.head()
	number := raw.NumberU64()
	hash := raw.Hash()

	switch {
	case hash == head.Hash:
		return nil // duplicate, no-op
	case number <= head.Number:
		return p.reorgPath(ctx, raw)
	case number == head.Number+1 && raw.ParentHash() == head.Hash:
		return p.happyPath(ctx, raw)
	case number == head.Number+1:
		return p.reorgPath(ctx, raw)
	default: // number > head.Number+1
		return p.gapFill(ctx, raw, head)
	}
}

// happyPath implements the ingest sub-steps for a block that extends the
// current head directly.
func (p *Pipeline) happyPath(ctx context.Context, raw *types.Block) error {
	data, err := p.fetcher.FetchBlockData(ctx, raw, p.sources)
	if err != nil {
		return fmt.Errorf("fetch block %d: %w", raw.NumberU64(), err)
	}

	// (a) commit this block's factory log matches into the unfinalized set.
	p.tracker.Ingest(raw.Hash())

	// (b) re-run the filter engine with real factory membership applied,
	// building the canonically ordered event records.
	records, matched := builder.BuildEvents(data, p.sources, p.network, p.tracker, p.fetcher.Signer())

	// (c) append the LightBlock projection.
	lb := data.ToLightBlock()
	unfinalizedLen, finalizedNumber := p.appendUnfinalized(lb)

	// (d) release the heavy transaction bodies.
	data.DropTransactions()

	// (e) emit the block event.
	if err := p.sink.OnEvent(ctx, &events.BlockEvent{
		Chain:   p.chainID,
		Block:   lb,
		Matched: matched,
		Records: records,
	}); err != nil {
		p.logger.Warn("sink rejected block event", zap.Uint64("block", lb.Number), zap.Error(err))
	}

	if p.metrics != nil {
		p.metrics.BlocksIngestedTotal.Inc()
		p.metrics.UnfinalizedBlocks.Set(float64(unfinalizedLen))
		p.metrics.FinalizeLag.Set(float64(lb.Number - finalizedNumber))
	}

	// (f) test and perform finalization.
	return p.maybeFinalize(ctx, lb)
}

// appendUnfinalized appends lb to unfinalizedBlocks and returns the new
// length plus the current finalized block's number, for metrics.
func (p *Pipeline) appendUnfinalized(lb chain.LightBlock) (int, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unfinalizedBlocks = append(p.unfinalizedBlocks, lb)
	return len(p.unfinalizedBlocks), p.finalizedBlock.Number
}

// maybeFinalize promotes the contiguous prefix of unfinalizedBlocks ending
// finalityBlockCount behind incoming once incoming is at least
// 2*finalityBlockCount ahead of the last finalized block.
func (p *Pipeline) maybeFinalize(ctx context.Context, incoming chain.LightBlock) error {
	newFinalized, promotedHashes, remainingHashes, unfinalizedLen, ok := p.promoteLocked(incoming)
	if !ok {
		return nil
	}

	p.tracker.Finalize(promotedHashes, remainingHashes)

	if p.metrics != nil {
		p.metrics.FinalizationsTotal.Inc()
		p.metrics.UnfinalizedBlocks.Set(float64(unfinalizedLen))
	}

	if err := p.sink.OnEvent(ctx, &events.FinalizeEvent{
		Chain:          p.chainID,
		FinalizedBlock: newFinalized,
	}); err != nil {
		p.logger.Warn("sink rejected finalize event", zap.Uint64("block", newFinalized.Number), zap.Error(err))
	}
	return nil
}

// promoteLocked performs the finalization state transition under mu and
// reports whether a promotion happened.
func (p *Pipeline) promoteLocked(incoming chain.LightBlock) (newFinalized chain.LightBlock, promoted, remaining []common.Hash, unfinalizedLen int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := 2 * p.network.FinalityBlockCount
	if incoming.Number < p.finalizedBlock.Number+threshold {
		return chain.LightBlock{}, nil, nil, len(p.unfinalizedBlocks), false
	}
	targetNumber := incoming.Number - p.network.FinalityBlockCount

	idx := -1
	for i, lb := range p.unfinalizedBlocks {
		if lb.Number == targetNumber {
			idx = i
			break
		}
	}
	if idx == -1 {
		return chain.LightBlock{}, nil, nil, len(p.unfinalizedBlocks), false
	}

	promotedBlocks := p.unfinalizedBlocks[:idx+1]
	remainingBlocks := p.unfinalizedBlocks[idx+1:]
	newFinalized = promotedBlocks[len(promotedBlocks)-1]

	promoted = hashesOf(promotedBlocks)
	remaining = hashesOf(remainingBlocks)

	p.finalizedBlock = newFinalized
	p.unfinalizedBlocks = append([]chain.LightBlock{}, remainingBlocks...)

	return newFinalized, promoted, remaining, len(p.unfinalizedBlocks), true
}

// gapFill implements the out-of-order path: fetch the missing range
// between head and raw (bounded by MaxQueuedBlocks), enqueue it ahead of
// raw, and let the consumer loop resolve it block by block.
func (p *Pipeline) gapFill(ctx context.Context, raw *types.Block, head chain.LightBlock) error {
	start := head.Number + 1
	end := raw.NumberU64() - 1
	if end > start+uint64(constants.MaxQueuedBlocks)-1 {
		end = start + uint64(constants.MaxQueuedBlocks) - 1
	}

	p.queue.Clear()

	filled := 0
	for n := start; n <= end; n++ {
		b, err := p.rpc.GetBlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return fmt.Errorf("gap-fill block %d: %w", n, err)
		}
		p.queue.Enqueue(b)
		filled++
	}
	p.queue.Enqueue(raw)

	if p.metrics != nil {
		p.metrics.GapFillBlocksTotal.Add(float64(filled))
	}
	p.reportQueueDepth()
	p.logger.Info("gap fill", zap.Uint64("from", start), zap.Uint64("to", end), zap.Uint64("trigger", raw.NumberU64()))
	return nil
}

// reorgPath implements the reorg-detection sub-steps: rewind
// unfinalizedBlocks until a common ancestor with raw's chain is found (or
// unfinalizedBlocks is exhausted, which is unrecoverable since it would
// reorg a block already treated as final), recompute factory state, and
// emit a reorg event.
func (p *Pipeline) reorgPath(ctx context.Context, raw *types.Block) error {
	var reorgedBlocks []chain.LightBlock

	// (a) move every unfinalized block at or above raw's number into
	// reorgedBlocks, highest first.
	for {
		lb, ok := p.popUnfinalizedTailIfAtOrAbove(raw.NumberU64())
		if !ok {
			break
		}
		reorgedBlocks = append(reorgedBlocks, lb)
	}

	b := raw
	for {
		if p.head().Hash == b.ParentHash() {
			break
		}
		lb, ok := p.popUnfinalizedTail()
		if !ok {
			return ErrUnrecoverableReorg
		}
		reorgedBlocks = append(reorgedBlocks, lb)

		parent, err := p.rpc.GetBlockByHash(ctx, b.ParentHash())
		if err != nil {
			return fmt.Errorf("reorg walk-back fetch parent %s: %w", b.ParentHash().Hex(), err)
		}
		b = parent
	}

	commonAncestor, remainingHashes, unfinalizedLen := p.reorgSnapshotLocked()
	reorgedHashes := hashesOf(reorgedBlocks)
	p.tracker.Reorg(remainingHashes, reorgedHashes)

	if p.metrics != nil {
		p.metrics.ReorgsTotal.Inc()
		p.metrics.ReorgDepth.Observe(float64(len(reorgedBlocks)))
		p.metrics.UnfinalizedBlocks.Set(float64(unfinalizedLen))
	}

	if err := p.sink.OnEvent(ctx, &events.ReorgEvent{
		Chain:          p.chainID,
		CommonAncestor: commonAncestor,
		ReorgedBlocks:  reorgedBlocks,
	}); err != nil {
		p.logger.Warn("sink rejected reorg event", zap.Error(err))
	}

	// (g) clear stale queued work, then re-offer the block that triggered
	// the reorg so the consumer loop resolves it (directly on the happy
	// path for a one-block reorg, or via gap-fill for a deeper one).
	p.queue.Clear()
	p.queue.Enqueue(raw)
	p.reportQueueDepth()
	return nil
}

func (p *Pipeline) popUnfinalizedTailIfAtOrAbove(number uint64) (chain.LightBlock, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.unfinalizedBlocks)
	if n == 0 || p.unfinalizedBlocks[n-1].Number < number {
		return chain.LightBlock{}, false
	}
	lb := p.unfinalizedBlocks[n-1]
	p.unfinalizedBlocks = p.unfinalizedBlocks[:n-1]
	return lb, true
}

func (p *Pipeline) popUnfinalizedTail() (chain.LightBlock, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.unfinalizedBlocks)
	if n == 0 {
		return chain.LightBlock{}, false
	}
	lb := p.unfinalizedBlocks[n-1]
	p.unfinalizedBlocks = p.unfinalizedBlocks[:n-1]
	return lb, true
}

func (p *Pipeline) reorgSnapshotLocked() (chain.LightBlock, []common.Hash, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.headLocked(), hashesOf(p.unfinalizedBlocks), len(p.unfinalizedBlocks)
}

func hashesOf(blocks []chain.LightBlock) []common.Hash {
	out := make([]common.Hash, len(blocks))
	for i, b := range blocks {
		out[i] = b.Hash
	}
	return out
}

// UnfinalizedBlocks returns a snapshot copy of the current unfinalized
// list, for read-only external inspection.
func (p *Pipeline) UnfinalizedBlocks() []chain.LightBlock {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]chain.LightBlock, len(p.unfinalizedBlocks))
	copy(out, p.unfinalizedBlocks)
	return out
}

// FinalizedBlock returns the current finalized block.
func (p *Pipeline) FinalizedBlock() chain.LightBlock {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.finalizedBlock
}

// FinalizedChildAddresses exposes the factory tracker's finalized
// membership set for f.
func (p *Pipeline) FinalizedChildAddresses(f *factory.Factory) []common.Address {
	return p.tracker.FinalizedChildAddresses(f)
}

// UnfinalizedChildAddresses exposes the factory tracker's unfinalized
// membership set for f.
func (p *Pipeline) UnfinalizedChildAddresses(f *factory.Factory) []common.Address {
	return p.tracker.UnfinalizedChildAddresses(f)
}

// QueueStats reports lifetime queue counters for metrics/introspection.
func (p *Pipeline) QueueStats() (enqueued, dequeued, dropped int64, size int) {
	return p.queue.Stats()
}
