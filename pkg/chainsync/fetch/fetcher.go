// Package fetch implements the Block Fetcher: given a full block (with
// its transactions array already populated), retrieves the logs,
// traces, and receipts downstream filtering requires, and runs the
// cross-validation checks that catch a lagging or inconsistent RPC node.
//
// Grounded on the teacher's pkg/fetch fetcher.go/fetcher_events.go
// orchestration and zap-logging idiom, generalized from batch-historical
// fetch semantics to single-block realtime semantics.
package fetch

import (
	"context"
	"fmt"
	"math/big"

	"github.com/0xmhha/chainsync/pkg/chainsync/chain"
	"github.com/0xmhha/chainsync/pkg/chainsync/factory"
	"github.com/0xmhha/chainsync/pkg/chainsync/filter"
	"github.com/0xmhha/chainsync/pkg/chainsync/rpcqueue"
	"github.com/0xmhha/chainsync/pkg/chainsync/trace"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Fetcher retrieves and validates everything a Sources configuration
// needs from one block.
type Fetcher struct {
	queue   rpcqueue.Queue
	tracker *factory.Tracker
	chainID uint64
	signer  types.Signer
	logger  *zap.Logger
}

// New returns a Fetcher for chainID, backed by queue and tracker.
func New(queue rpcqueue.Queue, tracker *factory.Tracker, chainID uint64, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		queue:   queue,
		tracker: tracker,
		chainID: chainID,
		signer:  types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)),
		logger:  logger.Named("chainsync.fetch"),
	}
}

// Signer returns the chain signer used to recover transaction senders,
// for callers (the Event Builder) that re-derive sender addresses after
// the fetch has completed.
func (f *Fetcher) Signer() types.Signer {
	return f.signer
}

// FetchBlockData runs the six-step fetch sequence against block, using
// sources to decide what to fetch and pre-filter.
func (f *Fetcher) FetchBlockData(ctx context.Context, block *types.Block, sources *chain.Sources) (*chain.BlockWithEventData, error) {
	result := &chain.BlockWithEventData{Block: block}

	logs, err := f.fetchLogs(ctx, block, sources.LogFilters())
	if err != nil {
		return nil, err
	}
	result.Logs = logs

	traces, err := f.fetchTraces(ctx, block, sources.Filters)
	if err != nil {
		return nil, err
	}
	result.Traces = traces

	result.FactoryLogs = f.tracker.RecordFactoryLogs(block.Hash(), block.NumberU64(), logs)

	requiredTxHashes := f.weakPreFilter(block, sources.Filters, logs, traces)

	result.Transactions = f.selectTransactions(block, sources.Filters, requiredTxHashes)

	receipts, err := f.fetchReceipts(ctx, block.NumberU64(), sources.Filters, result.Transactions)
	if err != nil {
		return nil, err
	}
	result.Receipts = receipts

	return result, nil
}

// fetchLogs implements step 1. It skips the RPC call when the bloom
// predicate rules out every configured log filter and the block's
// logsBloom is nonzero.
func (f *Fetcher) fetchLogs(ctx context.Context, block *types.Block, logFilters []*filter.LogFilter) ([]*types.Log, error) {
	bloom := block.Bloom()
	if len(logFilters) == 0 {
		return nil, nil
	}
	if bloom != (types.Bloom{}) && !filter.MayContainLogs(bloom, logFilters) {
		return nil, nil
	}

	logs, err := f.queue.GetLogs(ctx, block.Hash())
	if err != nil {
		return nil, fmt.Errorf("fetch logs for block %s: %w", block.Hash().Hex(), err)
	}

	if bloom != (types.Bloom{}) && len(logs) == 0 {
		return nil, inconsistent("nonzero logsBloom but no logs returned")
	}
	for _, l := range logs {
		if l.BlockHash != block.Hash() {
			return nil, inconsistent(fmt.Sprintf("log blockHash %s != requested %s", l.BlockHash.Hex(), block.Hash().Hex()))
		}
	}
	return logs, nil
}

// fetchTraces implements step 2.
func (f *Fetcher) fetchTraces(ctx context.Context, block *types.Block, filters []filter.Filter) ([]*trace.Frame, error) {
	if !needsTraces(filters) {
		return nil, nil
	}

	frames, err := f.queue.DebugTraceBlockByHash(ctx, block.Hash())
	if err != nil {
		return nil, fmt.Errorf("fetch traces for block %s: %w", block.Hash().Hex(), err)
	}

	if len(block.Transactions()) > 0 && len(frames) == 0 {
		return nil, inconsistent("block has transactions but no traces returned")
	}

	known := make(map[common.Hash]struct{}, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		known[tx.Hash()] = struct{}{}
	}
	for _, fr := range frames {
		if _, ok := known[fr.TransactionHash]; !ok {
			return nil, inconsistent(fmt.Sprintf("trace references unknown transaction %s", fr.TransactionHash.Hex()))
		}
	}
	return frames, nil
}

func needsTraces(filters []filter.Filter) bool {
	for _, f := range filters {
		switch f.Kind() {
		case filter.KindTrace, filter.KindTransfer:
			return true
		}
	}
	return false
}

// weakPreFilter implements step 4: apply filters without factory
// membership (factory references treated as wildcards) to compute the
// superset of transaction hashes the pipeline will need.
func (f *Fetcher) weakPreFilter(block *types.Block, filters []filter.Filter, logs []*types.Log, traces []*trace.Frame) map[common.Hash]struct{} {
	required := make(map[common.Hash]struct{})
	number := block.NumberU64()

	for _, fl := range filters {
		switch v := fl.(type) {
		case *filter.LogFilter:
			for _, l := range logs {
				if filter.MatchLog(v, number, l, factory.Wildcard) {
					required[l.TxHash] = struct{}{}
				}
			}
		case *filter.TraceFilter:
			for _, tr := range traces {
				if filter.MatchTrace(v, v.InRange(number), tr, factory.Wildcard) {
					required[tr.TransactionHash] = struct{}{}
				}
			}
		case *filter.TransferFilter:
			for _, tr := range traces {
				if filter.MatchTransfer(v, v.InRange(number), tr, factory.Wildcard) {
					required[tr.TransactionHash] = struct{}{}
				}
			}
		}
	}
	return required
}

// selectTransactions implements step 5: retain transactions whose hash
// is in requiredTxHashes, or which directly match a TransactionFilter.
func (f *Fetcher) selectTransactions(block *types.Block, filters []filter.Filter, requiredTxHashes map[common.Hash]struct{}) []*types.Transaction {
	number := block.NumberU64()
	var out []*types.Transaction
	for _, tx := range block.Transactions() {
		if _, ok := requiredTxHashes[tx.Hash()]; ok {
			out = append(out, tx)
			continue
		}
		if f.matchesAnyTransactionFilter(number, tx, filters) {
			out = append(out, tx)
		}
	}
	return out
}

func (f *Fetcher) matchesAnyTransactionFilter(number uint64, tx *types.Transaction, filters []filter.Filter) bool {
	var sender common.Address
	if s, err := types.Sender(f.signer, tx); err == nil {
		sender = s
	}
	for _, fl := range filters {
		tf, ok := fl.(*filter.TransactionFilter)
		if !ok {
			continue
		}
		if filter.MatchTransaction(tf, number, tx, sender, factory.Wildcard) {
			return true
		}
	}
	return false
}

// fetchReceipts implements step 6: fetch receipts only for transactions
// matching a TransactionFilter configured with IncludeReverted == false.
func (f *Fetcher) fetchReceipts(ctx context.Context, number uint64, filters []filter.Filter, transactions []*types.Transaction) ([]*types.Receipt, error) {
	needReceipt := make(map[common.Hash]struct{})
	var txFilters []*filter.TransactionFilter
	for _, fl := range filters {
		if tf, ok := fl.(*filter.TransactionFilter); ok && !tf.IncludeReverted {
			txFilters = append(txFilters, tf)
		}
	}
	if len(txFilters) == 0 {
		return nil, nil
	}

	for _, tx := range transactions {
		var sender common.Address
		if s, err := types.Sender(f.signer, tx); err == nil {
			sender = s
		}
		for _, tf := range txFilters {
			if filter.MatchTransaction(tf, number, tx, sender, factory.Wildcard) {
				needReceipt[tx.Hash()] = struct{}{}
				break
			}
		}
	}
	if len(needReceipt) == 0 {
		return nil, nil
	}

	var receipts []*types.Receipt
	for hash := range needReceipt {
		receipt, err := f.queue.GetTransactionReceipt(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("fetch receipt for %s: %w", hash.Hex(), err)
		}
		if receipt.TxHash != hash {
			return nil, inconsistent(fmt.Sprintf("receipt txHash %s != requested %s", receipt.TxHash.Hex(), hash.Hex()))
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}
