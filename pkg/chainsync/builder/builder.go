package builder

import (
	"sort"

	"github.com/0xmhha/chainsync/pkg/chainsync/chain"
	"github.com/0xmhha/chainsync/pkg/chainsync/factory"
	"github.com/0xmhha/chainsync/pkg/chainsync/filter"
	"github.com/0xmhha/chainsync/pkg/chainsync/trace"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RawEvent is one emitted record: a log, a transaction, a trace/transfer,
// or a block, carrying its total-order checkpoint and the indices of the
// source filters (in the user's declared source list) it satisfied. A
// record is emitted once even when several filters of its kind match it,
// so that distinct records never share a checkpoint; SourceIndices lists
// every filter that matched.
type RawEvent struct {
	Kind          EventKind
	Checkpoint    Checkpoint
	SourceIndices []int
	IsTransfer    bool // true when Kind == EventTrace and the match came from a TransferFilter

	Block       *chain.LightBlock
	Log         *types.Log
	Transaction *types.Transaction
	Trace       *trace.Frame
	// Receipt is the transaction's receipt, present only when at least one
	// matching TransactionFilter has IncludeReverted == false. Callers must
	// nil-check: a nil Receipt does not mean the transaction reverted.
	Receipt *types.Receipt
}

// BuildEvents converts block into the canonically ordered sequence of
// RawEvents matched against sources, re-applying every filter with
// factory membership resolved through snapshot. It also returns the
// MatchedFilters summary (distinct source indices touched per kind),
// which the pipeline attaches to the block's "block" event.
//
// signer recovers each transaction's sender once; factory-referenced
// fromAddress/toAddress constraints on TraceFilter, TransferFilter, and
// TransactionFilter are matched against factory.Wildcard regardless of
// snapshot, per the documented lenient-factory-reference decision —
// TODO(filter): trace/transfer/transaction filters do not yet check
// factory membership on fromAddress/toAddress.
func BuildEvents(block *chain.BlockWithEventData, sources *chain.Sources, network chain.Network, snapshot factory.Snapshot, signer types.Signer) ([]*RawEvent, chain.MatchedFilters) {
	lb := block.ToLightBlock()
	number := lb.Number

	txIndex := make(map[common.Hash]uint64, len(block.Block.Transactions()))
	for i, tx := range block.Block.Transactions() {
		txIndex[tx.Hash()] = uint64(i)
	}

	var events []*RawEvent
	var matched chain.MatchedFilters

	logEvents := buildLogEvents(block, sources, number, snapshot)
	events = append(events, logEvents...)
	matched.Logs = sourceSet(logEvents)

	txEvents, receiptsByHash := buildTransactionEvents(block, sources, number, signer)
	events = append(events, txEvents...)
	matched.Transactions = sourceSet(txEvents)

	traceEvents, transferEvents := buildTraceEvents(block, sources, number, txIndex)
	events = append(events, traceEvents...)
	events = append(events, transferEvents...)
	matched.Traces = sourceSet(traceEvents)
	matched.Transfers = sourceSet(transferEvents)

	blockEvents := buildBlockEvents(sources, number)
	events = append(events, blockEvents...)
	matched.Blocks = sourceSet(blockEvents)

	for _, ev := range events {
		ev.Block = &lb
		ev.Checkpoint.BlockTimestamp = lb.Timestamp
		ev.Checkpoint.ChainID = network.ChainID
		ev.Checkpoint.BlockNumber = number
		if ev.Kind == EventTransaction && ev.Transaction != nil {
			ev.Receipt = receiptsByHash[ev.Transaction.Hash()]
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Checkpoint.Less(events[j].Checkpoint)
	})

	return events, matched
}

func buildLogEvents(block *chain.BlockWithEventData, sources *chain.Sources, number uint64, snapshot factory.Snapshot) []*RawEvent {
	var out []*RawEvent
	for _, log := range block.Logs {
		var idxs []int
		for _, fl := range sources.Filters {
			lf, ok := fl.(*filter.LogFilter)
			if !ok {
				continue
			}
			if filter.MatchLog(lf, number, log, snapshot) {
				idxs = append(idxs, lf.SourceIndex())
			}
		}
		if len(idxs) == 0 {
			continue
		}
		out = append(out, &RawEvent{
			Kind:          EventLog,
			SourceIndices: idxs,
			Log:           log,
			Checkpoint: Checkpoint{
				TransactionIndex: uint64(log.TxIndex),
				EventTypeRank:    EventLog.rank(),
				EventIndex:       uint64(log.Index),
			},
		})
	}
	return out
}

func buildTransactionEvents(block *chain.BlockWithEventData, sources *chain.Sources, number uint64, signer types.Signer) ([]*RawEvent, map[common.Hash]*types.Receipt) {
	receiptsByHash := make(map[common.Hash]*types.Receipt, len(block.Receipts))
	for _, r := range block.Receipts {
		receiptsByHash[r.TxHash] = r
	}

	var out []*RawEvent
	for i, tx := range block.Transactions {
		var sender common.Address
		if s, err := types.Sender(signer, tx); err == nil {
			sender = s
		}
		var idxs []int
		for _, fl := range sources.Filters {
			tf, ok := fl.(*filter.TransactionFilter)
			if !ok {
				continue
			}
			if filter.MatchTransaction(tf, number, tx, sender, factory.Wildcard) {
				idxs = append(idxs, tf.SourceIndex())
			}
		}
		if len(idxs) == 0 {
			continue
		}
		out = append(out, &RawEvent{
			Kind:          EventTransaction,
			SourceIndices: idxs,
			Transaction:   tx,
			Checkpoint: Checkpoint{
				TransactionIndex: uint64(i),
				EventTypeRank:    EventTransaction.rank(),
				EventIndex:       0,
			},
		})
	}
	return out, receiptsByHash
}

func buildTraceEvents(block *chain.BlockWithEventData, sources *chain.Sources, number uint64, txIndex map[common.Hash]uint64) ([]*RawEvent, []*RawEvent) {
	var traceOut, transferOut []*RawEvent
	for _, tr := range block.Traces {
		var traceIdxs, transferIdxs []int
		for _, fl := range sources.Filters {
			switch v := fl.(type) {
			case *filter.TraceFilter:
				if filter.MatchTrace(v, v.InRange(number), tr, factory.Wildcard) {
					traceIdxs = append(traceIdxs, v.SourceIndex())
				}
			case *filter.TransferFilter:
				if filter.MatchTransfer(v, v.InRange(number), tr, factory.Wildcard) {
					transferIdxs = append(transferIdxs, v.SourceIndex())
				}
			}
		}
		idx := txIndex[tr.TransactionHash]
		if len(traceIdxs) > 0 {
			traceOut = append(traceOut, &RawEvent{
				Kind:          EventTrace,
				SourceIndices: traceIdxs,
				Trace:         tr,
				Checkpoint: Checkpoint{
					TransactionIndex: idx,
					EventTypeRank:    EventTrace.rank(),
					EventIndex:       uint64(tr.Ordinal),
				},
			})
		}
		if len(transferIdxs) > 0 {
			transferOut = append(transferOut, &RawEvent{
				Kind:          EventTrace,
				IsTransfer:    true,
				SourceIndices: transferIdxs,
				Trace:         tr,
				Checkpoint: Checkpoint{
					TransactionIndex: idx,
					EventTypeRank:    EventTrace.rank(),
					EventIndex:       uint64(tr.Ordinal),
				},
			})
		}
	}
	return traceOut, transferOut
}

func buildBlockEvents(sources *chain.Sources, number uint64) []*RawEvent {
	var idxs []int
	for _, fl := range sources.Filters {
		bf, ok := fl.(*filter.BlockFilter)
		if !ok {
			continue
		}
		if filter.MatchBlock(bf, number) {
			idxs = append(idxs, bf.SourceIndex())
		}
	}
	if len(idxs) == 0 {
		return nil
	}
	return []*RawEvent{{
		Kind:          EventBlock,
		SourceIndices: idxs,
		Checkpoint: Checkpoint{
			TransactionIndex: sentinelTransactionIndex,
			EventTypeRank:    EventBlock.rank(),
			EventIndex:       0,
		},
	}}
}

func sourceSet(events []*RawEvent) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, ev := range events {
		for _, idx := range ev.SourceIndices {
			if _, ok := seen[idx]; !ok {
				seen[idx] = struct{}{}
				out = append(out, idx)
			}
		}
	}
	sort.Ints(out)
	return out
}
