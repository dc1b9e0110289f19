package filter

import (
	"strings"

	"github.com/0xmhha/chainsync/pkg/chainsync/factory"
	"github.com/0xmhha/chainsync/pkg/chainsync/trace"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MatchLog reports whether log satisfies f at blockNumber. A missing
// topic slot (log has fewer topics than the slot index) never matches a
// non-absent constraint.
func MatchLog(f *LogFilter, blockNumber uint64, log *types.Log, snapshot factory.Snapshot) bool {
	if !f.InRange(blockNumber) {
		return false
	}
	if !f.Topic0.Match(topicAt(log, 0)) {
		return false
	}
	if !f.Topic1.Match(topicAt(log, 1)) {
		return false
	}
	if !f.Topic2.Match(topicAt(log, 2)) {
		return false
	}
	if !f.Topic3.Match(topicAt(log, 3)) {
		return false
	}
	addr := log.Address
	return f.Address.Match(&addr, snapshot)
}

func topicAt(log *types.Log, i int) *common.Hash {
	if i >= len(log.Topics) {
		return nil
	}
	h := log.Topics[i]
	return &h
}

// MatchTransaction reports whether tx satisfies f. sender is the tx's
// recovered "from" address (callers decode it once per transaction via
// types.Sender and pass it in, rather than re-deriving it per filter). A
// contract-creation transaction (tx.To() == nil) fails any non-absent
// ToAddress constraint.
func MatchTransaction(f *TransactionFilter, blockNumber uint64, tx *types.Transaction, sender common.Address, snapshot factory.Snapshot) bool {
	if !f.InRange(blockNumber) {
		return false
	}
	if !f.FromAddress.Match(&sender, snapshot) {
		return false
	}
	return f.ToAddress.Match(tx.To(), snapshot)
}

// MatchTrace reports whether frame satisfies f.
func MatchTrace(f *TraceFilter, blockInRange bool, frame *trace.Frame, snapshot factory.Snapshot) bool {
	if !blockInRange {
		return false
	}
	if f.CallType != "" && frame.Type != f.CallType {
		return false
	}
	if f.FunctionSelector != "" && !strings.EqualFold(f.FunctionSelector, frame.Selector()) {
		return false
	}
	from := frame.From
	if !f.FromAddress.Match(&from, snapshot) {
		return false
	}
	return f.ToAddress.Match(frame.To, snapshot)
}

// MatchTransfer reports whether frame satisfies f: in-range, a present
// non-zero value, and from/to address constraints. CallType and
// FunctionSelector are ignored.
func MatchTransfer(f *TransferFilter, blockInRange bool, frame *trace.Frame, snapshot factory.Snapshot) bool {
	if !blockInRange {
		return false
	}
	if frame.Value == nil || frame.Value.Sign() == 0 {
		return false
	}
	from := frame.From
	if !f.FromAddress.Match(&from, snapshot) {
		return false
	}
	return f.ToAddress.Match(frame.To, snapshot)
}

// MatchBlock reports whether blockNumber satisfies f: in-range and
// (blockNumber - offset) mod interval == 0.
func MatchBlock(f *BlockFilter, blockNumber uint64) bool {
	if !f.InRange(blockNumber) {
		return false
	}
	if f.Interval == 0 || blockNumber < f.Offset {
		return false
	}
	return (blockNumber-f.Offset)%f.Interval == 0
}

// MatchFactoryLog reports whether log is a discovery log for fct at
// blockNumber.
func MatchFactoryLog(fct *factory.Factory, blockNumber uint64, log *types.Log) bool {
	return fct.MatchesLog(blockNumber, log)
}
