// Package builder converts a fetched, filter-matched block into the
// ordered sequence of typed event records the pipeline emits downstream.
//
// Grounded on the teacher's pkg/events event-struct idiom (types.go
// constructors) and event_pipeline.go's staged processing shape,
// generalized from a single parsed-event stream to checkpoint-ordered
// multi-kind output.
package builder

import "fmt"

// EventKind discriminates the four record kinds a block can emit.
type EventKind int

const (
	EventBlock EventKind = iota
	EventTransaction
	EventLog
	EventTrace
)

// eventTypeRank orders event kinds within a block: block < transaction
// < log < trace. Transfer records share the trace rank since a transfer
// is a trace-derived record.
func (k EventKind) rank() int {
	switch k {
	case EventBlock:
		return 0
	case EventTransaction:
		return 1
	case EventLog:
		return 2
	case EventTrace:
		return 3
	default:
		return 9
	}
}

func (k EventKind) String() string {
	switch k {
	case EventBlock:
		return "block"
	case EventTransaction:
		return "transaction"
	case EventLog:
		return "log"
	case EventTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// sentinelTransactionIndex stands in for a block-level event's
// transactionIndex, per the total-order definition: a block-level event
// uses sentinel max transactionIndex and zero eventIndex.
const sentinelTransactionIndex = 1<<64 - 1

// Checkpoint is the total-order key over every event emitted across
// every chain, in decreasing significance:
// (blockTimestamp, chainID, blockNumber, transactionIndex, eventTypeRank, eventIndex).
// Encode renders it as a fixed-width, zero-padded decimal string so two
// checkpoints compare correctly under plain lexicographic ordering.
type Checkpoint struct {
	BlockTimestamp   uint64
	ChainID          uint64
	BlockNumber      uint64
	TransactionIndex uint64
	EventTypeRank    int
	EventIndex       uint64
}

// Encode renders the checkpoint to its fixed-width lexicographically
// sortable string. Field widths: timestamp/blockNumber/transactionIndex/
// eventIndex 20 digits (enough for any uint64), chainID 20 digits, rank
// 1 digit — wide enough that no two distinct events collide.
func (c Checkpoint) Encode() string {
	return fmt.Sprintf("%020d%020d%020d%020d%01d%020d",
		c.BlockTimestamp, c.ChainID, c.BlockNumber, c.TransactionIndex, c.EventTypeRank, c.EventIndex)
}

// Less reports whether c sorts strictly before other.
func (c Checkpoint) Less(other Checkpoint) bool {
	return c.Encode() < other.Encode()
}
