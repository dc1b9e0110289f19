// Package events defines the downstream contract the synchronization
// core emits through: the three event kinds described in the pipeline's
// happy-path/reorg/finalize sub-steps, and the Sink a consumer
// implements to receive them. The EventBus in bus.go is the in-process
// fan-out implementation of that contract; pkg/eventbus adapts it to
// external transports (local, Kafka, Redis).
package events

import (
	"context"

	"github.com/0xmhha/chainsync/pkg/chainsync/builder"
	"github.com/0xmhha/chainsync/pkg/chainsync/chain"
)

// EventType discriminates the three event kinds the pipeline emits.
type EventType int

const (
	EventTypeBlock EventType = iota
	EventTypeReorg
	EventTypeFinalize
)

func (t EventType) String() string {
	switch t {
	case EventTypeBlock:
		return "block"
	case EventTypeReorg:
		return "reorg"
	case EventTypeFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// Event is the tagged union every emitted record satisfies.
type Event interface {
	Type() EventType
	// ChainID identifies which configured chain produced the event, for
	// consumers fanning multiple chains through one sink.
	ChainID() uint64
}

// BlockEvent is emitted once per happy-path ingested block, carrying the
// matched filter summary and the full ordered set of typed records the
// Event Builder produced for it.
type BlockEvent struct {
	Chain   uint64
	Block   chain.LightBlock
	Matched chain.MatchedFilters
	Records []*builder.RawEvent
}

func (e *BlockEvent) Type() EventType { return EventTypeBlock }
func (e *BlockEvent) ChainID() uint64 { return e.Chain }

// ReorgEvent is emitted once a reorg's walk-back finds a common
// ancestor, carrying that ancestor and the blocks it rewound.
// ReorgedBlocks is ordered from highest number (detected first) to
// lowest (nearest the ancestor).
type ReorgEvent struct {
	Chain          uint64
	CommonAncestor chain.LightBlock
	ReorgedBlocks  []chain.LightBlock
}

func (e *ReorgEvent) Type() EventType { return EventTypeReorg }
func (e *ReorgEvent) ChainID() uint64 { return e.Chain }

// FinalizeEvent is emitted when a contiguous prefix of unfinalizedBlocks
// is promoted to finalized.
type FinalizeEvent struct {
	Chain          uint64
	FinalizedBlock chain.LightBlock
}

func (e *FinalizeEvent) Type() EventType { return EventTypeFinalize }
func (e *FinalizeEvent) ChainID() uint64 { return e.Chain }

// Sink is the downstream contract the pipeline emits through.
// OnFatalError is terminal and called at most once.
type Sink interface {
	OnEvent(ctx context.Context, event Event) error
	OnFatalError(err error)
}
