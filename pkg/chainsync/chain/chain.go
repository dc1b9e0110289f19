// Package chain holds the data types shared across the synchronization
// core's components: the minimal retained block record, the per-block
// working set the pipeline consumes, and the network/source
// configuration the core is parameterized by.
package chain

import (
	"github.com/0xmhha/chainsync/pkg/chainsync/factory"
	"github.com/0xmhha/chainsync/pkg/chainsync/filter"
	"github.com/0xmhha/chainsync/pkg/chainsync/trace"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LightBlock is the minimal record retained for each block in the
// unfinalized list: just enough to verify the parent-hash chain and
// drive finalization arithmetic.
type LightBlock struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
}

// MatchedFilters is the set of filter source indices a block's records
// satisfied, grouped by filter kind, as returned by builder.BuildEvents
// with factory membership applied.
type MatchedFilters struct {
	Logs         []int // LogFilter source indices with at least one matching log
	Transactions []int
	Traces       []int
	Transfers    []int
	Blocks       []int
}

// BlockWithEventData is the fully fetched working set the pipeline
// consumes for one block: the raw block plus everything the fetcher
// retrieved and pre-filtered on its behalf.
type BlockWithEventData struct {
	Block        *types.Block
	Logs         []*types.Log
	FactoryLogs  []*types.Log
	Traces       []*trace.Frame
	Transactions []*types.Transaction
	Receipts     []*types.Receipt
	Matched      MatchedFilters
}

// ToLightBlock extracts the LightBlock projection of the underlying
// block.
func (b *BlockWithEventData) ToLightBlock() LightBlock {
	h := b.Block.Header()
	return LightBlock{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		Timestamp:  h.Time,
	}
}

// DropTransactions releases the heavy Transactions slice reference once
// the pipeline has finished deriving events from it, permitting garbage
// collection of the raw transaction bodies while the LightBlock/log/trace
// projections are retained.
func (b *BlockWithEventData) DropTransactions() {
	b.Transactions = nil
}

// Network describes the chain this synchronization core is watching.
type Network struct {
	Name               string
	ChainID            uint64
	FinalityBlockCount uint64
	PollingInterval    uint64 // milliseconds
}

// Sources is the user-declared set of filters and factories the pipeline
// matches incoming blocks against.
type Sources struct {
	Filters   []filter.Filter
	Factories []*factory.Factory
}

// LogFilters returns the LogFilter subset of Filters, used by the bloom
// predicate and the fetcher's log-skip decision.
func (s *Sources) LogFilters() []*filter.LogFilter {
	var out []*filter.LogFilter
	for _, f := range s.Filters {
		if lf, ok := f.(*filter.LogFilter); ok {
			out = append(out, lf)
		}
	}
	return out
}
