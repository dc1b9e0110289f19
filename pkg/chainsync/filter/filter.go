// Package filter implements the pure, I/O-free predicates that decide
// whether a block's logs, traces, transactions, or the block itself
// satisfy a user-declared filter. Filters are a tagged union dispatched
// by Kind, not an inheritance hierarchy, matching the source's disjoint
// variant model.
package filter

import (
	"strings"

	"github.com/0xmhha/chainsync/pkg/chainsync/factory"
	"github.com/0xmhha/chainsync/pkg/chainsync/trace"
	"github.com/ethereum/go-ethereum/common"
)

// Kind discriminates the five filter variants.
type Kind int

const (
	KindLog Kind = iota
	KindTransaction
	KindTrace
	KindTransfer
	KindBlock
)

// Filter is the tagged union every filter variant satisfies.
type Filter interface {
	Kind() Kind
	ChainID() uint64
	// InRange reports whether blockNumber lies within the filter's
	// [FromBlock, ToBlock] range (both bounds inclusive).
	InRange(blockNumber uint64) bool
	// SourceIndex is the filter's position in the user's source list,
	// carried through to emitted events for back-reference.
	SourceIndex() int
}

// Range holds the optional [FromBlock, ToBlock] bound shared by every
// filter variant. A nil bound defaults to 0 / +infinity.
type Range struct {
	FromBlock *uint64
	ToBlock   *uint64
}

// InRange implements the common boundary rule: both ends inclusive.
func (r Range) InRange(blockNumber uint64) bool {
	if r.FromBlock != nil && blockNumber < *r.FromBlock {
		return false
	}
	if r.ToBlock != nil && blockNumber > *r.ToBlock {
		return false
	}
	return true
}

// ConstraintMode discriminates the address/topic constraint variants.
type ConstraintMode int

const (
	// ModeNone matches any candidate, including a missing one.
	ModeNone ConstraintMode = iota
	// ModeOne matches exactly one value.
	ModeOne
	// ModeMany matches any value in a list.
	ModeMany
	// ModeFactory matches membership in a factory's child-address set.
	ModeFactory
)

// AddressConstraint is a value-match constraint over addresses, with an
// additional factory-membership mode.
type AddressConstraint struct {
	Mode      ConstraintMode
	Address   common.Address
	Addresses []common.Address
	Factory   *factory.Factory
}

// Match applies the common value-match rule, plus factory membership
// when Mode is ModeFactory. candidate == nil means the value is absent
// from the record (e.g. a contract-creation transaction's "to" field);
// an absent candidate never matches a non-absent constraint.
func (c AddressConstraint) Match(candidate *common.Address, snapshot factory.Snapshot) bool {
	switch c.Mode {
	case ModeNone:
		return true
	}
	if candidate == nil {
		return false
	}
	switch c.Mode {
	case ModeOne:
		return addrEqual(*candidate, c.Address)
	case ModeMany:
		for _, a := range c.Addresses {
			if addrEqual(*candidate, a) {
				return true
			}
		}
		return false
	case ModeFactory:
		if c.Factory == nil || snapshot == nil {
			return false
		}
		return snapshot.Contains(c.Factory, *candidate)
	default:
		return false
	}
}

// TopicConstraint is a value-match constraint over a single log topic.
type TopicConstraint struct {
	Mode   ConstraintMode
	Topic  common.Hash
	Topics []common.Hash
}

// Match applies the common value-match rule over a (possibly missing)
// topic slot.
func (c TopicConstraint) Match(candidate *common.Hash) bool {
	switch c.Mode {
	case ModeNone:
		return true
	}
	if candidate == nil {
		return false
	}
	switch c.Mode {
	case ModeOne:
		return *candidate == c.Topic
	case ModeMany:
		for _, t := range c.Topics {
			if *candidate == t {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func addrEqual(a, b common.Address) bool {
	return strings.EqualFold(a.Hex(), b.Hex())
}

// LogFilter matches event logs.
type LogFilter struct {
	Range
	Chain       uint64
	Source      int
	Address     AddressConstraint
	Topic0      TopicConstraint
	Topic1      TopicConstraint
	Topic2      TopicConstraint
	Topic3      TopicConstraint
}

func (f *LogFilter) Kind() Kind        { return KindLog }
func (f *LogFilter) ChainID() uint64   { return f.Chain }
func (f *LogFilter) SourceIndex() int  { return f.Source }

// TransactionFilter matches top-level transactions.
type TransactionFilter struct {
	Range
	Chain       uint64
	Source      int
	FromAddress AddressConstraint
	ToAddress   AddressConstraint
	// IncludeReverted, when false, causes the fetcher to retrieve this
	// filter's matched transactions' receipts (a receipt is the only way
	// to learn whether a transaction reverted). Ignored by MatchTransaction
	// itself, per the filter engine's tie-break policy.
	IncludeReverted bool
}

func (f *TransactionFilter) Kind() Kind       { return KindTransaction }
func (f *TransactionFilter) ChainID() uint64  { return f.Chain }
func (f *TransactionFilter) SourceIndex() int { return f.Source }

// TraceFilter matches internal call traces.
type TraceFilter struct {
	Range
	Chain            uint64
	Source           int
	FromAddress      AddressConstraint
	ToAddress        AddressConstraint
	CallType         trace.CallType // empty means any
	FunctionSelector string         // "" means any; else lowercase "0x"-prefixed 4-byte hex
}

func (f *TraceFilter) Kind() Kind       { return KindTrace }
func (f *TraceFilter) ChainID() uint64  { return f.Chain }
func (f *TraceFilter) SourceIndex() int { return f.Source }

// TransferFilter matches value-transferring traces, ignoring CallType
// and FunctionSelector.
type TransferFilter struct {
	Range
	Chain       uint64
	Source      int
	FromAddress AddressConstraint
	ToAddress   AddressConstraint
}

func (f *TransferFilter) Kind() Kind       { return KindTransfer }
func (f *TransferFilter) ChainID() uint64  { return f.Chain }
func (f *TransferFilter) SourceIndex() int { return f.Source }

// BlockFilter matches blocks on a fixed cadence.
type BlockFilter struct {
	Range
	Chain    uint64
	Source   int
	Interval uint64 // positive
	Offset   uint64 // 0 <= Offset < Interval
}

func (f *BlockFilter) Kind() Kind       { return KindBlock }
func (f *BlockFilter) ChainID() uint64  { return f.Chain }
func (f *BlockFilter) SourceIndex() int { return f.Source }
