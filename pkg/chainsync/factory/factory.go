// Package factory tracks child-contract addresses discovered from factory
// logs and exposes a finalized/unfinalized membership view to the filter
// engine.
package factory

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChildExtractor describes how to decode a child contract address out of a
// factory log. Exactly one of TopicIndex or DataOffset applies: if
// TopicIndex >= 0 the address is the low 20 bytes of that topic, otherwise
// it is the low 20 bytes of the 32-byte data word starting at DataOffset.
type ChildExtractor struct {
	TopicIndex int
	DataOffset int
}

// Extract decodes the child address from a log using this extractor.
func (e ChildExtractor) Extract(log *types.Log) (common.Address, bool) {
	if e.TopicIndex >= 0 {
		if e.TopicIndex >= len(log.Topics) {
			return common.Address{}, false
		}
		return common.BytesToAddress(log.Topics[e.TopicIndex].Bytes()), true
	}
	if e.DataOffset < 0 || e.DataOffset+32 > len(log.Data) {
		return common.Address{}, false
	}
	return common.BytesToAddress(log.Data[e.DataOffset : e.DataOffset+32]), true
}

// Factory is a specialization of a log filter whose purpose is to discover
// child contract addresses rather than to be matched against directly.
type Factory struct {
	// Name identifies the factory in logs and metrics; it plays no role
	// in matching.
	Name string
	// ChainID scopes the factory to one chain.
	ChainID uint64
	// Addresses is the set of factory contract addresses emitting the
	// discovery log.
	Addresses []common.Address
	// EventSelector is the topic0 of the discovery event.
	EventSelector common.Hash
	// Extractor decodes the child address from a matching log.
	Extractor ChildExtractor
	// FromBlock/ToBlock bound the range in which the factory is active;
	// a nil bound is unbounded.
	FromBlock *uint64
	ToBlock   *uint64
}

// InRange reports whether blockNumber falls within the factory's range.
func (f *Factory) InRange(blockNumber uint64) bool {
	if f.FromBlock != nil && blockNumber < *f.FromBlock {
		return false
	}
	if f.ToBlock != nil && blockNumber > *f.ToBlock {
		return false
	}
	return true
}

// MatchesLog reports whether log is a discovery log for this factory:
// its address is one of the factory's addresses, its topic0 equals
// EventSelector, and blockNumber is in range.
func (f *Factory) MatchesLog(blockNumber uint64, log *types.Log) bool {
	if !f.InRange(blockNumber) {
		return false
	}
	if len(log.Topics) == 0 || log.Topics[0] != f.EventSelector {
		return false
	}
	for _, addr := range f.Addresses {
		if addr == log.Address {
			return true
		}
	}
	return false
}
