// Package trace defines the decoded call-trace shape the fetcher produces
// from a debug_traceBlockByHash response, independent of any particular
// tracer's wire format.
package trace

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallType enumerates the call kinds a trace frame may carry.
type CallType string

const (
	CallTypeCall         CallType = "call"
	CallTypeStaticCall   CallType = "staticcall"
	CallTypeDelegateCall CallType = "delegatecall"
	CallTypeCreate       CallType = "create"
)

// Frame is one call within a transaction's trace tree, flattened to a
// deterministic pre-order ordinal so it can be addressed independently
// of the tracer's nested representation.
type Frame struct {
	TransactionHash common.Hash
	// Ordinal is this frame's position within its transaction's trace
	// tree, assigned by a deterministic pre-order walk of the tracer's
	// nested call structure.
	Ordinal  int
	Type     CallType
	From     common.Address
	To       *common.Address // nil for contract-creation calls
	Value    *big.Int
	Input    []byte
}

// Selector returns the first four bytes of Input as a lowercase
// "0x"-prefixed hex string, or "" if Input is shorter than 4 bytes.
func (f *Frame) Selector() string {
	if len(f.Input) < 4 {
		return ""
	}
	return "0x" + common.Bytes2Hex(f.Input[:4])
}
