package fetch

import (
	"fmt"

	"github.com/0xmhha/chainsync/pkg/chainsync/rpcqueue"
)

// ErrInconsistentResponse signals that an RPC response failed one of the
// fetcher's cross-validation checks (mismatched block hash, empty logs
// against a nonzero bloom, a trace referencing an unknown transaction).
// It is retryable: near the chain tip an RPC node may momentarily lag.
type ErrInconsistentResponse struct {
	Reason string
}

func (e *ErrInconsistentResponse) Error() string {
	return fmt.Sprintf("inconsistent RPC response: %s", e.Reason)
}

// inconsistent returns a retryable ErrInconsistentResponse, so the
// supervisor treats it the same as a transient RPC failure.
func inconsistent(reason string) error {
	return rpcqueue.AsRetryable(&ErrInconsistentResponse{Reason: reason})
}
