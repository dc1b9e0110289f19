package pipeline

import "errors"

// ErrUnrecoverableReorg is returned when the reorg walk-back exhausts
// unfinalizedBlocks without finding a common ancestor with the incoming
// block's chain. It is promoted to fatal immediately; there is no retry.
var ErrUnrecoverableReorg = errors.New("unrecoverable reorg beyond finalized block")
