// Package pipeline implements the Reorg-Safe Pipeline: a single-consumer
// queue that ingests fetched blocks, detects gaps and reorgs by
// inspecting block-number/parent-hash relationships, drives finalization,
// and emits a strictly ordered downstream event stream.
//
// Grounded on the teacher's pkg/rpcproxy/queue.go condition-variable
// PriorityQueue, simplified to FIFO+close+drain since block ordering —
// not priority — is what matters here.
package pipeline

import (
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
)

// BlockQueue is a thread-safe bounded FIFO of raw blocks (header plus
// transaction bodies, as returned by eth_getBlockBy*), consumed by exactly
// one goroutine. The consumer fetches logs/traces/receipts itself once it
// has decided a block belongs on the happy path; items here carry just
// enough (number, hash, parentHash) to drive dispatch. BlockQueue never
// reorders; Clear is used by the supervisor and the reorg/gap-fill paths
// to discard stale items without racing the consumer.
type BlockQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*types.Block
	maxSize  int
	closed   bool
	enqueued int64
	dequeued int64
	dropped  int64
}

// NewBlockQueue returns an empty BlockQueue bounded at maxSize items.
func NewBlockQueue(maxSize int) *BlockQueue {
	q := &BlockQueue{maxSize: maxSize}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends block to the tail of the queue. Returns false if the
// queue is closed or full.
func (q *BlockQueue) Enqueue(block *types.Block) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(q.items) >= q.maxSize {
		q.dropped++
		return false
	}
	q.items = append(q.items, block)
	q.enqueued++
	q.cond.Signal()
	return true
}

// Dequeue blocks until an item is available or the queue is closed and
// drained, in which case it returns (nil, false).
func (q *BlockQueue) Dequeue() (*types.Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.dequeued++
	return item, true
}

// Clear discards every queued item without closing the queue, used when
// the pipeline needs to drop stale work after a reorg or a supervisor
// error-recovery cycle.
func (q *BlockQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Close marks the queue closed and wakes any blocked consumer; items
// already queued are still returned by Dequeue until drained.
func (q *BlockQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the current queue depth.
func (q *BlockQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns lifetime counters for metrics/introspection.
func (q *BlockQueue) Stats() (enqueued, dequeued, dropped int64, size int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueued, q.dequeued, q.dropped, len(q.items)
}
