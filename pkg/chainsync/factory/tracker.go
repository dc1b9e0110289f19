package factory

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Snapshot is the read-only membership view the filter engine consumes; it
// is satisfied by *Tracker and lets pkg/chainsync/filter stay free of any
// dependency on the tracker's mutable internals.
type Snapshot interface {
	Contains(f *Factory, addr common.Address) bool
}

// Wildcard is a Snapshot that always reports membership, used by the
// fetcher's weak pre-filter pass: factory-referenced addresses are
// treated as wildcards there, with the real membership check applied
// later once the block is adopted (see the "trace/transfer/transaction
// filters do not yet check factory membership" decision).
var Wildcard Snapshot = wildcardSnapshot{}

type wildcardSnapshot struct{}

func (wildcardSnapshot) Contains(*Factory, common.Address) bool { return true }

// blockLog is one factory-log match recorded for a single ingested block,
// retained so finalize/reorg can recompute the unfinalized set from
// scratch instead of applying incremental deltas.
type blockLog struct {
	factory *Factory
	log     *types.Log
}

// Tracker maintains the finalized and unfinalized child-address sets for a
// set of configured factories. Every mutation is guarded by mu; recompute
// operations (Finalize, Reorg) always rebuild the unfinalized set from the
// cached per-block factory logs rather than patching it incrementally, per
// the tracker's full-recomputation design.
type Tracker struct {
	mu sync.RWMutex

	finalized   map[*Factory]map[common.Address]struct{}
	unfinalized map[*Factory]map[common.Address]struct{}
	logsByBlock map[common.Hash][]blockLog

	logger *zap.Logger
}

// NewTracker returns a Tracker with empty finalized/unfinalized sets for
// the given factories.
func NewTracker(factories []*Factory) *Tracker {
	t := &Tracker{
		finalized:   make(map[*Factory]map[common.Address]struct{}, len(factories)),
		unfinalized: make(map[*Factory]map[common.Address]struct{}, len(factories)),
		logsByBlock: make(map[common.Hash][]blockLog),
		logger:      zap.NewNop(),
	}
	for _, f := range factories {
		t.finalized[f] = make(map[common.Address]struct{})
		t.unfinalized[f] = make(map[common.Address]struct{})
	}
	return t
}

// SetLogger attaches logger for extraction-failure reporting. A failed
// child-address extraction is logged at debug, matching spec's
// decode-error severity split for factory-reference decodes (false
// positives are expected here: a factory log can match MatchesLog's
// coarse address/topic0 check without its data/topic layout actually
// matching the configured ChildExtractor).
func (t *Tracker) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger = logger.Named("chainsync.factory.tracker")
}

// RecordFactoryLogs scans logs for matches against the tracked factories,
// caches the matches under blockHash for later recomputation, and returns
// the matched subset (the fetcher's factoryLogs for the block). It does
// not yet mutate the unfinalized set — that happens in Ingest, once the
// pipeline has decided the block is being adopted.
func (t *Tracker) RecordFactoryLogs(blockHash common.Hash, blockNumber uint64, logs []*types.Log) []*types.Log {
	t.mu.Lock()
	defer t.mu.Unlock()

	var matched []*types.Log
	var entries []blockLog
	for f := range t.finalized {
		for _, log := range logs {
			if f.MatchesLog(blockNumber, log) {
				matched = append(matched, log)
				entries = append(entries, blockLog{factory: f, log: log})
			}
		}
	}
	if len(entries) > 0 {
		t.logsByBlock[blockHash] = entries
	}
	return matched
}

// Ingest decodes and inserts the child addresses recorded for blockHash
// into the unfinalized set. Call once per adopted block, in happy-path
// ingest step (a).
func (t *Tracker) Ingest(blockHash common.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.logsByBlock[blockHash] {
		addr, ok := entry.factory.Extractor.Extract(entry.log)
		if !ok {
			t.logExtractFailure(entry)
			continue
		}
		t.unfinalized[entry.factory][addr] = struct{}{}
	}
}

// Finalize promotes the factory contributions of promoted block hashes
// into the finalized set, drops their cached logs, and recomputes the
// unfinalized set from remaining's cached logs.
func (t *Tracker) Finalize(promoted []common.Hash, remaining []common.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, hash := range promoted {
		for _, entry := range t.logsByBlock[hash] {
			addr, ok := entry.factory.Extractor.Extract(entry.log)
			if !ok {
				t.logExtractFailure(entry)
				continue
			}
			t.finalized[entry.factory][addr] = struct{}{}
		}
		delete(t.logsByBlock, hash)
	}
	t.recomputeUnfinalizedLocked(remaining)
}

// Reorg discards the cached logs of reorged block hashes and recomputes
// the unfinalized set from the surviving remaining hashes.
func (t *Tracker) Reorg(remaining []common.Hash, reorged []common.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, hash := range reorged {
		delete(t.logsByBlock, hash)
	}
	t.recomputeUnfinalizedLocked(remaining)
}

func (t *Tracker) recomputeUnfinalizedLocked(remaining []common.Hash) {
	for f := range t.unfinalized {
		t.unfinalized[f] = make(map[common.Address]struct{})
	}
	for _, hash := range remaining {
		for _, entry := range t.logsByBlock[hash] {
			addr, ok := entry.factory.Extractor.Extract(entry.log)
			if !ok {
				t.logExtractFailure(entry)
				continue
			}
			t.unfinalized[entry.factory][addr] = struct{}{}
		}
	}
}

// logExtractFailure reports a factory log that matched MatchesLog's
// address/topic0 check but whose ChildExtractor could not decode a
// child address from it (e.g. a topic/data layout mismatch). Logged at
// debug: a coarse factory match producing an undecodable log is an
// expected false positive, not a sign of corrupt data.
func (t *Tracker) logExtractFailure(entry blockLog) {
	t.logger.Debug("factory log child-address extraction failed",
		zap.String("factory", entry.factory.Name),
		zap.Uint64("chainID", entry.factory.ChainID),
		zap.String("txHash", entry.log.TxHash.Hex()),
		zap.Uint("logIndex", entry.log.Index))
}

// Contains reports whether addr is a known child of factory f, in either
// the finalized or unfinalized set. Implements Snapshot.
func (t *Tracker) Contains(f *Factory, addr common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.finalized[f][addr]; ok {
		return true
	}
	_, ok := t.unfinalized[f][addr]
	return ok
}

// FinalizedChildAddresses returns a snapshot slice of f's finalized
// children, for tests and introspection.
func (t *Tracker) FinalizedChildAddresses(f *Factory) []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return addressSlice(t.finalized[f])
}

// UnfinalizedChildAddresses returns a snapshot slice of f's unfinalized
// children, for tests and introspection.
func (t *Tracker) UnfinalizedChildAddresses(f *Factory) []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return addressSlice(t.unfinalized[f])
}

func addressSlice(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	return out
}
