package filter

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MayContainLogs conservatively decides whether bloom could contain a log
// matching at least one filter in filters. An empty filter set returns
// false, since no log can match it. Otherwise it never produces a false
// negative: an all-zero bloom forces a "maybe", and within a filter only
// the single-value and non-empty-list address/topic constraints are
// probed; an absent, factory-reference or empty-list dimension never
// rules a filter out, so the caller falls back to fetching logs in those
// cases. Built directly on go-ethereum's
// core/types.BloomLookup (the ecosystem's existing three-hash Yellow
// Paper implementation) rather than a hand-rolled probe.
func MayContainLogs(bloom types.Bloom, filters []*LogFilter) bool {
	if len(filters) == 0 {
		return false
	}
	if bloom == (types.Bloom{}) {
		// An all-zero bloom forces a fetch regardless of probe result.
		return true
	}
	for _, f := range filters {
		if filterMayMatchBloom(bloom, f) {
			return true
		}
	}
	return false
}

// filterMayMatchBloom reports whether f's fully-specified dimensions all
// probe positive against bloom. A filter with no fully-specified
// dimension is treated as a definite "maybe" (conservative).
func filterMayMatchBloom(bloom types.Bloom, f *LogFilter) bool {
	if f.Address.Mode == ModeOne {
		if !types.BloomLookup(bloom, f.Address.Address) {
			return false
		}
	} else if f.Address.Mode == ModeMany && len(f.Address.Addresses) > 0 {
		if !anyBloomHit(bloom, f.Address.Addresses) {
			return false
		}
	}

	for _, tc := range []TopicConstraint{f.Topic0, f.Topic1, f.Topic2, f.Topic3} {
		if tc.Mode == ModeOne {
			if !types.BloomLookup(bloom, tc.Topic) {
				return false
			}
		} else if tc.Mode == ModeMany && len(tc.Topics) > 0 {
			if !anyBloomHitHash(bloom, tc.Topics) {
				return false
			}
		}
	}

	// Every fully-specified dimension probed positive (or none is fully
	// specified — absent, factory reference, or empty list — which is
	// always treated as a "maybe").
	return true
}

func anyBloomHit(bloom types.Bloom, addrs []common.Address) bool {
	for _, a := range addrs {
		if types.BloomLookup(bloom, a) {
			return true
		}
	}
	return false
}

func anyBloomHitHash(bloom types.Bloom, hashes []common.Hash) bool {
	for _, h := range hashes {
		if types.BloomLookup(bloom, h) {
			return true
		}
	}
	return false
}
