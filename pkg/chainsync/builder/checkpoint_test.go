package builder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckpointEncodeOrdering(t *testing.T) {
	cases := []struct {
		name string
		a, b Checkpoint
	}{
		{
			name: "timestamp dominates",
			a:    Checkpoint{BlockTimestamp: 1, ChainID: 999, BlockNumber: 999},
			b:    Checkpoint{BlockTimestamp: 2, ChainID: 0, BlockNumber: 0},
		},
		{
			name: "chain id breaks timestamp tie",
			a:    Checkpoint{BlockTimestamp: 5, ChainID: 1},
			b:    Checkpoint{BlockTimestamp: 5, ChainID: 2},
		},
		{
			name: "event type rank breaks block/tx/log/trace tie",
			a:    Checkpoint{EventTypeRank: EventTransaction.rank()},
			b:    Checkpoint{EventTypeRank: EventLog.rank()},
		},
		{
			name: "event index breaks final tie",
			a:    Checkpoint{EventTypeRank: EventLog.rank(), EventIndex: 3},
			b:    Checkpoint{EventTypeRank: EventLog.rank(), EventIndex: 4},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.True(t, tc.a.Less(tc.b))
			require.False(t, tc.b.Less(tc.a))
		})
	}
}

func TestCheckpointEncodeFixedWidth(t *testing.T) {
	c := Checkpoint{BlockTimestamp: 1700000000, ChainID: 1, BlockNumber: 1000, TransactionIndex: 2, EventTypeRank: 2, EventIndex: 0}
	encoded := c.Encode()
	require.Len(t, encoded, 20+20+20+20+1+20)
}

func TestEventKindRankOrder(t *testing.T) {
	require.Less(t, EventBlock.rank(), EventTransaction.rank())
	require.Less(t, EventTransaction.rank(), EventLog.rank())
	require.Less(t, EventLog.rank(), EventTrace.rank())
}
