package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeWithNoExistingCheckpointTakesCandidateVerbatim(t *testing.T) {
	realtime, catchup := Merge(nil, 100, 10)
	require.Equal(t, uint64(100), realtime)
	require.Equal(t, uint64(10), catchup)
}

func TestMergeRealtimeNeverRetreats(t *testing.T) {
	existing := &Checkpoint{RealtimeCursor: 100, CatchupMaxBlock: 10}
	realtime, _ := Merge(existing, 50, 10)
	require.Equal(t, uint64(100), realtime, "a lower realtime cursor candidate must not retreat the stored value")
}

func TestMergeRealtimeAdvancesOnHigherCandidate(t *testing.T) {
	existing := &Checkpoint{RealtimeCursor: 100, CatchupMaxBlock: 10}
	realtime, _ := Merge(existing, 150, 10)
	require.Equal(t, uint64(150), realtime)
}

func TestMergeCatchupNeverAdvancesPastExisting(t *testing.T) {
	existing := &Checkpoint{RealtimeCursor: 100, CatchupMaxBlock: 10}
	_, catchup := Merge(existing, 100, 20)
	require.Equal(t, uint64(10), catchup, "a higher catchup candidate must not move the max block forward")
}

func TestMergeCatchupLowersOnLowerCandidate(t *testing.T) {
	existing := &Checkpoint{RealtimeCursor: 100, CatchupMaxBlock: 10}
	_, catchup := Merge(existing, 100, 5)
	require.Equal(t, uint64(5), catchup)
}
