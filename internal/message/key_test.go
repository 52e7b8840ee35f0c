package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockRangeExtend(t *testing.T) {
	r := BlockRange{Min: 100, Max: 100}

	r.Extend(50)
	require.Equal(t, uint64(50), r.Min)
	require.Equal(t, uint64(100), r.Max)

	r.Extend(150)
	require.Equal(t, uint64(50), r.Min)
	require.Equal(t, uint64(150), r.Max)

	r.Extend(75)
	require.Equal(t, uint64(50), r.Min)
	require.Equal(t, uint64(150), r.Max)
}

func TestDeriveMessageID(t *testing.T) {
	var id [32]byte
	// big-endian uint64(42) in the first 8 bytes
	id[7] = 42

	require.Equal(t, int64(42), DeriveMessageID(id))
}

func TestKeyComparable(t *testing.T) {
	a := Key{MessageID: 1, BridgeID: 2}
	b := Key{MessageID: 1, BridgeID: 2}
	c := Key{MessageID: 1, BridgeID: 3}

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)

	m := map[Key]int{a: 1}
	_, ok := m[b]
	require.True(t, ok)
}
