package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStoreGetMissingReturnsNotFound(t *testing.T) {
	store := newTestBoltStore(t)
	cp, found, err := store.Get(context.Background(), 1, 43114)
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, cp)
}

func TestBoltStoreAdvanceThenGetRoundTrips(t *testing.T) {
	store := newTestBoltStore(t)
	ctx := context.Background()

	require.NoError(t, store.Advance(ctx, 1, 43114, 500, 100))

	cp, found, err := store.Get(ctx, 1, 43114)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(500), cp.RealtimeCursor)
	require.Equal(t, uint64(100), cp.CatchupMaxBlock)
}

func TestBoltStoreAdvanceAppliesMergePolicy(t *testing.T) {
	store := newTestBoltStore(t)
	ctx := context.Background()

	require.NoError(t, store.Advance(ctx, 1, 1, 500, 100))
	require.NoError(t, store.Advance(ctx, 1, 1, 300, 150))

	cp, found, err := store.Get(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(500), cp.RealtimeCursor, "realtime must not retreat")
	require.Equal(t, uint64(100), cp.CatchupMaxBlock, "catchup max must not advance")
}

func TestBoltStoreKeysAreScopedPerBridgeAndChain(t *testing.T) {
	store := newTestBoltStore(t)
	ctx := context.Background()

	require.NoError(t, store.Advance(ctx, 1, 1, 100, 0))
	require.NoError(t, store.Advance(ctx, 2, 1, 200, 0))

	cp1, _, err := store.Get(ctx, 1, 1)
	require.NoError(t, err)
	cp2, _, err := store.Get(ctx, 2, 1)
	require.NoError(t, err)

	require.Equal(t, uint64(100), cp1.RealtimeCursor)
	require.Equal(t, uint64(200), cp2.RealtimeCursor)
}
