package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/blockscout/interchain-indexer/internal/message"
)

type fakeStore struct {
	mu       sync.Mutex
	pending  map[message.Key][]byte
	commits  []CommitBatch
	commitFn func(batch CommitBatch) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{pending: make(map[message.Key][]byte)}
}

func (f *fakeStore) GetPending(_ context.Context, key message.Key) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.pending[key]
	return payload, ok, nil
}

func (f *fakeStore) Commit(_ context.Context, batch CommitBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitFn != nil {
		if err := f.commitFn(batch); err != nil {
			return err
		}
	}
	for _, snap := range batch.PendingUpserts {
		f.pending[snap.Key] = snap.Payload
	}
	for _, key := range batch.PendingDeletes {
		delete(f.pending, key)
	}
	f.commits = append(f.commits, batch)
	return nil
}

type fakeCheckpoints struct {
	mu       sync.Mutex
	advances []CheckpointAdvance
}

func (f *fakeCheckpoints) Advance(_ context.Context, bridgeID int32, chainID int64, realtimeCursor, catchupMaxBlock uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advances = append(f.advances, CheckpointAdvance{BridgeID: bridgeID, ChainID: chainID, RealtimeCursor: realtimeCursor, CatchupMaxBlock: catchupMaxBlock})
	return nil
}

type fakeObserver struct {
	mu       sync.Mutex
	finalized []message.Key
}

func (f *fakeObserver) OnFinalized(_ context.Context, key message.Key, _ message.ConsolidatedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, key)
}

func testBuffer(t *testing.T, cfg Config, store DurableStore, cps CheckpointAdvancer, obs FinalizedObserver) *Buffer[message.Message] {
	t.Helper()
	return New(
		1,
		cfg,
		message.MessageConsolidator{},
		func() message.Message { return message.Message{} },
		store,
		cps,
		obs,
		zerolog.Nop(),
	)
}

func TestAlterCreatesHotEntry(t *testing.T) {
	store := newFakeStore()
	buf := testBuffer(t, DefaultConfig(), store, &fakeCheckpoints{}, nil)

	key := message.Key{MessageID: 1, BridgeID: 1}
	err := buf.Alter(context.Background(), key, 10, 100, func(m *message.Message) error {
		m.Send = &message.AnnotatedEvent{TxHash: [32]byte{1}}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, buf.Len())
}

func TestAlterMutatorErrorSkipsRecordAndTouch(t *testing.T) {
	store := newFakeStore()
	buf := testBuffer(t, DefaultConfig(), store, &fakeCheckpoints{}, nil)

	key := message.Key{MessageID: 1, BridgeID: 1}
	wantErr := require.Error
	err := buf.Alter(context.Background(), key, 10, 100, func(m *message.Message) error {
		return context.DeadlineExceeded
	})
	wantErr(t, err)

	buf.hotMu.RLock()
	le := buf.hot[key]
	buf.hotMu.RUnlock()
	require.NotNil(t, le)
	require.Equal(t, uint64(0), le.entry.Version)
	require.False(t, le.entry.IsDirty())
}

func TestAlterRestoresFromColdTier(t *testing.T) {
	store := newFakeStore()
	key := message.Key{MessageID: 5, BridgeID: 1}
	cfg := DefaultConfig()
	cfg.HotTTL = 0 // offload on the very first maintenance pass

	buf := testBuffer(t, cfg, store, &fakeCheckpoints{}, nil)
	err := buf.Alter(context.Background(), key, 1, 1, func(m *message.Message) error {
		m.Send = &message.AnnotatedEvent{TxHash: [32]byte{9}}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, buf.Run(context.Background()))
	require.Equal(t, 0, buf.Len())

	_, found, err := store.GetPending(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found, "entry should have been offloaded to the cold tier")

	// A later Alter on the same key must lazily restore the cold snapshot
	// rather than start from a fresh zero-value payload.
	err = buf.Alter(context.Background(), key, 1, 2, func(m *message.Message) error {
		require.NotNil(t, m.Send, "restored entry should carry the previously persisted Send slot")
		m.Receive = &message.AnnotatedEvent{TxHash: [32]byte{10}}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, buf.Len())
}

func TestMaintenanceFinalizesAndRemoves(t *testing.T) {
	store := newFakeStore()
	obs := &fakeObserver{}
	cps := &fakeCheckpoints{}
	buf := testBuffer(t, DefaultConfig(), store, cps, obs)

	key := message.Key{MessageID: 1, BridgeID: 1}
	err := buf.Alter(context.Background(), key, 10, 100, func(m *message.Message) error {
		m.Send = &message.AnnotatedEvent{TxHash: [32]byte{1}, SourceChainID: 10, DestinationChainID: 20}
		return nil
	})
	require.NoError(t, err)

	err = buf.Alter(context.Background(), key, 20, 200, func(m *message.Message) error {
		m.Execution = &message.ExecutionOutcome{
			Kind:  message.ExecutionSucceeded,
			Event: message.AnnotatedEvent{TxHash: [32]byte{2}},
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, buf.Run(context.Background()))

	require.Equal(t, 0, buf.Len())
	require.Len(t, obs.finalized, 1)
	require.Equal(t, key, obs.finalized[0])
	require.Len(t, store.commits, 1)
	require.Len(t, store.commits[0].FinalMessages, 1)
	require.Contains(t, store.commits[0].PendingDeletes, key)
}

func TestMaintenanceSkipsCheckpointAdvanceWhenHotEntryTouchesBlockZero(t *testing.T) {
	store := newFakeStore()
	cps := &fakeCheckpoints{}
	buf := testBuffer(t, DefaultConfig(), store, cps, nil)

	final := message.Key{MessageID: 1, BridgeID: 1}
	require.NoError(t, buf.Alter(context.Background(), final, 77, 50, func(m *message.Message) error {
		m.Send = &message.AnnotatedEvent{TxHash: [32]byte{1}}
		return nil
	}))
	require.NoError(t, buf.Alter(context.Background(), final, 77, 55, func(m *message.Message) error {
		m.Execution = &message.ExecutionOutcome{Kind: message.ExecutionSucceeded, Event: message.AnnotatedEvent{TxHash: [32]byte{2}}}
		return nil
	}))

	// Stays hot (non-final) and touches block 0 on the same chain, so
	// hot.Max-1 would underflow.
	stillOpen := message.Key{MessageID: 2, BridgeID: 1}
	require.NoError(t, buf.Alter(context.Background(), stillOpen, 77, 0, func(m *message.Message) error {
		m.Send = &message.AnnotatedEvent{TxHash: [32]byte{3}}
		return nil
	}))

	require.NoError(t, buf.Run(context.Background()))

	for _, adv := range cps.advances {
		require.NotEqual(t, int64(77), adv.ChainID, "a checkpoint advance must not be computed for a chain with a still-open hot entry touching block 0")
	}
}

func TestMaintenanceSkipsNonDirtyEntries(t *testing.T) {
	store := newFakeStore()
	buf := testBuffer(t, DefaultConfig(), store, &fakeCheckpoints{}, nil)

	key := message.Key{MessageID: 1, BridgeID: 1}
	require.NoError(t, buf.Alter(context.Background(), key, 1, 1, func(m *message.Message) error {
		m.Send = &message.AnnotatedEvent{TxHash: [32]byte{1}}
		return nil
	}))
	require.NoError(t, buf.Run(context.Background()))
	require.Len(t, store.commits, 1)

	// Second pass with no new mutation: entry is clean, nothing should commit.
	require.NoError(t, buf.Run(context.Background()))
	require.Len(t, store.commits, 1)
}

func TestMaintenanceOffloadsStaleNonFinalEntry(t *testing.T) {
	store := newFakeStore()
	cfg := DefaultConfig()
	cfg.HotTTL = 0 // immediately stale
	buf := testBuffer(t, cfg, store, &fakeCheckpoints{}, nil)

	key := message.Key{MessageID: 1, BridgeID: 1}
	require.NoError(t, buf.Alter(context.Background(), key, 1, 1, func(m *message.Message) error {
		m.Send = &message.AnnotatedEvent{TxHash: [32]byte{1}}
		return nil
	}))

	require.NoError(t, buf.Run(context.Background()))

	require.Equal(t, 0, buf.Len())
	payload, found, err := store.GetPending(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, payload)
}

func TestMaintenanceCASRemovalSkipsConcurrentlyMutatedEntry(t *testing.T) {
	store := newFakeStore()
	cfg := DefaultConfig()
	cfg.HotTTL = 0
	buf := testBuffer(t, cfg, store, &fakeCheckpoints{}, nil)

	key := message.Key{MessageID: 1, BridgeID: 1}
	require.NoError(t, buf.Alter(context.Background(), key, 1, 1, func(m *message.Message) error {
		m.Send = &message.AnnotatedEvent{TxHash: [32]byte{1}}
		return nil
	}))

	// Simulate a commit that races with a concurrent Alter bumping the version
	// in between the consolidation read and the CAS delete.
	store.commitFn = func(_ CommitBatch) error {
		buf.hotMu.RLock()
		le := buf.hot[key]
		buf.hotMu.RUnlock()
		le.mu.Lock()
		le.entry.Touch()
		le.mu.Unlock()
		return nil
	}

	require.NoError(t, buf.Run(context.Background()))

	// Entry survives because its version advanced between snapshot and CAS.
	require.Equal(t, 1, buf.Len())
}

func TestLenIsConcurrencySafe(t *testing.T) {
	store := newFakeStore()
	buf := testBuffer(t, DefaultConfig(), store, &fakeCheckpoints{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := message.Key{MessageID: int64(i), BridgeID: 1}
			_ = buf.Alter(context.Background(), key, 1, 1, func(m *message.Message) error {
				m.Send = &message.AnnotatedEvent{TxHash: [32]byte{byte(i)}}
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, 50, buf.Len())
}

func TestBackpressureTriggersOpportunisticMaintenance(t *testing.T) {
	store := newFakeStore()
	cfg := DefaultConfig()
	cfg.MaxHotEntries = 1
	buf := testBuffer(t, cfg, store, &fakeCheckpoints{}, nil)

	for i := 0; i < 3; i++ {
		key := message.Key{MessageID: int64(i), BridgeID: 1}
		require.NoError(t, buf.Alter(context.Background(), key, 1, 1, func(m *message.Message) error {
			m.Send = &message.AnnotatedEvent{TxHash: [32]byte{byte(i)}}
			m.Execution = &message.ExecutionOutcome{Kind: message.ExecutionSucceeded}
			return nil
		}))
	}

	require.Eventually(t, func() bool {
		return buf.Len() == 0
	}, time.Second, 10*time.Millisecond)
}
