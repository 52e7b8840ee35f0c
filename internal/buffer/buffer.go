// Package buffer implements the tiered (hot in-memory / cold durable)
// correlation store keyed by cross-chain message identifier.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockscout/interchain-indexer/internal/message"
)

// Config tunes a Buffer's hot-tier behavior. Separate from the outer
// application config so the buffer can be unit tested without pulling in
// the config package.
type Config struct {
	MaxHotEntries       int
	HotTTL              time.Duration
	MaintenanceInterval time.Duration
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		MaxHotEntries:       100_000,
		HotTTL:              10 * time.Second,
		MaintenanceInterval: 500 * time.Millisecond,
	}
}

// PendingSnapshot is a cold-tier durable snapshot of one non-final,
// TTL-expired hot entry.
type PendingSnapshot struct {
	Key     message.Key
	Payload []byte
}

// CommitBatch is everything one maintenance pass wants written atomically.
type CommitBatch struct {
	PendingUpserts  []PendingSnapshot
	FinalMessages   []message.FinalMessageRow
	FinalTransfers  []message.FinalTransferRow
	PendingDeletes  []message.Key
	CheckpointAdvances []CheckpointAdvance
}

// CheckpointAdvance is one (bridge, chain) cursor advance computed by a
// maintenance pass. Advances are applied with the GREATEST/LEAST merge
// policy by whatever checkpoint.Store backs the supervisor; the buffer only
// computes candidates.
type CheckpointAdvance struct {
	BridgeID        int32
	ChainID         int64
	RealtimeCursor  uint64
	CatchupMaxBlock uint64
}

// DurableStore is the transactional boundary the maintenance pass commits
// through. A single Commit call must apply all four kinds of writes in one
// durable transaction, satisfying the invariant that a final entry's
// removal from cold storage and its insertion into the final store happen
// together.
type DurableStore interface {
	GetPending(ctx context.Context, key message.Key) ([]byte, bool, error)
	Commit(ctx context.Context, batch CommitBatch) error
}

// CheckpointAdvancer applies the checkpoint merge policy; kept as a
// narrower interface than checkpoint.Store so the buffer doesn't need to
// import the concrete backend.
type CheckpointAdvancer interface {
	Advance(ctx context.Context, bridgeID int32, chainID int64, realtimeCursor, catchupMaxBlock uint64) error
}

// FinalizedObserver is notified once per key that a maintenance pass
// determines is final, after the commit has succeeded.
type FinalizedObserver interface {
	OnFinalized(ctx context.Context, key message.Key, record message.ConsolidatedRecord)
}

type lockedEntry[T any] struct {
	mu    sync.Mutex
	entry *message.Entry[T]
}

// Buffer is the tiered message buffer for payload type T.
type Buffer[T any] struct {
	cfg          Config
	consolidator message.Consolidator[T]
	newInner     func() T
	store        DurableStore
	checkpoints  CheckpointAdvancer
	observer     FinalizedObserver
	logger       zerolog.Logger
	metrics      *metrics
	bridgeID     int32

	hotMu sync.RWMutex
	hot   map[message.Key]*lockedEntry[T]

	// maintMu serializes maintenance passes; Alter never blocks on it.
	maintMu sync.Mutex
}

// New constructs a Buffer. newInner produces the zero value of T used when
// no cold snapshot exists for a key.
func New[T any](
	bridgeID int32,
	cfg Config,
	consolidator message.Consolidator[T],
	newInner func() T,
	store DurableStore,
	checkpoints CheckpointAdvancer,
	observer FinalizedObserver,
	logger zerolog.Logger,
) *Buffer[T] {
	return &Buffer[T]{
		cfg:          cfg,
		consolidator: consolidator,
		newInner:     newInner,
		store:        store,
		checkpoints:  checkpoints,
		observer:     observer,
		logger:       logger.With().Str("component", "buffer").Int32("bridge_id", bridgeID).Logger(),
		metrics:      newMetrics(),
		bridgeID:     bridgeID,
		hot:          make(map[message.Key]*lockedEntry[T]),
	}
}

// Len returns the current hot-tier size. Exposed for backpressure checks
// and tests.
func (b *Buffer[T]) Len() int {
	b.hotMu.RLock()
	defer b.hotMu.RUnlock()
	return len(b.hot)
}

// Peek returns a snapshot of key's current hot-tier payload, if present.
// It never restores from the cold tier or creates an entry; callers that
// want restore-on-miss semantics use Alter. Exposed for diagnostics and
// tests that want to assert on handler side effects without reaching into
// package-private state.
func (b *Buffer[T]) Peek(key message.Key) (T, bool) {
	b.hotMu.RLock()
	le, ok := b.hot[key]
	b.hotMu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	return le.entry.Inner, true
}

// Alter loads or creates the hot entry for key (restoring from cold tier if
// present), applies mutator to its inner payload, records the observed
// block, and bumps the version. mutator runs exactly once under per-key
// exclusivity. If mutator returns an error, record/touch are skipped and
// the error propagates to the caller unchanged; restoration I/O errors
// propagate the same way.
func (b *Buffer[T]) Alter(ctx context.Context, key message.Key, chainID int64, blockNumber uint64, mutator func(*T) error) error {
	le, err := b.getOrCreate(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load entry for %+v: %w", key, err)
	}

	le.mu.Lock()
	defer le.mu.Unlock()

	if err := mutator(&le.entry.Inner); err != nil {
		return err
	}
	le.entry.RecordBlock(chainID, blockNumber)
	le.entry.Touch()

	if b.Len() > b.cfg.MaxHotEntries {
		b.metrics.backpressureTriggers.WithLabelValues(bridgeLabel(b.bridgeID)).Inc()
		go b.tryRun(context.Background())
	}

	return nil
}

func (b *Buffer[T]) getOrCreate(ctx context.Context, key message.Key) (*lockedEntry[T], error) {
	b.hotMu.RLock()
	le, ok := b.hot[key]
	b.hotMu.RUnlock()
	if ok {
		return le, nil
	}

	b.hotMu.Lock()
	defer b.hotMu.Unlock()

	if le, ok := b.hot[key]; ok {
		return le, nil
	}

	entry, err := b.restoreOrDefault(ctx, key)
	if err != nil {
		return nil, err
	}

	le = &lockedEntry[T]{entry: entry}
	b.hot[key] = le
	b.metrics.hotEntries.WithLabelValues(bridgeLabel(b.bridgeID)).Set(float64(len(b.hot)))
	return le, nil
}

// restoreOrDefault implements the lazy-load-on-first-alter policy: the cold
// tier is only ever consulted here, never eagerly at startup.
func (b *Buffer[T]) restoreOrDefault(ctx context.Context, key message.Key) (*message.Entry[T], error) {
	payload, found, err := b.store.GetPending(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending snapshot: %w", err)
	}
	if !found {
		return message.NewEntry(b.newInner()), nil
	}

	var restored message.Entry[T]
	if err := json.Unmarshal(payload, &restored); err != nil {
		return nil, fmt.Errorf("failed to deserialize pending snapshot: %w", err)
	}
	restored.HotSince = time.Now()
	return &restored, nil
}

func bridgeLabel(bridgeID int32) string {
	return fmt.Sprintf("%d", bridgeID)
}
