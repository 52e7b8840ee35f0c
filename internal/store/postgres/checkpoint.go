package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockscout/interchain-indexer/internal/checkpoint"
)

// CheckpointStore is a checkpoint.Store backed by the same pool as Store,
// applying the GREATEST/LEAST merge policy directly in SQL so concurrent
// advances from multiple chains never race on the read-modify-write.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore adapts an existing Store's pool into a checkpoint.Store.
func NewCheckpointStore(s *Store) *CheckpointStore {
	return &CheckpointStore{pool: s.pool}
}

// Get implements checkpoint.Store.
func (c *CheckpointStore) Get(ctx context.Context, bridgeID int32, chainID int64) (*checkpoint.Checkpoint, bool, error) {
	var cp checkpoint.Checkpoint
	err := c.pool.QueryRow(ctx, `
		SELECT bridge_id, chain_id, realtime_cursor, catchup_max_block, updated_at
		FROM checkpoints WHERE bridge_id = $1 AND chain_id = $2
	`, bridgeID, chainID).Scan(&cp.BridgeID, &cp.ChainID, &cp.RealtimeCursor, &cp.CatchupMaxBlock, &cp.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	return &cp, true, nil
}

// Advance implements checkpoint.Store, applying the merge policy with
// GREATEST/LEAST in one statement.
func (c *CheckpointStore) Advance(ctx context.Context, bridgeID int32, chainID int64, realtimeCursor, catchupMaxBlock uint64) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO checkpoints (bridge_id, chain_id, realtime_cursor, catchup_max_block, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (bridge_id, chain_id) DO UPDATE SET
			realtime_cursor = GREATEST(checkpoints.realtime_cursor, EXCLUDED.realtime_cursor),
			catchup_max_block = LEAST(checkpoints.catchup_max_block, EXCLUDED.catchup_max_block),
			updated_at = now()
	`, bridgeID, chainID, realtimeCursor, catchupMaxBlock)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return nil
}

// Close is a no-op: the pool is owned by the Store this was adapted from.
func (c *CheckpointStore) Close() error { return nil }
