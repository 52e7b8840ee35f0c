// Package postgres implements the durable store and checkpoint backends on
// top of pgx/v5, following the connection-string and upsert idioms of the
// companion consumer service this core was split out from.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/blockscout/interchain-indexer/internal/buffer"
	"github.com/blockscout/interchain-indexer/internal/message"
)

// Store is the pgx-backed buffer.DurableStore: one pool serves both the
// pending-snapshot cold tier and the final message/transfer tables.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Connect opens a pool against dsn (a standard libpq connection string) and
// verifies connectivity.
func Connect(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, logger: logger.With().Str("component", "postgres").Logger()}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// GetPending implements buffer.DurableStore.
func (s *Store) GetPending(ctx context.Context, key message.Key) ([]byte, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM pending_messages WHERE message_id = $1 AND bridge_id = $2`,
		key.MessageID, key.BridgeID,
	).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query pending snapshot: %w", err)
	}
	return payload, true, nil
}

// Commit implements buffer.DurableStore: all four write kinds land in one
// transaction so a final record's removal from the cold tier and its
// insertion into the final store are never observed independently.
func (s *Store) Commit(ctx context.Context, batch buffer.CommitBatch) error {
	if len(batch.PendingUpserts) == 0 && len(batch.FinalMessages) == 0 && len(batch.PendingDeletes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, snap := range batch.PendingUpserts {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pending_messages (message_id, bridge_id, payload, created_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (message_id, bridge_id) DO UPDATE SET payload = EXCLUDED.payload
		`, snap.Key.MessageID, snap.Key.BridgeID, snap.Payload); err != nil {
			return fmt.Errorf("failed to upsert pending snapshot: %w", err)
		}
	}

	for _, row := range batch.FinalMessages {
		if _, err := tx.Exec(ctx, `
			INSERT INTO final_messages (
				message_id, bridge_id, status, source_chain_id, destination_chain_id,
				source_tx_hash, dest_tx_hash, last_update_timestamp
			) VALUES ($1, $2, $3, $4, $5, $6, $7, to_timestamp($8))
			ON CONFLICT (message_id, bridge_id) DO UPDATE SET
				status = EXCLUDED.status,
				destination_chain_id = EXCLUDED.destination_chain_id,
				dest_tx_hash = EXCLUDED.dest_tx_hash,
				last_update_timestamp = EXCLUDED.last_update_timestamp
		`,
			row.MessageID, row.BridgeID, row.Status, row.SourceChainID, row.DestinationChainID,
			row.SourceTxHash[:], row.DestTxHash[:], row.LastUpdateTimestamp,
		); err != nil {
			return fmt.Errorf("failed to upsert final message: %w", err)
		}
	}

	for _, row := range batch.FinalTransfers {
		detailJSON, err := json.Marshal(row.Detail)
		if err != nil {
			return fmt.Errorf("failed to marshal transfer detail: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO final_transfers (message_id, bridge_id, index, kind, detail)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (message_id, bridge_id, index) DO UPDATE SET
				kind = EXCLUDED.kind,
				detail = EXCLUDED.detail
		`, row.MessageID, row.BridgeID, row.Index, row.Kind, detailJSON); err != nil {
			return fmt.Errorf("failed to upsert final transfer: %w", err)
		}
	}

	for _, key := range batch.PendingDeletes {
		if _, err := tx.Exec(ctx,
			`DELETE FROM pending_messages WHERE message_id = $1 AND bridge_id = $2`,
			key.MessageID, key.BridgeID,
		); err != nil {
			return fmt.Errorf("failed to delete pending snapshot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
