package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blockscout/interchain-indexer/internal/message"
)

// Start spawns the background maintenance loop, ticking every
// MaintenanceInterval. Errors are logged and the loop continues
// indefinitely; the caller cancels ctx to stop it.
func (b *Buffer[T]) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.cfg.MaintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := b.Run(ctx); err != nil {
					b.logger.Error().Err(err).Msg("maintenance pass failed, will retry next tick")
				}
			}
		}
	}()
}

// tryRun attempts an opportunistic pass without blocking if one is already
// in flight; used for the backpressure trigger in Alter.
func (b *Buffer[T]) tryRun(ctx context.Context) {
	if !b.maintMu.TryLock() {
		return
	}
	defer b.maintMu.Unlock()
	if err := b.runLocked(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("opportunistic maintenance pass failed")
	}
}

// Run performs one maintenance pass, blocking until it either commits or
// fails. Only one pass runs at a time.
func (b *Buffer[T]) Run(ctx context.Context) error {
	b.maintMu.Lock()
	defer b.maintMu.Unlock()
	return b.runLocked(ctx)
}

func (b *Buffer[T]) runLocked(ctx context.Context) error {
	start := time.Now()
	bridgeLbl := bridgeLabel(b.bridgeID)
	defer func() {
		b.metrics.maintenanceDuration.WithLabelValues(bridgeLbl).Observe(time.Since(start).Seconds())
	}()

	now := time.Now()

	b.hotMu.RLock()
	snapshot := make([]struct {
		key message.Key
		le  *lockedEntry[T]
	}, 0, len(b.hot))
	for k, le := range b.hot {
		snapshot = append(snapshot, struct {
			key message.Key
			le  *lockedEntry[T]
		}{k, le})
	}
	b.hotMu.RUnlock()

	var (
		batch             CommitBatch
		finalRecords      = make(map[message.Key]message.ConsolidatedRecord)
		removeCandidates  = make(map[message.Key]uint64)
		flushedVersions   = make(map[message.Key]uint64)
		coldCursors       = make(map[int64]message.BlockRange) // keyed by chain id, this pass only tracks one bridge
		hotCursors        = make(map[int64]message.BlockRange)
		notConsolidatable int
		consolidatedCount int
		finalCount        int
	)

	for _, s := range snapshot {
		key, le := s.key, s.le

		le.mu.Lock()
		if !le.entry.IsDirty() {
			le.mu.Unlock()
			continue
		}

		record, err := b.consolidator.Consolidate(key, le.entry.Inner)
		if err != nil {
			b.logger.Error().Err(err).Interface("key", key).Msg("consolidation failed for key, skipping this pass")
			le.mu.Unlock()
			continue
		}

		isFinal := record != nil && record.IsFinal
		isStale := now.Sub(le.entry.HotSince) >= b.cfg.HotTTL
		version := le.entry.Version
		cursors := cloneCursors(le.entry.Cursors)

		if record != nil {
			consolidatedCount++
			batch.FinalMessages = append(batch.FinalMessages, record.Message)
			batch.FinalTransfers = append(batch.FinalTransfers, record.Transfers...)
			if isFinal {
				finalCount++
				batch.PendingDeletes = append(batch.PendingDeletes, key)
				removeCandidates[key] = version
				finalRecords[key] = *record
			} else {
				flushedVersions[key] = version
			}
		} else {
			notConsolidatable++
		}

		removedThisEntry := false
		if isStale && !isFinal {
			payload, err := json.Marshal(le.entry)
			if err != nil {
				b.logger.Error().Err(err).Interface("key", key).Msg("failed to serialize entry for cold-tier offload")
			} else {
				batch.PendingUpserts = append(batch.PendingUpserts, PendingSnapshot{Key: key, Payload: payload})
				removeCandidates[key] = version
				removedThisEntry = true
			}
		}
		if isFinal {
			removedThisEntry = true
		}

		mergeCursors(cursors, func() map[int64]message.BlockRange {
			if removedThisEntry {
				return coldCursors
			}
			return hotCursors
		}())

		le.mu.Unlock()
	}

	for chainID, cold := range coldCursors {
		realtime, catchup := cold.Max, cold.Min
		if hot, ok := hotCursors[chainID]; ok {
			if hot.Max == 0 {
				// hot.Max-1 would underflow, and block 0 genuinely has a
				// still-open hot entry touching it: this pass must not
				// advance the checkpoint past it, same as the
				// effectiveMax < effectiveMin case below.
				continue
			}
			effectiveMin := maxU64(cold.Min, hot.Min+1)
			effectiveMax := minU64(cold.Max, hot.Max-1)
			if effectiveMax < effectiveMin {
				continue
			}
			realtime, catchup = effectiveMax, effectiveMin
		}
		batch.CheckpointAdvances = append(batch.CheckpointAdvances, CheckpointAdvance{
			BridgeID:        b.bridgeID,
			ChainID:         chainID,
			RealtimeCursor:  realtime,
			CatchupMaxBlock: catchup,
		})
	}

	if len(batch.FinalMessages) == 0 && len(batch.PendingUpserts) == 0 && len(batch.PendingDeletes) == 0 && len(batch.CheckpointAdvances) == 0 {
		return nil
	}

	if err := b.store.Commit(ctx, batch); err != nil {
		b.metrics.maintenanceErrors.WithLabelValues(bridgeLbl).Inc()
		return fmt.Errorf("failed to commit maintenance batch: %w", err)
	}

	for _, adv := range batch.CheckpointAdvances {
		if err := b.checkpoints.Advance(ctx, adv.BridgeID, adv.ChainID, adv.RealtimeCursor, adv.CatchupMaxBlock); err != nil {
			b.logger.Error().Err(err).Int64("chain_id", adv.ChainID).Msg("failed to advance checkpoint after committed maintenance batch")
		}
	}

	for key, version := range flushedVersions {
		b.hotMu.RLock()
		le, ok := b.hot[key]
		b.hotMu.RUnlock()
		if !ok {
			continue
		}
		le.mu.Lock()
		le.entry.MarkFlushed(version)
		le.mu.Unlock()
	}

	removed, skipped := 0, 0
	for key, expectedVersion := range removeCandidates {
		b.hotMu.Lock()
		le, ok := b.hot[key]
		if ok {
			le.mu.Lock()
			if le.entry.Version == expectedVersion {
				delete(b.hot, key)
				removed++
			} else {
				skipped++
			}
			le.mu.Unlock()
		}
		b.hotMu.Unlock()
	}

	b.metrics.hotEntries.WithLabelValues(bridgeLbl).Set(float64(b.Len()))
	b.metrics.finalized.WithLabelValues(bridgeLbl).Add(float64(finalCount))
	b.metrics.offloaded.WithLabelValues(bridgeLbl).Add(float64(len(batch.PendingUpserts)))

	if b.observer != nil {
		for key, record := range finalRecords {
			b.observer.OnFinalized(ctx, key, record)
		}
	}

	b.logger.Info().
		Int("consolidated", consolidatedCount).
		Int("not_consolidatable", notConsolidatable).
		Int("final", finalCount).
		Int("removed", removed).
		Int("removal_skipped_concurrent_mutation", skipped).
		Int("hot_len", b.Len()).
		Msg("maintenance pass complete")

	return nil
}

func cloneCursors(in map[int64]message.BlockRange) map[int64]message.BlockRange {
	out := make(map[int64]message.BlockRange, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mergeCursors(src, dst map[int64]message.BlockRange) {
	for chainID, r := range src {
		if existing, ok := dst[chainID]; ok {
			existing.Extend(r.Min)
			existing.Extend(r.Max)
			dst[chainID] = existing
		} else {
			dst[chainID] = r
		}
	}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
