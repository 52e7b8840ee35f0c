// Package checkpoint persists per-(bridge, chain) cursor pairs so the
// indexer can resume where it left off after a restart.
package checkpoint

import (
	"context"
	"time"
)

// Checkpoint is the durable cursor pair for one (bridge, chain).
type Checkpoint struct {
	BridgeID        int32
	ChainID         int64
	RealtimeCursor  uint64
	CatchupMaxBlock uint64
	UpdatedAt       time.Time
}

// Store is the persistence boundary the maintenance pass and the supervisor
// consume. Advance must apply the GREATEST(realtime)/LEAST(catchup) merge
// policy atomically, never retreating realtime or advancing catchup.
type Store interface {
	Get(ctx context.Context, bridgeID int32, chainID int64) (*Checkpoint, bool, error)
	Advance(ctx context.Context, bridgeID int32, chainID int64, realtimeCursor, catchupMaxBlock uint64) error
	Close() error
}

// Merge applies the checkpoint's monotonicity rule to a candidate update,
// returning the new (realtime, catchup) pair. Exported so both backends
// apply the exact same policy and so it can be unit tested once.
func Merge(existing *Checkpoint, newRealtime, newCatchup uint64) (realtime, catchup uint64) {
	if existing == nil {
		return newRealtime, newCatchup
	}
	realtime = existing.RealtimeCursor
	if newRealtime > realtime {
		realtime = newRealtime
	}
	catchup = existing.CatchupMaxBlock
	if newCatchup < catchup {
		catchup = newCatchup
	}
	return realtime, catchup
}
