package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const checkpointBucket = "checkpoints"

// BoltStore is an embedded, single-process Store implementation, suitable
// for dev deployments that don't run a Postgres instance just to track two
// cursors per chain.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (creating if necessary) a bbolt-backed checkpoint
// store at dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(checkpointBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func boltKey(bridgeID int32, chainID int64) []byte {
	return []byte(fmt.Sprintf("%d:%d", bridgeID, chainID))
}

// Get implements Store.
func (s *BoltStore) Get(ctx context.Context, bridgeID int32, chainID int64) (*Checkpoint, bool, error) {
	var cp Checkpoint
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(checkpointBucket))
		data := b.Get(boltKey(bridgeID, chainID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &cp, true, nil
}

// Advance implements Store, applying the GREATEST/LEAST merge policy before
// persisting.
func (s *BoltStore) Advance(ctx context.Context, bridgeID int32, chainID int64, realtimeCursor, catchupMaxBlock uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(checkpointBucket))
		key := boltKey(bridgeID, chainID)

		var existing *Checkpoint
		if data := b.Get(key); data != nil {
			var cp Checkpoint
			if err := json.Unmarshal(data, &cp); err != nil {
				return fmt.Errorf("failed to unmarshal existing checkpoint: %w", err)
			}
			existing = &cp
		}

		realtime, catchup := Merge(existing, realtimeCursor, catchupMaxBlock)
		cp := Checkpoint{
			BridgeID:        bridgeID,
			ChainID:         chainID,
			RealtimeCursor:  realtime,
			CatchupMaxBlock: catchup,
			UpdatedAt:       time.Now(),
		}

		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
		return b.Put(key, data)
	})
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
