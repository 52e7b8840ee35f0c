// Package message defines the canonical cross-chain message payload and the
// correlation key the tiered buffer indexes it by.
package message

import "encoding/binary"

// Key identifies a single cross-chain message within a single bridge
// deployment. It is comparable and usable directly as a Go map key.
type Key struct {
	MessageID int64
	BridgeID  int16
}

// BlockRange tracks the inclusive [Min, Max] block numbers on one chain that
// contributed an event to an entry; a flush does not reset it.
type BlockRange struct {
	Min uint64
	Max uint64
}

// Extend widens an already-initialized range to include block n. Callers
// must initialize a fresh range to (n, n) themselves on first observation.
func (r *BlockRange) Extend(n uint64) {
	if n < r.Min {
		r.Min = n
	}
	if n > r.Max {
		r.Max = n
	}
}

// DeriveMessageID extracts the signed, big-endian message id from the first
// eight bytes of a 32-byte cross-chain message identifier.
func DeriveMessageID(id [32]byte) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]))
}
