// Package dispatch groups log batches by transaction, fetches each
// transaction's receipt once, and routes individual logs to the canonical
// cross-chain-message handlers.
package dispatch

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blockscout/interchain-indexer/internal/buffer"
	"github.com/blockscout/interchain-indexer/internal/message"
)

// ChainIDResolver resolves a bridge-specific raw blockchain identifier
// (as carried in event payloads) to the chain id space the indexer tracks.
// Declared as an external collaborator: no implementation in this module
// makes network calls.
type ChainIDResolver interface {
	Resolve(ctx context.Context, raw *big.Int) (int64, error)
}

// StaticResolver is a trivial in-memory ChainIDResolver, primarily useful
// for tests and single-network deployments where the raw identifier already
// is the chain id.
type StaticResolver struct {
	Known map[string]int64
}

// Resolve implements ChainIDResolver.
func (r StaticResolver) Resolve(ctx context.Context, raw *big.Int) (int64, error) {
	if v, ok := r.Known[raw.String()]; ok {
		return v, nil
	}
	return raw.Int64(), nil
}

// LogHandleContext bundles everything a handler needs, avoiding
// argument-order bugs across the four handler functions.
type LogHandleContext struct {
	ChainID              int64
	BlockNumber          uint64
	BlockTimestamp       uint64
	BridgeID             int32
	ChainIDs             map[int64]bool
	ProcessUnknownChains bool
	Resolver             ChainIDResolver
	Buffer               *buffer.Buffer[message.Message]
	Log                  types.Log
	ReceiptLogs          []types.Log
}

// shouldSkip applies the chain-gating policy shared by all four handlers:
// an event whose resolved counterpart chain is untracked is ignored unless
// the bridge opts into accepting unknown chains.
func (c LogHandleContext) shouldSkip(counterpartChainID int64) bool {
	if c.ProcessUnknownChains {
		return false
	}
	return !c.ChainIDs[counterpartChainID]
}
