// Package rpc declares the RPC client contract the core consumes and
// provides a go-ethereum-backed implementation of it. The contract itself
// is the boundary: spec'd external collaborators (the actual node, its
// transport) never appear above this interface.
package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// backoffSchedule is the fixed retry schedule applied to every call that
// crosses the RPC boundary: an immediate attempt, then three retries spaced
// 1s/5s/20s apart before giving up. Logstream and dispatch consumers treat a
// returned error as exhausted-retries, not as "try again yourself" — the
// transport-level flakiness a chain node exhibits belongs here, not
// duplicated in every caller.
var backoffSchedule = []time.Duration{1 * time.Second, 5 * time.Second, 20 * time.Second}

// retry calls fn, retrying on error per backoffSchedule until it succeeds,
// the schedule is exhausted, or ctx is cancelled.
func retry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == len(backoffSchedule) {
			break
		}
		select {
		case <-time.After(backoffSchedule[attempt]):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	var zero T
	return zero, fmt.Errorf("exceeded retry budget: %w", lastErr)
}

// Client is the abstract RPC surface a Log Stream needs from a chain node:
// current tip, historical/realtime log queries, and per-transaction receipt
// lookups. Implementations may optionally support push-based head
// subscription.
type Client interface {
	ChainID() int64
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash [32]byte) (*types.Receipt, error)
	SubscribeNewHead(ctx context.Context) (<-chan *types.Header, ethereum.Subscription, error)
	Close()
}

// EthClient is a Client backed by go-ethereum's JSON-RPC/WebSocket client.
type EthClient struct {
	rpc     *ethclient.Client
	ws      *ethclient.Client
	chainID int64
	logger  zerolog.Logger
}

// Dial connects to rpcURL (and, if non-empty, wsURL) and verifies the
// remote chain id matches the configured expectation.
func Dial(rpcURL, wsURL string, expectedChainID int64, logger zerolog.Logger) (*EthClient, error) {
	rpcClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	var wsClient *ethclient.Client
	if wsURL != "" {
		wsClient, err = ethclient.Dial(wsURL)
		if err != nil {
			logger.Warn().Err(err).Str("ws_url", wsURL).Msg("failed to connect to websocket endpoint, will use HTTP only")
		}
	}

	actual, err := rpcClient.ChainID(context.Background())
	if err != nil {
		rpcClient.Close()
		if wsClient != nil {
			wsClient.Close()
		}
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if actual.Cmp(big.NewInt(expectedChainID)) != 0 {
		rpcClient.Close()
		if wsClient != nil {
			wsClient.Close()
		}
		return nil, fmt.Errorf("chain id mismatch: expected %d, got %d", expectedChainID, actual)
	}

	logger.Info().
		Int64("chain_id", expectedChainID).
		Str("rpc_url", rpcURL).
		Bool("has_websocket", wsClient != nil).
		Msg("chain client initialized")

	return &EthClient{rpc: rpcClient, ws: wsClient, chainID: expectedChainID, logger: logger}, nil
}

// ChainID implements Client.
func (c *EthClient) ChainID() int64 { return c.chainID }

// BlockNumber implements Client, retrying transient RPC failures per
// backoffSchedule.
func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := retry(ctx, func() (uint64, error) { return c.rpc.BlockNumber(ctx) })
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return n, nil
}

// BlockTimestamp implements Client, retrying transient RPC failures per
// backoffSchedule.
func (c *EthClient) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	header, err := retry(ctx, func() (*types.Header, error) {
		return c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch header %d: %w", blockNumber, err)
	}
	return header.Time, nil
}

// FilterLogs implements Client, retrying transient RPC failures per
// backoffSchedule. This is the call both the catch-up and realtime
// sub-streams in internal/logstream drive most heavily, so it's the one
// most exposed to a flaky node.
func (c *EthClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := retry(ctx, func() ([]types.Log, error) { return c.rpc.FilterLogs(ctx, query) })
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}
	return logs, nil
}

// TransactionReceipt implements Client, retrying transient RPC failures per
// backoffSchedule.
func (c *EthClient) TransactionReceipt(ctx context.Context, txHash [32]byte) (*types.Receipt, error) {
	receipt, err := retry(ctx, func() (*types.Receipt, error) {
		return c.rpc.TransactionReceipt(ctx, common.Hash(txHash))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt for tx %x: %w", txHash, err)
	}
	return receipt, nil
}

// SubscribeNewHead implements Client. Returns an error if no websocket
// endpoint was configured.
func (c *EthClient) SubscribeNewHead(ctx context.Context) (<-chan *types.Header, ethereum.Subscription, error) {
	if c.ws == nil {
		return nil, nil, fmt.Errorf("websocket client not available")
	}
	headers := make(chan *types.Header)
	sub, err := c.ws.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to new heads: %w", err)
	}
	return headers, sub, nil
}

// Close implements Client.
func (c *EthClient) Close() {
	c.rpc.Close()
	if c.ws != nil {
		c.ws.Close()
	}
	c.logger.Info().Msg("chain client closed")
}
