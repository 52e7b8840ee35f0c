package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/blockscout/interchain-indexer/internal/buffer"
	"github.com/blockscout/interchain-indexer/internal/message"
	"github.com/blockscout/interchain-indexer/internal/rpc"
)

var (
	logsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_dispatch_logs_total",
		Help: "Logs routed to a handler, by outcome.",
	}, []string{"chain_id", "outcome"})
	receiptFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_dispatch_receipt_fetch_errors_total",
		Help: "Transaction receipt or block timestamp fetches that failed.",
	}, []string{"chain_id"})
)

// Dispatcher groups a batch of logs by transaction, fetches each
// transaction's receipt and block timestamp once, and routes individual
// logs to the registry's handlers.
type Dispatcher struct {
	chainID              int32
	bridgeID             int32
	rpc                  rpc.Client
	buf                  *buffer.Buffer[message.Message]
	resolver             ChainIDResolver
	chainIDs             map[int64]bool
	processUnknownChains bool
	concurrency          int
	registry             map[[32]byte]HandlerFunc
	logger               zerolog.Logger
}

// NewDispatcher constructs a Dispatcher for a single chain. chainIDs is the
// full set of chain ids the bridge deployment tracks, used for the
// unknown-chain gating policy.
func NewDispatcher(
	bridgeID int32,
	client rpc.Client,
	buf *buffer.Buffer[message.Message],
	resolver ChainIDResolver,
	chainIDs map[int64]bool,
	processUnknownChains bool,
	concurrency int,
	logger zerolog.Logger,
) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 25
	}
	reg := make(map[[32]byte]HandlerFunc, 4)
	for hash, fn := range Registry() {
		reg[hash] = fn
	}
	return &Dispatcher{
		bridgeID:             bridgeID,
		rpc:                  client,
		buf:                  buf,
		resolver:             resolver,
		chainIDs:             chainIDs,
		processUnknownChains: processUnknownChains,
		concurrency:          concurrency,
		registry:             reg,
		logger:               logger.With().Str("component", "dispatch").Int64("chain_id", client.ChainID()).Logger(),
	}
}

type txReceipt struct {
	receipt   *types.Receipt
	timestamp uint64
	err       error
}

// Dispatch processes one batch of raw logs: groups by transaction hash,
// fetches each transaction's receipt and block timestamp with bounded
// concurrency, then routes every log to its handler: transactions in order of
// their first log in the batch, and each transaction's logs in batch order.
func (d *Dispatcher) Dispatch(ctx context.Context, logs []types.Log) error {
	chainID := d.rpc.ChainID()
	chainLbl := fmt.Sprintf("%d", chainID)

	byTx := make(map[[32]byte][]types.Log)
	var order [][32]byte
	for _, log := range logs {
		if log.TxHash == (common.Hash{}) {
			d.logger.Warn().Msg("dropping log with empty transaction hash")
			continue
		}
		key := [32]byte(log.TxHash)
		if _, ok := byTx[key]; !ok {
			order = append(order, key)
		}
		byTx[key] = append(byTx[key], log)
	}

	receipts := make(map[[32]byte]*txReceipt, len(order))
	var mu sync.Mutex
	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup

	for _, txHash := range order {
		txHash := txHash
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			receipt, err := d.rpc.TransactionReceipt(ctx, txHash)
			if err != nil {
				receiptFetchErrors.WithLabelValues(chainLbl).Inc()
				mu.Lock()
				receipts[txHash] = &txReceipt{err: fmt.Errorf("fetching receipt: %w", err)}
				mu.Unlock()
				return
			}
			timestamp, err := d.rpc.BlockTimestamp(ctx, receipt.BlockNumber.Uint64())
			if err != nil {
				receiptFetchErrors.WithLabelValues(chainLbl).Inc()
				mu.Lock()
				receipts[txHash] = &txReceipt{err: fmt.Errorf("fetching block timestamp: %w", err)}
				mu.Unlock()
				return
			}
			mu.Lock()
			receipts[txHash] = &txReceipt{receipt: receipt, timestamp: timestamp}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, txHash := range order {
		tr := receipts[txHash]
		txLogs := byTx[txHash]
		if tr.err != nil {
			d.logger.Error().Err(tr.err).Str("tx_hash", fmt.Sprintf("%x", txHash)).Msg("skipping transaction, receipt unavailable")
			logsDispatchedTotal.WithLabelValues(chainLbl, "receipt_error").Add(float64(len(txLogs)))
			continue
		}

		for _, log := range txLogs {
			if err := d.dispatchOne(ctx, chainID, tr, log); err != nil {
				d.logger.Error().Err(err).
					Str("tx_hash", fmt.Sprintf("%x", txHash)).
					Uint("log_index", uint(log.Index)).
					Msg("handler failed for log")
				logsDispatchedTotal.WithLabelValues(chainLbl, "handler_error").Inc()
				continue
			}
			logsDispatchedTotal.WithLabelValues(chainLbl, "ok").Inc()
		}
	}

	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, chainID int64, tr *txReceipt, log types.Log) error {
	if len(log.Topics) == 0 {
		return nil
	}
	handler, ok := d.registry[log.Topics[0]]
	if !ok {
		return nil
	}

	receiptLogs := make([]types.Log, 0, len(tr.receipt.Logs))
	for _, l := range tr.receipt.Logs {
		if l != nil {
			receiptLogs = append(receiptLogs, *l)
		}
	}

	lc := LogHandleContext{
		ChainID:              chainID,
		BlockNumber:          log.BlockNumber,
		BlockTimestamp:       tr.timestamp,
		BridgeID:             d.bridgeID,
		ChainIDs:             d.chainIDs,
		ProcessUnknownChains: d.processUnknownChains,
		Resolver:             d.resolver,
		Buffer:               d.buf,
		Log:                  log,
		ReceiptLogs:          receiptLogs,
	}

	return handler(ctx, lc)
}
