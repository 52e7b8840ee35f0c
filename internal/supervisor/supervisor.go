// Package supervisor wires the per-chain log streams and dispatcher for one
// bridge deployment to a tiered message buffer, and exposes a coarse
// Idle/Running/Failed state machine over the whole thing.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/blockscout/interchain-indexer/internal/buffer"
	"github.com/blockscout/interchain-indexer/internal/checkpoint"
	"github.com/blockscout/interchain-indexer/internal/config"
	"github.com/blockscout/interchain-indexer/internal/decode"
	"github.com/blockscout/interchain-indexer/internal/dispatch"
	"github.com/blockscout/interchain-indexer/internal/logstream"
	"github.com/blockscout/interchain-indexer/internal/message"
	"github.com/blockscout/interchain-indexer/internal/rpc"
)

// State is the coarse supervisor lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot for health/diagnostics endpoints.
type Status struct {
	State         State
	FailureReason string
	InitTimestamp time.Time
	ErrorCount    uint64
	ExtraInfo     map[string]any
}

var trackedEventSignatures = []common.Hash{
	decode.SendCrossChainMessageSig,
	decode.ReceiveCrossChainMessageSig,
	decode.MessageExecutedSig,
	decode.MessageExecutionFailedSig,
	decode.TokensSentSig,
	decode.TokensAndCallSentSig,
	decode.TokensRoutedSig,
	decode.TokensAndCallRoutedSig,
	decode.TokensWithdrawnSig,
	decode.CallSucceededSig,
	decode.CallFailedSig,
}

// Supervisor owns the long-running task set for one bridge: one log stream
// and dispatcher per chain, funneling into a single tiered message buffer.
type Supervisor struct {
	cfg     config.Config
	clients map[int64]rpc.Client
	store   buffer.DurableStore
	cps     checkpoint.Store
	observer buffer.FinalizedObserver
	logger  zerolog.Logger

	buf *buffer.Buffer[message.Message]

	isRunning     atomic.Bool
	errorCount    atomic.Uint64
	initTimestamp time.Time

	mu            sync.RWMutex
	state         State
	failureReason string

	mainCancel context.CancelFunc
	mainDone   chan struct{}
}

// New constructs a Supervisor. clients must have one entry per configured
// chain, keyed by chain id.
func New(
	cfg config.Config,
	clients map[int64]rpc.Client,
	store buffer.DurableStore,
	cps checkpoint.Store,
	observer buffer.FinalizedObserver,
	logger zerolog.Logger,
) (*Supervisor, error) {
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("supervisor requires at least one configured chain")
	}
	for _, c := range cfg.Chains {
		if _, ok := clients[c.ChainID]; !ok {
			return nil, fmt.Errorf("no rpc client configured for chain %d", c.ChainID)
		}
	}

	s := &Supervisor{
		cfg:           cfg,
		clients:       clients,
		store:         store,
		cps:           cps,
		observer:      observer,
		logger:        logger.With().Str("component", "supervisor").Int32("bridge_id", cfg.BridgeID).Logger(),
		state:         StateIdle,
		initTimestamp: time.Now(),
	}

	s.buf = buffer.New(
		cfg.BridgeID,
		buffer.Config{
			MaxHotEntries:       cfg.Buffer.MaxHotEntries,
			HotTTL:              cfg.Buffer.HotTTL,
			MaintenanceInterval: cfg.Buffer.MaintenanceInterval,
		},
		message.MessageConsolidator{},
		func() message.Message { return message.Message{} },
		store,
		checkpointAdvancerAdapter{cps},
		observer,
		s.logger,
	)

	return s, nil
}

type checkpointAdvancerAdapter struct {
	store checkpoint.Store
}

func (a checkpointAdvancerAdapter) Advance(ctx context.Context, bridgeID int32, chainID int64, realtimeCursor, catchupMaxBlock uint64) error {
	return a.store.Advance(ctx, bridgeID, chainID, realtimeCursor, catchupMaxBlock)
}

// Start atomically transitions Idle -> Running and spawns the buffer
// maintenance loop plus the main indexing task. A concurrent or repeated
// call while already running is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("supervisor already running")
		return nil
	}

	mainCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.mainCancel = cancel
	s.mainDone = make(chan struct{})
	s.state = StateRunning
	s.failureReason = ""
	s.mu.Unlock()

	s.buf.Start(mainCtx)

	go s.runGuarded(mainCtx)

	return nil
}

// runGuarded runs the main task and, regardless of how it exits, restores
// is_running/state via a deferred cleanup step mirroring a scope-exit guard.
func (s *Supervisor) runGuarded(ctx context.Context) {
	defer s.cleanup()

	if err := s.run(ctx); err != nil && ctx.Err() == nil {
		s.errorCount.Add(1)
		s.logger.Error().Err(err).Msg("indexing task stopped with error")
		s.mu.Lock()
		s.state = StateFailed
		s.failureReason = err.Error()
		s.mu.Unlock()
	}
}

func (s *Supervisor) cleanup() {
	s.isRunning.Store(false)
	s.mu.Lock()
	if s.state != StateFailed {
		s.state = StateIdle
	}
	done := s.mainDone
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// Stop cancels the main task and maintenance loop and returns once the main
// task has exited; it does not wait for the maintenance loop.
func (s *Supervisor) Stop() {
	s.mu.RLock()
	cancel := s.mainCancel
	done := s.mainDone
	s.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot for health/diagnostics endpoints.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:         s.state,
		FailureReason: s.failureReason,
		InitTimestamp: s.initTimestamp,
		ErrorCount:    s.errorCount.Load(),
		ExtraInfo: map[string]any{
			"chains_count":  len(s.cfg.Chains),
			"poll_interval": s.cfg.PollInterval.String(),
			"batch_size":    s.cfg.BatchSize,
			"hot_entries":   s.buf.Len(),
		},
	}
}

// run builds one log stream plus dispatcher per chain, restoring cursors
// from checkpoints where present, and fans all batches into the shared
// buffer via each chain's dispatcher.
func (s *Supervisor) run(ctx context.Context) error {
	chainIDs := make(map[int64]bool, len(s.cfg.Chains))
	for _, c := range s.cfg.Chains {
		chainIDs[c.ChainID] = true
	}
	resolver := dispatch.StaticResolver{Known: map[string]int64{}}

	var wg sync.WaitGroup
	for _, chainCfg := range s.cfg.Chains {
		chainCfg := chainCfg
		client := s.clients[chainCfg.ChainID]

		realtimeCursor, catchupCursor, err := s.restoreCursors(ctx, client, chainCfg)
		if err != nil {
			return fmt.Errorf("chain %d: %w", chainCfg.ChainID, err)
		}

		stream := logstream.New(client, logstream.Filter{
			Address: chainCfg.Address(),
			Topics:  trackedEventSignatures,
		}, logstream.Config{
			PollInterval:   s.cfg.PollInterval,
			BatchSize:      s.cfg.BatchSize,
			GenesisBlock:   chainCfg.StartBlock,
			RealtimeCursor: realtimeCursor,
			CatchupCursor:  catchupCursor,
			EnableCatchup:  true,
			EnableRealtime: true,
		}, s.logger)

		dispatcher := dispatch.NewDispatcher(
			s.cfg.BridgeID, client, s.buf, resolver, chainIDs, s.cfg.ProcessUnknownChains,
			s.cfg.ReceiptConcurrency, s.logger,
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consumeChain(ctx, chainCfg.ChainID, stream, dispatcher)
		}()
	}

	wg.Wait()
	return nil
}

// consumeChain runs one chain's log stream to completion, dispatching each
// batch and logging-and-continuing on a per-batch failure.
func (s *Supervisor) consumeChain(ctx context.Context, chainID int64, stream *logstream.Stream, dispatcher *dispatch.Dispatcher) {
	batches, errs := stream.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			if err := dispatcher.Dispatch(ctx, batch.Logs); err != nil {
				s.logger.Error().Err(err).Int64("chain_id", chainID).Msg("failed to process log batch")
			}
		case err, ok := <-errs:
			if !ok {
				continue
			}
			s.logger.Error().Err(err).Int64("chain_id", chainID).Msg("log stream error")
		}
	}
}

func (s *Supervisor) restoreCursors(ctx context.Context, client rpc.Client, chainCfg config.ChainConfig) (realtime, catchup uint64, err error) {
	existing, found, err := s.cps.Get(ctx, s.cfg.BridgeID, chainCfg.ChainID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if found {
		s.logger.Info().
			Int64("chain_id", chainCfg.ChainID).
			Uint64("realtime_cursor", existing.RealtimeCursor).
			Uint64("catchup_max_block", existing.CatchupMaxBlock).
			Msg("restored checkpoint")
		return existing.RealtimeCursor, existing.CatchupMaxBlock, nil
	}

	tip, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch current tip: %w", err)
	}
	catchupStart := uint64(0)
	if tip > 0 {
		catchupStart = tip - 1
	}
	s.logger.Info().
		Int64("chain_id", chainCfg.ChainID).
		Uint64("realtime_cursor", tip).
		Uint64("catchup_cursor", catchupStart).
		Msg("no checkpoint found, initializing from current tip")
	return tip, catchupStart, nil
}
