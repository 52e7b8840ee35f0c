// Package logstream multiplexes a catch-up sub-stream (walking backward
// toward genesis) and a realtime sub-stream (polling forward from the
// chain tip) of decoded logs into a single sequence per chain, preferring
// a ready realtime batch over a ready catch-up batch.
package logstream

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/blockscout/interchain-indexer/internal/rpc"
)

// Batch is one internally-ordered slice of logs from either sub-stream,
// along with the cursor value that observing it completely allows the
// caller to advance to.
type Batch struct {
	Logs         []types.Log
	Realtime     bool
	CursorAdvance uint64
}

// Filter selects which logs a stream cares about.
type Filter struct {
	Address common.Address
	Topics  []common.Hash
}

func (f Filter) query(from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{f.Address},
		Topics:    [][]common.Hash{f.Topics},
	}
}

// Config tunes one Stream instance.
type Config struct {
	PollInterval   time.Duration
	BatchSize      uint64
	GenesisBlock   uint64
	RealtimeCursor uint64
	CatchupCursor  uint64
	EnableCatchup  bool
	EnableRealtime bool
}

// Stream produces the fairly-merged catch-up/realtime batch sequence for a
// single chain and event filter.
type Stream struct {
	client rpc.Client
	filter Filter
	cfg    Config
	logger zerolog.Logger
}

// New constructs a Stream. The caller is responsible for persisting the
// cursor values Batch.CursorAdvance reports; Stream itself is stateless
// across restarts.
func New(client rpc.Client, filter Filter, cfg Config, logger zerolog.Logger) *Stream {
	return &Stream{
		client: client,
		filter: filter,
		cfg:    cfg,
		logger: logger.With().Str("component", "logstream").Int64("chain_id", client.ChainID()).Logger(),
	}
}

// Run starts the catch-up and realtime goroutines (per the Enable* flags)
// and returns a single batch channel plus an error channel. Each sub-stream
// sends to its own internal channel; a merge goroutine arbitrates between
// them, draining a ready realtime batch ahead of a ready catch-up batch, and
// falling back to a fair blocking select when neither is immediately ready.
// Both returned channels close once both sub-streams have exited: after ctx
// is cancelled, or when catch-up reaches genesis and realtime is disabled.
func (s *Stream) Run(ctx context.Context) (<-chan Batch, <-chan error) {
	batches := make(chan Batch)
	errs := make(chan error, 2)

	realtimeCh := make(chan Batch)
	catchupCh := make(chan Batch)
	realtimeDone := make(chan struct{})
	catchupDone := make(chan struct{})

	if s.cfg.EnableRealtime {
		go func() {
			defer close(realtimeDone)
			s.runRealtime(ctx, realtimeCh, errs)
		}()
	} else {
		close(realtimeDone)
	}

	if s.cfg.EnableCatchup {
		go func() {
			defer close(catchupDone)
			s.runCatchup(ctx, catchupCh, errs)
		}()
	} else {
		close(catchupDone)
	}

	go func() {
		defer close(batches)
		defer close(errs)
		s.merge(ctx, realtimeCh, catchupCh, realtimeDone, catchupDone, batches)
		<-realtimeDone
		<-catchupDone
	}()

	return batches, errs
}

// merge arbitrates between the realtime and catch-up sub-stream channels,
// always preferring a realtime batch that is immediately ready. Once a
// sub-stream's done channel closes its input channel is dropped from
// consideration; merge returns once both have closed or ctx is cancelled.
func (s *Stream) merge(ctx context.Context, realtimeCh, catchupCh <-chan Batch, realtimeDone, catchupDone <-chan struct{}, out chan<- Batch) {
	for realtimeCh != nil || catchupCh != nil {
		// Drain an already-ready realtime batch before considering catch-up.
		select {
		case b := <-realtimeCh:
			if !s.forward(ctx, out, b) {
				return
			}
			continue
		default:
		}

		select {
		case b := <-realtimeCh:
			if !s.forward(ctx, out, b) {
				return
			}
		case b := <-catchupCh:
			if !s.forward(ctx, out, b) {
				return
			}
		case <-realtimeDone:
			realtimeCh, realtimeDone = nil, nil
		case <-catchupDone:
			catchupCh, catchupDone = nil, nil
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) forward(ctx context.Context, out chan<- Batch, b Batch) bool {
	select {
	case out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

// runRealtime polls forward from RealtimeCursor+1 to the current tip every
// PollInterval. The cursor only advances past a window once its batch has
// been delivered to the consumer. Transient RPC failures are retried inside
// the client itself; an error surfacing here means its retry budget is
// already exhausted.
func (s *Stream) runRealtime(ctx context.Context, out chan<- Batch, errs chan<- error) {
	cursor := s.cfg.RealtimeCursor
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tip, err := s.client.BlockNumber(ctx)
		if err != nil {
			select {
			case errs <- fmt.Errorf("realtime: fetching tip: %w", err):
			default:
			}
			continue
		}
		if tip <= cursor {
			continue
		}

		logs, err := s.client.FilterLogs(ctx, s.filter.query(cursor+1, tip))
		if err != nil {
			select {
			case errs <- fmt.Errorf("realtime: filtering logs %d-%d: %w", cursor+1, tip, err):
			default:
			}
			continue
		}

		sortLogs(logs)
		select {
		case out <- Batch{Logs: logs, Realtime: true, CursorAdvance: tip}:
			cursor = tip
		case <-ctx.Done():
			return
		}
	}
}

// runCatchup walks backward from CatchupCursor toward GenesisBlock in
// windows of at most BatchSize blocks. As in runRealtime, retries happen
// inside the client.
func (s *Stream) runCatchup(ctx context.Context, out chan<- Batch, errs chan<- error) {
	cursor := s.cfg.CatchupCursor
	if cursor < s.cfg.GenesisBlock {
		return
	}

	for cursor >= s.cfg.GenesisBlock {
		select {
		case <-ctx.Done():
			return
		default:
		}

		windowStart := s.cfg.GenesisBlock
		if cursor+1 > s.cfg.BatchSize {
			candidate := cursor - s.cfg.BatchSize + 1
			if candidate > windowStart {
				windowStart = candidate
			}
		}

		logs, err := s.client.FilterLogs(ctx, s.filter.query(windowStart, cursor))
		if err != nil {
			select {
			case errs <- fmt.Errorf("catchup: filtering logs %d-%d: %w", windowStart, cursor, err):
			default:
			}
			return
		}

		sortLogs(logs)
		select {
		case out <- Batch{Logs: logs, Realtime: false, CursorAdvance: windowStart}:
		case <-ctx.Done():
			return
		}

		if windowStart == s.cfg.GenesisBlock {
			s.logger.Info().Msg("catch-up reached genesis block, terminating")
			return
		}
		cursor = windowStart - 1
	}
}

func sortLogs(logs []types.Log) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
