package dispatch

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blockscout/interchain-indexer/internal/decode"
	"github.com/blockscout/interchain-indexer/internal/message"
)

// HandlerFunc is the contract every canonical event handler satisfies.
type HandlerFunc func(ctx context.Context, lc LogHandleContext) error

// Registry maps topic0 signatures to the canonical handlers.
func Registry() map[common.Hash]HandlerFunc {
	return map[common.Hash]HandlerFunc{
		decode.SendCrossChainMessageSig:    HandleSendCrossChainMessage,
		decode.ReceiveCrossChainMessageSig: HandleReceiveCrossChainMessage,
		decode.MessageExecutedSig:          HandleMessageExecuted,
		decode.MessageExecutionFailedSig:   HandleMessageExecutionFailed,
	}
}

func keyFor(bridgeID int32, messageID [32]byte) message.Key {
	return message.Key{MessageID: message.DeriveMessageID(messageID), BridgeID: int16(bridgeID)}
}

// HandleSendCrossChainMessage implements the source-side handler: resolve
// the destination chain, parse at most one sender-side transfer log from
// the same receipt, and record the send event.
func HandleSendCrossChainMessage(ctx context.Context, lc LogHandleContext) error {
	evt, err := decode.DecodeSendCrossChainMessage(lc.Log)
	if err != nil {
		return fmt.Errorf("decoding SendCrossChainMessage: %w", err)
	}

	destChainID, err := lc.Resolver.Resolve(ctx, evt.DestinationBlockchainID)
	if err != nil {
		return fmt.Errorf("resolving destination chain id: %w", err)
	}
	if lc.shouldSkip(destChainID) {
		return nil
	}

	key := keyFor(lc.BridgeID, evt.MessageID)

	transfer, err := parseSenderTransfer(evt.MessageID, lc.ReceiptLogs)
	if err != nil {
		return err
	}

	annotated := message.AnnotatedEvent{
		TxHash:             lc.Log.TxHash,
		BlockNumber:        lc.BlockNumber,
		Timestamp:          lc.BlockTimestamp,
		SourceChainID:      lc.ChainID,
		DestinationChainID: destChainID,
	}

	return lc.Buffer.Alter(ctx, key, lc.ChainID, lc.BlockNumber, func(m *message.Message) error {
		if m.Send == nil {
			m.Send = &annotated
		}
		if transfer != nil && m.Transfer == nil {
			m.Transfer = transfer
		}
		return nil
	})
}

// HandleReceiveCrossChainMessage implements the destination-side reception
// handler. An execution outcome co-located in the same receipt is
// intentionally detected but not persisted here.
func HandleReceiveCrossChainMessage(ctx context.Context, lc LogHandleContext) error {
	evt, err := decode.DecodeReceiveCrossChainMessage(lc.Log)
	if err != nil {
		return fmt.Errorf("decoding ReceiveCrossChainMessage: %w", err)
	}

	srcChainID, err := lc.Resolver.Resolve(ctx, evt.SourceBlockchainID)
	if err != nil {
		return fmt.Errorf("resolving source chain id: %w", err)
	}
	if lc.shouldSkip(srcChainID) {
		return nil
	}

	key := keyFor(lc.BridgeID, evt.MessageID)

	// Detect but do not persist: a MessageExecuted/MessageExecutionFailed
	// log in this same receipt will be authoritatively handled when the
	// dispatcher reaches it (either in this batch or a later one).
	_ = detectExecutionOutcome(lc.ReceiptLogs)

	annotated := message.AnnotatedEvent{
		TxHash:             lc.Log.TxHash,
		BlockNumber:        lc.BlockNumber,
		Timestamp:          lc.BlockTimestamp,
		SourceChainID:      srcChainID,
		DestinationChainID: lc.ChainID,
	}

	return lc.Buffer.Alter(ctx, key, lc.ChainID, lc.BlockNumber, func(m *message.Message) error {
		if m.Receive == nil {
			m.Receive = &annotated
		}
		return nil
	})
}

// HandleMessageExecuted implements the authoritative-success handler. It
// enforces the receiver-side receipt invariants and merges transfer detail,
// preserving sender-side fields already recorded.
func HandleMessageExecuted(ctx context.Context, lc LogHandleContext) error {
	evt, err := decode.DecodeMessageExecuted(lc.Log)
	if err != nil {
		return fmt.Errorf("decoding MessageExecuted: %w", err)
	}

	srcChainID, err := lc.Resolver.Resolve(ctx, evt.SourceBlockchainID)
	if err != nil {
		return fmt.Errorf("resolving source chain id: %w", err)
	}
	if lc.shouldSkip(srcChainID) {
		return nil
	}

	key := keyFor(lc.BridgeID, evt.MessageID)

	annotated := message.AnnotatedEvent{
		TxHash:             lc.Log.TxHash,
		BlockNumber:        lc.BlockNumber,
		Timestamp:          lc.BlockTimestamp,
		SourceChainID:      srcChainID,
		DestinationChainID: lc.ChainID,
	}

	return lc.Buffer.Alter(ctx, key, lc.ChainID, lc.BlockNumber, func(m *message.Message) error {
		m.Execution = &message.ExecutionOutcome{Kind: message.ExecutionSucceeded, Event: annotated}
		merged, err := mergeReceiverTransfer(m.Transfer, lc.ReceiptLogs)
		if err != nil {
			return err
		}
		m.Transfer = merged
		return nil
	})
}

// HandleMessageExecutionFailed implements the failure handler, refusing to
// downgrade a prior Succeeded outcome.
func HandleMessageExecutionFailed(ctx context.Context, lc LogHandleContext) error {
	evt, err := decode.DecodeMessageExecutionFailed(lc.Log)
	if err != nil {
		return fmt.Errorf("decoding MessageExecutionFailed: %w", err)
	}

	srcChainID, err := lc.Resolver.Resolve(ctx, evt.SourceBlockchainID)
	if err != nil {
		return fmt.Errorf("resolving source chain id: %w", err)
	}
	if lc.shouldSkip(srcChainID) {
		return nil
	}

	key := keyFor(lc.BridgeID, evt.MessageID)

	annotated := message.AnnotatedEvent{
		TxHash:             lc.Log.TxHash,
		BlockNumber:        lc.BlockNumber,
		Timestamp:          lc.BlockTimestamp,
		SourceChainID:      srcChainID,
		DestinationChainID: lc.ChainID,
	}

	return lc.Buffer.Alter(ctx, key, lc.ChainID, lc.BlockNumber, func(m *message.Message) error {
		if m.Execution != nil && m.Execution.Kind == message.ExecutionSucceeded {
			return nil
		}
		m.Execution = &message.ExecutionOutcome{Kind: message.ExecutionFailed, Event: annotated}
		return nil
	})
}

// parseSenderTransfer scans receipt logs for a sender-side ICTT transfer
// log referencing messageID, enforcing at most one such log.
func parseSenderTransfer(messageID [32]byte, receiptLogs []types.Log) (*message.TokenTransfer, error) {
	var found []*message.TokenTransfer

	for _, log := range receiptLogs {
		if len(log.Topics) == 0 {
			continue
		}
		var transfer *message.TokenTransfer
		switch log.Topics[0] {
		case decode.TokensSentSig:
			t, err := decode.DecodeTokensSent(log, true)
			if err != nil {
				continue
			}
			if t.TeleporterMessageID != messageID {
				continue
			}
			transfer = &message.TokenTransfer{Sent: &message.SentTransfer{SourceDetail: t.Detail}}
		case decode.TokensRoutedSig:
			t, err := decode.DecodeTokensSent(log, false)
			if err != nil {
				continue
			}
			if t.TeleporterMessageID != messageID {
				continue
			}
			transfer = &message.TokenTransfer{Sent: &message.SentTransfer{SourceDetail: t.Detail}}
		case decode.TokensAndCallSentSig:
			t, err := decode.DecodeTokensAndCallSent(log, true)
			if err != nil {
				continue
			}
			if t.TeleporterMessageID != messageID {
				continue
			}
			transfer = &message.TokenTransfer{SentAndCall: &message.SentAndCallTransfer{CallSource: t.Detail}}
		case decode.TokensAndCallRoutedSig:
			t, err := decode.DecodeTokensAndCallSent(log, false)
			if err != nil {
				continue
			}
			if t.TeleporterMessageID != messageID {
				continue
			}
			transfer = &message.TokenTransfer{SentAndCall: &message.SentAndCallTransfer{CallSource: t.Detail}}
		default:
			continue
		}
		found = append(found, transfer)
	}

	if len(found) > 1 {
		return nil, fmt.Errorf("multiple sender-side ICTT transfer logs found for message %x in one receipt", messageID)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// mergeReceiverTransfer enforces the receiver-side receipt invariants (at
// most one of each outcome log, CallSucceeded/CallFailed mutually
// exclusive) and merges the outcome into the existing transfer, preserving
// sender-side fields. A type mismatch between the existing transfer shape
// and the receiver-side log observed is an error.
func mergeReceiverTransfer(existing *message.TokenTransfer, receiptLogs []types.Log) (*message.TokenTransfer, error) {
	var withdrawn, succeeded, failed []types.Log
	for _, log := range receiptLogs {
		if len(log.Topics) == 0 {
			continue
		}
		switch log.Topics[0] {
		case decode.TokensWithdrawnSig:
			withdrawn = append(withdrawn, log)
		case decode.CallSucceededSig:
			succeeded = append(succeeded, log)
		case decode.CallFailedSig:
			failed = append(failed, log)
		}
	}
	if len(withdrawn) > 1 {
		return nil, fmt.Errorf("multiple TokensWithdrawn logs in one receipt")
	}
	if len(succeeded) > 1 {
		return nil, fmt.Errorf("multiple CallSucceeded logs in one receipt")
	}
	if len(failed) > 1 {
		return nil, fmt.Errorf("multiple CallFailed logs in one receipt")
	}
	if len(succeeded) == 1 && len(failed) == 1 {
		return nil, fmt.Errorf("CallSucceeded and CallFailed are mutually exclusive in one receipt")
	}

	switch {
	case len(withdrawn) == 1:
		outcome, err := decode.DecodeReceiverOutcome(withdrawn[0])
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.SentAndCall != nil {
			return nil, fmt.Errorf("transfer-type mismatch: TokensWithdrawn observed but existing transfer is SentAndCall")
		}
		sent := &message.SentTransfer{DestDetail: outcome.Detail}
		if existing != nil && existing.Sent != nil {
			sent.SourceDetail = existing.Sent.SourceDetail
		}
		return &message.TokenTransfer{Sent: sent}, nil
	case len(succeeded) == 1:
		outcome, err := decode.DecodeReceiverOutcome(succeeded[0])
		if err != nil {
			return nil, err
		}
		return mergeCallOutcome(existing, true, outcome.Detail)
	case len(failed) == 1:
		outcome, err := decode.DecodeReceiverOutcome(failed[0])
		if err != nil {
			return nil, err
		}
		return mergeCallOutcome(existing, false, outcome.Detail)
	default:
		return existing, nil
	}
}

func mergeCallOutcome(existing *message.TokenTransfer, succeeded bool, detail map[string]any) (*message.TokenTransfer, error) {
	if existing != nil && existing.Sent != nil {
		return nil, fmt.Errorf("transfer-type mismatch: call outcome observed but existing transfer is Sent")
	}
	sc := &message.SentAndCallTransfer{CallOutcome: &message.CallOutcome{Succeeded: succeeded, Data: detail}}
	if existing != nil && existing.SentAndCall != nil {
		sc.CallSource = existing.SentAndCall.CallSource
	}
	return &message.TokenTransfer{SentAndCall: sc}, nil
}

// detectExecutionOutcome reports whether an execution outcome log is
// present in the receipt, without decoding or persisting it. Preserved as
// its own function because the detect-but-don't-persist policy is the
// documented, deliberate behavior of ReceiveCrossChainMessage handling.
func detectExecutionOutcome(receiptLogs []types.Log) bool {
	for _, log := range receiptLogs {
		if len(log.Topics) == 0 {
			continue
		}
		if log.Topics[0] == decode.MessageExecutedSig || log.Topics[0] == decode.MessageExecutionFailedSig {
			return true
		}
	}
	return false
}
