package message

import "fmt"

// ConsolidatedRecord is the result of mapping a (Key, Entry) pair to the rows
// that would be durably committed for it, together with whether that mapping
// is terminal.
type ConsolidatedRecord struct {
	IsFinal   bool
	Message   FinalMessageRow
	Transfers []FinalTransferRow
}

// FinalMessageRow is the application-facing shape of a fully or
// partially correlated cross-chain message, suitable for upserting into the
// final store.
type FinalMessageRow struct {
	MessageID          int64
	BridgeID           int16
	Status             string
	SourceChainID      int64
	DestinationChainID int64
	SourceTxHash       [32]byte
	DestTxHash         [32]byte
	LastUpdateTimestamp uint64
}

// FinalTransferRow is one transfer sub-record attached to a message.
type FinalTransferRow struct {
	MessageID int64
	BridgeID  int16
	Index     int
	Kind      string
	Detail    map[string]any
}

// Consolidator maps a (Key, Entry) pair to either nothing (not yet
// consolidatable) or a ConsolidatedRecord. Implementations must be pure: the
// same (Key, T) pair always yields the same result.
type Consolidator[T any] interface {
	Consolidate(key Key, inner T) (*ConsolidatedRecord, error)
}

// MessageConsolidator is the canonical Consolidator for the cross-chain
// Message payload.
type MessageConsolidator struct{}

const (
	statusPending  = "pending"
	statusReceived = "received"
	statusSuccess  = "success"
	statusFailed   = "failed"
)

// Consolidate implements Consolidator[Message]. A message is consolidatable
// once its send slot is populated (source/destination chain ids and source
// tx hash are required for any row); it becomes final once an execution
// outcome has been recorded.
func (MessageConsolidator) Consolidate(key Key, inner Message) (*ConsolidatedRecord, error) {
	if inner.Send == nil {
		return nil, nil
	}

	row := FinalMessageRow{
		MessageID:          key.MessageID,
		BridgeID:           key.BridgeID,
		SourceChainID:      inner.Send.SourceChainID,
		DestinationChainID: inner.Send.DestinationChainID,
		SourceTxHash:       inner.Send.TxHash,
		LastUpdateTimestamp: inner.Send.Timestamp,
	}

	isFinal := false
	switch {
	case inner.Execution != nil && inner.Execution.Kind == ExecutionSucceeded:
		row.Status = statusSuccess
		row.DestTxHash = inner.Execution.Event.TxHash
		row.LastUpdateTimestamp = inner.Execution.Event.Timestamp
		isFinal = true
	case inner.Execution != nil && inner.Execution.Kind == ExecutionFailed:
		row.Status = statusFailed
		row.DestTxHash = inner.Execution.Event.TxHash
		row.LastUpdateTimestamp = inner.Execution.Event.Timestamp
		isFinal = true
	case inner.Receive != nil:
		row.Status = statusReceived
		row.DestTxHash = inner.Receive.TxHash
		if inner.Receive.Timestamp > row.LastUpdateTimestamp {
			row.LastUpdateTimestamp = inner.Receive.Timestamp
		}
	default:
		row.Status = statusPending
	}

	transfers, err := consolidateTransfer(key, inner.Transfer)
	if err != nil {
		return nil, err
	}

	return &ConsolidatedRecord{IsFinal: isFinal, Message: row, Transfers: transfers}, nil
}

func consolidateTransfer(key Key, t *TokenTransfer) ([]FinalTransferRow, error) {
	if t == nil {
		return nil, nil
	}
	if t.Sent != nil && t.SentAndCall != nil {
		return nil, fmt.Errorf("message %+v: transfer carries both Sent and SentAndCall shapes", key)
	}
	switch {
	case t.Sent != nil:
		row := FinalTransferRow{MessageID: key.MessageID, BridgeID: key.BridgeID, Index: 0, Kind: "sent"}
		row.Detail = map[string]any{"source_detail": t.Sent.SourceDetail, "dest_detail": t.Sent.DestDetail}
		return []FinalTransferRow{row}, nil
	case t.SentAndCall != nil:
		row := FinalTransferRow{MessageID: key.MessageID, BridgeID: key.BridgeID, Index: 0, Kind: "sent_and_called"}
		detail := map[string]any{"call_source": t.SentAndCall.CallSource}
		if t.SentAndCall.CallOutcome != nil {
			detail["call_succeeded"] = t.SentAndCall.CallOutcome.Succeeded
			detail["call_data"] = t.SentAndCall.CallOutcome.Data
		}
		row.Detail = detail
		return []FinalTransferRow{row}, nil
	default:
		return nil, nil
	}
}
