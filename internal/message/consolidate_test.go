package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsolidateNilSendYieldsNothing(t *testing.T) {
	rec, err := MessageConsolidator{}.Consolidate(Key{MessageID: 1, BridgeID: 1}, Message{})
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestConsolidatePendingAfterSendOnly(t *testing.T) {
	send := &AnnotatedEvent{TxHash: [32]byte{1}, SourceChainID: 1, DestinationChainID: 2, Timestamp: 10}
	rec, err := MessageConsolidator{}.Consolidate(Key{MessageID: 7, BridgeID: 1}, Message{Send: send})
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.False(t, rec.IsFinal)
	require.Equal(t, statusPending, rec.Message.Status)
	require.Equal(t, int64(7), rec.Message.MessageID)
	require.Equal(t, send.TxHash, rec.Message.SourceTxHash)
}

func TestConsolidateReceivedIsNotFinal(t *testing.T) {
	send := &AnnotatedEvent{TxHash: [32]byte{1}, Timestamp: 10}
	receive := &AnnotatedEvent{TxHash: [32]byte{2}, Timestamp: 20}
	rec, err := MessageConsolidator{}.Consolidate(Key{MessageID: 1, BridgeID: 1}, Message{Send: send, Receive: receive})
	require.NoError(t, err)
	require.False(t, rec.IsFinal)
	require.Equal(t, statusReceived, rec.Message.Status)
	require.Equal(t, receive.TxHash, rec.Message.DestTxHash)
	require.Equal(t, uint64(20), rec.Message.LastUpdateTimestamp)
}

func TestConsolidateReceivedKeepsLatestSendTimestampIfNewer(t *testing.T) {
	send := &AnnotatedEvent{TxHash: [32]byte{1}, Timestamp: 50}
	receive := &AnnotatedEvent{TxHash: [32]byte{2}, Timestamp: 20}
	rec, err := MessageConsolidator{}.Consolidate(Key{MessageID: 1, BridgeID: 1}, Message{Send: send, Receive: receive})
	require.NoError(t, err)
	require.Equal(t, uint64(50), rec.Message.LastUpdateTimestamp)
}

func TestConsolidateExecutionSucceededIsFinal(t *testing.T) {
	send := &AnnotatedEvent{TxHash: [32]byte{1}, Timestamp: 10}
	exec := &ExecutionOutcome{Kind: ExecutionSucceeded, Event: AnnotatedEvent{TxHash: [32]byte{3}, Timestamp: 30}}
	rec, err := MessageConsolidator{}.Consolidate(Key{MessageID: 1, BridgeID: 1}, Message{Send: send, Execution: exec})
	require.NoError(t, err)
	require.True(t, rec.IsFinal)
	require.Equal(t, statusSuccess, rec.Message.Status)
	require.Equal(t, exec.Event.TxHash, rec.Message.DestTxHash)
}

func TestConsolidateExecutionFailedIsFinal(t *testing.T) {
	send := &AnnotatedEvent{TxHash: [32]byte{1}, Timestamp: 10}
	exec := &ExecutionOutcome{Kind: ExecutionFailed, Event: AnnotatedEvent{TxHash: [32]byte{4}, Timestamp: 40}}
	rec, err := MessageConsolidator{}.Consolidate(Key{MessageID: 1, BridgeID: 1}, Message{Send: send, Execution: exec})
	require.NoError(t, err)
	require.True(t, rec.IsFinal)
	require.Equal(t, statusFailed, rec.Message.Status)
}

func TestConsolidateRejectsMixedTransferShapes(t *testing.T) {
	send := &AnnotatedEvent{TxHash: [32]byte{1}}
	transfer := &TokenTransfer{
		Sent:        &SentTransfer{},
		SentAndCall: &SentAndCallTransfer{},
	}
	_, err := MessageConsolidator{}.Consolidate(Key{MessageID: 1, BridgeID: 1}, Message{Send: send, Transfer: transfer})
	require.Error(t, err)
}

func TestConsolidateSentTransferShape(t *testing.T) {
	send := &AnnotatedEvent{TxHash: [32]byte{1}}
	transfer := &TokenTransfer{Sent: &SentTransfer{SourceDetail: map[string]any{"amount": "10"}}}
	rec, err := MessageConsolidator{}.Consolidate(Key{MessageID: 1, BridgeID: 1}, Message{Send: send, Transfer: transfer})
	require.NoError(t, err)
	require.Len(t, rec.Transfers, 1)
	require.Equal(t, "sent", rec.Transfers[0].Kind)
}

func TestConsolidateSentAndCallTransferShape(t *testing.T) {
	send := &AnnotatedEvent{TxHash: [32]byte{1}}
	transfer := &TokenTransfer{
		SentAndCall: &SentAndCallTransfer{
			CallSource:  map[string]any{"to": "0xabc"},
			CallOutcome: &CallOutcome{Succeeded: true},
		},
	}
	rec, err := MessageConsolidator{}.Consolidate(Key{MessageID: 1, BridgeID: 1}, Message{Send: send, Transfer: transfer})
	require.NoError(t, err)
	require.Len(t, rec.Transfers, 1)
	require.Equal(t, "sent_and_called", rec.Transfers[0].Kind)
	require.Equal(t, true, rec.Transfers[0].Detail["call_succeeded"])
}
