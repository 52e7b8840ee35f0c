package decode

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SendCrossChainMessage is the decoded shape of a SendCrossChainMessageSig log.
type SendCrossChainMessage struct {
	MessageID               [32]byte
	DestinationBlockchainID *big.Int
}

// DecodeSendCrossChainMessage decodes a SendCrossChainMessage log's indexed
// topics. The ABI-encoded TeleporterMessage/FeeInfo body is not needed by
// the handlers and is left undecoded.
func DecodeSendCrossChainMessage(log types.Log) (SendCrossChainMessage, error) {
	if len(log.Topics) < 3 {
		return SendCrossChainMessage{}, fmt.Errorf("invalid SendCrossChainMessage log: expected 3 topics, got %d", len(log.Topics))
	}
	return SendCrossChainMessage{
		MessageID:               log.Topics[1],
		DestinationBlockchainID: new(big.Int).SetBytes(log.Topics[2].Bytes()),
	}, nil
}

// ReceiveCrossChainMessage is the decoded shape of a ReceiveCrossChainMessageSig log.
type ReceiveCrossChainMessage struct {
	MessageID         [32]byte
	SourceBlockchainID *big.Int
}

// DecodeReceiveCrossChainMessage decodes a ReceiveCrossChainMessage log's
// indexed topics.
func DecodeReceiveCrossChainMessage(log types.Log) (ReceiveCrossChainMessage, error) {
	if len(log.Topics) < 4 {
		return ReceiveCrossChainMessage{}, fmt.Errorf("invalid ReceiveCrossChainMessage log: expected 4 topics, got %d", len(log.Topics))
	}
	return ReceiveCrossChainMessage{
		MessageID:          log.Topics[1],
		SourceBlockchainID: new(big.Int).SetBytes(log.Topics[2].Bytes()),
	}, nil
}

// MessageExecuted is the decoded shape of a MessageExecutedSig or
// MessageExecutionFailedSig log; both share the same indexed topic layout.
type MessageExecuted struct {
	MessageID          [32]byte
	SourceBlockchainID *big.Int
}

// DecodeMessageExecuted decodes a MessageExecuted log's indexed topics.
func DecodeMessageExecuted(log types.Log) (MessageExecuted, error) {
	if len(log.Topics) < 3 {
		return MessageExecuted{}, fmt.Errorf("invalid MessageExecuted log: expected 3 topics, got %d", len(log.Topics))
	}
	return MessageExecuted{
		MessageID:          log.Topics[1],
		SourceBlockchainID: new(big.Int).SetBytes(log.Topics[2].Bytes()),
	}, nil
}

// DecodeMessageExecutionFailed decodes a MessageExecutionFailed log's
// indexed topics (the ABI-encoded TeleporterMessage body is not needed).
func DecodeMessageExecutionFailed(log types.Log) (MessageExecuted, error) {
	return DecodeMessageExecuted(log)
}

// SenderTransfer is the decoded shape of a sender-side ICTT transfer log
// (TokensSent, TokensAndCallSent, TokensRouted, TokensAndCallRouted).
type SenderTransfer struct {
	TeleporterMessageID [32]byte
	Amount              *big.Int
	Detail              map[string]any
}

var (
	addressTy, _ = abi.NewType("address", "", nil)
	uint256Ty, _ = abi.NewType("uint256", "", nil)
	bytesTy, _   = abi.NewType("bytes", "", nil)
)

// DecodeTokensSent decodes a TokensSent or TokensRouted log.
// TokensRouted is not indexed by sender, so it carries one fewer topic;
// both are decoded with the same data layout: an address recipient followed
// by a uint256 amount.
func DecodeTokensSent(log types.Log, indexedBySender bool) (SenderTransfer, error) {
	minTopics := 2
	if indexedBySender {
		minTopics = 3
	}
	if len(log.Topics) < minTopics {
		return SenderTransfer{}, fmt.Errorf("invalid sender transfer log: expected %d topics, got %d", minTopics, len(log.Topics))
	}

	args := abi.Arguments{{Type: addressTy}, {Type: uint256Ty}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return SenderTransfer{}, fmt.Errorf("failed to unpack sender transfer data: %w", err)
	}
	recipient := unpacked[0].(common.Address)
	amount := unpacked[1].(*big.Int)

	return SenderTransfer{
		TeleporterMessageID: log.Topics[1],
		Amount:              amount,
		Detail:              map[string]any{"recipient": recipient.Hex(), "amount": amount.String()},
	}, nil
}

// DecodeTokensAndCallSent decodes a TokensAndCallSent or TokensAndCallRouted
// log, which additionally carries a recipient contract and calldata.
func DecodeTokensAndCallSent(log types.Log, indexedBySender bool) (SenderTransfer, error) {
	minTopics := 2
	if indexedBySender {
		minTopics = 3
	}
	if len(log.Topics) < minTopics {
		return SenderTransfer{}, fmt.Errorf("invalid sender-and-call transfer log: expected %d topics, got %d", minTopics, len(log.Topics))
	}

	args := abi.Arguments{{Type: addressTy}, {Type: bytesTy}, {Type: uint256Ty}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return SenderTransfer{}, fmt.Errorf("failed to unpack sender-and-call transfer data: %w", err)
	}
	recipientContract := unpacked[0].(common.Address)
	callData := unpacked[1].([]byte)
	amount := unpacked[2].(*big.Int)

	return SenderTransfer{
		TeleporterMessageID: log.Topics[1],
		Amount:              amount,
		Detail: map[string]any{
			"recipient_contract": recipientContract.Hex(),
			"call_data":          common.Bytes2Hex(callData),
			"amount":             amount.String(),
		},
	}, nil
}

// ReceiverOutcome is the decoded shape of a TokensWithdrawn, CallSucceeded,
// or CallFailed receipt log.
type ReceiverOutcome struct {
	Recipient common.Address
	Amount    *big.Int
	Detail    map[string]any
}

// DecodeReceiverOutcome decodes any of the three receiver-side outcome log
// shapes; they share the same (address indexed, uint256) layout.
func DecodeReceiverOutcome(log types.Log) (ReceiverOutcome, error) {
	if len(log.Topics) < 2 {
		return ReceiverOutcome{}, fmt.Errorf("invalid receiver outcome log: expected 2 topics, got %d", len(log.Topics))
	}
	args := abi.Arguments{{Type: uint256Ty}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return ReceiverOutcome{}, fmt.Errorf("failed to unpack receiver outcome data: %w", err)
	}
	recipient := common.BytesToAddress(log.Topics[1].Bytes())
	amount := unpacked[0].(*big.Int)
	return ReceiverOutcome{
		Recipient: recipient,
		Amount:    amount,
		Detail:    map[string]any{"recipient": recipient.Hex(), "amount": amount.String()},
	}, nil
}
