package decode

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func bigToHash(v *big.Int) common.Hash {
	return common.BigToHash(v)
}

func TestDecodeSendCrossChainMessage(t *testing.T) {
	var messageID common.Hash
	messageID[31] = 7

	log := types.Log{
		Topics: []common.Hash{SendCrossChainMessageSig, messageID, bigToHash(big.NewInt(43114))},
	}

	evt, err := DecodeSendCrossChainMessage(log)
	require.NoError(t, err)
	require.Equal(t, [32]byte(messageID), evt.MessageID)
	require.Equal(t, big.NewInt(43114), evt.DestinationBlockchainID)
}

func TestDecodeSendCrossChainMessageRejectsShortTopics(t *testing.T) {
	log := types.Log{Topics: []common.Hash{SendCrossChainMessageSig}}
	_, err := DecodeSendCrossChainMessage(log)
	require.Error(t, err)
}

func TestDecodeReceiveCrossChainMessage(t *testing.T) {
	var messageID common.Hash
	messageID[31] = 9
	relayer := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000abc")

	log := types.Log{
		Topics: []common.Hash{ReceiveCrossChainMessageSig, messageID, bigToHash(big.NewInt(1)), relayer},
	}

	evt, err := DecodeReceiveCrossChainMessage(log)
	require.NoError(t, err)
	require.Equal(t, [32]byte(messageID), evt.MessageID)
	require.Equal(t, big.NewInt(1), evt.SourceBlockchainID)
}

func TestDecodeMessageExecutedAndFailedShareLayout(t *testing.T) {
	var messageID common.Hash
	messageID[31] = 3
	log := types.Log{Topics: []common.Hash{MessageExecutedSig, messageID, bigToHash(big.NewInt(5))}}

	executed, err := DecodeMessageExecuted(log)
	require.NoError(t, err)

	log.Topics[0] = MessageExecutionFailedSig
	failed, err := DecodeMessageExecutionFailed(log)
	require.NoError(t, err)

	require.Equal(t, executed.MessageID, failed.MessageID)
	require.Equal(t, executed.SourceBlockchainID, failed.SourceBlockchainID)
}

func mustPackArgs(t *testing.T, args abi.Arguments, values ...any) []byte {
	t.Helper()
	data, err := args.Pack(values...)
	require.NoError(t, err)
	return data
}

func TestDecodeTokensSent(t *testing.T) {
	var messageID common.Hash
	messageID[31] = 1
	sender := common.HexToHash("0x000000000000000000000000000000000000000000000000000000000000ab")
	recipient := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	amount := big.NewInt(1000)

	data := mustPackArgs(t, abi.Arguments{{Type: addressTy}, {Type: uint256Ty}}, recipient, amount)
	log := types.Log{
		Topics: []common.Hash{TokensSentSig, messageID, sender},
		Data:   data,
	}

	transfer, err := DecodeTokensSent(log, true)
	require.NoError(t, err)
	require.Equal(t, [32]byte(messageID), transfer.TeleporterMessageID)
	require.Equal(t, amount, transfer.Amount)
	require.Equal(t, recipient.Hex(), transfer.Detail["recipient"])
}

func TestDecodeTokensSentRoutedHasFewerTopics(t *testing.T) {
	var messageID common.Hash
	messageID[31] = 1
	recipient := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	amount := big.NewInt(50)

	data := mustPackArgs(t, abi.Arguments{{Type: addressTy}, {Type: uint256Ty}}, recipient, amount)
	log := types.Log{
		Topics: []common.Hash{TokensRoutedSig, messageID},
		Data:   data,
	}

	transfer, err := DecodeTokensSent(log, false)
	require.NoError(t, err)
	require.Equal(t, amount, transfer.Amount)
}

func TestDecodeTokensAndCallSent(t *testing.T) {
	var messageID common.Hash
	messageID[31] = 2
	sender := common.HexToHash("0x000000000000000000000000000000000000000000000000000000000000cd")
	recipientContract := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	callData := []byte{0xde, 0xad, 0xbe, 0xef}
	amount := big.NewInt(777)

	data := mustPackArgs(t, abi.Arguments{{Type: addressTy}, {Type: bytesTy}, {Type: uint256Ty}}, recipientContract, callData, amount)
	log := types.Log{
		Topics: []common.Hash{TokensAndCallSentSig, messageID, sender},
		Data:   data,
	}

	transfer, err := DecodeTokensAndCallSent(log, true)
	require.NoError(t, err)
	require.Equal(t, amount, transfer.Amount)
	require.Equal(t, common.Bytes2Hex(callData), transfer.Detail["call_data"])
}

func TestDecodeReceiverOutcome(t *testing.T) {
	recipient := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd"[:42])
	amount := big.NewInt(321)

	data := mustPackArgs(t, abi.Arguments{{Type: uint256Ty}}, amount)
	log := types.Log{
		Topics: []common.Hash{TokensWithdrawnSig, common.BytesToHash(recipient.Bytes())},
		Data:   data,
	}

	outcome, err := DecodeReceiverOutcome(log)
	require.NoError(t, err)
	require.Equal(t, recipient, outcome.Recipient)
	require.Equal(t, amount, outcome.Amount)
}
