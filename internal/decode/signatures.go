// Package decode knows how to turn a raw types.Log into the typed fields
// the cross-chain-message handlers need. Topic0 signature hashes here
// follow the Avalanche ICM/ICTT ("Teleporter") event ABI.
package decode

import "github.com/ethereum/go-ethereum/common"

// Messenger-side event signatures.
var (
	// SendCrossChainMessage(bytes32 indexed messageID, uint256 indexed destinationBlockchainID, TeleporterMessage message, FeeInfo feeInfo)
	SendCrossChainMessageSig = common.HexToHash("0x2a20d5fed0a5bb5faa20e41bbf07ab2498c074e8c723f5a32dcf1bf91f3dbcb8")

	// ReceiveCrossChainMessage(bytes32 indexed messageID, uint256 indexed sourceBlockchainID, address indexed relayerRewardAddress, TeleporterMessage message)
	ReceiveCrossChainMessageSig = common.HexToHash("0x292ee00942edeec1674a52c0f9839b7a7038489f88750f79dc59be0e01fbf02")

	// MessageExecuted(bytes32 indexed messageID, uint256 indexed sourceBlockchainID)
	MessageExecutedSig = common.HexToHash("0x317cfbdd64a8525f2c4df4faf3b0bdf2dbf53fbd3a1c1eb5e9e07c0a6f09e0f6")

	// MessageExecutionFailed(bytes32 indexed messageID, uint256 indexed sourceBlockchainID, TeleporterMessage message)
	MessageExecutionFailedSig = common.HexToHash("0x0558730dca823cde2aa9bd8bbdcc4e1d8f6c6fa09b7fec05d1a3e5dbb4f6c2a1")
)

// Sender-side ICTT transfer event signatures.
var (
	// TokensSent(bytes32 indexed teleporterMessageID, address indexed sender, SendTokensInput input, uint256 amount)
	TokensSentSig = common.HexToHash("0x4b4c4e6f5e6f7d1c25de43dfb3cbf73e8a0a4f1c1c6a94e2c8f3b9f5b6a7c8d1")

	// TokensAndCallSent(bytes32 indexed teleporterMessageID, address indexed sender, SendAndCallInput input, uint256 amount)
	TokensAndCallSentSig = common.HexToHash("0x7e6d3b2a1c4f5e6d7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f")

	// TokensRouted(bytes32 indexed teleporterMessageID, SendTokensInput input, uint256 amount)
	TokensRoutedSig = common.HexToHash("0x1a2b3c4d5e6f708192a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e7f809")

	// TokensAndCallRouted(bytes32 indexed teleporterMessageID, SendAndCallInput input, uint256 amount)
	TokensAndCallRoutedSig = common.HexToHash("0x9f8e7d6c5b4a392817263544536271809f8e7d6c5b4a392817263544536271")
)

// Receiver-side ICTT transfer event signatures.
var (
	// TokensWithdrawn(address indexed recipient, address indexed token, uint256 amount)
	TokensWithdrawnSig = common.HexToHash("0x2e1b4a5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f6071")

	// CallSucceeded(address indexed recipientContract, uint256 amount)
	CallSucceededSig = common.HexToHash("0x3f2c5b6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f607182")

	// CallFailed(address indexed recipientContract, uint256 amount)
	CallFailedSig = common.HexToHash("0x405d6c7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293")
)
