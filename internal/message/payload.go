package message

// AnnotatedEvent captures a single on-chain event along with the location it
// was observed at, used for the Send/Receive/Execution slots of a Message.
type AnnotatedEvent struct {
	TxHash      [32]byte
	BlockNumber uint64
	Timestamp   uint64

	SourceChainID      int64
	DestinationChainID int64

	// Raw is a loosely typed map slot for ABI-decoded event fields; the
	// canonical handlers in internal/dispatch leave it nil.
	Raw map[string]any
}

// ExecutionKind distinguishes a successful execution outcome from a failed
// one.
type ExecutionKind int

const (
	ExecutionUnknown ExecutionKind = iota
	ExecutionSucceeded
	ExecutionFailed
)

// ExecutionOutcome pairs an execution kind with the event that produced it.
type ExecutionOutcome struct {
	Kind  ExecutionKind
	Event AnnotatedEvent
}

// CallOutcome distinguishes a succeeded vs failed destination-side call made
// as part of a "send and call" transfer.
type CallOutcome struct {
	Succeeded bool
	Data      map[string]any
}

// TokenTransfer is a tagged union mirroring the two distinct transfer shapes
// a bridge may emit: a plain token send, or a send-and-call. Exactly one of
// Sent/SentAndCall is populated; mixing the two shapes for a single message
// is an invariant violation the dispatcher rejects.
type TokenTransfer struct {
	// Sent is populated when the sender-side log was a plain token send.
	// SourceDetail comes from the sender-side log; DestDetail is filled in
	// once the corresponding receiver-side TokensWithdrawn log is seen.
	Sent *SentTransfer

	// SentAndCall is populated when the sender-side log was a send-and-call
	// variant. CallOutcome is filled in once the corresponding
	// CallSucceeded/CallFailed log is seen.
	SentAndCall *SentAndCallTransfer
}

// SentTransfer is the plain-transfer shape of TokenTransfer.
type SentTransfer struct {
	SourceDetail map[string]any
	DestDetail   map[string]any
}

// SentAndCallTransfer is the send-and-call shape of TokenTransfer.
type SentAndCallTransfer struct {
	CallSource  map[string]any
	CallOutcome *CallOutcome
}

// Message is the canonical, bridge-agnostic correlated payload the tiered
// buffer accumulates per Key. Each slot is populated independently as its
// corresponding event arrives, in any order.
type Message struct {
	Send      *AnnotatedEvent
	Receive   *AnnotatedEvent
	Execution *ExecutionOutcome
	Transfer  *TokenTransfer
}
