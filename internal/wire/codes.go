package wire

// ErrorCode enumerates the §7 "Protocol"/"Session"/"System" error taxonomy,
// sent as the `code` field of an ERROR frame.
type ErrorCode string

const (
	ErrBadFrame        ErrorCode = "BAD_FRAME"
	ErrUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrAuthFail        ErrorCode = "AUTH_FAIL"
	ErrOverflow        ErrorCode = "OVERFLOW"

	ErrNotAPlayer       ErrorCode = "NOT_A_PLAYER"
	ErrMatchNotAvailable ErrorCode = "MATCH_NOT_AVAILABLE"
	ErrMatchNotFound    ErrorCode = "MATCH_NOT_FOUND"
	ErrMatchNotRunning  ErrorCode = "MATCH_NOT_RUNNING"

	ErrLobbyFull        ErrorCode = "LOBBY_FULL"
	ErrLobbyNotOpen     ErrorCode = "LOBBY_NOT_OPEN"
	ErrLobbyCodeRequired ErrorCode = "LOBBY_CODE_REQUIRED"
	ErrNotReady         ErrorCode = "NOT_READY"

	ErrTimeout   ErrorCode = "TIMEOUT"
	ErrQueueFull ErrorCode = "QUEUE_FULL"
	ErrInternal  ErrorCode = "INTERNAL"
)

// DenialReason enumerates the action-denial codes emitted as typed
// `*_DENIED` frames rather than as ERROR frames.
type DenialReason string

const (
	DenyNotEnoughGold             DenialReason = "NOT_ENOUGH_GOLD"
	DenyHandFull                  DenialReason = "HAND_FULL"
	DenyCardNotInShop             DenialReason = "CARD_NOT_IN_SHOP"
	DenyInvalidSlot               DenialReason = "INVALID_SLOT"
	DenySlotOccupied              DenialReason = "SLOT_OCCUPIED"
	DenyStackFull                 DenialReason = "STACK_FULL"
	DenyEmptySlot                 DenialReason = "EMPTY_SLOT"
	DenyWrongPhase                DenialReason = "WRONG_PHASE"
	DenyMaxLevel                  DenialReason = "MAX_LEVEL"
	DenyAlreadyUpgradedThisRound  DenialReason = "ALREADY_UPGRADED_THIS_ROUND"
)

// SessionErrorsClearClientState lists the error codes that instruct the
// client to forget its persisted active matchId and navigate home.
var SessionErrorsClearClientState = map[ErrorCode]bool{
	ErrNotAPlayer:        true,
	ErrMatchNotAvailable: true,
	ErrMatchNotFound:     true,
	ErrMatchNotRunning:   true,
}
