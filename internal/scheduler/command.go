package scheduler

import (
	"github.com/towerlords/matchserver/internal/match"
	"github.com/towerlords/matchserver/internal/wire"
)

// CommandType enumerates the player actions the scheduler accepts (§4.5).
// MatchStateRequest isn't here: state reads never need the single-writer
// queue, a connection can call Scheduler.Snapshot directly.
type CommandType string

const (
	CmdShopBuy       CommandType = "SHOP_BUY"
	CmdShopReroll    CommandType = "SHOP_REROLL"
	CmdBoardPlace    CommandType = "BOARD_PLACE"
	CmdBoardSell     CommandType = "BOARD_SELL"
	CmdTowerUpgrade  CommandType = "TOWER_UPGRADE"
	CmdMatchEndRound CommandType = "MATCH_END_ROUND"
	CmdMatchForfeit  CommandType = "MATCH_FORFEIT"
	CmdChatSend      CommandType = "CHAT_SEND"
)

// Command is one queued action, flat across every CommandType like the
// wire frames it's built from; a given field is only meaningful for the
// types that use it. Reply is buffered size 1 so Submit never blocks the
// scheduler's own goroutine waiting for a slow reader.
type Command struct {
	Type   CommandType
	UserID string

	CardID     string // ShopBuy
	HandIndex  int    // BoardPlace
	BoardIndex int     // BoardPlace, BoardSell
	Text       string // ChatSend
	NowMs      int64  // ChatSend

	Reply chan Result
}

// Result is what every Command resolves to. At most one of Denial/Err is
// set on failure; Merge and ChatEntry are populated only by the command
// types that produce them.
type Result struct {
	Denial    wire.DenialReason
	Err       error
	Merge     *match.MergeOutcome
	ChatEntry *match.ChatEntry
}

// newCommand allocates a Command with its reply channel ready.
func newCommand(typ CommandType, userID string) Command {
	return Command{Type: typ, UserID: userID, Reply: make(chan Result, 1)}
}
