package action

import (
	"github.com/towerlords/matchserver/internal/chat"
	"github.com/towerlords/matchserver/internal/match"
	"github.com/towerlords/matchserver/internal/wire"
)

// ChatSend implements CHAT_SEND(text) (§4.5): any phase except finished,
// rate-limited and ring-buffered by the injected chat.Service. A non-nil
// error is either chat.ErrRateLimited (caller should send an ERROR frame)
// or a not-a-player error; an empty entry with a nil error means the text
// normalized to nothing and was silently dropped.
func ChatSend(m *match.MatchState, svc *chat.Service, userID, text string, nowMs int64) (match.ChatEntry, wire.DenialReason, error) {
	if _, err := requirePlayer(m, userID); err != nil {
		return match.ChatEntry{}, "", err
	}
	if m.Phase == match.PhaseFinished {
		return match.ChatEntry{}, wire.DenyWrongPhase, nil
	}

	entry, err := svc.Send(m.MatchID, userID, text, nowMs)
	if err != nil {
		if err == chat.ErrRateLimited {
			return match.ChatEntry{}, "", err
		}
		return match.ChatEntry{}, "", nil
	}

	m.ChatHistory = append(m.ChatHistory, entry)
	m.Bump()
	return entry, "", nil
}
