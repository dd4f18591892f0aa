package match

import (
	"time"

	"github.com/towerlords/matchserver/internal/rng"
)

// ChatEntry is one stored chat line (shared shape with internal/chat).
type ChatEntry struct {
	UserID   string `json:"userId"`
	Text     string `json:"text"`
	SentAtMs int64  `json:"sentAtMs"`
}

// MatchState is the mutable per-match model (§3). Mutation happens only on
// the match's scheduler task (single-writer invariant, §5); every other
// caller interacts through the command queue in internal/scheduler.
type MatchState struct {
	MatchID  string `json:"matchId"`
	Phase    Phase  `json:"phase"`
	Round    int    `json:"round"`

	// RoundDeadline is the absolute wall-clock time the current shop phase
	// auto-ends, or the zero Time if there is no active deadline.
	RoundDeadline time.Time `json:"-"`

	Players [2]*PlayerState `json:"-"`

	RNGSeed int64       `json:"rngSeed"`
	RNG     *rng.Stream `json:"-"`

	ChatHistory []ChatEntry `json:"-"`

	WinnerID   string     `json:"winnerId,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// Version is bumped on every mutation; snapshots carry it so clients can
	// discard out-of-order deliveries (§5, §8 snapshot monotonicity).
	Version uint64 `json:"-"`

	// EndRoundRequested is armed by the feature-flagged MATCH_END_ROUND
	// action; the scheduler checks it on every run-loop wakeup during the
	// shop phase and resolves combat immediately if set, then clears it.
	EndRoundRequested bool `json:"-"`
}

// New constructs a fresh lobby-phase match for two players.
func New(matchID string, seed int64, a, b *PlayerState) *MatchState {
	return &MatchState{
		MatchID: matchID,
		Phase:   PhaseLobby,
		Round:   1,
		Players: [2]*PlayerState{a, b},
		RNGSeed: seed,
		RNG:     rng.New(seed),
	}
}

// PlayerByID returns the PlayerState for userID, or nil.
func (m *MatchState) PlayerByID(userID string) *PlayerState {
	for _, p := range m.Players {
		if p != nil && p.UserID == userID {
			return p
		}
	}
	return nil
}

// Opponent returns the other seat's PlayerState relative to userID.
func (m *MatchState) Opponent(userID string) *PlayerState {
	for _, p := range m.Players {
		if p != nil && p.UserID != userID {
			return p
		}
	}
	return nil
}

// Bump increments Version and returns the new value.
func (m *MatchState) Bump() uint64 {
	m.Version++
	return m.Version
}

// Snapshot is the per-user view broadcast as MATCH_STATE (§6.1, §4.4):
// Self is the recipient's own full state, Players is every seat's compact
// public view.
type Snapshot struct {
	V       uint64       `json:"v"`
	Type    string       `json:"type"`
	Phase   Phase        `json:"phase"`
	Round   int          `json:"round"`
	Self    *PlayerState `json:"self"`
	Players []PublicView `json:"players"`
}

// SnapshotFor builds the per-user Snapshot for userID.
func (m *MatchState) SnapshotFor(userID string) Snapshot {
	players := make([]PublicView, 0, len(m.Players))
	for _, p := range m.Players {
		if p == nil {
			continue
		}
		isWinner := m.Phase == PhaseFinished && m.WinnerID != "" && m.WinnerID == p.UserID
		players = append(players, p.Public(isWinner))
	}
	self := m.PlayerByID(userID)
	return Snapshot{
		V:       m.Version,
		Type:    "MATCH_STATE",
		Phase:   m.Phase,
		Round:   m.Round,
		Self:    self,
		Players: players,
	}
}
