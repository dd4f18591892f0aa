// Package wire defines the closed set of WebSocket frame types TowerLords
// exchanges with clients. Every frame is a JSON object carrying
// a protocol version and a type discriminant; decoding happens once at the
// socket boundary and the result is a typed Go value from here on.
package wire

import (
	"encoding/json"

	"github.com/towerlords/matchserver/internal/simulate"
)

// ProtocolVersion is the only `v` value an inbound frame is accepted with.
const ProtocolVersion = 1

// Type enumerates every frame `type` the server sends or accepts.
type Type string

const (
	// Lifecycle
	TypeHello Type = "HELLO"
	TypeAuth  Type = "AUTH"
	TypeAuthOK Type = "AUTH_OK"
	TypeAuthFail Type = "AUTH_FAIL"
	TypePing Type = "PING"
	TypePong Type = "PONG"

	// Client -> server actions
	TypeMatchJoin          Type = "MATCH_JOIN"
	TypeMatchStateRequest  Type = "MATCH_STATE_REQUEST"
	TypeMatchmakingStart   Type = "MATCHMAKING_START"
	TypeMatchmakingCancel  Type = "MATCHMAKING_CANCEL"
	TypeMatchReadyConfirm  Type = "MATCH_READY_CONFIRM"
	TypeLobbySubscribe     Type = "LOBBY_SUBSCRIBE"
	TypeLobbySetDeck       Type = "LOBBY_SET_DECK"
	TypeLobbySetReady      Type = "LOBBY_SET_READY"
	TypeChatSend           Type = "CHAT_SEND"
	TypeChatHistoryRequest Type = "CHAT_HISTORY_REQUEST"
	TypeShopReroll         Type = "SHOP_REROLL"
	TypeShopBuy            Type = "SHOP_BUY"
	TypeBoardPlace         Type = "BOARD_PLACE"
	TypeBoardSell          Type = "BOARD_SELL"
	TypeTowerUpgrade       Type = "TOWER_UPGRADE"
	TypeMatchEndRound      Type = "MATCH_END_ROUND"
	TypeMatchForfeit       Type = "MATCH_FORFEIT"
	TypeBattleDone         Type = "BATTLE_DONE"

	// Server -> client messages
	TypeMatchJoined       Type = "MATCH_JOINED"
	TypeChatHistory       Type = "CHAT_HISTORY"
	TypeChatMsg           Type = "CHAT_MSG"
	TypeMatchState        Type = "MATCH_STATE"
	TypeMatchRoundEnd     Type = "MATCH_ROUND_END"
	TypeMatchBattleUpdate Type = "MATCH_BATTLE_UPDATE"
	TypeMatchForfeitInfo  Type = "MATCH_FORFEIT_INFO"
	TypeShopBuyDenied     Type = "SHOP_BUY_DENIED"
	TypeBoardPlaceDenied  Type = "BOARD_PLACE_DENIED"
	TypeBoardMerge        Type = "BOARD_MERGE"
	TypeLobbyState        Type = "LOBBY_STATE"
	TypeError             Type = "ERROR"
)

// Envelope is the outer shape every frame decodes into first; Payload is
// re-decoded into the concrete type once Type is known.
type Envelope struct {
	V       int             `json:"v"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"-"`
}

// rawEnvelope mirrors Envelope but lets encoding/json see every sibling
// field of the payload (the wire format is flat, not payload-nested).
type rawEnvelope struct {
	V    int  `json:"v"`
	Type Type `json:"type"`
}

// Decode splits a raw frame into its envelope fields and the full raw
// object (so callers can re-unmarshal into a concrete payload struct that
// embeds the same flat fields).
func Decode(data []byte) (Envelope, error) {
	var re rawEnvelope
	if err := json.Unmarshal(data, &re); err != nil {
		return Envelope{}, err
	}
	return Envelope{V: re.V, Type: re.Type, Payload: json.RawMessage(data)}, nil
}

// Encode marshals a frame value that embeds V and Type as its first two
// fields (every concrete frame struct in this package does).
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func env(t Type) Envelope { return Envelope{V: ProtocolVersion, Type: t} }

// --- Lifecycle frames ---

type Hello struct {
	V      int    `json:"v"`
	Type   Type   `json:"type"`
	ConnID string `json:"connId"`
	Room   string `json:"room"`
	Ts     int64  `json:"ts"`
}

func NewHello(connID string, ts int64) Hello {
	return Hello{V: ProtocolVersion, Type: TypeHello, ConnID: connID, Room: "lobby", Ts: ts}
}

type Auth struct {
	V     int    `json:"v"`
	Type  Type   `json:"type"`
	Token string `json:"token"`
}

type AuthOK struct {
	V      int    `json:"v"`
	Type   Type   `json:"type"`
	UserID string `json:"userId"`
}

type AuthFail struct {
	V    int  `json:"v"`
	Type Type `json:"type"`
}

type Ping struct {
	V    int  `json:"v"`
	Type Type `json:"type"`
}

type Pong struct {
	V    int  `json:"v"`
	Type Type `json:"type"`
}

func NewPing() Ping { return Ping{V: ProtocolVersion, Type: TypePing} }
func NewPong() Pong { return Pong{V: ProtocolVersion, Type: TypePong} }

// --- Client -> server action payloads ---

type MatchJoin struct {
	MatchID string `json:"matchId"`
}

type MatchStateRequest struct {
	MatchID string `json:"matchId"`
}

type MatchmakingStart struct {
	DeckID string `json:"deckId,omitempty"`
}

type MatchReadyConfirm struct {
	MatchID string `json:"matchId"`
}

type LobbySubscribe struct {
	LobbyID string `json:"lobbyId"`
}

type LobbySetDeck struct {
	LobbyID string `json:"lobbyId"`
	DeckID  string `json:"deckId"`
}

type LobbySetReady struct {
	LobbyID string `json:"lobbyId"`
	IsReady bool   `json:"isReady"`
}

type ChatSend struct {
	MatchID string `json:"matchId"`
	Text    string `json:"text"`
}

type ShopBuy struct {
	MatchID string `json:"matchId"`
	CardID  string `json:"cardId"`
}

type BoardPlace struct {
	MatchID    string `json:"matchId"`
	HandIndex  int    `json:"handIndex"`
	BoardIndex int    `json:"boardIndex"`
}

type BoardSell struct {
	MatchID    string `json:"matchId"`
	BoardIndex int    `json:"boardIndex"`
}

type TowerUpgrade struct {
	MatchID string `json:"matchId"`
}

type MatchForfeit struct {
	MatchID string `json:"matchId"`
}

type ChatHistoryRequest struct {
	MatchID string `json:"matchId"`
}

type BattleDone struct {
	MatchID string `json:"matchId"`
	Round   int    `json:"round"`
}

// --- Server -> client message payloads ---

type ErrorMsg struct {
	V      int      `json:"v"`
	Type   Type     `json:"type"`
	Code   string   `json:"code"`
	Msg    string   `json:"msg,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{V: ProtocolVersion, Type: TypeError, Code: code, Msg: msg}
}

type ShopBuyDenied struct {
	V      int    `json:"v"`
	Type   Type   `json:"type"`
	CardID string `json:"cardId"`
	Reason string `json:"reason"`
}

type BoardPlaceDenied struct {
	V          int    `json:"v"`
	Type       Type   `json:"type"`
	HandIndex  int    `json:"handIndex"`
	BoardIndex int    `json:"boardIndex"`
	CardID     string `json:"cardId"`
	Reason     string `json:"reason"`
}

type BoardMerge struct {
	V              int    `json:"v"`
	Type           Type   `json:"type"`
	CardID         string `json:"cardId"`
	ChosenIndex    int    `json:"chosenIndex"`
	ClearedIndices []int  `json:"clearedIndices"`
	NewMergeCount  int    `json:"newMergeCount"`
}

type MatchForfeitInfo struct {
	V      int    `json:"v"`
	Type   Type   `json:"type"`
	UserID string `json:"userId"`
}

// MatchJoined is the reply to MATCH_JOIN and to a matchmaking pairing or
// lobby start landing a connection in a match: it tells the client which
// matchId/room it now belongs to, so it can MATCH_STATE_REQUEST or just
// wait for the next MATCH_STATE broadcast.
type MatchJoined struct {
	V       int    `json:"v"`
	Type    Type   `json:"type"`
	MatchID string `json:"matchId"`
}

func NewMatchJoined(matchID string) MatchJoined {
	return MatchJoined{V: ProtocolVersion, Type: TypeMatchJoined, MatchID: matchID}
}

// LobbySeat mirrors one lobby seat for the LOBBY_STATE payload.
type LobbySeat struct {
	UserID  string `json:"userId"`
	DeckID  string `json:"deckId,omitempty"`
	IsReady bool   `json:"isReady"`
}

// LobbyState is broadcast to lobby:{id} whenever the lobby's seats or
// status change (join, leave, set deck, ready-up, start).
type LobbyState struct {
	V       int         `json:"v"`
	Type    Type        `json:"type"`
	LobbyID string      `json:"lobbyId"`
	OwnerID string      `json:"ownerId"`
	Code    string      `json:"code,omitempty"`
	Status  string      `json:"status"`
	Seats   []LobbySeat `json:"seats"`
	MatchID string      `json:"matchId,omitempty"`
}

type ChatMsg struct {
	V        int    `json:"v"`
	Type     Type   `json:"type"`
	MatchID  string `json:"matchId"`
	UserID   string `json:"userId"`
	Text     string `json:"text"`
	SentAtMs int64  `json:"sentAtMs"`
}

type ChatHistory struct {
	V        int       `json:"v"`
	Type     Type      `json:"type"`
	Messages []ChatMsg `json:"messages"`
}

type MatchRoundEnd struct {
	V      int    `json:"v"`
	Type   Type   `json:"type"`
	Round  int    `json:"round"`
	Phase  string `json:"phase,omitempty"`
}

// MatchBattleUpdate carries one resolved round's combat playback: the
// full event stream plus the hints (initialUnits, shotsPerTick,
// perTickSummary) a client needs to replay it deterministically instead of
// only seeing the final tower HP. The payload fields mirror
// simulate.Result directly rather than redeclaring its element types.
type MatchBattleUpdate struct {
	V              int                    `json:"v"`
	Type           Type                   `json:"type"`
	Round          int                    `json:"round"`
	Winner         simulate.Side          `json:"winner"`
	ATowerHP       int                    `json:"aTowerHp"`
	BTowerHP       int                    `json:"bTowerHp"`
	TicksToReach   int                    `json:"ticksToReach"`
	Events         []simulate.Event       `json:"events"`
	InitialUnits   []simulate.UnitSnapshot `json:"initialUnits"`
	ShotsPerTick   simulate.ShotsPerTick  `json:"shotsPerTick"`
	PerTickSummary []simulate.TickSummary `json:"perTickSummary"`
}

// NewMatchBattleUpdate builds the broadcast frame from a resolved round.
func NewMatchBattleUpdate(round int, res simulate.Result) MatchBattleUpdate {
	return MatchBattleUpdate{
		V:              ProtocolVersion,
		Type:           TypeMatchBattleUpdate,
		Round:          round,
		Winner:         res.Winner,
		ATowerHP:       res.ATowerHP,
		BTowerHP:       res.BTowerHP,
		TicksToReach:   res.TicksToReach,
		Events:         res.Events,
		InitialUnits:   res.InitialUnits,
		ShotsPerTick:   res.ShotsPerTick,
		PerTickSummary: res.PerTickSummary,
	}
}
