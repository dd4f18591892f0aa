// Package router wires decoded wire.Envelopes to the rest of the system:
// matchmaking, lobbies, and per-match schedulers. internal/conn only owns
// transport and the auth/keepalive lifecycle (see its Router interface
// doc); this package is the concrete implementation cmd/matchserver
// installs, the same "handler registry dispatches on a type switch" shape
// the reference server's internal/handler package gives its packet
// opcodes, just keyed on wire.Type instead of a numeric opcode.
package router

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/towerlords/matchserver/internal/bus"
	"github.com/towerlords/matchserver/internal/catalog"
	"github.com/towerlords/matchserver/internal/chat"
	"github.com/towerlords/matchserver/internal/config"
	"github.com/towerlords/matchserver/internal/conn"
	"github.com/towerlords/matchserver/internal/lobby"
	"github.com/towerlords/matchserver/internal/match"
	"github.com/towerlords/matchserver/internal/matchmaking"
	"github.com/towerlords/matchserver/internal/registry"
	"github.com/towerlords/matchserver/internal/rng"
	"github.com/towerlords/matchserver/internal/scheduler"
	"github.com/towerlords/matchserver/internal/scripting"
	"github.com/towerlords/matchserver/internal/wire"
)

// Router is the conn.Router implementation: one instance per process,
// shared by every live connection.
type Router struct {
	log      *zap.Logger
	bus      *bus.Bus
	registry *registry.Registry
	queue    *matchmaking.Queue
	lobbies  *lobby.Manager
	cat      *catalog.Catalog
	matchCfg config.MatchConfig
	chatCfg  config.ChatConfig
	eng      *scripting.Engine
	store    scheduler.ResultStore
	ledger   scheduler.RoundLedger

	// runCtx is the base context every spawned match scheduler's Run is
	// called with; canceling it (process shutdown) stops every live match
	// goroutine at once. group supervises them: a single real crash bubbles
	// up through group.Wait() at shutdown instead of silently vanishing in
	// an orphaned goroutine.
	runCtx context.Context
	group  *errgroup.Group
}

// New constructs a Router. runCtx should be the process's long-lived
// context (canceled on shutdown); group should be the errgroup
// cmd/matchserver calls Wait on before exiting.
func New(
	log *zap.Logger,
	roomBus *bus.Bus,
	reg *registry.Registry,
	queue *matchmaking.Queue,
	lobbies *lobby.Manager,
	cat *catalog.Catalog,
	matchCfg config.MatchConfig,
	chatCfg config.ChatConfig,
	eng *scripting.Engine,
	store scheduler.ResultStore,
	ledger scheduler.RoundLedger,
	runCtx context.Context,
	group *errgroup.Group,
) *Router {
	return &Router{
		log:      log,
		bus:      roomBus,
		registry: reg,
		queue:    queue,
		lobbies:  lobbies,
		cat:      cat,
		matchCfg: matchCfg,
		chatCfg:  chatCfg,
		eng:      eng,
		store:    store,
		ledger:   ledger,
		runCtx:   runCtx,
		group:    group,
	}
}

// Route implements conn.Router. Every case here is a thin decode-dispatch
// step; the actual validation and mutation lives in the subsystem each
// case calls into (action handlers behind the scheduler, lobby.Lobby,
// matchmaking.Queue).
func (rt *Router) Route(ctx context.Context, c *conn.Conn, env wire.Envelope) {
	switch env.Type {
	case wire.TypeMatchJoin:
		rt.handleMatchJoin(c, env)
	case wire.TypeMatchStateRequest:
		rt.handleMatchStateRequest(c, env)
	case wire.TypeMatchReadyConfirm:
		// Matches start running the instant they're created; there is no
		// separate "waiting for both acks" gate, so MATCH_READY_CONFIRM is
		// handled exactly like MATCH_JOIN (re-subscribe + fresh snapshot).
		rt.handleMatchJoin(c, env)
	case wire.TypeMatchmakingStart:
		rt.handleMatchmakingStart(ctx, c, env)
	case wire.TypeMatchmakingCancel:
		rt.queue.Cancel(c.UserID())
	case wire.TypeLobbySubscribe:
		rt.handleLobbySubscribe(c, env)
	case wire.TypeLobbySetDeck:
		rt.handleLobbySetDeck(ctx, c, env)
	case wire.TypeLobbySetReady:
		rt.handleLobbySetReady(ctx, c, env)
	case wire.TypeChatSend:
		rt.handleChatSend(c, env)
	case wire.TypeChatHistoryRequest:
		rt.handleChatHistoryRequest(c, env)
	case wire.TypeShopBuy:
		rt.handleShopBuy(c, env)
	case wire.TypeShopReroll:
		rt.handleShopReroll(c, env)
	case wire.TypeBoardPlace:
		rt.handleBoardPlace(c, env)
	case wire.TypeBoardSell:
		rt.handleBoardSell(c, env)
	case wire.TypeTowerUpgrade:
		rt.handleTowerUpgrade(c, env)
	case wire.TypeMatchEndRound:
		rt.handleMatchEndRound(c, env)
	case wire.TypeMatchForfeit:
		rt.handleMatchForfeit(c, env)
	case wire.TypeBattleDone:
		// Purely a client acknowledgment that playback finished; the
		// server's round state has already advanced by the time
		// MATCH_BATTLE_UPDATE went out, so there's nothing to do here.
	default:
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "unknown frame type"))
	}
}

// --- match lookup helpers ---

// schedulerFor resolves matchID to its live *scheduler.Scheduler, or
// delivers the right session error and returns ok=false. Session errors
// tell the client to forget the matchId and navigate home, which is why
// a missing/finished match is reported distinctly from a bad action.
func (rt *Router) schedulerFor(c *conn.Conn, matchID string) (*scheduler.Scheduler, bool) {
	h, ok := rt.registry.Lookup(matchID)
	if !ok {
		c.Deliver(wire.NewError(string(wire.ErrMatchNotFound), "match not found"))
		return nil, false
	}
	sched, ok := h.Scheduler.(*scheduler.Scheduler)
	if !ok || sched == nil {
		c.Deliver(wire.NewError(string(wire.ErrMatchNotRunning), "match has no live scheduler"))
		return nil, false
	}
	if h.State.PlayerByID(c.UserID()) == nil {
		c.Deliver(wire.NewError(string(wire.ErrNotAPlayer), "not a player in this match"))
		return nil, false
	}
	return sched, true
}

func (rt *Router) handleMatchJoin(c *conn.Conn, env wire.Envelope) {
	var req wire.MatchJoin
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed MATCH_JOIN"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	c.Subscribe(bus.RoomMatch(req.MatchID))
	c.Deliver(wire.NewMatchJoined(req.MatchID))
	c.Deliver(sched.Snapshot(c.UserID()))
}

func (rt *Router) handleMatchStateRequest(c *conn.Conn, env wire.Envelope) {
	var req wire.MatchStateRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed MATCH_STATE_REQUEST"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	c.Deliver(sched.Snapshot(c.UserID()))
}

// --- matchmaking ---

func (rt *Router) handleMatchmakingStart(ctx context.Context, c *conn.Conn, env wire.Envelope) {
	var req wire.MatchmakingStart
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed MATCHMAKING_START"))
		return
	}
	if err := rt.queue.Enqueue(c.UserID(), req.DeckID, time.Now()); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrQueueFull), err.Error()))
		return
	}
	a, b, ok := rt.queue.TryPop()
	if !ok {
		return
	}
	rt.createMatch(ctx, a.UserID, a.DeckID, b.UserID, b.DeckID)
}

// --- lobby ---

func (rt *Router) handleLobbySubscribe(c *conn.Conn, env wire.Envelope) {
	var req wire.LobbySubscribe
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed LOBBY_SUBSCRIBE"))
		return
	}
	l, ok := rt.lobbies.Lookup(req.LobbyID)
	if !ok {
		c.Deliver(wire.NewError(string(wire.ErrMatchNotFound), "lobby not found"))
		return
	}
	// A caller who already holds a seat (the lobby's owner) only attaches
	// the socket here. An unseated caller is joined without a code, so a
	// code-protected lobby rejects them; no route in this server accepts a
	// join code.
	alreadySeated := false
	for _, id := range l.PlayerIDs() {
		if id == c.UserID() {
			alreadySeated = true
			break
		}
	}
	if !alreadySeated {
		if err := l.Join(c.UserID(), ""); err != nil {
			c.Deliver(wire.NewError(string(wire.ErrLobbyNotOpen), err.Error()))
			return
		}
	}
	c.Subscribe(bus.RoomLobby(req.LobbyID))
	rt.broadcastLobbyState(l)
}

func (rt *Router) handleLobbySetDeck(ctx context.Context, c *conn.Conn, env wire.Envelope) {
	var req wire.LobbySetDeck
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed LOBBY_SET_DECK"))
		return
	}
	l, ok := rt.lobbies.Lookup(req.LobbyID)
	if !ok {
		c.Deliver(wire.NewError(string(wire.ErrMatchNotFound), "lobby not found"))
		return
	}
	l.SetDeck(c.UserID(), req.DeckID)
	rt.broadcastLobbyState(l)
}

func (rt *Router) handleLobbySetReady(ctx context.Context, c *conn.Conn, env wire.Envelope) {
	var req wire.LobbySetReady
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed LOBBY_SET_READY"))
		return
	}
	l, ok := rt.lobbies.Lookup(req.LobbyID)
	if !ok {
		c.Deliver(wire.NewError(string(wire.ErrMatchNotFound), "lobby not found"))
		return
	}
	l.SetReady(c.UserID(), req.IsReady)

	if l.CanStart() != nil {
		rt.broadcastLobbyState(l)
		return
	}

	seats := l.Seats
	matchID := rt.createMatch(ctx, seats[0].UserID, seats[0].DeckID, seats[1].UserID, seats[1].DeckID)
	if matchID != "" {
		l.Start(matchID)
	}
	rt.broadcastLobbyState(l)
}

func (rt *Router) broadcastLobbyState(l *lobby.Lobby) {
	seats := make([]wire.LobbySeat, 0, len(l.Seats))
	for _, s := range l.Seats {
		seats = append(seats, wire.LobbySeat{UserID: s.UserID, DeckID: s.DeckID, IsReady: s.IsReady})
	}
	rt.bus.Publish(bus.RoomLobby(l.ID), wire.LobbyState{
		V: wire.ProtocolVersion, Type: wire.TypeLobbyState,
		LobbyID: l.ID, OwnerID: l.OwnerID, Code: l.Code,
		Status: string(l.Status), Seats: seats, MatchID: l.MatchID,
	})
}

// --- chat ---

func (rt *Router) handleChatSend(c *conn.Conn, env wire.Envelope) {
	var req wire.ChatSend
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed CHAT_SEND"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	res := sched.Submit(context.Background(), scheduler.Command{
		Type: scheduler.CmdChatSend, UserID: c.UserID(), Text: req.Text, NowMs: time.Now().UnixMilli(),
	})
	if res.Err != nil || res.Denial != "" {
		c.Deliver(wire.NewError(string(wire.ErrInternal), denialOrErr(res)))
	}
}

func (rt *Router) handleChatHistoryRequest(c *conn.Conn, env wire.Envelope) {
	var req wire.ChatHistoryRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed CHAT_HISTORY_REQUEST"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	entries := sched.ChatHistory()
	msgs := make([]wire.ChatMsg, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, wire.ChatMsg{
			V: wire.ProtocolVersion, Type: wire.TypeChatMsg, MatchID: req.MatchID,
			UserID: e.UserID, Text: e.Text, SentAtMs: e.SentAtMs,
		})
	}
	c.Deliver(wire.ChatHistory{V: wire.ProtocolVersion, Type: wire.TypeChatHistory, Messages: msgs})
}

// --- in-match actions ---

func (rt *Router) handleShopBuy(c *conn.Conn, env wire.Envelope) {
	var req wire.ShopBuy
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed SHOP_BUY"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	res := sched.Submit(context.Background(), scheduler.Command{
		Type: scheduler.CmdShopBuy, UserID: c.UserID(), CardID: req.CardID,
	})
	if res.Err != nil {
		c.Deliver(wire.NewError(string(wire.ErrInternal), res.Err.Error()))
		return
	}
	if res.Denial != "" {
		c.Deliver(wire.ShopBuyDenied{
			V: wire.ProtocolVersion, Type: wire.TypeShopBuyDenied,
			CardID: req.CardID, Reason: string(res.Denial),
		})
	}
}

func (rt *Router) handleShopReroll(c *conn.Conn, env wire.Envelope) {
	var req wire.MatchStateRequest // reroll carries only matchId, same shape
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed SHOP_REROLL"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	res := sched.Submit(context.Background(), scheduler.Command{
		Type: scheduler.CmdShopReroll, UserID: c.UserID(),
	})
	if res.Err != nil || res.Denial != "" {
		c.Deliver(wire.NewError(string(wire.ErrInternal), denialOrErr(res)))
	}
}

func (rt *Router) handleBoardPlace(c *conn.Conn, env wire.Envelope) {
	var req wire.BoardPlace
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed BOARD_PLACE"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	res := sched.Submit(context.Background(), scheduler.Command{
		Type: scheduler.CmdBoardPlace, UserID: c.UserID(),
		HandIndex: req.HandIndex, BoardIndex: req.BoardIndex,
	})
	if res.Err != nil {
		c.Deliver(wire.NewError(string(wire.ErrInternal), res.Err.Error()))
		return
	}
	if res.Denial != "" {
		c.Deliver(wire.BoardPlaceDenied{
			V: wire.ProtocolVersion, Type: wire.TypeBoardPlaceDenied,
			HandIndex: req.HandIndex, BoardIndex: req.BoardIndex, Reason: string(res.Denial),
		})
		return
	}
	if res.Merge != nil {
		c.Deliver(wire.BoardMerge{
			V: wire.ProtocolVersion, Type: wire.TypeBoardMerge,
			CardID: res.Merge.CardID, ChosenIndex: res.Merge.ChosenIndex,
			ClearedIndices: res.Merge.ClearedIndices, NewMergeCount: res.Merge.NewStackCount,
		})
	}
}

func (rt *Router) handleBoardSell(c *conn.Conn, env wire.Envelope) {
	var req wire.BoardSell
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed BOARD_SELL"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	res := sched.Submit(context.Background(), scheduler.Command{
		Type: scheduler.CmdBoardSell, UserID: c.UserID(), BoardIndex: req.BoardIndex,
	})
	if res.Err != nil || res.Denial != "" {
		c.Deliver(wire.NewError(string(wire.ErrInternal), denialOrErr(res)))
	}
}

func (rt *Router) handleTowerUpgrade(c *conn.Conn, env wire.Envelope) {
	var req wire.TowerUpgrade
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed TOWER_UPGRADE"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	res := sched.Submit(context.Background(), scheduler.Command{
		Type: scheduler.CmdTowerUpgrade, UserID: c.UserID(),
	})
	if res.Err != nil || res.Denial != "" {
		c.Deliver(wire.NewError(string(wire.ErrInternal), denialOrErr(res)))
	}
}

func (rt *Router) handleMatchEndRound(c *conn.Conn, env wire.Envelope) {
	var req wire.MatchStateRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed MATCH_END_ROUND"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	res := sched.Submit(context.Background(), scheduler.Command{
		Type: scheduler.CmdMatchEndRound, UserID: c.UserID(),
	})
	if res.Err != nil || res.Denial != "" {
		c.Deliver(wire.NewError(string(wire.ErrInternal), denialOrErr(res)))
	}
}

func (rt *Router) handleMatchForfeit(c *conn.Conn, env wire.Envelope) {
	var req wire.MatchForfeit
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.Deliver(wire.NewError(string(wire.ErrBadFrame), "malformed MATCH_FORFEIT"))
		return
	}
	sched, ok := rt.schedulerFor(c, req.MatchID)
	if !ok {
		return
	}
	res := sched.Submit(context.Background(), scheduler.Command{
		Type: scheduler.CmdMatchForfeit, UserID: c.UserID(),
	})
	if res.Err != nil || res.Denial != "" {
		c.Deliver(wire.NewError(string(wire.ErrInternal), denialOrErr(res)))
	}
}

func denialOrErr(res scheduler.Result) string {
	if res.Err != nil {
		return res.Err.Error()
	}
	return string(res.Denial)
}

// --- match creation ---

// createMatch builds a fresh two-player match, registers it, and launches
// its scheduler under the router's supervised errgroup. Returns the new
// matchId, or "" if registry.Create failed (never expected given uuid
// generation; logged either way).
func (rt *Router) createMatch(ctx context.Context, aUserID, aDeckID, bUserID, bDeckID string) string {
	a := match.NewPlayerState(aUserID, 0, match.TowerRed, rt.cat.StarterDeck(aDeckID))
	b := match.NewPlayerState(bUserID, 1, match.TowerBlue, rt.cat.StarterDeck(bDeckID))
	state := match.New("", rng.NewMatchSeed(), a, b)

	chatSvc := chat.NewService(rt.chatCfg.Ring, rt.chatCfg.RateMessages, rt.chatCfg.RateWindow)
	sched := scheduler.New(state, rt.matchCfg, rt.cat, chatSvc, rt.bus, rt.store, rt.ledger, rt.log, rt.eng)

	matchID, err := rt.registry.Create(state, sched)
	if err != nil {
		rt.log.Error("create match failed", zap.Error(err), zap.String("a", aUserID), zap.String("b", bUserID))
		return ""
	}

	for _, uid := range []string{aUserID, bUserID} {
		rt.bus.Publish(bus.RoomUser(uid), wire.NewMatchJoined(matchID))
	}

	rt.group.Go(func() error {
		err := sched.Run(rt.runCtx)
		if err == nil {
			matchID := matchID
			time.AfterFunc(rt.matchCfg.FinishedGraceMs, func() { rt.registry.Terminate(matchID) })
		}
		return err
	})
	rt.log.Info("match created", zap.String("match_id", matchID), zap.String("a", aUserID), zap.String("b", bUserID))
	return matchID
}
