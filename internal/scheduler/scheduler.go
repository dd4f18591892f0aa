// Package scheduler implements the Round Scheduler (C6): the single
// goroutine that owns one match's mutable state end to end. Every other
// package that wants to change a match submits a Command and waits for a
// Result; nothing outside this package ever touches match.MatchState
// directly, which is what makes the single-writer invariant (§5) hold.
//
// The shop deadline is a background watchdog (time.AfterFunc) rather than
// a blocking sleep, so Submit never waits behind it. The watchdog doesn't
// touch state itself — it can't, it runs on its own goroutine — it posts
// its token onto a channel the single run loop reads, the same handoff
// pattern Submit uses for commands. The run loop then treats "a command
// arrived" and "a deadline fired" identically: drain it, check whether the
// round should end now, broadcast if anything changed. That three-step
// ordering is the same phase-ordered idiom the reference server used for
// its ECS system runner (internal/scheduler/phases.go), repurposed from
// "run every system in Phase order" to "process this wakeup in a fixed
// order every time".
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/towerlords/matchserver/internal/action"
	"github.com/towerlords/matchserver/internal/bus"
	"github.com/towerlords/matchserver/internal/catalog"
	"github.com/towerlords/matchserver/internal/chat"
	"github.com/towerlords/matchserver/internal/config"
	"github.com/towerlords/matchserver/internal/match"
	"github.com/towerlords/matchserver/internal/scripting"
	"github.com/towerlords/matchserver/internal/simulate"
	"github.com/towerlords/matchserver/internal/wire"
	"go.uber.org/zap"
)

// ResultStore persists a finished match's outcome (C13/C14). Defined here,
// consumer-side, so internal/persist's adapter only needs to implement it
// rather than this package depending on persist's concrete types.
type ResultStore interface {
	SaveMatchResult(ctx context.Context, r StoredResult) error
}

// RoundLedger durably records each round's outcome as it completes, the
// same write-ahead shape the reference server gives economic trades
// (internal/persist/wal.go's WriteWAL/MarkProcessed): a crash between a
// round finishing and the match's final StoredResult write can replay
// the ledger instead of losing completed rounds (§12).
type RoundLedger interface {
	AppendRound(ctx context.Context, entry RoundLedgerEntry) error
	MarkProcessed(ctx context.Context, matchID string) error
}

// RoundLedgerEntry is one fought round's outcome, logged before the round's
// gold/draw/shop side effects are applied.
type RoundLedgerEntry struct {
	MatchID  string
	Round    int
	Winner   simulate.Side
	ATowerHP int
	BTowerHP int
}

// StoredResult is the durable record of one finished match.
type StoredResult struct {
	MatchID      string
	WinnerID     string
	RoundsPlayed int
	FinishedAt   time.Time
	Players      [2]*match.PlayerState
}

// Scheduler runs exactly one match's command queue and round state
// machine. Callers get one by constructing it and calling Run in its own
// goroutine (internal/router starts that goroutine on the process's
// golang.org/x/sync/errgroup, one group entry per live match).
type Scheduler struct {
	state   *match.MatchState
	cfg     config.MatchConfig
	cat     *catalog.Catalog
	chatSvc *chat.Service
	bus     *bus.Bus
	store   ResultStore
	ledger  RoundLedger
	log     *zap.Logger
	eng     *scripting.Engine

	now func() time.Time

	commands  chan Command
	deadlines chan int

	// shopToken is bumped every time a new shop phase opens. A watchdog
	// fire carries the token it was scheduled with; the run loop discards
	// it if shopToken has since moved on, which is what makes firing
	// idempotent in the face of an overlapping MATCH_END_ROUND (§6).
	shopToken int

	lastBroadcastVersion uint64

	// per-wakeup scratch, valid only for the duration of one runner.run()
	pendingCmd   *Command
	pendingToken *int
}

// New constructs a Scheduler for an already-created match. store, ledger,
// log and eng may all be nil: persistence and ledger writes are then
// skipped, logging falls back to a no-op logger, and every card resolves
// through its table-driven config with no Lua hook (tests use this).
func New(state *match.MatchState, cfg config.MatchConfig, cat *catalog.Catalog, chatSvc *chat.Service, roomBus *bus.Bus, store ResultStore, ledger RoundLedger, log *zap.Logger, eng *scripting.Engine) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		state:     state,
		cfg:       cfg,
		cat:       cat,
		chatSvc:   chatSvc,
		bus:       roomBus,
		store:     store,
		ledger:    ledger,
		log:       log,
		eng:       eng,
		now:       time.Now,
		commands:  make(chan Command, 64),
		deadlines: make(chan int, 1),
	}
}

// Submit enqueues cmd and blocks for its Result, or returns early if ctx is
// canceled first. This is the only entry point callers (the connection
// layer) use to mutate the match.
func (s *Scheduler) Submit(ctx context.Context, cmd Command) Result {
	if cmd.Reply == nil {
		cmd.Reply = make(chan Result, 1)
	}
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
	select {
	case res := <-cmd.Reply:
		return res
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Snapshot returns userID's current view without going through the
// command queue — reads don't need single-writer serialization beyond the
// atomicity Go already gives a read of already-settled struct fields, and
// the reference server's own read path works the same way.
func (s *Scheduler) Snapshot(userID string) match.Snapshot {
	return s.state.SnapshotFor(userID)
}

// ChatHistory returns the match's stored chat ring, for CHAT_HISTORY_REQUEST.
// Safe to call from outside the scheduler's own goroutine: chatSvc keeps
// its own lock and is never mutated by anything but Send, which is itself
// only ever called from dispatch.
func (s *Scheduler) ChatHistory() []match.ChatEntry {
	return s.chatSvc.History(s.state.MatchID)
}

// MatchID returns the match's id, stable for the scheduler's lifetime.
func (s *Scheduler) MatchID() string {
	return s.state.MatchID
}

// Run drives the match until it finishes or ctx is canceled. It owns
// state exclusively: nothing else may read state.Players while a wakeup
// is being processed.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, p := range s.state.Players {
		s.dealHandAndShop(p)
	}
	s.startShopPhase()
	s.broadcastState()

	runner := newPhaseRunner()
	runner.set(phaseDrainCommand, s.runPendingCommand)
	runner.set(phaseCheckDeadline, s.runPendingDeadline)
	runner.set(phaseBroadcast, s.broadcastIfChanged)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.commands:
			s.pendingCmd = &cmd
		case token := <-s.deadlines:
			s.pendingToken = &token
		}

		runner.run()
		s.pendingCmd = nil
		s.pendingToken = nil

		if s.state.Phase == match.PhaseFinished {
			s.persist(ctx)
			return nil
		}
	}
}

func (s *Scheduler) runPendingCommand() {
	if s.pendingCmd != nil {
		s.dispatch(*s.pendingCmd)
	}
}

// runPendingDeadline resolves the round if either a live watchdog fired
// for the current window or a player armed MATCH_END_ROUND since the last
// wakeup. A watchdog token from a superseded window is silently dropped.
func (s *Scheduler) runPendingDeadline() {
	if s.state.Phase != match.PhaseShop {
		return
	}
	fired := s.pendingToken != nil && *s.pendingToken == s.shopToken
	if !fired && !s.state.EndRoundRequested {
		return
	}
	s.state.EndRoundRequested = false
	round := s.state.Round
	res := s.resolveRound()
	s.broadcastBattle(round, res)
}

// armDeadline schedules a background watchdog that posts the current
// shopToken onto s.deadlines once the shop window's duration elapses.
func (s *Scheduler) armDeadline() {
	token := s.shopToken
	time.AfterFunc(s.cfg.RoundShopMs, func() {
		select {
		case s.deadlines <- token:
		default: // a fire is already queued; another one adds nothing
		}
	})
}

// broadcastIfChanged publishes MATCH_STATE to both seats once per version
// bump, so a wakeup that denied an action costs nothing on the bus.
func (s *Scheduler) broadcastIfChanged() {
	if s.state.Version == s.lastBroadcastVersion {
		return
	}
	s.broadcastState()
}

func (s *Scheduler) broadcastState() {
	s.lastBroadcastVersion = s.state.Version
	for _, p := range s.state.Players {
		if p == nil {
			continue
		}
		s.bus.Publish(bus.RoomUser(p.UserID), s.state.SnapshotFor(p.UserID))
	}
}

// broadcastBattle publishes the resolved round's playback to the match
// room, then the fresh post-round MATCH_STATE (or the final one, if the
// match just finished). round is the round number that was just fought,
// captured by the caller before resolveRound advances it.
func (s *Scheduler) broadcastBattle(round int, res simulate.Result) {
	s.bus.Publish(bus.RoomMatch(s.state.MatchID), wire.NewMatchBattleUpdate(round, res))
	s.broadcastState()
}

func (s *Scheduler) persist(ctx context.Context) {
	if s.store != nil {
		if err := s.store.SaveMatchResult(ctx, StoredResult{
			MatchID:      s.state.MatchID,
			WinnerID:     s.state.WinnerID,
			RoundsPlayed: s.state.Round,
			FinishedAt:   s.now(),
			Players:      [2]*match.PlayerState{s.state.Players[0].Clone(), s.state.Players[1].Clone()},
		}); err != nil {
			s.log.Error("save match result failed", zap.String("match_id", s.state.MatchID), zap.Error(err))
		}
	}
	if s.ledger != nil {
		if err := s.ledger.MarkProcessed(ctx, s.state.MatchID); err != nil {
			s.log.Error("mark round ledger processed failed", zap.String("match_id", s.state.MatchID), zap.Error(err))
		}
	}
}

// dispatch runs one command's handler and delivers its Result, matching
// denial/error shapes to the action package's validate-then-mutate
// contract. A panic inside a handler is recovered here, logged, and
// reported to the caller as an error Result.
func (s *Scheduler) dispatch(cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("action handler panicked", zap.String("match_id", s.state.MatchID),
				zap.String("user_id", cmd.UserID), zap.Int("round", s.state.Round), zap.Any("panic", r))
			cmd.Reply <- Result{Err: fmt.Errorf("%s: %v", wire.ErrInternal, r)}
		}
	}()
	var res Result
	switch cmd.Type {
	case CmdShopBuy:
		d, err := action.ShopBuy(s.state, cmd.UserID, cmd.CardID, s.cat, s.cfg)
		res = Result{Denial: d, Err: err}
	case CmdShopReroll:
		d, err := action.ShopReroll(s.state, cmd.UserID, s.cat, s.cfg)
		res = Result{Denial: d, Err: err}
	case CmdBoardPlace:
		merge, d, err := action.BoardPlace(s.state, cmd.UserID, cmd.HandIndex, cmd.BoardIndex, s.cat, s.eng)
		res = Result{Denial: d, Err: err, Merge: merge}
	case CmdBoardSell:
		d, err := action.BoardSell(s.state, cmd.UserID, cmd.BoardIndex, s.cat)
		res = Result{Denial: d, Err: err}
	case CmdTowerUpgrade:
		d, err := action.TowerUpgrade(s.state, cmd.UserID, s.cat, s.cfg)
		res = Result{Denial: d, Err: err}
	case CmdMatchEndRound:
		if !s.cfg.EndRoundEnabled {
			res = Result{Denial: wire.DenyWrongPhase}
			break
		}
		d, err := action.MatchEndRound(s.state, cmd.UserID)
		res = Result{Denial: d, Err: err}
	case CmdMatchForfeit:
		d, err := action.MatchForfeit(s.state, cmd.UserID)
		res = Result{Denial: d, Err: err}
		if d == "" && err == nil {
			s.bus.Publish(bus.RoomMatch(s.state.MatchID), wire.MatchForfeitInfo{
				V: wire.ProtocolVersion, Type: wire.TypeMatchForfeitInfo, UserID: cmd.UserID,
			})
		}
	case CmdChatSend:
		entry, d, err := action.ChatSend(s.state, s.chatSvc, cmd.UserID, cmd.Text, cmd.NowMs)
		res = Result{Denial: d, Err: err}
		if err == nil && d == "" && entry.UserID != "" {
			res.ChatEntry = &entry
			s.bus.Publish(bus.RoomMatch(s.state.MatchID), wire.ChatMsg{
				V: wire.ProtocolVersion, Type: wire.TypeChatMsg, MatchID: s.state.MatchID,
				UserID: entry.UserID, Text: entry.Text, SentAtMs: entry.SentAtMs,
			})
		}
	}
	cmd.Reply <- res
}
