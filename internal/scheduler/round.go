package scheduler

import (
	"context"
	"time"

	"github.com/towerlords/matchserver/internal/match"
	"github.com/towerlords/matchserver/internal/simulate"
	"go.uber.org/zap"
)

// startShopPhase opens a fresh shop window: resets per-round reroll cost,
// arms the deadline, and bumps the idempotency token so any watchdog fire
// still in flight for the previous window is recognized as stale (§6
// "firing is idempotent").
func (s *Scheduler) startShopPhase() {
	s.state.Phase = match.PhaseShop
	s.state.RoundDeadline = s.now().Add(s.cfg.RoundShopMs)
	s.shopToken++
	for _, p := range s.state.Players {
		p.RerollCost = 1
	}
	s.state.Bump()
	s.armDeadline()
}

// resolveRound runs the battle, applies its result to both towers, and
// either finishes the match or advances to the next shop phase.
func (s *Scheduler) resolveRound() simulate.Result {
	a, b := s.state.Players[0], s.state.Players[1]
	beforeA, beforeB := a.TowerHP, b.TowerHP

	params := simulate.Params{
		TicksToReach: s.cfg.TicksToReach,
		MaxTicks:     s.cfg.MaxTicks,
		TickMs:       int64(s.cfg.SimTickMs.Milliseconds()),
		ShotDamage:   1,
		Scripting:    s.eng,
	}
	res := simulate.Simulate(a, b, s.cat, params)

	a.TowerHP, b.TowerHP = res.ATowerHP, res.BTowerHP
	a.TotalDamageIn += max0(beforeA - res.ATowerHP)
	b.TotalDamageIn += max0(beforeB - res.BTowerHP)
	a.TotalDamageOut += max0(beforeB - res.BTowerHP)
	b.TotalDamageOut += max0(beforeA - res.ATowerHP)

	if res.AEliminatedByMarryRefusal {
		a.EliminationReason = match.EliminationMarryRefusal
	} else if a.Eliminated() && a.EliminationReason == "" {
		a.EliminationReason = match.EliminationTowerHP
	}
	if res.BEliminatedByMarryRefusal {
		b.EliminationReason = match.EliminationMarryRefusal
	} else if b.Eliminated() && b.EliminationReason == "" {
		b.EliminationReason = match.EliminationTowerHP
	}
	a.PendingMarryProposal = false
	b.PendingMarryProposal = false

	if s.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.ledger.AppendRound(ctx, RoundLedgerEntry{
			MatchID:  s.state.MatchID,
			Round:    s.state.Round,
			Winner:   res.Winner,
			ATowerHP: res.ATowerHP,
			BTowerHP: res.BTowerHP,
		})
		cancel()
		if err != nil {
			s.log.Error("append round ledger failed", zap.String("match_id", s.state.MatchID), zap.Int("round", s.state.Round), zap.Error(err))
		}
	}

	if a.Eliminated() || b.Eliminated() {
		s.finishMatch(res)
		s.state.Bump()
		return res
	}

	for _, p := range s.state.Players {
		p.Gold += s.cfg.GoldPerRound + p.PendingEconomyBonus
		p.ClearPendingEffects()
		s.dealHandAndShop(p)
	}
	s.state.Round++
	s.startShopPhase()
	return res
}

// dealHandAndShop draws up to DRAW_PER_ROUND into p's hand and rolls a
// fresh shop for p's current tower level. Used both for round-end dealing
// and once at matchStart to stock round 1 (the round-end draw/shop
// rule applied to the first round too, since a player can't shop with an
// empty hand and shop).
func (s *Scheduler) dealHandAndShop(p *match.PlayerState) {
	p.Draw(s.cfg.DrawPerRound, s.cfg.HandMax, s.reshuffle)
	shopSize := match.ShopSizeForLevel(s.cfg.ShopSizeByLevel, p.TowerLevel)
	p.Shop = s.state.RNG.RollShop(s.cat, p.TowerLevel, shopSize)
}

// finishMatch transitions to the finished phase and records the winner,
// resolving simulate's seat-relative Side against the match's userIds.
func (s *Scheduler) finishMatch(res simulate.Result) {
	a, b := s.state.Players[0], s.state.Players[1]
	s.state.Phase = match.PhaseFinished
	now := s.now()
	s.state.FinishedAt = &now

	switch {
	case a.Eliminated() && b.Eliminated():
		s.state.WinnerID = "" // simultaneous elimination: no winner
	case a.Eliminated():
		s.state.WinnerID = b.UserID
	case b.Eliminated():
		s.state.WinnerID = a.UserID
	case res.Winner == simulate.SideA:
		s.state.WinnerID = a.UserID
	case res.Winner == simulate.SideB:
		s.state.WinnerID = b.UserID
	default:
		s.state.WinnerID = ""
	}
}

// reshuffle shuffles a spent discard pile back into a fresh deck order
// using the match's own seeded stream, so reshuffles stay deterministic.
func (s *Scheduler) reshuffle(discard []string) []string {
	return s.state.RNG.ShuffleStrings(discard)
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
