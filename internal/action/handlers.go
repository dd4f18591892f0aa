// Package action implements the validate-then-mutate action handlers (C5):
// SHOP_BUY, SHOP_REROLL, BOARD_PLACE, BOARD_SELL, TOWER_UPGRADE,
// MATCH_END_ROUND, MATCH_FORFEIT, CHAT_SEND. Every handler runs under the
// match's exclusive writer (internal/scheduler); none of them take a lock
// of their own. A handler either mutates the match and returns a zero
// DenialReason, or leaves the match untouched and returns a non-zero one —
// there is no third "partial" outcome, matching the reference server's
// move away from exception-driven denial toward explicit result values.
package action

import (
	"errors"
	"fmt"

	"github.com/towerlords/matchserver/internal/catalog"
	"github.com/towerlords/matchserver/internal/config"
	"github.com/towerlords/matchserver/internal/match"
	"github.com/towerlords/matchserver/internal/scripting"
	"github.com/towerlords/matchserver/internal/wire"
)

// ErrUnknownCard surfaces when a handler is asked to act on a cardId the
// catalog has no definition for — always an INTERNAL error, never a
// client-facing denial, since shop/hand contents are server-generated.
var ErrUnknownCard = catalog.ErrUnknownCard

func requirePhase(m *match.MatchState, phase match.Phase) wire.DenialReason {
	if m.Phase != phase {
		return wire.DenyWrongPhase
	}
	return ""
}

func requirePlayer(m *match.MatchState, userID string) (*match.PlayerState, error) {
	p := m.PlayerByID(userID)
	if p == nil {
		return nil, fmt.Errorf("userId %s is not a player in match %s", userID, m.MatchID)
	}
	return p, nil
}

// ShopBuy implements SHOP_BUY(cardId) (§4.5).
func ShopBuy(m *match.MatchState, userID, cardID string, cat *catalog.Catalog, cfg config.MatchConfig) (wire.DenialReason, error) {
	p, err := requirePlayer(m, userID)
	if err != nil {
		return "", err
	}
	if d := requirePhase(m, match.PhaseShop); d != "" {
		return d, nil
	}

	idx := indexOf(p.Shop, cardID)
	if idx < 0 {
		return wire.DenyCardNotInShop, nil
	}
	def, err := cat.Get(cardID)
	if err != nil {
		return "", fmt.Errorf("shop offer %s: %w", cardID, err)
	}
	if p.Gold < def.Cost {
		return wire.DenyNotEnoughGold, nil
	}
	if len(p.Hand) >= cfg.HandMax {
		return wire.DenyHandFull, nil
	}

	p.Gold -= def.Cost
	p.Shop = append(p.Shop[:idx], p.Shop[idx+1:]...)
	p.Hand = append(p.Hand, cardID)
	m.Bump()
	return "", nil
}

// ShopReroll implements SHOP_REROLL (§4.5): the current rerollCost is
// checked and charged first, then bumped by cfg.MaxRerollCostIncrement for
// the next use within the round; the scheduler resets it at round
// boundary. Charging the pre-increment value keeps each reroll priced at
// what was actually quoted for it.
func ShopReroll(m *match.MatchState, userID string, cat *catalog.Catalog, cfg config.MatchConfig) (wire.DenialReason, error) {
	p, err := requirePlayer(m, userID)
	if err != nil {
		return "", err
	}
	if d := requirePhase(m, match.PhaseShop); d != "" {
		return d, nil
	}
	if p.Gold < p.RerollCost {
		return wire.DenyNotEnoughGold, nil
	}

	p.Gold -= p.RerollCost
	p.RerollCost += cfg.MaxRerollCostIncrement
	shopSize := match.ShopSizeForLevel(cfg.ShopSizeByLevel, p.TowerLevel)
	p.Shop = m.RNG.RollShop(cat, p.TowerLevel, shopSize)
	m.Bump()
	return "", nil
}

// BoardPlace implements BOARD_PLACE(handIndex, boardIndex) (§4.5). Attack
// and defense cards occupy a board slot (with merge-to-stackCount-2 on a
// third copy); buff and economy cards apply their effect immediately and
// go straight to discard without ever touching the board. eng may be nil,
// in which case every card resolves through its table-driven config only.
func BoardPlace(m *match.MatchState, userID string, handIndex, boardIndex int, cat *catalog.Catalog, eng *scripting.Engine) (*match.MergeOutcome, wire.DenialReason, error) {
	p, err := requirePlayer(m, userID)
	if err != nil {
		return nil, "", err
	}
	if d := requirePhase(m, match.PhaseShop); d != "" {
		return nil, d, nil
	}
	if handIndex < 0 || handIndex >= len(p.Hand) {
		return nil, wire.DenyInvalidSlot, nil
	}
	cardID := p.Hand[handIndex]
	def, err := cat.Get(cardID)
	if err != nil {
		return nil, "", fmt.Errorf("hand card %s: %w", cardID, err)
	}
	if p.Gold < def.Cost {
		return nil, wire.DenyNotEnoughGold, nil
	}

	switch def.Type {
	case catalog.TypeAttack, catalog.TypeDefense:
		if boardIndex < 0 || boardIndex >= len(p.Board) {
			return nil, wire.DenyInvalidSlot, nil
		}
		slot := p.Board[boardIndex]
		if !slot.Empty() && slot.CardID != cardID {
			return nil, wire.DenySlotOccupied, nil
		}
		if !slot.Empty() && slot.CardID == cardID && slot.StackCount >= 2 {
			return nil, wire.DenyStackFull, nil
		}

		p.Gold -= def.Cost
		p.RemoveFromHand(handIndex)
		merge, ok := p.PlaceOnBoard(boardIndex, cardID)
		if !ok {
			// Should be unreachable given the checks above; treat as an
			// internal defect rather than silently dropping the card.
			return nil, "", errors.New("board placement invariant violated")
		}
		if def.Type == catalog.TypeDefense {
			applyPermanentDefense(p, def)
		}
		m.Bump()
		return merge, "", nil

	default: // buff, economy: apply then discard, never occupy a slot
		p.Gold -= def.Cost
		p.RemoveFromHand(handIndex)
		applyImmediateEffect(m, p, def, eng)
		p.Discard = append(p.Discard, cardID)
		m.Bump()
		return nil, "", nil
	}
}

// applyPermanentDefense raises the player's tower stats for hp_permanent /
// dps_permanent defense kinds (§4.3: "apply before combat"). marry_refusal
// is also a defense card but carries no stat kind — its only effect is
// sitting on the board as proof against a marry proposal.
func applyPermanentDefense(p *match.PlayerState, def catalog.CardDefinition) {
	switch def.Config.Kind {
	case "hp_permanent":
		p.TowerHPMax += def.BaseHPBonus
		p.TowerHP += def.BaseHPBonus
	case "dps_permanent":
		p.TowerDPS += def.BaseDPSBonus
	}
}

// applyImmediateEffect resolves a buff or economy card's one-shot effect
// (§4.3 target semantics): next_attack/next_defense/all_attacks_next_round
// set a pending multiplier consumed by the next Simulate call; gold_bonus
// economy cards add to the next round-end grant; marry_proposal targets
// the opponent. A card carrying a config.script hook additionally runs
// through eng (when non-nil): bonus_damage folds into the caster's pending
// script damage bonus, bonus_gold into the pending economy grant, and
// bonus_heal is applied to the tower immediately, capped at TowerHPMax.
func applyImmediateEffect(m *match.MatchState, caster *match.PlayerState, def catalog.CardDefinition, eng *scripting.Engine) {
	switch def.Type {
	case catalog.TypeBuff:
		switch def.Config.Target {
		case "next_attack":
			caster.PendingAttackMultiplier = def.BuffMultiplier
		case "next_defense":
			caster.PendingDefenseMultiplier = def.BuffMultiplier
		case "all_attacks_next_round":
			caster.PendingAllAttacksMultiplier = def.BuffMultiplier
		case "marry_proposal":
			if opp := m.Opponent(caster.UserID); opp != nil {
				opp.PendingMarryProposal = true
			}
		}
	case catalog.TypeEconomy:
		if def.Config.Kind == "gold_bonus" {
			caster.PendingEconomyBonus += def.Config.GoldBonus
		}
	}

	if def.Config.Script == "" || eng == nil || !eng.HasFunction(def.Config.Script) {
		return
	}
	var targetHP int
	if opp := m.Opponent(caster.UserID); opp != nil {
		targetHP = opp.TowerHP
	}
	bonus := eng.CallCardEffect(def.Config.Script, scripting.CardEffectContext{
		CasterTowerHP: caster.TowerHP,
		CasterDPS:     caster.TowerDPS,
		TargetTowerHP: targetHP,
		TowerLevel:    caster.TowerLevel,
	})
	caster.PendingScriptDamageBonus += bonus.BonusDamage
	caster.PendingEconomyBonus += bonus.BonusGold
	if bonus.BonusHeal > 0 {
		caster.TowerHP += bonus.BonusHeal
		if caster.TowerHP > caster.TowerHPMax {
			caster.TowerHP = caster.TowerHPMax
		}
	}
}

// BoardSell implements BOARD_SELL(boardIndex) (§4.5).
func BoardSell(m *match.MatchState, userID string, boardIndex int, cat *catalog.Catalog) (wire.DenialReason, error) {
	p, err := requirePlayer(m, userID)
	if err != nil {
		return "", err
	}
	if d := requirePhase(m, match.PhaseShop); d != "" {
		return d, nil
	}
	cardID, ok := p.SellFromBoard(boardIndex)
	if !ok {
		if boardIndex < 0 || boardIndex >= len(p.Board) {
			return wire.DenyInvalidSlot, nil
		}
		return wire.DenyEmptySlot, nil
	}
	def, err := cat.Get(cardID)
	if err != nil {
		return "", fmt.Errorf("board card %s: %w", cardID, err)
	}
	p.Gold += def.Cost / 2
	p.Discard = append(p.Discard, cardID)
	m.Bump()
	return "", nil
}

// TowerUpgrade implements TOWER_UPGRADE (§4.5).
func TowerUpgrade(m *match.MatchState, userID string, cat *catalog.Catalog, cfg config.MatchConfig) (wire.DenialReason, error) {
	p, err := requirePlayer(m, userID)
	if err != nil {
		return "", err
	}
	if d := requirePhase(m, match.PhaseShop); d != "" {
		return d, nil
	}
	if p.TowerLevel >= match.MaxTowerLevel {
		return wire.DenyMaxLevel, nil
	}
	if p.LastTowerUpgradeRound >= m.Round {
		return wire.DenyAlreadyUpgradedThisRound, nil
	}
	if p.Gold < p.TowerUpgradeCost {
		return wire.DenyNotEnoughGold, nil
	}

	p.Gold -= p.TowerUpgradeCost
	p.TowerLevel++
	hpMax, dps, upgradeCost := match.StatsForLevel(p.TowerLevel)
	p.TowerHPMax = hpMax
	p.TowerDPS = dps
	p.TowerHP = hpMax // heal to new max
	p.TowerUpgradeCost = upgradeCost
	p.LastTowerUpgradeRound = m.Round
	shopSize := match.ShopSizeForLevel(cfg.ShopSizeByLevel, p.TowerLevel)
	if shopSize > len(p.Shop) {
		fresh := m.RNG.RollShop(cat, p.TowerLevel, shopSize-len(p.Shop))
		p.Shop = append(p.Shop, fresh...)
	}
	m.Bump()
	return "", nil
}

// MatchEndRound implements MATCH_END_ROUND (§4.5), feature-flagged; the
// caller (scheduler.dispatch) checks cfg.EndRoundEnabled before
// dispatching here.
func MatchEndRound(m *match.MatchState, userID string) (wire.DenialReason, error) {
	if _, err := requirePlayer(m, userID); err != nil {
		return "", err
	}
	if d := requirePhase(m, match.PhaseShop); d != "" {
		return d, nil
	}
	m.EndRoundRequested = true
	return "", nil
}

// MatchForfeit implements MATCH_FORFEIT (§4.5): any phase except finished.
// The scheduler is responsible for persisting the result and broadcasting
// MATCH_FORFEIT_INFO + the final MATCH_STATE once this returns success.
func MatchForfeit(m *match.MatchState, userID string) (wire.DenialReason, error) {
	p, err := requirePlayer(m, userID)
	if err != nil {
		return "", err
	}
	if m.Phase == match.PhaseFinished {
		return wire.DenyWrongPhase, nil
	}
	p.TowerHP = 0
	p.EliminationReason = match.EliminationForfeit
	if opp := m.Opponent(userID); opp != nil {
		m.WinnerID = opp.UserID
	}
	m.Phase = match.PhaseFinished
	m.Bump()
	return "", nil
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
