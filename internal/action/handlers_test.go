package action

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/towerlords/matchserver/internal/catalog"
	"github.com/towerlords/matchserver/internal/config"
	"github.com/towerlords/matchserver/internal/match"
	"github.com/towerlords/matchserver/internal/scripting"
	"github.com/towerlords/matchserver/internal/wire"
)

func testCatalog() *catalog.Catalog {
	return catalog.FromDefinitions([]catalog.CardDefinition{
		{CardID: "goblin_raid", Type: catalog.TypeAttack, Rarity: catalog.RarityCommon, Cost: 2, Collectible: true,
			Config: catalog.CardConfig{EnemyCount: 8, EnemyType: "goblin", DamagePerEnemy: 2}},
		{CardID: "reinforced_walls", Type: catalog.TypeDefense, Rarity: catalog.RarityCommon, Cost: 3, BaseHPBonus: 40, Collectible: true,
			Config: catalog.CardConfig{Kind: "hp_permanent"}},
		{CardID: "war_horn", Type: catalog.TypeBuff, Rarity: catalog.RarityCommon, Cost: 2, BuffMultiplier: 1.5, Collectible: true,
			Config: catalog.CardConfig{Target: "next_attack"}},
		{CardID: "trade_caravan", Type: catalog.TypeEconomy, Rarity: catalog.RarityCommon, Cost: 2, Collectible: true,
			Config: catalog.CardConfig{Kind: "gold_bonus", GoldBonus: 3}},
		{CardID: "marry_proposal", Type: catalog.TypeBuff, Rarity: catalog.RarityLegendary, Cost: 7, Collectible: true,
			Config: catalog.CardConfig{Target: "marry_proposal"}},
	})
}

func testMatchConfig() config.MatchConfig {
	return config.MatchConfig{
		HandMax:                7,
		ShopSizeByLevel:        []int{3, 4, 4, 5, 5},
		MaxRerollCostIncrement: 1,
	}
}

func newShopMatch() *match.MatchState {
	a := match.NewPlayerState("alice", 0, match.TowerRed, nil)
	b := match.NewPlayerState("bob", 1, match.TowerBlue, nil)
	m := match.New("m1", 42, a, b)
	m.Phase = match.PhaseShop
	return m
}

// Scenario 1: buy with exact gold.
func TestShopBuyExactGold(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 2
	a.Shop = []string{"goblin_raid"}

	denial, err := ShopBuy(m, "alice", "goblin_raid", cat, testMatchConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denial != "" {
		t.Fatalf("expected no denial, got %s", denial)
	}
	if a.Gold != 0 {
		t.Fatalf("expected gold=0, got %d", a.Gold)
	}
	if len(a.Hand) != 1 || a.Hand[0] != "goblin_raid" {
		t.Fatalf("expected hand=[goblin_raid], got %v", a.Hand)
	}
	if len(a.Shop) != 0 {
		t.Fatalf("expected shop emptied, got %v", a.Shop)
	}
}

// Scenario 2: reject buy when hand full.
func TestShopBuyDeniedHandFull(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 10
	a.Shop = []string{"goblin_raid"}
	for i := 0; i < 7; i++ {
		a.Hand = append(a.Hand, "goblin_raid")
	}

	denial, err := ShopBuy(m, "alice", "goblin_raid", cat, testMatchConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denial != wire.DenyHandFull {
		t.Fatalf("expected HAND_FULL, got %s", denial)
	}
	if a.Gold != 10 || len(a.Hand) != 7 {
		t.Fatal("expected state unchanged on denial")
	}
}

func TestShopBuyDeniedNotEnoughGold(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 1
	a.Shop = []string{"goblin_raid"}

	denial, _ := ShopBuy(m, "alice", "goblin_raid", cat, testMatchConfig())
	if denial != wire.DenyNotEnoughGold {
		t.Fatalf("expected NOT_ENOUGH_GOLD, got %s", denial)
	}
}

func TestShopBuyDeniedCardNotInShop(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 10
	a.Shop = []string{"reinforced_walls"}

	denial, _ := ShopBuy(m, "alice", "goblin_raid", cat, testMatchConfig())
	if denial != wire.DenyCardNotInShop {
		t.Fatalf("expected CARD_NOT_IN_SHOP, got %s", denial)
	}
}

func TestShopBuyDeniedWrongPhase(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	m.Phase = match.PhaseCombat
	a := m.PlayerByID("alice")
	a.Gold = 10
	a.Shop = []string{"goblin_raid"}

	denial, _ := ShopBuy(m, "alice", "goblin_raid", cat, testMatchConfig())
	if denial != wire.DenyWrongPhase {
		t.Fatalf("expected WRONG_PHASE, got %s", denial)
	}
}

// Scenario 4: merge to stackCount=2.
func TestBoardPlaceMergeEmitsBoardMerge(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 100
	a.Hand = []string{"reinforced_walls", "reinforced_walls", "reinforced_walls"}

	if _, denial, err := BoardPlace(m, "alice", 0, 0, cat, nil); denial != "" || err != nil {
		t.Fatalf("placement 1 failed: denial=%s err=%v", denial, err)
	}
	if merge, denial, err := BoardPlace(m, "alice", 0, 1, cat, nil); denial != "" || err != nil || merge != nil {
		t.Fatalf("placement 2 failed: denial=%s err=%v merge=%+v", denial, err, merge)
	}
	merge, denial, err := BoardPlace(m, "alice", 0, 2, cat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denial != "" {
		t.Fatalf("expected no denial, got %s", denial)
	}
	if merge == nil {
		t.Fatal("expected a MergeOutcome on the third copy")
	}
	if merge.ChosenIndex != 0 || len(merge.ClearedIndices) != 2 || merge.ClearedIndices[0] != 1 || merge.ClearedIndices[1] != 2 || merge.NewStackCount != 2 {
		t.Fatalf("unexpected merge outcome: %+v", merge)
	}
	if !a.Board[1].Empty() {
		t.Fatalf("expected slot 1 cleared, got %+v", a.Board[1])
	}
	if a.Board[0].StackCount != 2 {
		t.Fatalf("expected slot 0 stackCount=2, got %d", a.Board[0].StackCount)
	}
	if a.TowerHPMax != 1000+3*40 {
		t.Fatalf("expected permanent hp bonus applied once per placement, got hpMax=%d", a.TowerHPMax)
	}
}

func TestBoardPlaceDeniedSlotOccupied(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 100
	a.Board[0] = match.BoardSlot{CardID: "goblin_raid", StackCount: 1}
	a.Hand = []string{"reinforced_walls"}

	_, denial, err := BoardPlace(m, "alice", 0, 0, cat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denial != wire.DenySlotOccupied {
		t.Fatalf("expected SLOT_OCCUPIED, got %s", denial)
	}
}

func TestBoardPlaceBuffNeverOccupiesSlot(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 100
	a.Hand = []string{"war_horn"}

	_, denial, err := BoardPlace(m, "alice", 0, 3, cat, nil)
	if err != nil || denial != "" {
		t.Fatalf("unexpected result: denial=%s err=%v", denial, err)
	}
	if !a.Board[3].Empty() {
		t.Fatalf("expected board slot 3 to remain empty for a buff card, got %+v", a.Board[3])
	}
	if a.PendingAttackMultiplier != 1.5 {
		t.Fatalf("expected pending attack multiplier 1.5, got %v", a.PendingAttackMultiplier)
	}
	if len(a.Discard) != 1 || a.Discard[0] != "war_horn" {
		t.Fatalf("expected war_horn discarded, got %v", a.Discard)
	}
}

func TestBoardPlaceEconomyAccumulatesPendingGold(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 100
	a.Hand = []string{"trade_caravan"}

	_, denial, err := BoardPlace(m, "alice", 0, 3, cat, nil)
	if err != nil || denial != "" {
		t.Fatalf("unexpected result: denial=%s err=%v", denial, err)
	}
	if a.PendingEconomyBonus != 3 {
		t.Fatalf("expected pending economy bonus 3, got %d", a.PendingEconomyBonus)
	}
}

func TestMarryProposalTargetsOpponent(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	b := m.PlayerByID("bob")
	a.Gold = 100
	a.Hand = []string{"marry_proposal"}

	_, denial, err := BoardPlace(m, "alice", 0, 0, cat, nil)
	if err != nil || denial != "" {
		t.Fatalf("unexpected result: denial=%s err=%v", denial, err)
	}
	if !b.PendingMarryProposal {
		t.Fatal("expected bob's pendingMarryProposal to be set by alice's marry_proposal")
	}
	if a.PendingMarryProposal {
		t.Fatal("did not expect the caster's own pendingMarryProposal to be set")
	}
}

// Scenario 5: reroll exhausts gold.
func TestShopRerollIncrementsCostAndDeniesWhenExhausted(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 4
	a.RerollCost = 1 // round-opening cost, matching NewPlayerState/round reset
	cfg := testMatchConfig()

	if denial, err := ShopReroll(m, "alice", cat, cfg); denial != "" || err != nil {
		t.Fatalf("reroll 1 failed: denial=%s err=%v", denial, err)
	}
	if a.Gold != 3 || a.RerollCost != 2 {
		t.Fatalf("expected gold=3 rerollCost=2 after first reroll, got gold=%d cost=%d", a.Gold, a.RerollCost)
	}
	if denial, err := ShopReroll(m, "alice", cat, cfg); denial != "" || err != nil {
		t.Fatalf("reroll 2 failed: denial=%s err=%v", denial, err)
	}
	if a.Gold != 1 || a.RerollCost != 3 {
		t.Fatalf("expected gold=1 rerollCost=3 after second reroll, got gold=%d cost=%d", a.Gold, a.RerollCost)
	}
	denial, _ := ShopReroll(m, "alice", cat, cfg)
	if denial != wire.DenyNotEnoughGold {
		t.Fatalf("expected NOT_ENOUGH_GOLD on exhausted gold, got %s", denial)
	}
	if a.Gold < 0 {
		t.Fatalf("gold must never go negative, got %d", a.Gold)
	}
}

// Scenario 6: forfeit ends match.
func TestMatchForfeitEndsMatch(t *testing.T) {
	m := newShopMatch()

	denial, err := MatchForfeit(m, "alice")
	if err != nil || denial != "" {
		t.Fatalf("unexpected result: denial=%s err=%v", denial, err)
	}
	a := m.PlayerByID("alice")
	if a.TowerHP != 0 || a.EliminationReason != match.EliminationForfeit {
		t.Fatalf("expected alice eliminated by forfeit, got hp=%d reason=%s", a.TowerHP, a.EliminationReason)
	}
	if m.Phase != match.PhaseFinished {
		t.Fatalf("expected match finished, got phase=%s", m.Phase)
	}
	if m.WinnerID != "bob" {
		t.Fatalf("expected bob to win, got %s", m.WinnerID)
	}

	// subsequent forfeit on a finished match is denied
	if denial, _ := MatchForfeit(m, "bob"); denial != wire.DenyWrongPhase {
		t.Fatalf("expected WRONG_PHASE on an already-finished match, got %s", denial)
	}
}

func TestTowerUpgradeDeniedAlreadyUpgradedThisRound(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 100
	cfg := testMatchConfig()

	if denial, err := TowerUpgrade(m, "alice", cat, cfg); denial != "" || err != nil {
		t.Fatalf("first upgrade failed: denial=%s err=%v", denial, err)
	}
	if a.TowerLevel != 2 {
		t.Fatalf("expected level 2, got %d", a.TowerLevel)
	}
	denial, _ := TowerUpgrade(m, "alice", cat, cfg)
	if denial != wire.DenyAlreadyUpgradedThisRound {
		t.Fatalf("expected ALREADY_UPGRADED_THIS_ROUND, got %s", denial)
	}
}

func TestTowerUpgradeDeniedMaxLevel(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 1000
	a.TowerLevel = match.MaxTowerLevel
	cfg := testMatchConfig()

	denial, err := TowerUpgrade(m, "alice", cat, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denial != wire.DenyMaxLevel {
		t.Fatalf("expected MAX_LEVEL, got %s", denial)
	}
}

func TestBoardSellRefundsHalfCost(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Board[0] = match.BoardSlot{CardID: "reinforced_walls", StackCount: 1}
	a.Gold = 0

	denial, err := BoardSell(m, "alice", 0, cat)
	if err != nil || denial != "" {
		t.Fatalf("unexpected result: denial=%s err=%v", denial, err)
	}
	if a.Gold != 1 { // floor(3/2) = 1
		t.Fatalf("expected refund of 1, got gold=%d", a.Gold)
	}
	if !a.Board[0].Empty() {
		t.Fatal("expected slot cleared after sell")
	}
}

func TestBoardSellDeniedEmptySlot(t *testing.T) {
	cat := testCatalog()
	m := newShopMatch()

	denial, err := BoardSell(m, "alice", 0, cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denial != wire.DenyEmptySlot {
		t.Fatalf("expected EMPTY_SLOT, got %s", denial)
	}
}

func testEngine(t *testing.T) *scripting.Engine {
	t.Helper()
	dir := t.TempDir()
	script := `
function blessing_of_gold(ctx)
  return {bonus_damage = 0, bonus_gold = 2, bonus_heal = 10}
end
`
	if err := os.WriteFile(filepath.Join(dir, "cards.lua"), []byte(script), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	eng, err := scripting.NewEngine(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

// A buff card carrying a config.script hook should run through the Lua
// engine on top of its table-driven effect, rather than being silently
// ignored because no engine was wired in.
func TestBoardPlaceScriptHookAppliesBonuses(t *testing.T) {
	cat := catalog.FromDefinitions([]catalog.CardDefinition{
		{CardID: "blessing_of_gold", Type: catalog.TypeBuff, Rarity: catalog.RarityRare, Cost: 2, Collectible: true,
			Config: catalog.CardConfig{Target: "next_attack", Script: "blessing_of_gold"}},
	})
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 100
	a.TowerHP = 900
	a.TowerHPMax = 1000
	a.Hand = []string{"blessing_of_gold"}
	eng := testEngine(t)

	_, denial, err := BoardPlace(m, "alice", 0, 3, cat, eng)
	if err != nil || denial != "" {
		t.Fatalf("unexpected result: denial=%s err=%v", denial, err)
	}
	if a.PendingEconomyBonus != 2 {
		t.Fatalf("expected script bonus_gold folded into pending economy bonus, got %d", a.PendingEconomyBonus)
	}
	if a.TowerHP != 910 {
		t.Fatalf("expected script bonus_heal applied immediately, got towerHp=%d", a.TowerHP)
	}
}

// Without an engine wired in, a card naming a script simply falls back to
// its table-driven effect and BOARD_PLACE still succeeds.
func TestBoardPlaceScriptHookNilEngineIsNoop(t *testing.T) {
	cat := catalog.FromDefinitions([]catalog.CardDefinition{
		{CardID: "blessing_of_gold", Type: catalog.TypeBuff, Rarity: catalog.RarityRare, Cost: 2, Collectible: true,
			Config: catalog.CardConfig{Target: "next_attack", Script: "blessing_of_gold"}},
	})
	m := newShopMatch()
	a := m.PlayerByID("alice")
	a.Gold = 100
	a.Hand = []string{"blessing_of_gold"}

	_, denial, err := BoardPlace(m, "alice", 0, 3, cat, nil)
	if err != nil || denial != "" {
		t.Fatalf("unexpected result: denial=%s err=%v", denial, err)
	}
	if a.PendingAttackMultiplier != 0 {
		t.Fatalf("expected blessing_of_gold's buffMultiplier (unset) to stay zero, got %v", a.PendingAttackMultiplier)
	}
	if a.PendingEconomyBonus != 0 {
		t.Fatalf("expected no script bonus without an engine, got %d", a.PendingEconomyBonus)
	}
}
