package simulate

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/towerlords/matchserver/internal/catalog"
	"github.com/towerlords/matchserver/internal/match"
	"github.com/towerlords/matchserver/internal/scripting"
)

func testCatalog() *catalog.Catalog {
	return catalog.FromDefinitions([]catalog.CardDefinition{
		{
			CardID: "goblin_raid", Type: catalog.TypeAttack, Rarity: catalog.RarityCommon, Cost: 2,
			Config: catalog.CardConfig{EnemyCount: 8, EnemyType: "goblin", DamagePerEnemy: 2},
			Collectible: true,
		},
		{
			CardID: "ogre_warband", Type: catalog.TypeAttack, Rarity: catalog.RarityUncommon, Cost: 4,
			Config: catalog.CardConfig{EnemyCount: 3, EnemyType: "ogre", DamagePerEnemy: 6},
			Collectible: true,
		},
		{
			CardID: "marry_refusal", Type: catalog.TypeDefense, Rarity: catalog.RarityCommon, Cost: 0,
			Config: catalog.CardConfig{Kind: "marry_refusal"},
			Collectible: false,
		},
	})
}

func playerWithBoard(userID string, seat int, towerDPS, towerHP int, slots ...match.BoardSlot) *match.PlayerState {
	p := match.NewPlayerState(userID, seat, match.TowerRed, nil)
	p.TowerDPS = towerDPS
	p.TowerHP = towerHP
	p.TowerHPMax = towerHP
	for i, s := range slots {
		p.Board[i] = s
	}
	return p
}

// TestGoblinRaidVsEmptyBoard reconstructs the worked scenario: 8 goblins
// (HP 10) attack a tower with dps=10 (1 shot/tick). At ticksToReach=10 the
// tower gets exactly 10 shots, killing exactly one goblin outright (10 dmg)
// before any of them arrive; the other 7 reach the tower and each deal 2
// damage, for bTowerHp = 1000 - 7*2 = 986.
func TestGoblinRaidVsEmptyBoard(t *testing.T) {
	cat := testCatalog()
	a := playerWithBoard("attacker", 0, 10, 1000, match.BoardSlot{CardID: "goblin_raid", StackCount: 1})
	b := playerWithBoard("defender", 1, 10, 1000)

	res := Simulate(a, b, cat, DefaultParams())

	if res.BTowerHP != 986 {
		t.Fatalf("expected bTowerHp=986, got %d", res.BTowerHP)
	}

	spawnCount := 0
	for _, ev := range res.Events {
		if ev.Type == EventSpawn && ev.AtMsOffset == 0 {
			spawnCount++
		}
	}
	if spawnCount != 8 {
		t.Fatalf("expected 8 spawn events at t=0, got %d", spawnCount)
	}
	if len(res.InitialUnits) != 8 {
		t.Fatalf("expected 8 initial units, got %d", len(res.InitialUnits))
	}
	if res.Winner != SideA {
		t.Fatalf("expected A to win with tower intact, got %s", res.Winner)
	}
}

func TestSimulateIsDeterministic(t *testing.T) {
	cat := testCatalog()
	a := playerWithBoard("attacker", 0, 10, 1000, match.BoardSlot{CardID: "goblin_raid", StackCount: 1})
	b := playerWithBoard("defender", 1, 16, 1400, match.BoardSlot{CardID: "ogre_warband", StackCount: 1})

	r1 := Simulate(a, b, cat, DefaultParams())
	r2 := Simulate(a, b, cat, DefaultParams())

	if len(r1.Events) != len(r2.Events) {
		t.Fatalf("event count differs between runs: %d vs %d", len(r1.Events), len(r2.Events))
	}
	for i := range r1.Events {
		if r1.Events[i] != r2.Events[i] {
			t.Fatalf("event %d differs: %+v vs %+v", i, r1.Events[i], r2.Events[i])
		}
	}
	if r1.Winner != r2.Winner || r1.ATowerHP != r2.ATowerHP || r1.BTowerHP != r2.BTowerHP {
		t.Fatal("expected identical outcome across repeated runs with the same inputs")
	}
}

func TestSimulateDoesNotMutateInputs(t *testing.T) {
	cat := testCatalog()
	a := playerWithBoard("attacker", 0, 10, 1000, match.BoardSlot{CardID: "goblin_raid", StackCount: 1})
	b := playerWithBoard("defender", 1, 0, 1000)

	aBefore := a.Clone()
	bBefore := b.Clone()

	Simulate(a, b, cat, DefaultParams())

	if a.TowerHP != aBefore.TowerHP || b.TowerHP != bBefore.TowerHP {
		t.Fatal("Simulate must not mutate its PlayerState inputs")
	}
	if a.Board != aBefore.Board || b.Board != bBefore.Board {
		t.Fatal("Simulate must not mutate board state")
	}
}

func TestEmptyBoardsTieBreakFavorsSeatZero(t *testing.T) {
	cat := testCatalog()
	a := playerWithBoard("a", 0, 0, 1000)
	b := playerWithBoard("b", 1, 0, 1000)

	res := Simulate(a, b, cat, DefaultParams())

	if res.Winner != SideA {
		t.Fatalf("expected tie-break to favor seat 0 when both survive untouched, got %s", res.Winner)
	}
	if res.ATowerHP != 1000 || res.BTowerHP != 1000 {
		t.Fatalf("expected both towers untouched, got a=%d b=%d", res.ATowerHP, res.BTowerHP)
	}
}

func TestUnansweredMarryProposalEliminatesPlayer(t *testing.T) {
	cat := testCatalog()
	a := playerWithBoard("a", 0, 0, 1000)
	b := playerWithBoard("b", 1, 0, 1000)
	b.PendingMarryProposal = true

	res := Simulate(a, b, cat, DefaultParams())

	if !res.BEliminatedByMarryRefusal {
		t.Fatal("expected B to be flagged as eliminated by an unanswered marry proposal")
	}
	if res.BTowerHP != 0 {
		t.Fatalf("expected B's tower to be zeroed, got %d", res.BTowerHP)
	}
	if res.Winner != SideA {
		t.Fatalf("expected A to win, got %s", res.Winner)
	}
}

func TestMarryRefusalCardAvoidsElimination(t *testing.T) {
	cat := testCatalog()
	a := playerWithBoard("a", 0, 0, 1000)
	b := playerWithBoard("b", 1, 0, 1000, match.BoardSlot{CardID: "marry_refusal", StackCount: 1})
	b.PendingMarryProposal = true

	res := Simulate(a, b, cat, DefaultParams())

	if res.BEliminatedByMarryRefusal {
		t.Fatal("expected playing marry_refusal to avoid elimination")
	}
	if res.BTowerHP != 1000 {
		t.Fatalf("expected B's tower untouched, got %d", res.BTowerHP)
	}
}

// TestScriptedAttackCardAddsBonusDamage runs a single enemy that would deal
// 2 dmg/hit under its table-driven config, with a config.script hook that
// adds 3 bonus damage per enemy. A single goblin with no tower fire at all
// to oppose it means the bonus shows up untouched in the final tower HP.
func TestScriptedAttackCardAddsBonusDamage(t *testing.T) {
	dir := t.TempDir()
	script := `
function surging_raid(ctx)
  return {bonus_damage = 3, bonus_gold = 0, bonus_heal = 0}
end
`
	if err := os.WriteFile(filepath.Join(dir, "cards.lua"), []byte(script), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	eng, err := scripting.NewEngine(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer eng.Close()

	cat := catalog.FromDefinitions([]catalog.CardDefinition{
		{CardID: "scripted_raid", Type: catalog.TypeAttack, Rarity: catalog.RarityRare, Cost: 3,
			Config: catalog.CardConfig{EnemyCount: 1, EnemyType: "goblin", DamagePerEnemy: 2, Script: "surging_raid"},
			Collectible: true,
		},
	})
	a := playerWithBoard("attacker", 0, 0, 1000, match.BoardSlot{CardID: "scripted_raid", StackCount: 1})
	b := playerWithBoard("defender", 1, 0, 1000)

	params := DefaultParams()
	params.Scripting = eng
	res := Simulate(a, b, cat, params)

	if res.BTowerHP != 1000-5 {
		t.Fatalf("expected table damage (2) plus script bonus (3) = 5, got bTowerHp=%d", res.BTowerHP)
	}
}

// Without an engine wired in, a scripted attack card's bonus is simply
// skipped and the table-driven damage applies alone.
func TestScriptedAttackCardNilEngineFallsBackToTable(t *testing.T) {
	cat := catalog.FromDefinitions([]catalog.CardDefinition{
		{CardID: "scripted_raid", Type: catalog.TypeAttack, Rarity: catalog.RarityRare, Cost: 3,
			Config: catalog.CardConfig{EnemyCount: 1, EnemyType: "goblin", DamagePerEnemy: 2, Script: "surging_raid"},
			Collectible: true,
		},
	})
	a := playerWithBoard("attacker", 0, 0, 1000, match.BoardSlot{CardID: "scripted_raid", StackCount: 1})
	b := playerWithBoard("defender", 1, 0, 1000)

	res := Simulate(a, b, cat, DefaultParams())

	if res.BTowerHP != 1000-2 {
		t.Fatalf("expected table-only damage of 2, got bTowerHp=%d", res.BTowerHP)
	}
}
