package catalog

import "testing"

func testDefs() []CardDefinition {
	return []CardDefinition{
		{CardID: "goblin_raid", Type: TypeAttack, Rarity: RarityCommon, Cost: 2, Collectible: true,
			Config: CardConfig{EnemyCount: 8, EnemyType: "goblin", DamagePerEnemy: 2}},
		{CardID: "reinforced_walls", Type: TypeDefense, Rarity: RarityCommon, Cost: 3, BaseHPBonus: 40,
			Collectible: true, Config: CardConfig{Kind: "hp_permanent"}},
		{CardID: "marry_refusal", Type: TypeDefense, Rarity: RarityCommon, Cost: 0, Collectible: false,
			Config: CardConfig{Kind: "marry_refusal"}},
	}
}

func TestGetKnownCard(t *testing.T) {
	c := FromDefinitions(testDefs())
	def, err := c.Get("goblin_raid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Cost != 2 || def.Config.EnemyCount != 8 {
		t.Fatalf("unexpected definition: %+v", def)
	}
}

func TestGetUnknownCard(t *testing.T) {
	c := FromDefinitions(testDefs())
	if _, err := c.Get("nonexistent"); err == nil {
		t.Fatal("expected ErrUnknownCard")
	}
}

func TestListByRarityExcludesNonCollectible(t *testing.T) {
	c := FromDefinitions(testDefs())
	commons := c.ListByRarity(RarityCommon)
	for _, def := range commons {
		if def.CardID == "marry_refusal" {
			t.Fatal("non-collectible card must not appear in rarity listing")
		}
	}
	if len(commons) != 2 {
		t.Fatalf("expected 2 common collectible cards, got %d", len(commons))
	}
}

func TestFromDefinitionsCount(t *testing.T) {
	c := FromDefinitions(testDefs())
	if c.Count() != 3 {
		t.Fatalf("expected 3 cards loaded, got %d", c.Count())
	}
}
