// Package catalog holds the immutable card catalog (C1): card definitions
// keyed by card id, loaded once at boot and never mutated afterward.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownCard is returned by Get when a card id has no definition.
var ErrUnknownCard = errors.New("UNKNOWN_CARD")

type CardType string

const (
	TypeAttack   CardType = "attack"
	TypeDefense  CardType = "defense"
	TypeBuff     CardType = "buff"
	TypeEconomy  CardType = "economy"
)

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// CardConfig is the open per-card configuration blob: enemy count/type for
// attacks, kind for defense/economy, target for buffs, and an optional
// script hook evaluated by internal/scripting for behavior the table-driven
// heuristics in internal/simulate don't cover.
type CardConfig struct {
	EnemyCount    int     `yaml:"enemy_count,omitempty"`
	EnemyType     string  `yaml:"enemy_type,omitempty"`
	DamagePerEnemy int    `yaml:"damage_per_enemy,omitempty"`
	Kind          string  `yaml:"kind,omitempty"`
	Target        string  `yaml:"target,omitempty"`
	Script        string  `yaml:"script,omitempty"`
	// GoldBonus is the flat gold amount a gold_bonus economy card adds to
	// its caster's next round-end grant.
	GoldBonus int `yaml:"gold_bonus,omitempty"`
}

// CardDefinition is one immutable catalog entry.
type CardDefinition struct {
	CardID         string     `yaml:"card_id"`
	Type           CardType   `yaml:"type"`
	Rarity         Rarity     `yaml:"rarity"`
	Cost           int        `yaml:"cost"`
	BaseDamage     int        `yaml:"base_damage,omitempty"`
	BaseHPBonus    int        `yaml:"base_hp_bonus,omitempty"`
	BaseDPSBonus   int        `yaml:"base_dps_bonus,omitempty"`
	BuffMultiplier float64    `yaml:"buff_multiplier,omitempty"`
	Config         CardConfig `yaml:"config,omitempty"`
	Collectible    bool       `yaml:"collectible"`
}

// yamlFile is the on-disk shape: a flat list under `cards:`.
type yamlFile struct {
	Cards []CardDefinition `yaml:"cards"`
}

// Catalog is the immutable, read-only-after-load card table.
type Catalog struct {
	byID map[string]CardDefinition
	ids  []string
}

// Load reads one or more YAML files (each with a top-level `cards:` list)
// and merges them into a single catalog. A later file's card with the same
// id overrides an earlier one, mirroring the reference data loader's
// multi-file merge for weapon/armor/etcitem tables.
func Load(paths ...string) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]CardDefinition)}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read card table %s: %w", p, err)
		}
		var f yamlFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse card table %s: %w", p, err)
		}
		for _, def := range f.Cards {
			if _, exists := c.byID[def.CardID]; !exists {
				c.ids = append(c.ids, def.CardID)
			}
			c.byID[def.CardID] = def
		}
	}
	return c, nil
}

// FromDefinitions builds a catalog directly from in-memory definitions,
// without reading a YAML file; the tests use it.
func FromDefinitions(defs []CardDefinition) *Catalog {
	c := &Catalog{byID: make(map[string]CardDefinition, len(defs))}
	for _, def := range defs {
		if _, exists := c.byID[def.CardID]; !exists {
			c.ids = append(c.ids, def.CardID)
		}
		c.byID[def.CardID] = def
	}
	return c
}

// Get returns the definition for cardID, or ErrUnknownCard.
func (c *Catalog) Get(cardID string) (CardDefinition, error) {
	def, ok := c.byID[cardID]
	if !ok {
		return CardDefinition{}, fmt.Errorf("%s: %w", cardID, ErrUnknownCard)
	}
	return def, nil
}

// MustGet panics on an unknown id; only safe for ids the catalog itself
// generated (shop rolls, deck construction), never for client-supplied ids.
func (c *Catalog) MustGet(cardID string) CardDefinition {
	def, err := c.Get(cardID)
	if err != nil {
		panic(err)
	}
	return def
}

// List returns every card definition in load order.
func (c *Catalog) List() []CardDefinition {
	out := make([]CardDefinition, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.byID[id])
	}
	return out
}

// ListByRarity returns every collectible card of the given rarity, in load
// order — used by internal/rng to build weighted shop rolls.
func (c *Catalog) ListByRarity(r Rarity) []CardDefinition {
	var out []CardDefinition
	for _, id := range c.ids {
		def := c.byID[id]
		if def.Rarity == r && def.Collectible {
			out = append(out, def)
		}
	}
	return out
}

// Count returns the number of loaded card definitions.
func (c *Catalog) Count() int { return len(c.ids) }

// StarterDeck builds a match-start draw pile from every collectible card,
// each included twice, in load order. Deck ownership/building (GET
// /decks) is out of the match runtime's scope, so deckId is accepted but
// unused here: every match currently deals the same starter deck
// regardless of which deck a player selected in the lobby/queue.
func (c *Catalog) StarterDeck(deckID string) []string {
	var deck []string
	for _, id := range c.ids {
		def := c.byID[id]
		if !def.Collectible {
			continue
		}
		deck = append(deck, id, id)
	}
	return deck
}
