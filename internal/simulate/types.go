// Package simulate implements the deterministic tick-based battle
// Simulator (C3): a pure function over two player boards that produces an
// ordered event stream, post-combat tower HP, and playback hints, without
// ever mutating its inputs.
package simulate

import "github.com/towerlords/matchserver/internal/scripting"

// Side identifies a seat in the simulated exchange.
type Side string

const (
	SideA    Side = "A"
	SideB    Side = "B"
	SideDraw Side = "draw"
)

// EventType enumerates the closed set of simulation event kinds (§4.3).
type EventType string

const (
	EventSpawn    EventType = "spawn"
	EventMove     EventType = "move"
	EventShot     EventType = "shot"
	EventHit      EventType = "hit"
	EventDamage   EventType = "damage"
	EventUnitDied EventType = "unit_died"
	EventTowerHit EventType = "tower_hit"
	EventRoundEnd EventType = "round_end"
)

// Event is one ordered playback entry. Fields are a flat set covering every
// event kind; unused fields are zero for kinds that don't need them.
type Event struct {
	AtMsOffset int64     `json:"atMsOffset"`
	Type       EventType `json:"type"`
	Side       Side      `json:"side,omitempty"`
	UnitID     int       `json:"unitId,omitempty"`
	UnitType   string    `json:"unitType,omitempty"`
	Amount     int       `json:"amount,omitempty"`
	RemainingHP int      `json:"remainingHp,omitempty"`
	Position   int       `json:"position,omitempty"`
}

// Params tunes the simulation (§4.3, §6.4 defaults).
type Params struct {
	TicksToReach int
	MaxTicks     int
	TickMs       int64
	// ShotDamage is the fixed per-shot damage this module settles the open
	// question of tower-fire granularity: a tower
	// with towerDps=D fires floor(D/10) shots per tick (pro-rated via a
	// fractional carry) and each shot deals ShotDamage, so damage/sec
	// converges to D as ShotDamage defaults to 1.
	ShotDamage int
	// Scripting resolves an attack card's config.script hook for damage
	// heuristics that aren't fully described by config.damagePerEnemy — e.g.
	// one that scales with the defender's remaining tower HP. Nil means no
	// custom scripts are loaded; every card then falls back to its
	// table-driven config entirely, which is the common case.
	Scripting *scripting.Engine
}

// DefaultParams returns the §6.4 defaults.
func DefaultParams() Params {
	return Params{TicksToReach: 10, MaxTicks: 200, TickMs: 100, ShotDamage: 1}
}

// UnitSnapshot is one playback-hint entry describing a unit's starting
// state (initialUnits).
type UnitSnapshot struct {
	UnitID   int    `json:"unitId"`
	Side     Side   `json:"side"`
	UnitType string `json:"unitType"`
	HP       int    `json:"hp"`
}

// ShotsPerTick is the playback hint of how many shots each tower fired on
// each tick, indexed by tick number.
type ShotsPerTick struct {
	A []int `json:"a"`
	B []int `json:"b"`
}

// TickSummary is one perTickSummary playback-hint entry.
type TickSummary struct {
	Tick          int `json:"tick"`
	AliveA        int `json:"aliveA"`
	AliveB        int `json:"aliveB"`
	ATowerHP      int `json:"aTowerHp"`
	BTowerHP      int `json:"bTowerHp"`
}

// Result is the Simulator's pure output (§4.3).
type Result struct {
	Winner   Side `json:"winner"`
	ATowerHP int  `json:"aTowerHp"`
	BTowerHP int  `json:"bTowerHp"`

	Events         []Event        `json:"events"`
	InitialUnits   []UnitSnapshot `json:"initialUnits"`
	ShotsPerTick   ShotsPerTick   `json:"shotsPerTick"`
	PerTickSummary []TickSummary  `json:"perTickSummary"`
	TicksToReach   int            `json:"ticksToReach"`

	// AEliminatedByMarryRefusal / BEliminatedByMarryRefusal flag whether the
	// tower-HP override below was caused by an unanswered marry proposal
	// rather than combat damage, so the scheduler can set the right
	// eliminationReason.
	AEliminatedByMarryRefusal bool `json:"-"`
	BEliminatedByMarryRefusal bool `json:"-"`
}
