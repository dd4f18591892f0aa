package simulate

import (
	"github.com/towerlords/matchserver/internal/catalog"
	"github.com/towerlords/matchserver/internal/match"
	"github.com/towerlords/matchserver/internal/scripting"
)

type unit struct {
	id       int
	side     Side
	unitType string
	hp       int
	maxHP    int
	damage   int
	position int // steps remaining until it reaches the opposing tower
	alive    bool
}

// playerCombatView is the read-only slice of PlayerState the simulator
// needs; kept separate from *match.PlayerState so the simulator's inputs
// are visibly never mutated (callers pass live players; the view is a
// value copy with no pointer back to live state).
type playerCombatView struct {
	TowerHP              int
	TowerHPMax           int
	TowerDPS             int
	TowerLevel           int
	Board                [7]match.BoardSlot
	PendingMarryProposal bool
	PendingAttackMultiplier     float64
	PendingDefenseMultiplier    float64
	PendingAllAttacksMultiplier float64
	PendingScriptDamageBonus    int
}

func viewOf(p *match.PlayerState) playerCombatView {
	return playerCombatView{
		TowerHP:                     p.TowerHP,
		TowerHPMax:                  p.TowerHPMax,
		TowerDPS:                    p.TowerDPS,
		TowerLevel:                  p.TowerLevel,
		Board:                       p.Board,
		PendingMarryProposal:        p.PendingMarryProposal,
		PendingAttackMultiplier:     p.PendingAttackMultiplier,
		PendingDefenseMultiplier:    p.PendingDefenseMultiplier,
		PendingAllAttacksMultiplier: p.PendingAllAttacksMultiplier,
		PendingScriptDamageBonus:    p.PendingScriptDamageBonus,
	}
}

// Simulate is the pure battle function (C3): given both players' boards
// and the card catalog, it returns a deterministic Result. It never
// mutates a or b.
func Simulate(a, b *match.PlayerState, cat *catalog.Catalog, params Params) Result {
	va, vb := viewOf(a), viewOf(b)

	nextUnitID := 0
	unitsA := spawnUnits(&va, cat, SideA, &nextUnitID, params, vb.TowerHP)
	unitsB := spawnUnits(&vb, cat, SideB, &nextUnitID, params, va.TowerHP)

	res := Result{TicksToReach: params.TicksToReach}
	for _, u := range append(append([]unit(nil), unitsA...), unitsB...) {
		res.InitialUnits = append(res.InitialUnits, UnitSnapshot{
			UnitID: u.id, Side: u.side, UnitType: u.unitType, HP: u.hp,
		})
	}
	for _, u := range unitsA {
		res.Events = append(res.Events, Event{AtMsOffset: 0, Type: EventSpawn, Side: SideA, UnitID: u.id, UnitType: u.unitType, RemainingHP: u.hp, Position: u.position})
	}
	for _, u := range unitsB {
		res.Events = append(res.Events, Event{AtMsOffset: 0, Type: EventSpawn, Side: SideB, UnitID: u.id, UnitType: u.unitType, RemainingHP: u.hp, Position: u.position})
	}

	aTowerHP := va.TowerHP
	bTowerHP := vb.TowerHP
	aDPS := effectiveDPS(va)
	bDPS := effectiveDPS(vb)

	maxTicks := params.TicksToReach
	if params.MaxTicks > 0 && params.MaxTicks < maxTicks {
		maxTicks = params.MaxTicks
	}

	tickAZero, tickBZero := -1, -1
	var carryA, carryB int
	var shotsA, shotsB []int

	for tick := 1; tick <= maxTicks; tick++ {
		atMs := int64(tick) * params.TickMs

		// 1. tower fire, aimed at the opposing side's current survivors —
		// fired before movement so a unit killed this tick never also
		// lands an arrival hit on the same tick (§4.3 ordering).
		var shotsThisA, shotsThisB int
		shotsThisA, carryA = shotBudget(aDPS, carryA)
		shotsThisB, carryB = shotBudget(bDPS, carryB)
		fireShots(unitsB, shotsThisA, params.ShotDamage, SideA, &res, atMs)
		fireShots(unitsA, shotsThisB, params.ShotDamage, SideB, &res, atMs)
		shotsA = append(shotsA, shotsThisA)
		shotsB = append(shotsB, shotsThisB)

		// 2. advance surviving units
		advance(unitsA, &res, atMs)
		advance(unitsB, &res, atMs)

		// 3. arrivals deal damage to the opposing tower and are consumed
		bTowerHP = resolveArrivals(unitsA, SideB, bTowerHP, &res, atMs)
		aTowerHP = resolveArrivals(unitsB, SideA, aTowerHP, &res, atMs)

		if aTowerHP <= 0 && tickAZero < 0 {
			tickAZero = tick
		}
		if bTowerHP <= 0 && tickBZero < 0 {
			tickBZero = tick
		}

		res.PerTickSummary = append(res.PerTickSummary, TickSummary{
			Tick:     tick,
			AliveA:   countAlive(unitsA),
			AliveB:   countAlive(unitsB),
			ATowerHP: max0(aTowerHP),
			BTowerHP: max0(bTowerHP),
		})

		if tickAZero >= 0 && tickBZero >= 0 {
			break
		}
	}

	res.ShotsPerTick = ShotsPerTick{A: shotsA, B: shotsB}
	res.Events = append(res.Events, Event{AtMsOffset: int64(len(res.PerTickSummary)) * params.TickMs, Type: EventRoundEnd})

	aTowerHP, bTowerHP = max0(aTowerHP), max0(bTowerHP)

	// Marry-proposal resolution: unanswered proposals zero the tower.
	if va.PendingMarryProposal && !hasMarryRefusal(va.Board) {
		aTowerHP = 0
		res.AEliminatedByMarryRefusal = true
	}
	if vb.PendingMarryProposal && !hasMarryRefusal(vb.Board) {
		bTowerHP = 0
		res.BEliminatedByMarryRefusal = true
	}

	res.ATowerHP = aTowerHP
	res.BTowerHP = bTowerHP
	res.Winner = decideWinner(aTowerHP, bTowerHP, tickAZero, tickBZero, countAlive(unitsA), countAlive(unitsB))

	return res
}

func effectiveDPS(v playerCombatView) int {
	dps := v.TowerDPS
	if v.PendingDefenseMultiplier > 0 {
		dps = int(float64(dps) * v.PendingDefenseMultiplier)
	}
	return dps
}

func hasMarryRefusal(board [7]match.BoardSlot) bool {
	for _, s := range board {
		if s.CardID == "marry_refusal" {
			return true
		}
	}
	return false
}

func spawnUnits(v *playerCombatView, cat *catalog.Catalog, side Side, nextID *int, params Params, opponentTowerHP int) []unit {
	var units []unit
	firstAttackApplied := false
	for _, slot := range v.Board {
		if slot.Empty() {
			continue
		}
		def, err := cat.Get(slot.CardID)
		if err != nil || def.Type != catalog.TypeAttack {
			continue
		}
		multiplier := slot.StackCount
		if multiplier < 1 {
			multiplier = 1
		}
		dmgPerEnemy := def.Config.DamagePerEnemy
		isFirstAttack := !firstAttackApplied
		firstAttackApplied = true
		if v.PendingAllAttacksMultiplier > 0 {
			dmgPerEnemy = int(float64(dmgPerEnemy) * v.PendingAllAttacksMultiplier)
		} else if isFirstAttack && v.PendingAttackMultiplier > 0 {
			dmgPerEnemy = int(float64(dmgPerEnemy) * v.PendingAttackMultiplier)
		}
		if isFirstAttack {
			dmgPerEnemy += v.PendingScriptDamageBonus
		}
		if def.Config.Script != "" && params.Scripting != nil && params.Scripting.HasFunction(def.Config.Script) {
			bonus := params.Scripting.CallCardEffect(def.Config.Script, scripting.CardEffectContext{
				CasterTowerHP: v.TowerHP,
				CasterDPS:     v.TowerDPS,
				TargetTowerHP: opponentTowerHP,
				TowerLevel:    v.TowerLevel,
			})
			dmgPerEnemy += bonus.BonusDamage
		}
		count := def.Config.EnemyCount * multiplier
		for i := 0; i < count; i++ {
			hp := unitHP(def.Config.EnemyType)
			units = append(units, unit{
				id:       *nextID,
				side:     side,
				unitType: def.Config.EnemyType,
				hp:       hp,
				maxHP:    hp,
				damage:   dmgPerEnemy,
				position: params.TicksToReach,
				alive:    true,
			})
			*nextID++
		}
	}
	return units
}

func advance(units []unit, res *Result, atMs int64) {
	for i := range units {
		if !units[i].alive {
			continue
		}
		units[i].position--
		res.Events = append(res.Events, Event{
			AtMsOffset: atMs, Type: EventMove, Side: units[i].side,
			UnitID: units[i].id, Position: units[i].position,
		})
	}
}

// resolveArrivals handles units from attackers that reached position<=0
// this tick: they strike defenderTowerHP and are consumed.
func resolveArrivals(attackers []unit, defenderSide Side, defenderTowerHP int, res *Result, atMs int64) int {
	for i := range attackers {
		if !attackers[i].alive || attackers[i].position > 0 {
			continue
		}
		defenderTowerHP -= attackers[i].damage
		res.Events = append(res.Events, Event{
			AtMsOffset: atMs, Type: EventHit, Side: attackers[i].side, UnitID: attackers[i].id, Amount: attackers[i].damage,
		})
		res.Events = append(res.Events, Event{
			AtMsOffset: atMs, Type: EventTowerHit, Side: defenderSide, Amount: attackers[i].damage, RemainingHP: max0(defenderTowerHP),
		})
		attackers[i].alive = false
		attackers[i].hp = 0
		res.Events = append(res.Events, Event{
			AtMsOffset: atMs, Type: EventUnitDied, Side: attackers[i].side, UnitID: attackers[i].id,
		})
	}
	return defenderTowerHP
}

// shotBudget returns how many shots fire this tick for a tower with the
// given dps, pro-rating any fractional floor(dps/10) via an accumulated
// carry (§4.3 "or pro-rated").
func shotBudget(dps int, carry int) (shots int, newCarry int) {
	shots = dps / 10
	carry += dps % 10
	if carry >= 10 {
		shots++
		carry -= 10
	}
	return shots, carry
}

// fireShots has the tower fire `shots` shots at targets, picking the
// closest surviving unit first, then lowest HP, then lowest id for
// determinism (§4.3).
func fireShots(targets []unit, shots, shotDamage int, side Side, res *Result, atMs int64) {
	for s := 0; s < shots; s++ {
		idx := pickTarget(targets)
		if idx < 0 {
			return // no living targets left
		}
		targets[idx].hp -= shotDamage
		res.Events = append(res.Events, Event{
			AtMsOffset: atMs, Type: EventShot, Side: side, UnitID: targets[idx].id, Amount: shotDamage,
		})
		res.Events = append(res.Events, Event{
			AtMsOffset: atMs, Type: EventDamage, Side: targets[idx].side, UnitID: targets[idx].id,
			Amount: shotDamage, RemainingHP: max0(targets[idx].hp),
		})
		if targets[idx].hp <= 0 {
			targets[idx].alive = false
			res.Events = append(res.Events, Event{
				AtMsOffset: atMs, Type: EventUnitDied, Side: targets[idx].side, UnitID: targets[idx].id,
			})
		}
	}
}

func pickTarget(units []unit) int {
	best := -1
	for i := range units {
		if !units[i].alive {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		if units[i].position != units[best].position {
			if units[i].position < units[best].position {
				best = i
			}
			continue
		}
		if units[i].hp != units[best].hp {
			if units[i].hp < units[best].hp {
				best = i
			}
			continue
		}
		if units[i].id < units[best].id {
			best = i
		}
	}
	return best
}

func countAlive(units []unit) int {
	n := 0
	for _, u := range units {
		if u.alive {
			n++
		}
	}
	return n
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func decideWinner(aHP, bHP, tickAZero, tickBZero, aliveA, aliveB int) Side {
	if tickAZero >= 0 && tickBZero >= 0 && tickAZero == tickBZero {
		return SideDraw
	}
	if aHP > bHP {
		return SideA
	}
	if bHP > aHP {
		return SideB
	}
	// True numeric tie with no simultaneous-zero event: tie-break by
	// surviving enemy count, then seat 0 (§4.3).
	if aliveA != aliveB {
		if aliveA > aliveB {
			return SideA
		}
		return SideB
	}
	return SideA
}
