package match

// towerLevelStats is the fixed level -> (hpMax, dps, nextUpgradeCost)
// schedule: hpMax and dps strictly increase across levels 1-5, as does the
// upgrade cost for levels 1-4 (level 5 has cost 0, no further upgrade),
// chosen once and recorded here rather than guessed per-call.
var towerLevelStats = [6]struct {
	HPMax         int
	DPS           int
	UpgradeCost   int
}{
	// index 0 unused (levels are 1-based)
	1: {HPMax: 1000, DPS: 10, UpgradeCost: 6},
	2: {HPMax: 1400, DPS: 16, UpgradeCost: 9},
	3: {HPMax: 1900, DPS: 24, UpgradeCost: 12},
	4: {HPMax: 2500, DPS: 34, UpgradeCost: 16},
	5: {HPMax: 3200, DPS: 46, UpgradeCost: 0}, // max level, no further upgrade
}

const MaxTowerLevel = 5

// StatsForLevel returns the hp-max/dps/next-upgrade-cost triple for level.
func StatsForLevel(level int) (hpMax, dps, upgradeCost int) {
	if level < 1 {
		level = 1
	}
	if level > MaxTowerLevel {
		level = MaxTowerLevel
	}
	s := towerLevelStats[level]
	return s.HPMax, s.DPS, s.UpgradeCost
}

// ShopSizeForLevel returns the shop size for a tower level, capped at 5
// per the configured SHOP_SIZE_BY_LEVEL table.
func ShopSizeForLevel(shopSizeByLevel []int, level int) int {
	if level < 1 {
		level = 1
	}
	idx := level - 1
	if idx >= len(shopSizeByLevel) {
		idx = len(shopSizeByLevel) - 1
	}
	size := shopSizeByLevel[idx]
	if size > 5 {
		size = 5
	}
	return size
}

// NewPlayerState constructs a fresh PlayerState for seat at match start.
func NewPlayerState(userID string, seat int, color TowerColor, deck []string) *PlayerState {
	hpMax, dps, upgradeCost := StatsForLevel(1)
	p := &PlayerState{
		UserID:           userID,
		Seat:             seat,
		TowerColor:       color,
		TowerLevel:       1,
		TowerHP:          hpMax,
		TowerHPMax:       hpMax,
		TowerDPS:         dps,
		Gold:             3,
		RerollCost:       1,
		TowerUpgradeCost: upgradeCost,
		Deck:             append([]string(nil), deck...),
	}
	return p
}
