// Package scripting wraps a single gopher-lua VM used for card-effect
// hooks that fall outside the table-driven heuristics in internal/simulate
// (the catalog's `config.script` field names a registered Lua function).
// Grounded on the reference server's combat-calculation Lua engine: one VM,
// loaded once at boot, called by name with a packed argument table and a
// protected call, parsed back out of a returned table.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps one Lua VM. A single Engine is shared by the schedulers of
// every live match, which run concurrently, so HasFunction and
// CallCardEffect serialize access to the VM through mu.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads every *.lua file directly under
// scriptsDir (a flat layout, since TowerLords has one concern — card
// effects — rather than the reference server's many script subdirectories).
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no custom scripts configured; table-driven rules cover everything
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded card effect script", zap.String("file", path))
	}
	return nil
}

// Close releases the VM.
func (e *Engine) Close() { e.vm.Close() }

// CardEffectContext is packed into the Lua call for a `config.script` hook.
type CardEffectContext struct {
	CasterTowerHP int
	CasterDPS     int
	TargetTowerHP int
	TowerLevel    int
}

// CardEffectResult is parsed back out of the Lua function's return table.
type CardEffectResult struct {
	BonusDamage int
	BonusHeal   int
	BonusGold   int
}

// HasFunction reports whether fnName is registered (so the simulator can
// skip the Lua round-trip entirely for cards with no script hook).
func (e *Engine) HasFunction(fnName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vm.GetGlobal(fnName) != lua.LNil
}

// CallCardEffect invokes the named Lua function with ctx packed into a
// table, returning a zero CardEffectResult (a safe no-op bonus) if the
// function is missing or errors — a scripting failure must never abort a
// deterministic simulation.
func (e *Engine) CallCardEffect(fnName string, ctx CardEffectContext) CardEffectResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn := e.vm.GetGlobal(fnName)
	if fn == lua.LNil {
		e.log.Error("lua card effect function not found", zap.String("fn", fnName))
		return CardEffectResult{}
	}

	t := e.vm.NewTable()
	t.RawSetString("caster_tower_hp", lua.LNumber(ctx.CasterTowerHP))
	t.RawSetString("caster_dps", lua.LNumber(ctx.CasterDPS))
	t.RawSetString("target_tower_hp", lua.LNumber(ctx.TargetTowerHP))
	t.RawSetString("tower_level", lua.LNumber(ctx.TowerLevel))

	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, t); err != nil {
		e.log.Error("lua card effect error", zap.String("fn", fnName), zap.Error(err))
		return CardEffectResult{}
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		e.log.Error("lua card effect returned non-table", zap.String("fn", fnName))
		return CardEffectResult{}
	}

	return CardEffectResult{
		BonusDamage: int(lua.LVAsNumber(rt.RawGetString("bonus_damage"))),
		BonusHeal:   int(lua.LVAsNumber(rt.RawGetString("bonus_heal"))),
		BonusGold:   int(lua.LVAsNumber(rt.RawGetString("bonus_gold"))),
	}
}
