package scripting

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/cory-johannsen/multitracker/internal/game/logic"
)

// registerModules defines the tracker.* table in the VM. All state reads go
// through the per-call context, so a helper only ever sees the view it was
// invoked with.
//
// Postcondition: tracker global is defined with register, has, count,
// has_flag, checked, can_reach, and setting.
func (m *Manager) registerModules(vm *gameVM) {
	L := vm.state
	tracker := L.NewTable()
	vm.helpers = L.NewTable()
	L.SetField(tracker, "helpers", vm.helpers)

	// tracker.register(name, fn) declares a helper callable from rules.
	L.SetField(tracker, "register", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		fn := L.CheckFunction(2)
		vm.helpers.RawSetString(name, fn)
		return 0
	}))

	// tracker.has(item) follows item_check semantics: inventory, then
	// flags, then progression grants.
	L.SetField(tracker, "has", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		call := vm.call
		if call == nil {
			L.Push(lua.LBool(false))
			return 1
		}
		L.Push(lua.LBool(logic.Has(call.view, call.sd, name)))
		return 1
	}))

	// tracker.count(item) returns the effective held count.
	L.SetField(tracker, "count", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		call := vm.call
		if call == nil {
			L.Push(lua.LNumber(0))
			return 1
		}
		L.Push(lua.LNumber(logic.Count(call.view, call.sd, name)))
		return 1
	}))

	// tracker.has_flag(name) reports a fired event marker.
	L.SetField(tracker, "has_flag", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		call := vm.call
		if call == nil {
			L.Push(lua.LBool(false))
			return 1
		}
		L.Push(lua.LBool(call.view.HasFlag(name)))
		return 1
	}))

	// tracker.checked(location) reports whether a location was checked.
	L.SetField(tracker, "checked", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		call := vm.call
		if call == nil {
			L.Push(lua.LBool(false))
			return 1
		}
		L.Push(lua.LBool(call.view.LocationChecked(name)))
		return 1
	}))

	// tracker.can_reach(region) reads the current reachability state.
	L.SetField(tracker, "can_reach", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		call := vm.call
		if call == nil {
			L.Push(lua.LBool(false))
			return 1
		}
		L.Push(lua.LBool(call.view.RegionReachable(name)))
		return 1
	}))

	// tracker.setting(key) exposes per-game bundle settings.
	L.SetField(tracker, "setting", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		call := vm.call
		if call == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, call.sd.Settings[key]))
		return 1
	}))

	L.SetGlobal("tracker", tracker)
}
