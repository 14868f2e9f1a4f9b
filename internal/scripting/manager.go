package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/multitracker/internal/game/logic"
	"github.com/cory-johannsen/multitracker/internal/game/world"
)

// gameVM is one game's sandboxed Lua state. A VM is single-threaded; the
// mutex serializes helper invocations and protects the per-call state view.
type gameVM struct {
	mu      sync.Mutex
	state   *lua.LState
	cancel  func()
	limit   int
	helpers *lua.LTable
	// call is the state window for the helper invocation in flight. Set and
	// cleared under mu.
	call *callContext
}

type callContext struct {
	view logic.StateView
	sd   *world.StaticData
}

// Manager owns one sandboxed VM per game and bridges registered Lua helper
// functions into the logic registry's HelperFunc contract.
//
// Manager is safe for concurrent CallHelper after all LoadGame calls
// complete.
type Manager struct {
	mu     sync.RWMutex
	vms    map[string]*gameVM
	logger *zap.Logger
}

// NewManager creates a Manager with no loaded games.
//
// Precondition: logger must be non-nil.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		vms:    make(map[string]*gameVM),
		logger: logger,
	}
}

// LoadGame creates a sandboxed VM for gameID, registers the tracker.*
// module, then executes every *.lua file in scriptDir in lexicographic
// order. Scripts declare helpers with tracker.register(name, fn).
//
// Precondition: gameID must be non-empty; scriptDir must be a readable
// directory.
// Postcondition: The game VM is registered, replacing any previous VM for
// the same game; returns an error on Lua load failure.
func (m *Manager) LoadGame(gameID, scriptDir string, instLimit int) error {
	if instLimit <= 0 {
		instLimit = DefaultInstructionLimit
	}
	L, cancel := NewSandboxedState(instLimit)
	vm := &gameVM{state: L, cancel: cancel, limit: instLimit}
	m.registerModules(vm)

	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, gameID, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		if err := L.DoFile(path); err != nil {
			cancel()
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, gameID, err)
		}
	}

	m.mu.Lock()
	if old, ok := m.vms[gameID]; ok {
		if old.cancel != nil {
			old.cancel()
		}
		old.state.Close()
	}
	m.vms[gameID] = vm
	m.mu.Unlock()
	return nil
}

// HelperNames returns the helper names scripts registered for gameID, in
// sorted order.
func (m *Manager) HelperNames(gameID string) []string {
	m.mu.RLock()
	vm, ok := m.vms[gameID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	var names []string
	vm.helpers.ForEach(func(k, v lua.LValue) {
		if s, ok := k.(lua.LString); ok && v.Type() == lua.LTFunction {
			names = append(names, string(s))
		}
	})
	sort.Strings(names)
	return names
}

// Bind registers every scripted helper of gameID into the logic registry,
// wrapping each Lua function in the HelperFunc contract.
func (m *Manager) Bind(gameID string, registry *logic.Registry) {
	for _, name := range m.HelperNames(gameID) {
		helperName := name
		registry.Register(gameID, helperName, func(view logic.StateView, sd *world.StaticData, args []any) (logic.Value, error) {
			return m.CallHelper(gameID, helperName, view, sd, args)
		})
	}
}

// CallHelper invokes the named registered helper in gameID's VM. Lua runtime
// errors come back as errors; the evaluator logs them and degrades the rule
// to false. Nil and false results are false; numbers come back numeric.
func (m *Manager) CallHelper(gameID, name string, view logic.StateView, sd *world.StaticData, args []any) (logic.Value, error) {
	m.mu.RLock()
	vm, ok := m.vms[gameID]
	m.mu.RUnlock()
	if !ok {
		return logic.Value{}, fmt.Errorf("scripting: no VM for game %q", gameID)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	L := vm.state
	fn := L.GetField(vm.helpers, name)
	if fn == lua.LNil {
		return logic.Value{}, fmt.Errorf("scripting: helper %q not registered for game %q", name, gameID)
	}

	vm.call = &callContext{view: view, sd: sd}
	defer func() { vm.call = nil }()

	// Each invocation gets a fresh instruction budget; one runaway helper
	// must not poison later calls into the same VM.
	ctx, cancel := newCountingContext(vm.limit)
	defer cancel()
	L.SetContext(ctx)

	lvArgs := make([]lua.LValue, 0, len(args))
	for _, a := range args {
		lvArgs = append(lvArgs, goToLua(L, a))
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lvArgs...); err != nil {
		return logic.Value{}, fmt.Errorf("scripting: helper %q for game %q: %w", name, gameID, err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return luaToValue(ret), nil
}

// Close shuts down all game VMs.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, vm := range m.vms {
		if vm.cancel != nil {
			vm.cancel()
		}
		vm.state.Close()
		delete(m.vms, id)
	}
}

// goToLua converts a decoded JSON value into its Lua representation.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		t := L.NewTable()
		for i, e := range x {
			t.RawSetInt(i+1, goToLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			t.RawSetString(k, goToLua(L, e))
		}
		return t
	default:
		return lua.LNil
	}
}

// luaToValue converts a helper's return value into a logic.Value. Nil maps
// to false so an early "return" reads as a failed condition.
func luaToValue(v lua.LValue) logic.Value {
	switch x := v.(type) {
	case lua.LBool:
		return logic.Bool(bool(x))
	case lua.LNumber:
		return logic.Number(float64(x))
	default:
		return logic.Bool(false)
	}
}
