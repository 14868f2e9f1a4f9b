package logic

import (
	"github.com/cory-johannsen/multitracker/internal/game/world"
)

// builtinGame is the reserved registry key for helpers available to every
// game. Lookup falls back to it when the active game has no entry.
const builtinGame = "__builtin__"

// HelperFunc is a pluggable, pure game-logic function invoked from a helper
// rule. It receives the state view, the player's static data, and the rule's
// literal args, and returns a boolean or numeric value. Implementations must
// not mutate state or perform I/O; they may recurse into the evaluator
// through view.EvaluateRule.
type HelperFunc func(view StateView, sd *world.StaticData, args []any) (Value, error)

// Registry maps (game, functionName) to helper implementations. It is
// populated once when a bundle loads and is immutable afterward; Lookup is
// safe for concurrent readers.
type Registry struct {
	funcs map[string]map[string]HelperFunc
}

// NewRegistry creates a Registry preloaded with the builtin helpers shared by
// all games.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]map[string]HelperFunc)}
	registerBuiltins(r)
	return r
}

// Register adds a helper for the given game, overwriting any existing entry
// with the same name.
//
// Precondition: game and name must be non-empty; fn must be non-nil.
func (r *Registry) Register(game, name string, fn HelperFunc) {
	m, ok := r.funcs[game]
	if !ok {
		m = make(map[string]HelperFunc)
		r.funcs[game] = m
	}
	m[name] = fn
}

// Lookup resolves a helper for the given game, falling back to the builtin
// set shared by all games.
func (r *Registry) Lookup(game, name string) (HelperFunc, bool) {
	if m, ok := r.funcs[game]; ok {
		if fn, ok := m[name]; ok {
			return fn, true
		}
	}
	fn, ok := r.funcs[builtinGame][name]
	return fn, ok
}

// Names returns the helper names registered for a game, excluding builtins.
func (r *Registry) Names(game string) []string {
	m := r.funcs[game]
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}
