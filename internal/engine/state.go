package engine

import (
	"github.com/cory-johannsen/multitracker/internal/game/logic"
	"github.com/cory-johannsen/multitracker/internal/game/reach"
	"github.com/cory-johannsen/multitracker/internal/game/world"
	"github.com/cory-johannsen/multitracker/internal/rules"
)

// playerState is one slot's mutable working state. It is owned exclusively
// by the engine loop goroutine; nothing outside the loop may touch it.
type playerState struct {
	static    *world.StaticData
	inventory map[string]int
	flags     map[string]struct{}
	checked   map[string]struct{}
	// regions is the last computed reachability map.
	regions map[string]reach.Reachability
	// published is the last snapshot handed to consumers.
	published *Snapshot
}

func newPlayerState(sd *world.StaticData) *playerState {
	return &playerState{
		static:    sd,
		inventory: make(map[string]int),
		flags:     make(map[string]struct{}),
		checked:   make(map[string]struct{}),
		regions:   make(map[string]reach.Reachability),
	}
}

// addItem applies a signed inventory delta, clamping at zero so counts stay
// non-negative.
func (ps *playerState) addItem(name string, delta int) {
	n := ps.inventory[name] + delta
	if n <= 0 {
		delete(ps.inventory, name)
		return
	}
	ps.inventory[name] = n
}

// liveView adapts a playerState to logic.StateView for evaluations inside
// the engine loop. RegionReachable reads the last computed map; the
// propagator overlays its own in-progress view during a pass.
type liveView struct {
	ps   *playerState
	eval *logic.Evaluator
}

func (v *liveView) ItemCount(name string) int { return v.ps.inventory[name] }

func (v *liveView) HasFlag(name string) bool {
	_, ok := v.ps.flags[name]
	return ok
}

func (v *liveView) LocationChecked(name string) bool {
	_, ok := v.ps.checked[name]
	return ok
}

func (v *liveView) RegionReachable(name string) bool {
	return v.ps.regions[name] == reach.Reachable
}

func (v *liveView) EvaluateRule(r *rules.Rule) logic.Value {
	return v.eval.Evaluate(r, v, v.ps.static)
}
