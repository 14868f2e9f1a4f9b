// Package reach computes region reachability over the per-player traversal
// graph. The graph is a general directed graph and commonly contains cycles
// (bidirectional entrance wiring), so the search is a worklist fixpoint with
// a settled set keyed by region name, never a recursive DFS.
package reach

import (
	"github.com/cory-johannsen/multitracker/internal/game/logic"
	"github.com/cory-johannsen/multitracker/internal/game/world"
	"github.com/cory-johannsen/multitracker/internal/rules"
)

// Reachability is a region's computed state.
type Reachability string

// Region reachability states.
const (
	Reachable   Reachability = "reachable"
	Unreachable Reachability = "unreachable"
)

// fixpointView overlays the in-progress reached set onto a base state view,
// so rules evaluated during propagation observe the current pass rather than
// the previous snapshot's reachability.
type fixpointView struct {
	base    logic.StateView
	eval    *logic.Evaluator
	sd      *world.StaticData
	reached map[string]bool
}

func (v *fixpointView) ItemCount(name string) int        { return v.base.ItemCount(name) }
func (v *fixpointView) HasFlag(name string) bool         { return v.base.HasFlag(name) }
func (v *fixpointView) LocationChecked(name string) bool { return v.base.LocationChecked(name) }
func (v *fixpointView) RegionReachable(name string) bool { return v.reached[name] }

func (v *fixpointView) EvaluateRule(r *rules.Rule) logic.Value {
	return v.eval.Evaluate(r, v, v.sd)
}

// Compute runs the fixpoint search from the mode-dependent start regions and
// returns every region's reachability.
//
// A region is reachable when it is a start region, or when a reachable
// region has an entrance or exit targeting it whose access rule holds and
// whose destination region rules all hold. Edges with an unassigned target
// are never traversable. The search repeats until a pass adds no region, so
// looping entrance wiring terminates.
//
// Postcondition: The returned map has an entry for every region in sd.
func Compute(base logic.StateView, sd *world.StaticData, eval *logic.Evaluator) map[string]Reachability {
	view := &fixpointView{
		base:    base,
		eval:    eval,
		sd:      sd,
		reached: make(map[string]bool, sd.RegionCount()),
	}

	for _, name := range sd.Start.All() {
		view.reached[name] = true
	}

	for changed := true; changed; {
		changed = false
		for _, region := range sd.Regions() {
			if !view.reached[region.Name] {
				continue
			}
			for _, e := range region.Entrances {
				if traverse(view, e.ConnectedRegion, e.AccessRule) {
					changed = true
				}
			}
			for _, x := range region.Exits {
				if traverse(view, x.ConnectedRegion, x.AccessRule) {
					changed = true
				}
			}
		}
	}

	result := make(map[string]Reachability, sd.RegionCount())
	for _, region := range sd.Regions() {
		if view.reached[region.Name] {
			result[region.Name] = Reachable
		} else {
			result[region.Name] = Unreachable
		}
	}
	return result
}

// traverse attempts one edge and reports whether it newly settled the target.
func traverse(view *fixpointView, target string, accessRule *rules.Rule) bool {
	if target == "" || view.reached[target] {
		return false
	}
	if !view.EvaluateRule(accessRule).Truthy() {
		return false
	}
	dest, ok := view.sd.Region(target)
	if !ok {
		return false
	}
	for _, rr := range dest.RegionRules {
		if !view.EvaluateRule(rr).Truthy() {
			return false
		}
	}
	view.reached[target] = true
	return true
}

// LocationAccessible reports whether a location can currently be checked: its
// owning region must be reachable under regions and its own access rule must
// hold. Event and ID-less locations follow the same rule; only the check
// round-trip differs.
func LocationAccessible(view logic.StateView, sd *world.StaticData, eval *logic.Evaluator, loc *world.Location, regions map[string]Reachability) bool {
	if regions[loc.Region] != Reachable {
		return false
	}
	return eval.Evaluate(loc.AccessRule, view, sd).Truthy()
}
