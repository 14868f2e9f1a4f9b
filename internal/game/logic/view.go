package logic

import "github.com/cory-johannsen/multitracker/internal/rules"

// StateView is the read-only window a rule evaluation sees. The engine
// implements it over its live mutable state; published snapshots implement it
// over their frozen copies. Implementations must not mutate anything.
type StateView interface {
	// ItemCount returns the directly held count of an item. Progression
	// grants are resolved by the evaluator, not the view.
	ItemCount(name string) int
	// HasFlag reports whether a one-time event marker has fired.
	HasFlag(name string) bool
	// LocationChecked reports whether the named location has been checked.
	LocationChecked(name string) bool
	// RegionReachable reports whether the named region is currently
	// reachable. During a propagation pass this reflects the in-progress
	// fixpoint state.
	RegionReachable(name string) bool
	// EvaluateRule evaluates a rule against this view, letting helper
	// functions recurse into the evaluator for compound conditions.
	EvaluateRule(r *rules.Rule) Value
}
