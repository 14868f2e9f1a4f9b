// Package engine owns all mutable game-logic state behind an actor loop.
// External collaborators mutate state only through asynchronous messages and
// read it only through published immutable snapshots.
package engine

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/multitracker/internal/game/logic"
	"github.com/cory-johannsen/multitracker/internal/game/reach"
	"github.com/cory-johannsen/multitracker/internal/game/world"
	"github.com/cory-johannsen/multitracker/internal/rules"
)

// Snapshot is an immutable, versioned view of one player's mutable state.
// Consumers hold a reference to one version and re-fetch to see updates; the
// engine never mutates a published snapshot.
//
// Snapshot implements logic.StateView over its frozen copies, so EvaluateRule
// answers what-if questions without touching live engine state.
type Snapshot struct {
	// Revision is the state version this snapshot was computed from. It
	// increases monotonically with every mutation batch.
	Revision uint64
	// Player is the owning slot name.
	Player string
	// Inventory maps item name to held count; counts are never negative.
	Inventory map[string]int
	// Flags holds fired one-time event markers.
	Flags map[string]struct{}
	// CheckedLocations holds the names of checked locations.
	CheckedLocations map[string]struct{}
	// RegionReachability holds every region's computed reachability.
	RegionReachability map[string]reach.Reachability

	static   *world.StaticData
	registry *logic.Registry
	logger   *zap.Logger
}

// ItemCount implements logic.StateView.
func (s *Snapshot) ItemCount(name string) int { return s.Inventory[name] }

// HasFlag implements logic.StateView.
func (s *Snapshot) HasFlag(name string) bool {
	_, ok := s.Flags[name]
	return ok
}

// LocationChecked implements logic.StateView.
func (s *Snapshot) LocationChecked(name string) bool {
	_, ok := s.CheckedLocations[name]
	return ok
}

// RegionReachable implements logic.StateView.
func (s *Snapshot) RegionReachable(name string) bool {
	return s.RegionReachability[name] == reach.Reachable
}

// EvaluateRule evaluates a rule against this snapshot. Evaluation is pure
// over the frozen state, so concurrent callers are safe; each call uses an
// unmemoized evaluator.
func (s *Snapshot) EvaluateRule(r *rules.Rule) logic.Value {
	eval := logic.NewEvaluator(s.registry, s.logger, nil)
	return eval.Evaluate(r, s, s.static)
}

// LocationAccessible reports whether the named location can currently be
// checked: its owning region is reachable and its access rule holds.
func (s *Snapshot) LocationAccessible(name string) bool {
	loc, ok := s.static.Location(name)
	if !ok {
		return false
	}
	eval := logic.NewEvaluator(s.registry, s.logger, nil)
	return reach.LocationAccessible(s, s.static, eval, loc, s.RegionReachability)
}

// AccessibleLocations returns the names of all currently accessible,
// unchecked locations in bundle order.
func (s *Snapshot) AccessibleLocations() []string {
	eval := logic.NewEvaluator(s.registry, s.logger, nil)
	var names []string
	for _, region := range s.static.Regions() {
		if s.RegionReachability[region.Name] != reach.Reachable {
			continue
		}
		for _, loc := range region.Locations {
			if s.LocationChecked(loc.Name) {
				continue
			}
			if reach.LocationAccessible(s, s.static, eval, loc, s.RegionReachability) {
				names = append(names, loc.Name)
			}
		}
	}
	return names
}
