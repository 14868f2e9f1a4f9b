package world

import (
	"fmt"

	"github.com/cory-johannsen/multitracker/internal/rules"
)

// checkRuleCycles rejects bundles whose location access rules form a
// reference cycle through can_reach_location. The region graph tolerates
// cycles via the propagator's settled set, but rule recursion has no runtime
// guard, so a cyclic rule reference must be caught here, before first
// evaluation.
func checkRuleCycles(sd *StaticData) error {
	// Edges: location -> every location its access rule references.
	deps := make(map[string][]string, len(sd.locations))
	for name, loc := range sd.locations {
		deps[name] = rules.LocationRefs(loc.AccessRule)
	}

	const (
		white = 0 // unvisited
		grey  = 1 // on the current DFS path
		black = 2 // settled
	)
	color := make(map[string]int, len(deps))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case grey:
			return fmt.Errorf("world: cyclic rule reference: %v -> %q", path, name)
		}
		color[name] = grey
		for _, dep := range deps[name] {
			if _, ok := sd.locations[dep]; !ok {
				// Unknown targets degrade to false at evaluation time; they
				// are a configuration error, not a cycle.
				continue
			}
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for name := range deps {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}
