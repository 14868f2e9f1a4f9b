// Package world provides the per-player traversal graph: regions, entrances,
// exits, and locations, plus the immutable StaticData bundle that owns them.
package world

import (
	"fmt"

	"github.com/cory-johannsen/multitracker/internal/game/item"
	"github.com/cory-johannsen/multitracker/internal/rules"
)

// ProgressType classifies how a location counts toward completion.
type ProgressType string

// Standard progress types.
const (
	ProgressDefault  ProgressType = "default"
	ProgressPriority ProgressType = "priority"
	ProgressExcluded ProgressType = "excluded"
)

// Entrance is a directed, optionally rule-gated edge into a region.
type Entrance struct {
	// Name uniquely identifies the entrance within a player's graph.
	Name string
	// Parent is the name of the region that owns this entrance.
	Parent string
	// AccessRule gates traversal. Nil means unconditionally usable.
	AccessRule *rules.Rule
	// ConnectedRegion is the target region name. Empty means not yet
	// assigned (entrance-randomized generation); the edge is not traversable.
	ConnectedRegion string
	// ReverseEntrance names the paired entrance in the other direction, if any.
	ReverseEntrance string
}

// Exit is a directed, optionally rule-gated edge out of a region.
type Exit struct {
	// Name uniquely identifies the exit within a player's graph.
	Name string
	// Parent is the name of the region that owns this exit.
	Parent string
	// AccessRule gates traversal. Nil means unconditionally usable.
	AccessRule *rules.Rule
	// ConnectedRegion is the target region name. Empty means unassigned.
	ConnectedRegion string
}

// Location is a checkable point within a region.
type Location struct {
	// Name uniquely identifies the location within a player's graph.
	Name string
	// Region is the name of the owning region.
	Region string
	// ID is the network identifier. Nil marks a local-only event location
	// that is never sent over the wire; checking it is purely local.
	ID *int64
	// AccessRule gates access once the owning region is reachable. Nil means
	// unconditionally accessible.
	AccessRule *rules.Rule
	// ItemRule constrains what the generator may place here. It is preserved
	// for round-tripping but never consulted by the reachability engine.
	ItemRule *rules.Rule
	// ProgressType classifies the location for completion counting.
	ProgressType ProgressType
	// Event marks a location that exists only to fire a game event.
	Event bool
	// Item is the placed item, when the bundle includes placements.
	Item *item.PlacedItem
}

// LocalOnly reports whether checking this location is purely local: event
// locations and locations without a network ID never produce a round-trip.
func (l *Location) LocalOnly() bool {
	return l.Event || l.ID == nil
}

// Region is a named node in the traversal graph.
type Region struct {
	// Name uniquely identifies the region within a player's graph.
	Name string
	// LightWorld and DarkWorld are mode flags used by game helpers.
	LightWorld bool
	DarkWorld  bool
	// Dungeon names the dungeon this region nests under, if any.
	Dungeon string
	// Shop marks a shop region.
	Shop bool
	// Entrances, Exits, and Locations preserve bundle order.
	Entrances []*Entrance
	Exits     []*Exit
	Locations []*Location
	// RegionRules are extra rules required to be "in" the region beyond an
	// edge reaching it. All must hold for any edge into the region to count.
	RegionRules []*rules.Rule
	// CountsForTotal controls whether the region's locations contribute to
	// aggregate completion counters.
	CountsForTotal bool
}

// StartRegions names the player's starting nodes. Some modes start the
// search from more than one region.
type StartRegions struct {
	// Default is the start region used when the mode selects nothing else.
	Default string
	// Available lists every region the active mode may start from. The
	// propagator seeds its worklist with all of them.
	Available []string
}

// All returns the deduplicated set of start region names, default first.
func (s StartRegions) All() []string {
	seen := make(map[string]bool, len(s.Available)+1)
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	add(s.Default)
	for _, name := range s.Available {
		add(name)
	}
	return out
}

// StaticData is one player's immutable rules/graph definition, loaded once
// per session. The region graph is a general directed graph and may contain
// cycles; traversal code must guard with a settled set.
type StaticData struct {
	// Player is the owning slot name in a multiworld session.
	Player string
	// Game identifies the game whose helper registry applies.
	Game string
	// Mode is the world mode (e.g. "open", "standard", "inverted").
	Mode string
	// Settings holds opaque per-game options consulted by helpers.
	Settings map[string]any
	// Start names the region(s) the reachability search begins from.
	Start StartRegions

	regions   map[string]*Region
	ordered   []*Region
	locations map[string]*Location
	catalog   *item.Catalog
}

// NewStaticData indexes the given regions and catalog into a StaticData and
// verifies the graph invariants.
//
// Postcondition: Returns a fully indexed StaticData, or an error on duplicate
// names, dangling connected-region references, or an empty start set.
func NewStaticData(player, game, mode string, settings map[string]any, start StartRegions, regions []*Region, catalog *item.Catalog) (*StaticData, error) {
	sd := &StaticData{
		Player:    player,
		Game:      game,
		Mode:      mode,
		Settings:  settings,
		Start:     start,
		regions:   make(map[string]*Region, len(regions)),
		ordered:   regions,
		locations: make(map[string]*Location),
		catalog:   catalog,
	}
	if catalog == nil {
		sd.catalog = item.NewCatalog(nil, nil)
	}

	for _, r := range regions {
		if _, exists := sd.regions[r.Name]; exists {
			return nil, fmt.Errorf("world: duplicate region name %q", r.Name)
		}
		sd.regions[r.Name] = r
		for _, loc := range r.Locations {
			if existing, exists := sd.locations[loc.Name]; exists {
				return nil, fmt.Errorf("world: location %q in both %q and %q", loc.Name, existing.Region, r.Name)
			}
			loc.Region = r.Name
			sd.locations[loc.Name] = loc
		}
		for _, e := range r.Entrances {
			e.Parent = r.Name
		}
		for _, e := range r.Exits {
			e.Parent = r.Name
		}
	}

	if err := sd.validate(); err != nil {
		return nil, err
	}
	return sd, nil
}

// validate checks referential invariants across the indexed graph.
func (sd *StaticData) validate() error {
	for _, r := range sd.ordered {
		for _, e := range r.Entrances {
			if e.ConnectedRegion != "" {
				if _, ok := sd.regions[e.ConnectedRegion]; !ok {
					return fmt.Errorf("world: region %q: entrance %q targets unknown region %q", r.Name, e.Name, e.ConnectedRegion)
				}
			}
		}
		for _, e := range r.Exits {
			if e.ConnectedRegion != "" {
				if _, ok := sd.regions[e.ConnectedRegion]; !ok {
					return fmt.Errorf("world: region %q: exit %q targets unknown region %q", r.Name, e.Name, e.ConnectedRegion)
				}
			}
		}
	}
	starts := sd.Start.All()
	if len(starts) == 0 {
		return fmt.Errorf("world: player %q: no start regions", sd.Player)
	}
	for _, name := range starts {
		if _, ok := sd.regions[name]; !ok {
			return fmt.Errorf("world: start region %q not found", name)
		}
	}
	return checkRuleCycles(sd)
}

// Region returns the region with the given name.
func (sd *StaticData) Region(name string) (*Region, bool) {
	r, ok := sd.regions[name]
	return r, ok
}

// Regions returns all regions in bundle order.
func (sd *StaticData) Regions() []*Region { return sd.ordered }

// Location returns the location with the given name.
func (sd *StaticData) Location(name string) (*Location, bool) {
	l, ok := sd.locations[name]
	return l, ok
}

// Locations returns all locations keyed by name.
func (sd *StaticData) Locations() map[string]*Location { return sd.locations }

// Catalog returns the player's item catalog and progression tables.
func (sd *StaticData) Catalog() *item.Catalog { return sd.catalog }

// RegionCount returns the number of regions in the graph.
func (sd *StaticData) RegionCount() int { return len(sd.regions) }

// LocationCount returns the number of locations in the graph.
func (sd *StaticData) LocationCount() int { return len(sd.locations) }
