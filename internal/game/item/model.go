// Package item provides the static item catalog and the progression
// resolver that maps a held count of a base progressive item to the discrete
// upgrades it grants.
package item

// Item is the static definition of an item in a loaded rules bundle.
type Item struct {
	// Name uniquely identifies the item within a player's bundle.
	Name string
	// ID is the network identifier. Nil marks a local-only item never sent
	// over the wire.
	ID *int64
	// Groups lists the item groups this item belongs to.
	Groups []string
	// Advancement marks an item required for progression.
	Advancement bool
	// Priority marks an item placed at priority locations.
	Priority bool
	// Useful marks a non-progression item that is still worth collecting.
	Useful bool
	// Trap marks an item that penalizes the collector.
	Trap bool
}

// InGroup reports whether the item belongs to the named group.
func (i *Item) InGroup(group string) bool {
	for _, g := range i.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// PlacedItem records which item the generator placed at a location, and for
// which player in a multiworld session.
type PlacedItem struct {
	// Name is the placed item's name in the receiving player's catalog.
	Name string
	// Player is the receiving player's slot name.
	Player string
}

// ProgressionEntry grants Name once the base item's held count reaches Level.
type ProgressionEntry struct {
	Name  string
	Level int
}

// ProgressionMapping associates a base progressive item with the ordered
// upgrades its count unlocks. Entries are ordered by ascending level.
type ProgressionMapping struct {
	Base    string
	Entries []ProgressionEntry
}
