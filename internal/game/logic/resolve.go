package logic

import "github.com/cory-johannsen/multitracker/internal/game/world"

// Has reports whether the player effectively holds name: direct inventory
// first, then flags/events, then progression grants. This is the resolution
// order item_check uses; scripted helpers share it through the Lua bridge.
func Has(view StateView, sd *world.StaticData, name string) bool {
	if view.ItemCount(name) > 0 {
		return true
	}
	if view.HasFlag(name) {
		return true
	}
	return sd.Catalog().Resolve(name, view.ItemCount) > 0
}

// Count returns the effective held count of name, with direct inventory
// taking precedence over a progression grant for the same name.
func Count(view StateView, sd *world.StaticData, name string) int {
	return sd.Catalog().Resolve(name, view.ItemCount)
}
