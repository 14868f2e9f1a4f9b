package item

// CountFunc reports the directly held count of an item. Implementations read
// a single inventory and must not mutate it.
type CountFunc func(name string) int

// Catalog indexes a player's static items and progression tables for
// resolution queries. It is built once at bundle load and is immutable.
type Catalog struct {
	items map[string]*Item
	// byBase indexes progression tables by their base item name.
	byBase map[string]*ProgressionMapping
	// grantedBy indexes, for each grantable upgrade name, the tables that can
	// grant it. A name may be grantable by more than one base item.
	grantedBy map[string][]*ProgressionMapping
}

// NewCatalog builds a Catalog from static items and progression mappings.
//
// Postcondition: Returns a non-nil Catalog; later duplicates of an item name
// or base name overwrite earlier ones.
func NewCatalog(items []*Item, progression []*ProgressionMapping) *Catalog {
	c := &Catalog{
		items:     make(map[string]*Item, len(items)),
		byBase:    make(map[string]*ProgressionMapping, len(progression)),
		grantedBy: make(map[string][]*ProgressionMapping),
	}
	for _, it := range items {
		c.items[it.Name] = it
	}
	for _, pm := range progression {
		c.byBase[pm.Base] = pm
		for _, e := range pm.Entries {
			c.grantedBy[e.Name] = append(c.grantedBy[e.Name], pm)
		}
	}
	return c
}

// Item returns the static item definition for name.
func (c *Catalog) Item(name string) (*Item, bool) {
	it, ok := c.items[name]
	return it, ok
}

// Items returns all static item definitions.
func (c *Catalog) Items() []*Item {
	out := make([]*Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	return out
}

// Progression returns the progression table whose base item is name.
func (c *Catalog) Progression(name string) (*ProgressionMapping, bool) {
	pm, ok := c.byBase[name]
	return pm, ok
}

// Grants returns every upgrade name the table for base grants at a held
// count. Grants are monotonic: a higher count can only add names.
//
// Postcondition: Returns entries in table order; nil if base has no table or
// held is 0.
func (c *Catalog) Grants(base string, held int) []string {
	pm, ok := c.byBase[base]
	if !ok || held <= 0 {
		return nil
	}
	var granted []string
	for _, e := range pm.Entries {
		if e.Level <= held {
			granted = append(granted, e.Name)
		}
	}
	return granted
}

// Resolve returns the effective held count of name: the direct inventory
// count when one exists, otherwise 1 if any progression table grants name at
// its base item's current count. Direct inventory always wins over a
// progression grant for the same name.
func (c *Catalog) Resolve(name string, count CountFunc) int {
	if n := count(name); n > 0 {
		return n
	}
	for _, pm := range c.grantedBy[name] {
		held := count(pm.Base)
		if held <= 0 {
			continue
		}
		for _, e := range pm.Entries {
			if e.Name == name && e.Level <= held {
				return 1
			}
		}
	}
	return 0
}

// HoldsGroupMember reports whether any item of the named group is effectively
// held, counting progression-granted upgrades as held.
func (c *Catalog) HoldsGroupMember(group string, count CountFunc) bool {
	for _, it := range c.items {
		if !it.InGroup(group) {
			continue
		}
		if c.Resolve(it.Name, count) > 0 {
			return true
		}
	}
	return false
}
