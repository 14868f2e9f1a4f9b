package world

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cory-johannsen/multitracker/internal/game/item"
	"github.com/cory-johannsen/multitracker/internal/rules"
)

//go:embed bundle_schema.json
var bundleSchemaJSON string

// compileBundleSchema panics on failure; the schema is embedded and failure
// to compile is a build defect, not an input error.
func compileBundleSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("bundle.schema.json", strings.NewReader(bundleSchemaJSON)); err != nil {
		panic(fmt.Sprintf("world: adding embedded bundle schema: %v", err))
	}
	s, err := c.Compile("bundle.schema.json")
	if err != nil {
		panic(fmt.Sprintf("world: compiling embedded bundle schema: %v", err))
	}
	return s
}

var bundleSchema = compileBundleSchema()

// Bundle is a loaded multi-player rules definition: one StaticData per slot.
type Bundle struct {
	// LocalPlayer names the slot this tracker instance plays. Defaults to the
	// only slot in single-player bundles.
	LocalPlayer string
	// Players holds each slot's immutable static data.
	Players map[string]*StaticData
}

// Player returns the StaticData for the named slot; the empty string selects
// the local player.
func (b *Bundle) Player(name string) (*StaticData, bool) {
	if name == "" {
		name = b.LocalPlayer
	}
	sd, ok := b.Players[name]
	return sd, ok
}

// Wire types for the bundle format. Field names are fixed by externally
// authored bundles.

type bundleFile struct {
	LocalPlayer string                  `json:"local_player"`
	Players     map[string]playerBundle `json:"players"`
}

type playerBundle struct {
	Game        string              `json:"game"`
	Mode        string              `json:"mode"`
	Settings    map[string]any      `json:"settings"`
	Start       startRegionsWire    `json:"start_regions"`
	Items       []itemWire          `json:"items"`
	ItemGroups  map[string][]string `json:"item_groups"`
	Progression []progressionWire   `json:"progression_mapping"`
	Regions     []regionWire        `json:"regions"`
}

type startRegionsWire struct {
	Default   string   `json:"default"`
	Available []string `json:"available"`
}

type itemWire struct {
	Name        string   `json:"name"`
	ID          *int64   `json:"id"`
	Groups      []string `json:"groups"`
	Advancement bool     `json:"advancement"`
	Priority    bool     `json:"priority"`
	Useful      bool     `json:"useful"`
	Trap        bool     `json:"trap"`
}

type progressionWire struct {
	Base  string `json:"base"`
	Items []struct {
		Name  string `json:"name"`
		Level int    `json:"level"`
	} `json:"items"`
}

type regionWire struct {
	Name           string         `json:"name"`
	LightWorld     bool           `json:"light_world"`
	DarkWorld      bool           `json:"dark_world"`
	Dungeon        string         `json:"dungeon"`
	Shop           bool           `json:"shop"`
	CountsForTotal *bool          `json:"counts_for_total"`
	RegionRules    []*rules.Rule  `json:"region_rules"`
	Entrances      []entranceWire `json:"entrances"`
	Exits          []exitWire     `json:"exits"`
	Locations      []locationWire `json:"locations"`
}

type entranceWire struct {
	Name            string      `json:"name"`
	AccessRule      *rules.Rule `json:"access_rule"`
	ConnectedRegion *string     `json:"connected_region"`
	Reverse         string      `json:"reverse"`
}

type exitWire struct {
	Name            string      `json:"name"`
	AccessRule      *rules.Rule `json:"access_rule"`
	ConnectedRegion *string     `json:"connected_region"`
}

type locationWire struct {
	Name         string      `json:"name"`
	ID           *int64      `json:"id"`
	AccessRule   *rules.Rule `json:"access_rule"`
	ItemRule     *rules.Rule `json:"item_rule"`
	ProgressType string      `json:"progress_type"`
	Event        bool        `json:"event"`
	Item         *struct {
		Name   string `json:"name"`
		Player string `json:"player"`
	} `json:"item"`
}

// LoadBundleFile reads and parses a bundle from a JSON file.
//
// Postcondition: Returns a fully validated Bundle, or an error naming the
// first schema or invariant violation.
func LoadBundleFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("world: reading bundle %q: %w", path, err)
	}
	return LoadBundle(data)
}

// LoadBundle parses a bundle from JSON bytes. The payload is validated
// against the embedded bundle schema before decoding, so malformed bundles
// are rejected with a precise schema error instead of a partial load.
func LoadBundle(data []byte) (*Bundle, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("world: parsing bundle: %w", err)
	}
	if err := bundleSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("world: bundle schema: %w", err)
	}

	var file bundleFile
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("world: decoding bundle: %w", err)
	}
	if len(file.Players) == 0 {
		return nil, fmt.Errorf("world: bundle has no players")
	}

	b := &Bundle{
		LocalPlayer: file.LocalPlayer,
		Players:     make(map[string]*StaticData, len(file.Players)),
	}
	for name, pb := range file.Players {
		sd, err := buildPlayer(name, pb)
		if err != nil {
			return nil, fmt.Errorf("world: player %q: %w", name, err)
		}
		b.Players[name] = sd
	}

	if b.LocalPlayer == "" {
		if len(b.Players) == 1 {
			for name := range b.Players {
				b.LocalPlayer = name
			}
		} else {
			return nil, fmt.Errorf("world: multi-player bundle must name a local_player")
		}
	}
	if _, ok := b.Players[b.LocalPlayer]; !ok {
		return nil, fmt.Errorf("world: local_player %q not in bundle", b.LocalPlayer)
	}
	return b, nil
}

func buildPlayer(name string, pb playerBundle) (*StaticData, error) {
	items := make([]*item.Item, 0, len(pb.Items))
	byName := make(map[string]*item.Item, len(pb.Items))
	for _, iw := range pb.Items {
		it := &item.Item{
			Name:        iw.Name,
			ID:          iw.ID,
			Groups:      iw.Groups,
			Advancement: iw.Advancement,
			Priority:    iw.Priority,
			Useful:      iw.Useful,
			Trap:        iw.Trap,
		}
		items = append(items, it)
		byName[it.Name] = it
	}
	// item_groups is the inverse listing; merge it into each item's Groups.
	for group, members := range pb.ItemGroups {
		for _, member := range members {
			it, ok := byName[member]
			if !ok {
				return nil, fmt.Errorf("item_groups[%q] references unknown item %q", group, member)
			}
			if !it.InGroup(group) {
				it.Groups = append(it.Groups, group)
			}
		}
	}

	progression := make([]*item.ProgressionMapping, 0, len(pb.Progression))
	for _, pw := range pb.Progression {
		pm := &item.ProgressionMapping{Base: pw.Base}
		for _, e := range pw.Items {
			pm.Entries = append(pm.Entries, item.ProgressionEntry{Name: e.Name, Level: e.Level})
		}
		progression = append(progression, pm)
	}

	regions := make([]*Region, 0, len(pb.Regions))
	for _, rw := range pb.Regions {
		r := &Region{
			Name:           rw.Name,
			LightWorld:     rw.LightWorld,
			DarkWorld:      rw.DarkWorld,
			Dungeon:        rw.Dungeon,
			Shop:           rw.Shop,
			RegionRules:    rw.RegionRules,
			CountsForTotal: rw.CountsForTotal == nil || *rw.CountsForTotal,
		}
		for _, ew := range rw.Entrances {
			r.Entrances = append(r.Entrances, &Entrance{
				Name:            ew.Name,
				AccessRule:      ew.AccessRule,
				ConnectedRegion: derefString(ew.ConnectedRegion),
				ReverseEntrance: ew.Reverse,
			})
		}
		for _, xw := range rw.Exits {
			r.Exits = append(r.Exits, &Exit{
				Name:            xw.Name,
				AccessRule:      xw.AccessRule,
				ConnectedRegion: derefString(xw.ConnectedRegion),
			})
		}
		for _, lw := range rw.Locations {
			loc := &Location{
				Name:         lw.Name,
				ID:           lw.ID,
				AccessRule:   lw.AccessRule,
				ItemRule:     lw.ItemRule,
				ProgressType: ProgressType(lw.ProgressType),
				Event:        lw.Event,
			}
			if loc.ProgressType == "" {
				loc.ProgressType = ProgressDefault
			}
			if lw.Item != nil {
				loc.Item = &item.PlacedItem{Name: lw.Item.Name, Player: lw.Item.Player}
			}
			r.Locations = append(r.Locations, loc)
		}
		regions = append(regions, r)
	}

	start := StartRegions{Default: pb.Start.Default, Available: pb.Start.Available}
	return NewStaticData(name, pb.Game, pb.Mode, pb.Settings, start, regions, item.NewCatalog(items, progression))
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
