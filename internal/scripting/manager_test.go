package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/multitracker/internal/game/item"
	"github.com/cory-johannsen/multitracker/internal/game/logic"
	"github.com/cory-johannsen/multitracker/internal/game/world"
	"github.com/cory-johannsen/multitracker/internal/rules"
)

type scriptView struct {
	items   map[string]int
	flags   map[string]bool
	checked map[string]bool
	regions map[string]bool
}

func (v *scriptView) ItemCount(name string) int        { return v.items[name] }
func (v *scriptView) HasFlag(name string) bool         { return v.flags[name] }
func (v *scriptView) LocationChecked(name string) bool { return v.checked[name] }
func (v *scriptView) RegionReachable(name string) bool { return v.regions[name] }
func (v *scriptView) EvaluateRule(*rules.Rule) logic.Value {
	return logic.Bool(false)
}

func scriptStaticData(t *testing.T) *world.StaticData {
	t.Helper()
	catalog := item.NewCatalog(
		[]*item.Item{
			{Name: "Progressive Glove"},
			{Name: "Power Glove"},
			{Name: "Lamp"},
		},
		[]*item.ProgressionMapping{
			{Base: "Progressive Glove", Entries: []item.ProgressionEntry{{Name: "Power Glove", Level: 1}}},
		},
	)
	sd, err := world.NewStaticData("Link", "alttp", "open",
		map[string]any{"swordless": true, "goal": "ganon"},
		world.StartRegions{Default: "Start"},
		[]*world.Region{{Name: "Start"}, {Name: "Dark World"}},
		catalog)
	require.NoError(t, err)
	return sd
}

func writeScripts(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func newLoadedManager(t *testing.T, script string) *Manager {
	t.Helper()
	m := NewManager(zaptest.NewLogger(t))
	t.Cleanup(m.Close)
	dir := writeScripts(t, map[string]string{"helpers.lua": script})
	require.NoError(t, m.LoadGame("alttp", dir, 0))
	return m
}

func TestCallHelperReadsStateThroughTrackerModule(t *testing.T) {
	m := newLoadedManager(t, `
tracker.register("can_lift_rocks", function()
  return tracker.has("Power Glove")
end)

tracker.register("glove_count", function()
  return tracker.count("Power Glove")
end)

tracker.register("dark_room_ready", function()
  return tracker.has("Lamp") and tracker.can_reach("Dark World")
end)

tracker.register("uncle_done", function()
  return tracker.checked("Link's Uncle")
end)

tracker.register("agahnim_down", function()
  return tracker.has_flag("Defeated Agahnim")
end)
`)
	sd := scriptStaticData(t)

	view := &scriptView{
		items:   map[string]int{"Lamp": 1},
		flags:   map[string]bool{"Defeated Agahnim": true},
		checked: map[string]bool{"Link's Uncle": true},
		regions: map[string]bool{"Dark World": true},
	}

	v, err := m.CallHelper("alttp", "can_lift_rocks", view, sd, nil)
	require.NoError(t, err)
	assert.False(t, v.Truthy())

	// Progression grant: one Progressive Glove implies the Power Glove.
	view.items["Progressive Glove"] = 1
	v, err = m.CallHelper("alttp", "can_lift_rocks", view, sd, nil)
	require.NoError(t, err)
	assert.True(t, v.Truthy())

	v, err = m.CallHelper("alttp", "glove_count", view, sd, nil)
	require.NoError(t, err)
	require.True(t, v.IsNumber())
	assert.Equal(t, float64(1), v.Number())

	for _, helper := range []string{"dark_room_ready", "uncle_done", "agahnim_down"} {
		v, err = m.CallHelper("alttp", helper, view, sd, nil)
		require.NoError(t, err)
		assert.True(t, v.Truthy(), helper)
	}
}

func TestCallHelperPassesArgs(t *testing.T) {
	m := newLoadedManager(t, `
tracker.register("has_any", function(names)
  for _, name in ipairs(names) do
    if tracker.has(name) then return true end
  end
  return false
end)
`)
	sd := scriptStaticData(t)
	view := &scriptView{items: map[string]int{"Lamp": 1}}

	v, err := m.CallHelper("alttp", "has_any", view, sd, []any{[]any{"Hammer", "Lamp"}})
	require.NoError(t, err)
	assert.True(t, v.Truthy())

	v, err = m.CallHelper("alttp", "has_any", view, sd, []any{[]any{"Hammer"}})
	require.NoError(t, err)
	assert.False(t, v.Truthy())
}

func TestCallHelperReadsSettings(t *testing.T) {
	m := newLoadedManager(t, `
tracker.register("is_swordless", function()
  return tracker.setting("swordless") == true
end)
`)
	v, err := m.CallHelper("alttp", "is_swordless", &scriptView{}, scriptStaticData(t), nil)
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestCallHelperNilResultIsFalse(t *testing.T) {
	m := newLoadedManager(t, `
tracker.register("silent", function() end)
`)
	v, err := m.CallHelper("alttp", "silent", &scriptView{}, scriptStaticData(t), nil)
	require.NoError(t, err)
	assert.False(t, v.Truthy())
}

func TestCallHelperErrors(t *testing.T) {
	m := newLoadedManager(t, `
tracker.register("thrower", function()
  error("intentional failure")
end)
`)
	sd := scriptStaticData(t)

	_, err := m.CallHelper("alttp", "thrower", &scriptView{}, sd, nil)
	assert.Error(t, err)

	_, err = m.CallHelper("alttp", "not_registered", &scriptView{}, sd, nil)
	assert.Error(t, err)

	_, err = m.CallHelper("oot", "thrower", &scriptView{}, sd, nil)
	assert.Error(t, err, "unloaded game has no VM")
}

func TestCallHelperInstructionLimit(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	t.Cleanup(m.Close)
	dir := writeScripts(t, map[string]string{"helpers.lua": `
tracker.register("spin", function()
  while true do end
end)

tracker.register("quick", function() return true end)
`})
	require.NoError(t, m.LoadGame("alttp", dir, 10_000))
	sd := scriptStaticData(t)

	_, err := m.CallHelper("alttp", "spin", &scriptView{}, sd, nil)
	assert.Error(t, err, "runaway helper hits the opcode limit")

	// The budget is per invocation; the VM stays usable afterwards.
	v, err := m.CallHelper("alttp", "quick", &scriptView{}, sd, nil)
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestSandboxStripsDangerousGlobals(t *testing.T) {
	m := newLoadedManager(t, `
tracker.register("probe", function()
  return os == nil and io == nil and dofile == nil and loadfile == nil and require == nil
end)
`)
	v, err := m.CallHelper("alttp", "probe", &scriptView{}, scriptStaticData(t), nil)
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestLoadGameFailures(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	t.Cleanup(m.Close)

	assert.Error(t, m.LoadGame("alttp", filepath.Join(t.TempDir(), "missing"), 0))

	dir := writeScripts(t, map[string]string{"broken.lua": `this is not lua`})
	assert.Error(t, m.LoadGame("alttp", dir, 0))
}

func TestLoadGameRunsScriptsInOrder(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	t.Cleanup(m.Close)
	dir := writeScripts(t, map[string]string{
		"10_base.lua": `base_value = 2`,
		"20_use.lua": `
tracker.register("doubled", function() return base_value * 2 end)
`,
		"notes.txt": `ignored`,
	})
	require.NoError(t, m.LoadGame("alttp", dir, 0))

	v, err := m.CallHelper("alttp", "doubled", &scriptView{}, scriptStaticData(t), nil)
	require.NoError(t, err)
	assert.Equal(t, float64(4), v.Number())
}

func TestBindRegistersScriptedHelpers(t *testing.T) {
	m := newLoadedManager(t, `
tracker.register("lamp_lit", function() return tracker.has("Lamp") end)
tracker.register("zz_last", function() return false end)
`)
	assert.Equal(t, []string{"lamp_lit", "zz_last"}, m.HelperNames("alttp"))
	assert.Nil(t, m.HelperNames("oot"))

	registry := logic.NewRegistry()
	m.Bind("alttp", registry)

	sd := scriptStaticData(t)
	eval := logic.NewEvaluator(registry, zaptest.NewLogger(t), nil)
	view := &scriptView{items: map[string]int{"Lamp": 1}}

	assert.True(t, eval.Evaluate(rules.Helper("lamp_lit"), view, sd).Truthy())
	assert.False(t, eval.Evaluate(rules.Helper("zz_last"), view, sd).Truthy())
}
