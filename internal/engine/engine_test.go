package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/multitracker/internal/game/item"
	"github.com/cory-johannsen/multitracker/internal/game/logic"
	"github.com/cory-johannsen/multitracker/internal/game/reach"
	"github.com/cory-johannsen/multitracker/internal/game/world"
	"github.com/cory-johannsen/multitracker/internal/rules"
)

func netID(n int64) *int64 { return &n }

// castleBundle is a single-player world with one free location in the start
// region, a Lamp-gated cave, and an event item granted by Link's Uncle.
func castleBundle(t *testing.T) *world.Bundle {
	t.Helper()

	catalog := item.NewCatalog([]*item.Item{
		{Name: "Lamp", ID: netID(18), Advancement: true},
		{Name: "Fighter Sword", Advancement: true},
	}, nil)

	regions := []*world.Region{
		{
			Name:           "Hyrule Castle",
			CountsForTotal: true,
			Locations: []*world.Location{
				// No network ID: checking grants the placed item locally.
				{Name: "Link's Uncle", AccessRule: rules.Constant(true),
					Item: &item.PlacedItem{Name: "Fighter Sword", Player: "Link"}},
				{Name: "Courtyard Chest", ID: netID(10)},
			},
			Exits: []*world.Exit{
				{Name: "Sewers Passage", ConnectedRegion: "Dark Cave",
					AccessRule: rules.ItemCheck("Lamp")},
			},
		},
		{
			Name:           "Dark Cave",
			CountsForTotal: true,
			Locations: []*world.Location{
				{Name: "Cave Chest", ID: netID(11),
					AccessRule: rules.ItemCheck("Fighter Sword")},
			},
		},
	}

	sd, err := world.NewStaticData("Link", "alttp", "standard", nil,
		world.StartRegions{Default: "Hyrule Castle"}, regions, catalog)
	require.NoError(t, err)
	return &world.Bundle{LocalPlayer: "Link", Players: map[string]*world.StaticData{"Link": sd}}
}

func startEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(Config{}, zaptest.NewLogger(t), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx) //nolint:errcheck // stops with ctx
	return e
}

func startLoadedEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := startEngine(t, opts...)
	require.NoError(t, e.LoadRules(context.Background(), castleBundle(t)))
	return e
}

func TestOperationsBeforeRulesLoaded(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.ApplyItem(ctx, "", "Lamp", 1), ErrNotReady)
	assert.ErrorIs(t, e.SetFlag(ctx, "", "flag"), ErrNotReady)
	assert.ErrorIs(t, e.CheckLocation(ctx, "", "Link's Uncle"), ErrNotReady)
	assert.ErrorIs(t, e.BeginBatchUpdate(ctx, false), ErrNotReady)
	assert.ErrorIs(t, e.CommitBatchUpdate(ctx), ErrNotReady)
	assert.ErrorIs(t, e.RecalculateAccessibility(ctx), ErrNotReady)

	_, err := e.Snapshot(ctx, "")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = e.StaticData(ctx, "")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEnsureReadyBlocksUntilLoad(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.EnsureReady(short), context.DeadlineExceeded)

	ready := make(chan error, 1)
	go func() { ready <- e.EnsureReady(ctx) }()

	require.NoError(t, e.LoadRules(ctx, castleBundle(t)))

	select {
	case err := <-ready:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("EnsureReady did not release after LoadRules")
	}

	// Already-loaded engines answer immediately.
	assert.NoError(t, e.EnsureReady(ctx))
}

func TestLoadRulesRejectsEmptyBundle(t *testing.T) {
	e := startEngine(t)
	assert.Error(t, e.LoadRules(context.Background(), nil))
	assert.Error(t, e.LoadRules(context.Background(), &world.Bundle{}))
}

// With an empty inventory the start region and its unconditional locations
// are accessible immediately after load.
func TestInitialReachability(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	snap, err := e.Snapshot(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, "Link", snap.Player)
	assert.Equal(t, reach.Reachable, snap.RegionReachability["Hyrule Castle"])
	assert.Equal(t, reach.Unreachable, snap.RegionReachability["Dark Cave"])
	assert.Equal(t, []string{"Link's Uncle", "Courtyard Chest"}, snap.AccessibleLocations())
	assert.True(t, snap.LocationAccessible("Link's Uncle"))
	assert.False(t, snap.LocationAccessible("Cave Chest"))
	assert.False(t, snap.LocationAccessible("No Such Place"))
}

func TestApplyItemOpensGatedRegion(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	before, err := e.Snapshot(ctx, "")
	require.NoError(t, err)

	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.Flush(ctx))

	after, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, reach.Reachable, after.RegionReachability["Dark Cave"])
	assert.Equal(t, 1, after.Inventory["Lamp"])
	assert.Greater(t, after.Revision, before.Revision)

	// Removing the Lamp closes the cave again; counts clamp at zero.
	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", -2))
	require.NoError(t, e.Flush(ctx))

	final, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, reach.Unreachable, final.RegionReachability["Dark Cave"])
	assert.Zero(t, final.Inventory["Lamp"])
}

func TestSnapshotsAreImmutable(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	before, err := e.Snapshot(ctx, "")
	require.NoError(t, err)

	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.Flush(ctx))

	assert.Zero(t, before.Inventory["Lamp"], "published snapshot must never change")
	assert.Equal(t, reach.Unreachable, before.RegionReachability["Dark Cave"])
}

func TestCheckLocationGrantsLocalEventItem(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	// Cave Chest needs the Fighter Sword, which Link's Uncle holds as a
	// local placement. Checking the uncle fires the event marker.
	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.CheckLocation(ctx, "", "Link's Uncle"))
	require.NoError(t, e.Flush(ctx))

	snap, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	_, checked := snap.CheckedLocations["Link's Uncle"]
	assert.True(t, checked)
	_, hasFlag := snap.Flags["Fighter Sword"]
	assert.True(t, hasFlag)
	assert.True(t, snap.LocationAccessible("Cave Chest"))
	assert.NotContains(t, snap.AccessibleLocations(), "Link's Uncle",
		"checked locations drop out of the accessible list")
}

func TestCheckUnknownLocation(t *testing.T) {
	e := startLoadedEngine(t)
	assert.ErrorIs(t, e.CheckLocation(context.Background(), "", "Ganon's Sock Drawer"), ErrUnknownLocation)
}

func TestUnknownPlayer(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.ApplyItem(ctx, "Zelda", "Lamp", 1), ErrUnknownPlayer)
	_, err := e.Snapshot(ctx, "Zelda")
	assert.ErrorIs(t, err, ErrUnknownPlayer)
	_, err = e.StaticData(ctx, "Zelda")
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestBatchAppliesAtomically(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	require.NoError(t, e.BeginBatchUpdate(ctx, false))
	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.CheckLocation(ctx, "", "Link's Uncle"))
	require.NoError(t, e.Flush(ctx))

	// Mid-batch the published snapshot still shows pre-batch state.
	mid, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, mid.Inventory["Lamp"])
	assert.Equal(t, reach.Unreachable, mid.RegionReachability["Dark Cave"])

	require.NoError(t, e.CommitBatchUpdate(ctx))

	after, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, after.Inventory["Lamp"])
	assert.Equal(t, reach.Reachable, after.RegionReachability["Dark Cave"])
	assert.True(t, after.LocationAccessible("Cave Chest"))
}

// A batch of mutations must land on the same state as the same mutations
// applied one at a time.
func TestBatchEquivalence(t *testing.T) {
	ctx := context.Background()

	batched := startLoadedEngine(t)
	require.NoError(t, batched.BeginBatchUpdate(ctx, false))
	require.NoError(t, batched.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, batched.SetFlag(ctx, "", "Defeated Agahnim"))
	require.NoError(t, batched.CheckLocation(ctx, "", "Link's Uncle"))
	require.NoError(t, batched.CommitBatchUpdate(ctx))

	direct := startLoadedEngine(t)
	require.NoError(t, direct.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, direct.SetFlag(ctx, "", "Defeated Agahnim"))
	require.NoError(t, direct.CheckLocation(ctx, "", "Link's Uncle"))
	require.NoError(t, direct.Flush(ctx))

	a, err := batched.Snapshot(ctx, "")
	require.NoError(t, err)
	b, err := direct.Snapshot(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, a.Inventory, b.Inventory)
	assert.Equal(t, a.Flags, b.Flags)
	assert.Equal(t, a.CheckedLocations, b.CheckedLocations)
	assert.Equal(t, a.RegionReachability, b.RegionReachability)
	assert.Equal(t, a.AccessibleLocations(), b.AccessibleLocations())
}

func TestNestedBatchIsAnError(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	require.NoError(t, e.BeginBatchUpdate(ctx, false))
	assert.ErrorIs(t, e.BeginBatchUpdate(ctx, false), ErrBatchOpen)

	// The original batch is still intact after the rejected begin.
	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.CommitBatchUpdate(ctx))

	snap, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Inventory["Lamp"])

	assert.ErrorIs(t, e.CommitBatchUpdate(ctx), ErrNoBatch)
}

func TestDeferredRegionComputation(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	require.NoError(t, e.BeginBatchUpdate(ctx, true))
	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.CommitBatchUpdate(ctx))

	// The commit publishes the mutation without recomputing regions.
	snap, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Inventory["Lamp"])
	assert.Equal(t, reach.Unreachable, snap.RegionReachability["Dark Cave"])

	require.NoError(t, e.RecalculateAccessibility(ctx))

	snap, err = e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, reach.Reachable, snap.RegionReachability["Dark Cave"])
}

// Recomputation with unchanged state is idempotent: same reachability, same
// accessible set.
func TestRecalculateIsIdempotent(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.Flush(ctx))
	first, err := e.Snapshot(ctx, "")
	require.NoError(t, err)

	require.NoError(t, e.RecalculateAccessibility(ctx))
	require.NoError(t, e.RecalculateAccessibility(ctx))

	second, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, first.RegionReachability, second.RegionReachability)
	assert.Equal(t, first.AccessibleLocations(), second.AccessibleLocations())
	assert.Equal(t, first.Revision, second.Revision, "recalculation is not a mutation")
}

func TestSubscribeReceivesPublishedSnapshots(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	// The blank player follows the local slot.
	ch, cancel, err := e.Subscribe(ctx, "")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.Flush(ctx))

	select {
	case snap := <-ch:
		// Conflated channel: the latest snapshot may have superseded earlier
		// ones, but whatever arrives reflects the mutation stream so far.
		assert.Equal(t, "Link", snap.Player)
		assert.Equal(t, 1, snap.Inventory["Lamp"])
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestSubscribeConflatesToLatest(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	ch, cancel, err := e.Subscribe(ctx, "Link")
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	}
	require.NoError(t, e.Flush(ctx))

	var last *Snapshot
	for {
		select {
		case snap := <-ch:
			last = snap
			continue
		default:
		}
		break
	}
	require.NotNil(t, last)
	assert.Equal(t, 5, last.Inventory["Lamp"], "the pending snapshot is always the newest")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	ch, cancel, err := e.Subscribe(ctx, "Link")
	require.NoError(t, err)
	cancel()

	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.Flush(ctx))

	select {
	case <-ch:
		t.Fatal("received snapshot after unsubscribe")
	default:
	}
}

func TestFlushOrdersAfterPriorMutations(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	// FIFO mailbox: once Flush answers, every earlier mutation is visible.
	for i := 0; i < 50; i++ {
		require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	}
	require.NoError(t, e.Flush(ctx))

	snap, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 50, snap.Inventory["Lamp"])
}

func TestSnapshotWhatIfEvaluation(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.Flush(ctx))

	snap, err := e.Snapshot(ctx, "")
	require.NoError(t, err)

	assert.True(t, snap.EvaluateRule(rules.ItemCheck("Lamp")).Truthy())
	assert.False(t, snap.EvaluateRule(rules.ItemCheck("Hammer")).Truthy())
	assert.True(t, snap.EvaluateRule(rules.StateMethod(rules.MethodCanReachRegion, "Dark Cave")).Truthy())
	assert.True(t, snap.EvaluateRule(nil).Truthy())
}

func TestWithHelpersBoundOnLoad(t *testing.T) {
	helper := func(view logic.StateView, _ *world.StaticData, _ []any) (logic.Value, error) {
		return logic.Bool(view.ItemCount("Lamp") > 0), nil
	}
	e := startEngine(t, WithHelpers("alttp", map[string]logic.HelperFunc{"lamp_lit": helper}))
	ctx := context.Background()
	require.NoError(t, e.LoadRules(ctx, castleBundle(t)))

	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.Flush(ctx))

	snap, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.True(t, snap.EvaluateRule(rules.Helper("lamp_lit")).Truthy())
}

func TestLoadRulesReplacesState(t *testing.T) {
	e := startLoadedEngine(t)
	ctx := context.Background()

	require.NoError(t, e.ApplyItem(ctx, "", "Lamp", 1))
	require.NoError(t, e.Flush(ctx))

	// Reloading the bundle resets all working state.
	require.NoError(t, e.LoadRules(ctx, castleBundle(t)))

	snap, err := e.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, snap.Inventory)
	assert.Equal(t, reach.Unreachable, snap.RegionReachability["Dark Cave"])
}
