package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reef-io/reef/internal/ir"
)

func TestCreatePlan_NewResource(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "a", "size": 1}),
	}}

	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)

	entry := plan.Entries[0]
	assert.Equal(t, "test_thing.a", entry.Address)
	assert.Equal(t, ir.ActionCreate, entry.Action)
	assert.Equal(t, "not present in state", entry.Reason)
	assert.Equal(t, 1, plan.Summary.Create)
	require.Contains(t, entry.Diff, "name")
	assert.Equal(t, "create", entry.Diff["name"].Action)
}

func TestCreatePlan_NoChanges(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.a", &ir.ResourceState{
		Type: "test_thing", Name: "a", Provider: "fake",
		Arguments:  map[string]any{"name": "a", "size": float64(1)},
		Attributes: map[string]any{"id": "id-a"},
	}))

	// Desired size is an int; normalization makes it equal to the stored
	// float64, so nothing changed.
	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "a", "size": 1}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	assert.Empty(t, plan.Entries)
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestCreatePlan_UpdateInPlace(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.a", &ir.ResourceState{
		Type: "test_thing", Name: "a", Provider: "fake",
		Arguments:  map[string]any{"name": "a", "size": float64(1)},
		Attributes: map[string]any{"id": "id-a"},
	}))

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "a", "size": 2}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)

	entry := plan.Entries[0]
	assert.Equal(t, ir.ActionUpdate, entry.Action)
	assert.Contains(t, entry.Reason, "size")
	require.Contains(t, entry.Diff, "size")
	assert.Equal(t, float64(1), entry.Diff["size"].Before)
	assert.Equal(t, float64(2), entry.Diff["size"].After)
	assert.False(t, entry.Diff["size"].ForcesReplacement)
}

func TestCreatePlan_ReplaceDominatesUpdate(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.a", &ir.ResourceState{
		Type: "test_thing", Name: "a", Provider: "fake",
		Arguments:  map[string]any{"name": "old", "size": float64(1)},
		Attributes: map[string]any{"id": "id-a"},
	}))

	// name is force-new, size is updatable. One force-new change takes
	// the whole resource to Replace.
	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "new", "size": 2}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)

	entry := plan.Entries[0]
	assert.Equal(t, ir.ActionReplace, entry.Action)
	assert.Contains(t, entry.Reason, "name")
	assert.NotContains(t, entry.Reason, "size")
	assert.True(t, entry.Diff["name"].ForcesReplacement)
	assert.False(t, entry.Diff["size"].ForcesReplacement)
	assert.Equal(t, 1, plan.Summary.Replace)
}

func TestCreatePlan_ReplacePropagatesToReferences(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.base", &ir.ResourceState{
		Type: "test_thing", Name: "base", Provider: "fake",
		Arguments:  map[string]any{"name": "old"},
		Attributes: map[string]any{"id": "id-old"},
	}))
	require.NoError(t, store.Put(ctx, "test_thing.app", &ir.ResourceState{
		Type: "test_thing", Name: "app", Provider: "fake",
		Arguments:    map[string]any{"name": "app", "size": "id-old"},
		Attributes:   map[string]any{"id": "id-app"},
		Dependencies: []string{"test_thing.base"},
	}))

	// base gets replaced, so app's reference will point at a new id even
	// though it currently resolves to the stored value.
	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "base", map[string]any{"name": "new"}),
		fakeRes("test_thing", "app", map[string]any{
			"name": "app",
			"size": "ptr://test_thing/base/id",
		}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)

	assert.Equal(t, "test_thing.base", plan.Entries[0].Address)
	assert.Equal(t, ir.ActionReplace, plan.Entries[0].Action)

	app := plan.Entries[1]
	assert.Equal(t, "test_thing.app", app.Address)
	assert.Equal(t, ir.ActionUpdate, app.Action)
	require.Contains(t, app.Diff, "size")
	assert.Equal(t, "id-old", app.Diff["size"].Before)
	assert.Equal(t, "ptr://test_thing/base/id", app.Diff["size"].After)
	assert.Equal(t, 1, plan.Summary.Replace)
	assert.Equal(t, 1, plan.Summary.Update)
}

func TestCreatePlan_UnknownArgumentIsPerResourceError(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.bad", &ir.ResourceState{
		Type: "test_thing", Name: "bad", Provider: "fake",
		Arguments:  map[string]any{"name": "x"},
		Attributes: map[string]any{"id": "id-bad"},
	}))

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "bad", map[string]any{"name": "x", "bogus": true}),
		fakeRes("test_thing", "ok", map[string]any{"name": "y"}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)

	// The undeclared argument voids only that resource's entry.
	require.Contains(t, plan.Errors, "test_thing.bad")
	assert.Contains(t, plan.Errors["test_thing.bad"], "bogus")

	require.Len(t, plan.Entries, 1)
	assert.Equal(t, "test_thing.ok", plan.Entries[0].Address)
}

func TestCreatePlan_IgnoreChanges(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.a", &ir.ResourceState{
		Type: "test_thing", Name: "a", Provider: "fake",
		Arguments:  map[string]any{"name": "a", "size": float64(1)},
		Attributes: map[string]any{"id": "id-a"},
	}))

	res := fakeRes("test_thing", "a", map[string]any{"name": "a", "size": 5})
	res.Lifecycle = &ir.Lifecycle{IgnoreChanges: []string{"size"}}

	plan, err := eng.CreatePlan(ctx, &ir.Config{Resources: []*ir.Resource{res}}, store)
	require.NoError(t, err)
	assert.Empty(t, plan.Entries)
}

func TestCreatePlan_PreventDestroyBlocksReplacement(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.a", &ir.ResourceState{
		Type: "test_thing", Name: "a", Provider: "fake",
		Arguments:  map[string]any{"name": "old"},
		Attributes: map[string]any{"id": "id-a"},
	}))

	res := fakeRes("test_thing", "a", map[string]any{"name": "new"})
	res.Lifecycle = &ir.Lifecycle{PreventDestroy: true}

	_, err := eng.CreatePlan(ctx, &ir.Config{Resources: []*ir.Resource{res}}, store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prevent_destroy")
}

func TestCreatePlan_DeleteUndeclared(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.orphan", &ir.ResourceState{
		Type: "test_thing", Name: "orphan", Provider: "fake",
		Arguments:  map[string]any{"name": "o"},
		Attributes: map[string]any{"id": "id-o"},
	}))

	plan, err := eng.CreatePlan(ctx, &ir.Config{}, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)

	entry := plan.Entries[0]
	assert.Equal(t, ir.ActionDelete, entry.Action)
	assert.Equal(t, "not present in configuration", entry.Reason)
	require.NotNil(t, entry.Prior)
	assert.Equal(t, 1, plan.Summary.Delete)
}

func TestCreatePlanWithTargets(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "base", map[string]any{"name": "base"}),
		fakeRes("test_thing", "mid", map[string]any{"name": "mid"}, "test_thing.base"),
		fakeRes("test_thing", "other", map[string]any{"name": "other"}),
	}}

	// Targeting mid pulls in base transitively; other stays untouched.
	plan, err := eng.CreatePlanWithTargets(ctx, cfg, store, []string{"test_thing.mid"})
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)

	addrs := []string{plan.Entries[0].Address, plan.Entries[1].Address}
	assert.ElementsMatch(t, []string{"test_thing.base", "test_thing.mid"}, addrs)
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestCreateDestroyPlan(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.base", &ir.ResourceState{
		Type: "test_thing", Name: "base", Provider: "fake",
		Attributes: map[string]any{"id": "id-base"},
	}))
	require.NoError(t, store.Put(ctx, "test_thing.top", &ir.ResourceState{
		Type: "test_thing", Name: "top", Provider: "fake",
		Attributes:   map[string]any{"id": "id-top"},
		Dependencies: []string{"test_thing.base"},
	}))

	plan, err := eng.CreateDestroyPlan(ctx, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)

	// Dependents are destroyed first.
	assert.Equal(t, "test_thing.top", plan.Entries[0].Address)
	assert.Equal(t, "test_thing.base", plan.Entries[1].Address)
	for _, entry := range plan.Entries {
		assert.Equal(t, ir.ActionDelete, entry.Action)
		assert.Equal(t, "destroy requested", entry.Reason)
	}
}

func TestCreatePlan_CycleFailsPlanning(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	store := newMemStore()

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "a"}, "test_thing.b"),
		fakeRes("test_thing", "b", map[string]any{"name": "b"}, "test_thing.a"),
	}}

	_, err := eng.CreatePlan(context.Background(), cfg, store)
	require.Error(t, err)

	var cycleErr *CycleError
	assert.ErrorAs(t, err, &cycleErr)
}
