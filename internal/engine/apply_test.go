package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reef-io/reef/internal/ir"
	regpkg "github.com/reef-io/reef/internal/provider"
	"github.com/reef-io/reef/internal/state"
	"github.com/reef-io/reef/pkg/provider"
)

// fakeProvider records operations and serves canned schemas. The id of a
// created resource is "id-" + name.
type fakeProvider struct {
	mu          sync.Mutex
	calls       []string
	createArgs  map[string]map[string]any
	failCreate  map[string]error
	failDelete  map[string]error
	deleteDelay map[string]time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		createArgs:  make(map[string]map[string]any),
		failCreate:  make(map[string]error),
		failDelete:  make(map[string]error),
		deleteDelay: make(map[string]time.Duration),
	}
}

func (f *fakeProvider) Schema(resourceType string) (*provider.Schema, error) {
	switch resourceType {
	case "test_thing":
		return &provider.Schema{
			Arguments: map[string]provider.ArgumentSchema{
				"name": {ForceNew: true},
				"size": {},
				"tier": {},
			},
		}, nil
	case "cbd_thing":
		return &provider.Schema{
			Arguments: map[string]provider.ArgumentSchema{
				"name": {ForceNew: true},
			},
			CreateBeforeDestroy: true,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported resource type %q", resourceType)
	}
}

func (f *fakeProvider) Create(ctx context.Context, resourceType, name string, args map[string]any) (string, map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create "+name)
	if err, ok := f.failCreate[name]; ok {
		return "", nil, err
	}
	f.createArgs[name] = args
	id := "id-" + name
	return id, map[string]any{"id": id, "name": name}, nil
}

func (f *fakeProvider) Read(ctx context.Context, resourceType, id string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "read "+id)
	return map[string]any{"id": id}, nil
}

func (f *fakeProvider) Update(ctx context.Context, resourceType, id string, args map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "update "+id)
	return map[string]any{"id": id}, nil
}

func (f *fakeProvider) Delete(ctx context.Context, resourceType, id string) error {
	f.mu.Lock()
	delay := f.deleteDelay[id]
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete "+id)
	if err, ok := f.failDelete[id]; ok {
		return err
	}
	return nil
}

func (f *fakeProvider) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

// memStore is an in-memory engine.Store. failWrites simulates a broken
// durable backend.
type memStore struct {
	mu         sync.Mutex
	resources  map[string]*ir.ResourceState
	failWrites bool
}

func newMemStore() *memStore {
	return &memStore{resources: make(map[string]*ir.ResourceState)}
}

func (m *memStore) Get(addr string) (*ir.ResourceState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.resources[addr]
	return rs, ok
}

func (m *memStore) Put(ctx context.Context, addr string, rs *ir.ResourceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return &state.StoreIOError{Op: "write", Err: errors.New("disk full")}
	}
	m.resources[addr] = rs
	return nil
}

func (m *memStore) Remove(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return &state.StoreIOError{Op: "write", Err: errors.New("disk full")}
	}
	delete(m.resources, addr)
	return nil
}

func (m *memStore) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := make([]string, 0, len(m.resources))
	for addr := range m.resources {
		addrs = append(addrs, addr)
	}
	return addrs
}

func (m *memStore) Resources() []*ir.ResourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ir.ResourceState, 0, len(m.resources))
	for _, rs := range m.resources {
		out = append(out, rs)
	}
	return out
}

func newTestEngine(fp *fakeProvider) *Engine {
	reg := regpkg.NewRegistry()
	reg.Register("fake", fp)
	return NewEngine(reg)
}

func fakeRes(typ, name string, args map[string]any, deps ...string) *ir.Resource {
	return &ir.Resource{
		Type:      typ,
		Name:      name,
		Provider:  "fake",
		Arguments: args,
		DependsOn: deps,
	}
}

func TestApply_CreateResolvesReferences(t *testing.T) {
	fp := newFakeProvider()
	eng := newTestEngine(fp)
	store := newMemStore()
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "network", map[string]any{"name": "net0"}),
		fakeRes("test_thing", "app", map[string]any{
			"name": "app0",
			"size": "ptr://test_thing/network/id",
		}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)

	summary, err := eng.Apply(ctx, plan, store)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Zero(t, summary.Failed)

	// The dependency ran first.
	log := fp.callLog()
	assert.Less(t, indexOf(log, "create network"), indexOf(log, "create app"))

	// The app saw the network's materialized id, not the ptr literal.
	assert.Equal(t, "id-network", fp.createArgs["app"]["size"])

	appState, ok := store.Get("test_thing.app")
	require.True(t, ok)
	assert.Equal(t, "id-app", appState.ID())
	assert.Equal(t, "id-network", appState.Arguments["size"])
	assert.Contains(t, appState.Dependencies, "test_thing.network")
}

func TestApply_FailureSkipsOnlyDependents(t *testing.T) {
	fp := newFakeProvider()
	fp.failCreate["b"] = errors.New("backend exploded")
	eng := newTestEngine(fp)
	store := newMemStore()
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "a"}),
		fakeRes("test_thing", "b", map[string]any{"name": "b"}, "test_thing.a"),
		fakeRes("test_thing", "c", map[string]any{"name": "c"}, "test_thing.b"),
		fakeRes("test_thing", "d", map[string]any{"name": "d"}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)

	var events []ApplyEvent
	var evMu sync.Mutex
	summary, err := eng.ApplyWithCallback(ctx, plan, store, func(ev ApplyEvent) {
		evMu.Lock()
		events = append(events, ev)
		evMu.Unlock()
	})
	require.NoError(t, err) // partial failure is not fatal

	assert.Equal(t, 2, summary.Created) // a and d
	assert.Equal(t, 1, summary.Failed)  // b
	assert.Equal(t, 1, summary.Skipped) // c

	var provErr *ProviderError
	require.ErrorAs(t, summary.Errors["test_thing.b"], &provErr)
	assert.Equal(t, "create", provErr.Operation)

	_, ok := store.Get("test_thing.a")
	assert.True(t, ok)
	_, ok = store.Get("test_thing.b")
	assert.False(t, ok)
	_, ok = store.Get("test_thing.c")
	assert.False(t, ok)
	_, ok = store.Get("test_thing.d")
	assert.True(t, ok)

	// c never reached the provider.
	assert.NotContains(t, fp.callLog(), "create c")
}

func TestApply_Idempotent(t *testing.T) {
	fp := newFakeProvider()
	eng := newTestEngine(fp)
	store := newMemStore()
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "a", "size": 3}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	// Planning the unchanged config again yields no work.
	plan2, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	assert.Empty(t, plan2.Entries)
	assert.Equal(t, 1, plan2.Summary.NoOp)
}

func TestApply_ReplaceDeleteThenCreate(t *testing.T) {
	fp := newFakeProvider()
	eng := newTestEngine(fp)
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.a", &ir.ResourceState{
		Type: "test_thing", Name: "a", Provider: "fake",
		Arguments:  map[string]any{"name": "old"},
		Attributes: map[string]any{"id": "id-old"},
	}))

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "new"}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)
	require.Equal(t, ir.ActionReplace, plan.Entries[0].Action)
	assert.False(t, plan.Entries[0].CreateBeforeDestroy)

	summary, err := eng.Apply(ctx, plan, store)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Replaced)

	log := fp.callLog()
	assert.Less(t, indexOf(log, "delete id-old"), indexOf(log, "create a"))

	rs, ok := store.Get("test_thing.a")
	require.True(t, ok)
	assert.Equal(t, "id-a", rs.ID())
}

func TestApply_ReplaceCreateBeforeDestroy(t *testing.T) {
	fp := newFakeProvider()
	eng := newTestEngine(fp)
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "cbd_thing.a", &ir.ResourceState{
		Type: "cbd_thing", Name: "a", Provider: "fake",
		Arguments:  map[string]any{"name": "old"},
		Attributes: map[string]any{"id": "id-old"},
	}))

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("cbd_thing", "a", map[string]any{"name": "new"}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)
	require.Equal(t, ir.ActionReplace, plan.Entries[0].Action)
	assert.True(t, plan.Entries[0].CreateBeforeDestroy)

	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	log := fp.callLog()
	assert.Less(t, indexOf(log, "create a"), indexOf(log, "delete id-old"))
}

func TestApply_DeleteWaitsForDependents(t *testing.T) {
	fp := newFakeProvider()
	eng := newTestEngine(fp)
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.base", &ir.ResourceState{
		Type: "test_thing", Name: "base", Provider: "fake",
		Arguments:  map[string]any{"name": "base"},
		Attributes: map[string]any{"id": "id-base"},
	}))
	require.NoError(t, store.Put(ctx, "test_thing.top", &ir.ResourceState{
		Type: "test_thing", Name: "top", Provider: "fake",
		Arguments:    map[string]any{"name": "top"},
		Attributes:   map[string]any{"id": "id-top"},
		Dependencies: []string{"test_thing.base"},
	}))

	// Empty config deletes everything, dependents first.
	plan, err := eng.CreatePlan(ctx, &ir.Config{}, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)

	_, err = eng.Apply(ctx, plan, store)
	require.NoError(t, err)

	log := fp.callLog()
	assert.Less(t, indexOf(log, "delete id-top"), indexOf(log, "delete id-base"))
	assert.Empty(t, store.List())
}

func TestApply_ReplaceConvergesInOnePass(t *testing.T) {
	fp := newFakeProvider()
	eng := newTestEngine(fp)
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.a", &ir.ResourceState{
		Type: "test_thing", Name: "a", Provider: "fake",
		Arguments:  map[string]any{"name": "old"},
		Attributes: map[string]any{"id": "id-old"},
	}))
	require.NoError(t, store.Put(ctx, "test_thing.b", &ir.ResourceState{
		Type: "test_thing", Name: "b", Provider: "fake",
		Arguments:    map[string]any{"name": "b", "size": "id-old"},
		Attributes:   map[string]any{"id": "id-b"},
		Dependencies: []string{"test_thing.a"},
	}))

	// Replacing a moves its id; b's reference still resolves to the old
	// one in state, so b must be planned alongside a, not as a NoOp.
	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "new"}),
		fakeRes("test_thing", "b", map[string]any{
			"name": "b",
			"size": "ptr://test_thing/a/id",
		}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)

	actions := map[string]ir.Action{}
	for _, entry := range plan.Entries {
		actions[entry.Address] = entry.Action
	}
	assert.Equal(t, ir.ActionReplace, actions["test_thing.a"])
	assert.Equal(t, ir.ActionUpdate, actions["test_thing.b"])

	summary, err := eng.Apply(ctx, plan, store)
	require.NoError(t, err)
	assert.Zero(t, summary.Failed)

	// b saw the replacement's fresh id.
	rs, ok := store.Get("test_thing.b")
	require.True(t, ok)
	assert.Equal(t, "id-a", rs.Arguments["size"])

	// One apply converged; planning again yields no work.
	plan2, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	assert.Empty(t, plan2.Entries)
	assert.Equal(t, 2, plan2.Summary.NoOp)
}

func TestApply_ReplaceWaitsForDependentDelete(t *testing.T) {
	fp := newFakeProvider()
	fp.deleteDelay["id-b"] = 150 * time.Millisecond
	eng := newTestEngine(fp)
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "test_thing.a", &ir.ResourceState{
		Type: "test_thing", Name: "a", Provider: "fake",
		Arguments:  map[string]any{"name": "keep"},
		Attributes: map[string]any{"id": "id-old"},
	}))
	require.NoError(t, store.Put(ctx, "test_thing.b", &ir.ResourceState{
		Type: "test_thing", Name: "b", Provider: "fake",
		Arguments:    map[string]any{"name": "b"},
		Attributes:   map[string]any{"id": "id-b"},
		Dependencies: []string{"test_thing.a"},
	}))

	// a is replaced, its dependent b is dropped. b must be gone before
	// the replace destroys a's old instance, even with b's delete slow.
	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "changed"}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)

	summary, err := eng.Apply(ctx, plan, store)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Replaced)
	assert.Equal(t, 1, summary.Deleted)

	log := fp.callLog()
	assert.Less(t, indexOf(log, "delete id-b"), indexOf(log, "delete id-old"))
	assert.Less(t, indexOf(log, "delete id-old"), indexOf(log, "create a"))
}

func TestEntryDependencies_ReplaceWaitsOnDependentDeletes(t *testing.T) {
	entries := []*ir.PlanEntry{
		{
			Address: "test_thing.a",
			Action:  ir.ActionReplace,
			Desired: fakeRes("test_thing", "a", map[string]any{"name": "new"}),
			Prior:   &ir.ResourceState{Type: "test_thing", Name: "a"},
		},
		{
			Address: "test_thing.b",
			Action:  ir.ActionDelete,
			Prior: &ir.ResourceState{
				Type: "test_thing", Name: "b",
				Dependencies: []string{"test_thing.a"},
			},
		},
	}

	waitFor := entryDependencies(entries)
	assert.Contains(t, waitFor["test_thing.a"], "test_thing.b")
	assert.NotContains(t, waitFor["test_thing.b"], "test_thing.a")
}

func TestApply_StoreWriteFailureIsFatal(t *testing.T) {
	fp := newFakeProvider()
	eng := newTestEngine(fp)
	store := newMemStore()
	store.failWrites = true
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		fakeRes("test_thing", "a", map[string]any{"name": "a"}),
	}}

	plan, err := eng.CreatePlan(ctx, cfg, store)
	require.NoError(t, err)

	_, err = eng.Apply(ctx, plan, store)
	require.Error(t, err)

	var storeErr *state.StoreIOError
	assert.ErrorAs(t, err, &storeErr)
}

func TestApply_EmptyPlan(t *testing.T) {
	eng := newTestEngine(newFakeProvider())
	summary, err := eng.Apply(context.Background(), &ir.Plan{}, newMemStore())
	require.NoError(t, err)
	assert.Zero(t, summary.Created)
	assert.False(t, summary.PartialFailure())
}
