package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reef-io/reef/internal/ir"
)

func tempBackend(t *testing.T) *LocalBackend {
	t.Helper()
	return NewLocalBackend(filepath.Join(t.TempDir(), ".reef", "state.json"))
}

func TestOpen_FreshState(t *testing.T) {
	backend := tempBackend(t)
	store, err := Open(context.Background(), backend)
	require.NoError(t, err)

	doc := store.Document()
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, 0, doc.Serial)
	assert.NotEmpty(t, doc.Lineage, "fresh state gets a generated lineage")
	assert.Empty(t, store.List())
}

func TestStore_PutGetRemove(t *testing.T) {
	ctx := context.Background()
	backend := tempBackend(t)
	store, err := Open(ctx, backend)
	require.NoError(t, err)

	rs := &ir.ResourceState{
		Type: "null_resource", Name: "a", Provider: "null",
		Arguments:  map[string]any{"triggers": map[string]any{"k": "v"}},
		Attributes: map[string]any{"id": "null-a"},
	}
	require.NoError(t, store.Put(ctx, "null_resource.a", rs))

	got, ok := store.Get("null_resource.a")
	require.True(t, ok)
	assert.Equal(t, "null-a", got.ID())

	_, ok = store.Get("null_resource.missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"null_resource.a"}, store.List())

	require.NoError(t, store.Remove(ctx, "null_resource.a"))
	_, ok = store.Get("null_resource.a")
	assert.False(t, ok)

	// Removing an absent address is a no-op.
	require.NoError(t, store.Remove(ctx, "null_resource.a"))
}

func TestStore_SerialBumpsPerWrite(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, tempBackend(t))
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "null_resource.a", &ir.ResourceState{Type: "null_resource", Name: "a"}))
	assert.Equal(t, 1, store.Document().Serial)

	require.NoError(t, store.Put(ctx, "null_resource.b", &ir.ResourceState{Type: "null_resource", Name: "b"}))
	assert.Equal(t, 2, store.Document().Serial)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	backend := tempBackend(t)

	store, err := Open(ctx, backend)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "null_resource.a", &ir.ResourceState{
		Type: "null_resource", Name: "a", Provider: "null",
		Attributes: map[string]any{"id": "null-a"},
	}))
	require.NoError(t, store.SetOutputs(ctx, map[string]any{"endpoint": "null-a"}))
	lineage := store.Document().Lineage

	// Every mutation is durable; a second open sees the same document.
	reopened, err := Open(ctx, backend)
	require.NoError(t, err)

	doc := reopened.Document()
	assert.Equal(t, lineage, doc.Lineage)
	assert.Equal(t, 2, doc.Serial)
	assert.Equal(t, "null-a", doc.Outputs["endpoint"])

	got, ok := reopened.Get("null_resource.a")
	require.True(t, ok)
	assert.Equal(t, "null-a", got.ID())
}

func TestLocalBackend_LockConflict(t *testing.T) {
	backend := tempBackend(t)

	require.NoError(t, backend.Lock())

	other := NewLocalBackend(backend.path)
	err := other.Lock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another process")

	require.NoError(t, backend.Unlock())
	require.NoError(t, other.Lock())
	require.NoError(t, other.Unlock())
}

func TestLocalBackend_StaleLockTakeover(t *testing.T) {
	backend := tempBackend(t)
	require.NoError(t, backend.Lock())

	// Age the lock file past the stale threshold.
	lockPath := backend.lockPath()
	old := time.Now().Add(-2 * staleLockAge)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	other := NewLocalBackend(backend.path)
	assert.NoError(t, other.Lock())
	require.NoError(t, other.Unlock())
}

func TestNewBackend_Selection(t *testing.T) {
	backend, err := NewBackend(&BackendConfig{Type: "local", Options: map[string]string{"path": "/tmp/x.json"}})
	require.NoError(t, err)
	assert.IsType(t, &LocalBackend{}, backend)

	_, err = NewBackend(&BackendConfig{Type: "local"})
	assert.Error(t, err, "local backend requires a path")

	_, err = NewBackend(&BackendConfig{Type: "gcs"})
	assert.Error(t, err)

	_, err = NewBackend(nil)
	assert.Error(t, err)
}
