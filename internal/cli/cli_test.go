package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reef-io/reef/internal/ir"
)

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, `"hello"`, formatValue("hello"))
	assert.Equal(t, "42", formatValue(42))
	assert.Equal(t, "map[a:1]", formatValue(map[string]any{"a": 1}))
}

func TestApplyVerb(t *testing.T) {
	assert.Equal(t, "creating", applyVerb(ir.ActionCreate))
	assert.Equal(t, "updating", applyVerb(ir.ActionUpdate))
	assert.Equal(t, "replacing", applyVerb(ir.ActionReplace))
	assert.Equal(t, "deleting", applyVerb(ir.ActionDelete))
	assert.Equal(t, "applying", applyVerb(ir.ActionNoOp))
}

func TestAttributesDrifted(t *testing.T) {
	// Stored attributes come back from JSON as float64; a provider
	// returning the same value as an int is not drift.
	stored := map[string]any{"id": "i-1", "port": float64(8080)}
	assert.False(t, attributesDrifted(map[string]any{"id": "i-1", "port": 8080}, stored))

	assert.True(t, attributesDrifted(map[string]any{"id": "i-1", "port": 9090}, stored))
	assert.True(t, attributesDrifted(map[string]any{"id": "i-2", "port": 8080}, stored))
}

func TestResolveProject(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "stack.pkl")
	require.NoError(t, os.WriteFile(entry, []byte("// empty\n"), 0644))

	// No args: current directory and main.pkl.
	wd, entryPoint, err := resolveProject(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, wd)
	assert.Equal(t, "main.pkl", entryPoint)

	// Directory arg: directory becomes the project, entry stays main.pkl.
	wd, entryPoint, err = resolveProject([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, wd)
	assert.Equal(t, "main.pkl", entryPoint)

	// File arg: its directory becomes the project, the file the entry.
	wd, entryPoint, err = resolveProject([]string{entry})
	require.NoError(t, err)
	assert.Equal(t, dir, wd)
	assert.Equal(t, "stack.pkl", entryPoint)

	_, _, err = resolveProject([]string{filepath.Join(dir, "missing.pkl")})
	assert.Error(t, err)
}

func TestRootCommandWiring(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"init", "validate", "plan", "apply", "destroy", "refresh", "state", "output", "show", "graph", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
