package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LoadProvider(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.LoadProvider("null"))
	p, err := reg.Get("null")
	require.NoError(t, err)
	assert.NotNil(t, p)

	// Loading twice is a no-op, not an error.
	require.NoError(t, reg.LoadProvider("null"))

	err = reg.LoadProvider("vsphere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestRegistry_GetUnloaded(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("docker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not loaded")
}
