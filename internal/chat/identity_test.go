package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateTrimsDisplayName(t *testing.T) {
	registry := NewRegistry()

	identity, err := registry.Authenticate("conn-1", "  alice  ")
	require.NoError(t, err)

	assert.Equal(t, "conn-1", identity.ID)
	assert.Equal(t, "alice", identity.Name)
}

func TestAuthenticateRejectsBlankName(t *testing.T) {
	registry := NewRegistry()

	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := registry.Authenticate("conn-1", name)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Zero(t, registry.Count())
}

func TestAuthenticateOverwritesExistingBinding(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Authenticate("conn-1", "alice")
	require.NoError(t, err)
	_, err = registry.Authenticate("conn-1", "alicia")
	require.NoError(t, err)

	identity, ok := registry.Lookup("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alicia", identity.Name)
	assert.Equal(t, 1, registry.Count())
}

func TestDuplicateNamesAcrossConnectionsAllowed(t *testing.T) {
	registry := NewRegistry()

	first, err := registry.Authenticate("conn-1", "alice")
	require.NoError(t, err)
	second, err := registry.Authenticate("conn-2", "alice")
	require.NoError(t, err)

	assert.Equal(t, first.Name, second.Name)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, registry.Count())
}

func TestReleaseIsIdempotent(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Authenticate("conn-1", "alice")
	require.NoError(t, err)

	registry.Release("conn-1")
	registry.Release("conn-1")
	registry.Release("never-seen")

	_, ok := registry.Lookup("conn-1")
	assert.False(t, ok)
	assert.Zero(t, registry.Count())
}
