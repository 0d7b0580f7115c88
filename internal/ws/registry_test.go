package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	c := &Conn{}

	displaced := r.Register("user-1", c)
	assert.Nil(t, displaced)
	got, ok := r.Lookup("user-1")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryNewestConnectionWins(t *testing.T) {
	r := NewRegistry()
	first := &Conn{}
	second := &Conn{}

	r.Register("user-1", first)
	displaced := r.Register("user-1", second)
	assert.Same(t, first, displaced)

	got, ok := r.Lookup("user-1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryStaleUnregisterKeepsSuccessor(t *testing.T) {
	r := NewRegistry()
	first := &Conn{}
	second := &Conn{}
	r.Register("user-1", first)
	r.Register("user-1", second)

	// The displaced connection's deferred cleanup fires after the
	// successor registered; it must not evict it.
	r.Unregister("user-1", first)
	got, ok := r.Lookup("user-1")
	require.True(t, ok)
	assert.Same(t, second, got)

	r.Unregister("user-1", second)
	_, ok = r.Lookup("user-1")
	assert.False(t, ok)
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := &Conn{}
	r.Register("user-1", c)
	r.Unregister("user-1", c)
	r.Unregister("user-1", c)
	assert.Equal(t, 0, r.Len())
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Register("user-1", &Conn{})

	snap := r.Snapshot()
	delete(snap, "user-1")
	_, ok := r.Lookup("user-1")
	assert.True(t, ok)
}
