package windows

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupResolver(t *testing.T) (*Table, *Affinity, *Resolver) {
	t.Helper()
	table := NewTable()
	affinity := NewAffinity()
	return table, affinity, NewResolver(table, affinity)
}

func TestResolveExplicit(t *testing.T) {
	t.Run("explicit live window wins over everything", func(t *testing.T) {
		table, affinity, r := setupResolver(t)
		table.Claim("win-1", "pi-1", "peer-1", "https://a.test", "A", true, "tab")
		table.Claim("win-2", "pi-2", "peer-2", "https://b.test", "B", true, "tab")
		affinity.Bind("session-1", "win-1")

		w, err := r.Resolve("win-2", "session-1")

		require.NoError(t, err)
		assert.Equal(t, "win-2", w.WindowID)
	})

	t.Run("explicit dead window is an error, not a reroute", func(t *testing.T) {
		table, _, r := setupResolver(t)
		table.Claim("win-1", "pi-1", "peer-1", "https://a.test", "A", true, "tab")

		_, err := r.Resolve("win-9", "")

		require.Error(t, err)
		assert.Equal(t, "Window win-9 not found", err.Error())
	})
}

func TestResolveAffinity(t *testing.T) {
	t.Run("session affinity beats focus", func(t *testing.T) {
		table, affinity, r := setupResolver(t)
		table.Claim("win-1", "pi-1", "peer-1", "https://a.test", "A", true, "tab") // focused
		table.Claim("win-2", "pi-2", "peer-2", "https://b.test", "B", true, "tab")
		affinity.Bind("session-1", "win-2")

		w, err := r.Resolve("", "session-1")

		require.NoError(t, err)
		assert.Equal(t, "win-2", w.WindowID)
	})

	t.Run("dead affinity falls through to focus", func(t *testing.T) {
		table, affinity, r := setupResolver(t)
		table.Claim("win-1", "pi-1", "peer-1", "https://a.test", "A", true, "tab")
		affinity.Bind("session-1", "win-gone")

		w, err := r.Resolve("", "session-1")

		require.NoError(t, err)
		assert.Equal(t, "win-1", w.WindowID)
	})
}

func TestResolveFocused(t *testing.T) {
	table, _, r := setupResolver(t)
	table.Claim("win-1", "pi-1", "peer-1", "https://a.test", "A", true, "tab")
	table.Claim("win-2", "pi-2", "peer-2", "https://b.test", "B", true, "tab")
	table.Focus("win-2")

	w, err := r.Resolve("", "")

	require.NoError(t, err)
	assert.Equal(t, "win-2", w.WindowID)
}

func TestResolveMostRecentlySeen(t *testing.T) {
	t.Run("prefers active windows", func(t *testing.T) {
		table, _, r := setupResolver(t)
		table.Claim("win-1", "pi-1", "peer-1", "https://a.test", "A", true, "tab")
		table.Claim("win-2", "pi-2", "peer-2", "https://b.test", "B", false, "tab")
		time.Sleep(5 * time.Millisecond)
		table.TouchPeer("peer-2") // inactive but freshest

		// Force the pointer empty so the lastSeen fallbacks are exercised.
		table.mu.Lock()
		table.focused = ""
		table.mu.Unlock()

		w, err := r.Resolve("", "")

		require.NoError(t, err)
		assert.Equal(t, "win-1", w.WindowID, "active beats fresher-but-inactive")
	})

	t.Run("falls back to any window when none are active", func(t *testing.T) {
		table, _, r := setupResolver(t)
		table.Claim("win-1", "pi-1", "peer-1", "https://a.test", "A", false, "tab")
		table.Claim("win-2", "pi-2", "peer-2", "https://b.test", "B", false, "tab")
		time.Sleep(5 * time.Millisecond)
		table.TouchPeer("peer-1")

		table.mu.Lock()
		table.focused = ""
		table.mu.Unlock()

		w, err := r.Resolve("", "")

		require.NoError(t, err)
		assert.Equal(t, "win-1", w.WindowID)
	})
}

func TestResolveEmpty(t *testing.T) {
	_, _, r := setupResolver(t)

	_, err := r.Resolve("", "")

	require.Error(t, err)
	assert.Equal(t, "No windows connected", err.Error())
}

func TestAffinity(t *testing.T) {
	a := NewAffinity()

	a.Bind("session-1", "win-1")
	windowID, ok := a.Lookup("session-1")
	require.True(t, ok)
	assert.Equal(t, "win-1", windowID)

	a.Bind("session-1", "win-2")
	windowID, _ = a.Lookup("session-1")
	assert.Equal(t, "win-2", windowID, "rebind overwrites")

	a.Clear("session-1")
	_, ok = a.Lookup("session-1")
	assert.False(t, ok)

	a.Bind("", "win-1")
	_, ok = a.Lookup("")
	assert.False(t, ok, "empty token is never bound")
}
