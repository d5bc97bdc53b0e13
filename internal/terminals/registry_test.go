package terminals

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/hub"
	"github.com/tabhub/tabhub/pkg/frame"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

// fakeBroadcaster captures terminal-bound frames and simulates socket
// presence per token.
type fakeBroadcaster struct {
	mu        sync.Mutex
	connected map[string]bool
	direct    map[string][]frame.Frame
	broadcast []frame.Frame
}

func newFakeBroadcaster(tokens ...string) *fakeBroadcaster {
	connected := make(map[string]bool)
	for _, tok := range tokens {
		connected[tok] = true
	}
	return &fakeBroadcaster{connected: connected, direct: make(map[string][]frame.Frame)}
}

func (f *fakeBroadcaster) SendToTerminal(token string, data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[token] {
		return false
	}
	var fr frame.Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return false
	}
	f.direct[token] = append(f.direct[token], fr)
	return true
}

func (f *fakeBroadcaster) BroadcastToTerminals(data []byte) {
	var fr frame.Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return
	}
	f.mu.Lock()
	f.broadcast = append(f.broadcast, fr)
	f.mu.Unlock()
}

func TestRegister(t *testing.T) {
	r := NewRegistry(nil, testLogger(t))

	t.Run("empty token mints one", func(t *testing.T) {
		shell, token := r.Register("", "")
		assert.NotEmpty(t, token)
		assert.Equal(t, "amber", shell.Name)
	})

	t.Run("wanted name honored", func(t *testing.T) {
		shell, _ := r.Register("tok-2", "hopper")
		assert.Equal(t, "hopper", shell.Name)
	})

	t.Run("taken name falls back to the pool", func(t *testing.T) {
		shell, _ := r.Register("tok-3", "hopper")
		assert.NotEqual(t, "hopper", shell.Name)
		assert.NotEmpty(t, shell.Name)
	})

	t.Run("re-register is idempotent", func(t *testing.T) {
		first, _ := r.Register("tok-4", "")
		second, _ := r.Register("tok-4", "")
		assert.Equal(t, first.Name, second.Name)
		assert.Equal(t, first.RegisteredAt, second.RegisteredAt)
	})

	t.Run("pool overflows to numbered names", func(t *testing.T) {
		r := NewRegistry(nil, testLogger(t))
		seen := make(map[string]bool)
		for i := 0; i < len(shellNames)+3; i++ {
			shell, _ := r.Register("", "")
			require.False(t, seen[shell.Name], "name %q allocated twice", shell.Name)
			seen[shell.Name] = true
		}
		assert.True(t, seen["shell-1"])
		assert.True(t, seen["shell-3"])
	})
}

func TestRename(t *testing.T) {
	r := NewRegistry(nil, testLogger(t))
	r.Register("tok-a", "amber")
	r.Register("tok-b", "basalt")

	t.Run("ok", func(t *testing.T) {
		shell, err := r.Rename("tok-a", "ada")
		require.NoError(t, err)
		assert.Equal(t, "ada", shell.Name)
		assert.Equal(t, "ada", r.NameFor("tok-a"))
	})

	t.Run("freed name is reusable", func(t *testing.T) {
		shell, _ := r.Register("tok-c", "amber")
		assert.Equal(t, "amber", shell.Name)
	})

	t.Run("taken name rejected", func(t *testing.T) {
		_, err := r.Rename("tok-a", "basalt")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "taken")
	})

	t.Run("same name is a no-op", func(t *testing.T) {
		shell, err := r.Rename("tok-a", "ada")
		require.NoError(t, err)
		assert.Equal(t, "ada", shell.Name)
	})

	t.Run("unregistered token rejected", func(t *testing.T) {
		_, err := r.Rename("tok-ghost", "x")
		require.Error(t, err)
	})

	t.Run("blank name rejected", func(t *testing.T) {
		_, err := r.Rename("tok-a", "  ")
		require.Error(t, err)
	})
}

func TestTokenFor(t *testing.T) {
	r := NewRegistry(nil, testLogger(t))
	r.Register("tok-a", "amber")

	token, ok := r.TokenFor("amber")
	require.True(t, ok)
	assert.Equal(t, "tok-a", token)

	token, ok = r.TokenFor("@amber")
	require.True(t, ok)
	assert.Equal(t, "tok-a", token)

	_, ok = r.TokenFor("@nobody")
	assert.False(t, ok)
}

func TestListWithProbe(t *testing.T) {
	r := NewRegistry(nil, testLogger(t))
	r.Register("tok-a", "amber")
	r.Register("tok-b", "basalt")
	r.SetConnectedProbe(func(token string) bool { return token == "tok-a" })

	shells := r.List()
	require.Len(t, shells, 2)
	assert.Equal(t, "amber", shells[0].Name)
	assert.True(t, shells[0].Connected)
	assert.False(t, shells[1].Connected)
}

func TestDM(t *testing.T) {
	b := newFakeBroadcaster("tok-b")
	r := NewRegistry(b, testLogger(t))
	r.Register("tok-a", "amber")
	r.Register("tok-b", "basalt")

	t.Run("delivered with sender name", func(t *testing.T) {
		require.NoError(t, r.DM("tok-a", "@basalt", "lunch?"))

		frames := b.direct["tok-b"]
		require.Len(t, frames, 1)
		assert.Equal(t, frame.ActionNotice, frames[0].Action)

		var p frame.NoticePayload
		require.NoError(t, frames[0].ParsePayload(&p))
		assert.Equal(t, frame.NoticeKindDM, p.Kind)
		assert.Equal(t, "amber", p.From)
		assert.Equal(t, "lunch?", p.Text)
	})

	t.Run("unknown shell", func(t *testing.T) {
		err := r.DM("tok-a", "nobody", "hi")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("registered but not connected", func(t *testing.T) {
		err := r.DM("tok-b", "amber", "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not connected")
		assert.False(t, errors.Is(err, ErrNotFound))
	})
}

func TestHandlePeerDisconnect(t *testing.T) {
	b := newFakeBroadcaster()
	r := NewRegistry(b, testLogger(t))
	r.Register("tok-a", "amber")

	t.Run("non-terminal roles ignored", func(t *testing.T) {
		r.HandlePeerDisconnect("peer-1", hub.RolePage, "tok-a")
		assert.Equal(t, 1, r.Count())
	})

	t.Run("terminal departure unregisters and broadcasts", func(t *testing.T) {
		r.HandlePeerDisconnect("peer-2", hub.RoleTerminal, "tok-a")
		assert.Zero(t, r.Count())
		assert.Empty(t, r.NameFor("tok-a"))

		require.Len(t, b.broadcast, 1)
		var p frame.NoticePayload
		require.NoError(t, b.broadcast[0].ParsePayload(&p))
		assert.Equal(t, frame.NoticeKindShell, p.Kind)
		assert.Equal(t, "amber left", p.Text)
	})

	t.Run("name returns to the pool", func(t *testing.T) {
		shell, _ := r.Register("tok-x", "")
		assert.Equal(t, "amber", shell.Name)
	})

	t.Run("unknown token is a no-op", func(t *testing.T) {
		r.HandlePeerDisconnect("peer-3", hub.RoleTerminal, "tok-ghost")
		assert.Len(t, b.broadcast, 1)
	})
}
