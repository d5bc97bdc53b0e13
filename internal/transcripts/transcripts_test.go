package transcripts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabhub/tabhub/internal/common/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return NewStore(".tabhub", log)
}

func sampleEnvelope(cwd string) *Envelope {
	created := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	return &Envelope{
		ShellID:   "sess-1",
		Name:      "fern",
		CreatedAt: created,
		CWD:       cwd,
		Transcript: []Entry{
			{Kind: EntryUser, Text: "open the dashboard", Timestamp: created},
			{Kind: EntryAssistantText, Text: "Opening it now.", Timestamp: created.Add(time.Second)},
			{Kind: EntryToolCall, ToolName: "browser_execute", ToolID: "tool-1", Text: `{"code":"location.href"}`, Timestamp: created.Add(2 * time.Second)},
			{Kind: EntryToolResult, ToolID: "tool-1", Text: "https://localhost/dash", Timestamp: created.Add(3 * time.Second)},
		},
	}
}

func TestFilename(t *testing.T) {
	created := time.Date(2025, 3, 14, 9, 26, 53, 400_000_000, time.UTC)

	name := Filename(created, "fern", "sess-1")
	assert.Equal(t, "2025-03-14T09-26-53Z-fern-sess-1.json", name)

	t.Run("odd characters fold to dashes", func(t *testing.T) {
		name := Filename(created, "my session!", "sess-2")
		assert.Equal(t, "2025-03-14T09-26-53Z-my-session-sess-2.json", name)
	})

	t.Run("empty name falls back", func(t *testing.T) {
		name := Filename(created, "///", "sess-3")
		assert.Contains(t, name, "-session-sess-3.json")
	})
}

func TestSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	cwd := t.TempDir()

	env := sampleEnvelope(cwd)
	filename, err := store.Save(env)
	require.NoError(t, err)
	require.NotEmpty(t, filename)

	t.Run("file is valid json on disk", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(cwd, ".tabhub", "transcripts", filename))
		require.NoError(t, err)
		var raw map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Equal(t, float64(1), raw["version"])
		assert.Equal(t, "fern", raw["name"])
	})

	t.Run("load round-trips the envelope", func(t *testing.T) {
		loaded, err := store.Load(cwd, filename)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, "sess-1", loaded.ShellID)
		assert.Len(t, loaded.Transcript, 4)
		assert.Equal(t, EntryToolCall, loaded.Transcript[2].Kind)
		assert.Equal(t, "browser_execute", loaded.Transcript[2].ToolName)
	})

	t.Run("second save overwrites the same file", func(t *testing.T) {
		env.Transcript = append(env.Transcript, Entry{Kind: EntrySystem, Text: "exited", Timestamp: time.Now()})
		again, err := store.Save(env)
		require.NoError(t, err)
		assert.Equal(t, filename, again)

		loaded, err := store.Load(cwd, filename)
		require.NoError(t, err)
		assert.Len(t, loaded.Transcript, 5)
	})
}

func TestSaveSkips(t *testing.T) {
	store := newTestStore(t)

	t.Run("empty transcript", func(t *testing.T) {
		cwd := t.TempDir()
		filename, err := store.Save(&Envelope{ShellID: "s", Name: "n", CWD: cwd})
		require.NoError(t, err)
		assert.Empty(t, filename)
		_, err = os.Stat(filepath.Join(cwd, ".tabhub"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("unknown cwd", func(t *testing.T) {
		env := sampleEnvelope("")
		filename, err := store.Save(env)
		require.NoError(t, err)
		assert.Empty(t, filename)
	})
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	cwd := t.TempDir()

	older := sampleEnvelope(cwd)
	older.ShellID = "sess-old"
	older.Name = "older"
	_, err := store.Save(older)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	newer := sampleEnvelope(cwd)
	newer.ShellID = "sess-new"
	newer.Name = "newer"
	newer.CreatedAt = newer.CreatedAt.Add(time.Hour)
	_, err = store.Save(newer)
	require.NoError(t, err)

	// A malformed file and a stray non-json file must both be ignored.
	dir := store.Dir(cwd)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))

	metas, err := store.List(cwd)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "newer", metas[0].Name)
	assert.Equal(t, "older", metas[1].Name)
	assert.Equal(t, 4, metas[0].Entries)
	assert.NotEmpty(t, metas[0].Filename)
}

func TestListMissingDirectory(t *testing.T) {
	store := newTestStore(t)

	metas, err := store.List(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestLoadMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	env, err := store.Load(t.TempDir(), "2025-01-01T00-00-00Z-gone-s.json")
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestLoadRejectsPathTraversal(t *testing.T) {
	store := newTestStore(t)
	cwd := t.TempDir()

	for _, bad := range []string{"../secrets.json", "a/b.json", "a\\b.json", "..\\x.json"} {
		_, err := store.Load(cwd, bad)
		assert.Error(t, err, bad)
	}
}

func TestBuildRestoreContext(t *testing.T) {
	env := sampleEnvelope("/tmp/p")
	env.UpdatedAt = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	ctx := BuildRestoreContext(env, 20)
	assert.Contains(t, ctx, `"fern"`)
	assert.Contains(t, ctx, "[user] open the dashboard")
	assert.Contains(t, ctx, "[tool-call] browser_execute")

	t.Run("caps entries from the tail", func(t *testing.T) {
		ctx := BuildRestoreContext(env, 2)
		assert.NotContains(t, ctx, "open the dashboard")
		assert.Contains(t, ctx, "[tool-result]")
	})

	t.Run("truncates long lines", func(t *testing.T) {
		long := &Envelope{
			Name:       "big",
			UpdatedAt:  time.Now(),
			Transcript: []Entry{{Kind: EntryUser, Text: strings.Repeat("x", 500)}},
		}
		ctx := BuildRestoreContext(long, 5)
		assert.Contains(t, ctx, "…")
		assert.Less(t, len(ctx), 400)
	})

	t.Run("empty transcript yields empty context", func(t *testing.T) {
		assert.Empty(t, BuildRestoreContext(&Envelope{Name: "n"}, 5))
		assert.Empty(t, BuildRestoreContext(nil, 5))
	})
}
