// Package transcripts persists agent session transcripts as versioned JSON
// files under the project's hidden directory. Files are human-readable and
// safe to edit or delete out of band; every operation tolerates missing or
// malformed files.
package transcripts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
)

// Entry kinds, in the order events are observed.
const (
	EntryUser          = "user"
	EntryAssistantText = "assistant-text"
	EntryToolCall      = "tool-call"
	EntryToolResult    = "tool-result"
	EntrySystem        = "system"
)

// Entry is one transcript line.
type Entry struct {
	Kind      string    `json:"kind"`
	Text      string    `json:"text,omitempty"`
	ToolName  string    `json:"toolName,omitempty"`
	ToolID    string    `json:"toolId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the on-disk file format.
type Envelope struct {
	Version    int       `json:"version"`
	ShellID    string    `json:"shellId"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	CWD        string    `json:"cwd"`
	Transcript []Entry   `json:"transcript"`
}

// Meta is the listing view: everything but the transcript body.
type Meta struct {
	Filename  string    `json:"filename"`
	ShellID   string    `json:"shellId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	CWD       string    `json:"cwd"`
	Entries   int       `json:"entries"`
}

// Store reads and writes transcript files under
// <cwd>/<hiddenDir>/transcripts/.
type Store struct {
	hiddenDir string
	logger    *logger.Logger
}

// NewStore creates a store rooted at the given hidden directory name
// (normally ".tabhub").
func NewStore(hiddenDir string, log *logger.Logger) *Store {
	if hiddenDir == "" {
		hiddenDir = ".tabhub"
	}
	return &Store{
		hiddenDir: hiddenDir,
		logger:    log.WithComponent("transcripts"),
	}
}

// Dir returns the transcript directory for a working directory.
func (s *Store) Dir(cwd string) string {
	return filepath.Join(cwd, s.hiddenDir, "transcripts")
}

// Filename renders the canonical file name: ISO timestamp truncated to
// seconds with colons and dots dashed, the sanitized session name, and the
// session id.
func Filename(createdAt time.Time, name, shellID string) string {
	ts := createdAt.UTC().Truncate(time.Second).Format(time.RFC3339)
	ts = strings.ReplaceAll(ts, ":", "-")
	ts = strings.ReplaceAll(ts, ".", "-")
	return fmt.Sprintf("%s-%s-%s.json", ts, sanitizeName(name), shellID)
}

// sanitizeName keeps file names portable: alphanumerics, dashes, and
// underscores survive; everything else folds to a dash.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "session"
	}
	return out
}

// Save writes or overwrites the session's file. Empty transcripts and
// unknown working directories are skipped, not errors: there is nothing
// worth persisting yet.
func (s *Store) Save(env *Envelope) (string, error) {
	if env == nil || len(env.Transcript) == 0 || env.CWD == "" {
		return "", nil
	}

	dir := s.Dir(env.CWD)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create transcript directory: %w", err)
	}

	env.Version = 1
	env.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript: %w", err)
	}

	filename := Filename(env.CreatedAt, env.Name, env.ShellID)

	// Write to a temp file, then rename, so readers never see a torn file.
	tmp, err := os.CreateTemp(dir, ".transcript-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to close transcript: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, filename)); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to rename transcript: %w", err)
	}

	return filename, nil
}

// List scans the transcript directory and returns metadata ordered by
// UpdatedAt descending. Malformed files are skipped with a log line.
func (s *Store) List(cwd string) ([]Meta, error) {
	dir := s.Dir(cwd)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Meta{}, nil
		}
		return nil, fmt.Errorf("failed to read transcript directory: %w", err)
	}

	metas := make([]Meta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		env, err := s.read(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.logger.Warn("Skipping malformed transcript",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		metas = append(metas, Meta{
			Filename:  entry.Name(),
			ShellID:   env.ShellID,
			Name:      env.Name,
			CreatedAt: env.CreatedAt,
			UpdatedAt: env.UpdatedAt,
			CWD:       env.CWD,
			Entries:   len(env.Transcript),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Load returns the full envelope, or nil when the file does not exist.
// File names containing path separators are rejected.
func (s *Store) Load(cwd, filename string) (*Envelope, error) {
	if strings.ContainsAny(filename, "/\\") || strings.Contains(filename, "..") {
		return nil, fmt.Errorf("invalid transcript filename")
	}

	env, err := s.read(filepath.Join(s.Dir(cwd), filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return env, nil
}

func (s *Store) read(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}
	if env.Version != 1 {
		return nil, fmt.Errorf("unsupported transcript version %d", env.Version)
	}
	return &env, nil
}

// BuildRestoreContext condenses a saved transcript into the one-shot
// context block a restored session receives with its first prompt. Restored
// sessions start with an empty transcript; this text is all they inherit.
func BuildRestoreContext(env *Envelope, maxEntries int) string {
	if env == nil || len(env.Transcript) == 0 {
		return ""
	}
	if maxEntries <= 0 {
		maxEntries = 20
	}

	entries := env.Transcript
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Restored from a previous session %q (last active %s). Recent history:\n",
		env.Name, env.UpdatedAt.Format(time.RFC3339))
	for _, e := range entries {
		line := e.Text
		if e.Kind == EntryToolCall {
			line = e.ToolName + " " + e.Text
		}
		if len(line) > 200 {
			line = line[:200] + "…"
		}
		fmt.Fprintf(&b, "[%s] %s\n", e.Kind, line)
	}
	return b.String()
}
