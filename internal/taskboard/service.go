package taskboard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/events"
	"github.com/tabhub/tabhub/internal/events/bus"
)

// ErrNotFound marks lookups of task ids that are not on the board. Wrapped
// errors keep the id in the message.
var ErrNotFound = errors.New("not found")

// Service owns the board file for one project directory. Every command
// re-reads the file before acting so out-of-band edits (humans, other
// tools) are always honored; mutations rewrite the full serialization,
// last writer wins.
type Service struct {
	mu       sync.Mutex
	dir      string // <root>/<hiddenDir>
	path     string // resolved lazily under dir
	eventBus bus.EventBus
	logger   *logger.Logger

	lastWrite time.Time // for the watcher to skip echoes of our own writes
}

// NewService creates a board service rooted at <root>/<hiddenDir>.
func NewService(root, hiddenDir string, eventBus bus.EventBus, log *logger.Logger) *Service {
	if hiddenDir == "" {
		hiddenDir = ".tabhub"
	}
	return &Service{
		dir:      filepath.Join(root, hiddenDir),
		eventBus: eventBus,
		logger:   log.WithComponent("taskboard"),
	}
}

// Dir returns the directory holding the board file.
func (s *Service) Dir() string {
	return s.dir
}

// Path resolves the board file: the first existing tasks-*.md match, else a
// fresh name with an 8-hex-digit suffix. The choice sticks for the life of
// the service.
func (s *Service) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolvePath()
}

func (s *Service) resolvePath() string {
	if s.path != "" {
		return s.path
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, "tasks-*.md"))
	if err == nil && len(matches) > 0 {
		sort.Strings(matches)
		s.path = matches[0]
		return s.path
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	s.path = filepath.Join(s.dir, fmt.Sprintf("tasks-%s.md", suffix))
	return s.path
}

// load parses the current file contents. A missing or unreadable file is an
// empty board; the next mutation rewrites it.
func (s *Service) load() *Board {
	data, err := os.ReadFile(s.resolvePath())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read task board, treating as empty",
				zap.String("path", s.path),
				zap.Error(err))
		}
		return &Board{}
	}
	return Parse(string(data))
}

// write persists the full serialization via temp file + rename.
func (s *Service) write(b *Board) error {
	path := s.resolvePath()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create board directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tasks-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp board file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(b.Serialize()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write board: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close board file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename board file: %w", err)
	}
	s.lastWrite = time.Now()
	return nil
}

// wroteRecently reports whether the service itself rewrote the file within
// the given window. The watcher uses it to avoid re-announcing our own
// mutations.
func (s *Service) wroteRecently(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastWrite.IsZero() && time.Since(s.lastWrite) < window
}

// mutate runs one re-read/apply/rewrite cycle and announces the change.
func (s *Service) mutate(apply func(b *Board) (Item, error)) (Item, error) {
	s.mu.Lock()
	b := s.load()
	item, err := apply(b)
	if err != nil {
		s.mu.Unlock()
		return Item{}, err
	}
	if err := s.write(b); err != nil {
		s.mu.Unlock()
		return Item{}, err
	}
	summary := b.Summary()
	s.mu.Unlock()

	s.publishChanged(summary)
	return item, nil
}

func (s *Service) publishChanged(summary string) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.TaskBoardChanged, "taskboard", map[string]interface{}{
		"summary": summary,
	})
	if err := s.eventBus.Publish(context.Background(), events.TaskBoardChanged, event); err != nil {
		s.logger.Warn("Failed to publish board change", zap.Error(err))
	}
}

// List returns items, optionally filtered to one column. With no column it
// returns everything outside the terminal columns (done, trash).
func (s *Service) List(column string) ([]Item, error) {
	if column != "" {
		normalized := NormalizeColumn(column)
		if normalized == "" {
			return nil, fmt.Errorf("unknown column %q (expected one of %s)", column, strings.Join(columnOrder, ", "))
		}
		column = normalized
	}

	s.mu.Lock()
	b := s.load()
	s.mu.Unlock()

	items := make([]Item, 0, len(b.Items))
	for _, item := range b.Items {
		if column != "" {
			if item.Column == column {
				items = append(items, item)
			}
			continue
		}
		if !terminalColumn(item.Column) {
			items = append(items, item)
		}
	}
	return items, nil
}

// Add creates a task. Column defaults to queued.
func (s *Service) Add(title, column string) (Item, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Item{}, fmt.Errorf("task title is required")
	}
	if column == "" {
		column = ColumnQueued
	}
	normalized := NormalizeColumn(column)
	if normalized == "" {
		return Item{}, fmt.Errorf("unknown column %q (expected one of %s)", column, strings.Join(columnOrder, ", "))
	}
	return s.mutate(func(b *Board) (Item, error) {
		return *b.Add(title, normalized), nil
	})
}

// Move places a task in another column, optionally recording a reason.
func (s *Service) Move(id int, column, reason string) (Item, error) {
	normalized := NormalizeColumn(column)
	if normalized == "" {
		return Item{}, fmt.Errorf("unknown column %q (expected one of %s)", column, strings.Join(columnOrder, ", "))
	}
	return s.mutate(func(b *Board) (Item, error) {
		item, ok := b.Find(id)
		if !ok {
			return Item{}, fmt.Errorf("task %d %w", id, ErrNotFound)
		}
		item.Column = normalized
		if reason != "" {
			item.SetMeta(MetaReason, reason)
		}
		return *item, nil
	})
}

// Claim moves a task to in_progress and stamps who took it and when.
func (s *Service) Claim(id int, claimant string) (Item, error) {
	return s.mutate(func(b *Board) (Item, error) {
		item, ok := b.Find(id)
		if !ok {
			return Item{}, fmt.Errorf("task %d %w", id, ErrNotFound)
		}
		item.Column = ColumnInProgress
		if claimant != "" {
			item.SetMeta(MetaClaimed, claimant)
		}
		item.SetMeta(MetaStarted, now())
		return *item, nil
	})
}

// Block parks a task with a required reason.
func (s *Service) Block(id int, reason string) (Item, error) {
	if strings.TrimSpace(reason) == "" {
		return Item{}, fmt.Errorf("a reason is required to block a task")
	}
	return s.mutate(func(b *Board) (Item, error) {
		item, ok := b.Find(id)
		if !ok {
			return Item{}, fmt.Errorf("task %d %w", id, ErrNotFound)
		}
		item.Column = ColumnBlocked
		item.SetMeta(MetaReason, reason)
		return *item, nil
	})
}

// Done completes a task.
func (s *Service) Done(id int) (Item, error) {
	return s.mutate(func(b *Board) (Item, error) {
		item, ok := b.Find(id)
		if !ok {
			return Item{}, fmt.Errorf("task %d %w", id, ErrNotFound)
		}
		item.Column = ColumnDone
		item.SetMeta(MetaCompleted, now())
		return *item, nil
	})
}

// Trash discards a task.
func (s *Service) Trash(id int) (Item, error) {
	return s.mutate(func(b *Board) (Item, error) {
		item, ok := b.Find(id)
		if !ok {
			return Item{}, fmt.Errorf("task %d %w", id, ErrNotFound)
		}
		item.Column = ColumnTrash
		return *item, nil
	})
}

// Detail returns one task by id from a fresh load.
func (s *Service) Detail(id int) (Item, error) {
	s.mu.Lock()
	b := s.load()
	s.mu.Unlock()

	item, ok := b.Find(id)
	if !ok {
		return Item{}, fmt.Errorf("task %d %w", id, ErrNotFound)
	}
	return *item, nil
}

// Board returns the structured per-column view.
func (s *Service) Board() []ColumnView {
	s.mu.Lock()
	b := s.load()
	s.mu.Unlock()
	return b.View()
}

// Summary returns the status-line fragment for the current board.
func (s *Service) Summary() string {
	s.mu.Lock()
	b := s.load()
	s.mu.Unlock()
	return b.Summary()
}

// now renders timestamps the way humans expect to read them in the file.
func now() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}
