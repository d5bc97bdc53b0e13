// Package taskboard keeps the shared markdown Kanban board: a single
// human-editable file that every peer reads and rewrites. The file is the
// source of truth; in-memory boards are throwaway parses.
package taskboard

import (
	"fmt"
	"sort"
	"strings"
)

// Columns. Workflow columns serialize first so ids count through live work
// before the parking columns.
const (
	ColumnQueued     = "queued"
	ColumnInProgress = "in_progress"
	ColumnBlocked    = "blocked"
	ColumnReview     = "review"
	ColumnDone       = "done"
	ColumnIcebox     = "icebox"
	ColumnTrash      = "trash"
)

// columnOrder is the canonical serialization order.
var columnOrder = []string{
	ColumnQueued,
	ColumnInProgress,
	ColumnBlocked,
	ColumnReview,
	ColumnDone,
	ColumnIcebox,
	ColumnTrash,
}

// Reserved metadata keys.
const (
	MetaClaimed   = "claimed"
	MetaReason    = "reason"
	MetaStarted   = "started"
	MetaCompleted = "completed"
)

// terminal columns are excluded from default listings.
func terminalColumn(c string) bool {
	return c == ColumnDone || c == ColumnTrash
}

// ValidColumn reports whether name is a known column.
func ValidColumn(name string) bool {
	for _, c := range columnOrder {
		if c == name {
			return true
		}
	}
	return false
}

// NormalizeColumn folds human variants ("In Progress", "in-progress") onto
// the canonical column name. Returns "" for unknown names.
func NormalizeColumn(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	n = strings.ReplaceAll(n, "-", "_")
	if ValidColumn(n) {
		return n
	}
	return ""
}

// Item is one task. Ids are dense small integers assigned at parse time and
// stable only within a single board load.
type Item struct {
	ID       int               `json:"id"`
	Title    string            `json:"title"`
	Column   string            `json:"column"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Board is one parsed load of the file.
type Board struct {
	Items []Item
}

// Parse reads the markdown layout: column headings, title lines, and
// `- key: value` metadata bullets bound to the preceding task. Unknown
// headings are skipped along with everything under them; junk the parser
// does not recognize is dropped, so an unreadable file degrades to an empty
// board rather than an error.
func Parse(content string) *Board {
	b := &Board{}
	column := ""
	lastItem := -1

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			column = NormalizeColumn(heading)
			lastItem = -1
			continue
		}

		if column == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "- ") {
			if lastItem < 0 {
				continue
			}
			key, value, ok := strings.Cut(strings.TrimPrefix(trimmed, "- "), ":")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			item := &b.Items[lastItem]
			if item.Metadata == nil {
				item.Metadata = make(map[string]string)
			}
			item.Metadata[key] = strings.TrimSpace(value)
			continue
		}

		b.Items = append(b.Items, Item{
			ID:     len(b.Items) + 1,
			Title:  trimmed,
			Column: column,
		})
		lastItem = len(b.Items) - 1
	}
	return b
}

// Serialize renders the board in canonical column order. Empty columns are
// omitted; metadata keys are sorted so the output is deterministic.
func (b *Board) Serialize() string {
	var sb strings.Builder
	for _, column := range columnOrder {
		items := b.inColumn(column)
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "# %s\n\n", column)
		for _, item := range items {
			sb.WriteString(item.Title)
			sb.WriteByte('\n')
			keys := make([]string, 0, len(item.Metadata))
			for k := range item.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&sb, "- %s: %s\n", k, item.Metadata[k])
			}
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// inColumn returns the items of one column in board order.
func (b *Board) inColumn(column string) []Item {
	var out []Item
	for _, item := range b.Items {
		if item.Column == column {
			out = append(out, item)
		}
	}
	return out
}

// Find returns a pointer to the item with the given id.
func (b *Board) Find(id int) (*Item, bool) {
	for i := range b.Items {
		if b.Items[i].ID == id {
			return &b.Items[i], true
		}
	}
	return nil, false
}

// Add appends a new item and assigns the next dense id.
func (b *Board) Add(title, column string) *Item {
	b.Items = append(b.Items, Item{
		ID:     len(b.Items) + 1,
		Title:  title,
		Column: column,
	})
	return &b.Items[len(b.Items)-1]
}

// SetMeta sets one metadata value on an item.
func (it *Item) SetMeta(key, value string) {
	if it.Metadata == nil {
		it.Metadata = make(map[string]string)
	}
	it.Metadata[key] = value
}

// Summary renders the status-line fragment: non-zero counts of in_progress
// ("active"), blocked, review, and queued, in that order. A board with no
// live work reads "empty".
func (b *Board) Summary() string {
	counts := make(map[string]int)
	for _, item := range b.Items {
		counts[item.Column]++
	}

	var parts []string
	if n := counts[ColumnInProgress]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d active", n))
	}
	if n := counts[ColumnBlocked]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d blocked", n))
	}
	if n := counts[ColumnReview]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d review", n))
	}
	if n := counts[ColumnQueued]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d queued", n))
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, ", ")
}

// ColumnView is one column of the structured board rendering.
type ColumnView struct {
	Name  string `json:"name"`
	Tasks []Item `json:"tasks"`
}

// View renders every canonical column, empty ones included, for visual
// boards.
func (b *Board) View() []ColumnView {
	out := make([]ColumnView, 0, len(columnOrder))
	for _, column := range columnOrder {
		items := b.inColumn(column)
		if items == nil {
			items = []Item{}
		}
		out = append(out, ColumnView{Name: column, Tasks: items})
	}
	return out
}
