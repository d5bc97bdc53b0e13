// Package windows tracks live browser windows: which peer owns which
// window, the focus pointer, session affinity, and target resolution for
// routed calls.
package windows

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Window is a snapshot of one tracked browser window. Windows reference
// their owning peer by ID only; the hub owns the connection.
type Window struct {
	WindowID       string
	PageInstanceID string
	PeerID         string
	URL            string
	Title          string
	Active         bool
	WindowType     string
	Label          string
	ConnectedAt    time.Time
	LastSeen       time.Time

	seq int
}

// ClaimResult describes what a claim changed.
type ClaimResult struct {
	Window Window

	// Evicted is the peer that lost ownership, empty when none.
	Evicted string

	// Reloaded is true when the same window re-announced with a new page
	// instance, which is how a page reload looks from the broker.
	Reloaded bool

	// New is true on the first claim of this window id.
	New bool

	// FocusChanged is true when the claim moved the focus pointer.
	FocusChanged bool
}

// ReleaseResult describes what releasing a peer's window changed.
type ReleaseResult struct {
	Released     bool
	Window       Window
	FocusedID    string
	FocusChanged bool
}

// Table is the window registry. One owner per window id; claims transfer
// ownership and evict the previous owner.
type Table struct {
	mu      sync.RWMutex
	windows map[string]*Window
	byPeer  map[string]string
	focused string
	seq     int
}

// NewTable creates an empty window table.
func NewTable() *Table {
	return &Table{
		windows: make(map[string]*Window),
		byPeer:  make(map[string]string),
	}
}

// Claim registers or re-registers a window for a peer. The first window to
// connect becomes focused. Claiming a window owned by another peer evicts
// that peer; the caller closes the evicted connection outside the table.
func (t *Table) Claim(windowID, pageInstanceID, peerID, url, title string, active bool, windowType string) ClaimResult {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var res ClaimResult

	w, ok := t.windows[windowID]
	if !ok {
		t.seq++
		w = &Window{
			WindowID:       windowID,
			PageInstanceID: pageInstanceID,
			PeerID:         peerID,
			URL:            url,
			Title:          title,
			Active:         active,
			WindowType:     windowType,
			Label:          fmt.Sprintf("w%d", t.seq),
			ConnectedAt:    now,
			LastSeen:       now,
			seq:            t.seq,
		}
		t.windows[windowID] = w
		t.byPeer[peerID] = windowID
		if t.focused == "" {
			t.focused = windowID
			res.FocusChanged = true
		}
		res.New = true
		res.Window = *w
		return res
	}

	if w.PeerID != peerID {
		// Ownership transfer: the previous peer loses the window. Forget
		// its reverse mapping so its eventual disconnect does not release
		// the new owner's claim.
		res.Evicted = w.PeerID
		delete(t.byPeer, w.PeerID)
		t.byPeer[peerID] = windowID
	}

	res.Reloaded = pageInstanceID != "" && pageInstanceID != w.PageInstanceID

	w.PeerID = peerID
	if pageInstanceID != "" {
		w.PageInstanceID = pageInstanceID
	}
	w.URL = url
	w.Title = title
	w.Active = active
	if windowType != "" {
		w.WindowType = windowType
	}
	w.LastSeen = now

	res.Window = *w
	return res
}

// Update patches mutable window fields. Nil fields are left alone.
func (t *Table) Update(windowID string, url, title *string, active *bool) (Window, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[windowID]
	if !ok {
		return Window{}, false
	}
	if url != nil {
		w.URL = *url
	}
	if title != nil {
		w.Title = *title
	}
	if active != nil {
		w.Active = *active
	}
	w.LastSeen = time.Now()
	return *w, true
}

// ReleaseByPeer drops the window owned by a disconnected peer. When the
// dropped window was focused, focus advances to the remaining window with
// the highest LastSeen, or clears.
func (t *Table) ReleaseByPeer(peerID string) ReleaseResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res ReleaseResult

	windowID, ok := t.byPeer[peerID]
	if !ok {
		return res
	}
	delete(t.byPeer, peerID)

	w, ok := t.windows[windowID]
	if !ok || w.PeerID != peerID {
		return res
	}

	res.Released = true
	res.Window = *w
	delete(t.windows, windowID)

	if t.focused == windowID {
		t.focused = t.latestLocked()
		res.FocusChanged = true
	}
	res.FocusedID = t.focused
	return res
}

// latestLocked returns the window id with the highest LastSeen, preferring
// the most recent claim on ties. Caller holds the lock.
func (t *Table) latestLocked() string {
	var best *Window
	for _, w := range t.windows {
		if best == nil || w.LastSeen.After(best.LastSeen) ||
			(w.LastSeen.Equal(best.LastSeen) && w.seq > best.seq) {
			best = w
		}
	}
	if best == nil {
		return ""
	}
	return best.WindowID
}

// Focus points the focus pointer at a window.
func (t *Table) Focus(windowID string) (Window, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[windowID]
	if !ok {
		return Window{}, false
	}
	t.focused = windowID
	return *w, true
}

// TouchPeer bumps LastSeen on the window owned by the peer, if any.
func (t *Table) TouchPeer(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	windowID, ok := t.byPeer[peerID]
	if !ok {
		return
	}
	if w, ok := t.windows[windowID]; ok {
		w.LastSeen = time.Now()
	}
}

// Get returns a window snapshot.
func (t *Table) Get(windowID string) (Window, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.windows[windowID]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// GetByPeer returns the window owned by a peer.
func (t *Table) GetByPeer(peerID string) (Window, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	windowID, ok := t.byPeer[peerID]
	if !ok {
		return Window{}, false
	}
	w, ok := t.windows[windowID]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// List returns window snapshots in connection order.
func (t *Table) List() []Window {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Window, 0, len(t.windows))
	for _, w := range t.windows {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}

// FocusedID returns the focused window id, empty when no window is focused.
func (t *Table) FocusedID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.focused
}

// Focused returns the focused window, if any.
func (t *Table) Focused() (Window, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.focused == "" {
		return Window{}, false
	}
	w, ok := t.windows[t.focused]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// Count returns the number of connected windows.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.windows)
}
