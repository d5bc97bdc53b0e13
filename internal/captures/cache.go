// Package captures holds page-produced artifacts (DOM snapshots, interaction
// recordings) in bounded in-memory caches. Bodies are opaque to the broker;
// the caches exist so a one-shot REST caller can fetch what a page produced
// moments earlier.
package captures

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cache caps.
const (
	SnapshotCap  = 50
	RecordingCap = 20
)

// Capture is one stored artifact.
type Capture struct {
	ID        string    `json:"id"`
	WindowID  string    `json:"windowId"`
	URL       string    `json:"url,omitempty"`
	Data      string    `json:"data"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Meta is the listing view: everything but the body.
type Meta struct {
	ID        string    `json:"id"`
	WindowID  string    `json:"windowId"`
	URL       string    `json:"url,omitempty"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Cache is a fixed-capacity FIFO keyed by generated id: when full, the
// oldest capture is evicted on insert.
type Cache struct {
	mu    sync.Mutex
	cap   int
	order []string
	items map[string]Capture
}

// NewCache creates a cache holding at most capacity captures.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		cap:   capacity,
		items: make(map[string]Capture, capacity),
	}
}

// Put stores a capture and returns its generated id.
func (c *Cache) Put(windowID, url, data string) Capture {
	capture := Capture{
		ID:        uuid.New().String(),
		WindowID:  windowID,
		URL:       url,
		Data:      data,
		Size:      len(data),
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.order = append(c.order, capture.ID)
	c.items[capture.ID] = capture
	return capture
}

// Get returns one capture by id.
func (c *Cache) Get(id string) (Capture, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	capture, ok := c.items[id]
	return capture, ok
}

// List returns metadata for every held capture, newest first.
func (c *Cache) List() []Meta {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Meta, 0, len(c.order))
	for i := len(c.order) - 1; i >= 0; i-- {
		capture := c.items[c.order[i]]
		out = append(out, Meta{
			ID:        capture.ID,
			WindowID:  capture.WindowID,
			URL:       capture.URL,
			Size:      capture.Size,
			CreatedAt: capture.CreatedAt,
		})
	}
	return out
}

// Len reports how many captures are held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
