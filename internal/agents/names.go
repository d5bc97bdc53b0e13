package agents

import (
	"fmt"
	"sync"
)

// namePool is the curated list handed to new sessions, in allocation order.
var namePool = []string{
	"fern", "moss", "sage", "ivy", "clover", "willow",
	"aspen", "birch", "cedar", "juniper", "laurel", "rowan",
	"hazel", "alder", "tansy", "yarrow",
}

// NamePool allocates session names unique among live sessions. When the
// curated list runs out it falls back to numbered names.
type NamePool struct {
	mu       sync.Mutex
	used     map[string]bool
	overflow int
}

// NewNamePool creates an empty pool.
func NewNamePool() *NamePool {
	return &NamePool{used: make(map[string]bool)}
}

// Allocate returns the first unused curated name, or agent-N once the list
// is exhausted.
func (p *NamePool) Allocate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range namePool {
		if !p.used[name] {
			p.used[name] = true
			return name
		}
	}
	for {
		p.overflow++
		name := fmt.Sprintf("agent-%d", p.overflow)
		if !p.used[name] {
			p.used[name] = true
			return name
		}
	}
}

// Claim marks an arbitrary name as in use, for sessions that bring their
// own name (restores). Returns the name actually reserved: when the wanted
// name is taken, a fresh one is allocated instead.
func (p *NamePool) Claim(name string) string {
	p.mu.Lock()
	if name != "" && !p.used[name] {
		p.used[name] = true
		p.mu.Unlock()
		return name
	}
	p.mu.Unlock()
	return p.Allocate()
}

// Release returns a name to the pool.
func (p *NamePool) Release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, name)
}
