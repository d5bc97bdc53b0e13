package windows

import "sync"

// Affinity remembers which window an agent session explicitly targeted, so
// later untargeted calls from the same session land on the same window.
// Tokens are opaque; entries live for the broker's lifetime.
type Affinity struct {
	mu      sync.RWMutex
	byToken map[string]string
}

// NewAffinity creates an empty affinity map.
func NewAffinity() *Affinity {
	return &Affinity{byToken: make(map[string]string)}
}

// Bind records sessionToken → windowID.
func (a *Affinity) Bind(sessionToken, windowID string) {
	if sessionToken == "" || windowID == "" {
		return
	}
	a.mu.Lock()
	a.byToken[sessionToken] = windowID
	a.mu.Unlock()
}

// Lookup returns the bound window id for a session token.
func (a *Affinity) Lookup(sessionToken string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	windowID, ok := a.byToken[sessionToken]
	return windowID, ok
}

// Clear removes a binding.
func (a *Affinity) Clear(sessionToken string) {
	a.mu.Lock()
	delete(a.byToken, sessionToken)
	a.mu.Unlock()
}
