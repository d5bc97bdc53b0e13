package windows

import "fmt"

// Resolver picks the target window for a routed call.
type Resolver struct {
	table    *Table
	affinity *Affinity
}

// NewResolver creates a resolver over a table and affinity map.
func NewResolver(table *Table, affinity *Affinity) *Resolver {
	return &Resolver{table: table, affinity: affinity}
}

// Resolve applies the targeting policy, strictest first:
//
//  1. explicit window id; an explicit id that is not connected is an error,
//     never silently re-routed;
//  2. session affinity, if the bound window is still live;
//  3. the focused window, if live;
//  4. the most recently seen window marked active;
//  5. the most recently seen window;
//  6. nothing connected is an error.
//
// Untargeted calls never broadcast; they land on exactly one window.
func (r *Resolver) Resolve(explicitWindowID, sessionToken string) (Window, error) {
	if explicitWindowID != "" {
		w, ok := r.table.Get(explicitWindowID)
		if !ok {
			return Window{}, fmt.Errorf("Window %s not found", explicitWindowID)
		}
		return w, nil
	}

	if sessionToken != "" {
		if windowID, ok := r.affinity.Lookup(sessionToken); ok {
			if w, ok := r.table.Get(windowID); ok {
				return w, nil
			}
		}
	}

	if w, ok := r.table.Focused(); ok {
		return w, nil
	}

	all := r.table.List()
	var bestActive, best *Window
	for i := range all {
		w := &all[i]
		if best == nil || laterSeen(w, best) {
			best = w
		}
		if w.Active && (bestActive == nil || laterSeen(w, bestActive)) {
			bestActive = w
		}
	}
	if bestActive != nil {
		return *bestActive, nil
	}
	if best != nil {
		return *best, nil
	}
	return Window{}, fmt.Errorf("No windows connected")
}

func laterSeen(a, b *Window) bool {
	if a.LastSeen.Equal(b.LastSeen) {
		return a.seq > b.seq
	}
	return a.LastSeen.After(b.LastSeen)
}
