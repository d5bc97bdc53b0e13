// Package terminals tracks shell identities: every terminal or CLI caller
// registers once, gets a memorable name, and is addressable for direct
// messages. The registry is keyed by the opaque session token carried in
// the session header and the terminal WebSocket query.
package terminals

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/hub"
	"github.com/tabhub/tabhub/pkg/frame"
)

// ErrNotFound marks lookups of shells nobody registered.
var ErrNotFound = errors.New("not found")

// shellNames is the curated list for shells, distinct from the agent name
// pool so "send-to-agent fern" and "@flint" never collide.
var shellNames = []string{
	"amber", "basalt", "cobalt", "coral", "flint", "indigo",
	"jade", "ochre", "onyx", "quartz", "sienna", "slate",
	"topaz", "umber",
}

// Shell is one registered terminal identity.
type Shell struct {
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registeredAt"`
	Connected    bool      `json:"connected"`

	token string
}

// Broadcaster is the slice of the hub the registry needs.
type Broadcaster interface {
	SendToTerminal(sessionToken string, data []byte) bool
	BroadcastToTerminals(data []byte)
}

// Registry maps session tokens to shells.
type Registry struct {
	mu       sync.Mutex
	byToken  map[string]*Shell
	used     map[string]bool
	overflow int

	broadcaster Broadcaster
	probe       func(sessionToken string) bool
	logger      *logger.Logger
}

// NewRegistry creates an empty shell registry. broadcaster may be nil in
// tests.
func NewRegistry(broadcaster Broadcaster, log *logger.Logger) *Registry {
	return &Registry{
		byToken:     make(map[string]*Shell),
		used:        make(map[string]bool),
		broadcaster: broadcaster,
		logger:      log.WithComponent("terminals"),
	}
}

// SetConnectedProbe wires the liveness check used by List: registered is
// not the same as connected, since REST-only callers never open a socket.
func (r *Registry) SetConnectedProbe(fn func(sessionToken string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probe = fn
}

// Register creates (or refreshes) the shell behind a token. An empty token
// mints a new one; a wanted name that is taken falls back to an allocated
// name so registration never fails.
func (r *Registry) Register(token, wantName string) (Shell, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token == "" {
		token = uuid.New().String()
	}

	if existing, ok := r.byToken[token]; ok {
		if wantName != "" && wantName != existing.Name && !r.used[wantName] {
			delete(r.used, existing.Name)
			r.used[wantName] = true
			existing.Name = wantName
		}
		return *existing, token
	}

	name := wantName
	if name == "" || r.used[name] {
		name = r.allocateLocked()
	} else {
		r.used[name] = true
	}

	shell := &Shell{
		Name:         name,
		RegisteredAt: time.Now().UTC(),
		token:        token,
	}
	r.byToken[token] = shell

	r.logger.Info("Shell registered", zap.String("name", name))
	return *shell, token
}

// Rename changes the caller's shell name. Unlike Register it fails when the
// name is taken: a rename that lands on a different name surprises the user.
func (r *Registry) Rename(token, newName string) (Shell, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return Shell{}, fmt.Errorf("shell name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	shell, ok := r.byToken[token]
	if !ok {
		return Shell{}, fmt.Errorf("no shell registered for this session")
	}
	if shell.Name == newName {
		return *shell, nil
	}
	if r.used[newName] {
		return Shell{}, fmt.Errorf("shell name %q is taken", newName)
	}

	old := shell.Name
	delete(r.used, old)
	r.used[newName] = true
	shell.Name = newName

	r.logger.Info("Shell renamed",
		zap.String("from", old),
		zap.String("to", newName))
	return *shell, nil
}

// NameFor resolves a token to its shell name, empty when unregistered.
func (r *Registry) NameFor(token string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if shell, ok := r.byToken[token]; ok {
		return shell.Name
	}
	return ""
}

// TokenFor resolves a shell name (with or without a leading @) to its
// session token.
func (r *Registry) TokenFor(name string) (string, bool) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, shell := range r.byToken {
		if shell.Name == name {
			return token, true
		}
	}
	return "", false
}

// List returns every registered shell ordered by registration time.
func (r *Registry) List() []Shell {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Shell, 0, len(r.byToken))
	for token, shell := range r.byToken {
		view := *shell
		if r.probe != nil {
			view.Connected = r.probe(token)
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

// Count reports how many shells are registered.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}

// DM routes a direct message to the named shell's live terminal connection.
func (r *Registry) DM(fromToken, to, text string) error {
	token, ok := r.TokenFor(to)
	if !ok {
		return fmt.Errorf("shell %q %w", strings.TrimPrefix(to, "@"), ErrNotFound)
	}

	notice := frame.NoticePayload{
		Kind:      frame.NoticeKindDM,
		From:      r.NameFor(fromToken),
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	data, err := noticeFrame(notice)
	if err != nil {
		return err
	}
	if r.broadcaster == nil || !r.broadcaster.SendToTerminal(token, data) {
		return fmt.Errorf("shell %q is not connected", strings.TrimPrefix(to, "@"))
	}
	return nil
}

// HandlePeerDisconnect is the hub teardown hook for terminal peers: the
// shell identity is dropped and the remaining terminals hear about it.
func (r *Registry) HandlePeerDisconnect(peerID, role, sessionToken string) {
	if role != hub.RoleTerminal || sessionToken == "" {
		return
	}

	r.mu.Lock()
	shell, ok := r.byToken[sessionToken]
	if ok {
		delete(r.byToken, sessionToken)
		delete(r.used, shell.Name)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.logger.Info("Shell departed", zap.String("name", shell.Name))

	if r.broadcaster != nil {
		notice := frame.NoticePayload{
			Kind:      frame.NoticeKindShell,
			From:      shell.Name,
			Text:      fmt.Sprintf("%s left", shell.Name),
			Timestamp: time.Now().UTC(),
		}
		if data, err := noticeFrame(notice); err == nil {
			r.broadcaster.BroadcastToTerminals(data)
		}
	}
}

func (r *Registry) allocateLocked() string {
	for _, name := range shellNames {
		if !r.used[name] {
			r.used[name] = true
			return name
		}
	}
	for {
		r.overflow++
		name := fmt.Sprintf("shell-%d", r.overflow)
		if !r.used[name] {
			r.used[name] = true
			return name
		}
	}
}

func noticeFrame(p frame.NoticePayload) ([]byte, error) {
	f, err := frame.NewSystem(frame.ActionNotice, p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}
