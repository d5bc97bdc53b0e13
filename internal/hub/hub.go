// Package hub manages the broker's WebSocket peers: pages, agent observers,
// and terminals. It owns the peer registry, the broadcast buses, and the
// replay buffer, and hands decoded traffic to the wired-in handlers.
package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/pkg/frame"
)

// SystemFrameHandler receives system-channel frames sent by pages
// (identity, window-updated).
type SystemFrameHandler func(ctx context.Context, peerID string, f *frame.Frame)

// ReplyHandler receives replies sent by pages, keyed by the sending peer.
type ReplyHandler func(peerID string, r *frame.Reply)

// DisconnectHook runs after a peer is removed from the registry. The
// session token is empty for roles that don't carry one.
type DisconnectHook func(peerID, role, sessionToken string)

// ActivityHandler runs on every inbound frame from a peer.
type ActivityHandler func(peerID string)

// Hub is the peer registry and fan-out point for all three mounts.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]*Peer
	roles  map[string]map[string]*Peer
	replay *replayRing

	systemHandler   SystemFrameHandler
	replyHandler    ReplyHandler
	activityHandler ActivityHandler
	disconnectHooks []DisconnectHook

	logger *logger.Logger
}

// NewHub creates a hub with a replay buffer of the given capacity.
func NewHub(replaySize int, log *logger.Logger) *Hub {
	return &Hub{
		peers:  make(map[string]*Peer),
		roles:  make(map[string]map[string]*Peer),
		replay: newReplayRing(replaySize),
		logger: log.WithComponent("hub"),
	}
}

// SetSystemFrameHandler wires the consumer of page system frames. Call
// before serving traffic.
func (h *Hub) SetSystemFrameHandler(fn SystemFrameHandler) {
	h.systemHandler = fn
}

// SetReplyHandler wires the consumer of page replies.
func (h *Hub) SetReplyHandler(fn ReplyHandler) {
	h.replyHandler = fn
}

// SetActivityHandler wires the per-frame activity callback.
func (h *Hub) SetActivityHandler(fn ActivityHandler) {
	h.activityHandler = fn
}

// OnDisconnect appends a teardown hook. Hooks run outside the registry lock
// in registration order.
func (h *Hub) OnDisconnect(fn DisconnectHook) {
	h.disconnectHooks = append(h.disconnectHooks, fn)
}

// Register adds a peer to the registry. Agent observers receive the replay
// buffer first so buffered traffic precedes live traffic.
func (h *Hub) Register(p *Peer) {
	h.mu.Lock()
	if p.Role == RoleAgent {
		for _, data := range h.replay.snapshot() {
			p.Send(data)
		}
	}
	h.peers[p.ID] = p
	if _, ok := h.roles[p.Role]; !ok {
		h.roles[p.Role] = make(map[string]*Peer)
	}
	h.roles[p.Role][p.ID] = p
	h.mu.Unlock()

	h.logger.Debug("Peer registered",
		zap.String("peer_id", p.ID),
		zap.String("role", p.Role))
}

// Unregister removes a peer and fires the disconnect hooks. Safe to call
// for a peer that was already removed.
func (h *Hub) Unregister(p *Peer) {
	h.mu.Lock()
	if _, ok := h.peers[p.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, p.ID)
	if rolePeers, ok := h.roles[p.Role]; ok {
		delete(rolePeers, p.ID)
		if len(rolePeers) == 0 {
			delete(h.roles, p.Role)
		}
	}
	close(p.send)
	h.mu.Unlock()

	h.logger.Debug("Peer unregistered",
		zap.String("peer_id", p.ID),
		zap.String("role", p.Role))

	for _, hook := range h.disconnectHooks {
		hook(p.ID, p.Role, p.SessionToken)
	}
}

// Peer looks up a peer by id.
func (h *Hub) Peer(id string) (*Peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[id]
	return p, ok
}

// PeerCount returns the number of connected peers for a role.
func (h *Hub) PeerCount(role string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roles[role])
}

// SendToPeer queues raw data for one peer. Returns false if the peer is
// gone or its buffer is full. The read lock is held across the channel send
// so it cannot race the close in Unregister.
func (h *Hub) SendToPeer(id string, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[id]
	if !ok {
		return false
	}
	return p.Send(data)
}

// ClosePeer tears down a peer's connection, used when a window claim evicts
// the previous owner.
func (h *Hub) ClosePeer(id string) {
	h.mu.RLock()
	p, ok := h.peers[id]
	h.mu.RUnlock()
	if ok {
		p.Close()
	}
}

// SendToTerminal queues data for the terminal peer registered with the
// given session token.
func (h *Hub) SendToTerminal(sessionToken string, data []byte) bool {
	if sessionToken == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.roles[RoleTerminal] {
		if p.SessionToken == sessionToken {
			return p.Send(data)
		}
	}
	return false
}

// TerminalConnected reports whether a terminal peer holds the given session
// token right now.
func (h *Hub) TerminalConnected(sessionToken string) bool {
	if sessionToken == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.roles[RoleTerminal] {
		if p.SessionToken == sessionToken {
			return true
		}
	}
	return false
}

// BroadcastToPages queues data for every page peer.
func (h *Hub) BroadcastToPages(data []byte) {
	h.broadcastRole(RolePage, "", data)
}

// BroadcastToPagesExcept queues data for every page peer except one. Pages
// coordinate tab ownership by observing each other's system frames.
func (h *Hub) BroadcastToPagesExcept(exceptPeerID string, data []byte) {
	h.broadcastRole(RolePage, exceptPeerID, data)
}

// BroadcastToTerminals queues data for every terminal peer.
func (h *Hub) BroadcastToTerminals(data []byte) {
	h.broadcastRole(RoleTerminal, "", data)
}

func (h *Hub) broadcastRole(role, exceptPeerID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, p := range h.roles[role] {
		if id == exceptPeerID {
			continue
		}
		p.Send(data)
	}
}

// PublishToObservers appends data to the replay buffer and fans it out to
// every agent observer. The write lock orders publishes against observer
// registration, so an attaching observer sees each frame exactly once.
func (h *Hub) PublishToObservers(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replay.add(data)
	for _, p := range h.roles[RoleAgent] {
		p.Send(data)
	}
}

// ReplayLen reports how many frames the replay buffer holds.
func (h *Hub) ReplayLen() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.replay.len()
}

// handleInbound decodes one transport message from a peer and routes it:
// replies to the correlator, system frames to the window handler plus the
// page-system echo, and everything else to the observer bus. Malformed
// input is logged and dropped; the peer stays connected.
func (h *Hub) handleInbound(ctx context.Context, p *Peer, raw []byte) {
	p.Touch()
	if h.activityHandler != nil {
		h.activityHandler(p.ID)
	}

	f, r, err := frame.Decode(raw)
	if err != nil {
		p.logger.Warn("Dropping malformed frame", zap.Error(err))
		return
	}

	if r != nil {
		if p.Role != RolePage {
			p.logger.Debug("Ignoring reply from non-page peer")
			return
		}
		h.PublishToObservers(raw)
		if h.replyHandler != nil {
			h.replyHandler(p.ID, r)
		}
		return
	}

	if f.IsSystem() {
		if p.Role != RolePage {
			p.logger.Debug("Ignoring system frame from non-page peer",
				zap.String("action", f.Action))
			return
		}
		h.BroadcastToPagesExcept(p.ID, raw)
		if h.systemHandler != nil {
			h.systemHandler(ctx, p.ID, f)
		}
		return
	}

	if p.Role == RolePage {
		h.PublishToObservers(raw)
		return
	}
	p.logger.Debug("Ignoring frame from non-page peer",
		zap.String("channel", f.Channel),
		zap.String("action", f.Action))
}

// Run blocks until the context is cancelled, then closes every peer.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Hub started")
	defer h.logger.Info("Hub stopped")

	<-ctx.Done()
	h.closeAllPeers()
}

func (h *Hub) closeAllPeers() {
	h.mu.Lock()
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.peers = make(map[string]*Peer)
	h.roles = make(map[string]map[string]*Peer)
	for _, p := range peers {
		close(p.send)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}
