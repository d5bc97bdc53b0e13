package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Peer roles, one per mount point.
const (
	RolePage     = "page"
	RoleAgent    = "agent-observer"
	RoleTerminal = "terminal"
)

// Peer represents a single WebSocket connection.
type Peer struct {
	ID   string
	Role string

	// SessionToken identifies the shell behind a terminal peer. Empty for
	// other roles.
	SessionToken string

	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	mu       sync.Mutex
	windowID string
	lastSeen time.Time

	closeOnce sync.Once

	logger *logger.Logger
}

// NewPeer creates a peer for an accepted connection.
func NewPeer(id, role string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Peer {
	return &Peer{
		ID:       id,
		Role:     role,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, 256),
		lastSeen: time.Now(),
		logger:   log.WithFields(zap.String("peer_id", id), zap.String("role", role)),
	}
}

// Send queues a raw message for the write pump. It never blocks: a peer
// whose buffer is full drops the message and is reported slow.
func (p *Peer) Send(data []byte) bool {
	select {
	case p.send <- data:
		return true
	default:
		p.logger.Warn("Peer send buffer full, dropping message")
		return false
	}
}

// Touch records inbound activity.
func (p *Peer) Touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// LastSeen returns the time of the most recent inbound frame.
func (p *Peer) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// SetWindowID associates the peer with the window it claimed.
func (p *Peer) SetWindowID(windowID string) {
	p.mu.Lock()
	p.windowID = windowID
	p.mu.Unlock()
}

// WindowID returns the claimed window id, empty until identity.
func (p *Peer) WindowID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.windowID
}

// Close tears down the underlying connection. Safe to call more than once;
// the read pump observes the closed connection and unregisters the peer.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		if p.conn != nil {
			_ = p.conn.Close()
		}
	})
}

// ReadPump pumps messages from the WebSocket connection into the hub.
func (p *Peer) ReadPump(ctx context.Context) {
	defer func() {
		p.hub.Unregister(p)
		p.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		p.hub.handleInbound(ctx, p, message)
	}
}

// WritePump pumps queued messages to the WebSocket connection. Each queued
// message goes out as its own WebSocket message so every frame arrives as a
// standalone JSON document.
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
