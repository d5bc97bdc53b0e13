package hub

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkWebSocketOrigin,
}

// checkWebSocketOrigin validates the Origin header on upgrade requests.
// The broker binds to localhost, so localhost origins and same-host origins
// are allowed; anything else is rejected.
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No origin header - allow (could be a non-browser client)
		return true
	}

	// Allow localhost origins for development
	if strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "https://127.0.0.1") {
		return true
	}

	// Check same-origin: Origin should match the Host header
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}

	// Parse the origin URL to get its host
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	// Compare hosts (ignoring port for flexibility)
	originHost := originURL.Hostname()
	requestHost := host
	if colonIdx := strings.LastIndex(requestHost, ":"); colonIdx != -1 {
		// Strip port from host if present (but be careful with IPv6)
		if !strings.Contains(requestHost, "]") || colonIdx > strings.Index(requestHost, "]") {
			requestHost = requestHost[:colonIdx]
		}
	}

	return originHost == requestHost
}

// WSHandler upgrades HTTP requests on the three mounts into hub peers.
type WSHandler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewWSHandler creates the mount handler.
func NewWSHandler(hub *Hub, log *logger.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: log.WithComponent("ws_handler"),
	}
}

// RegisterRoutes mounts the page, agent, and terminal endpoints.
func (h *WSHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws/page", h.handlePage)
	router.GET("/ws/agent", h.handleAgent)
	router.GET("/ws/terminal", h.handleTerminal)
}

func (h *WSHandler) handlePage(c *gin.Context) {
	h.accept(c, RolePage)
}

func (h *WSHandler) handleAgent(c *gin.Context) {
	h.accept(c, RoleAgent)
}

func (h *WSHandler) handleTerminal(c *gin.Context) {
	h.accept(c, RoleTerminal)
}

// accept upgrades the connection, registers the peer, and runs the pumps.
// It returns when the connection closes.
func (h *WSHandler) accept(c *gin.Context, role string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection",
			zap.String("role", role),
			zap.Error(err))
		return
	}

	peerID := uuid.New().String()
	peer := NewPeer(peerID, role, conn, h.hub, h.logger)
	if role == RoleTerminal {
		peer.SessionToken = c.Query("session")
	}

	h.logger.Debug("WebSocket connection established",
		zap.String("peer_id", peerID),
		zap.String("role", role),
		zap.String("remote_addr", c.Request.RemoteAddr))

	h.hub.Register(peer)

	go peer.WritePump()
	peer.ReadPump(c.Request.Context())
}
