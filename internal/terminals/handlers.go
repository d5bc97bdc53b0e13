package terminals

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tabhub/tabhub/internal/common/httpmw"
	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/status"
)

// AgentSender delivers a message to the named agent session, returning the
// delivery result ("sent" or "queued").
type AgentSender func(ctx context.Context, agentName, from, text string) (string, error)

// Handlers exposes shell registration and messaging over REST.
type Handlers struct {
	registry   *Registry
	aggregator *status.Aggregator
	agentSend  AgentSender
	logger     *logger.Logger
}

// RegisterRoutes mounts the shell REST surface.
func RegisterRoutes(router *gin.Engine, registry *Registry, aggregator *status.Aggregator, agentSend AgentSender, log *logger.Logger) {
	h := &Handlers{
		registry:   registry,
		aggregator: aggregator,
		agentSend:  agentSend,
		logger:     log.WithComponent("shell-handlers"),
	}
	api := router.Group("/api/v1/shells")
	api.POST("/register", h.httpRegister)
	api.POST("/rename", h.httpRename)
	api.GET("", h.httpList)
	api.POST("/dm", h.httpDM)
	api.POST("/send-to-agent", h.httpSendToAgent)
}

// RegisterBody optionally names the new shell.
type RegisterBody struct {
	Name string `json:"name"`
}

// httpRegister hands back the shell identity plus the current status line so
// a fresh terminal can paint immediately.
func (h *Handlers) httpRegister(c *gin.Context) {
	var body RegisterBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    "invalid payload: " + err.Error(),
				"expected": gin.H{"name": "string (optional)"},
			})
			return
		}
	}

	shell, token := h.registry.Register(c.GetHeader(httpmw.SessionHeader), body.Name)
	c.JSON(http.StatusOK, gin.H{
		"session": token,
		"name":    shell.Name,
		"status":  h.aggregator.Line(),
	})
}

// RenameBody carries the new shell name.
type RenameBody struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handlers) httpRename(c *gin.Context) {
	var body RenameBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "invalid payload: " + err.Error(),
			"expected": gin.H{"name": "string (required)"},
		})
		return
	}

	shell, err := h.registry.Rename(c.GetHeader(httpmw.SessionHeader), body.Name)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": shell.Name})
}

func (h *Handlers) httpList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"shells": h.registry.List()})
}

// DMBody addresses one shell, with or without the @ prefix.
type DMBody struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

func (h *Handlers) httpDM(c *gin.Context) {
	var body DMBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"to":   "string (required, shell name or @name)",
				"text": "string (required)",
			},
		})
		return
	}

	if err := h.registry.DM(c.GetHeader(httpmw.SessionHeader), body.To, body.Text); err != nil {
		code := http.StatusConflict
		if errors.Is(err, ErrNotFound) {
			code = http.StatusNotFound
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}

// SendToAgentBody addresses one agent session by name.
type SendToAgentBody struct {
	Name string `json:"name" binding:"required"`
	Text string `json:"text" binding:"required"`
}

func (h *Handlers) httpSendToAgent(c *gin.Context) {
	var body SendToAgentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"name": "string (required, agent session name)",
				"text": "string (required)",
			},
		})
		return
	}

	if h.agentSend == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent messaging is not available"})
		return
	}

	from := h.registry.NameFor(c.GetHeader(httpmw.SessionHeader))
	result, err := h.agentSend(c.Request.Context(), body.Name, from, body.Text)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}
