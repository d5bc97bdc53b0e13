// Package browser is the REST face of the routing core: one-shot callers
// execute commands against live pages and inspect the window table.
package browser

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tabhub/tabhub/internal/common/httpmw"
	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/router"
	"github.com/tabhub/tabhub/internal/status"
	"github.com/tabhub/tabhub/internal/windows"
)

// Handlers binds the router and window service to REST.
type Handlers struct {
	router     *router.Router
	windows    *windows.Service
	aggregator *status.Aggregator
	logger     *logger.Logger
}

// RegisterRoutes mounts the browser REST surface.
func RegisterRoutes(engine *gin.Engine, rt *router.Router, win *windows.Service, aggregator *status.Aggregator, log *logger.Logger) {
	h := &Handlers{
		router:     rt,
		windows:    win,
		aggregator: aggregator,
		logger:     log.WithComponent("browser-handlers"),
	}
	api := engine.Group("/api/v1/browser")
	api.POST("/execute", h.httpExecute)
	api.GET("/windows", h.httpWindows)
	api.POST("/windows/:windowId/focus", h.httpFocus)
	api.GET("/status", h.httpStatus)
}

// ExecuteBody is one routed command. The window target may also arrive as
// the ?window= query parameter, which wins over the body field.
type ExecuteBody struct {
	Channel   string                 `json:"channel" binding:"required"`
	Action    string                 `json:"action" binding:"required"`
	Payload   map[string]interface{} `json:"payload"`
	TimeoutMs int                    `json:"timeoutMs"`
	WindowID  string                 `json:"windowId"`
}

// httpExecute routes a command to a page and relays the correlated reply.
// Routing failures (no windows, timeout, disconnect) come back as
// success:false replies with HTTP 200; only malformed requests are 4xx.
func (h *Handlers) httpExecute(c *gin.Context) {
	var body ExecuteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"channel":   "string (required)",
				"action":    "string (required)",
				"payload":   "object (optional)",
				"timeoutMs": "number (optional, default 5000)",
				"windowId":  "string (optional explicit target)",
			},
		})
		return
	}

	windowID := c.Query("window")
	if windowID == "" {
		windowID = body.WindowID
	}

	reply := h.router.Call(
		c.Request.Context(),
		body.Channel,
		body.Action,
		body.Payload,
		time.Duration(body.TimeoutMs)*time.Millisecond,
		windowID,
		c.GetHeader(httpmw.SessionHeader),
	)
	c.JSON(http.StatusOK, reply)
}

func (h *Handlers) httpWindows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"windows": h.windows.Summaries(),
		"focused": h.windows.FocusedID(),
	})
}

func (h *Handlers) httpFocus(c *gin.Context) {
	windowID := c.Param("windowId")
	if err := h.windows.Focus(c.Request.Context(), windowID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"focused": windowID})
}

// httpStatus reports the browser slice of the status line plus raw counts.
func (h *Handlers) httpStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"windows": h.windows.Count(),
		"focused": h.windows.FocusedID(),
		"line":    h.aggregator.Items()["browser"],
	})
}
