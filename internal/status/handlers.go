package status

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tabhub/tabhub/internal/common/logger"
)

// Handlers exposes the status line over REST.
type Handlers struct {
	aggregator *Aggregator
	logger     *logger.Logger
}

// RegisterRoutes mounts the status REST surface.
func RegisterRoutes(router *gin.Engine, aggregator *Aggregator, log *logger.Logger) {
	h := &Handlers{
		aggregator: aggregator,
		logger:     log.WithComponent("status-handlers"),
	}
	api := router.Group("/api/v1/status")
	api.GET("", h.httpGet)
	api.POST("", h.httpUpdate)
	api.POST("/push", h.httpPush)
}

// httpGet returns the rendered line and drains pending push notices: each
// notice is delivered to exactly one poller.
func (h *Handlers) httpGet(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"line":     h.aggregator.Line(),
		"items":    h.aggregator.Items(),
		"messages": h.aggregator.Drain(),
	})
}

// UpdateBody sets or clears one tool's status value.
type UpdateBody struct {
	Tool  string `json:"tool" binding:"required"`
	Value string `json:"value"`
}

func (h *Handlers) httpUpdate(c *gin.Context) {
	var body UpdateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"tool":  "string (required)",
				"value": "string (empty clears the tool)",
			},
		})
		return
	}

	h.aggregator.Update(body.Tool, body.Value)
	c.JSON(http.StatusOK, gin.H{"line": h.aggregator.Line()})
}

// PushBody queues one push notice.
type PushBody struct {
	Tool string `json:"tool" binding:"required"`
	Text string `json:"text" binding:"required"`
}

func (h *Handlers) httpPush(c *gin.Context) {
	var body PushBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"tool": "string (required)",
				"text": "string (required)",
			},
		})
		return
	}

	h.aggregator.Push(body.Tool, body.Text)
	c.JSON(http.StatusOK, gin.H{"queued": h.aggregator.Pending()})
}
