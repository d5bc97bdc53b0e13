package captures

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tabhub/tabhub/internal/common/logger"
)

// Handlers exposes the snapshot and recording caches over REST.
type Handlers struct {
	snapshots  *Cache
	recordings *Cache
	logger     *logger.Logger
}

// RegisterRoutes mounts the capture REST surface.
func RegisterRoutes(router *gin.Engine, snapshots, recordings *Cache, log *logger.Logger) {
	h := &Handlers{
		snapshots:  snapshots,
		recordings: recordings,
		logger:     log.WithComponent("captures-handlers"),
	}
	api := router.Group("/api/v1/captures")
	api.POST("/snapshots", h.store(h.snapshots))
	api.GET("/snapshots", h.list(h.snapshots))
	api.GET("/snapshots/:id", h.fetch(h.snapshots))
	api.POST("/recordings", h.store(h.recordings))
	api.GET("/recordings", h.list(h.recordings))
	api.GET("/recordings/:id", h.fetch(h.recordings))
}

// StoreBody is the capture upload shape.
type StoreBody struct {
	WindowID string `json:"windowId" binding:"required"`
	URL      string `json:"url"`
	Data     string `json:"data" binding:"required"`
}

func (h *Handlers) store(cache *Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body StoreBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "invalid payload: " + err.Error(),
				"expected": gin.H{
					"windowId": "string (required)",
					"url":      "string (optional)",
					"data":     "string (required, opaque body)",
				},
			})
			return
		}

		capture := cache.Put(body.WindowID, body.URL, body.Data)
		c.JSON(http.StatusCreated, gin.H{"id": capture.ID, "size": capture.Size})
	}
}

func (h *Handlers) fetch(cache *Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		capture, ok := cache.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "capture not found (it may have been evicted)"})
			return
		}
		c.JSON(http.StatusOK, capture)
	}
}

func (h *Handlers) list(cache *Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"captures": cache.List()})
	}
}
