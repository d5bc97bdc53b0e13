package taskboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tabhub/tabhub/internal/common/httpmw"
	"github.com/tabhub/tabhub/internal/common/logger"
)

// ShellNamer resolves a session token to the caller's shell name; claim
// records it on the task. Unregistered callers fall back to the raw token.
type ShellNamer func(sessionToken string) string

// Handlers exposes the board over REST.
type Handlers struct {
	service *Service
	namer   ShellNamer
	logger  *logger.Logger
}

// RegisterRoutes mounts the task board REST surface.
func RegisterRoutes(router *gin.Engine, service *Service, namer ShellNamer, log *logger.Logger) {
	h := &Handlers{
		service: service,
		namer:   namer,
		logger:  log.WithComponent("taskboard-handlers"),
	}
	api := router.Group("/api/v1/tasks")
	api.GET("", h.httpList)
	api.POST("", h.httpAdd)
	api.GET("/board", h.httpBoard)
	api.POST("/command", h.httpCommand)
	api.GET("/:id", h.httpDetail)
	api.POST("/:id/move", h.httpMove)
	api.POST("/:id/claim", h.httpClaim)
	api.POST("/:id/block", h.httpBlock)
	api.POST("/:id/done", h.httpDone)
	api.POST("/:id/trash", h.httpTrash)
}

// caller resolves the shell name behind the request's session header.
func (h *Handlers) caller(c *gin.Context) string {
	token := c.GetHeader(httpmw.SessionHeader)
	if token == "" {
		return ""
	}
	if h.namer != nil {
		if name := h.namer(token); name != "" {
			return name
		}
	}
	return token
}

func taskError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, ErrNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func taskID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id: " + c.Param("id")})
		return 0, false
	}
	return id, true
}

func (h *Handlers) httpList(c *gin.Context) {
	items, err := h.service.List(c.Query("column"))
	if err != nil {
		taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": items, "summary": h.service.Summary()})
}

// AddBody creates a task.
type AddBody struct {
	Title  string `json:"title" binding:"required"`
	Column string `json:"column"`
}

func (h *Handlers) httpAdd(c *gin.Context) {
	var body AddBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"title":  "string (required)",
				"column": "string (optional, defaults to queued)",
			},
		})
		return
	}

	item, err := h.service.Add(body.Title, body.Column)
	if err != nil {
		taskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": item})
}

func (h *Handlers) httpBoard(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"columns": h.service.Board(),
		"summary": h.service.Summary(),
		"path":    h.service.Path(),
	})
}

// CommandBody carries the string form used by terminals and MCP tools.
type CommandBody struct {
	Command string `json:"command" binding:"required"`
}

func (h *Handlers) httpCommand(c *gin.Context) {
	var body CommandBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "invalid payload: " + err.Error(),
			"expected": gin.H{"command": `string (required, e.g. add "fix nav" queued)`},
		})
		return
	}

	result, err := h.service.Execute(body.Command, h.caller(c))
	if err != nil {
		taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "summary": h.service.Summary()})
}

func (h *Handlers) httpDetail(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	item, err := h.service.Detail(id)
	if err != nil {
		taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": item})
}

// MoveBody names the destination column.
type MoveBody struct {
	Column string `json:"column" binding:"required"`
	Reason string `json:"reason"`
}

func (h *Handlers) httpMove(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var body MoveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"column": "string (required)",
				"reason": "string (optional)",
			},
		})
		return
	}

	item, err := h.service.Move(id, body.Column, body.Reason)
	if err != nil {
		taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": item})
}

func (h *Handlers) httpClaim(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	item, err := h.service.Claim(id, h.caller(c))
	if err != nil {
		taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": item})
}

// BlockBody carries the required blocking reason.
type BlockBody struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handlers) httpBlock(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var body BlockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "invalid payload: " + err.Error(),
			"expected": gin.H{"reason": "string (required)"},
		})
		return
	}

	item, err := h.service.Block(id, body.Reason)
	if err != nil {
		taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": item})
}

func (h *Handlers) httpDone(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	item, err := h.service.Done(id)
	if err != nil {
		taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": item})
}

func (h *Handlers) httpTrash(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	item, err := h.service.Trash(id)
	if err != nil {
		taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": item})
}
