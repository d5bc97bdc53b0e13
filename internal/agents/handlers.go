package agents

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/httpmw"
	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/transcripts"
)

// Handlers exposes the supervisor and transcript store over REST.
type Handlers struct {
	supervisor *Supervisor
	store      *transcripts.Store
	logger     *logger.Logger
}

// NewHandlers creates the agent handlers.
func NewHandlers(supervisor *Supervisor, store *transcripts.Store, log *logger.Logger) *Handlers {
	return &Handlers{
		supervisor: supervisor,
		store:      store,
		logger:     log.WithComponent("agent-handlers"),
	}
}

// RegisterRoutes mounts the agent REST surface.
func RegisterRoutes(router *gin.Engine, supervisor *Supervisor, store *transcripts.Store, log *logger.Logger) {
	h := NewHandlers(supervisor, store, log)
	api := router.Group("/api/v1/agent")
	api.POST("/prompt", h.httpPrompt)
	api.POST("/message", h.httpMessage)
	api.POST("/kill", h.httpKill)
	api.POST("/send", h.httpSend)
	api.GET("/sessions", h.httpListSessions)
	api.GET("/sessions/:id/transcript", h.httpTranscript)
	api.DELETE("/sessions/:id", h.httpRemoveSession)
	api.GET("/transcripts", h.httpListTranscripts)
	api.POST("/transcripts/load", h.httpLoadTranscript)
	api.POST("/transcripts/restore", h.httpRestoreTranscript)
}

// PromptBody is the request body for dispatching a prompt.
type PromptBody struct {
	SessionID  string       `json:"sessionId"`
	Prompt     string       `json:"prompt" binding:"required"`
	WorkingDir string       `json:"workingDir"`
	Profile    string       `json:"profile"`
	Config     PromptConfig `json:"config"`
}

func (h *Handlers) httpPrompt(c *gin.Context) {
	var body PromptBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"sessionId":  "string (optional, defaults to the session header)",
				"prompt":     "string (required)",
				"workingDir": "string (optional)",
				"profile":    "string (optional)",
				"config":     "object (optional: model, allowedTools, permissionMode)",
			},
		})
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = c.GetHeader(httpmw.SessionHeader)
	}

	cfg := body.Config
	if body.Profile != "" {
		cfg.Profile = body.Profile
	}

	s, _ := h.supervisor.Register(sessionID, body.WorkingDir)
	if err := h.supervisor.Prompt(c.Request.Context(), s.ID, body.Prompt, body.WorkingDir, cfg, nil); err != nil {
		h.logger.Error("Prompt failed",
			zap.String("session_id", s.ID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": s.ID,
		"name":      s.Name,
		"status":    s.Status(),
	})
}

// MessageBody is the request body for interrupt-and-queue delivery.
type MessageBody struct {
	SessionID string `json:"sessionId" binding:"required"`
	Message   string `json:"message" binding:"required"`
	From      string `json:"from"`
}

func (h *Handlers) httpMessage(c *gin.Context) {
	var body MessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"sessionId": "string (required)",
				"message":   "string (required)",
				"from":      "string (optional sender label)",
			},
		})
		return
	}

	result := h.supervisor.InterruptAndQueue(c.Request.Context(), body.SessionID, body.From, body.Message)
	if result == ResultNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "result": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// SessionIDBody names a session.
type SessionIDBody struct {
	SessionID string `json:"sessionId" binding:"required"`
}

func (h *Handlers) httpKill(c *gin.Context) {
	var body SessionIDBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "invalid payload: " + err.Error(),
			"expected": gin.H{"sessionId": "string (required)"},
		})
		return
	}

	if err := h.supervisor.Kill(body.SessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusIdle})
}

// SendBody is the raw stdin injection body.
type SendBody struct {
	SessionID string `json:"sessionId" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

func (h *Handlers) httpSend(c *gin.Context) {
	var body SendBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"sessionId": "string (required)",
				"text":      "string (required)",
			},
		})
		return
	}

	if err := h.supervisor.SendToChild(body.SessionID, body.Text); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

func (h *Handlers) httpListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.supervisor.List()})
}

func (h *Handlers) httpTranscript(c *gin.Context) {
	s, ok := h.supervisor.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":  s.ID,
		"name":       s.Name,
		"status":     s.Status(),
		"transcript": s.Transcript(),
	})
}

func (h *Handlers) httpRemoveSession(c *gin.Context) {
	if !h.supervisor.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (h *Handlers) httpListTranscripts(c *gin.Context) {
	dir := c.Query("dir")
	if dir == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "missing dir query parameter",
			"expected": gin.H{"dir": "string (required query parameter)"},
		})
		return
	}

	metas, err := h.store.List(dir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcripts": metas})
}

// TranscriptFileBody names one saved transcript.
type TranscriptFileBody struct {
	Dir      string `json:"dir" binding:"required"`
	Filename string `json:"filename" binding:"required"`
}

func (h *Handlers) httpLoadTranscript(c *gin.Context) {
	var body TranscriptFileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"dir":      "string (required)",
				"filename": "string (required)",
			},
		})
		return
	}

	env, err := h.store.Load(body.Dir, body.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if env == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return
	}
	c.JSON(http.StatusOK, env)
}

// RestoreBody names a transcript to restore into a fresh session.
type RestoreBody struct {
	Dir        string `json:"dir" binding:"required"`
	Filename   string `json:"filename" binding:"required"`
	WorkingDir string `json:"workingDir"`
}

func (h *Handlers) httpRestoreTranscript(c *gin.Context) {
	var body RestoreBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload: " + err.Error(),
			"expected": gin.H{
				"dir":        "string (required)",
				"filename":   "string (required)",
				"workingDir": "string (optional, defaults to the saved cwd)",
			},
		})
		return
	}

	env, err := h.store.Load(body.Dir, body.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if env == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return
	}

	s := h.supervisor.Restore(env, body.WorkingDir)
	c.JSON(http.StatusOK, gin.H{
		"sessionId": s.ID,
		"name":      s.Name,
		"status":    s.Status(),
	})
}
