// Package main is the tabhub broker entry point. One binary runs the
// WebSocket hub, the REST surface, and the embedded MCP server with shared
// infrastructure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	// Common packages
	"github.com/tabhub/tabhub/internal/common/config"
	"github.com/tabhub/tabhub/internal/common/httpmw"
	"github.com/tabhub/tabhub/internal/common/logger"

	// Event bus
	"github.com/tabhub/tabhub/internal/events"
	"github.com/tabhub/tabhub/internal/events/bus"

	// Broker packages
	"github.com/tabhub/tabhub/internal/agents"
	"github.com/tabhub/tabhub/internal/browser"
	"github.com/tabhub/tabhub/internal/captures"
	"github.com/tabhub/tabhub/internal/hub"
	"github.com/tabhub/tabhub/internal/mcpserver"
	"github.com/tabhub/tabhub/internal/router"
	"github.com/tabhub/tabhub/internal/status"
	"github.com/tabhub/tabhub/internal/taskboard"
	"github.com/tabhub/tabhub/internal/terminals"
	"github.com/tabhub/tabhub/internal/tracing"
	"github.com/tabhub/tabhub/internal/transcripts"
	"github.com/tabhub/tabhub/internal/windows"
	"github.com/tabhub/tabhub/pkg/frame"
)

func main() {
	startedAt := time.Now()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting tabhub broker...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	eventBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer func() {
		if err := busCleanup(); err != nil {
			log.Error("Event bus cleanup error", zap.Error(err))
		}
	}()

	// ============================================
	// WEBSOCKET HUB
	// ============================================
	wsHub := hub.NewHub(cfg.Hub.ReplaySize, log)
	go wsHub.Run(ctx)

	// ============================================
	// WINDOW TABLE + BROWSER ROUTER
	// ============================================
	// A fresh server session id every boot: pages that identify with a stale
	// id are told to reload so their extension state matches the broker.
	serverSessionID := uuid.New().String()
	winSvc := windows.NewService(wsHub, eventBus, serverSessionID, log)
	browserRouter := router.NewRouter(winSvc, wsHub, cfg.Hub.DefaultTimeout(), log)

	wsHub.SetSystemFrameHandler(winSvc.HandleSystemFrame)
	wsHub.SetReplyHandler(browserRouter.HandleReply)
	wsHub.SetActivityHandler(winSvc.HandleActivity)

	log.Info("Window table initialized",
		zap.String("server_session_id", serverSessionID))

	// ============================================
	// AGENT SUPERVISOR
	// ============================================
	transcriptStore := transcripts.NewStore(".tabhub", log)
	supervisor := agents.NewSupervisor(agents.NewRunner(log), transcriptStore, agents.Defaults{
		Command:        cfg.Agent.Command,
		Model:          cfg.Agent.Model,
		AllowedTools:   cfg.Agent.AllowedTools,
		PermissionMode: cfg.Agent.PermissionMode,
		WorkingDir:     cfg.Board.Dir,
	}, eventBus, log)

	// Agent activity reaches /ws/agent observers as frames on the agent
	// channel, so a late-attaching dashboard replays recent session steps.
	supervisor.SetEventSink(func(ev agents.Event) {
		payload, err := agents.EventFrame(ev)
		if err != nil {
			return
		}
		f, err := frame.New(uuid.New().String(), "agent", "agent-event", frame.SourceBroker, payload)
		if err != nil {
			return
		}
		if data, err := json.Marshal(f); err == nil {
			wsHub.PublishToObservers(data)
		}
	})
	log.Info("Agent supervisor initialized", zap.String("command", cfg.Agent.Command))

	// ============================================
	// TASK BOARD
	// ============================================
	board := taskboard.NewService(cfg.Board.Dir, ".tabhub", eventBus, log)
	watcher, err := taskboard.NewWatcher(board, log)
	if err != nil {
		log.Warn("Board watcher unavailable - external edits will not be noticed", zap.Error(err))
		watcher = nil
	} else {
		watcher.Start(ctx)
	}
	log.Info("Task board initialized", zap.String("dir", cfg.Board.Dir))

	// ============================================
	// STATUS LINE + TERMINAL REGISTRY + CAPTURES
	// ============================================
	aggregator := status.NewAggregator(wsHub, eventBus, log)
	browserStatus := status.NewBrowserStatus(aggregator, winSvc, eventBus, log)
	if err := browserStatus.Start(); err != nil {
		log.Error("Failed to start browser status", zap.Error(err))
	}

	shells := terminals.NewRegistry(wsHub, log)
	shells.SetConnectedProbe(wsHub.TerminalConnected)

	snapshots := captures.NewCache(cfg.Captures.SnapshotCap)
	recordings := captures.NewCache(cfg.Captures.RecordingCap)

	// ============================================
	// DISCONNECT + EVENT WIRING
	// ============================================
	wsHub.OnDisconnect(func(peerID, role, sessionToken string) {
		winSvc.HandlePeerDisconnect(peerID, role)
	})
	wsHub.OnDisconnect(func(peerID, role, sessionToken string) {
		browserRouter.HandlePeerDisconnect(peerID, role)
	})
	wsHub.OnDisconnect(shells.HandlePeerDisconnect)

	// Board changes refresh the status line and nudge idle terminals.
	_, err = eventBus.Subscribe(events.TaskBoardChanged, func(ctx context.Context, event *bus.Event) error {
		summary, _ := event.Data["summary"].(string)
		aggregator.Update("tasks", summary)
		notifyTerminals(wsHub, frame.NoticePayload{
			Kind:      frame.NoticeKindBoard,
			Text:      summary,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		log.Error("Failed to subscribe to board changes", zap.Error(err))
	}

	// Agent lifecycle reaches terminals as notices: joins, leaves, and
	// status transitions.
	_, err = eventBus.Subscribe(events.AllAgentSessionEvents, func(ctx context.Context, event *bus.Event) error {
		name, _ := event.Data["name"].(string)
		if name == "" {
			return nil
		}
		var text string
		switch event.Type {
		case events.AgentSessionStarted:
			text = name + " joined"
			if restored, _ := event.Data["restored"].(bool); restored {
				text = name + " rejoined"
			}
		case events.AgentSessionEnded:
			text = name + " left"
		case events.AgentSessionStatus:
			state, _ := event.Data["status"].(string)
			if state == "" {
				return nil
			}
			text = fmt.Sprintf("%s is %s", name, state)
		default:
			return nil
		}
		notifyTerminals(wsHub, frame.NoticePayload{
			Kind:      frame.NoticeKindAgent,
			From:      name,
			Text:      text,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		log.Error("Failed to subscribe to agent lifecycle", zap.Error(err))
	}

	// ============================================
	// HTTP SERVER (WebSocket + REST endpoints)
	// ============================================
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(httpmw.RequestLogger(log, "tabhub"))
	engine.Use(httpmw.OtelTracing("tabhub"))

	// WebSocket mounts - primary realtime transport
	hub.NewWSHandler(wsHub, log).RegisterRoutes(engine)

	// REST surface
	browser.RegisterRoutes(engine, browserRouter, winSvc, aggregator, log)
	agents.RegisterRoutes(engine, supervisor, transcriptStore, log)
	taskboard.RegisterRoutes(engine, board, shells.NameFor, log)
	status.RegisterRoutes(engine, aggregator, log)
	terminals.RegisterRoutes(engine, shells, aggregator, sendToAgent(supervisor), log)
	captures.RegisterRoutes(engine, snapshots, recordings, log)
	log.Info("Registered broker handlers (WebSocket + REST)")

	// Health check (simple HTTP for probes/monitoring)
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startedAt).Round(time.Second).String(),
			"windows": winSvc.Count(),
			"agents":  len(supervisor.List()),
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Broker listening", zap.String("addr", cfg.Server.Addr()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// ============================================
	// MCP SERVER
	// ============================================
	var mcpCleanup func() error
	if cfg.MCP.Enabled {
		_, cleanup, err := mcpserver.Provide(ctx, mcpserver.Config{
			Port:      cfg.MCP.Port,
			BrokerURL: fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
		}, log)
		if err != nil {
			log.Error("Failed to start MCP server", zap.Error(err))
		} else {
			mcpCleanup = cleanup
			log.Info("MCP server listening", zap.Int("port", cfg.MCP.Port))
		}
	}

	// Print routes summary
	log.Info("API configured",
		zap.String("websocket", "/ws/{page,agent,terminal}"),
		zap.String("http", "/api/v1"),
		zap.String("health", "/health"),
	)

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down tabhub...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop children gracefully; Kill schedules a final transcript save.
	for _, info := range supervisor.List() {
		if err := supervisor.Kill(info.SessionID); err != nil {
			log.Error("Failed to stop agent session",
				zap.String("session_id", info.SessionID),
				zap.Error(err))
		}
	}

	if watcher != nil {
		watcher.Stop()
	}
	browserStatus.Stop()

	if mcpCleanup != nil {
		if err := mcpCleanup(); err != nil {
			log.Error("MCP server stop error", zap.Error(err))
		}
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("tabhub stopped")
}

// sendToAgent adapts the supervisor to the terminal surface: shells address
// agent sessions by name, the supervisor by session id.
func sendToAgent(supervisor *agents.Supervisor) terminals.AgentSender {
	return func(ctx context.Context, agentName, from, text string) (string, error) {
		s, ok := supervisor.FindByName(agentName)
		if !ok {
			return "", fmt.Errorf("agent %q not found", agentName)
		}
		result := supervisor.InterruptAndQueue(ctx, s.ID, from, text)
		if result == agents.ResultNotFound {
			return "", fmt.Errorf("agent %q not found", agentName)
		}
		return result, nil
	}
}

// notifyTerminals fans a notice frame out to every connected terminal.
func notifyTerminals(wsHub *hub.Hub, p frame.NoticePayload) {
	f, err := frame.NewSystem(frame.ActionNotice, p)
	if err != nil {
		return
	}
	if data, err := json.Marshal(f); err == nil {
		wsHub.BroadcastToTerminals(data)
	}
}

// corsMiddleware returns a CORS middleware for HTTP and WebSocket upgrades.
// The broker is a localhost control plane, so the policy is permissive.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, "+httpmw.SessionHeader+", Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
