// Package integration provides end-to-end tests for the tabhub broker: real
// WebSocket pages against the full REST surface, wired the way cmd/tabhub
// wires production.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tabhub/tabhub/internal/agents"
	"github.com/tabhub/tabhub/internal/browser"
	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/events/bus"
	"github.com/tabhub/tabhub/internal/hub"
	"github.com/tabhub/tabhub/internal/router"
	"github.com/tabhub/tabhub/internal/status"
	"github.com/tabhub/tabhub/internal/taskboard"
	"github.com/tabhub/tabhub/internal/terminals"
	"github.com/tabhub/tabhub/internal/transcripts"
	"github.com/tabhub/tabhub/internal/windows"
	"github.com/tabhub/tabhub/pkg/assistant"
)

// brokerServer is the full broker stack on an httptest listener.
type brokerServer struct {
	Server     *httptest.Server
	Hub        *hub.Hub
	Windows    *windows.Service
	Router     *router.Router
	Supervisor *agents.Supervisor
	Spawner    *scriptedSpawner
	Board      *taskboard.Service
	Aggregator *status.Aggregator
	Shells     *terminals.Registry
	EventBus   bus.EventBus
	Logger     *logger.Logger
	BoardDir   string

	cancel context.CancelFunc
}

// newBrokerServer assembles the broker the way cmd/tabhub does, with a
// scripted spawner instead of real subprocesses and a temp board directory.
func newBrokerServer(t *testing.T) *brokerServer {
	t.Helper()

	// Quiet logger for tests
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	eventBus := bus.NewMemoryEventBus(log)

	wsHub := hub.NewHub(100, log)
	go wsHub.Run(ctx)

	winSvc := windows.NewService(wsHub, eventBus, "boot-test", log)
	rt := router.NewRouter(winSvc, wsHub, 2*time.Second, log)

	wsHub.SetSystemFrameHandler(winSvc.HandleSystemFrame)
	wsHub.SetReplyHandler(rt.HandleReply)
	wsHub.SetActivityHandler(winSvc.HandleActivity)
	wsHub.OnDisconnect(func(peerID, role, sessionToken string) {
		winSvc.HandlePeerDisconnect(peerID, role)
	})
	wsHub.OnDisconnect(func(peerID, role, sessionToken string) {
		rt.HandlePeerDisconnect(peerID, role)
	})

	boardDir := t.TempDir()
	store := transcripts.NewStore(".tabhub", log)
	spawner := &scriptedSpawner{}
	supervisor := agents.NewSupervisor(spawner, store, agents.Defaults{
		Command:        "mock-assistant",
		PermissionMode: "acceptEdits",
		WorkingDir:     boardDir,
	}, eventBus, log)

	board := taskboard.NewService(boardDir, ".tabhub", eventBus, log)
	aggregator := status.NewAggregator(wsHub, eventBus, log)

	shells := terminals.NewRegistry(wsHub, log)
	shells.SetConnectedProbe(wsHub.TerminalConnected)
	wsHub.OnDisconnect(shells.HandlePeerDisconnect)

	gin.SetMode(gin.TestMode)
	engine := gin.New()

	hub.NewWSHandler(wsHub, log).RegisterRoutes(engine)
	browser.RegisterRoutes(engine, rt, winSvc, aggregator, log)
	agents.RegisterRoutes(engine, supervisor, store, log)
	taskboard.RegisterRoutes(engine, board, shells.NameFor, log)
	status.RegisterRoutes(engine, aggregator, log)

	server := httptest.NewServer(engine)

	ts := &brokerServer{
		Server:     server,
		Hub:        wsHub,
		Windows:    winSvc,
		Router:     rt,
		Supervisor: supervisor,
		Spawner:    spawner,
		Board:      board,
		Aggregator: aggregator,
		Shells:     shells,
		EventBus:   eventBus,
		Logger:     log,
		BoardDir:   boardDir,
		cancel:     cancel,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close tears the broker down and reaps any children still scripted alive.
func (ts *brokerServer) Close() {
	ts.cancel()
	for i := 0; i < ts.Spawner.spawnCount(); i++ {
		ts.Spawner.child(i).exit(0, "")
	}
	ts.Server.Close()
}

// waitWindows blocks until the window table holds n entries.
func (ts *brokerServer) waitWindows(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ts.Windows.Count() == n
	}, 2*time.Second, 10*time.Millisecond, "window table never reached %d entries", n)
}

// scriptedChild is a fake assistant subprocess under supervisor control.
type scriptedChild struct {
	mu          sync.Mutex
	sent        []string
	interrupted bool
	onMessage   assistant.MessageHandler

	exitCode   int
	exitStderr string
	exitCh     chan struct{}
	exitOnce   sync.Once
}

func newScriptedChild() *scriptedChild {
	return &scriptedChild{exitCh: make(chan struct{})}
}

func (c *scriptedChild) OnMessage(h assistant.MessageHandler) { c.onMessage = h }
func (c *scriptedChild) OnRawLine(h assistant.RawLineHandler) {}

func (c *scriptedChild) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *scriptedChild) SendRaw(line string) error { return c.Send(line) }

func (c *scriptedChild) Alive() bool {
	select {
	case <-c.exitCh:
		return false
	default:
		return true
	}
}

func (c *scriptedChild) Interrupt() {
	c.mu.Lock()
	c.interrupted = true
	c.mu.Unlock()
	c.exit(143, "")
}

func (c *scriptedChild) Run(ctx context.Context) (int, string) {
	<-c.exitCh
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode, c.exitStderr
}

func (c *scriptedChild) exit(code int, stderr string) {
	c.exitOnce.Do(func() {
		c.mu.Lock()
		c.exitCode = code
		c.exitStderr = stderr
		c.mu.Unlock()
		close(c.exitCh)
	})
}

func (c *scriptedChild) sentLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *scriptedChild) wasInterrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// scriptedSpawner hands out scripted children in spawn order.
type scriptedSpawner struct {
	mu       sync.Mutex
	children []*scriptedChild
}

func (s *scriptedSpawner) Spawn(cfg agents.SpawnConfig) (agents.ChildProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := newScriptedChild()
	s.children = append(s.children, c)
	return c, nil
}

func (s *scriptedSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

func (s *scriptedSpawner) child(i int) *scriptedChild {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.children[i]
}

// doJSON issues a request against the broker and decodes the JSON response
// into out (skipped when out is nil). The response body is fully consumed.
func (ts *brokerServer) doJSON(t *testing.T, method, path string, headers map[string]string, body, out interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.Server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp
}

func (ts *brokerServer) postJSON(t *testing.T, path string, body, out interface{}) *http.Response {
	t.Helper()
	return ts.doJSON(t, http.MethodPost, path, nil, body, out)
}

func (ts *brokerServer) getJSON(t *testing.T, path string, out interface{}) *http.Response {
	t.Helper()
	return ts.doJSON(t, http.MethodGet, path, nil, nil, out)
}
