package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/appctx"
	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/events"
	"github.com/tabhub/tabhub/internal/events/bus"
	"github.com/tabhub/tabhub/internal/transcripts"
	"github.com/tabhub/tabhub/pkg/assistant"
)

// InterruptAndQueue outcomes.
const (
	ResultSent     = "sent"
	ResultQueued   = "queued"
	ResultNotFound = "not_found"
)

// rawLineLimit is the longest non-JSON stdout line the supervisor will turn
// into a text event. Anything longer is noise (HTML dumps, base64 blobs).
const rawLineLimit = 1000

// Defaults configure spawns that do not override them.
type Defaults struct {
	Command        string
	Model          string
	AllowedTools   []string
	PermissionMode string
	WorkingDir     string
}

// PromptConfig carries per-prompt spawn overrides.
type PromptConfig struct {
	Profile        string   `json:"profile,omitempty"`
	Model          string   `json:"model,omitempty"`
	AllowedTools   []string `json:"allowedTools,omitempty"`
	PermissionMode string   `json:"permissionMode,omitempty"`
}

// Supervisor owns all agent sessions: it spawns assistant children, parses
// their stream-JSON output into transcript entries and events, and lets
// callers inject input or interrupt mid-flight.
type Supervisor struct {
	sessions *sessionMap
	names    *NamePool
	spawner  Spawner
	store    *transcripts.Store
	defaults Defaults
	bus      bus.EventBus
	sink     EventFunc
	logger   *logger.Logger
}

// NewSupervisor creates a supervisor. The spawner is the production Runner
// in the broker and a fake in tests.
func NewSupervisor(spawner Spawner, store *transcripts.Store, defaults Defaults, eventBus bus.EventBus, log *logger.Logger) *Supervisor {
	if defaults.PermissionMode == "" {
		defaults.PermissionMode = "acceptEdits"
	}
	return &Supervisor{
		sessions: newSessionMap(),
		names:    NewNamePool(),
		spawner:  spawner,
		store:    store,
		defaults: defaults,
		bus:      eventBus,
		logger:   log.WithComponent("agent-supervisor"),
	}
}

// SetEventSink wires the default consumer for session events, used when a
// prompt does not bring its own. Call before serving traffic.
func (sv *Supervisor) SetEventSink(fn EventFunc) {
	sv.sink = fn
}

// Register creates a session for the given id, or returns the existing one.
// An empty id gets a generated one. The returned bool is true when the
// session was created by this call.
func (sv *Supervisor) Register(sessionID, workingDir string) (*Session, bool) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if workingDir == "" {
		workingDir = sv.defaults.WorkingDir
	}

	s, created := sv.sessions.getOrCreate(sessionID, func() *Session {
		return newSession(sessionID, sv.names.Allocate(), workingDir)
	})
	if created {
		sv.publish(events.AgentSessionStarted, map[string]interface{}{
			"sessionId": s.ID,
			"name":      s.Name,
		})
		sv.logger.Info("Session created",
			zap.String("session_id", s.ID),
			zap.String("name", s.Name))
	}
	return s, created
}

// Get returns a session by id.
func (sv *Supervisor) Get(sessionID string) (*Session, bool) {
	return sv.sessions.get(sessionID)
}

// FindByName returns the live session with the given name.
func (sv *Supervisor) FindByName(name string) (*Session, bool) {
	return sv.sessions.findByName(name)
}

// List returns session snapshots ordered by creation time.
func (sv *Supervisor) List() []Info {
	return sv.sessions.list()
}

// Remove destroys a session: the child is interrupted, the transcript gets a
// final save, and the name returns to the pool.
func (sv *Supervisor) Remove(sessionID string) bool {
	s, ok := sv.sessions.remove(sessionID)
	if !ok {
		return false
	}

	s.mu.Lock()
	child := s.child
	s.child = nil
	s.status = StatusIdle
	s.mu.Unlock()

	if child != nil && child.Alive() {
		child.Interrupt()
	}
	sv.saveAsync(s)
	sv.names.Release(s.Name)

	sv.publish(events.AgentSessionEnded, map[string]interface{}{
		"sessionId": s.ID,
		"name":      s.Name,
	})
	sv.logger.Info("Session removed", zap.String("session_id", sessionID))
	return true
}

// Restore creates a fresh session that borrows the saved name and working
// directory but starts with an empty transcript. The condensed context of
// the old transcript rides along as a one-shot prelude for the first prompt.
// Prior restoration attempts that carried the full history forward corrupted
// sessions, so history stays behind on disk.
func (sv *Supervisor) Restore(env *transcripts.Envelope, workingDir string) *Session {
	if workingDir == "" {
		workingDir = env.CWD
	}

	sessionID := uuid.New().String()
	name := sv.names.Claim(env.Name)
	s, _ := sv.sessions.getOrCreate(sessionID, func() *Session {
		return newSession(sessionID, name, workingDir)
	})

	s.mu.Lock()
	s.restoredContext = transcripts.BuildRestoreContext(env, 20)
	s.mu.Unlock()

	sv.publish(events.AgentSessionStarted, map[string]interface{}{
		"sessionId": s.ID,
		"name":      s.Name,
		"restored":  true,
	})
	sv.logger.Info("Session restored",
		zap.String("session_id", s.ID),
		zap.String("name", s.Name),
		zap.String("from", env.ShellID))
	return s
}

// Prompt sends text to a session's assistant. With no child running it
// spawns one; with a live child it injects the text into its stdin. Queued
// messages drain first, each under a labeled envelope, and a restored
// session's one-shot context rides in front of everything.
func (sv *Supervisor) Prompt(ctx context.Context, sessionID, text, workingDir string, cfg PromptConfig, onEvent EventFunc) error {
	s, _ := sv.Register(sessionID, workingDir)

	s.promptMu.Lock()
	defer s.promptMu.Unlock()

	s.mu.Lock()
	if onEvent != nil {
		s.onEvent = onEvent
	}
	fullText := sv.composePromptLocked(s, text)
	child := s.child
	childAlive := child != nil && child.Alive()
	s.mu.Unlock()

	if childAlive {
		// Mid-flight injection: the running child picks the message up as
		// its next user turn.
		if err := child.Send(fullText); err != nil {
			return fmt.Errorf("failed to inject prompt: %w", err)
		}
		sv.recordUser(s, fullText)
		sv.setStatus(s, StatusThinking)
		return nil
	}

	spawnCfg, err := sv.buildSpawnConfig(s, cfg)
	if err != nil {
		return err
	}

	newChild, err := sv.spawner.Spawn(spawnCfg)
	if err != nil {
		sv.setStatus(s, StatusError)
		return fmt.Errorf("failed to start assistant: %w", err)
	}

	newChild.OnMessage(func(msg *assistant.Message) {
		sv.handleChildMessage(s, msg)
	})
	newChild.OnRawLine(func(line string) {
		sv.handleRawLine(s, line)
	})

	s.mu.Lock()
	s.child = newChild
	s.mu.Unlock()

	// The child outlives the prompting request; only interrupts stop it.
	go sv.runChild(appctx.Detach(ctx), s, newChild)

	if err := newChild.Send(fullText); err != nil {
		sv.logger.Error("Failed to write first prompt",
			zap.String("session_id", s.ID),
			zap.Error(err))
	}
	sv.recordUser(s, fullText)
	sv.setStatus(s, StatusThinking)
	return nil
}

// composePromptLocked builds the text actually sent to the child: one-shot
// restored context, queued messages in FIFO order, then the prompt itself.
// Caller holds s.mu.
func (sv *Supervisor) composePromptLocked(s *Session, text string) string {
	var parts []string

	if s.restoredContext != "" {
		parts = append(parts, s.restoredContext)
		s.restoredContext = ""
	}

	for _, qm := range s.messageQueue {
		from := qm.From
		if from == "" {
			from = "another session"
		}
		parts = append(parts, fmt.Sprintf("[message from %s] %s", from, qm.Text))
	}
	s.messageQueue = nil

	parts = append(parts, text)
	return strings.Join(parts, "\n\n")
}

// buildSpawnConfig merges defaults, the named profile, and per-prompt
// overrides, strongest last.
func (sv *Supervisor) buildSpawnConfig(s *Session, cfg PromptConfig) (SpawnConfig, error) {
	out := SpawnConfig{
		Command:        sv.defaults.Command,
		WorkingDir:     s.WorkingDir,
		Model:          sv.defaults.Model,
		AllowedTools:   sv.defaults.AllowedTools,
		PermissionMode: sv.defaults.PermissionMode,
	}

	if cfg.Profile != "" {
		profiles, err := LoadProfiles(s.WorkingDir)
		if err != nil {
			return out, fmt.Errorf("failed to load profiles: %w", err)
		}
		p, ok := profiles[cfg.Profile]
		if !ok {
			return out, fmt.Errorf("profile %q not found", cfg.Profile)
		}
		if p.Model != "" {
			out.Model = p.Model
		}
		if len(p.AllowedTools) > 0 {
			out.AllowedTools = p.AllowedTools
		}
		if p.PermissionMode != "" {
			out.PermissionMode = p.PermissionMode
		}
	}

	if cfg.Model != "" {
		out.Model = cfg.Model
	}
	if len(cfg.AllowedTools) > 0 {
		out.AllowedTools = cfg.AllowedTools
	}
	if cfg.PermissionMode != "" {
		out.PermissionMode = cfg.PermissionMode
	}
	return out, nil
}

// InterruptAndQueue queues a message for a session. A thinking session's
// child is interrupted so the next prompt restarts it with the queued
// message in front; an idle session gets the message as a prompt right away.
func (sv *Supervisor) InterruptAndQueue(ctx context.Context, sessionID, from, message string) string {
	s, ok := sv.sessions.get(sessionID)
	if !ok {
		return ResultNotFound
	}

	s.mu.Lock()
	child := s.child
	childAlive := child != nil && child.Alive()
	if childAlive {
		s.messageQueue = append(s.messageQueue, QueuedMessage{
			From:     from,
			Text:     message,
			QueuedAt: time.Now().UTC(),
		})
		s.child = nil
	}
	s.mu.Unlock()

	if childAlive {
		child.Interrupt()
		sv.setStatus(s, StatusIdle)
		sv.logger.Info("Interrupted session with queued message",
			zap.String("session_id", sessionID),
			zap.String("from", from))
		return ResultQueued
	}

	text := message
	if from != "" {
		text = fmt.Sprintf("[message from %s] %s", from, message)
	}
	if err := sv.Prompt(ctx, sessionID, text, s.WorkingDir, PromptConfig{}, nil); err != nil {
		sv.logger.Error("Failed to deliver message to idle session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return ResultNotFound
	}
	return ResultSent
}

// Kill interrupts the child and marks the session idle immediately. The OS
// escalates if the child lingers; a follow-up prompt starts a fresh child.
func (sv *Supervisor) Kill(sessionID string) error {
	s, ok := sv.sessions.get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	s.mu.Lock()
	child := s.child
	s.child = nil
	s.mu.Unlock()

	if child != nil && child.Alive() {
		child.Interrupt()
	}
	sv.setStatus(s, StatusIdle)
	sv.saveAsync(s)
	sv.logger.Info("Session killed", zap.String("session_id", sessionID))
	return nil
}

// SendToChild writes one user message line to the child's stdin without
// touching session status. This is the raw mid-flight injection path.
func (sv *Supervisor) SendToChild(sessionID, text string) error {
	s, ok := sv.sessions.get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	s.mu.Lock()
	child := s.child
	s.mu.Unlock()

	if child == nil || !child.Alive() {
		return fmt.Errorf("session %s has no running assistant", sessionID)
	}
	return child.Send(text)
}

// runChild pumps the child until exit and applies the exit transition:
// clean exit parks the session idle, a non-zero exit with stderr output
// marks it errored. A session already detached from this child (kill,
// interrupt) keeps the state those paths set.
func (sv *Supervisor) runChild(ctx context.Context, s *Session, child ChildProcess) {
	code, stderr := child.Run(ctx)

	s.mu.Lock()
	current := s.child == child
	if current {
		s.child = nil
	}
	s.mu.Unlock()

	sv.logger.Info("Assistant child exited",
		zap.String("session_id", s.ID),
		zap.Int("exit_code", code),
		zap.Bool("current", current))

	if current {
		switch {
		case code == 0:
			sv.setStatus(s, StatusIdle)
		case stderr != "":
			sv.logger.Warn("Assistant child failed",
				zap.String("session_id", s.ID),
				zap.Int("exit_code", code),
				zap.String("stderr", stderr))
			sv.setStatus(s, StatusError)
		default:
			sv.setStatus(s, StatusIdle)
		}
	}
	sv.saveAsync(s)
}

// handleChildMessage turns one parsed stdout message into transcript entries
// and events. Exactly one entry per text, tool_use, and tool_result block.
func (sv *Supervisor) handleChildMessage(s *Session, msg *assistant.Message) {
	switch msg.Type {
	case assistant.MessageTypeSystem:
		// Init frames carry model/session metadata, nothing for the UI.
		return

	case assistant.MessageTypeAssistant:
		if msg.Message == nil {
			return
		}
		for i := range msg.Message.Content {
			block := &msg.Message.Content[i]
			switch block.Type {
			case assistant.ContentTypeText:
				if block.Text == "" {
					continue
				}
				sv.record(s, transcripts.Entry{
					Kind:      transcripts.EntryAssistantText,
					Text:      block.Text,
					Timestamp: time.Now().UTC(),
				})
			case assistant.ContentTypeToolUse:
				toolID := block.ID
				if toolID == "" {
					toolID = s.nextToolID()
				}
				sv.record(s, transcripts.Entry{
					Kind:      transcripts.EntryToolCall,
					Text:      block.InputString(),
					ToolName:  block.Name,
					ToolID:    toolID,
					Timestamp: time.Now().UTC(),
				})
			}
		}

	case assistant.MessageTypeUser:
		if msg.Message == nil {
			return
		}
		for i := range msg.Message.Content {
			block := &msg.Message.Content[i]
			if block.Type != assistant.ContentTypeToolResult {
				continue
			}
			sv.record(s, transcripts.Entry{
				Kind:      transcripts.EntryToolResult,
				Text:      block.ResultText(),
				ToolID:    block.ToolUseID,
				Timestamp: time.Now().UTC(),
			})
		}

	case assistant.MessageTypeResult:
		sv.emit(s, Event{
			SessionID:  s.ID,
			Kind:       EventResult,
			Text:       msg.ResultString(),
			CostUSD:    msg.CostUSD,
			DurationMS: msg.DurationMS,
			Timestamp:  time.Now().UTC(),
		})
		// The turn is finished; the child stays alive for the next prompt.
		sv.setStatus(s, StatusDone)
	}
}

// handleRawLine deals with stdout lines that are not protocol messages.
// Long lines and lines that look like HTML or base64 noise are dropped;
// short plain text becomes a system event.
func (sv *Supervisor) handleRawLine(s *Session, line string) {
	line = strings.TrimSpace(line)
	if line == "" || len(line) > rawLineLimit || looksLikeNoise(line) {
		return
	}
	sv.record(s, transcripts.Entry{
		Kind:      transcripts.EntrySystem,
		Text:      line,
		Timestamp: time.Now().UTC(),
	})
}

// looksLikeNoise spots HTML fragments and base64 blobs leaking into stdout.
func looksLikeNoise(line string) bool {
	if strings.HasPrefix(line, "<") && strings.Contains(line, ">") {
		return true
	}
	if len(line) >= 120 && !strings.ContainsAny(line, " \t") {
		base64ish := true
		for _, r := range line {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
				r == '+', r == '/', r == '=', r == '-', r == '_':
			default:
				base64ish = false
			}
			if !base64ish {
				break
			}
		}
		return base64ish
	}
	return false
}

// recordUser appends the user's prompt to the transcript.
func (sv *Supervisor) recordUser(s *Session, text string) {
	sv.record(s, transcripts.Entry{
		Kind:      transcripts.EntryUser,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

// record appends one transcript entry, emits the matching event, and
// schedules a best-effort save.
func (sv *Supervisor) record(s *Session, e transcripts.Entry) {
	s.appendEntry(e)
	sv.emit(s, Event{
		SessionID: s.ID,
		Kind:      e.Kind,
		Text:      e.Text,
		ToolName:  e.ToolName,
		ToolID:    e.ToolID,
		Timestamp: e.Timestamp,
	})
	sv.saveAsync(s)
}

// setStatus applies a status transition and announces it.
func (sv *Supervisor) setStatus(s *Session, status string) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()

	sv.emit(s, Event{
		SessionID: s.ID,
		Kind:      EventStatus,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
	sv.publish(events.AgentSessionStatus, map[string]interface{}{
		"sessionId": s.ID,
		"name":      s.Name,
		"status":    status,
	})
}

// emit hands an event to the session's consumer, falling back to the
// supervisor-wide sink.
func (sv *Supervisor) emit(s *Session, ev Event) {
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	if fn == nil {
		fn = sv.sink
	}
	if fn != nil {
		fn(ev)
	}
}

// saveAsync persists the transcript in the background. Persistence is
// best-effort: failures are logged, never surfaced.
func (sv *Supervisor) saveAsync(s *Session) {
	if sv.store == nil {
		return
	}
	env := s.envelope()
	go func() {
		if _, err := sv.store.Save(env); err != nil {
			sv.logger.Warn("Transcript save failed",
				zap.String("session_id", env.ShellID),
				zap.Error(err))
		}
	}()
}

func (sv *Supervisor) publish(eventType string, data map[string]interface{}) {
	if sv.bus == nil {
		return
	}
	if err := sv.bus.Publish(context.Background(), eventType, bus.NewEvent(eventType, "agents", data)); err != nil {
		sv.logger.Error("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

// EventFrame renders an event as an opaque frame payload for observers.
func EventFrame(ev Event) (json.RawMessage, error) {
	return json.Marshal(ev)
}

// sessionMap is the concurrency-safe session registry.
type sessionMap struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newSessionMap() *sessionMap {
	return &sessionMap{sessions: make(map[string]*Session)}
}

func (m *sessionMap) getOrCreate(id string, build func() *Session) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, false
	}
	s := build()
	m.sessions[id] = s
	return s, true
}

func (m *sessionMap) get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *sessionMap) findByName(name string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

func (m *sessionMap) remove(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return s, ok
}

func (m *sessionMap) list() []Info {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	return out
}
