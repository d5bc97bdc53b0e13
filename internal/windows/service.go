package windows

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/events"
	"github.com/tabhub/tabhub/internal/events/bus"
	"github.com/tabhub/tabhub/internal/hub"
	"github.com/tabhub/tabhub/pkg/frame"
)

// Broadcaster is the slice of the hub the window service talks to.
type Broadcaster interface {
	SendToPeer(peerID string, data []byte) bool
	ClosePeer(peerID string)
	BroadcastToPages(data []byte)
}

// Service owns the window table and reacts to page system frames: identity
// claims, metadata updates, disconnects, and explicit focus changes. Every
// table change is announced to pages as a window-state frame and to the
// event bus.
type Service struct {
	table    *Table
	affinity *Affinity
	resolver *Resolver
	dispatch *frame.Dispatcher

	hub             Broadcaster
	bus             bus.EventBus
	serverSessionID string
	logger          *logger.Logger
}

// NewService creates the window service. serverSessionID is the broker's
// per-boot id; pages announcing a different one get a reload nudge.
func NewService(broadcaster Broadcaster, eventBus bus.EventBus, serverSessionID string, log *logger.Logger) *Service {
	table := NewTable()
	affinity := NewAffinity()
	s := &Service{
		table:           table,
		affinity:        affinity,
		resolver:        NewResolver(table, affinity),
		dispatch:        frame.NewDispatcher(),
		hub:             broadcaster,
		bus:             eventBus,
		serverSessionID: serverSessionID,
		logger:          log.WithComponent("windows"),
	}
	s.registerSystemHandlers()
	return s
}

func (s *Service) registerSystemHandlers() {
	s.dispatch.RegisterFunc(frame.ActionIdentity, func(ctx context.Context, peerID string, f *frame.Frame) error {
		var p frame.IdentityPayload
		if err := f.ParsePayload(&p); err != nil {
			return fmt.Errorf("invalid identity payload: %w", err)
		}
		s.handleIdentity(ctx, peerID, &p)
		return nil
	})
	s.dispatch.RegisterFunc(frame.ActionWindowUpdated, func(ctx context.Context, peerID string, f *frame.Frame) error {
		var p frame.WindowUpdatePayload
		if err := f.ParsePayload(&p); err != nil {
			return fmt.Errorf("invalid window update payload: %w", err)
		}
		s.handleUpdate(ctx, peerID, &p)
		return nil
	})
}

// HandleSystemFrame consumes page system frames from the hub. Actions without
// a registered handler are dropped; pages emit more than the broker consumes.
func (s *Service) HandleSystemFrame(ctx context.Context, peerID string, f *frame.Frame) {
	if !s.dispatch.HasHandler(f.Action) {
		s.logger.Debug("Ignoring system frame",
			zap.String("peer_id", peerID),
			zap.String("action", f.Action))
		return
	}
	if err := s.dispatch.Dispatch(ctx, peerID, f); err != nil {
		s.logger.Warn("System frame rejected",
			zap.String("peer_id", peerID),
			zap.String("action", f.Action),
			zap.Error(err))
	}
}

func (s *Service) handleIdentity(ctx context.Context, peerID string, p *frame.IdentityPayload) {
	if p.WindowID == "" || p.PageInstanceID == "" {
		s.logger.Warn("Identity frame missing windowId or pageInstanceId",
			zap.String("peer_id", peerID))
		return
	}

	windowType := p.WindowType
	if windowType == "" {
		windowType = frame.WindowTypeTab
	}

	res := s.table.Claim(p.WindowID, p.PageInstanceID, peerID, p.URL, p.Title, p.IsActive(), windowType)

	if res.Evicted != "" && res.Evicted != peerID {
		s.logger.Info("Window claimed by new peer, evicting previous owner",
			zap.String("window_id", p.WindowID),
			zap.String("evicted_peer", res.Evicted))
		s.hub.ClosePeer(res.Evicted)
	}

	// A page built against an older broker run carries a stale session id;
	// nudge it to re-bootstrap. The window is registered either way.
	if p.ServerSessionID != "" && p.ServerSessionID != s.serverSessionID {
		s.sendSystem(peerID, frame.ActionReload, map[string]string{
			"serverSessionId": s.serverSessionID,
		})
	}

	switch {
	case res.New:
		s.publish(ctx, events.WindowConnected, map[string]interface{}{
			"windowId":   res.Window.WindowID,
			"url":        res.Window.URL,
			"title":      res.Window.Title,
			"windowType": res.Window.WindowType,
			"label":      res.Window.Label,
		})
	case res.Reloaded:
		s.publish(ctx, events.WindowReloaded, map[string]interface{}{
			"windowId":       res.Window.WindowID,
			"pageInstanceId": res.Window.PageInstanceID,
		})
	default:
		s.publish(ctx, events.WindowUpdated, map[string]interface{}{
			"windowId": res.Window.WindowID,
		})
	}
	if res.FocusChanged {
		s.publish(ctx, events.WindowFocused, map[string]interface{}{
			"windowId": res.Window.WindowID,
		})
	}

	s.broadcastWindowState()
}

func (s *Service) handleUpdate(ctx context.Context, peerID string, p *frame.WindowUpdatePayload) {
	windowID := p.WindowID
	if windowID == "" {
		// Fall back to the sender's claimed window.
		if w, ok := s.table.GetByPeer(peerID); ok {
			windowID = w.WindowID
		}
	}

	w, ok := s.table.Update(windowID, p.URL, p.Title, p.Active)
	if !ok {
		s.logger.Debug("Update for unknown window",
			zap.String("peer_id", peerID),
			zap.String("window_id", windowID))
		return
	}

	s.publish(ctx, events.WindowUpdated, map[string]interface{}{
		"windowId": w.WindowID,
		"url":      w.URL,
		"title":    w.Title,
		"active":   w.Active,
	})
	s.broadcastWindowState()
}

// HandlePeerDisconnect is the hub teardown hook for page peers.
func (s *Service) HandlePeerDisconnect(peerID, role string) {
	if role != hub.RolePage {
		return
	}

	res := s.table.ReleaseByPeer(peerID)
	if !res.Released {
		return
	}

	ctx := context.Background()
	s.publish(ctx, events.WindowDisconnected, map[string]interface{}{
		"windowId": res.Window.WindowID,
	})
	if res.FocusChanged {
		s.publish(ctx, events.WindowFocused, map[string]interface{}{
			"windowId": res.FocusedID,
		})
	}

	s.broadcastWindowState()
}

// HandleActivity is the hub per-frame hook, keeping LastSeen honest for
// most-recently-seen targeting.
func (s *Service) HandleActivity(peerID string) {
	s.table.TouchPeer(peerID)
}

// Focus explicitly points the focus pointer at a window. The gaining page
// receives an activate frame, the losing page a deactivate frame, and all
// pages see the focus pointer move.
func (s *Service) Focus(ctx context.Context, windowID string) error {
	prevID := s.table.FocusedID()

	w, ok := s.table.Focus(windowID)
	if !ok {
		return fmt.Errorf("Window %s not found", windowID)
	}

	s.sendSystem(w.PeerID, frame.ActionActivate, map[string]string{"windowId": windowID})
	if prevID != "" && prevID != windowID {
		if prev, ok := s.table.Get(prevID); ok {
			s.sendSystem(prev.PeerID, frame.ActionDeactivate, map[string]string{"windowId": prevID})
		}
	}
	s.broadcastFocus(windowID)

	s.publish(ctx, events.WindowFocused, map[string]interface{}{
		"windowId": windowID,
	})
	s.broadcastWindowState()
	return nil
}

// Resolve picks the target window for a routed call.
func (s *Service) Resolve(explicitWindowID, sessionToken string) (Window, error) {
	return s.resolver.Resolve(explicitWindowID, sessionToken)
}

// BindAffinity records an explicit-target success for a session.
func (s *Service) BindAffinity(sessionToken, windowID string) {
	s.affinity.Bind(sessionToken, windowID)
}

// List returns window snapshots in connection order.
func (s *Service) List() []Window {
	return s.table.List()
}

// Get returns one window.
func (s *Service) Get(windowID string) (Window, bool) {
	return s.table.Get(windowID)
}

// Focused returns the focused window, if any.
func (s *Service) Focused() (Window, bool) {
	return s.table.Focused()
}

// FocusedID returns the focused window id.
func (s *Service) FocusedID() string {
	return s.table.FocusedID()
}

// Count returns the number of connected windows.
func (s *Service) Count() int {
	return s.table.Count()
}

// Summaries renders the current table as wire summaries.
func (s *Service) Summaries() []frame.WindowSummary {
	all := s.table.List()
	out := make([]frame.WindowSummary, 0, len(all))
	for _, w := range all {
		out = append(out, frame.WindowSummary{
			WindowID:       w.WindowID,
			PageInstanceID: w.PageInstanceID,
			URL:            w.URL,
			Title:          w.Title,
			Active:         w.Active,
			WindowType:     w.WindowType,
			Label:          w.Label,
			ConnectedAt:    w.ConnectedAt,
			LastSeen:       w.LastSeen,
		})
	}
	return out
}

func (s *Service) broadcastWindowState() {
	payload := frame.WindowStatePayload{
		Windows: s.Summaries(),
		Focused: s.table.FocusedID(),
	}
	s.broadcastSystem(frame.ActionWindowState, payload)
}

func (s *Service) broadcastFocus(windowID string) {
	s.broadcastSystem(frame.ActionFocus, map[string]string{"windowId": windowID})
}

func (s *Service) broadcastSystem(action string, payload interface{}) {
	f, err := frame.NewSystem(action, payload)
	if err != nil {
		s.logger.Error("Failed to build system frame", zap.String("action", action), zap.Error(err))
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		s.logger.Error("Failed to marshal system frame", zap.String("action", action), zap.Error(err))
		return
	}
	s.hub.BroadcastToPages(data)
}

func (s *Service) sendSystem(peerID, action string, payload interface{}) {
	f, err := frame.NewSystem(action, payload)
	if err != nil {
		s.logger.Error("Failed to build system frame", zap.String("action", action), zap.Error(err))
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		s.logger.Error("Failed to marshal system frame", zap.String("action", action), zap.Error(err))
		return
	}
	s.hub.SendToPeer(peerID, data)
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if err := s.bus.Publish(ctx, eventType, bus.NewEvent(eventType, "windows", data)); err != nil {
		s.logger.Error("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
