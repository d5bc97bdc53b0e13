// Package events provides event types and utilities for the tabhub event system.
package events

// Event types for browser windows
const (
	WindowConnected    = "window.connected"
	WindowDisconnected = "window.disconnected"
	WindowUpdated      = "window.updated"
	WindowFocused      = "window.focused"
	WindowReloaded     = "window.reloaded"
)

// Event types for assistant sessions
const (
	AgentSessionStarted = "agent.session.started"
	AgentSessionStatus  = "agent.session.status"
	AgentSessionEnded   = "agent.session.ended"
)

// Event types for the task board
const (
	TaskBoardChanged = "task.board.changed"
)

// Event types for the status line
const (
	StatusChanged = "status.changed"
)

// Wildcard subjects for subscribers that want a whole family of events.
const (
	AllWindowEvents       = "window.*"
	AllAgentSessionEvents = "agent.session.*"
)
