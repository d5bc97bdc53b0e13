package frame

import "time"

// Window kinds reported in identity payloads.
const (
	WindowTypeTab    = "tab"
	WindowTypePopup  = "popup"
	WindowTypeIframe = "iframe"
)

// IdentityPayload is the first system frame a page sends after connecting.
// Active defaults to true when omitted.
type IdentityPayload struct {
	WindowID        string `json:"windowId"`
	PageInstanceID  string `json:"pageInstanceId"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	Active          *bool  `json:"active,omitempty"`
	WindowType      string `json:"windowType,omitempty"`
	ServerSessionID string `json:"serverSessionId,omitempty"`
}

// IsActive applies the default-true rule.
func (p *IdentityPayload) IsActive() bool {
	return p.Active == nil || *p.Active
}

// WindowUpdatePayload patches window metadata. Nil fields are untouched.
type WindowUpdatePayload struct {
	WindowID string  `json:"windowId,omitempty"`
	URL      *string `json:"url,omitempty"`
	Title    *string `json:"title,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}

// WindowSummary is the wire shape of one window in window-state frames and
// REST listings.
type WindowSummary struct {
	WindowID       string    `json:"windowId"`
	PageInstanceID string    `json:"pageInstanceId"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Active         bool      `json:"active"`
	WindowType     string    `json:"windowType"`
	Label          string    `json:"label,omitempty"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastSeen       time.Time `json:"lastSeen"`
}

// WindowStatePayload announces the current window table to peers.
type WindowStatePayload struct {
	Windows []WindowSummary `json:"windows"`
	Focused string          `json:"focused,omitempty"`
}

// StatusPayload carries the aggregated status line to terminals.
type StatusPayload struct {
	Line  string            `json:"line"`
	Items map[string]string `json:"items,omitempty"`
}

// NoticePayload carries push messages, DMs, and board-change nudges to
// terminals.
type NoticePayload struct {
	Kind      string    `json:"kind"`
	From      string    `json:"from,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Notice kinds.
const (
	NoticeKindPush  = "push"
	NoticeKindDM    = "dm"
	NoticeKindBoard = "board"
	NoticeKindAgent = "agent"
	NoticeKindShell = "shell"
)
