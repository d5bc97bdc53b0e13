// Package assistant implements the line-delimited stream-JSON protocol spoken
// by assistant CLI subprocesses: message types on stdout, user messages on
// stdin, one JSON document per line.
package assistant

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Message types emitted by the CLI on stdout.
const (
	MessageTypeSystem    = "system"
	MessageTypeAssistant = "assistant"
	MessageTypeUser      = "user"
	MessageTypeResult    = "result"
)

// Content block types inside chat messages.
const (
	ContentTypeText       = "text"
	ContentTypeThinking   = "thinking"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
)

// Message is one parsed stdout line from the CLI.
type Message struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Message   *ChatMessage `json:"message,omitempty"`

	// Result frame fields.
	Result     json.RawMessage `json:"result,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	NumTurns   int             `json:"num_turns,omitempty"`

	// Raw holds the original line for passthrough and debugging.
	Raw json.RawMessage `json:"-"`
}

// ChatMessage is the message body of assistant and user frames.
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
}

// ContentBlock is one block inside a chat message. Fields are populated
// according to Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text / thinking
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// InputString renders a tool_use input deterministically whether the CLI
// sent a bare string or a structured object.
func (b *ContentBlock) InputString() string {
	if len(b.Input) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Input, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b.Input); err != nil {
		return string(b.Input)
	}
	return buf.String()
}

// ResultText flattens a tool_result content value, which arrives either as a
// plain string or as a list of text blocks.
func (b *ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, blk := range blocks {
			if blk.Type == ContentTypeText && blk.Text != "" {
				parts = append(parts, blk.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(b.Content)
}

// ResultString returns the result frame payload as text when it is a plain
// JSON string, otherwise the raw JSON.
func (m *Message) ResultString() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err == nil {
		return s
	}
	return string(m.Result)
}

// UserMessage is the stdin frame wrapping one user prompt.
type UserMessage struct {
	Type    string          `json:"type"`
	Message UserMessageBody `json:"message"`
}

// UserMessageBody carries the prompt content.
type UserMessageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage builds a stdin frame for the given prompt text.
func NewUserMessage(content string) *UserMessage {
	return &UserMessage{
		Type: MessageTypeUser,
		Message: UserMessageBody{
			Role:    "user",
			Content: content,
		},
	}
}
