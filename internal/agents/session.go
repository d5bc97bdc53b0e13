// Package agents supervises assistant CLI subprocesses: one session per
// caller, a child process per active turn, live input injection, and a
// transcript that survives the child.
package agents

import (
	"fmt"
	"sync"
	"time"

	"github.com/tabhub/tabhub/internal/transcripts"
)

// Session status values.
const (
	StatusIdle     = "idle"
	StatusThinking = "thinking"
	StatusDone     = "done"
	StatusError    = "error"
)

// Event kinds beyond the transcript entry kinds.
const (
	EventStatus = "status"
	EventResult = "result"
)

// Event is one observable step of a session: a transcript entry, a status
// transition, or a result summary.
type Event struct {
	SessionID  string    `json:"sessionId"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text,omitempty"`
	ToolName   string    `json:"toolName,omitempty"`
	ToolID     string    `json:"toolId,omitempty"`
	Status     string    `json:"status,omitempty"`
	CostUSD    float64   `json:"costUsd,omitempty"`
	DurationMS int64     `json:"durationMs,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventFunc receives session events as they happen.
type EventFunc func(Event)

// QueuedMessage is a mid-flight message waiting for the next prompt.
type QueuedMessage struct {
	From     string
	Text     string
	QueuedAt time.Time
}

// Session is one assistant conversation. The child handle is nil while no
// subprocess is running; the transcript and queue outlive any child.
type Session struct {
	ID         string
	Name       string
	WorkingDir string
	CreatedAt  time.Time

	// promptMu serializes prompt dispatch so concurrent prompts cannot
	// both observe "no child" and spawn twice.
	promptMu sync.Mutex

	mu              sync.Mutex
	status          string
	transcript      []transcripts.Entry
	messageQueue    []QueuedMessage
	restoredContext string
	child           ChildProcess
	toolSeq         int
	onEvent         EventFunc
}

func newSession(id, name, workingDir string) *Session {
	return &Session{
		ID:         id,
		Name:       name,
		WorkingDir: workingDir,
		CreatedAt:  time.Now().UTC(),
		status:     StatusIdle,
	}
}

// Status returns the current status string.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transcript returns a copy of the transcript entries.
func (s *Session) Transcript() []transcripts.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcripts.Entry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *Session) appendEntry(e transcripts.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, e)
}

// nextToolID synthesizes a stable id for tool_use blocks that arrive
// without one.
func (s *Session) nextToolID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolSeq++
	return fmt.Sprintf("tool-%d", s.toolSeq)
}

// envelope snapshots the session into the on-disk transcript format.
func (s *Session) envelope() *transcripts.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]transcripts.Entry, len(s.transcript))
	copy(entries, s.transcript)
	return &transcripts.Envelope{
		ShellID:    s.ID,
		Name:       s.Name,
		CreatedAt:  s.CreatedAt,
		CWD:        s.WorkingDir,
		Transcript: entries,
	}
}

// Info is the REST view of a session.
type Info struct {
	SessionID  string    `json:"sessionId"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	WorkingDir string    `json:"workingDir"`
	CreatedAt  time.Time `json:"createdAt"`
	Entries    int       `json:"entries"`
	Queued     int       `json:"queued"`
	Running    bool      `json:"running"`
}

// Info snapshots the session for listings.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:  s.ID,
		Name:       s.Name,
		Status:     s.status,
		WorkingDir: s.WorkingDir,
		CreatedAt:  s.CreatedAt,
		Entries:    len(s.transcript),
		Queued:     len(s.messageQueue),
		Running:    s.child != nil && s.child.Alive(),
	}
}
