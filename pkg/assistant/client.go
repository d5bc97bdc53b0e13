package assistant

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/tabhub/tabhub/internal/common/logger"
)

// MessageHandler receives each parsed stdout message.
type MessageHandler func(msg *Message)

// RawLineHandler receives stdout lines that are not valid protocol messages.
type RawLineHandler func(line string)

// Client reads stream-JSON messages from a CLI's stdout and writes user
// messages to its stdin. Run blocks until the stdout stream closes, so it
// slots into an errgroup alongside the stderr drain and process wait.
type Client struct {
	stdin  io.Writer
	stdout io.Reader
	logger *logger.Logger

	onMessage MessageHandler
	onRaw     RawLineHandler

	writeMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewClient creates a client over the CLI's pipes.
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	return &Client{
		stdin:  stdin,
		stdout: stdout,
		logger: log.WithComponent("assistant-client"),
		done:   make(chan struct{}),
	}
}

// OnMessage sets the handler for parsed protocol messages.
func (c *Client) OnMessage(h MessageHandler) {
	c.onMessage = h
}

// OnRawLine sets the handler for non-protocol stdout lines.
func (c *Client) OnRawLine(h RawLineHandler) {
	c.onRaw = h
}

// Run reads stdout line by line until EOF, ctx cancellation, or Stop.
// Returns nil on a clean EOF.
func (c *Client) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.stdout)
	// Assistant output lines can be large (tool results, file dumps).
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		c.handleLine(line)
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-c.done:
			return nil
		default:
		}
		return fmt.Errorf("stdout read failed: %w", err)
	}
	return nil
}

// Stop ends the read loop. Safe to call multiple times.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) handleLine(line string) {
	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Type == "" {
		if c.onRaw != nil {
			c.onRaw(line)
		}
		return
	}
	msg.Raw = json.RawMessage(line)
	if c.onMessage != nil {
		c.onMessage(&msg)
	}
}

// SendUserMessage writes one user prompt frame to stdin.
func (c *Client) SendUserMessage(content string) error {
	return c.send(NewUserMessage(content))
}

// SendLine writes one raw line to stdin. The caller is responsible for the
// line being a complete JSON document.
func (c *Client) SendLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(append([]byte(line), '\n')); err != nil {
		return fmt.Errorf("failed to write to stdin: %w", err)
	}
	return nil
}

func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to stdin: %w", err)
	}
	return nil
}
