package integration

import (
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tabhub/tabhub/pkg/frame"
)

// pageClient is a WebSocket page: it identifies itself on connect and
// answers routed frames with whatever the reply script returns.
type pageClient struct {
	conn     *websocket.Conn
	windowID string

	// routed carries non-system frames addressed to this page.
	routed chan *frame.Frame
	// system carries broker control frames (window-state, activate, ...).
	system chan *frame.Frame

	reply func(f *frame.Frame) *frame.Reply

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// replyFrom scripts a page that answers every routed frame successfully,
// tagging the reply data with the given label.
func replyFrom(label string) func(f *frame.Frame) *frame.Reply {
	return func(f *frame.Frame) *frame.Reply {
		r, err := frame.NewReply(f.ID, map[string]string{"from": label})
		if err != nil {
			return nil
		}
		return r
	}
}

// dialPage connects a page to /ws/page and sends its identity frame.
// A nil reply script makes the page silent (never answers routed frames).
func dialPage(t *testing.T, ts *brokerServer, windowID, pageURL, title string, reply func(f *frame.Frame) *frame.Reply) *pageClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.Server.URL, "http") + "/ws/page"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	c := &pageClient{
		conn:     conn,
		windowID: windowID,
		routed:   make(chan *frame.Frame, 64),
		system:   make(chan *frame.Frame, 64),
		reply:    reply,
	}
	go c.readPump()

	identity, err := frame.NewSystem(frame.ActionIdentity, frame.IdentityPayload{
		WindowID:       windowID,
		PageInstanceID: "pi-" + windowID,
		URL:            pageURL,
		Title:          title,
	})
	require.NoError(t, err)
	identity.Source = frame.SourcePage
	c.write(identity)

	t.Cleanup(c.Close)
	return c
}

func (c *pageClient) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		f, _, err := frame.Decode(data)
		if err != nil || f == nil {
			continue
		}
		if f.IsSystem() {
			select {
			case c.system <- f:
			default:
			}
			continue
		}
		select {
		case c.routed <- f:
		default:
		}
		if c.reply != nil {
			if r := c.reply(f); r != nil {
				c.write(r)
			}
		}
	}
}

func (c *pageClient) write(v interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// A failed write means the connection is going away; the read pump
	// notices and exits.
	_ = c.conn.WriteJSON(v)
}

// Close drops the connection. Safe to call twice.
func (c *pageClient) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// nextRouted returns the next routed frame or fails the test.
func (c *pageClient) nextRouted(t *testing.T, timeout time.Duration) *frame.Frame {
	t.Helper()
	select {
	case f := <-c.routed:
		return f
	case <-time.After(timeout):
		t.Fatalf("page %s received no routed frame within %v", c.windowID, timeout)
		return nil
	}
}

// expectNoRouted fails if a routed frame arrives within the window.
func (c *pageClient) expectNoRouted(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case f := <-c.routed:
		t.Fatalf("page %s unexpectedly received %s/%s", c.windowID, f.Channel, f.Action)
	case <-time.After(wait):
	}
}
