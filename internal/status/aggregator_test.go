package status

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/pkg/frame"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

// captureBroadcaster records every frame pushed at terminals.
type captureBroadcaster struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (c *captureBroadcaster) BroadcastToTerminals(data []byte) {
	var f frame.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *captureBroadcaster) byAction(action string) []frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []frame.Frame
	for _, f := range c.frames {
		if f.Action == action {
			out = append(out, f)
		}
	}
	return out
}

func TestUpdateAndLine(t *testing.T) {
	a := NewAggregator(nil, nil, testLogger(t))

	a.Update("browser", "no browser")
	a.Update("tasks", "2 queued")
	assert.Equal(t, "browser: no browser | tasks: 2 queued", a.Line())

	t.Run("tools keep their slot across value changes", func(t *testing.T) {
		a.Update("browser", "example.com — Dashboard")
		assert.Equal(t, "browser: example.com — Dashboard | tasks: 2 queued", a.Line())
	})

	t.Run("empty value clears the tool", func(t *testing.T) {
		a.Update("tasks", "")
		assert.Equal(t, "browser: example.com — Dashboard", a.Line())
		assert.NotContains(t, a.Items(), "tasks")
	})

	t.Run("empty tool is ignored", func(t *testing.T) {
		a.Update("", "x")
		assert.NotContains(t, a.Items(), "")
	})
}

func TestBroadcastOnChange(t *testing.T) {
	capture := &captureBroadcaster{}
	a := NewAggregator(capture, nil, testLogger(t))

	a.Update("agent", "thinking")
	frames := capture.byAction(frame.ActionStatus)
	require.Len(t, frames, 1)

	var p frame.StatusPayload
	require.NoError(t, frames[0].ParsePayload(&p))
	assert.Equal(t, "agent: thinking", p.Line)
	assert.Equal(t, "thinking", p.Items["agent"])

	t.Run("identical value does not rebroadcast", func(t *testing.T) {
		a.Update("agent", "thinking")
		assert.Len(t, capture.byAction(frame.ActionStatus), 1)
	})

	t.Run("clearing an unknown tool does not broadcast", func(t *testing.T) {
		a.Update("ghost", "")
		assert.Len(t, capture.byAction(frame.ActionStatus), 1)
	})
}

func TestPushAndDrain(t *testing.T) {
	capture := &captureBroadcaster{}
	a := NewAggregator(capture, nil, testLogger(t))

	a.Push("build", "tests passed")
	a.Push("build", "deploy started")

	t.Run("push sends a notice frame", func(t *testing.T) {
		notices := capture.byAction(frame.ActionNotice)
		require.Len(t, notices, 2)
		var p frame.NoticePayload
		require.NoError(t, notices[0].ParsePayload(&p))
		assert.Equal(t, frame.NoticeKindPush, p.Kind)
		assert.Equal(t, "build", p.From)
		assert.Equal(t, "tests passed", p.Text)
	})

	t.Run("drain returns FIFO and empties the queue", func(t *testing.T) {
		msgs := a.Drain()
		require.Len(t, msgs, 2)
		assert.Equal(t, "tests passed", msgs[0].Text)
		assert.Equal(t, "deploy started", msgs[1].Text)
		assert.Empty(t, a.Drain())
		assert.Zero(t, a.Pending())
	})
}

func TestPushQueueBounded(t *testing.T) {
	a := NewAggregator(nil, nil, testLogger(t))

	for i := 0; i < maxMessages+25; i++ {
		a.Push("noise", fmt.Sprintf("msg-%d", i))
	}

	msgs := a.Drain()
	require.Len(t, msgs, maxMessages)
	// The oldest 25 were dropped.
	assert.Equal(t, "msg-25", msgs[0].Text)
	assert.Equal(t, fmt.Sprintf("msg-%d", maxMessages+24), msgs[len(msgs)-1].Text)
}
