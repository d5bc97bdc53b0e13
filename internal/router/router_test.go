package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/windows"
	"github.com/tabhub/tabhub/pkg/frame"
)

type fakeTargets struct {
	window windows.Window
	err    error

	mu    sync.Mutex
	bound map[string]string
}

func (f *fakeTargets) Resolve(explicitWindowID, sessionToken string) (windows.Window, error) {
	if f.err != nil {
		return windows.Window{}, f.err
	}
	return f.window, nil
}

func (f *fakeTargets) BindAffinity(sessionToken, windowID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound == nil {
		f.bound = make(map[string]string)
	}
	f.bound[sessionToken] = windowID
}

func (f *fakeTargets) affinity(sessionToken string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bound[sessionToken]
}

type fakeWriter struct {
	mu       sync.Mutex
	sent     [][]byte
	observed [][]byte
	failSend bool
}

func (f *fakeWriter) SendToPeer(peerID string, data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return false
	}
	f.sent = append(f.sent, data)
	return true
}

func (f *fakeWriter) PublishToObservers(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, data)
}

func (f *fakeWriter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeWriter) lastSent(t *testing.T) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func setupRouter(t *testing.T, targets *fakeTargets, writer *fakeWriter) *Router {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return NewRouter(targets, writer, 5*time.Second, log)
}

func TestCallNoWindows(t *testing.T) {
	targets := &fakeTargets{err: errors.New("No windows connected")}
	writer := &fakeWriter{}
	r := setupRouter(t, targets, writer)

	reply := r.Call(context.Background(), "browser", "execute", nil, time.Second, "", "")

	assert.False(t, reply.Success)
	assert.Equal(t, "No windows connected", reply.Error)
	assert.Equal(t, 0, writer.sentCount(), "no frame written without a target")
	assert.Equal(t, 0, r.Correlator().Len(), "no waiter allocated without a target")
}

func TestCallRoundTrip(t *testing.T) {
	targets := &fakeTargets{window: windows.Window{WindowID: "win-1", PeerID: "peer-1"}}
	writer := &fakeWriter{}
	r := setupRouter(t, targets, writer)

	got := make(chan frame.Reply, 1)
	go func() {
		got <- r.Call(context.Background(), "browser", "execute",
			map[string]interface{}{"script": "1+1"}, time.Second, "", "")
	}()

	require.Eventually(t, func() bool { return writer.sentCount() == 1 },
		time.Second, 5*time.Millisecond)

	var sent frame.Frame
	require.NoError(t, json.Unmarshal(writer.lastSent(t), &sent))
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "browser", sent.Channel)
	assert.Equal(t, "execute", sent.Action)
	assert.Equal(t, frame.SourceAgent, sent.Source)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(sent.Payload, &payload))
	assert.Equal(t, "1+1", payload["script"])
	assert.Equal(t, "win-1", payload["windowId"], "resolved window injected")

	data, err := frame.NewReply(sent.ID, map[string]string{"result": "2"})
	require.NoError(t, err)
	r.HandleReply("peer-1", data)

	select {
	case reply := <-got:
		assert.True(t, reply.Success)
		assert.Equal(t, sent.ID, reply.ID)
	case <-time.After(time.Second):
		t.Fatal("call never returned")
	}
	assert.Equal(t, 0, r.Correlator().Len())
}

func TestCallDoesNotOverwriteExplicitPayloadWindow(t *testing.T) {
	targets := &fakeTargets{window: windows.Window{WindowID: "win-1", PeerID: "peer-1"}}
	writer := &fakeWriter{}
	r := setupRouter(t, targets, writer)

	go r.Call(context.Background(), "browser", "execute",
		map[string]interface{}{"windowId": "win-custom"}, 50*time.Millisecond, "", "")

	require.Eventually(t, func() bool { return writer.sentCount() == 1 },
		time.Second, 5*time.Millisecond)

	var sent frame.Frame
	require.NoError(t, json.Unmarshal(writer.lastSent(t), &sent))
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(sent.Payload, &payload))
	assert.Equal(t, "win-custom", payload["windowId"])
}

func TestCallTimeout(t *testing.T) {
	targets := &fakeTargets{window: windows.Window{WindowID: "win-1", PeerID: "peer-1"}}
	writer := &fakeWriter{}
	r := setupRouter(t, targets, writer)

	start := time.Now()
	reply := r.Call(context.Background(), "browser", "execute", nil, 150*time.Millisecond, "", "")

	assert.False(t, reply.Success)
	assert.Equal(t, "Timeout", reply.Error)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 0, r.Correlator().Len(), "timed-out waiter removed from the map")
}

func TestCallWriteFailure(t *testing.T) {
	targets := &fakeTargets{window: windows.Window{WindowID: "win-1", PeerID: "peer-1"}}
	writer := &fakeWriter{failSend: true}
	r := setupRouter(t, targets, writer)

	reply := r.Call(context.Background(), "browser", "execute", nil, time.Second, "", "")

	assert.False(t, reply.Success)
	assert.Equal(t, "Window disconnected", reply.Error)
	assert.Equal(t, 0, r.Correlator().Len())
}

func TestCallObserverEchoPrecedesSend(t *testing.T) {
	targets := &fakeTargets{window: windows.Window{WindowID: "win-1", PeerID: "peer-1"}}
	writer := &fakeWriter{}
	r := setupRouter(t, targets, writer)

	go r.Call(context.Background(), "dom", "query", nil, 50*time.Millisecond, "", "")

	require.Eventually(t, func() bool { return writer.sentCount() == 1 },
		time.Second, 5*time.Millisecond)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Len(t, writer.observed, 1)
	assert.Equal(t, writer.sent[0], writer.observed[0], "observers see the exact outbound frame")
}

func TestCallRecordsAffinity(t *testing.T) {
	targets := &fakeTargets{window: windows.Window{WindowID: "win-1", PeerID: "peer-1"}}
	writer := &fakeWriter{}
	r := setupRouter(t, targets, writer)

	got := make(chan frame.Reply, 1)
	go func() {
		got <- r.Call(context.Background(), "browser", "execute", nil, time.Second, "win-1", "session-1")
	}()

	require.Eventually(t, func() bool { return writer.sentCount() == 1 },
		time.Second, 5*time.Millisecond)

	var sent frame.Frame
	require.NoError(t, json.Unmarshal(writer.lastSent(t), &sent))
	reply, err := frame.NewReply(sent.ID, nil)
	require.NoError(t, err)
	r.HandleReply("peer-1", reply)
	<-got

	assert.Equal(t, "win-1", targets.affinity("session-1"))
}

func TestCallNoAffinityWithoutExplicitTarget(t *testing.T) {
	targets := &fakeTargets{window: windows.Window{WindowID: "win-1", PeerID: "peer-1"}}
	writer := &fakeWriter{}
	r := setupRouter(t, targets, writer)

	got := make(chan frame.Reply, 1)
	go func() {
		got <- r.Call(context.Background(), "browser", "execute", nil, time.Second, "", "session-1")
	}()

	require.Eventually(t, func() bool { return writer.sentCount() == 1 },
		time.Second, 5*time.Millisecond)

	var sent frame.Frame
	require.NoError(t, json.Unmarshal(writer.lastSent(t), &sent))
	reply, err := frame.NewReply(sent.ID, nil)
	require.NoError(t, err)
	r.HandleReply("peer-1", reply)
	<-got

	assert.Empty(t, targets.affinity("session-1"))
}

func TestCallCancelledContext(t *testing.T) {
	targets := &fakeTargets{window: windows.Window{WindowID: "win-1", PeerID: "peer-1"}}
	writer := &fakeWriter{}
	r := setupRouter(t, targets, writer)

	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan frame.Reply, 1)
	go func() {
		got <- r.Call(ctx, "browser", "execute", nil, 5*time.Second, "", "")
	}()

	require.Eventually(t, func() bool { return writer.sentCount() == 1 },
		time.Second, 5*time.Millisecond)

	cancel()

	select {
	case reply := <-got:
		assert.False(t, reply.Success)
		assert.Equal(t, "Request cancelled", reply.Error)
	case <-time.After(time.Second):
		t.Fatal("call not unparked by cancellation")
	}
	assert.Equal(t, 0, r.Correlator().Len(), "cancelled waiter removed from the map")
}

func TestHandlePeerDisconnectFailsPending(t *testing.T) {
	targets := &fakeTargets{window: windows.Window{WindowID: "win-1", PeerID: "peer-1"}}
	writer := &fakeWriter{}
	r := setupRouter(t, targets, writer)

	got := make(chan frame.Reply, 1)
	go func() {
		got <- r.Call(context.Background(), "browser", "execute", nil, 5*time.Second, "", "")
	}()

	require.Eventually(t, func() bool { return writer.sentCount() == 1 },
		time.Second, 5*time.Millisecond)

	r.HandlePeerDisconnect("peer-1", "page")

	select {
	case reply := <-got:
		assert.False(t, reply.Success)
		assert.Equal(t, "Window disconnected", reply.Error)
	case <-time.After(time.Second):
		t.Fatal("call not failed on disconnect")
	}
}
