package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabhub/tabhub/internal/common/httpmw"
	"github.com/tabhub/tabhub/pkg/frame"
)

func TestExecuteLandsOnFocusedWindowOnly(t *testing.T) {
	ts := newBrokerServer(t)

	dialPage(t, ts, "w-1", "https://one.test/app", "One", replyFrom("w1"))
	ts.waitWindows(t, 1)
	w2 := dialPage(t, ts, "w-2", "https://two.test/app", "Two", replyFrom("w2"))
	ts.waitWindows(t, 2)

	require.Equal(t, "w-1", ts.Windows.FocusedID())

	var reply frame.Reply
	resp := ts.postJSON(t, "/api/v1/browser/execute", map[string]interface{}{
		"channel": "dom",
		"action":  "query",
		"payload": map[string]interface{}{"selector": "h1"},
	}, &reply)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, reply.Success, "reply error: %s", reply.Error)

	var data map[string]string
	require.NoError(t, reply.ParseData(&data))
	assert.Equal(t, "w1", data["from"])

	// The call landed on the focused window alone; the other page stays quiet.
	w2.expectNoRouted(t, 200*time.Millisecond)
}

func TestExecuteExplicitTargetBypassesFocus(t *testing.T) {
	ts := newBrokerServer(t)

	dialPage(t, ts, "w-1", "https://one.test", "One", replyFrom("w1"))
	ts.waitWindows(t, 1)
	dialPage(t, ts, "w-2", "https://two.test", "Two", replyFrom("w2"))
	ts.waitWindows(t, 2)
	dialPage(t, ts, "w-3", "https://three.test", "Three", replyFrom("w3"))
	ts.waitWindows(t, 3)

	require.Equal(t, "w-1", ts.Windows.FocusedID())

	headers := map[string]string{httpmw.SessionHeader: "sess-blue"}

	var reply frame.Reply
	resp := ts.doJSON(t, http.MethodPost, "/api/v1/browser/execute", headers, map[string]interface{}{
		"channel":  "dom",
		"action":   "click",
		"payload":  map[string]interface{}{"selector": "#submit"},
		"windowId": "w-3",
	}, &reply)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, reply.Success, "reply error: %s", reply.Error)

	var data map[string]string
	require.NoError(t, reply.ParseData(&data))
	assert.Equal(t, "w3", data["from"])

	// The explicit target answered without moving the focus pointer.
	assert.Equal(t, "w-1", ts.Windows.FocusedID())

	// The success bound affinity: the same session now reaches w-3 without
	// naming it, even though focus still points at w-1.
	var second frame.Reply
	ts.doJSON(t, http.MethodPost, "/api/v1/browser/execute", headers, map[string]interface{}{
		"channel": "dom",
		"action":  "query",
	}, &second)
	require.True(t, second.Success, "reply error: %s", second.Error)
	require.NoError(t, second.ParseData(&data))
	assert.Equal(t, "w3", data["from"])
}

func TestFocusAdvancesWhenFocusedWindowDisconnects(t *testing.T) {
	ts := newBrokerServer(t)

	w1 := dialPage(t, ts, "w-1", "https://one.test", "One", replyFrom("w1"))
	ts.waitWindows(t, 1)
	dialPage(t, ts, "w-2", "https://two.test", "Two", replyFrom("w2"))
	ts.waitWindows(t, 2)
	require.Equal(t, "w-1", ts.Windows.FocusedID())

	w1.Close()
	ts.waitWindows(t, 1)
	require.Eventually(t, func() bool {
		return ts.Windows.FocusedID() == "w-2"
	}, 2*time.Second, 10*time.Millisecond, "focus never advanced to the surviving window")

	var reply frame.Reply
	ts.postJSON(t, "/api/v1/browser/execute", map[string]interface{}{
		"channel": "dom",
		"action":  "query",
	}, &reply)
	require.True(t, reply.Success, "reply error: %s", reply.Error)

	var data map[string]string
	require.NoError(t, reply.ParseData(&data))
	assert.Equal(t, "w2", data["from"])
}

func TestExecuteTimeoutResolvesAndCleansUp(t *testing.T) {
	ts := newBrokerServer(t)

	// A page that receives calls but never answers them.
	silent := dialPage(t, ts, "w-1", "https://one.test", "One", nil)
	ts.waitWindows(t, 1)

	start := time.Now()
	var reply frame.Reply
	resp := ts.postJSON(t, "/api/v1/browser/execute", map[string]interface{}{
		"channel":   "dom",
		"action":    "query",
		"timeoutMs": 150,
	}, &reply)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, reply.Success)
	assert.Equal(t, "Timeout", reply.Error)

	// Resolved by its own 150ms timeout, not the scaffold's 2s default.
	assert.Less(t, elapsed, 1500*time.Millisecond)

	// The frame did reach the page; only the answer is missing.
	f := silent.nextRouted(t, time.Second)
	assert.Equal(t, "query", f.Action)

	// The expired waiter left nothing behind.
	assert.Equal(t, 0, ts.Router.Correlator().Len())

	// A fresh call is unaffected by the expired one.
	var second frame.Reply
	ts.postJSON(t, "/api/v1/browser/execute", map[string]interface{}{
		"channel":   "dom",
		"action":    "query",
		"timeoutMs": 150,
	}, &second)
	require.False(t, second.Success)
	assert.Equal(t, "Timeout", second.Error)
	assert.Equal(t, 0, ts.Router.Correlator().Len())
}

func TestExecuteWithNoWindowsFailsInBand(t *testing.T) {
	ts := newBrokerServer(t)

	var reply frame.Reply
	resp := ts.postJSON(t, "/api/v1/browser/execute", map[string]interface{}{
		"channel": "dom",
		"action":  "query",
	}, &reply)

	// Routing failures are part of the reply contract, not transport errors.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, reply.Success)
	assert.Equal(t, "No windows connected", reply.Error)
}
