package ws

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/ValentinKolb/fab/rpc/router"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test Setup
// --------------------------------------------------------------------------

type fakeDownstream struct {
	mu       sync.Mutex
	err      error
	requests chan *common.Request
}

func (d *fakeDownstream) Send(msg any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.requests <- msg.(*common.Request)
	return nil
}

func (d *fakeDownstream) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type testEnv struct {
	server *Server
	router *router.Router
	down   *fakeDownstream
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	down := &fakeDownstream{requests: make(chan *common.Request, 64)}
	r := router.NewRouter(down, router.Options{Timeout: 5 * time.Second})
	s := NewServer(r, Options{Host: "127.0.0.1", Port: 8765, RequestTimeout: 5 * time.Second})
	r.SetEventHandler(s.BroadcastEvent)

	h := httptest.NewServer(s.Handler())
	t.Cleanup(h.Close)
	return &testEnv{server: s, router: r, down: down, http: h}
}

// dial connects a caller and consumes the ready greeting
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	var ready common.ReadyMessage
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, c.ReadJSON(&ready))
	require.Equal(t, common.MsgTypeReady, ready.Type)
	return c
}

func (e *testEnv) nextRequest(t *testing.T) *common.Request {
	t.Helper()
	select {
	case req := <-e.down.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request forwarded")
		return nil
	}
}

func readResponse(t *testing.T, c *websocket.Conn) common.Response {
	t.Helper()
	var resp common.Response
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, c.ReadJSON(&resp))
	return resp
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestReadyGreeting(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	var ready common.ReadyMessage
	require.NoError(t, c.ReadJSON(&ready))
	assert.Equal(t, "ready", ready.Type)
	assert.Equal(t, "127.0.0.1", ready.Host)
	assert.Equal(t, 8765, ready.Port)
	assert.Eventually(t, func() bool { return env.server.Connections() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMalformedInputIsRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	cases := []struct {
		name    string
		message string
		want    string
	}{
		{"invalid json", `{"action":`, common.ErrMsgInvalidJSON},
		{"wrong field type", `{"action":5}`, "Invalid request: "},
		{"not an object", `[1,2]`, "Invalid request: "},
		{"missing action", `{"id":"x","params":{}}`, common.ErrMsgMissingAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(tc.message)))
			resp := readResponse(t, c)
			assert.False(t, resp.OK)
			assert.True(t, strings.HasPrefix(resp.Error, tc.want), "got %q", resp.Error)
		})
	}
	assert.Equal(t, 0, env.router.Pending())
	assert.Empty(t, env.down.requests)
}

func TestRoundTripWithSynthesizedIDs(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	require.NoError(t, c.WriteJSON(map[string]any{"action": "ping"}))
	require.NoError(t, c.WriteJSON(map[string]any{"action": "ping"}))
	first, second := env.nextRequest(t), env.nextRequest(t)

	assert.True(t, strings.HasPrefix(first.ID, "req_"))
	assert.NotEqual(t, first.ID, second.ID)

	env.router.Resolve(json.RawMessage(`{"id":"` + second.ID + `","ok":true,"result":{"pong":true}}`))
	resp := readResponse(t, c)
	assert.Equal(t, second.ID, resp.ID)
	assert.True(t, resp.OK)
}

func TestCallerIDIsKept(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	require.NoError(t, c.WriteJSON(map[string]any{"id": "mine", "action": "click", "params": map[string]any{"selector": "#a"}}))
	req := env.nextRequest(t)
	assert.Equal(t, "mine", req.ID)
	assert.Equal(t, "#a", req.Params["selector"])
}

func TestDownstreamNotConnected(t *testing.T) {
	env := newTestEnv(t)
	env.down.setErr(common.ErrNotConnected)
	c := env.dial(t)

	require.NoError(t, c.WriteJSON(map[string]any{"id": "n1", "action": "ping"}))
	resp := readResponse(t, c)
	assert.Equal(t, "n1", resp.ID)
	assert.False(t, resp.OK)
	assert.Equal(t, common.ErrNotConnected.Error(), resp.Error)
}

func TestDisconnectCancelsOnlyOwnRequests(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := env.dial(t), env.dial(t)

	require.NoError(t, alice.WriteJSON(map[string]any{"id": "a1", "action": "waitFor"}))
	require.NoError(t, alice.WriteJSON(map[string]any{"id": "a2", "action": "waitFor"}))
	require.NoError(t, bob.WriteJSON(map[string]any{"id": "b1", "action": "waitFor"}))
	for i := 0; i < 3; i++ {
		env.nextRequest(t)
	}
	require.Equal(t, 3, env.router.Pending())

	require.NoError(t, alice.Close())
	assert.Eventually(t, func() bool { return env.router.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return env.server.Connections() == 1 }, 2*time.Second, 5*time.Millisecond)

	// late answers for alice are neither delivered nor broadcast
	env.router.Resolve(json.RawMessage(`{"id":"a1","ok":true,"result":1}`))
	env.router.Resolve(json.RawMessage(`{"id":"b1","ok":true,"result":2}`))

	resp := readResponse(t, bob)
	assert.Equal(t, "b1", resp.ID)
}

func TestUnsolicitedMessagesAreBroadcast(t *testing.T) {
	env := newTestEnv(t)
	callers := []*websocket.Conn{env.dial(t), env.dial(t)}
	require.Eventually(t, func() bool { return env.server.Connections() == 2 }, time.Second, 5*time.Millisecond)

	env.router.Resolve(json.RawMessage(`{"type":"hello","version":"1.0.0"}`))

	for _, c := range callers {
		var event common.EventMessage
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, c.ReadJSON(&event))
		assert.Equal(t, common.MsgTypeEvent, event.Type)
		assert.JSONEq(t, `{"type":"hello","version":"1.0.0"}`, string(event.Payload))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	var connected atomic.Bool
	env.server.SetHealthFunc(connected.Load)
	env.server.AddMetricsWriter(env.router.WriteMetrics)

	resp, err := http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	connected.Store(true)
	resp, err = http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "fab_ws_connections")
	assert.Contains(t, string(body), "fab_router_pending")
}
