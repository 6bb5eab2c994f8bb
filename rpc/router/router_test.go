package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test Doubles
// --------------------------------------------------------------------------

type fakeDownstream struct {
	mu   sync.Mutex
	sent []*common.Request
	err  error
}

func (d *fakeDownstream) Send(msg any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, msg.(*common.Request))
	return nil
}

func (d *fakeDownstream) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type fakeWaiter struct {
	id        uint64
	responses chan *common.Response
	delivered atomic.Int32
}

func newWaiter(id uint64) *fakeWaiter {
	return &fakeWaiter{id: id, responses: make(chan *common.Response, 128)}
}

func (w *fakeWaiter) WaiterID() uint64 { return w.id }

func (w *fakeWaiter) Deliver(resp *common.Response) {
	w.delivered.Add(1)
	w.responses <- resp
}

func (w *fakeWaiter) next(t *testing.T, within time.Duration) *common.Response {
	t.Helper()
	select {
	case resp := <-w.responses:
		return resp
	case <-time.After(within):
		t.Fatal("no response delivered")
		return nil
	}
}

func (w *fakeWaiter) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case resp := <-w.responses:
		t.Fatalf("unexpected response %+v", resp)
	case <-time.After(within):
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []json.RawMessage
}

func (e *eventRecorder) handle(payload json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, payload)
}

func (e *eventRecorder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

func newTestRouter(timeout time.Duration) (*Router, *fakeDownstream, *eventRecorder) {
	down := &fakeDownstream{}
	events := &eventRecorder{}
	r := NewRouter(down, Options{Timeout: timeout})
	r.SetEventHandler(events.handle)
	return r, down, events
}

func response(id string, result string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"ok":true,"result":%s}`, id, result))
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestForwardAndResolve(t *testing.T) {
	r, down, events := newTestRouter(time.Second)
	w := newWaiter(1)

	require.NoError(t, r.Forward(&common.Request{ID: "a", Action: "ping"}, w, 0))
	assert.Equal(t, 1, down.count())
	assert.Equal(t, 1, r.Pending())

	r.Resolve(response("a", `{"pong":true}`))
	resp := w.next(t, time.Second)
	assert.Equal(t, "a", resp.ID)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"pong":true}`, string(resp.Result))
	assert.Nil(t, resp.Timing, "unprofiled requests carry no timing")

	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, 0, events.count())
}

func TestProfiledResponseGetsHostTiming(t *testing.T) {
	r, _, _ := newTestRouter(time.Second)
	w := newWaiter(1)

	require.NoError(t, r.Forward(&common.Request{ID: "p", Action: "ping", Profile: true}, w, 0))
	r.Resolve(json.RawMessage(`{"id":"p","ok":true,"result":1,"timing":{"agentMs":1.5}}`))

	resp := w.next(t, time.Second)
	require.NotNil(t, resp.Timing)
	assert.Contains(t, resp.Timing, common.HopHost)
	assert.Equal(t, 1.5, resp.Timing[common.HopAgent], "other hops are kept")
}

func TestUnknownIDIsEvent(t *testing.T) {
	r, _, events := newTestRouter(time.Second)

	r.Resolve(response("nobody", `1`))
	r.Resolve(json.RawMessage(`{"type":"hello","version":"1.0.0"}`))
	r.Resolve(json.RawMessage(`[1,2,3]`))

	assert.Equal(t, 3, events.count())
}

func TestTimeoutIsDeliveredOnceAndLateResponseDiscarded(t *testing.T) {
	timeout := 50 * time.Millisecond
	r, _, events := newTestRouter(time.Hour)
	w := newWaiter(1)

	start := time.Now()
	require.NoError(t, r.Forward(&common.Request{ID: "slow", Action: "waitFor"}, w, timeout))

	resp := w.next(t, time.Second)
	assert.GreaterOrEqual(t, time.Since(start), timeout)
	assert.Equal(t, "slow", resp.ID)
	assert.False(t, resp.OK)
	assert.Equal(t, common.ErrMsgRequestTimedOut, resp.Error)
	assert.Equal(t, 0, r.Pending())

	// the agent answers after all
	r.Resolve(response("slow", `true`))
	w.none(t, 20*time.Millisecond)
	assert.Equal(t, 0, events.count(), "late responses are not broadcast")
	assert.Equal(t, int32(1), w.delivered.Load())
}

func TestProfiledTimeoutGetsHostTiming(t *testing.T) {
	r, _, _ := newTestRouter(time.Hour)
	w := newWaiter(1)

	require.NoError(t, r.Forward(&common.Request{ID: "t", Action: "click", Params: map[string]any{"profile": true}}, w, 10*time.Millisecond))
	resp := w.next(t, time.Second)
	assert.Equal(t, common.ErrMsgRequestTimedOut, resp.Error)
	assert.GreaterOrEqual(t, resp.Timing[common.HopHost], 10.0)
}

func TestCancelWaiterOnlyCancelsOwnEntries(t *testing.T) {
	r, _, events := newTestRouter(time.Second)
	alice, bob := newWaiter(1), newWaiter(2)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Forward(&common.Request{ID: fmt.Sprintf("a%d", i), Action: "ping"}, alice, 0))
	}
	require.NoError(t, r.Forward(&common.Request{ID: "b0", Action: "ping"}, bob, 0))
	assert.Equal(t, 4, r.Pending())

	assert.Equal(t, 3, r.CancelWaiter(alice.WaiterID()))
	assert.Equal(t, 1, r.Pending())
	assert.Equal(t, 0, r.CancelWaiter(alice.WaiterID()), "second teardown is a no-op")

	// responses for alice's requests arrive anyway
	for i := 0; i < 3; i++ {
		r.Resolve(response(fmt.Sprintf("a%d", i), `1`))
	}
	r.Resolve(response("b0", `2`))

	resp := bob.next(t, time.Second)
	assert.Equal(t, "b0", resp.ID)
	alice.none(t, 20*time.Millisecond)
	assert.Equal(t, 0, events.count())
}

func TestCancelledEntriesNeverTimeOut(t *testing.T) {
	r, _, _ := newTestRouter(time.Hour)
	w := newWaiter(1)

	require.NoError(t, r.Forward(&common.Request{ID: "x", Action: "ping"}, w, 20*time.Millisecond))
	assert.Equal(t, 1, r.CancelWaiter(w.WaiterID()))
	w.none(t, 60*time.Millisecond)
}

func TestDuplicatePendingIDRejected(t *testing.T) {
	r, down, _ := newTestRouter(time.Second)
	w := newWaiter(1)

	require.NoError(t, r.Forward(&common.Request{ID: "dup", Action: "ping"}, w, 0))
	err := r.Forward(&common.Request{ID: "dup", Action: "click"}, w, 0)
	assert.ErrorIs(t, err, common.ErrDuplicateID)
	assert.Equal(t, 1, down.count())

	// the original request is untouched
	r.Resolve(response("dup", `"first"`))
	resp := w.next(t, time.Second)
	assert.JSONEq(t, `"first"`, string(resp.Result))
	w.none(t, 20*time.Millisecond)
}

func TestIDReuseAfterResolution(t *testing.T) {
	r, _, _ := newTestRouter(time.Second)
	w := newWaiter(1)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Forward(&common.Request{ID: "same", Action: "ping"}, w, 0))
		r.Resolve(response("same", fmt.Sprint(i)))
		resp := w.next(t, time.Second)
		assert.JSONEq(t, fmt.Sprint(i), string(resp.Result))
	}
}

func TestIDReuseAfterTimeoutClearsTombstone(t *testing.T) {
	r, _, events := newTestRouter(time.Hour)
	w := newWaiter(1)

	require.NoError(t, r.Forward(&common.Request{ID: "again", Action: "ping"}, w, 5*time.Millisecond))
	_ = w.next(t, time.Second)

	require.NoError(t, r.Forward(&common.Request{ID: "again", Action: "ping"}, w, 0))
	r.Resolve(response("again", `true`))
	resp := w.next(t, time.Second)
	assert.True(t, resp.OK)
	assert.Equal(t, 0, events.count())
}

func TestDownstreamNotConnected(t *testing.T) {
	r, down, _ := newTestRouter(time.Second)
	down.err = common.ErrNotConnected
	w := newWaiter(1)

	err := r.Forward(&common.Request{ID: "n", Action: "ping"}, w, 0)
	assert.ErrorIs(t, err, common.ErrNotConnected)
	assert.Equal(t, 0, r.Pending())

	// the id is free again and nothing fires later
	down.err = nil
	require.NoError(t, r.Forward(&common.Request{ID: "n", Action: "ping"}, w, 0))
}

func TestForwardRequiresID(t *testing.T) {
	r, _, _ := newTestRouter(time.Second)
	assert.Error(t, r.Forward(&common.Request{Action: "ping"}, newWaiter(1), 0))
}

func TestResponseTimeoutRaceResolvesExactlyOnce(t *testing.T) {
	r, _, _ := newTestRouter(time.Hour)
	const n = 200

	waiters := make([]*fakeWaiter, n)
	for i := range waiters {
		waiters[i] = newWaiter(uint64(i))
		id := fmt.Sprintf("race-%d", i)
		require.NoError(t, r.Forward(&common.Request{ID: id, Action: "ping"}, waiters[i], time.Millisecond))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		id := fmt.Sprintf("race-%d", i)
		go func() {
			defer wg.Done()
			r.Resolve(response(id, `1`))
		}()
		go func(w *fakeWaiter) {
			defer wg.Done()
			r.CancelWaiter(w.WaiterID())
		}(waiters[i])
	}
	wg.Wait()
	time.Sleep(20 * time.Millisecond)

	for _, w := range waiters {
		assert.LessOrEqual(t, w.delivered.Load(), int32(1))
	}
	assert.Equal(t, 0, r.Pending())
}

func TestWriteMetrics(t *testing.T) {
	r, _, _ := newTestRouter(time.Second)
	w := newWaiter(1)
	require.NoError(t, r.Forward(&common.Request{ID: "m", Action: "ping"}, w, 0))

	var buf bytes.Buffer
	r.WriteMetrics(&buf)
	assert.Contains(t, buf.String(), "fab_router_requests_total 1")
	assert.Contains(t, buf.String(), "fab_router_pending 1")
}

func TestSendErrorIsReturned(t *testing.T) {
	r, down, _ := newTestRouter(time.Second)
	down.err = errors.New("broken pipe")

	err := r.Forward(&common.Request{ID: "e", Action: "ping"}, newWaiter(1), 0)
	assert.EqualError(t, err, "broken pipe")
	assert.Equal(t, 0, r.Pending())
}
