package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/ValentinKolb/fab/rpc/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor fails every action listed in failing and records all calls
type recordingExecutor struct {
	mu      sync.Mutex
	calls   []string
	params  []map[string]any
	failing map[string]string
}

func (e *recordingExecutor) Execute(_ context.Context, action string, params map[string]any) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, action)
	e.params = append(e.params, params)
	if msg, ok := e.failing[action]; ok {
		return nil, errors.New(msg)
	}
	return map[string]any{"done": action}, nil
}

func decodeBatch(t *testing.T, resp *common.Response) BatchResult {
	t.Helper()
	require.True(t, resp.OK, resp.Error)
	var result BatchResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	return result
}

func batchRequest(stopOnError *bool, commands ...map[string]any) *common.Request {
	list := make([]any, len(commands))
	for i, c := range commands {
		list[i] = c
	}
	params := map[string]any{"commands": list}
	if stopOnError != nil {
		params["stopOnError"] = *stopOnError
	}
	return &common.Request{ID: "b", Action: "batch", Params: params}
}

func TestPing(t *testing.T) {
	d := NewDispatcher(&recordingExecutor{}, Options{})
	resp := d.Handle(context.Background(), &common.Request{ID: "1", Action: "ping"})

	require.True(t, resp.OK)
	var result struct {
		Pong bool  `json:"pong"`
		Time int64 `json:"time"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result.Pong)
	assert.Positive(t, result.Time)
	assert.Nil(t, resp.Timing)
}

func TestExecutorActionAndErrorPassThrough(t *testing.T) {
	exec := &recordingExecutor{failing: map[string]string{"click": "Element not found"}}
	d := NewDispatcher(exec, Options{})

	resp := d.Handle(context.Background(), &common.Request{ID: "1", Action: "getContent"})
	require.True(t, resp.OK)
	assert.JSONEq(t, `{"done":"getContent"}`, string(resp.Result))

	resp = d.Handle(context.Background(), &common.Request{ID: "2", Action: "click"})
	assert.False(t, resp.OK)
	assert.Equal(t, "2", resp.ID)
	assert.Equal(t, "Element not found", resp.Error)
}

func TestUnknownAndMissingAction(t *testing.T) {
	d := NewDispatcher(&recordingExecutor{}, Options{})

	resp := d.Handle(context.Background(), &common.Request{ID: "1", Action: "fly"})
	assert.Equal(t, "Unknown action: fly", resp.Error)

	resp = d.Handle(context.Background(), &common.Request{ID: "2"})
	assert.Equal(t, common.ErrMsgMissingAction, resp.Error)
}

func TestProfiledRequestTiming(t *testing.T) {
	exec := &recordingExecutor{}
	d := NewDispatcher(exec, Options{})

	params := map[string]any{"selector": "#a"}
	resp := d.Handle(context.Background(), &common.Request{ID: "1", Action: "click", Params: params, Profile: true})
	require.True(t, resp.OK)
	assert.Contains(t, resp.Timing, common.HopAgent)
	assert.Contains(t, resp.Timing, common.HopExecutor)

	// the executor sees the flag, the caller's params are untouched
	assert.Equal(t, true, exec.params[0]["profile"])
	assert.NotContains(t, params, "profile")
}

func TestBatchStopOnErrorByDefault(t *testing.T) {
	exec := &recordingExecutor{failing: map[string]string{"click": "Element not found"}}
	d := NewDispatcher(exec, Options{})

	resp := d.Handle(context.Background(), batchRequest(nil,
		map[string]any{"action": "ping"},
		map[string]any{"action": "click", "params": map[string]any{"selector": "#missing"}},
		map[string]any{"action": "getContent"},
	))
	result := decodeBatch(t, resp)

	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 3, result.Total)
	require.Len(t, result.Results, 2)
	assert.True(t, result.Results[0].OK)
	assert.False(t, result.Results[1].OK)
	assert.Equal(t, 1, result.Results[1].Index)
	assert.Equal(t, "click", result.Results[1].Action)
	assert.Equal(t, "Element not found", result.Results[1].Error)
	assert.Equal(t, []string{"click"}, exec.calls, "getContent must not run")
}

func TestBatchWithoutStopOnError(t *testing.T) {
	exec := &recordingExecutor{failing: map[string]string{"click": "Element not found"}}
	d := NewDispatcher(exec, Options{})

	keepGoing := false
	result := decodeBatch(t, d.Handle(context.Background(), batchRequest(&keepGoing,
		map[string]any{"action": "ping"},
		map[string]any{"action": "click"},
		map[string]any{"action": "getContent"},
	)))

	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, 3, result.Total)
	require.Len(t, result.Results, 3)
	assert.True(t, result.Results[0].OK)
	assert.False(t, result.Results[1].OK)
	assert.True(t, result.Results[2].OK)
	for i, item := range result.Results {
		assert.Equal(t, i, item.Index)
	}
}

func TestBatchRunsChildrenInOrder(t *testing.T) {
	exec := &recordingExecutor{}
	d := NewDispatcher(exec, Options{})

	decodeBatch(t, d.Handle(context.Background(), batchRequest(nil,
		map[string]any{"action": "navigate", "params": map[string]any{"url": "https://example.com"}},
		map[string]any{"action": "waitFor"},
		map[string]any{"action": "type"},
		map[string]any{"action": "click"},
	)))
	assert.Equal(t, []string{"navigate", "waitFor", "type", "click"}, exec.calls)
}

func TestBatchMissingCommands(t *testing.T) {
	d := NewDispatcher(&recordingExecutor{}, Options{})

	for _, params := range []map[string]any{
		nil,
		{"commands": []any{}},
		{"commands": "ping"},
	} {
		resp := d.Handle(context.Background(), &common.Request{ID: "b", Action: "batch", Params: params})
		assert.False(t, resp.OK)
		assert.Equal(t, "Missing commands array", resp.Error)
	}
}

func TestBatchChildProfiling(t *testing.T) {
	d := NewDispatcher(&recordingExecutor{}, Options{})

	result := decodeBatch(t, d.Handle(context.Background(), batchRequest(nil,
		map[string]any{"action": "click"},
		map[string]any{"action": "click", "profile": true},
	)))
	assert.Nil(t, result.Results[0].Timing)
	assert.Contains(t, result.Results[1].Timing, common.HopAgent)
	assert.Contains(t, result.Results[1].Timing, common.HopExecutor)
}

func TestNestedBatchDepthCap(t *testing.T) {
	d := NewDispatcher(&recordingExecutor{}, Options{MaxBatchDepth: 2})

	nest := func(inner map[string]any) map[string]any {
		return map[string]any{"action": "batch", "params": map[string]any{"commands": []any{inner}}}
	}

	// one nested level is fine
	result := decodeBatch(t, d.Handle(context.Background(), batchRequest(nil, nest(map[string]any{"action": "ping"}))))
	assert.True(t, result.Results[0].OK)

	// two nested levels exceed the cap
	result = decodeBatch(t, d.Handle(context.Background(), batchRequest(nil, nest(nest(map[string]any{"action": "ping"})))))
	require.True(t, result.Results[0].OK)

	var inner BatchResult
	raw, err := json.Marshal(result.Results[0].Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &inner))
	require.Len(t, inner.Results, 1)
	assert.False(t, inner.Results[0].OK)
	assert.Equal(t, "batch nesting exceeds depth 2", inner.Results[0].Error)
}

func TestCancelledContextStopsBatch(t *testing.T) {
	exec := &recordingExecutor{}
	d := NewDispatcher(exec, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := d.Handle(ctx, batchRequest(nil, map[string]any{"action": "click"}))
	assert.False(t, resp.OK)
	assert.Empty(t, exec.calls)
}

func TestMetrics(t *testing.T) {
	d := NewDispatcher(executor.ExecutorFunc(func(context.Context, string, map[string]any) (any, error) {
		return true, nil
	}), Options{})
	d.Handle(context.Background(), &common.Request{ID: "1", Action: "ping"})
	d.Handle(context.Background(), &common.Request{ID: "2", Action: "click"})
	d.Handle(context.Background(), &common.Request{ID: "3", Action: "whatever"})

	var buf bytes.Buffer
	d.WriteMetrics(&buf)
	assert.Contains(t, buf.String(), "action.ping")
	assert.Contains(t, buf.String(), "action.click")
	assert.Contains(t, buf.String(), "action.unknown")
	assert.NotContains(t, buf.String(), "action.whatever")
}
