package profiler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentileNearestRank(t *testing.T) {
	values := []float64{50, 10, 40, 20, 30}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{0.5, 30},
		{0.95, 50},
		{1, 50},
	}
	for _, tt := range tests {
		got, ok := Percentile(values, tt.p)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, "p=%v", tt.p)
	}

	// the input is left untouched
	assert.Equal(t, []float64{50, 10, 40, 20, 30}, values)

	_, ok := Percentile(nil, 0.5)
	assert.False(t, ok)
}

func TestSummarize(t *testing.T) {
	stats := Summarize([]float64{10, 20, 30, 40, 50})
	require.NotNil(t, stats)
	assert.Equal(t, &Stats{Avg: 30, P50: 30, P95: 50, Max: 50}, stats)

	assert.Nil(t, Summarize(nil))
	assert.Nil(t, Summarize([]float64{}))
}

func TestSummarizeRounds(t *testing.T) {
	stats := Summarize([]float64{1.234, 1.236, 1.111})
	require.NotNil(t, stats)
	assert.Equal(t, 1.19, stats.Avg)
	assert.Equal(t, 1.24, stats.Max)
}

// scriptedCaller answers with the next timing of its script
type scriptedCaller struct {
	timings []common.Timing
	fail    []bool
	err     error
	calls   int
	actions []string
}

func (c *scriptedCaller) Call(_ context.Context, action string, _ map[string]any, profile bool) (*common.Response, error) {
	if !profile {
		return nil, errors.New("profiler must profile")
	}
	if c.calls >= len(c.timings) {
		return nil, c.err
	}
	i := c.calls
	c.calls++
	c.actions = append(c.actions, action)

	resp := common.NewSuccessResponse("id", true)
	if i < len(c.fail) && c.fail[i] {
		resp = common.NewErrorResponse("id", "Element not found")
	}
	resp.Timing = c.timings[i]
	return resp, nil
}

func TestRunAggregatesEverySeries(t *testing.T) {
	caller := &scriptedCaller{
		timings: []common.Timing{
			{common.HopClient: 10, common.HopHost: 8, common.HopAgent: 5, "renderMs": 1},
			{common.HopClient: 20, common.HopHost: 18},
			{common.HopClient: 30, common.HopHost: 28, common.HopAgent: 7},
		},
		fail: []bool{false, true, false},
	}

	report, err := Run(context.Background(), caller, "getContent", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, caller.calls)
	assert.Equal(t, []string{"getContent", "getContent", "getContent"}, caller.actions)

	assert.Equal(t, 3, report.Count)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, &Stats{Avg: 20, P50: 20, P95: 30, Max: 30}, report.Series[common.HopClient])
	assert.Equal(t, &Stats{Avg: 6, P50: 7, P95: 7, Max: 7}, report.Series[common.HopAgent])
	assert.Equal(t, &Stats{Avg: 1, P50: 1, P95: 1, Max: 1}, report.Series["renderMs"])
	assert.Nil(t, report.Series[common.HopExecutor])

	assert.Equal(t, []string{common.HopClient, common.HopHost, common.HopAgent, common.HopExecutor, "renderMs"}, report.Names())
}

func TestRunReportJSON(t *testing.T) {
	caller := &scriptedCaller{timings: []common.Timing{{common.HopClient: 4}}}
	report, err := Run(context.Background(), caller, "ping", nil, 1)
	require.NoError(t, err)

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"action": "ping",
		"count": 1,
		"failed": 0,
		"clientMs": {"avg": 4, "p50": 4, "p95": 4, "max": 4},
		"hostMs": null,
		"agentMs": null,
		"executorMs": null
	}`, string(raw))
}

func TestRunStopsOnCallError(t *testing.T) {
	caller := &scriptedCaller{
		timings: []common.Timing{{common.HopClient: 4}},
		err:     common.ErrTimeout,
	}

	report, err := Run(context.Background(), caller, "ping", nil, 5)
	assert.ErrorIs(t, err, common.ErrTimeout)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Count)
	assert.NotNil(t, report.Series[common.HopClient])
}

func TestRunRejectsInvalidCount(t *testing.T) {
	_, err := Run(context.Background(), &scriptedCaller{}, "ping", nil, 0)
	assert.Error(t, err)
}
