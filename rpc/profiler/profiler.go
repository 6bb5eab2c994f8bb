package profiler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/ValentinKolb/fab/rpc/client"
	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("profiler")

// Series that are always part of a report, even when they stay empty
var defaultSeries = []string{
	common.HopClient,
	common.HopHost,
	common.HopAgent,
	common.HopExecutor,
}

// Report is the outcome of a profiling run. It serializes to one flat object:
//
//	{"count": 20, "failed": 0, "clientMs": {"avg": ...}, "hostMs": {...}, ...}
//
// Series without samples are null.
type Report struct {
	Action string
	// Count is the number of calls that got a response, failed ones included
	Count int
	// Failed is the number of responses with ok=false
	Failed int
	Series map[string]*Stats
}

func (r *Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Series)+3)
	out["action"] = r.Action
	out["count"] = r.Count
	out["failed"] = r.Failed
	for name, stats := range r.Series {
		out[name] = stats
	}
	return json.Marshal(out)
}

// Names returns the series names of the report in a stable order: the hops of
// the request path first, then any further keys alphabetically
func (r *Report) Names() []string {
	names := make([]string, 0, len(r.Series))
	names = append(names, defaultSeries...)

	var extra []string
	for name := range r.Series {
		if !isDefaultSeries(name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Run issues n profiled calls of action one after another and aggregates the
// timing of every response. A call that fails without a response (timeout,
// closed connection) ends the run, the report of the calls so far is returned
// together with the error.
func Run(ctx context.Context, caller client.ICaller, action string, params map[string]any, n int) (*Report, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid count %d", n)
	}

	samples := make(map[string][]float64)
	report := &Report{Action: action}

	var runErr error
	for i := 0; i < n; i++ {
		resp, err := caller.Call(ctx, action, params, true)
		if err != nil {
			runErr = fmt.Errorf("call %d of %d failed: %w", i+1, n, err)
			break
		}

		report.Count++
		if !resp.OK {
			report.Failed++
			Logger.Debugf("Call %d failed: %s", i+1, resp.Error)
		}
		for hop, ms := range resp.Timing {
			if !math.IsNaN(ms) && !math.IsInf(ms, 0) {
				samples[hop] = append(samples[hop], ms)
			}
		}
	}

	report.Series = make(map[string]*Stats, len(samples)+len(defaultSeries))
	for _, name := range defaultSeries {
		report.Series[name] = nil
	}
	for name, values := range samples {
		report.Series[name] = Summarize(values)
	}

	return report, runErr
}

func isDefaultSeries(name string) bool {
	for _, s := range defaultSeries {
		if s == name {
			return true
		}
	}
	return false
}
