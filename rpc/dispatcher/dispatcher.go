package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/ValentinKolb/fab/rpc/executor"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("dispatcher")

// Actions handed to the executor
var executorActions = map[string]bool{
	"navigate":     true,
	"getActiveTab": true,
	"screenshot":   true,
	"click":        true,
	"type":         true,
	"getContent":   true,
	"waitFor":      true,
	"fillForm":     true,
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// Options configures a Dispatcher
type Options struct {
	// MaxBatchDepth limits how deep batches may be nested
	MaxBatchDepth int
}

// BatchItem is the outcome of one child of a batch
type BatchItem struct {
	Index  int           `json:"index"`
	Action string        `json:"action"`
	OK     bool          `json:"ok"`
	Result any           `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
	Timing common.Timing `json:"timing,omitempty"`
}

// BatchResult is the result of a batch action. Completed counts the children
// that were executed, successful or not.
type BatchResult struct {
	Results   []BatchItem `json:"results"`
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
}

// Dispatcher maps an action name to its handler
type Dispatcher struct {
	exec     executor.IActionExecutor
	opts     Options
	registry gometrics.Registry
}

// NewDispatcher creates a dispatcher passing browser actions to exec
func NewDispatcher(exec executor.IActionExecutor, opts Options) *Dispatcher {
	if opts.MaxBatchDepth <= 0 {
		opts.MaxBatchDepth = common.DefaultMaxBatchDepth
	}
	return &Dispatcher{
		exec:     exec,
		opts:     opts,
		registry: gometrics.NewRegistry(),
	}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Handle executes one request and returns its response (never nil). When the
// request is profiled the response carries agentMs and, for executor actions,
// executorMs.
func (d *Dispatcher) Handle(ctx context.Context, req *common.Request) *common.Response {
	start := time.Now()
	profile := req.WantsProfile()

	result, timing, err := d.dispatch(ctx, req.Action, req.Params, profile, 0)

	var resp *common.Response
	if err != nil {
		resp = common.NewErrorResponse(req.ID, err.Error())
	} else {
		resp = common.NewSuccessResponse(req.ID, result)
	}

	if profile {
		for hop, ms := range timing {
			resp.AddTiming(hop, ms)
		}
		resp.AddTiming(common.HopAgent, common.SinceMs(start))
	}
	return resp
}

// WriteMetrics writes the per action timers in human readable form
func (d *Dispatcher) WriteMetrics(w io.Writer) {
	gometrics.WriteOnce(d.registry, w)
}

// Registry returns the metrics registry holding the per action timers
func (d *Dispatcher) Registry() gometrics.Registry {
	return d.registry
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// dispatch is the single entry point for top level requests and batch children
func (d *Dispatcher) dispatch(ctx context.Context, action string, params map[string]any, profile bool, depth int) (any, common.Timing, error) {
	if params == nil {
		params = map[string]any{}
	}
	defer d.timer(action).UpdateSince(time.Now())

	switch {
	case action == "":
		return nil, nil, errors.New(common.ErrMsgMissingAction)

	case action == "ping":
		return map[string]any{"pong": true, "time": time.Now().UnixMilli()}, nil, nil

	case action == "batch":
		result, err := d.batch(ctx, params, depth)
		return result, nil, err

	case executorActions[action]:
		if profile {
			params = withProfile(params)
		}
		start := time.Now()
		result, err := d.exec.Execute(ctx, action, params)
		var timing common.Timing
		if profile {
			timing = common.Timing{common.HopExecutor: common.SinceMs(start)}
		}
		return result, timing, err

	default:
		return nil, nil, fmt.Errorf("Unknown action: %s", action)
	}
}

// batch runs the children of a batch strictly in order
func (d *Dispatcher) batch(ctx context.Context, params map[string]any, depth int) (*BatchResult, error) {
	if depth >= d.opts.MaxBatchDepth {
		return nil, fmt.Errorf("batch nesting exceeds depth %d", d.opts.MaxBatchDepth)
	}

	commands, ok := params["commands"].([]any)
	if !ok || len(commands) == 0 {
		return nil, errors.New("Missing commands array")
	}
	stopOnError := executor.BoolParam(params, "stopOnError", true)

	result := &BatchResult{
		Results: make([]BatchItem, 0, len(commands)),
		Total:   len(commands),
	}

	for i, c := range commands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		command, _ := c.(map[string]any)
		action, _ := executor.StringParam(command, "action")
		childParams, _ := command["params"].(map[string]any)
		childProfile := executor.BoolParam(command, "profile", false) || executor.BoolParam(childParams, "profile", false)

		start := time.Now()
		res, timing, err := d.dispatch(ctx, action, childParams, childProfile, depth+1)

		item := BatchItem{Index: i, Action: action, OK: err == nil}
		if err != nil {
			item.Error = err.Error()
		} else {
			item.Result = res
		}
		if childProfile {
			item.Timing = common.Timing{common.HopAgent: common.SinceMs(start)}
			for hop, ms := range timing {
				item.Timing[hop] = ms
			}
		}

		result.Results = append(result.Results, item)
		result.Completed++

		if err != nil && stopOnError {
			Logger.Debugf("Batch stopped at command %d (%s): %v", i, action, err)
			break
		}
	}

	return result, nil
}

// timer returns the timer of an action. Unknown names share one timer so
// callers cannot grow the registry.
func (d *Dispatcher) timer(action string) gometrics.Timer {
	name := action
	if action != "ping" && action != "batch" && !executorActions[action] {
		name = "unknown"
	}
	return gometrics.GetOrRegisterTimer("action."+name, d.registry)
}

// withProfile returns a copy of params with the profile flag set
func withProfile(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["profile"] = true
	return out
}
