package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("executor")

const (
	DefaultPollTimeout  = 5000 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
)

// IActionExecutor performs one browser action. The result must be JSON
// serializable. Errors are reported to the caller verbatim.
type IActionExecutor interface {
	Execute(ctx context.Context, action string, params map[string]any) (any, error)
}

// ExecutorFunc adapts an ordinary function to IActionExecutor
type ExecutorFunc func(ctx context.Context, action string, params map[string]any) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	return f(ctx, action, params)
}

// CheckFunc is one probe of a polling wait. done reports whether the awaited
// condition holds, a non nil error aborts the wait.
type CheckFunc func(ctx context.Context) (result any, done bool, err error)

// Poll calls check every interval until it reports done, returns an error or the
// timeout elapses. The timeout is independent of any request deadline. what
// names the awaited condition in the timeout error.
func Poll(ctx context.Context, what string, timeout, interval time.Duration, check CheckFunc) (any, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, done, err := check(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("Timeout waiting for: %s", what)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
