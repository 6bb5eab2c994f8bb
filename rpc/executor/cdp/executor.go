package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/fab/rpc/executor"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("executor")

const (
	defaultLoadTimeout = 15 * time.Second
)

var _ executor.IActionExecutor = (*Executor)(nil)

// Options configures how the browser is reached
type Options struct {
	// RemoteURL is the DevTools websocket url of a running browser.
	// If empty a new browser is launched.
	RemoteURL string
	// Headless only applies to a launched browser
	Headless bool
}

// tab is an attached CDP session for one page target
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Executor drives a Chrome/Chromium browser over the DevTools protocol. The
// connection is established lazily on the first action and re-established if
// the browser went away. Tabs are addressed by their CDP target id.
type Executor struct {
	opts Options

	mu            sync.Mutex // Protects all fields below
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabs          map[target.ID]*tab
}

// NewExecutor creates a new CDP executor. No browser is started until the first action.
func NewExecutor(opts Options) *Executor {
	return &Executor{
		opts: opts,
		tabs: make(map[target.ID]*tab),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see executor.IActionExecutor)
// --------------------------------------------------------------------------

func (e *Executor) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}

	switch action {
	case "navigate":
		return e.navigate(ctx, params)
	case "getActiveTab":
		return e.activeTab(ctx)
	case "screenshot":
		return e.screenshot(ctx, params)
	case "click":
		return e.evaluate(ctx, params, clickScript)
	case "type":
		return e.evaluate(ctx, params, typeScript)
	case "getContent":
		return e.evaluate(ctx, params, getContentScript)
	case "fillForm":
		return e.evaluate(ctx, params, fillFormScript)
	case "waitFor":
		return e.waitFor(ctx, params)
	default:
		return nil, fmt.Errorf("Unknown action: %s", action)
	}
}

// Close detaches from all tabs and stops a launched browser
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
}

// --------------------------------------------------------------------------
// Actions
// --------------------------------------------------------------------------

func (e *Executor) navigate(ctx context.Context, params map[string]any) (any, error) {
	url, _ := executor.StringParam(params, "url")
	if url == "" {
		return nil, errors.New("Missing url parameter")
	}

	var tabCtx context.Context
	var id target.ID
	var err error
	if executor.BoolParam(params, "newTab", false) {
		tabCtx, id, err = e.newTab()
	} else {
		tabCtx, id, err = e.tabContext(params)
	}
	if err != nil {
		return nil, err
	}

	if executor.BoolParam(params, "wait", false) {
		timeout := executor.MillisParam(params, "timeoutMs", defaultLoadTimeout)
		loadCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		// chromedp.Navigate returns once the load event fired
		if err := run(loadCtx, tabCtx, chromedp.Navigate(url)); err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, errors.New("Timed out waiting for page load")
			}
			return nil, fmt.Errorf("navigate failed: %w", err)
		}
	} else {
		if err := run(ctx, tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), nil)
		})); err != nil {
			return nil, fmt.Errorf("navigate failed: %w", err)
		}
	}

	return map[string]any{"tabId": string(id), "url": url}, nil
}

func (e *Executor) activeTab(ctx context.Context) (any, error) {
	browserCtx, err := e.ensureBrowser()
	if err != nil {
		return nil, err
	}
	info, err := activeTarget(ctx, browserCtx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"tabId": string(info.TargetID),
		"url":   info.URL,
		"title": info.Title,
	}, nil
}

func (e *Executor) screenshot(ctx context.Context, params map[string]any) (any, error) {
	tabCtx, id, err := e.tabContext(params)
	if err != nil {
		return nil, err
	}

	var buf []byte
	if err := run(ctx, tabCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}

	return map[string]any{
		"tabId":   string(id),
		"dataUrl": "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf),
	}, nil
}

func (e *Executor) waitFor(ctx context.Context, params map[string]any) (any, error) {
	what := waitTarget(params)
	if what == "" {
		return nil, errors.New("Missing selector, text or contains parameter")
	}

	tabCtx, _, err := e.tabContext(params)
	if err != nil {
		return nil, err
	}
	expr, err := buildScript(probeScript, params)
	if err != nil {
		return nil, err
	}

	timeout := executor.MillisParam(params, "timeout", executor.DefaultPollTimeout)
	interval := executor.MillisParam(params, "interval", executor.DefaultPollInterval)

	return executor.Poll(ctx, what, timeout, interval, func(ctx context.Context) (any, bool, error) {
		var raw []byte
		if err := run(ctx, tabCtx, chromedp.Evaluate(expr, &raw)); err != nil {
			// navigation in progress, try again on the next tick
			Logger.Debugf("waitFor probe failed: %v", err)
			return nil, false, nil
		}
		result, err := scriptResult(raw)
		if err != nil {
			return nil, false, err
		}
		found, _ := result["found"].(bool)
		return result, found, nil
	})
}

// evaluate runs one DOM script in the addressed tab
func (e *Executor) evaluate(ctx context.Context, params map[string]any, body string) (any, error) {
	tabCtx, _, err := e.tabContext(params)
	if err != nil {
		return nil, err
	}
	expr, err := buildScript(body, params)
	if err != nil {
		return nil, err
	}

	var raw []byte
	if err := run(ctx, tabCtx, chromedp.Evaluate(expr, &raw)); err != nil {
		return nil, err
	}
	return scriptResult(raw)
}

// --------------------------------------------------------------------------
// Browser & Tab Management
// --------------------------------------------------------------------------

// ensureBrowser lazily connects (or reconnects) to the browser
func (e *Executor) ensureBrowser() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browserCtx != nil {
		if e.browserCtx.Err() == nil {
			return e.browserCtx, nil
		}
		Logger.Warningf("Browser connection lost, reconnecting")
		e.closeLocked()
	}

	var allocCtx context.Context
	if e.opts.RemoteURL != "" {
		allocCtx, e.allocCancel = chromedp.NewRemoteAllocator(context.Background(), e.opts.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", e.opts.Headless))
		allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		e.allocCancel()
		e.allocCancel = nil
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	e.browserCtx = browserCtx
	e.browserCancel = cancel
	Logger.Infof("Connected to browser (remote=%t)", e.opts.RemoteURL != "")
	return browserCtx, nil
}

// tabContext returns the session of the tab named by params.tabId, or of the
// active tab if no tabId is given
func (e *Executor) tabContext(params map[string]any) (context.Context, target.ID, error) {
	browserCtx, err := e.ensureBrowser()
	if err != nil {
		return nil, "", err
	}

	id := target.ID("")
	if tabID, ok := executor.StringParam(params, "tabId"); ok && tabID != "" {
		id = target.ID(tabID)
	} else {
		info, err := activeTarget(context.Background(), browserCtx)
		if err != nil {
			return nil, "", err
		}
		id = info.TargetID
	}

	e.mu.Lock()
	if t, ok := e.tabs[id]; ok && t.ctx.Err() == nil {
		e.mu.Unlock()
		return t.ctx, id, nil
	}
	e.mu.Unlock()

	ctx, cancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(id))
	// attach before the context is used with derived deadlines
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, "", fmt.Errorf("failed to attach to tab %s: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tabs[id]; ok && t.ctx.Err() == nil {
		// attached concurrently, keep the first session
		cancel()
		return t.ctx, id, nil
	}
	e.tabs[id] = &tab{ctx: ctx, cancel: cancel}
	return ctx, id, nil
}

// newTab opens a new page target and attaches to it
func (e *Executor) newTab() (context.Context, target.ID, error) {
	browserCtx, err := e.ensureBrowser()
	if err != nil {
		return nil, "", err
	}

	ctx, cancel := chromedp.NewContext(browserCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, "", fmt.Errorf("failed to open tab: %w", err)
	}
	id := chromedp.FromContext(ctx).Target.TargetID

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tabs[id] = &tab{ctx: ctx, cancel: cancel}
	return ctx, id, nil
}

func (e *Executor) closeLocked() {
	for id, t := range e.tabs {
		t.cancel()
		delete(e.tabs, id)
	}
	if e.browserCancel != nil {
		e.browserCancel()
		e.browserCancel = nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel = nil
	}
	e.browserCtx = nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// activeTarget returns the first page target of the browser
func activeTarget(ctx context.Context, browserCtx context.Context) (*target.Info, error) {
	var targets []*target.Info
	err := run(ctx, browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		targets, err = chromedp.Targets(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}

	for _, t := range targets {
		if t.Type == "page" {
			return t, nil
		}
	}
	return nil, errors.New("No active tab found")
}

// run executes actions in the session of sessionCtx while honoring the
// cancellation of ctx
func run(ctx context.Context, sessionCtx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(sessionCtx)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// waitTarget names the condition a waitFor call waits for
func waitTarget(params map[string]any) string {
	for _, key := range []string{"selector", "text", "contains"} {
		if v, ok := executor.StringParam(params, key); ok && v != "" {
			return v
		}
	}
	return ""
}
