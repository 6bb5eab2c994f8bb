package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/ValentinKolb/fab/rpc/dispatcher"
	"github.com/ValentinKolb/fab/rpc/executor"
	"github.com/ValentinKolb/fab/rpc/transport"
	"github.com/ValentinKolb/fab/rpc/transport/base"
	"github.com/ValentinKolb/fab/rpc/transport/tcp"
	"github.com/ValentinKolb/fab/rpc/transport/unix"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("agent")

// closer is implemented by executors that hold resources (e.g. a browser)
type closer interface {
	Close()
}

// NewAgent creates the agent process: a reconnecting link to the bridge whose
// requests are executed by a dispatcher on top of exec.
//
// Usage:
//
//	a, err := agent.NewAgent(*config, cdp.NewExecutor(cdp.Options{}), "0.1.0")
//	if err != nil {
//		panic(err)
//	}
//
//	if err := a.Run(ctx); err != nil {
//		panic(err)
//	}
func NewAgent(config common.AgentConfig, exec executor.IActionExecutor, version string) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		config:     config,
		exec:       exec,
		dispatcher: dispatcher.NewDispatcher(exec, dispatcher.Options{MaxBatchDepth: config.MaxBatchDepth}),
		version:    version,
		instance:   uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
	}

	opts := base.ClientOptions{
		Backoff:       config.ReconnectBackoff(),
		MaxFrameBytes: config.MaxFrameBytes,
		Greeting:      a.hello,
	}
	switch config.Transport {
	case common.DownstreamTCP:
		a.transport = tcp.NewTCPClientTransport(opts)
	case common.DownstreamUnix:
		a.transport = unix.NewUnixClientTransport(opts)
	default:
		cancel()
		return nil, fmt.Errorf("invalid transport %q (expected one of: tcp, unix)", config.Transport)
	}

	Logger.Infof("Created agent %s", a.instance)
	Logger.Infof(config.String())

	return a, nil
}

// Agent executes the requests it receives from the bridge and answers on the
// same link. Every request is handled on its own goroutine.
type Agent struct {
	config     common.AgentConfig
	transport  transport.IRPCClientTransport
	exec       executor.IActionExecutor
	dispatcher *dispatcher.Dispatcher
	version    string
	instance   string

	// ctx is the parent of all request contexts, cancelled when Run returns
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex // guards stopping and the Add side of inflight
	stopping bool
	inflight sync.WaitGroup
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Run connects to the bridge and serves requests until ctx is cancelled. A
// bridge that is not reachable yet is not an error, the link is retried in
// the background.
func (a *Agent) Run(ctx context.Context) error {
	a.transport.RegisterHandler(a.handleMessage)
	if err := a.transport.Connect(a.config.Endpoint); err != nil {
		a.cancel()
		return fmt.Errorf("failed to start link to %s: %w", a.config.Endpoint, err)
	}

	<-ctx.Done()
	Logger.Infof("Shutting down agent")

	a.mu.Lock()
	a.stopping = true
	a.mu.Unlock()

	a.cancel()
	if err := a.transport.Close(); err != nil {
		Logger.Warningf("Failed to close link: %v", err)
	}
	a.inflight.Wait()

	if c, ok := a.exec.(closer); ok {
		c.Close()
	}

	var buf bytes.Buffer
	a.dispatcher.WriteMetrics(&buf)
	if buf.Len() > 0 {
		Logger.Infof("Action timers:\n%s", buf.String())
	}
	return nil
}

// Instance returns the id this agent announces in its greeting
func (a *Agent) Instance() string {
	return a.instance
}

// Dispatcher returns the dispatcher requests are handled by
func (a *Agent) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// hello is sent on every new link, before anything else
func (a *Agent) hello() any {
	return common.NewHelloMessage(a.version, a.instance)
}

func (a *Agent) handleMessage(raw json.RawMessage) {
	var req common.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		Logger.Warningf("Dropping malformed message: %v", err)
		return
	}
	if req.IsControl() {
		Logger.Debugf("Ignoring %s message", req.Type)
		return
	}

	a.mu.Lock()
	if a.stopping {
		a.mu.Unlock()
		return
	}
	a.inflight.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.inflight.Done()

		resp := a.dispatcher.Handle(a.ctx, &req)
		if err := a.transport.Send(resp); err != nil {
			// the bridge times the request out on its side
			Logger.Warningf("Failed to send response %s (%s): %v", req.ID, req.Action, err)
		}
	}()
}
