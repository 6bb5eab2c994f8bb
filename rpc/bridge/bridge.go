package bridge

import (
	"context"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/ValentinKolb/fab/rpc/framer"
	"github.com/ValentinKolb/fab/rpc/router"
	"github.com/ValentinKolb/fab/rpc/transport"
	"github.com/ValentinKolb/fab/rpc/transport/ws"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("bridge")

// NewBridge creates the bridge process: a websocket multiplexer for the
// callers, a correlation router and the downstream link accepted by transport.
//
// Usage:
//
//	b := bridge.NewBridge(
//		*config,
//		stdio.NewStdioServerTransport(config.MaxFrameBytes),
//	)
//
//	if err := b.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewBridge(config common.BridgeConfig, transport transport.IRPCServerTransport) *Bridge {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	b := &Bridge{
		config:    config,
		transport: transport,
	}

	b.router = router.NewRouter(b, router.Options{Timeout: config.RequestTimeout()})
	b.mux = ws.NewServer(b.router, ws.Options{
		Host:           config.WSHost,
		Port:           config.WSPort,
		RequestTimeout: config.RequestTimeout(),
	})
	b.router.SetEventHandler(b.mux.BroadcastEvent)
	b.mux.SetHealthFunc(b.Connected)
	b.mux.AddMetricsWriter(b.router.WriteMetrics)

	Logger.Infof("Created bridge")
	Logger.Infof(config.String())

	return b
}

// Bridge owns the single active downstream link. A newer link replaces (and
// closes) the older one.
type Bridge struct {
	config    common.BridgeConfig
	transport transport.IRPCServerTransport
	router    *router.Router
	mux       *ws.Server
	link      atomic.Pointer[framer.Stream]
}

// Send forwards a message on the active downstream link (implements router.IDownstream)
func (b *Bridge) Send(msg any) error {
	link := b.link.Load()
	if link == nil {
		return common.ErrNotConnected
	}
	return link.Send(msg)
}

// Connected reports whether a downstream link is established
func (b *Bridge) Connected() bool {
	return b.link.Load() != nil
}

// Router returns the correlation router of the bridge
func (b *Bridge) Router() *router.Router {
	return b.router
}

// Mux returns the websocket multiplexer of the bridge
func (b *Bridge) Mux() *ws.Server {
	return b.mux
}

// Serve runs the multiplexer and the downstream transport until ctx is
// cancelled or one of them stops. In stdio mode this is the case when the
// browser closes stdin.
func (b *Bridge) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.transport.RegisterHandler(b.handleLink)

	errs := make(chan error, 2)
	go func() {
		errs <- b.mux.ListenAndServe(ctx)
	}()
	go func() {
		err := b.transport.Listen(ctx, b.config.DownstreamEndpoint)
		if err == nil && ctx.Err() == nil {
			Logger.Infof("Downstream %s ended", b.transport.GetName())
		}
		errs <- err
	}()

	// the first component to stop takes the other one down
	err := <-errs
	cancel()
	if second := <-errs; err == nil {
		err = second
	}
	return err
}

// handleLink serves one downstream link until it ends
func (b *Bridge) handleLink(link *framer.Stream) {
	if old := b.link.Swap(link); old != nil {
		Logger.Warningf("Link %s replaces %s", link.Name(), old.Name())
		old.Close()
	}
	Logger.Infof("Downstream link %s connected", link.Name())

	if err := link.ReadLoop(b.router.Resolve); err != nil {
		Logger.Errorf("Downstream link %s failed: %v", link.Name(), err)
	}

	if b.link.CompareAndSwap(link, nil) {
		Logger.Warningf("Downstream link %s disconnected, %d requests pending", link.Name(), b.router.Pending())
	}
}
