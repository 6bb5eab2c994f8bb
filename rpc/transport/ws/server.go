package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/ValentinKolb/fab/rpc/router"
	"github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("ws")

const (
	defaultWriteTimeout = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IRequestRouter is the part of the correlation router the multiplexer uses
type IRequestRouter interface {
	Forward(req *common.Request, waiter router.IWaiter, timeout time.Duration) error
	CancelWaiter(waiterID uint64) int
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// Options configures the multiplexer
type Options struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	// WriteTimeout bounds a single write to a caller
	WriteTimeout time.Duration
}

// conn is one caller connection. It is the waiter of every request it sent.
type conn struct {
	id uint64
	ws *websocket.Conn

	writeMu sync.Mutex // one writer at a time, also guards closed
	closed  bool

	writeTimeout time.Duration
}

func (c *conn) WaiterID() uint64 {
	return c.id
}

// Deliver writes the final response of one request to the caller
func (c *conn) Deliver(resp *common.Response) {
	if err := c.writeJSON(resp); err != nil {
		Logger.Debugf("Dropping response %s for connection %d: %v", resp.ID, c.id, err)
	}
}

func (c *conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	return c.writeRaw(data)
}

func (c *conn) writeRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return common.ErrClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.closed {
		c.closed = true
		c.ws.Close()
	}
}

// Server is the socket multiplexer. It accepts any number of caller websocket
// connections and multiplexes their requests onto one router.
type Server struct {
	opts     Options
	router   IRequestRouter
	upgrader websocket.Upgrader

	conns      *xsync.MapOf[uint64, *conn]
	nextConnID atomic.Uint64
	idCounter  atomic.Uint64

	healthy        atomic.Pointer[func() bool]
	metricsMu      sync.Mutex
	metricsWriters []func(w io.Writer)

	// metrics
	set        *metrics.Set
	accepted   *metrics.Counter
	messages   *metrics.Counter
	invalid    *metrics.Counter
	refused    *metrics.Counter
	broadcasts *metrics.Counter
}

// -----------------------------------------------------------
// Server Factory Method
// -----------------------------------------------------------

// NewServer creates a new multiplexer forwarding all requests to r
func NewServer(r IRequestRouter, opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	s := &Server{
		opts:   opts,
		router: r,
		upgrader: websocket.Upgrader{
			// trusted loopback only, the browser extension has its own origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: xsync.NewMapOf[uint64, *conn](),
		set:   metrics.NewSet(),
	}

	s.accepted = s.set.NewCounter("fab_ws_connections_total")
	s.messages = s.set.NewCounter("fab_ws_messages_total")
	s.invalid = s.set.NewCounter("fab_ws_invalid_messages_total")
	s.refused = s.set.NewCounter("fab_ws_refused_requests_total")
	s.broadcasts = s.set.NewCounter("fab_ws_broadcasts_total")
	s.set.NewGauge("fab_ws_connections", func() float64 {
		return float64(s.conns.Size())
	})

	return s
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// SetHealthFunc registers the function reporting whether the downstream link is up
func (s *Server) SetHealthFunc(f func() bool) {
	s.healthy.Store(&f)
}

// AddMetricsWriter adds a writer whose output is appended to /metrics
func (s *Server) AddMetricsWriter(f func(w io.Writer)) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	s.metricsWriters = append(s.metricsWriters, f)
}

// Handler returns the http handler serving the websocket endpoint on "/",
// "/metrics" and "/healthz"
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebsocket)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe serves the multiplexer until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// hijacked websocket connections are not tracked by Shutdown
		s.closeAll()
		httpServer.Shutdown(shutdownCtx)
	}()

	Logger.Infof("WebSocket server listening on ws://%s", addr)
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Broadcast sends msg to every open connection. The message is serialized once,
// failed writes to single connections are ignored.
func (s *Server) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		Logger.Errorf("Failed to serialize broadcast: %v", err)
		return
	}

	s.broadcasts.Inc()
	s.conns.Range(func(id uint64, c *conn) bool {
		if err := c.writeRaw(data); err != nil {
			Logger.Debugf("Broadcast to connection %d failed: %v", id, err)
		}
		return true
	})
}

// BroadcastEvent wraps an unsolicited downstream message and broadcasts it
func (s *Server) BroadcastEvent(payload json.RawMessage) {
	s.Broadcast(common.NewEventMessage(payload))
}

// Connections returns the number of open caller connections
func (s *Server) Connections() int {
	return s.conns.Size()
}

// WriteMetrics writes the multiplexer metrics in Prometheus text format
func (s *Server) WriteMetrics(w io.Writer) {
	s.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// HTTP Handlers
// --------------------------------------------------------------------------

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logger.Warningf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &conn{
		id:           s.nextConnID.Add(1),
		ws:           ws,
		writeTimeout: s.opts.WriteTimeout,
	}
	s.conns.Store(c.id, c)
	s.accepted.Inc()
	defer s.drop(c)

	Logger.Infof("Connection %d from %s opened", c.id, ws.RemoteAddr())
	if err := c.writeJSON(common.NewReadyMessage(s.opts.Host, s.opts.Port)); err != nil {
		Logger.Warningf("Failed to greet connection %d: %v", c.id, err)
		return
	}

	for {
		// text and binary messages are treated alike
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				Logger.Debugf("Connection %d read error: %v", c.id, err)
			}
			return
		}
		s.handleMessage(c, data)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
	s.WriteMetrics(w)

	s.metricsMu.Lock()
	writers := append([]func(io.Writer){}, s.metricsWriters...)
	s.metricsMu.Unlock()
	for _, write := range writers {
		write(w)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected := true
	if f := s.healthy.Load(); f != nil && *f != nil {
		connected = (*f)()
	}

	status := map[string]any{
		"connections": s.conns.Size(),
		"downstream":  "connected",
	}
	w.Header().Set("Content-Type", "application/json")
	if !connected {
		status["downstream"] = "disconnected"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleMessage validates one inbound message and hands it to the router.
// Rejected messages are answered right away and never correlated.
func (s *Server) handleMessage(c *conn, data []byte) {
	s.messages.Inc()

	if !json.Valid(data) {
		s.reject(c, "", common.ErrMsgInvalidJSON)
		return
	}

	var req common.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.reject(c, "", fmt.Sprintf("Invalid request: %v", err))
		return
	}
	if req.Action == "" {
		s.reject(c, req.ID, common.ErrMsgMissingAction)
		return
	}
	if req.ID == "" {
		req.ID = s.nextID()
	}

	if err := s.router.Forward(&req, c, s.opts.RequestTimeout); err != nil {
		s.refused.Inc()
		Logger.Warningf("Request %s (%s) refused: %v", req.ID, req.Action, err)
		c.Deliver(common.NewErrorResponse(req.ID, err.Error()))
	}
}

func (s *Server) reject(c *conn, id string, msg string) {
	s.invalid.Inc()
	c.Deliver(common.NewErrorResponse(id, msg))
}

// nextID synthesizes a request id that is unique within this process
func (s *Server) nextID() string {
	return fmt.Sprintf("req_%d_%d", time.Now().UnixMilli(), s.idCounter.Add(1))
}

// drop removes a closed connection and cancels everything it was waiting for
func (s *Server) drop(c *conn) {
	s.conns.Delete(c.id)
	c.close()
	cancelled := s.router.CancelWaiter(c.id)
	Logger.Infof("Connection %d closed, %d pending requests cancelled", c.id, cancelled)
}

func (s *Server) closeAll() {
	s.conns.Range(func(_ uint64, c *conn) bool {
		c.close()
		return true
	})
}
