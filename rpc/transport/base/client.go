package base

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/ValentinKolb/fab/rpc/framer"
	"github.com/ValentinKolb/fab/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

var _ transport.IRPCClientTransport = (*ClientTransport)(nil)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// ConnState is the state of the reconnecting client transport
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// ClientOptions configures a ClientTransport
type ClientOptions struct {
	// Backoff is the fixed delay before a reconnect attempt
	Backoff time.Duration
	// MaxFrameBytes limits the size of inbound frames (0 = unlimited)
	MaxFrameBytes int
	// Greeting, if set, builds the message sent first on every new link
	Greeting func() any
}

// ClientTransport keeps one framed link to the bridge alive. After a drop the
// link handle is cleared and exactly one reconnect is scheduled after a fixed
// backoff. While disconnected Send fails fast instead of queueing.
type ClientTransport struct {
	connector IClientConnector
	opts      ClientOptions
	handler   transport.MessageHandleFunc
	endpoint  string

	mu             sync.Mutex // Protects all fields below
	state          ConnState
	link           *framer.Stream
	reconnectTimer *time.Timer // non nil while a reconnect is pending
	stopping       bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new reconnecting client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector, opts ClientOptions) *ClientTransport {
	if opts.Backoff <= 0 {
		opts.Backoff = common.DefaultReconnectBackoffMs * time.Millisecond
	}
	return &ClientTransport{
		connector: connector,
		opts:      opts,
		state:     StateDisconnected,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *ClientTransport) RegisterHandler(handler transport.MessageHandleFunc) {
	t.handler = handler
}

func (t *ClientTransport) Connect(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}
	if t.handler == nil {
		return fmt.Errorf("no message handler registered")
	}

	t.mu.Lock()
	t.endpoint = endpoint
	t.stopping = false
	t.mu.Unlock()

	// The first attempt runs synchronously, failures are retried in the background
	t.connect()
	return nil
}

func (t *ClientTransport) Send(msg any) error {
	t.mu.Lock()
	link := t.link
	t.mu.Unlock()

	if link == nil {
		return common.ErrNotConnected
	}
	return link.Send(msg)
}

func (t *ClientTransport) Connected() bool {
	return t.State() == StateConnected
}

func (t *ClientTransport) Close() error {
	t.mu.Lock()
	t.stopping = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	link := t.link
	t.link = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	if link != nil {
		return link.Close()
	}
	return nil
}

// State returns the current connection state
func (t *ClientTransport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connect performs one connection attempt. Only one attempt runs at a time.
func (t *ClientTransport) connect() {
	t.mu.Lock()
	if t.stopping || t.state != StateDisconnected {
		t.mu.Unlock()
		return
	}
	t.state = StateConnecting
	endpoint := t.endpoint
	t.mu.Unlock()

	conn, err := t.dial(endpoint)

	t.mu.Lock()
	if t.stopping {
		t.state = StateDisconnected
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		Logger.Warningf("Failed to connect to %s: %v; retrying in %s", endpoint, err, t.opts.Backoff)
		t.state = StateDisconnected
		t.scheduleReconnectLocked()
		t.mu.Unlock()
		return
	}

	link := framer.NewConnStream(conn, t.opts.MaxFrameBytes)
	t.link = link
	t.state = StateConnected
	t.mu.Unlock()

	Logger.Infof("Connected to %s using %s transport", endpoint, t.connector.GetName())

	// the greeting goes out before anything is read from the new link
	if t.opts.Greeting != nil {
		if err := link.Send(t.opts.Greeting()); err != nil {
			Logger.Errorf("Failed to send greeting to %s: %v", endpoint, err)
			link.Close()
		}
	}

	go t.readLoop(link)
}

// dial establishes and upgrades a connection
func (t *ClientTransport) dial(endpoint string) (net.Conn, error) {
	conn, err := t.connector.Connect(endpoint)
	if err != nil {
		return nil, err
	}
	if err := t.connector.UpgradeConnection(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	return conn, nil
}

// readLoop forwards inbound messages to the handler until the link ends
func (t *ClientTransport) readLoop(link *framer.Stream) {
	err := link.ReadLoop(func(msg json.RawMessage) {
		t.handler(msg)
	})
	if err != nil {
		Logger.Errorf("Link to %s failed: %v", link.Name(), err)
	}
	t.onDisconnect(link)
}

// onDisconnect clears the link handle and schedules a reconnect.
// Notifications for a link that is not the current one are ignored.
func (t *ClientTransport) onDisconnect(link *framer.Stream) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.link != link {
		return
	}
	t.link = nil
	t.state = StateDisconnected

	if !t.stopping {
		Logger.Warningf("Link to %s lost; reconnecting in %s", link.Name(), t.opts.Backoff)
		t.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked starts the reconnect timer unless one is already pending.
// t.mu must be held.
func (t *ClientTransport) scheduleReconnectLocked() {
	if t.reconnectTimer != nil || t.stopping {
		return
	}
	t.reconnectTimer = time.AfterFunc(t.opts.Backoff, func() {
		t.mu.Lock()
		t.reconnectTimer = nil
		t.mu.Unlock()
		t.connect()
	})
}
