package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/fab/rpc/framer"
	"github.com/ValentinKolb/fab/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(endpoint string) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector     IServerConnector
	handler       transport.LinkHandleFunc
	maxFrameBytes int
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport
func NewBaseServerTransport(connector IServerConnector, maxFrameBytes int) transport.IRPCServerTransport {
	return &serverTransport{
		connector:     connector,
		maxFrameBytes: maxFrameBytes,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.LinkHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) GetName() string {
	return t.connector.GetName()
}

func (t *serverTransport) Listen(ctx context.Context, endpoint string) error {
	if t.handler == nil {
		return fmt.Errorf("no link handler registered")
	}

	// Create listener using the connector
	listener, err := t.connector.Listen(endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	// Stop accepting when the context is cancelled
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	Logger.Infof("Waiting for agent links on %s (%s)", endpoint, t.connector.GetName())

	// Accept connections, backing off on repeated accept errors
	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextAcceptBackoff(backoff)
			Logger.Errorf("Accept error: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection wraps one accepted connection into a framed link
func (t *serverTransport) handleConnection(conn net.Conn) {
	if err := t.connector.UpgradeConnection(conn); err != nil {
		Logger.Errorf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	link := framer.NewConnStream(conn, t.maxFrameBytes)
	defer link.Close()

	Logger.Infof("Link from %s established", link.Name())
	t.handler(link)
	Logger.Infof("Link from %s closed", link.Name())
}
