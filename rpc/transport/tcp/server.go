package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/fab/rpc/transport"
	"github.com/ValentinKolb/fab/rpc/transport/base"
)

const (
	defaultKeepAlive = 30 * time.Second
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(endpoint string) (net.Listener, error) {
	// Create TCP socket listener
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %w", err)
	}

	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn) error {
	return upgrade(conn)
}

// upgrade tunes a TCP connection for small, latency sensitive frames
func upgrade(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm, frames are written in one piece anyway
	if err := tcpConn.SetNoDelay(true); err != nil {
		return err
	}

	// Detect a vanished peer even when no frames are exchanged
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return err
	}
	return tcpConn.SetKeepAlivePeriod(defaultKeepAlive)
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPServerTransport creates a new TCP server transport
func NewTCPServerTransport(maxFrameBytes int) transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, maxFrameBytes)
}
