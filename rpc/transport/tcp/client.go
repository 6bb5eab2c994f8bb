package tcp

import (
	"net"
	"time"

	"github.com/ValentinKolb/fab/rpc/transport/base"
)

const (
	dialTimeout = 5 * time.Second
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(endpoint string) (net.Conn, error) {
	return net.DialTimeout("tcp", endpoint, dialTimeout)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn) error {
	return upgrade(conn)
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPClientTransport creates a new reconnecting TCP client transport
func NewTCPClientTransport(opts base.ClientOptions) *base.ClientTransport {
	return base.NewBaseClientTransport(&clientConnector{}, opts)
}
