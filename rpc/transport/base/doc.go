// Package base provides the protocol-agnostic part of the framed link between
// the bridge and the agent. It can be extended with protocol-specific connectors
// (TCP, Unix sockets).
//
// The package focuses on:
//   - Accepting links on the bridge side and handing them over as framer.Stream
//   - Keeping exactly one link alive on the agent side
//   - Robust error handling with accept backoff and fixed-delay reconnection
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - serverTransport: Accepts connections, applies the connector's upgrade and
//     hands every link to the registered LinkHandleFunc in its own goroutine.
//
//   - ClientTransport: The reconnection supervisor. It moves through the states
//     disconnected, connecting and connected. On every new link the configured
//     greeting is sent before anything is read. When a link drops, the handle is
//     cleared and a single reconnect timer is armed, no matter how many disconnect
//     notifications arrive. Notifications of an older link are ignored. While no
//     link is established Send returns common.ErrNotConnected immediately.
//
// Thread Safety:
//
//	All public methods are thread-safe. The client transport keeps its state
//	behind one mutex and never performs network I/O while holding it, while the
//	server creates a dedicated goroutine for each connection.
package base
