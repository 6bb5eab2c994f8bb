// Package transport defines the interfaces for the framed link between the
// bridge and the agent. It provides a common contract that all transport
// implementations must fulfill, enabling protocol-agnostic communication.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Enabling multiple transport implementations (stdio, TCP, Unix sockets)
//
// Key Components:
//
//   - IRPCServerTransport: Interface for the bridge side. It accepts links and
//     hands each of them to a LinkHandleFunc.
//
//   - IRPCClientTransport: Interface for the agent side. It keeps a link alive,
//     reconnecting after drops, and fails fast while disconnected.
//
// The websocket transport facing the callers lives in the ws subpackage and is
// not part of this contract.
package transport
