// Package tcp implements the framed link between bridge and agent over TCP
// sockets. It provides concrete implementations of the base package's connector
// interfaces.
//
// Both sides disable Nagle's algorithm and enable keep-alive, so a dead peer is
// noticed even on an idle link. See the base package documentation for the
// accept loop and the reconnection behavior.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
package tcp
