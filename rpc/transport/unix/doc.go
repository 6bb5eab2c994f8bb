// Package unix implements the framed link between bridge and agent using Unix
// domain sockets. Both processes always run on the same machine, which makes
// this the cheapest downstream when the bridge is not started as a native
// messaging host.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners, removing a stale socket
//     file left behind by a previous run
package unix
