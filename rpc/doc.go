// Package rpc provides the message bridge between local callers and a browser
// agent. Callers speak JSON over websocket, the agent is reached over a length
// prefixed JSON link, and every request is correlated with its response by id.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the system,
//     including the request/response protocol, configuration structures, and logging.
//
//   - framer: The 4 byte little endian length prefix codec and a framed stream
//     on top of any reader/writer pair.
//
//   - transport: Link abstractions with pluggable implementations (stdio, TCP,
//     Unix sockets) and the websocket multiplexer for callers (ws).
//
//   - router: Correlation of downstream responses with the waiting callers,
//     including per request deadlines.
//
//   - bridge: Wires multiplexer, router and downstream link into the bridge process.
//
//   - agent, dispatcher, executor: The agent process. Requests are dispatched by
//     action name (with batch support) and executed in the browser.
//
//   - client, profiler: A websocket caller and a per hop latency aggregator on top of it.
package rpc
