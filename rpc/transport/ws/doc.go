// Package ws implements the socket multiplexer facing the external callers.
//
// Every caller holds one websocket connection. On connect the caller receives
// {"type":"ready","host":...,"port":...}. Each inbound message is validated
// ("Invalid JSON", "Invalid request: ...", "Missing action" are answered right
// away), gets a synthesized id of the form req_<unixMillis>_<counter> if it has
// none, and is forwarded through the correlation router with the connection as
// its waiter. Responses are written back on the same connection. Downstream
// messages nobody waits for are broadcast to all connections as
// {"type":"event","payload":...}.
//
// Writes to one connection are serialized and bounded by a write deadline.
// When a connection closes it leaves the broadcast set and the router cancels
// all requests it still had pending.
//
// Next to the websocket endpoint on "/", the server exposes "/metrics"
// (Prometheus text format) and "/healthz" (downstream link state).
package ws
