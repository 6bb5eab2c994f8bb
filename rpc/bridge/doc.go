// Package bridge wires the bridge process together: the websocket multiplexer
// facing the callers, the correlation router, and the framed downstream link
// to the agent (stdin/stdout as native messaging host, or an accepted TCP/Unix
// connection).
//
// Only one downstream link is active at a time. While there is none, requests
// fail right away with common.ErrNotConnected. Messages arriving on the link are
// handed to the router, which either resolves a pending request or broadcasts
// them to all callers as events.
package bridge
