// Package agent implements the browser side process of fab. It keeps a framed
// link to the bridge alive (tcp or unix socket, see transport/base for the
// reconnect behavior), greets the bridge with a hello message on every new
// link and hands each incoming request to the dispatcher. Responses are sent
// back on whatever link is current when the action finishes.
//
// On shutdown in-flight actions are cancelled and waited for, and the per
// action timers of the dispatcher are written to the log.
package agent
