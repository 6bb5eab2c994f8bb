// Package common provides core data structures and utilities shared across
// the browser agent bridge. It defines the message protocol, configuration
// structures and logging used by the other packages.
//
// The package focuses on:
//   - Message protocol definition for every hop (caller, bridge, agent)
//   - Configuration structures for the bridge, the agent and callers
//   - Custom logging implementation built on the Dragonboat logger package
//   - Timing helpers used for per-hop profiling
//
// Key Components:
//
//   - Request / Response: The request travels unchanged from the caller to the
//     agent, the response travels back. Both are tagged with the same opaque id
//     which is used for correlation at every hop.
//
//   - ReadyMessage, EventMessage, HelloMessage: Control messages that are never
//     correlated (connection greetings and unsolicited events).
//
//   - BridgeConfig / AgentConfig / ClientConfig: Configuration of the processes,
//     each with a String() method used for startup logging.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
