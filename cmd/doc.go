// Package cmd implements the command-line interface of fab. It provides the
// processes of the bridge and a small caller for scripting and profiling.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the bridge (websocket multiplexer, router and downstream link)
//   - agent: Starts the browser agent that connects to the bridge
//   - call: Commands for callers (call, profile)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See fab -help for a list of all commands.
package cmd
