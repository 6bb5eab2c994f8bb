// Package client provides a websocket caller for the fab bridge. It is used by
// the call and profile commands and by the profiler.
//
// A Client multiplexes any number of concurrent calls over one connection.
// Request ids are generated locally (call_<ms>_<n>, prof_<ms>_<n> for profiled
// calls) and kept in a correlation table until the matching response arrives,
// the client side timeout elapses or the connection closes. Everything else the
// bridge sends is available on the Events channel.
package client
