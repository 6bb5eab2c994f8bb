// Package stdio provides a server transport whose single link is made of the
// process' standard input and output. The browser launches the bridge as a
// native messaging host and talks to it through these pipes using the same
// 4-byte little-endian length prefixed JSON frames as the socket transports.
//
// Because stdout carries frames, nothing else may ever be written to it. All
// logging goes to stderr.
package stdio
