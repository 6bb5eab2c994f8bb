package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultWSHost             = "127.0.0.1"
	DefaultWSPort             = 8765
	DefaultRequestTimeoutMs   = 30000
	DefaultDownstream         = DownstreamStdio
	DefaultDownstreamEndpoint = "127.0.0.1:8766"
	DefaultReconnectBackoffMs = 1500
	DefaultMaxBatchDepth      = 4
	DefaultMaxFrameBytes      = 64 * 1024 * 1024 // 64 MiB
	DefaultLogLevel           = "info"
)

// Downstream link kinds of the bridge
const (
	DownstreamStdio = "stdio"
	DownstreamTCP   = "tcp"
	DownstreamUnix  = "unix"
)

// helper functions for consistent String() output
func addSection(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func addField(sb *strings.Builder, name, value string) {
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
}

// --------------------------------------------------------------------------
// Bridge configuration struct
// --------------------------------------------------------------------------

// BridgeConfig holds all configuration parameters of the bridge process
// (socket multiplexer, correlation router and downstream link)
type BridgeConfig struct {
	// websocket endpoint for callers
	WSHost string
	WSPort int

	// deadline of a forwarded request
	RequestTimeoutMs int64

	// downstream link to the agent (stdio, tcp or unix)
	Downstream         string
	DownstreamEndpoint string
	MaxFrameBytes      int

	// Logging configuration
	LogLevel string
}

// Addr returns the host:port the websocket server listens on
func (c *BridgeConfig) Addr() string {
	return net.JoinHostPort(c.WSHost, strconv.Itoa(c.WSPort))
}

// RequestTimeout returns the request deadline as duration
func (c *BridgeConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutMs <= 0 {
		return DefaultRequestTimeoutMs * time.Millisecond
	}
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Validate checks the configuration for values that cannot work
func (c *BridgeConfig) Validate() error {
	if c.WSPort < 0 || c.WSPort > 65535 {
		return fmt.Errorf("invalid websocket port %d", c.WSPort)
	}
	switch c.Downstream {
	case DownstreamStdio:
	case DownstreamTCP, DownstreamUnix:
		if c.DownstreamEndpoint == "" {
			return fmt.Errorf("downstream %s requires an endpoint", c.Downstream)
		}
	default:
		return fmt.Errorf("invalid downstream %q (expected one of: stdio, tcp, unix)", c.Downstream)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *BridgeConfig) String() string {
	var sb strings.Builder

	addSection(&sb, "Socket Multiplexer")
	addField(&sb, "Endpoint", "ws://"+c.Addr())
	addField(&sb, "Request Timeout", fmt.Sprintf("%d ms", c.RequestTimeoutMs))

	addSection(&sb, "Downstream")
	addField(&sb, "Kind", c.Downstream)
	if c.Downstream != DownstreamStdio {
		addField(&sb, "Endpoint", c.DownstreamEndpoint)
	}
	addField(&sb, "Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameBytes))

	addSection(&sb, "Logging")
	addField(&sb, "Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Agent configuration struct
// --------------------------------------------------------------------------

// AgentConfig holds all configuration parameters of the agent process
// (reconnection supervisor, dispatcher and action executor)
type AgentConfig struct {
	// link to the bridge
	Transport          string
	Endpoint           string
	ReconnectBackoffMs int64
	MaxFrameBytes      int

	// dispatcher
	MaxBatchDepth int

	// browser
	ChromeURL string
	Headless  bool

	// Logging configuration
	LogLevel string
}

// ReconnectBackoff returns the fixed reconnect delay as duration
func (c *AgentConfig) ReconnectBackoff() time.Duration {
	if c.ReconnectBackoffMs <= 0 {
		return DefaultReconnectBackoffMs * time.Millisecond
	}
	return time.Duration(c.ReconnectBackoffMs) * time.Millisecond
}

// String returns a formatted string representation of the agent configuration
func (c *AgentConfig) String() string {
	var sb strings.Builder

	addSection(&sb, "Bridge Link")
	addField(&sb, "Transport", c.Transport)
	addField(&sb, "Endpoint", c.Endpoint)
	addField(&sb, "Reconnect Backoff", fmt.Sprintf("%d ms", c.ReconnectBackoffMs))

	addSection(&sb, "Dispatcher")
	addField(&sb, "Max Batch Depth", strconv.Itoa(c.MaxBatchDepth))

	addSection(&sb, "Browser")
	if c.ChromeURL != "" {
		addField(&sb, "Remote", c.ChromeURL)
	} else {
		addField(&sb, "Launch", fmt.Sprintf("headless=%t", c.Headless))
	}

	addSection(&sb, "Logging")
	addField(&sb, "Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures a websocket caller (fab call, fab profile)
type ClientConfig struct {
	WSHost    string
	WSPort    int
	TimeoutMs int64
}

// URL returns the websocket url of the bridge
func (c *ClientConfig) URL() string {
	return "ws://" + net.JoinHostPort(c.WSHost, strconv.Itoa(c.WSPort))
}

// Timeout returns the client side wait limit as duration
func (c *ClientConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return DefaultRequestTimeoutMs * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection(&sb, "Client Configuration")
	addField(&sb, "Endpoint", c.URL())
	addField(&sb, "Timeout", fmt.Sprintf("%d ms", c.TimeoutMs))

	return sb.String()
}
