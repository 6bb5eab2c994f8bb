package transport

import (
	"context"
	"encoding/json"

	"github.com/ValentinKolb/fab/rpc/framer"
)

// --------------------------------------------------------------------------
// Server Transport (bridge side of the framed link)
// --------------------------------------------------------------------------

// LinkHandleFunc is called by a server transport for every established link.
// The function owns the link and is expected to block until the link ends.
type LinkHandleFunc func(link *framer.Stream)

// IRPCServerTransport accepts framed links from the agent (or the browser in
// native messaging mode)
type IRPCServerTransport interface {
	// RegisterHandler registers the handler called for every new link
	RegisterHandler(handler LinkHandleFunc)
	// Listen starts the transport and blocks until ctx is cancelled or the
	// transport can not accept links anymore
	Listen(ctx context.Context, endpoint string) error
	// GetName returns the name of the transport type (e.g., "stdio", "tcp")
	GetName() string
}

// --------------------------------------------------------------------------
// Client Transport (agent side of the framed link)
// --------------------------------------------------------------------------

// MessageHandleFunc is called for every message received on a link
type MessageHandleFunc func(msg json.RawMessage)

// IRPCClientTransport keeps a framed link to the bridge alive
type IRPCClientTransport interface {
	// RegisterHandler registers the handler for inbound messages
	RegisterHandler(handler MessageHandleFunc)
	// Connect starts connecting to the endpoint. A failed first attempt is not
	// an error, the transport keeps retrying in the background.
	Connect(endpoint string) error
	// Send sends a message, failing fast if no link is established
	Send(msg any) error
	// Connected reports whether a link is currently established
	Connected() bool
	// Close closes the link and stops reconnecting
	Close() error
}
