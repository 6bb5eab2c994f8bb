package stdio

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/fab/rpc/framer"
	"github.com/ValentinKolb/fab/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// serverTransport yields exactly one link made of the process' stdin and stdout
type serverTransport struct {
	in            io.ReadCloser
	out           io.Writer
	handler       transport.LinkHandleFunc
	maxFrameBytes int
}

// --------------------------------------------------------------------------
// Server Transport Factory Methods
// --------------------------------------------------------------------------

// NewStdioServerTransport creates a server transport over os.Stdin and os.Stdout.
// This is the mode used when the browser starts the bridge as a native messaging host.
func NewStdioServerTransport(maxFrameBytes int) transport.IRPCServerTransport {
	return NewServerTransport(os.Stdin, os.Stdout, maxFrameBytes)
}

// NewServerTransport creates a server transport over an arbitrary reader/writer pair
func NewServerTransport(in io.ReadCloser, out io.Writer, maxFrameBytes int) transport.IRPCServerTransport {
	return &serverTransport{
		in:            in,
		out:           out,
		maxFrameBytes: maxFrameBytes,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.LinkHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) GetName() string {
	return "stdio"
}

// Listen ignores the endpoint. It returns once the link ended, which for a
// native messaging host means the browser closed stdin.
func (t *serverTransport) Listen(ctx context.Context, _ string) error {
	if t.handler == nil {
		return fmt.Errorf("no link handler registered")
	}

	link := framer.NewStream("stdio", t.in, t.out, t.in, t.maxFrameBytes)
	defer link.Close()

	go func() {
		select {
		case <-ctx.Done():
			link.Close()
		case <-link.Done():
		}
	}()

	Logger.Infof("Link on stdin/stdout established")
	t.handler(link)
	Logger.Infof("Link on stdin/stdout closed")
	return nil
}
