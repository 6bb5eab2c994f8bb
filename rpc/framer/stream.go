package framer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ValentinKolb/fab/rpc/common"
)

const (
	defaultReadBufferSize = 64 * 1024 // 64 KB
)

// readBufferPool reuses read buffers across streams to reduce GC pressure
var readBufferPool = &sync.Pool{
	New: func() interface{} {
		return make([]byte, defaultReadBufferSize)
	},
}

// Stream is a bidirectional framed link. Send may be called concurrently,
// ReadLoop must only run once.
type Stream struct {
	name    string
	r       io.Reader
	w       io.Writer
	closer  io.Closer
	dec     *Decoder
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewStream creates a framed link over a reader/writer pair.
// closer may be nil if the underlying resources are not owned by the stream.
func NewStream(name string, r io.Reader, w io.Writer, closer io.Closer, maxFrameBytes int) *Stream {
	return &Stream{
		name:   name,
		r:      r,
		w:      w,
		closer: closer,
		dec:    NewDecoder(maxFrameBytes),
		done:   make(chan struct{}),
	}
}

// NewConnStream creates a framed link over a network connection
func NewConnStream(conn net.Conn, maxFrameBytes int) *Stream {
	return NewStream(conn.RemoteAddr().String(), conn, conn, conn, maxFrameBytes)
}

// Name returns a human readable name of the peer
func (s *Stream) Name() string {
	return s.name
}

// Send serializes msg and writes it as one frame
func (s *Stream) Send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return common.ErrClosed
	default:
	}

	if err := WriteFrame(s.w, payload); err != nil {
		return fmt.Errorf("failed to write frame to %s: %w", s.name, err)
	}
	return nil
}

// ReadLoop reads frames until the stream ends and calls handler for each decoded
// message. It returns nil when the peer closed the stream or Close was called.
func (s *Stream) ReadLoop(handler func(msg json.RawMessage)) error {
	buf := readBufferPool.Get().([]byte)
	defer readBufferPool.Put(buf)
	defer s.Close()

	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			if ferr := s.dec.Feed(buf[:n], handler); ferr != nil {
				return ferr
			}
		}

		if err != nil {
			// Case EOF or local close: regular end of the stream
			if errors.Is(err, io.EOF) || s.closed() {
				return nil
			}
			return fmt.Errorf("failed to read from %s: %w", s.name, err)
		}
	}
}

// Close closes the stream and the underlying resources. It is safe to call Close multiple times.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// Done returns a channel that is closed once the stream is closed
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
