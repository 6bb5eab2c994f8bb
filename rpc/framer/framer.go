package framer

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// HeaderSize is the size of the length prefix in bytes
const HeaderSize = 4

// ErrFrameTooLarge is returned when a frame header declares more bytes than allowed.
// The stream cannot be resynchronized after this error.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode serializes msg as JSON and prepends the 4 byte little endian length header
func Encode(msg any) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// WriteFrame writes a frame with the format:
// - 4 bytes: data length (uint32, little endian)
// - N bytes: data payload
func WriteFrame(w io.Writer, payload []byte) error {
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))

	b := net.Buffers{header, payload}
	_, err := b.WriteTo(w)
	return err
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Decoder accumulates incoming byte chunks and splits them into frames.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	maxSize int
	dropped uint64
}

// NewDecoder creates a decoder. maxSize <= 0 disables the frame size limit.
func NewDecoder(maxSize int) *Decoder {
	return &Decoder{maxSize: maxSize}
}

// Feed appends chunk to the internal buffer and calls emit once for every
// complete frame, in arrival order. Trailing partial bytes are kept until the
// next call. Payloads that are not valid JSON are dropped.
func (d *Decoder) Feed(chunk []byte, emit func(msg json.RawMessage)) error {
	d.buf = append(d.buf, chunk...)

	consumed := 0
	for len(d.buf)-consumed >= HeaderSize {
		length := binary.LittleEndian.Uint32(d.buf[consumed : consumed+HeaderSize])
		if d.maxSize > 0 && uint64(length) > uint64(d.maxSize) {
			d.buf = nil
			return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, length, d.maxSize)
		}

		end := consumed + HeaderSize + int(length)
		if len(d.buf) < end {
			break // wait for the rest of the payload
		}

		payload := d.buf[consumed+HeaderSize : end]
		consumed = end

		if !json.Valid(payload) {
			d.dropped++
			Logger.Warningf("Dropping malformed frame (%d bytes)", len(payload))
			continue
		}

		// the payload aliases the internal buffer which is reused below
		msg := make(json.RawMessage, len(payload))
		copy(msg, payload)
		emit(msg)
	}

	// move the remaining partial frame to the front of the buffer
	if consumed > 0 {
		d.buf = append(d.buf[:0], d.buf[consumed:]...)
	}
	return nil
}

// Buffered returns the number of bytes waiting for the rest of their frame
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Dropped returns the number of malformed frames discarded so far
func (d *Decoder) Dropped() uint64 {
	return d.dropped
}
