// Package framer implements the length-prefixed framing used on the byte-stream
// side of the bridge (stdin/stdout in native messaging mode, or a tcp/unix
// connection between the bridge and the agent).
//
// Frame format:
//   - 4 bytes: payload length (uint32, little endian)
//   - N bytes: UTF-8 JSON payload
//
// Key Components:
//
//   - Encode / WriteFrame: Serialize a message and prepend the length header.
//     The header and payload are written with a single net.Buffers write.
//
//   - Decoder: Push-style decoder fed with arbitrary byte chunks. Every complete
//     frame is emitted in arrival order, trailing partial bytes are retained for
//     the next call. A payload that is not valid JSON is dropped and logged; the
//     length prefix is independent of the payload, so the following frames are
//     still decoded correctly.
//
//   - Stream: A bidirectional framed link over a reader/writer pair. Writes are
//     serialized with a mutex, reads use pooled buffers.
package framer
