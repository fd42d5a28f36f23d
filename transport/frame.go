package transport

import (
	"github.com/pkg/errors"
)

// lengthPrefixSize is the width of the big-endian length prefix that
// precedes every Noise message on the wire.
const lengthPrefixSize = 3

const maxFrameSize = 1<<24 - 1

// encodeFrame prepends the 3-byte big-endian length prefix to payload.
func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > maxFrameSize {
		return nil, errors.Errorf("frame too large: %d bytes", len(payload))
	}
	out := make([]byte, lengthPrefixSize+len(payload))
	put24(out, len(payload))
	copy(out[lengthPrefixSize:], payload)
	return out, nil
}

func put24(b []byte, n int) {
	b[0] = byte(n >> 16)
	b[1] = byte(n >> 8)
	b[2] = byte(n)
}

func get24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

// frameReader pulls length-prefixed frames out of a stream of WebSocket
// binary messages that may each carry zero, one or several frames, and
// may split a frame across message boundaries. It is a tiny incremental
// parser owned by the single reader goroutine (see stoppable.Single-driven
// pumps), rather than leaning on bufio against a blocking io.Reader that
// WebSocket message framing does not provide.
type frameReader struct {
	pending []byte
}

// feed appends newly-read WebSocket message bytes and returns every
// complete frame payload now available, in arrival order.
func (r *frameReader) feed(chunk []byte) ([][]byte, error) {
	r.pending = append(r.pending, chunk...)

	var frames [][]byte
	for {
		if len(r.pending) < lengthPrefixSize {
			return frames, nil
		}
		n := get24(r.pending)
		if n > maxFrameSize {
			return frames, errors.Errorf("advertised frame length %d exceeds maximum", n)
		}
		total := lengthPrefixSize + n
		if len(r.pending) < total {
			return frames, nil
		}
		frame := make([]byte, n)
		copy(frame, r.pending[lengthPrefixSize:total])
		frames = append(frames, frame)
		r.pending = r.pending[total:]
	}
}
