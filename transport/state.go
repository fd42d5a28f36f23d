// Package transport implements the Noise-framed WebSocket transport that
// carries binary-node stanzas to the WhatsApp multi-device service: a
// Noise_XX_25519_AESGCM_SHA256 handshake producing a session key, after
// which every frame is AEAD-encrypted and length-prefixed.
package transport

import "sync/atomic"

// State is the transport's lifecycle state:
// CONNECTING → HANDSHAKING → OPEN → CLOSING → CLOSED.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

func (b *stateBox) store(s State) {
	b.v.Store(int32(s))
}

// compareAndSwap transitions the state only if it currently matches
// from, returning whether the transition took place.
func (b *stateBox) compareAndSwap(from, to State) bool {
	return b.v.CompareAndSwap(int32(from), int32(to))
}
