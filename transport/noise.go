package transport

import (
	"crypto/rand"
	"crypto/subtle"
	"sync"
	"sync/atomic"

	"github.com/flynn/noise"
	"github.com/pkg/errors"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

// GenerateStaticKeypair generates the long-lived noise static keypair
// stored in AuthenticationCreds.
func GenerateStaticKeypair() (noise.DHKey, error) {
	return cipherSuite.GenerateKeypair(rand.Reader)
}

// handshake drives the client side (initiator) of the Noise_XX pattern:
// -> e
// <- e, ee, s, es
// -> s, se
//
// The core is always the connecting client, never the responder, so
// only the initiator role is implemented.
type handshake struct {
	hs        *noise.HandshakeState
	prologue  []byte
	completed bool
}

func newHandshake(staticKeypair noise.DHKey, prologue []byte) (*handshake, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     true,
		Prologue:      prologue,
		StaticKeypair: staticKeypair,
	})
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	return &handshake{hs: hs, prologue: prologue}, nil
}

// writeHello produces the first handshake message ("-> e").
func (h *handshake) writeHello(payload []byte) ([]byte, error) {
	msg, _, _, err := h.hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	return msg, nil
}

// readServerHello consumes the second handshake message
// ("<- e, ee, s, es") and validates the server's static key against
// expectedServerStatic when non-nil.
func (h *handshake) readServerHello(msg []byte, expectedServerStatic []byte) ([]byte, error) {
	payload, _, _, err := h.hs.ReadMessage(nil, msg)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	if expectedServerStatic != nil {
		got := h.hs.PeerStatic()
		if len(got) != len(expectedServerStatic) || subtle.ConstantTimeCompare(got, expectedServerStatic) != 1 {
			return nil, errors.Wrap(ErrHandshakeFailure, "unexpected server static key")
		}
	}
	return payload, nil
}

// finish produces the third handshake message ("-> s, se") and splits
// the transcript into a pair of directional cipher states.
func (h *handshake) finish(payload []byte) (finalMsg []byte, send, recv *directionalCipher, err error) {
	msg, cs1, cs2, err := h.hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	if cs1 == nil || cs2 == nil {
		return nil, nil, nil, errors.Wrap(ErrHandshakeFailure, "handshake did not complete")
	}
	h.completed = true
	// The initiator encrypts with cs1 and decrypts with cs2; Noise's
	// Split() is defined so the two sides agree on this assignment.
	return msg, newDirectionalCipher(cs1), newDirectionalCipher(cs2), nil
}

// directionalCipher wraps one post-handshake noise.CipherState with an
// explicit, atomically-incrementing 64-bit counter mirroring the AEAD
// nonce: a send uses counter-as-nonce and increments atomically.
type directionalCipher struct {
	mu      sync.Mutex
	cs      *noise.CipherState
	counter atomic.Uint64
}

func newDirectionalCipher(cs *noise.CipherState) *directionalCipher {
	return &directionalCipher{cs: cs}
}

// Counter returns the number of messages sealed or opened on this
// direction so far.
func (d *directionalCipher) Counter() uint64 {
	return d.counter.Load()
}

func (d *directionalCipher) encrypt(plaintext []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.cs.Encrypt(nil, nil, plaintext)
	d.counter.Add(1)
	return out
}

func (d *directionalCipher) decrypt(ciphertext []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, err := d.cs.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptFailure, err.Error())
	}
	d.counter.Add(1)
	return out, nil
}
