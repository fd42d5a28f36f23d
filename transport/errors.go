package transport

import "github.com/pkg/errors"

// Error taxonomy for the transport layer. Names are non-normative; these
// are the sentinel values the rest of the core compares against with
// errors.Is.
var (
	ErrHandshakeFailure = errors.New("noise handshake failure")
	ErrDecryptFailure   = errors.New("aead decrypt failure")
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotOpen          = errors.New("transport not open")
)

// CloseReason records why a transport entered StateClosed, surfaced to
// the event bus as connection.update{state:close, reason}.
type CloseReason string

const (
	CloseReasonGraceful        CloseReason = "graceful"
	CloseReasonDecryptFailure  CloseReason = "decrypt-failure"
	CloseReasonHandshakeFailed CloseReason = "handshake-failure"
	CloseReasonTransportError  CloseReason = "transport-error"
)
