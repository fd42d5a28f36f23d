package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/flynn/noise"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/xx-net/wacore/stoppable"
	"nhooyr.io/websocket"
)

// Config configures a Dial. RoutingInfo, when non-empty, is opaque
// bytes from AuthenticationCreds prepended verbatim before the client
// hello.
type Config struct {
	URL              string
	Origin           string
	RoutingInfo      []byte
	StaticKeypair    noise.DHKey
	ServerStaticKey  []byte
	Prologue         []byte
	HandshakeTimeout time.Duration
}

// FrameHandler is called once per decrypted application frame, in
// receipt order, from the socket's single read-pump goroutine.
type FrameHandler func(payload []byte)

// CloseHandler is called exactly once when the socket leaves StateOpen,
// carrying the reason for the transition.
type CloseHandler func(reason CloseReason, err error)

// Socket is one Noise-framed WebSocket connection to the WhatsApp
// multi-device service.
type Socket struct {
	conn *websocket.Conn

	state stateBox

	send *directionalCipher
	recv *directionalCipher

	onFrame FrameHandler
	onClose CloseHandler

	pumps *stoppable.Multi

	writeMu chan struct{}
}

// Dial performs the WebSocket upgrade and drives the client side of the
// Noise_XX handshake to completion, returning a Socket in StateOpen.
func Dial(ctx context.Context, cfg Config) (*Socket, error) {
	s := &Socket{
		writeMu: make(chan struct{}, 1),
	}
	s.state.store(StateConnecting)

	header := http.Header{}
	if cfg.Origin != "" {
		header.Set("Origin", cfg.Origin)
	}
	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		s.state.store(StateClosed)
		return nil, errors.Wrap(err, "dialing websocket")
	}
	s.conn = conn

	s.state.store(StateHandshaking)
	if err := s.runHandshake(ctx, cfg); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		s.state.store(StateClosed)
		return nil, err
	}

	s.state.store(StateOpen)
	s.pumps = stoppable.NewMulti("socket")
	readStop := stoppable.NewSingle("socket-read")
	s.pumps.Add(readStop)
	go s.readPump(readStop)

	return s, nil
}

func (s *Socket) runHandshake(ctx context.Context, cfg Config) error {
	hctx := ctx
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}

	hs, err := newHandshake(cfg.StaticKeypair, cfg.Prologue)
	if err != nil {
		return err
	}

	hello, err := hs.writeHello(nil)
	if err != nil {
		return err
	}
	helloFrame, err := encodeFrame(hello)
	if err != nil {
		return err
	}
	firstMessage := append(append([]byte{}, cfg.RoutingInfo...), helloFrame...)
	if err := s.conn.Write(hctx, websocket.MessageBinary, firstMessage); err != nil {
		return errors.Wrap(ErrHandshakeFailure, err.Error())
	}

	reader := &frameReader{}
	serverHello, err := s.readOneFrame(hctx, reader)
	if err != nil {
		return err
	}
	if _, err := hs.readServerHello(serverHello, cfg.ServerStaticKey); err != nil {
		return err
	}

	finalMsg, send, recv, err := hs.finish(nil)
	if err != nil {
		return err
	}
	finalFrame, err := encodeFrame(finalMsg)
	if err != nil {
		return err
	}
	if err := s.conn.Write(hctx, websocket.MessageBinary, finalFrame); err != nil {
		return errors.Wrap(ErrHandshakeFailure, err.Error())
	}

	s.send = send
	s.recv = recv
	jww.INFO.Printf("noise handshake complete")
	return nil
}

// readOneFrame blocks until the reader has assembled exactly one
// complete length-prefixed frame, reading further WebSocket messages
// as needed.
func (s *Socket) readOneFrame(ctx context.Context, r *frameReader) ([]byte, error) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return nil, errors.Wrap(ErrConnectionClosed, err.Error())
		}
		frames, err := r.feed(data)
		if err != nil {
			return nil, malformedFrame(err)
		}
		if len(frames) > 0 {
			return frames[0], nil
		}
	}
}

func malformedFrame(err error) error {
	return errors.Wrap(err, "malformed frame")
}

// SetFrameHandler registers the callback invoked for each decrypted
// application frame. Must be called before traffic is expected.
func (s *Socket) SetFrameHandler(h FrameHandler) {
	s.onFrame = h
}

// SetCloseHandler registers the callback invoked once when the socket
// transitions out of StateOpen.
func (s *Socket) SetCloseHandler(h CloseHandler) {
	s.onClose = h
}

// State returns the socket's current lifecycle state.
func (s *Socket) State() State {
	return s.state.load()
}

// Send AEAD-encrypts and frames an application payload and writes it to
// the socket. Application writes are rejected unless the socket is
// StateOpen.
func (s *Socket) Send(ctx context.Context, payload []byte) error {
	if s.state.load() != StateOpen {
		return ErrNotOpen
	}
	ciphertext := s.send.encrypt(payload)
	frame, err := encodeFrame(ciphertext)
	if err != nil {
		return err
	}

	s.writeMu <- struct{}{}
	defer func() { <-s.writeMu }()
	if err := s.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return errors.Wrap(ErrConnectionClosed, err.Error())
	}
	return nil
}

func (s *Socket) readPump(self *stoppable.Single) {
	reader := &frameReader{}
	ctx := context.Background()
	for {
		select {
		case <-self.Quit():
			self.ToStopped()
			return
		default:
		}

		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.fail(CloseReasonTransportError, err)
			self.ToStopped()
			return
		}
		frames, err := reader.feed(data)
		if err != nil {
			s.fail(CloseReasonTransportError, malformedFrame(err))
			self.ToStopped()
			return
		}
		for _, f := range frames {
			plaintext, err := s.recv.decrypt(f)
			if err != nil {
				s.fail(CloseReasonDecryptFailure, err)
				self.ToStopped()
				return
			}
			if s.onFrame != nil {
				s.onFrame(plaintext)
			}
		}
	}
}

func (s *Socket) fail(reason CloseReason, err error) {
	if s.state.compareAndSwap(StateOpen, StateClosed) {
		jww.ERROR.Printf("transport closing: %s: %v", reason, err)
		if s.onClose != nil {
			s.onClose(reason, err)
		}
	}
}

// Close performs a graceful shutdown: it sends the closing control
// frame payload supplied by the caller (the caller owns stanza
// encoding), then closes the underlying WebSocket.
func (s *Socket) Close(ctx context.Context, closeStanza []byte) error {
	// Send while the socket is still StateOpen: Send rejects writes in
	// any other state, so the close stanza must go out before the CAS
	// below moves us to StateClosing.
	if closeStanza != nil && s.send != nil && s.state.load() == StateOpen {
		if err := s.Send(ctx, closeStanza); err != nil {
			jww.WARN.Printf("transport: close stanza send failed: %v", err)
		}
	}
	if !s.state.compareAndSwap(StateOpen, StateClosing) {
		if s.state.load() == StateClosed {
			return nil
		}
	}
	if s.pumps != nil {
		_ = s.pumps.Close(5 * time.Second)
	}
	s.state.store(StateClosed)
	if s.onClose != nil {
		s.onClose(CloseReasonGraceful, nil)
	}
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
