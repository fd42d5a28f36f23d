// Package wacore ties the CORE components together the way the
// teacher's xxdk.Cmix ties network/storage/registration together:
// one struct holding every long-lived subsystem, with New/Connect/Close
// lifecycle methods and accessors for the pieces callers need
// directly.
package wacore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/keys/identity"

	"github.com/xx-net/wacore/binarynode"
	"github.com/xx-net/wacore/creds"
	"github.com/xx-net/wacore/eventbus"
	"github.com/xx-net/wacore/jid"
	"github.com/xx-net/wacore/jobqueue"
	"github.com/xx-net/wacore/keystore"
	"github.com/xx-net/wacore/keystore/memkv"
	"github.com/xx-net/wacore/query"
	"github.com/xx-net/wacore/relay"
	"github.com/xx-net/wacore/signal"
	"github.com/xx-net/wacore/transport"
	"github.com/xx-net/wacore/usync"
)

// Client bundles the transport socket, key store, Signal repository,
// query dispatcher, relay engine, event bus and job queue into one
// connection-scoped object.
type Client struct {
	socket     *transport.Socket
	dispatcher *query.Dispatcher
	store      *keystore.TransactionalStore
	signalRepo *signal.Repository
	usyncCache *usync.Cache
	relayEngine *relay.Engine
	events     *eventbus.Bus
	jobs       *jobqueue.Queue

	creds *creds.AuthenticationCreds

	eventsStop interface {
		Close(timeout time.Duration) error
	}
}

// Config is the subset of the external configuration surface this
// wiring consumes. Client takes no msgRetryCounterCache,
// cachedGroupMetadata or patchMessageBeforeSending option: relay.Engine
// has GroupMetadata, StatusAudience and PatchHook fields, but the engine
// Connect builds is not exposed, so it runs with its defaults.
type Config struct {
	URL             string
	Origin          string
	ServerStaticKey []byte // the service's known Noise static public key
	RoutingInfo     []byte
	ExternalStore   keystore.ExternalStore
	Creds           *creds.AuthenticationCreds
	HandshakeTimeout time.Duration
	EventFlushEvery  time.Duration
}

// New wires the key store, Signal repository, event bus and job queue
// over an already-generated AuthenticationCreds without dialing. Call
// Connect to establish the transport and build the components that
// depend on it (query dispatcher, USync cache, relay engine).
func New(cfg Config) (*Client, error) {
	if cfg.Creds == nil {
		return nil, errors.New("wacore: Config.Creds is required")
	}
	external := cfg.ExternalStore
	if external == nil {
		external = memkv.New()
	}

	cache := keystore.NewCache(external)
	store := keystore.NewTransactionalStore(cache)

	identityKeyPair, err := toIdentityKeyPair(cfg.Creds)
	if err != nil {
		return nil, errors.Wrap(err, "derive identity keypair")
	}
	signalRepo := signal.New(identityKeyPair, cfg.Creds.RegistrationID)

	flushEvery := cfg.EventFlushEvery
	if flushEvery <= 0 {
		flushEvery = time.Second
	}

	c := &Client{
		store:      store,
		signalRepo: signalRepo,
		events:     eventbus.New(flushEvery),
		jobs:       jobqueue.New(),
		creds:      cfg.Creds,
	}
	return c, nil
}

func toIdentityKeyPair(c *creds.AuthenticationCreds) (*identity.KeyPair, error) {
	if c.SignedIdentityKey != nil {
		return c.SignedIdentityKey, nil
	}
	return nil, errors.New("wacore: creds carry no signed identity keypair")
}

// Connect dials the transport, wires inbound dispatch, and starts the
// event bus and read pump.
func (c *Client) Connect(ctx context.Context, cfg Config) error {
	socketCfg := transport.Config{
		URL:              cfg.URL,
		Origin:           cfg.Origin,
		RoutingInfo:      cfg.RoutingInfo,
		StaticKeypair:    c.creds.NoiseKey,
		ServerStaticKey:  cfg.ServerStaticKey,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	socket, err := transport.Dial(ctx, socketCfg)
	if err != nil {
		return errors.Wrap(err, "dial transport")
	}
	c.socket = socket

	sender := socketSender{socket: socket}
	c.dispatcher = query.New(sender, "wa")
	c.usyncCache = usync.New(c.dispatcher, c.creds.OwnJID)
	c.relayEngine = relay.New(c.signalRepo, c.dispatcher, sender, c.usyncCache, c.creds.OwnJID, c.creds.OwnLID)

	socket.SetFrameHandler(func(raw []byte) {
		n, err := binarynode.Decode(raw)
		if err != nil {
			jww.ERROR.Printf("wacore: malformed inbound frame: %v", err)
			return
		}
		c.dispatcher.Dispatch(n)
	})
	socket.SetCloseHandler(func(reason transport.CloseReason, err error) {
		c.dispatcher.CloseAll()
		c.events.Emit(eventbus.ConnectionUpdate, connectionUpdate{Reason: reason, Err: err})
	})

	c.eventsStop = c.events.Start()
	return nil
}

// connectionUpdate is the payload shape emitted on ConnectionUpdate.
type connectionUpdate struct {
	Reason transport.CloseReason
	Err    error
}

type socketSender struct {
	socket *transport.Socket
}

func (s socketSender) Send(ctx context.Context, payload []byte) error {
	return s.socket.Send(ctx, payload)
}

// Transaction runs work against the key store inside one outer
// transaction; every Signal repository entry point must run inside
// its caller's transaction.
func (c *Client) Transaction(work func(tx *keystore.Tx) error) error {
	return c.store.Transaction(work)
}

// RelayMessage sends data to dest through the relay engine inside a
// fresh outer transaction.
func (c *Client) RelayMessage(ctx context.Context, dest jid.JID, msg relay.Message, opts relay.Options) (string, error) {
	var msgID string
	err := c.Transaction(func(tx *keystore.Tx) error {
		id, err := c.relayEngine.RelayMessage(ctx, tx, dest, msg, opts)
		if err != nil {
			return err
		}
		msgID = id
		return nil
	})
	return msgID, err
}

// EnqueuePeerWork serializes work against a single peer's Signal
// session state through the per-bucket job queue.
func (c *Client) EnqueuePeerWork(peer jid.JID, work jobqueue.Work) (interface{}, error) {
	return c.jobs.Enqueue(peer.ADString(), work)
}

// Events exposes the event bus for Process/Unprocess registration.
func (c *Client) Events() *eventbus.Bus { return c.events }

// Close tears down the transport and the event bus.
func (c *Client) Close(ctx context.Context) error {
	var firstErr error
	if c.socket != nil {
		if err := c.socket.Close(ctx, nil); err != nil {
			firstErr = err
		}
	}
	if c.eventsStop != nil {
		if err := c.eventsStop.Close(5 * time.Second); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GenerateIdentityKeyPair is exposed for callers bootstrapping fresh
// credentials outside of creds.New (e.g. key rotation tooling).
func GenerateIdentityKeyPair() (*identity.KeyPair, error) {
	kp, err := ecc.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return identity.NewKeyPair(identity.NewKey(kp.PublicKey()), kp.PrivateKey()), nil
}
