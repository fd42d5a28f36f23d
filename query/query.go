// Package query implements the IQ request/response correlation and
// stream-dispatch layer: id-keyed waiter registration over an
// id-tagged request/response wire protocol.
package query

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/xx-net/wacore/binarynode"
)

// ErrTimeout and ErrConnectionClosed are the two waiter-failure kinds.
var (
	ErrTimeout          = errors.New("query timed out")
	ErrConnectionClosed = errors.New("connection closed with pending queries outstanding")
)

// ServerError is raised by AssertNodeErrorFree when a stanza carries an
// <error code="…"/> child.
type ServerError struct {
	Code int
	Text string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Text)
}

// Sender abstracts the transport write path so this package stays
// independent of the socket implementation.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

type waiter struct {
	resultCh chan binarynode.Node
	errCh    chan error
	once     sync.Once
}

func (w *waiter) resolve(n binarynode.Node) {
	w.once.Do(func() { w.resultCh <- n })
}

func (w *waiter) fail(err error) {
	w.once.Do(func() { w.errCh <- err })
}

// Dispatcher correlates outbound queries with inbound responses by
// stanza id, and routes every other inbound node by (tag, xmlns, type)
// to registered handlers.
type Dispatcher struct {
	sender Sender

	idCounter atomic.Uint64
	idPrefix  string

	mu      sync.Mutex
	waiters map[string]*waiter

	handlersMu sync.RWMutex
	handlers   map[string]Handler
}

// Handler processes one dispatched inbound node. tag is always
// populated; xmlns and typ come from the node's attrs and may be empty.
type Handler func(n binarynode.Node)

// New builds a Dispatcher. idPrefix distinguishes stanza ids from this
// connection instance from ids issued by a prior one after a reconnect.
func New(sender Sender, idPrefix string) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		idPrefix: idPrefix,
		waiters:  make(map[string]*waiter),
		handlers: make(map[string]Handler),
	}
}

// NextID allocates a fresh stanza tag for callers that need one before
// building their node.
func (d *Dispatcher) NextID() string {
	return fmt.Sprintf("%s-%d", d.idPrefix, d.idCounter.Add(1))
}

// Handle registers handler for the dispatch key (tag, xmlns, typ); an
// empty xmlns or typ matches any value in that position that isn't
// claimed by a more specific registration.
func (d *Dispatcher) Handle(tag, xmlns, typ string, handler Handler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.handlers[dispatchKey(tag, xmlns, typ)] = handler
}

func dispatchKey(tag, xmlns, typ string) string {
	return tag + "|" + xmlns + "|" + typ
}

// Query sends node (allocating attrs["id"] if missing), registers a
// pending waiter, and blocks until a matching response arrives, ctx is
// done, or timeout elapses (zero means no timeout beyond ctx).
func (d *Dispatcher) Query(ctx context.Context, node binarynode.Node, timeout time.Duration) (binarynode.Node, error) {
	id := node.Attrs["id"]
	if id == "" {
		id = d.NextID()
		if node.Attrs == nil {
			node.Attrs = binarynode.Attrs{}
		}
		node.Attrs["id"] = id
	}

	w := &waiter{resultCh: make(chan binarynode.Node, 1), errCh: make(chan error, 1)}
	d.mu.Lock()
	d.waiters[id] = w
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.waiters, id)
		d.mu.Unlock()
	}()

	raw, err := binarynode.Encode(node, true)
	if err != nil {
		return binarynode.Node{}, errors.Wrap(err, "encode query node")
	}
	if err := d.sender.Send(ctx, raw); err != nil {
		return binarynode.Node{}, errors.Wrap(err, "send query node")
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case n := <-w.resultCh:
		return n, nil
	case err := <-w.errCh:
		return binarynode.Node{}, err
	case <-timeoutCh:
		return binarynode.Node{}, ErrTimeout
	case <-ctx.Done():
		return binarynode.Node{}, ctx.Err()
	}
}

// Dispatch is called once per decoded inbound node, in socket receipt
// order.
func (d *Dispatcher) Dispatch(n binarynode.Node) {
	if n.Tag == "iq" {
		if id := n.Attrs["id"]; id != "" {
			d.mu.Lock()
			w, ok := d.waiters[id]
			d.mu.Unlock()
			if ok {
				if n.Attrs["type"] == "error" {
					w.fail(errorFromNode(n))
				} else {
					w.resolve(n)
				}
				return
			}
		}
	}

	xmlns := n.Attrs["xmlns"]
	typ := n.Attrs["type"]
	d.handlersMu.RLock()
	handler, ok := d.handlers[dispatchKey(n.Tag, xmlns, typ)]
	if !ok {
		handler, ok = d.handlers[dispatchKey(n.Tag, xmlns, "")]
	}
	if !ok {
		handler, ok = d.handlers[dispatchKey(n.Tag, "", typ)]
	}
	if !ok {
		handler, ok = d.handlers[dispatchKey(n.Tag, "", "")]
	}
	d.handlersMu.RUnlock()

	if !ok {
		jww.INFO.Printf("query: unhandled stanza tag=%q xmlns=%q type=%q", n.Tag, xmlns, typ)
		return
	}
	handler(n)
}

// CloseAll fails every pending waiter with ErrConnectionClosed, called
// by the transport's close handler.
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	waiters := d.waiters
	d.waiters = make(map[string]*waiter)
	d.mu.Unlock()
	for _, w := range waiters {
		w.fail(ErrConnectionClosed)
	}
}

// AssertNodeErrorFree reads an <error code="…"/> child and raises
// ServerError when present.
func AssertNodeErrorFree(n binarynode.Node) error {
	errNode, ok := n.GetChildByTag("error")
	if !ok {
		return nil
	}
	code, _ := errNode.Attrs.GetUint64("code")
	text := errNode.Attrs.GetString("text")
	return &ServerError{Code: int(code), Text: text}
}

func errorFromNode(n binarynode.Node) error {
	if err := AssertNodeErrorFree(n); err != nil {
		return err
	}
	return &ServerError{Code: 0, Text: "iq type=error with no <error> child"}
}
