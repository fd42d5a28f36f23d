// Package eventbus implements typed pub/sub with per-tick batching:
// a channel+sync.Map+stoppable.Single reporting loop with one named
// channel per event type.
package eventbus

import (
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/xx-net/wacore/stoppable"
)

// Channel names for the typed pub/sub bus.
const (
	ConnectionUpdate       = "connection.update"
	CredsUpdate            = "creds.update"
	MessagingHistorySet    = "messaging-history.set"
	MessagesUpsert         = "messages.upsert"
	MessagesUpdate         = "messages.update"
	MessageReceiptUpdate   = "message-receipt.update"
	GroupsUpsert           = "groups.upsert"
	GroupsUpdate           = "groups.update"
	ContactsUpdate         = "contacts.update"
	ChatsDelete            = "chats.delete"
	Call                   = "call"
	PresenceUpdate         = "presence.update"
)

// Handler receives, per flush tick, the accumulated payloads for every
// channel that had at least one Emit since the previous flush.
type Handler func(batch map[string][]interface{})

type bus struct {
	mu      sync.Mutex
	pending map[string][]interface{}

	flushInterval time.Duration
	handlers      sync.Map // name -> Handler
}

// Bus is a buffered, named-channel pub/sub with per-tick batching.
// Emit preserves per-channel order; there is no ordering guarantee
// across channels.
type Bus struct {
	b *bus
}

// New builds a Bus that flushes accumulated payloads to every
// registered handler every flushInterval.
func New(flushInterval time.Duration) *Bus {
	return &Bus{b: &bus{
		pending:       make(map[string][]interface{}),
		flushInterval: flushInterval,
	}}
}

// Emit appends payload to channel's pending batch.
func (bs *Bus) Emit(channel string, payload interface{}) {
	bs.b.mu.Lock()
	bs.b.pending[channel] = append(bs.b.pending[channel], payload)
	bs.b.mu.Unlock()
}

// Process registers handler under name, replacing any handler
// previously registered under the same name.
func (bs *Bus) Process(name string, handler Handler) {
	bs.b.handlers.Store(name, handler)
}

// Unprocess removes the handler registered under name.
func (bs *Bus) Unprocess(name string) {
	bs.b.handlers.Delete(name)
}

// Start launches the flush loop as a stoppable.Single, cooperative
// with the rest of the connection's lifecycle.
func (bs *Bus) Start() *stoppable.Single {
	stop := stoppable.NewSingle("EventBus")
	go bs.flushLoop(stop)
	return stop
}

func (bs *Bus) flushLoop(stop *stoppable.Single) {
	ticker := time.NewTicker(bs.b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop.Quit():
			stop.ToStopped()
			return
		case <-ticker.C:
			bs.flush()
		}
	}
}

func (bs *Bus) flush() {
	bs.b.mu.Lock()
	batch := bs.b.pending
	bs.b.pending = make(map[string][]interface{})
	bs.b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	bs.b.handlers.Range(func(name, h interface{}) bool {
		handler := h.(Handler)
		func() {
			defer func() {
				if r := recover(); r != nil {
					jww.ERROR.Printf("eventbus: handler %v panicked: %v", name, r)
				}
			}()
			handler(batch)
		}()
		return true
	})
}
