// Package keystore implements the read-through cache and transactional
// write-behind layers over the external, opaque blob store: a
// prefix-keyed wrapper with key-lifecycle caching.
package keystore

import "github.com/pkg/errors"

// Key addresses one entry in the external store by (type, id): pre-key
// id→KeyPair, session addr→session, sender-key groupId+senderAddr→
// session, and so on.
type Key struct {
	Type string
	ID   string
}

// ExternalStore is the external collaborator boundary: a persistent
// credential/key blob store the core treats as opaque. Implementations
// batch Get across ids of possibly differing types, and batch Set
// across (type,id)→value writes.
type ExternalStore interface {
	Get(keys []Key) (map[Key][]byte, error)
	Set(values map[Key][]byte) error
	Clear() error
}

// Store is the capability both the cache layer and the transaction
// layer present, so the transaction layer can be built as a decorator
// chained directly over the cache layer.
type Store interface {
	Get(keys []Key) (map[Key][]byte, error)
	Set(values map[Key][]byte) error
}

// Error taxonomy entries specific to this layer.
var (
	ErrStoreFailure  = errors.New("key store failure")
	ErrCommitFailure = errors.New("transaction commit failure")
)

func flatten(byType map[string]map[string][]byte) map[Key][]byte {
	out := make(map[Key][]byte)
	for typ, byID := range byType {
		for id, v := range byID {
			out[Key{Type: typ, ID: id}] = v
		}
	}
	return out
}

func groupByType(values map[Key][]byte) map[string]map[string][]byte {
	out := make(map[string]map[string][]byte)
	for k, v := range values {
		if out[k.Type] == nil {
			out[k.Type] = make(map[string][]byte)
		}
		out[k.Type][k.ID] = v
	}
	return out
}
