package keystore

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Default retry policy for the outermost transaction's commit.
const (
	DefaultMaxCommitRetries    = 3
	DefaultDelayBetweenTriesMS = 200
)

// TransactionalStore wraps a cache-aware Store (normally a *Cache) with
// re-entrant transactions. It assumes a single-logical-executor
// concurrency model: callers serialize their own access (typically via
// the per-bucket job queue), so the mutex here only protects the
// shared maps from races, not from cross-transaction interleaving.
type TransactionalStore struct {
	backing Store

	MaxCommitRetries    int
	DelayBetweenTriesMS int

	mu               sync.Mutex
	depth            int
	transactionCache map[string]map[string][]byte
	mutations        map[string]map[string][]byte
}

// NewTransactionalStore wraps backing with the default commit-retry
// policy.
func NewTransactionalStore(backing Store) *TransactionalStore {
	return &TransactionalStore{
		backing:             backing,
		MaxCommitRetries:    DefaultMaxCommitRetries,
		DelayBetweenTriesMS: DefaultDelayBetweenTriesMS,
	}
}

// Tx is the view of the store visible inside a transaction's work
// function.
type Tx struct {
	ts *TransactionalStore
}

// Transaction increments the re-entrant transaction counter, runs work,
// and on the outermost exit commits any accumulated mutations with
// retry. If work returns an error, the transaction never calls the
// underlying Set.
func (ts *TransactionalStore) Transaction(work func(tx *Tx) error) error {
	ts.mu.Lock()
	if ts.depth == 0 {
		ts.transactionCache = make(map[string]map[string][]byte)
		ts.mutations = make(map[string]map[string][]byte)
	}
	ts.depth++
	ts.mu.Unlock()

	workErr := work(&Tx{ts: ts})

	ts.mu.Lock()
	ts.depth--
	outermost := ts.depth == 0
	ts.mu.Unlock()

	if !outermost {
		return workErr
	}

	if workErr != nil {
		ts.discard()
		return workErr
	}

	ts.mu.Lock()
	mutations := flatten(ts.mutations)
	ts.mu.Unlock()

	if len(mutations) == 0 {
		ts.discard()
		return nil
	}

	err := ts.commitWithRetry(mutations)
	ts.discard()
	if err != nil {
		return errors.Wrap(ErrCommitFailure, err.Error())
	}
	return nil
}

func (ts *TransactionalStore) commitWithRetry(mutations map[Key][]byte) error {
	var lastErr error
	tries := ts.MaxCommitRetries
	if tries <= 0 {
		tries = 1
	}
	for attempt := 1; attempt <= tries; attempt++ {
		lastErr = ts.backing.Set(mutations)
		if lastErr == nil {
			return nil
		}
		jww.WARN.Printf("transaction commit attempt %d/%d failed: %v", attempt, tries, lastErr)
		if attempt < tries {
			time.Sleep(time.Duration(ts.DelayBetweenTriesMS) * time.Millisecond)
		}
	}
	return lastErr
}

func (ts *TransactionalStore) discard() {
	ts.mu.Lock()
	ts.transactionCache = nil
	ts.mutations = nil
	ts.mu.Unlock()
}

// Get first checks the in-memory transaction cache; ids missing there
// are fetched from the underlying store and merged in, visible to
// subsequent reads within the same transaction.
func (tx *Tx) Get(keys []Key) (map[Key][]byte, error) {
	ts := tx.ts
	result := make(map[Key][]byte, len(keys))

	ts.mu.Lock()
	var missing []Key
	for _, k := range keys {
		if byID, ok := ts.transactionCache[k.Type]; ok {
			if v, ok2 := byID[k.ID]; ok2 {
				result[k] = v
				continue
			}
		}
		missing = append(missing, k)
	}
	ts.mu.Unlock()

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := ts.backing.Get(missing)
	if err != nil {
		return nil, err
	}

	ts.mu.Lock()
	for k, v := range fetched {
		if ts.transactionCache[k.Type] == nil {
			ts.transactionCache[k.Type] = make(map[string][]byte)
		}
		ts.transactionCache[k.Type][k.ID] = v
		result[k] = v
	}
	ts.mu.Unlock()

	return result, nil
}

// Set writes only to the in-transaction cache and the pending
// mutations set; the underlying store is untouched until commit.
func (tx *Tx) Set(values map[Key][]byte) error {
	ts := tx.ts
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for k, v := range values {
		if ts.transactionCache[k.Type] == nil {
			ts.transactionCache[k.Type] = make(map[string][]byte)
		}
		ts.transactionCache[k.Type][k.ID] = v
		if ts.mutations[k.Type] == nil {
			ts.mutations[k.Type] = make(map[string][]byte)
		}
		ts.mutations[k.Type][k.ID] = v
	}
	return nil
}
