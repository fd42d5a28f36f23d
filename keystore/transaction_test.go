package keystore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// flakyStore fails its first N Set calls, then delegates to an
// in-memory map for everything else.
type flakyStore struct {
	failures int
	setCalls int
	values   map[Key][]byte
}

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{failures: failures, values: make(map[Key][]byte)}
}

func (f *flakyStore) Get(keys []Key) (map[Key][]byte, error) {
	out := make(map[Key][]byte, len(keys))
	for _, k := range keys {
		if v, ok := f.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *flakyStore) Set(values map[Key][]byte) error {
	f.setCalls++
	if f.setCalls <= f.failures {
		return errors.New("transient failure")
	}
	for k, v := range values {
		f.values[k] = v
	}
	return nil
}

func TestTransactionCommitsMutationsOnSuccess(t *testing.T) {
	backing := newFlakyStore(0)
	ts := NewTransactionalStore(backing)
	k := Key{Type: "session", ID: "1"}

	err := ts.Transaction(func(tx *Tx) error {
		return tx.Set(map[Key][]byte{k: []byte("v")})
	})
	require.NoError(t, err)
	require.Equal(t, 1, backing.setCalls)
	require.Equal(t, "v", string(backing.values[k]))
}

func TestTransactionThatErrorsNeverCommits(t *testing.T) {
	backing := newFlakyStore(0)
	ts := NewTransactionalStore(backing)
	k := Key{Type: "session", ID: "1"}

	err := ts.Transaction(func(tx *Tx) error {
		tx.Set(map[Key][]byte{k: []byte("v")})
		return errors.New("work failed")
	})
	require.Error(t, err)
	require.Equal(t, 0, backing.setCalls)
}

func TestTransactionRetriesCommitExactlyThreeTimes(t *testing.T) {
	backing := newFlakyStore(2) // first two Set calls fail, third succeeds
	ts := NewTransactionalStore(backing)
	ts.MaxCommitRetries = 3
	ts.DelayBetweenTriesMS = 0
	k := Key{Type: "session", ID: "1"}

	err := ts.Transaction(func(tx *Tx) error {
		return tx.Set(map[Key][]byte{k: []byte("v")})
	})
	require.NoError(t, err)
	require.Equal(t, 3, backing.setCalls)
}

func TestTransactionGivesUpAfterMaxRetries(t *testing.T) {
	backing := newFlakyStore(5)
	ts := NewTransactionalStore(backing)
	ts.MaxCommitRetries = 3
	ts.DelayBetweenTriesMS = 0
	k := Key{Type: "session", ID: "1"}

	err := ts.Transaction(func(tx *Tx) error {
		return tx.Set(map[Key][]byte{k: []byte("v")})
	})
	require.Error(t, err)
	require.Equal(t, 3, backing.setCalls)
}

func TestNestedTransactionsCommitOnceAtOutermost(t *testing.T) {
	backing := newFlakyStore(0)
	ts := NewTransactionalStore(backing)
	k1 := Key{Type: "session", ID: "1"}
	k2 := Key{Type: "session", ID: "2"}

	err := ts.Transaction(func(tx *Tx) error {
		tx.Set(map[Key][]byte{k1: []byte("v1")})
		return ts.Transaction(func(inner *Tx) error {
			return inner.Set(map[Key][]byte{k2: []byte("v2")})
		})
	})
	require.NoError(t, err)
	require.Equal(t, 1, backing.setCalls)
	require.Equal(t, "v1", string(backing.values[k1]))
	require.Equal(t, "v2", string(backing.values[k2]))
}

func TestTransactionGetSeesPriorSetWithinSameTransaction(t *testing.T) {
	backing := newFlakyStore(0)
	ts := NewTransactionalStore(backing)
	k := Key{Type: "session", ID: "1"}

	err := ts.Transaction(func(tx *Tx) error {
		tx.Set(map[Key][]byte{k: []byte("v")})
		got, err := tx.Get([]Key{k})
		require.NoError(t, err)
		require.Equal(t, "v", string(got[k]))
		return nil
	})
	require.NoError(t, err)
}

func TestTransactionGetFallsBackToBacking(t *testing.T) {
	backing := newFlakyStore(0)
	k := Key{Type: "identity", ID: "1"}
	backing.values[k] = []byte("preexisting")
	ts := NewTransactionalStore(backing)

	err := ts.Transaction(func(tx *Tx) error {
		got, err := tx.Get([]Key{k})
		require.NoError(t, err)
		require.Equal(t, "preexisting", string(got[k]))
		return nil
	})
	require.NoError(t, err)
}
