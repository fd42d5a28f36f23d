package keystore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xx-net/wacore/keystore/memkv"
)

func TestCacheGetPopulatesFromBacking(t *testing.T) {
	backing := memkv.New()
	k := Key{Type: "identity", ID: "device1"}
	backing.Set(map[Key][]byte{k: []byte("identity-key")})

	c := NewCache(backing)
	got, err := c.Get([]Key{k})
	require.NoError(t, err)
	require.Equal(t, "identity-key", string(got[k]))
}

func TestCacheGetHitsCacheWithoutBacking(t *testing.T) {
	backing := memkv.New()
	k := Key{Type: "identity", ID: "device1"}
	backing.Set(map[Key][]byte{k: []byte("v1")})

	c := NewCache(backing)
	c.Get([]Key{k})

	// Mutate backing directly; cached value must still be served.
	backing.Set(map[Key][]byte{k: []byte("v2")})
	got, err := c.Get([]Key{k})
	require.NoError(t, err)
	require.Equal(t, "v1", string(got[k]))
}

func TestCacheSetIsWriteThrough(t *testing.T) {
	backing := memkv.New()
	c := NewCache(backing)
	k := Key{Type: "prekey", ID: "7"}

	require.NoError(t, c.Set(map[Key][]byte{k: []byte("blob")}))

	got, err := backing.Get([]Key{k})
	require.NoError(t, err)
	require.Equal(t, "blob", string(got[k]))
}

func TestCacheExpiresEntries(t *testing.T) {
	backing := memkv.New()
	k := Key{Type: "session", ID: "1"}
	backing.Set(map[Key][]byte{k: []byte("v1")})

	c := NewCache(backing)
	c.ttl = time.Millisecond
	c.Get([]Key{k})

	time.Sleep(5 * time.Millisecond)
	backing.Set(map[Key][]byte{k: []byte("v2")})

	got, err := c.Get([]Key{k})
	require.NoError(t, err)
	require.Equal(t, "v2", string(got[k]))
}

func TestCacheClearFlushesBoth(t *testing.T) {
	backing := memkv.New()
	k := Key{Type: "session", ID: "1"}
	c := NewCache(backing)
	c.Set(map[Key][]byte{k: []byte("v")})

	require.NoError(t, c.Clear())

	got, err := c.Get([]Key{k})
	require.NoError(t, err)
	require.Len(t, got, 0)
}
