package memkv

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xx-net/wacore/keystore"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New()
	k := keystore.Key{Type: "session", ID: "1:1@s.whatsapp.net"}
	require.NoError(t, s.Set(map[keystore.Key][]byte{k: []byte("payload")}))
	got, err := s.Get([]keystore.Key{k})
	require.NoError(t, err)
	require.Equal(t, "payload", string(got[k]))
}

func TestGetMissingOmitted(t *testing.T) {
	s := New()
	got, err := s.Get([]keystore.Key{{Type: "session", ID: "missing"}})
	require.NoError(t, err)
	require.Len(t, got, 0)
}

func TestClear(t *testing.T) {
	s := New()
	k := keystore.Key{Type: "prekey", ID: "1"}
	require.NoError(t, s.Set(map[keystore.Key][]byte{k: []byte("x")}))
	require.NoError(t, s.Clear())
	got, err := s.Get([]keystore.Key{k})
	require.NoError(t, err)
	require.Len(t, got, 0)
}
