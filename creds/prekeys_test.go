package creds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetNextPreKeysExhaustionScenario(t *testing.T) {
	c := &AuthenticationCreds{NextPreKeyID: 10, FirstUnuploadedPreKeyID: 10}

	update, err := GetNextPreKeys(c, 5)
	require.NoError(t, err)

	require.Len(t, update.NewPreKeys, 5)
	for i, pk := range update.NewPreKeys {
		require.Equal(t, uint32(10+i), pk.ID())
	}
	require.EqualValues(t, 15, update.NextPreKeyID)
	require.EqualValues(t, 15, update.FirstUnuploadedPreKeyID)

	update.Apply(c)
	require.EqualValues(t, 15, c.NextPreKeyID)
	require.EqualValues(t, 15, c.FirstUnuploadedPreKeyID)
}

func TestGetNextPreKeysNeverReissuesConsumedIDs(t *testing.T) {
	c := &AuthenticationCreds{NextPreKeyID: 1, FirstUnuploadedPreKeyID: 1}

	first, err := GetNextPreKeys(c, 3)
	require.NoError(t, err)
	first.Apply(c)

	second, err := GetNextPreKeys(c, 2)
	require.NoError(t, err)

	seen := make(map[uint32]bool)
	for _, pk := range first.NewPreKeys {
		seen[pk.ID()] = true
	}
	for _, pk := range second.NewPreKeys {
		require.False(t, seen[pk.ID()], "prekey id %d reissued", pk.ID())
		require.GreaterOrEqual(t, pk.ID(), first.NextPreKeyID)
	}
}
