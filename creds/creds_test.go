package creds

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPopulatesInitialPreKeyState(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	require.EqualValues(t, 1, c.NextPreKeyID)
	require.EqualValues(t, 1, c.FirstUnuploadedPreKeyID)
	require.EqualValues(t, 1, c.SignedPreKey.ID)
	require.NotNil(t, c.SignedIdentityKey)
	require.Len(t, c.AdvSecret, 32)
	require.LessOrEqual(t, c.RegistrationID, uint32(0x3FFF))
	require.NotNil(t, c.AccountSettings)
}

func TestNewGeneratesDistinctCredsEachCall(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	require.NotNil(t, a.NoiseKey.Private)
	require.NotNil(t, b.NoiseKey.Private)
	require.NotEqual(t,
		a.SignedIdentityKey.PrivateKey().Serialize(),
		b.SignedIdentityKey.PrivateKey().Serialize(),
	)
}

func TestAdvSecretBase64RoundTripsLength(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	require.NotEmpty(t, c.AdvSecretBase64())
	decoded, err := base64.StdEncoding.DecodeString(c.AdvSecretBase64())
	require.NoError(t, err)
	require.Len(t, decoded, 32)
}
