// Package creds implements the AuthenticationCreds persistent data
// model: the noise/identity/signed-prekey material generated once at
// install and mutated on every handshake and prekey-batch upload.
package creds

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/flynn/noise"
	"github.com/pkg/errors"

	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/keys/identity"

	"github.com/xx-net/wacore/jid"
)

// SignedPreKey is the one currently advertised signed prekey: id,
// keypair, and the identity-key signature over its public half.
type SignedPreKey struct {
	ID        uint32
	KeyPair   *ecc.ECKeyPair
	Signature []byte
}

// AuthenticationCreds is the full persistent data model of this
// module's identity and registration state. It is serialized to the
// external blob store on every mutation by the caller that owns the
// transaction (this package only mutates the in-memory struct).
type AuthenticationCreds struct {
	NoiseKey   noise.DHKey
	PairingEphemeralKey noise.DHKey

	SignedIdentityKey *identity.KeyPair
	SignedPreKey      SignedPreKey

	RegistrationID uint32
	AdvSecret      []byte // 32 random bytes

	ProcessedHistory []string

	NextPreKeyID            uint32
	FirstUnuploadedPreKeyID uint32
	AccountSyncCounter      int
	AccountSettings         map[string]string

	Registered bool

	AccountSignatureKey []byte // optional account-signed device identity

	OwnJID jid.JID
	OwnLID jid.JID
}

// New generates a fresh set of credentials for a first-time install:
// noise static keypair, signed identity keypair, signed pre-key id=1,
// a random 14-bit registration id (16 random bits masked to 0x3FFF),
// and a 32-byte adv secret.
func New() (*AuthenticationCreds, error) {
	noiseKey, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate noise keypair")
	}

	identityKeyPair, err := generateIdentityKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "generate identity keypair")
	}

	signedPreKey, err := generateSignedPreKey(identityKeyPair, 1)
	if err != nil {
		return nil, errors.Wrap(err, "generate signed pre-key")
	}

	registrationID, err := randomRegistrationID()
	if err != nil {
		return nil, errors.Wrap(err, "generate registration id")
	}

	advSecret := make([]byte, 32)
	if _, err := rand.Read(advSecret); err != nil {
		return nil, errors.Wrap(err, "generate adv secret")
	}

	return &AuthenticationCreds{
		NoiseKey:                noiseKey,
		SignedIdentityKey:       identityKeyPair,
		SignedPreKey:            signedPreKey,
		RegistrationID:          registrationID,
		AdvSecret:               advSecret,
		NextPreKeyID:            1,
		FirstUnuploadedPreKeyID: 1,
		AccountSettings:         make(map[string]string),
	}, nil
}

func generateIdentityKeyPair() (*identity.KeyPair, error) {
	keyPair, err := ecc.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	publicKey := identity.NewKey(keyPair.PublicKey())
	return identity.NewKeyPair(publicKey, keyPair.PrivateKey()), nil
}

func generateSignedPreKey(identityKeyPair *identity.KeyPair, id uint32) (SignedPreKey, error) {
	keyPair, err := ecc.GenerateKeyPair()
	if err != nil {
		return SignedPreKey{}, err
	}
	signature, err := ecc.CalculateSignature(rand.Reader, identityKeyPair.PrivateKey(), keyPair.PublicKey().Serialize())
	if err != nil {
		return SignedPreKey{}, err
	}
	return SignedPreKey{ID: id, KeyPair: keyPair, Signature: signature[:]}, nil
}

func randomRegistrationID() (uint32, error) {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return 0, err
	}
	return (uint32(b[0])<<8 | uint32(b[1])) & 0x3FFF, nil
}

// AdvSecretBase64 returns the adv secret in the base64 form creds are
// advertised with.
func (c *AuthenticationCreds) AdvSecretBase64() string {
	return base64.StdEncoding.EncodeToString(c.AdvSecret)
}
