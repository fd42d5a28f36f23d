package creds

import (
	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/serialize"
	"go.mau.fi/libsignal/state/record"
)

var preKeySerializer = serialize.NewProtoBufSerializer().PreKeyRecord

// PreKeyUpdate is the (ids-issued, new creds counters) result of
// GetNextPreKeys.
type PreKeyUpdate struct {
	NewPreKeys              []*record.PreKey
	NextPreKeyID            uint32
	FirstUnuploadedPreKeyID uint32
}

// GetNextPreKeys generates count fresh one-time prekeys starting at
// creds.NextPreKeyID, and sets both NextPreKeyID and
// FirstUnuploadedPreKeyID to NextPreKeyID+count. A pre-key id, once generated, is
// never reused: callers must apply the returned update to creds before
// the next call.
func GetNextPreKeys(c *AuthenticationCreds, count uint32) (*PreKeyUpdate, error) {
	startID := c.NextPreKeyID
	newPreKeys := make([]*record.PreKey, 0, count)

	for i := uint32(0); i < count; i++ {
		id := startID + i
		keyPair, err := ecc.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		newPreKeys = append(newPreKeys, record.NewPreKey(id, keyPair, preKeySerializer))
	}

	return &PreKeyUpdate{
		NewPreKeys:              newPreKeys,
		NextPreKeyID:            startID + count,
		FirstUnuploadedPreKeyID: startID + count,
	}, nil
}

// Apply commits a PreKeyUpdate's counters to creds. Callers persist the
// update (creds mutation + the batch of new-prekey store writes) inside
// a single outer transaction.
func (u *PreKeyUpdate) Apply(c *AuthenticationCreds) {
	c.NextPreKeyID = u.NextPreKeyID
	c.FirstUnuploadedPreKeyID = u.FirstUnuploadedPreKeyID
}
