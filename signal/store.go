package signal

import (
	jww "github.com/spf13/jwalterweatherman"

	groupRecord "go.mau.fi/libsignal/groups/state/record"
	"go.mau.fi/libsignal/groups/state/store"
	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/serialize"
	"go.mau.fi/libsignal/state/record"

	"github.com/xx-net/wacore/keystore"
)

// serializer is shared across every record type this package touches;
// go.mau.fi/libsignal records are constructed and reserialized through
// it on every store round trip.
var serializer = serialize.NewProtoBufSerializer()

const (
	keyTypeSession         = "session"
	keyTypePreKey          = "pre-key"
	keyTypeSignedPreKey    = "signed-pre-key"
	keyTypeSenderKey       = "sender-key"
	keyTypeIdentity        = "identity"
)

// txStores bundles the libsignal store interfaces over a single
// in-flight transaction. Every repository entry point runs inside the
// caller's outer transaction, so these adapters never commit; they
// only stage reads/writes against the Tx.
type txStores struct {
	tx             *keystore.Tx
	identityKey    *identity.KeyPair
	registrationID uint32
}

func newTxStores(tx *keystore.Tx, identityKey *identity.KeyPair, registrationID uint32) *txStores {
	return &txStores{tx: tx, identityKey: identityKey, registrationID: registrationID}
}

func (s *txStores) get(typ, id string) ([]byte, bool) {
	got, err := s.tx.Get([]keystore.Key{{Type: typ, ID: id}})
	if err != nil {
		jww.ERROR.Printf("signal store get(%s,%s): %v", typ, id, err)
		return nil, false
	}
	v, ok := got[keystore.Key{Type: typ, ID: id}]
	if len(v) == 0 {
		// put(typ, id, nil) is how this store deletes an entry.
		return nil, false
	}
	return v, ok
}

func (s *txStores) put(typ, id string, value []byte) {
	if err := s.tx.Set(map[keystore.Key][]byte{{Type: typ, ID: id}: value}); err != nil {
		jww.ERROR.Printf("signal store set(%s,%s): %v", typ, id, err)
	}
}

// --- state/store.IdentityKeyStore ---

func (s *txStores) GetIdentityKeyPair() *identity.KeyPair { return s.identityKey }

func (s *txStores) GetLocalRegistrationId() uint32 { return s.registrationID }

func (s *txStores) SaveIdentity(address *protocol.SignalAddress, identityKey *identity.Key) {
	s.put(keyTypeIdentity, address.String(), identityKey.Bytes())
}

func (s *txStores) IsTrustedIdentity(address *protocol.SignalAddress, identityKey *identity.Key) bool {
	existing, ok := s.get(keyTypeIdentity, address.String())
	if !ok {
		return true // trust on first use
	}
	return string(existing) == string(identityKey.Bytes())
}

// --- state/store.SessionStore ---

func (s *txStores) LoadSession(address *protocol.SignalAddress) *record.Session {
	raw, ok := s.get(keyTypeSession, address.String())
	if !ok {
		rec, _ := record.NewSession(serializer.Session, serializer.State)
		return rec
	}
	rec, err := record.NewSessionFromBytes(raw, serializer.Session, serializer.State)
	if err != nil {
		jww.ERROR.Printf("signal LoadSession(%s): %v", address, err)
		rec, _ = record.NewSession(serializer.Session, serializer.State)
	}
	return rec
}

func (s *txStores) GetSubDeviceSessions(name string) []uint32 {
	// Device enumeration for a bare user is handled by the usync cache,
	// not by scanning the key store; no pairwise session record keys by
	// anything but the full (user, device) address.
	return nil
}

func (s *txStores) ContainsSession(remoteAddress *protocol.SignalAddress) bool {
	_, ok := s.get(keyTypeSession, remoteAddress.String())
	return ok
}

func (s *txStores) StoreSession(remoteAddress *protocol.SignalAddress, record *record.Session) {
	s.put(keyTypeSession, remoteAddress.String(), record.Serialize())
}

func (s *txStores) DeleteSession(remoteAddress *protocol.SignalAddress) {
	s.put(keyTypeSession, remoteAddress.String(), nil)
}

func (s *txStores) DeleteAllSessions() {
	// Never invoked by the repository; bulk session wipes are an
	// external-store operation (Clear), not a per-transaction one.
}

// --- state/store.PreKeyStore ---

func (s *txStores) LoadPreKey(preKeyID uint32) *record.PreKey {
	raw, ok := s.get(keyTypePreKey, deviceIDString(uint16(preKeyID)))
	if !ok {
		return nil
	}
	rec, err := record.NewPreKeyFromBytes(raw, serializer.PreKeyRecord)
	if err != nil {
		jww.ERROR.Printf("signal LoadPreKey(%d): %v", preKeyID, err)
		return nil
	}
	return rec
}

func (s *txStores) StorePreKey(preKeyID uint32, preKeyRecord *record.PreKey) {
	s.put(keyTypePreKey, deviceIDString(uint16(preKeyID)), preKeyRecord.Serialize())
}

func (s *txStores) ContainsPreKey(preKeyID uint32) bool {
	_, ok := s.get(keyTypePreKey, deviceIDString(uint16(preKeyID)))
	return ok
}

func (s *txStores) RemovePreKey(preKeyID uint32) {
	s.put(keyTypePreKey, deviceIDString(uint16(preKeyID)), nil)
}

// --- state/store.SignedPreKeyStore ---

func (s *txStores) LoadSignedPreKey(signedPreKeyID uint32) *record.SignedPreKey {
	raw, ok := s.get(keyTypeSignedPreKey, deviceIDString(uint16(signedPreKeyID)))
	if !ok {
		return nil
	}
	rec, err := record.NewSignedPreKeyFromBytes(raw, serializer.SignedPreKeyRecord)
	if err != nil {
		jww.ERROR.Printf("signal LoadSignedPreKey(%d): %v", signedPreKeyID, err)
		return nil
	}
	return rec
}

func (s *txStores) LoadSignedPreKeys() []*record.SignedPreKey {
	// The repository addresses signed prekeys by the single active id
	// carried in AuthenticationCreds; enumerating all historical ids is
	// not exercised.
	return nil
}

func (s *txStores) StoreSignedPreKey(signedPreKeyID uint32, signedPreKeyRecord *record.SignedPreKey) {
	s.put(keyTypeSignedPreKey, deviceIDString(uint16(signedPreKeyID)), signedPreKeyRecord.Serialize())
}

func (s *txStores) ContainsSignedPreKey(signedPreKeyID uint32) bool {
	_, ok := s.get(keyTypeSignedPreKey, deviceIDString(uint16(signedPreKeyID)))
	return ok
}

func (s *txStores) RemoveSignedPreKey(signedPreKeyID uint32) {
	s.put(keyTypeSignedPreKey, deviceIDString(uint16(signedPreKeyID)), nil)
}

// --- groups/state/store.SenderKeyStore ---

var _ store.SenderKeyStore = (*txStores)(nil)

func (s *txStores) hasSenderKey(senderKeyName *protocol.SenderKeyName) bool {
	_, ok := s.get(keyTypeSenderKey, senderKeyName.String())
	return ok
}

func (s *txStores) StoreSenderKey(senderKeyName *protocol.SenderKeyName, keyRecord *record.SenderKey) {
	s.put(keyTypeSenderKey, senderKeyName.String(), keyRecord.Serialize())
}

func (s *txStores) LoadSenderKey(senderKeyName *protocol.SenderKeyName) *record.SenderKey {
	raw, ok := s.get(keyTypeSenderKey, senderKeyName.String())
	if !ok {
		rec, _ := record.NewSenderKey(serializer.SenderKeyRecord, serializer.SenderKeyState)
		return rec
	}
	rec, err := record.NewSenderKeyFromBytes(raw, serializer.SenderKeyRecord, serializer.SenderKeyState)
	if err != nil {
		jww.ERROR.Printf("signal LoadSenderKey(%s): %v", senderKeyName, err)
		rec, _ = record.NewSenderKey(serializer.SenderKeyRecord, serializer.SenderKeyState)
	}
	return rec
}
