package signal

import (
	"github.com/pkg/errors"

	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/groups"
	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/keys/prekey"
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/session"
	"go.mau.fi/libsignal/util/optional"

	"github.com/xx-net/wacore/jid"
	"github.com/xx-net/wacore/keystore"
)

// MessageType is the `<enc type>` wire discriminator for an encrypted
// payload.
type MessageType string

const (
	TypePreKeyMessage    MessageType = "pkmsg"
	TypeMessage          MessageType = "msg"
	TypeSenderKeyMessage MessageType = "skmsg"
)

// ErrNoSession is raised by decrypt operations when no pairwise or
// group session exists for the sender.
var ErrNoSession = errors.New("no signal session for peer")

// Repository implements the Signal-protocol primitives: per-peer
// session establishment and pairwise encrypt/decrypt, plus sender-key
// group encrypt/decrypt/distribute. Every method takes the in-flight
// transaction its caller started; the repository itself never calls
// keystore.Transaction.
type Repository struct {
	identityKeyPair *identity.KeyPair
	registrationID  uint32
}

// New builds a Repository bound to the local device's signed identity
// keypair and registration id, both sourced from AuthenticationCreds.
func New(identityKeyPair *identity.KeyPair, registrationID uint32) *Repository {
	return &Repository{identityKeyPair: identityKeyPair, registrationID: registrationID}
}

func (r *Repository) stores(tx *keystore.Tx) *txStores {
	return newTxStores(tx, r.identityKeyPair, r.registrationID)
}

// HasSession reports whether a pairwise session already exists for to,
// so callers can decide whether a prekey-bundle fetch is needed before
// EncryptMessage: libsignal cannot produce a valid pkmsg/msg against a
// peer it has never processed a bundle or incoming message for.
func (r *Repository) HasSession(tx *keystore.Tx, to jid.JID) bool {
	return r.stores(tx).ContainsSession(jidToSignalProtocolAddress(to))
}

// EncryptedMessage is the output of EncryptMessage/EncryptGroupMessage.
type EncryptedMessage struct {
	Type       MessageType
	Ciphertext []byte
}

// EncryptMessage produces a pairwise pkmsg/msg ciphertext for the given
// device address against its stored session. It does not fetch or inject
// a prekey bundle itself: a session must already exist (see HasSession
// and InjectE2ESession), otherwise the encrypt fails.
func (r *Repository) EncryptMessage(tx *keystore.Tx, to jid.JID, plaintext []byte) (*EncryptedMessage, error) {
	stores := r.stores(tx)
	addr := jidToSignalProtocolAddress(to)

	builder := session.NewBuilder(stores, stores, stores, stores, addr, serializer)
	cipher := session.NewCipher(builder, addr)

	ciphertextMsg, err := cipher.Encrypt(plaintext)
	if err != nil {
		return nil, errors.Wrap(err, "signal encrypt")
	}

	msgType := TypeMessage
	if ciphertextMsg.Type() == protocol.PREKEY_TYPE {
		msgType = TypePreKeyMessage
	}
	return &EncryptedMessage{Type: msgType, Ciphertext: ciphertextMsg.Serialize()}, nil
}

// DecryptMessage is the inverse of EncryptMessage; msgType distinguishes
// a PreKeySignalMessage from a plain SignalMessage on the wire.
func (r *Repository) DecryptMessage(tx *keystore.Tx, from jid.JID, msgType MessageType, ciphertext []byte) ([]byte, error) {
	stores := r.stores(tx)
	addr := jidToSignalProtocolAddress(from)
	builder := session.NewBuilder(stores, stores, stores, stores, addr, serializer)
	cipher := session.NewCipher(builder, addr)

	switch msgType {
	case TypePreKeyMessage:
		pkMsg, err := protocol.NewPreKeySignalMessageFromBytes(ciphertext, serializer.PreKeySignalMessage, serializer.SignalMessage)
		if err != nil {
			return nil, errors.Wrap(err, "parse pkmsg")
		}
		plaintext, err := cipher.DecryptMessage(pkMsg)
		if err != nil {
			return nil, errors.Wrap(err, "decrypt pkmsg")
		}
		return plaintext, nil
	case TypeMessage:
		if !stores.ContainsSession(addr) {
			return nil, ErrNoSession
		}
		sigMsg, err := protocol.NewSignalMessageFromBytes(ciphertext, serializer.SignalMessage)
		if err != nil {
			return nil, errors.Wrap(err, "parse msg")
		}
		plaintext, err := cipher.Decrypt(sigMsg)
		if err != nil {
			return nil, errors.Wrap(err, "decrypt msg")
		}
		return plaintext, nil
	default:
		return nil, errors.Errorf("unknown pairwise message type %q", msgType)
	}
}

// PreKeyBundleInput is a prekey bundle fetched over an `iq/encrypt`
// query, the raw material InjectE2ESession builds a fresh pairwise
// session from.
type PreKeyBundleInput struct {
	RegistrationID        uint32
	IdentityKey           *identity.Key
	SignedPreKeyID        uint32
	SignedPreKeyPublic    ecc.ECPublicKeyable
	SignedPreKeySignature []byte
	PreKeyID              *uint32 // nil when the bundle carries no one-time prekey
	PreKeyPublic          ecc.ECPublicKeyable
}

func (r *Repository) InjectE2ESession(tx *keystore.Tx, peer jid.JID, bundleIn PreKeyBundleInput) error {
	stores := r.stores(tx)
	addr := jidToSignalProtocolAddress(peer)

	preKeyID := optional.NewEmptyUint32()
	if bundleIn.PreKeyID != nil {
		preKeyID = optional.NewOptionalUint32(*bundleIn.PreKeyID)
	}

	var signature [64]byte
	copy(signature[:], bundleIn.SignedPreKeySignature)

	bundle := prekey.NewBundle(
		bundleIn.RegistrationID,
		addr.DeviceID(),
		preKeyID,
		bundleIn.SignedPreKeyID,
		bundleIn.PreKeyPublic,
		bundleIn.SignedPreKeyPublic,
		signature,
		bundleIn.IdentityKey,
	)

	builder := session.NewBuilder(stores, stores, stores, stores, addr, serializer)
	if err := builder.ProcessBundle(bundle); err != nil {
		return errors.Wrap(err, "process prekey bundle")
	}
	return nil
}

// EncryptedGroupMessage is the output of EncryptGroupMessage: the
// sender-key ciphertext plus the distribution message new recipients
// need once.
type EncryptedGroupMessage struct {
	Ciphertext                   []byte
	SenderKeyDistributionMessage []byte
}

// EncryptGroupMessage creates the sender's group session for group if
// none is stored (otherwise it reuses the stored one; rotation is
// DeleteSenderKeySession's job) and returns both the skmsg ciphertext and
// the SKDM to distribute to recipients not yet in sender-key-memory.
func (r *Repository) EncryptGroupMessage(tx *keystore.Tx, group jid.JID, me jid.JID, plaintext []byte) (*EncryptedGroupMessage, error) {
	stores := r.stores(tx)
	name := protocol.NewSenderKeyName(group.ToNonAD().String(), jidToSignalProtocolAddress(me))

	groupBuilder := groups.NewGroupSessionBuilder(stores, serializer)
	skdm, err := groupBuilder.Create(name)
	if err != nil {
		return nil, errors.Wrap(err, "create sender key session")
	}

	cipher := groups.NewGroupCipher(groupBuilder, name, stores)
	ciphertext, err := cipher.Encrypt(plaintext)
	if err != nil {
		return nil, errors.Wrap(err, "group encrypt")
	}

	return &EncryptedGroupMessage{
		Ciphertext:                   ciphertext.Serialize(),
		SenderKeyDistributionMessage: skdm.Serialize(),
	}, nil
}

// InjectSenderKeyDistributionMessage processes an SKDM received from a
// group peer, bootstrapping this device's copy of their sender-key
// session so subsequent DecryptGroupMessage calls can succeed.
func (r *Repository) InjectSenderKeyDistributionMessage(tx *keystore.Tx, group jid.JID, sender jid.JID, skdmBytes []byte) error {
	stores := r.stores(tx)
	name := protocol.NewSenderKeyName(group.ToNonAD().String(), jidToSignalProtocolAddress(sender))

	skdm, err := protocol.NewSenderKeyDistributionMessageFromBytes(skdmBytes, serializer.SenderKeyDistributionMessage)
	if err != nil {
		return errors.Wrap(err, "parse skdm")
	}

	groupBuilder := groups.NewGroupSessionBuilder(stores, serializer)
	groupBuilder.Process(name, skdm)
	return nil
}

// DeleteSenderKeySession drops this device's stored sender-key session
// for group, forcing the next EncryptGroupMessage call to generate a
// fresh one. Callers pair this with clearing their own
// sender-key-memory ledger so every current member receives the new
// session's distribution message (spec §3: rotating the sender key
// clears that row).
func (r *Repository) DeleteSenderKeySession(tx *keystore.Tx, group jid.JID, me jid.JID) error {
	stores := r.stores(tx)
	stores.put(keyTypeSenderKey, senderKeyName(group, me), nil)
	return nil
}

// HasSenderKeySession reports whether this device holds a sender-key
// session for group under sender's name, mirroring HasSession for the
// group case. It reports false after a DeleteSenderKeySession call for
// the same group and sender.
func (r *Repository) HasSenderKeySession(tx *keystore.Tx, group jid.JID, sender jid.JID) bool {
	stores := r.stores(tx)
	name := protocol.NewSenderKeyName(group.ToNonAD().String(), jidToSignalProtocolAddress(sender))
	return stores.hasSenderKey(name)
}

// DecryptGroupMessage is the inverse of EncryptGroupMessage.
func (r *Repository) DecryptGroupMessage(tx *keystore.Tx, group jid.JID, sender jid.JID, ciphertext []byte) ([]byte, error) {
	stores := r.stores(tx)
	name := protocol.NewSenderKeyName(group.ToNonAD().String(), jidToSignalProtocolAddress(sender))

	if !stores.hasSenderKey(name) {
		return nil, ErrNoSession
	}

	senderKeyMsg, err := protocol.NewSenderKeyMessageFromBytes(ciphertext, serializer.SenderKeyMessage)
	if err != nil {
		return nil, errors.Wrap(err, "parse skmsg")
	}

	groupBuilder := groups.NewGroupSessionBuilder(stores, serializer)
	cipher := groups.NewGroupCipher(groupBuilder, name, stores)
	plaintext, err := cipher.Decrypt(senderKeyMsg)
	if err != nil {
		return nil, errors.Wrap(err, "group decrypt")
	}
	return plaintext, nil
}
