package relay

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/keys/identity"

	"github.com/xx-net/wacore/binarynode"
	"github.com/xx-net/wacore/jid"
	"github.com/xx-net/wacore/query"
	"github.com/xx-net/wacore/signal"
)

// fetchPreKeyBundles issues one `iq type=get xmlns=encrypt` query
// carrying a `key[user[jid]…]` child for devices (spec §6's prekey
// fetch) and parses the response into one PreKeyBundleInput per
// requested device.
func (e *Engine) fetchPreKeyBundles(ctx context.Context, devices []jid.JID) (map[jid.JID]signal.PreKeyBundleInput, error) {
	userNodes := make([]binarynode.Node, 0, len(devices))
	for _, d := range devices {
		userNodes = append(userNodes, binarynode.Node{
			Tag:   "user",
			Attrs: binarynode.Attrs{"jid": d.String()},
		})
	}

	req := binarynode.Node{
		Tag:   "iq",
		Attrs: binarynode.Attrs{"type": "get", "xmlns": "encrypt", "to": jid.DefaultServer},
		Content: []binarynode.Node{{
			Tag:     "key",
			Content: userNodes,
		}},
	}

	resp, err := e.Dispatcher.Query(ctx, req, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if err := query.AssertNodeErrorFree(resp); err != nil {
		return nil, err
	}

	listNode, ok := resp.GetChildByTag("list")
	if !ok {
		return nil, errors.New("prekey response carries no <list>")
	}

	out := make(map[jid.JID]signal.PreKeyBundleInput, len(devices))
	for _, userNode := range listNode.Children() {
		if userNode.Tag != "user" {
			continue
		}
		j, ok := userNode.Attrs.GetJID("jid")
		if !ok {
			continue
		}
		bundle, err := parsePreKeyBundleNode(userNode)
		if err != nil {
			return nil, errors.Wrapf(err, "parse prekey bundle for %s", j)
		}
		out[j] = *bundle
	}
	return out, nil
}

// parsePreKeyBundleNode decodes one `<user>` child of the `iq/encrypt`
// response into a PreKeyBundleInput: {registrationId, identityKey,
// signedPreKey, preKey?}.
func parsePreKeyBundleNode(userNode binarynode.Node) (*signal.PreKeyBundleInput, error) {
	regNode, ok := userNode.GetChildByTag("registration")
	if !ok {
		return nil, errors.New("missing <registration>")
	}
	regBytes := regNode.ContentBytes()
	if len(regBytes) != 4 {
		return nil, errors.New("malformed registration id")
	}
	registrationID := binary.BigEndian.Uint32(regBytes)

	identityNode, ok := userNode.GetChildByTag("identity")
	if !ok {
		return nil, errors.New("missing <identity>")
	}
	identityPub, err := decodePublicKey(identityNode.ContentBytes())
	if err != nil {
		return nil, errors.Wrap(err, "decode identity key")
	}

	skeyNode, ok := userNode.GetChildByTag("skey")
	if !ok {
		return nil, errors.New("missing <skey>")
	}
	signedID, signedPub, err := decodeKeyNode(skeyNode)
	if err != nil {
		return nil, errors.Wrap(err, "decode signed prekey")
	}
	sigNode, ok := skeyNode.GetChildByTag("signature")
	if !ok {
		return nil, errors.New("missing <signature>")
	}

	bundle := &signal.PreKeyBundleInput{
		RegistrationID:        registrationID,
		IdentityKey:           identity.NewKey(identityPub),
		SignedPreKeyID:        signedID,
		SignedPreKeyPublic:    signedPub,
		SignedPreKeySignature: sigNode.ContentBytes(),
	}

	// The one-time prekey is absent once the peer's server-side pool is
	// exhausted; the resulting session is still valid, just without the
	// extra one-time DH step.
	if keyNode, ok := userNode.GetChildByTag("key"); ok {
		preKeyID, prePub, err := decodeKeyNode(keyNode)
		if err != nil {
			return nil, errors.Wrap(err, "decode one-time prekey")
		}
		bundle.PreKeyID = &preKeyID
		bundle.PreKeyPublic = prePub
	}

	return bundle, nil
}

// decodeKeyNode reads the `<id><value>` pair shared by `<skey>` and
// `<key>` children: a big-endian key id (up to 4 bytes on the wire)
// and a raw 32-byte curve25519 public key.
func decodeKeyNode(n binarynode.Node) (uint32, *ecc.ECPublicKey, error) {
	idNode, ok := n.GetChildByTag("id")
	if !ok {
		return 0, nil, errors.New("missing <id>")
	}
	idBytes := idNode.ContentBytes()
	if len(idBytes) == 0 || len(idBytes) > 4 {
		return 0, nil, errors.New("malformed key id")
	}
	var padded [4]byte
	copy(padded[4-len(idBytes):], idBytes)
	id := binary.BigEndian.Uint32(padded[:])

	valueNode, ok := n.GetChildByTag("value")
	if !ok {
		return 0, nil, errors.New("missing <value>")
	}
	pub, err := decodePublicKey(valueNode.ContentBytes())
	if err != nil {
		return 0, nil, err
	}
	return id, pub, nil
}

// decodePublicKey wraps a raw 32-byte curve25519 public key the way
// the wire carries it here, unlike libsignal's own type-prefixed
// serialization.
func decodePublicKey(raw []byte) (*ecc.ECPublicKey, error) {
	if len(raw) != 32 {
		return nil, errors.Errorf("expected 32-byte public key, got %d bytes", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return ecc.NewECPublicKey(key), nil
}
