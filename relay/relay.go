package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/xx-net/wacore/binarynode"
	"github.com/xx-net/wacore/jid"
	"github.com/xx-net/wacore/keystore"
	"github.com/xx-net/wacore/query"
	"github.com/xx-net/wacore/signal"
	"github.com/xx-net/wacore/usync"
)

// Sender is the stanza-send capability the relay engine needs once it
// has assembled the final node; query.Dispatcher satisfies a subset of
// this via its Query path, but plain sends use this directly.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Engine is the central outbound relay engine: it resolves a
// destination's device set, encrypts per device, and assembles the
// final stanza.
type Engine struct {
	Signal     *signal.Repository
	Dispatcher *query.Dispatcher
	Sender     Sender
	USync      *usync.Cache

	OwnJID jid.JID
	OwnLID jid.JID

	// DeviceIdentity is the signed account identity bytes attached as
	// <device-identity> whenever any recipient node is a pkmsg.
	DeviceIdentity []byte

	GroupMetadata  GroupMetadataProvider
	StatusAudience StatusAudienceProvider
	PatchHook      PatchHook
}

// New builds an Engine with the identity PatchHook as default.
func New(sig *signal.Repository, dispatcher *query.Dispatcher, sender Sender, usyncCache *usync.Cache, ownJID, ownLID jid.JID) *Engine {
	return &Engine{
		Signal:     sig,
		Dispatcher: dispatcher,
		Sender:     sender,
		USync:      usyncCache,
		OwnJID:     ownJID,
		OwnLID:     ownLID,
		PatchHook:  IdentityPatchHook,
	}
}

type deviceEnc struct {
	device  jid.JID
	typ     signal.MessageType
	payload []byte
}

// RelayMessage resolves the destination's device set, encrypts the
// payload per device, and assembles and sends the outbound stanza,
// all inside the caller's outer key-store transaction. It returns the
// stanza id that was actually sent.
func (e *Engine) RelayMessage(ctx context.Context, tx *keystore.Tx, dest jid.JID, msg Message, opts Options) (string, error) {
	// 1. msgId.
	msgID := opts.MsgID
	if msgID == "" {
		msgID = generateMessageIDV2(e.OwnJID)
	}

	// 2. destinationJid already decomposed as dest.
	class := jid.ClassOf(dest)

	// 3/4. device expansion.
	devices, err := e.resolveDevices(ctx, dest, class, opts)
	if err != nil {
		return "", errors.Wrap(err, "resolve devices")
	}

	// 5. patch hook.
	hook := e.PatchHook
	if hook == nil {
		hook = IdentityPatchHook
	}
	data := hook(msg.Data, devices)

	switch class {
	case jid.ClassNewsletter:
		return e.relayNewsletter(ctx, dest, msgID, data, msg)
	case jid.ClassGroup, jid.ClassStatus:
		return e.relayGroupOrStatus(ctx, tx, dest, class, msgID, data, msg, devices, opts)
	default:
		return e.relayIndividual(ctx, tx, dest, msgID, data, msg, devices, opts)
	}
}

func (e *Engine) resolveDevices(ctx context.Context, dest jid.JID, class jid.Class, opts Options) ([]jid.JID, error) {
	if opts.Participant != nil {
		return []jid.JID{*opts.Participant}, nil
	}

	switch class {
	case jid.ClassIndividual, jid.ClassLID:
		seed := []jid.JID{e.OwnJID.ToNonAD(), dest.ToNonAD()}
		devs, err := e.USync.GetUSyncDevices(ctx, seed, true, true)
		if err != nil {
			return nil, err
		}
		return devicesToJIDs(devs, dest.Server), nil

	case jid.ClassGroup, jid.ClassStatus:
		var participants []jid.JID
		if class == jid.ClassStatus {
			if e.StatusAudience != nil {
				participants = e.StatusAudience()
			}
		} else if e.GroupMetadata != nil {
			parts, ok := e.GroupMetadata(dest)
			if ok {
				participants = parts
			}
		}
		devs, err := e.USync.GetUSyncDevices(ctx, participants, true, false)
		if err != nil {
			return nil, err
		}
		return devicesToJIDs(devs, dest.Server), nil

	default:
		return nil, nil
	}
}

func devicesToJIDs(devices []usync.Device, server string) []jid.JID {
	out := make([]jid.JID, 0, len(devices))
	for _, d := range devices {
		out = append(out, jid.JID{User: d.User, Server: server, Device: d.Device})
	}
	return out
}

// relayIndividual handles the individual/lid class: own-device
// payloads are wrapped in a deviceSentMessage envelope before
// encryption, other-device payloads are encrypted as-is.
func (e *Engine) relayIndividual(ctx context.Context, tx *keystore.Tx, dest jid.JID, msgID string, data []byte, msg Message, devices []jid.JID, opts Options) (string, error) {
	var ownDevices, otherDevices []jid.JID
	for _, d := range devices {
		if d.User == e.OwnJID.User {
			ownDevices = append(ownDevices, d)
		} else {
			otherDevices = append(otherDevices, d)
		}
	}

	if err := e.assertSessions(ctx, tx, append(append([]jid.JID{}, ownDevices...), otherDevices...)); err != nil {
		return "", err
	}

	wrapped := deviceSentMessage(dest, data)

	var encs []deviceEnc
	var shouldIncludeDeviceIdentity bool
	for _, d := range ownDevices {
		enc, err := e.Signal.EncryptMessage(tx, d, wrapped)
		if err != nil {
			return "", errors.Wrapf(err, "encrypt to own device %s", d)
		}
		if enc.Type == signal.TypePreKeyMessage {
			shouldIncludeDeviceIdentity = true
		}
		encs = append(encs, deviceEnc{device: d, typ: enc.Type, payload: enc.Ciphertext})
	}
	for _, d := range otherDevices {
		enc, err := e.Signal.EncryptMessage(tx, d, data)
		if err != nil {
			return "", errors.Wrapf(err, "encrypt to device %s", d)
		}
		if enc.Type == signal.TypePreKeyMessage {
			shouldIncludeDeviceIdentity = true
		}
		encs = append(encs, deviceEnc{device: d, typ: enc.Type, payload: enc.Ciphertext})
	}

	stanza := e.buildStanza(dest, msgID, class_(msg), encs, nil, shouldIncludeDeviceIdentity, msg.PinInChatMessage, opts)
	if err := e.send(ctx, stanza); err != nil {
		return "", err
	}
	return msgID, nil
}

// relayGroupOrStatus handles the group and status classes: one
// sender-key ciphertext fanned out as a distribution message to every
// device not already marked in the sender-key memory ledger.
func (e *Engine) relayGroupOrStatus(ctx context.Context, tx *keystore.Tx, dest jid.JID, class jid.Class, msgID string, data []byte, msg Message, devices []jid.JID, opts Options) (string, error) {
	grouped, err := e.Signal.EncryptGroupMessage(tx, dest, e.OwnJID, data)
	if err != nil {
		return "", errors.Wrap(err, "encrypt group message")
	}

	memory, err := loadSenderKeyMemory(tx, dest)
	if err != nil {
		return "", err
	}

	var senderKeyJids []jid.JID
	forceResend := opts.Participant != nil
	for _, d := range devices {
		if forceResend || !memory[d.ADString()] {
			senderKeyJids = append(senderKeyJids, d)
		}
	}

	if err := e.assertSessions(ctx, tx, senderKeyJids); err != nil {
		return "", err
	}

	var encs []deviceEnc
	var shouldIncludeDeviceIdentity bool
	for _, d := range senderKeyJids {
		enc, err := e.Signal.EncryptMessage(tx, d, grouped.SenderKeyDistributionMessage)
		if err != nil {
			return "", errors.Wrapf(err, "encrypt skdm to %s", d)
		}
		if enc.Type == signal.TypePreKeyMessage {
			shouldIncludeDeviceIdentity = true
		}
		encs = append(encs, deviceEnc{device: d, typ: enc.Type, payload: enc.Ciphertext})
	}

	if class == jid.ClassGroup {
		for _, d := range senderKeyJids {
			memory[d.ADString()] = true
		}
		if err := storeSenderKeyMemory(tx, dest, memory); err != nil {
			return "", err
		}
	}

	stanza := e.buildStanza(dest, msgID, class_(msg), encs, grouped.Ciphertext, shouldIncludeDeviceIdentity, msg.PinInChatMessage, opts)
	if err := e.send(ctx, stanza); err != nil {
		return "", err
	}
	return msgID, nil
}

// relayNewsletter implements the plaintext-only newsletter branch:
// zero <to> recipient nodes, exactly one <plaintext> child.
func (e *Engine) relayNewsletter(ctx context.Context, dest jid.JID, msgID string, data []byte, msg Message) (string, error) {
	stanza := binarynode.Node{
		Tag:   "message",
		Attrs: binarynode.Attrs{"id": msgID, "to": dest.String(), "type": "text"},
		Content: []binarynode.Node{
			{Tag: "plaintext", Content: data},
		},
	}
	if err := e.send(ctx, stanza); err != nil {
		return "", err
	}
	return msgID, nil
}

// assertSessions ensures every device in devices has a pairwise
// session before its caller encrypts to it: libsignal cannot encrypt
// against a peer it has never processed a prekey bundle or incoming
// message for. Devices missing a session are batched into one
// `iq/encrypt` prekey fetch and their bundles injected.
func (e *Engine) assertSessions(ctx context.Context, tx *keystore.Tx, devices []jid.JID) error {
	var missing []jid.JID
	for _, d := range devices {
		if !e.Signal.HasSession(tx, d) {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	bundles, err := e.fetchPreKeyBundles(ctx, missing)
	if err != nil {
		return errors.Wrap(err, "fetch prekey bundles")
	}
	for _, d := range missing {
		bundle, ok := bundles[d]
		if !ok {
			return errors.Errorf("no prekey bundle returned for %s", d)
		}
		if err := e.Signal.InjectE2ESession(tx, d, bundle); err != nil {
			return errors.Wrapf(err, "inject session for %s", d)
		}
	}
	return nil
}

// buildStanza assembles the <message> stanza. When topPayload is set
// (group/status), it is the skmsg content enc and carries mediaType;
// the per-device encs are then SKDM distribution messages carrying no
// media of their own, so mediatype is omitted from them. When
// topPayload is nil (individual), the per-device encs are the actual
// content and carry mediaType instead. pin forces decrypt-fail="hide"
// on every <enc> node regardless of which one carries the media.
func (e *Engine) buildStanza(dest jid.JID, msgID string, mediaType MediaType, encs []deviceEnc, topPayload []byte, includeDeviceIdentity bool, pin bool, opts Options) binarynode.Node {
	var children []binarynode.Node

	perDeviceMediaType := mediaType
	if topPayload != nil {
		children = append(children, encNode(mediaType, signal.TypeSenderKeyMessage, topPayload, pin))
		perDeviceMediaType = MediaNone
	}

	var perDevice []binarynode.Node
	for _, enc := range encs {
		n := encNode(perDeviceMediaType, enc.typ, enc.payload, pin)
		perDevice = append(perDevice, binarynode.Node{
			Tag:     "to",
			Attrs:   binarynode.Attrs{"jid": enc.device.String()},
			Content: []binarynode.Node{n},
		})
	}

	if opts.Participant != nil && len(perDevice) == 1 {
		// peer category: inline the single <enc> node, no wrapper.
		children = append(children, perDevice[0].Children()...)
	} else if len(perDevice) > 0 {
		children = append(children, binarynode.Node{Tag: "participants", Content: perDevice})
	}

	if includeDeviceIdentity && e.DeviceIdentity != nil {
		children = append(children, binarynode.Node{Tag: "device-identity", Content: e.DeviceIdentity})
	}
	children = append(children, opts.AdditionalNodes...)

	attrs := binarynode.Attrs{"id": msgID, "type": messageType_(mediaType)}
	routing(attrs, dest, e.OwnJID.User, opts)

	return binarynode.Node{Tag: "message", Attrs: attrs, Content: children}
}

func encNode(mediaType MediaType, typ signal.MessageType, payload []byte, pin bool) binarynode.Node {
	attrs := binarynode.Attrs{"v": "2", "type": string(typ)}
	if mediaType != MediaNone {
		attrs["mediatype"] = string(mediaType)
	}
	if pin {
		attrs["decrypt-fail"] = "hide"
	}
	return binarynode.Node{Tag: "enc", Attrs: attrs, Content: payload}
}

// routing applies the `to` / `participant` / `recipient` table.
// ownUser identifies "self" routing: a participant that is one of the
// calling account's own devices.
func routing(attrs binarynode.Attrs, dest jid.JID, ownUser string, opts Options) {
	if opts.Participant == nil {
		attrs["to"] = dest.String()
		return
	}
	p := *opts.Participant
	switch {
	case jid.ClassOf(dest) == jid.ClassGroup:
		attrs["to"] = dest.String()
		attrs["participant"] = p.String()
	case p.User == ownUser:
		attrs["to"] = p.String()
		attrs["recipient"] = dest.String()
	default:
		attrs["to"] = p.String()
	}
}

func (e *Engine) send(ctx context.Context, stanza binarynode.Node) error {
	raw, err := binarynode.Encode(stanza, true)
	if err != nil {
		return errors.Wrap(err, "encode outbound stanza")
	}
	jww.DEBUG.Printf("relay: sending %s id=%s", stanza.Tag, stanza.Attrs["id"])
	return e.Sender.Send(ctx, raw)
}

func class_(msg Message) MediaType { return msg.MediaType }

func messageType_(mediaType MediaType) string {
	if mediaType == MediaNone {
		return "text"
	}
	return "media"
}

// deviceSentMessage wraps inner in the deviceSentMessage envelope sent
// to the account's own other devices.
func deviceSentMessage(destinationJid jid.JID, inner []byte) []byte {
	var b strings.Builder
	b.WriteString(destinationJid.String())
	b.WriteByte(0)
	b.Write(inner)
	return []byte(b.String())
}

// generateMessageIDV2 produces a fresh, caller-independent stanza id
// in the "3EB0" + random-hex scheme.
func generateMessageIDV2(ownID jid.JID) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "3EB0" + strings.ToUpper(hex.EncodeToString(buf))
}
