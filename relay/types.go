// Package relay implements the central outbound relay engine:
// recipient expansion, session assertion, sender-key fan-out, and
// device-identity inclusion over the binarynode codec.
package relay

import (
	"github.com/xx-net/wacore/binarynode"
	"github.com/xx-net/wacore/jid"
)

// MediaType is the `<enc mediatype>` attribute derived from the
// message. It is absent (zero value) for plain text and reactions.
type MediaType string

const (
	MediaNone               MediaType = ""
	MediaImage              MediaType = "image"
	MediaVideo              MediaType = "video"
	MediaGIF                MediaType = "gif"
	MediaPTT                MediaType = "ptt"
	MediaAudio              MediaType = "audio"
	MediaVCard              MediaType = "vcard"
	MediaDocument           MediaType = "document"
	MediaContactArray       MediaType = "contact_array"
	MediaLiveLocation       MediaType = "livelocation"
	MediaSticker            MediaType = "sticker"
	MediaOrder              MediaType = "order"
	MediaProduct            MediaType = "product"
	MediaNativeFlowResponse MediaType = "native_flow_response"
	MediaURL                MediaType = "url"
)

// Message is the opaque application payload the relay engine ships.
// Protobuf encoding of chat messages is an external collaborator; the
// relay engine only needs the already-encoded bytes plus the
// classification the caller already knows.
type Message struct {
	Data      []byte
	MediaType MediaType
	// PinInChatMessage forces decrypt-fail="hide" on every <enc> node.
	PinInChatMessage bool
}

// GroupMetadataProvider resolves a group JID's current participant
// list, the externally injected `cachedGroupMetadata(jid)` hook.
type GroupMetadataProvider func(group jid.JID) (participants []jid.JID, ok bool)

// StatusAudienceProvider resolves the audience for a status broadcast,
// standing in for a `statusJidList` option.
type StatusAudienceProvider func() []jid.JID

// PatchHook is the `patchMessageBeforeSending` last-chance mutation
// hook; the identity function is the default.
type PatchHook func(data []byte, jids []jid.JID) []byte

// IdentityPatchHook is the default PatchHook: no mutation.
func IdentityPatchHook(data []byte, jids []jid.JID) []byte { return data }

// Options carries the per-call relay options: an explicit peer
// target, a caller-supplied message id, and any additional stanza
// children to attach.
type Options struct {
	// Participant, when set, routes to a single device and activates
	// the `participant`-set branches of the routing table.
	Participant     *jid.JID
	MsgID           string
	AdditionalNodes []binarynode.Node
}
