package binarynode

// Opcodes. A handful of reserved byte values signal structural escapes
// (lists, JID forms, literal-string/binary escapes); every opcode from
// opcodeDictionaryBase upward indexes directly into the single-byte token
// dictionary. Tokens not present in either dictionary fall back to the
// length-prefixed literal string escape.
const (
	opcodeListEmpty byte = 0
	opcodeDict0     byte = 1
	opcodeDict1     byte = 2
	opcodeDict2     byte = 3
	opcodeDict3     byte = 4
	opcodeADJID     byte = 5
	opcodeJIDPair   byte = 6
	opcodeBinary8   byte = 7
	opcodeBinary20  byte = 8
	opcodeBinary32  byte = 9
	opcodeString8   byte = 10
	opcodeString16  byte = 11
	opcodeString32  byte = 12
	opcodeList8     byte = 13
	opcodeList16    byte = 14

	opcodeDictionaryBase = 17
)

// singleByteTokens is the SINGLE_BYTE token dictionary: the tag and
// attribute vocabulary common enough to deserve a one-byte encoding.
// Index i corresponds to opcode opcodeDictionaryBase+i.
var singleByteTokens = []string{
	"", "xmlns", "id", "type", "to", "from", "participant", "recipient",
	"notify", "t", "class", "jid", "version", "status", "call-id", "call-creator",
	"offline", "last", "count", "index", "duplicate", "verified-name", "content",
	"key-index", "sid", "mode", "context",

	"iq", "message", "presence", "receipt", "notification", "ack", "call",
	"chatstate", "stream:error", "stream:features", "success", "failure",

	"get", "set", "result", "error", "available", "unavailable", "composing",
	"paused", "read", "read-self", "played", "sender", "delivery", "retry",

	"text", "extendedTextMessage", "imageMessage", "videoMessage", "audioMessage",
	"documentMessage", "stickerMessage", "contactMessage", "locationMessage",
	"liveLocationMessage", "reactionMessage", "pollCreationMessage",
	"groupInviteMessage", "productMessage", "orderMessage",

	"enc", "pkmsg", "msg", "skmsg", "plaintext", "v", "mediatype",
	"device-identity", "participants", "sender-key-distribution-message",

	"usync", "query", "devices", "list", "user",

	"encrypt", "key", "registration", "signed-skey-id", "skey-id",
	"skey-sig", "skey-pub", "prekeys",

	"media_conn", "host", "hostname", "maxContentLengthBytes", "auth", "ttl",

	"s.whatsapp.net", "g.us", "newsletter", "lid", "broadcast", "status",

	"w:m", "w:usync", "urn:xmpp:whatsapp:account", "urn:xmpp:whatsapp:push",
	"item", "add", "remove", "update", "edit", "revoke", "action", "item2",

	"code", "text-leaf",
}

// doubleByteTokens hold the DOUBLE_BYTE dictionaries, selected by the
// opcodeDict0..opcodeDict3 escapes. These cover the longer tail of the
// vocabulary that would not be worth a single-byte slot; they are kept
// intentionally small since most production traffic is dominated by the
// single-byte set.
var doubleByteTokens = [4][]string{
	{"interactive", "template", "list_message", "buttons_response",
		"native_flow_response", "order", "product", "contact_array",
		"vcard", "url", "gif", "ptt", "document", "sticker"},
	{"disappearing_mode", "ephemeral", "view_once", "forwarded",
		"context_info", "quoted_message", "mentioned_jid"},
	{"app_state_sync_key", "app_state_sync_version", "sender-key-memory",
		"pre-key", "session", "sender-key"},
	{"ib", "dirty", "offline_preview", "edge_routing", "lid_migration"},
}

func lookupSingleByte(tok string) (byte, bool) {
	for i, t := range singleByteTokens {
		if t == tok {
			return opcodeDictionaryBase + byte(i), true
		}
	}
	return 0, false
}

func lookupDoubleByte(tok string) (dict byte, idx byte, ok bool) {
	for d, table := range doubleByteTokens {
		for i, t := range table {
			if t == tok {
				return byte(d), byte(i), true
			}
		}
	}
	return 0, 0, false
}

func singleByteToken(opcode byte) (string, bool) {
	i := int(opcode) - opcodeDictionaryBase
	if i < 0 || i >= len(singleByteTokens) {
		return "", false
	}
	return singleByteTokens[i], true
}

func doubleByteToken(dict, idx byte) (string, bool) {
	if int(dict) >= len(doubleByteTokens) {
		return "", false
	}
	table := doubleByteTokens[dict]
	if int(idx) >= len(table) {
		return "", false
	}
	return table[idx], true
}
