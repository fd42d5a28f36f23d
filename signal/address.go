// Package signal implements the Signal-protocol message layer (spec
// component 4.D) over go.mau.fi/libsignal: pairwise Double Ratchet
// sessions, group sender-key sessions, and prekey-bundle injection,
// grounded on the store-interface shape shown by the example identity
// store and whatsmeow's usage of the same library.
package signal

import (
	"strconv"

	"go.mau.fi/libsignal/protocol"

	"github.com/xx-net/wacore/jid"
)

// jidToSignalProtocolAddress renders a JID as the deterministic
// "user.device" (or "user.0" for a bare user) form libsignal addresses
// sessions by.
func jidToSignalProtocolAddress(j jid.JID) *protocol.SignalAddress {
	return protocol.NewSignalAddress(j.User, uint32(j.Device))
}

// JIDToSignalProtocolAddress is the exported form of the same
// deterministic mapping, for callers outside this package.
func JIDToSignalProtocolAddress(j jid.JID) *protocol.SignalAddress {
	return jidToSignalProtocolAddress(j)
}

func senderKeyName(group jid.JID, sender jid.JID) string {
	return group.ToNonAD().String() + "::" + jidToSignalProtocolAddress(sender).String()
}

func deviceIDString(device uint16) string {
	return strconv.Itoa(int(device))
}
