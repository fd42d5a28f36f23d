////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package jid implements parsing, formatting and comparison of WhatsApp
// multi-device JIDs.
package jid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Server name constants for the JID forms named in the data model.
const (
	DefaultServer    = "s.whatsapp.net"
	GroupServer      = "g.us"
	NewsletterServer = "newsletter"
	LIDServer        = "lid"
	BroadcastServer  = "broadcast"
)

// StatusBroadcast is the well known JID messages are relayed to for status
// updates.
var StatusBroadcast = JID{User: "status", Server: BroadcastServer}

// JID identifies a WhatsApp account, device, group, newsletter or the
// special broadcast/status destinations.
type JID struct {
	User   string
	Server string
	Device uint16
	Agent  uint8
}

// String renders the JID back into its wire string form. It is the
// inverse of Parse: Parse(j.String()) == j for every JID produced by
// Parse.
func (j JID) String() string {
	if j.Server == "" {
		return j.User
	}
	if j.Device > 0 {
		return fmt.Sprintf("%s:%d@%s", j.User, j.Device, j.Server)
	}
	return fmt.Sprintf("%s@%s", j.User, j.Server)
}

// ToNonAD returns the bare-user form of the JID, dropping any device part.
// This is the form used to key per-user caches such as the USync cache.
func (j JID) ToNonAD() JID {
	return JID{User: j.User, Server: j.Server}
}

// Equal reports whether two JIDs refer to the same (user, device, server).
func (j JID) Equal(o JID) bool {
	return j.User == o.User && j.Server == o.Server && j.Device == o.Device
}

// IsEmpty reports whether the JID carries neither a user nor a server.
func (j JID) IsEmpty() bool {
	return j.User == "" && j.Server == ""
}

// ADString renders the "ad" (agent/device) signal-address form used to key
// pairwise sessions: "user.device" or "user.0" when no device is present.
func (j JID) ADString() string {
	return fmt.Sprintf("%s.%d", j.User, j.Device)
}

// Parse decodes a JID string of the form "user[:device][@server]" into its
// component parts. It accepts every wire form named in the data model:
// individual, device-specific, group, newsletter, lid and status.
func Parse(s string) (JID, error) {
	if s == "" {
		return JID{}, errors.New("empty JID")
	}

	server := DefaultServer
	user := s
	if at := strings.IndexByte(s, '@'); at >= 0 {
		user = s[:at]
		server = s[at+1:]
	}

	device := uint16(0)
	agent := uint8(0)
	if colon := strings.IndexByte(user, ':'); colon >= 0 {
		devStr := user[colon+1:]
		user = user[:colon]
		d, err := strconv.ParseUint(devStr, 10, 16)
		if err != nil {
			return JID{}, errors.Wrapf(err, "malformed device in JID %q", s)
		}
		device = uint16(d)
	} else if underscore := strings.IndexByte(user, '_'); underscore >= 0 {
		// Legacy "user_device@server" form named in the data model.
		devStr := user[underscore+1:]
		user = user[:underscore]
		d, err := strconv.ParseUint(devStr, 10, 16)
		if err != nil {
			return JID{}, errors.Wrapf(err, "malformed legacy device in JID %q", s)
		}
		device = uint16(d)
	}

	return JID{User: user, Server: server, Device: device, Agent: agent}, nil
}

// MustParse is Parse but panics on malformed input; reserved for literal
// JIDs embedded in code and tests.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return j
}

// NewADJID constructs a device-addressed JID directly from parts, used by
// the codec's ad-jid decode path and by device expansion in the relay
// engine.
func NewADJID(user string, agent uint8, device uint16, server string) JID {
	return JID{User: user, Server: server, Device: device, Agent: agent}
}

// Class classifies a JID by server into the categories the relay engine's
// encryption policy table switches on.
type Class int

const (
	ClassIndividual Class = iota
	ClassGroup
	ClassNewsletter
	ClassStatus
	ClassLID
)

func (c Class) String() string {
	switch c {
	case ClassIndividual:
		return "individual"
	case ClassGroup:
		return "group"
	case ClassNewsletter:
		return "newsletter"
	case ClassStatus:
		return "status"
	case ClassLID:
		return "lid"
	default:
		return "unknown"
	}
}

// ClassOf classifies j by its server component.
func ClassOf(j JID) Class {
	switch j.Server {
	case GroupServer:
		return ClassGroup
	case NewsletterServer:
		return ClassNewsletter
	case BroadcastServer:
		return ClassStatus
	case LIDServer:
		return ClassLID
	default:
		return ClassIndividual
	}
}
