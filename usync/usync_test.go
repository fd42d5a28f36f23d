package usync

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xx-net/wacore/jid"
)

func ownJIDForTest() jid.JID {
	return jid.JID{User: "14155550000", Server: jid.DefaultServer, Device: 0}
}

func TestFilterDropsZeroDevicesWhenRequested(t *testing.T) {
	c := New(nil, ownJIDForTest())
	in := []Device{{User: "1", Device: 0}, {User: "1", Device: 5}}
	out := c.filter(in, true)
	require.Len(t, out, 1)
	require.EqualValues(t, 5, out[0].Device)
}

func TestFilterKeepsZeroDevicesByDefault(t *testing.T) {
	c := New(nil, ownJIDForTest())
	in := []Device{{User: "1", Device: 0}}
	out := c.filter(in, false)
	require.Len(t, out, 1)
}

func TestFilterDropsOwnDevice(t *testing.T) {
	own := ownJIDForTest()
	c := New(nil, own)
	in := []Device{{User: own.User, Device: own.Device}, {User: "other", Device: 1}}
	out := c.filter(in, false)
	require.Len(t, out, 1)
	require.Equal(t, "other", out[0].User)
}

func TestUniqueUsersDedupsByBareUser(t *testing.T) {
	jids := []jid.JID{
		{User: "1", Server: jid.DefaultServer},
		{User: "1", Server: jid.DefaultServer, Device: 2},
		{User: "2", Server: jid.DefaultServer},
	}
	got := uniqueUsers(jids)
	require.Len(t, got, 2)
}
