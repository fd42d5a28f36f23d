// Package usync implements a device-list cache: a TTL-based cache
// keyed by bare user, backed by iq/usync queries for cache misses.
package usync

import (
	"context"
	"sync"
	"time"

	"github.com/xx-net/wacore/binarynode"
	"github.com/xx-net/wacore/jid"
	"github.com/xx-net/wacore/query"
)

// DefaultTTL matches the key-store cache layer's TTL.
const DefaultTTL = 5 * time.Minute

// Device is one (user, device) pair returned by GetUSyncDevices.
type Device struct {
	User   string
	Device uint16
}

type cacheEntry struct {
	devices []Device
	expires time.Time
}

// Cache fetches and caches per-user device lists via an iq/usync query.
type Cache struct {
	dispatcher *query.Dispatcher
	ownJID     jid.JID
	ttl        time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// New builds a Cache that issues usync queries through dispatcher and
// filters the calling account's own device out of every result.
func New(dispatcher *query.Dispatcher, ownJID jid.JID) *Cache {
	return &Cache{
		dispatcher: dispatcher,
		ownJID:     ownJID,
		ttl:        DefaultTTL,
		entries:    make(map[string]cacheEntry),
	}
}

// GetUSyncDevices resolves the device lists for jids: uniqueify by bare
// user, split cached/toFetch, issue one query for the misses, merge,
// and apply the drop filters.
func (c *Cache) GetUSyncDevices(ctx context.Context, jids []jid.JID, useCache bool, ignoreZeroDevices bool) ([]Device, error) {
	users := uniqueUsers(jids)

	now := time.Now()
	var toFetch []string
	result := make([]Device, 0, len(users))

	c.mu.Lock()
	for _, u := range users {
		if useCache {
			if e, ok := c.entries[u]; ok && now.Before(e.expires) {
				result = append(result, e.devices...)
				continue
			}
		}
		toFetch = append(toFetch, u)
	}
	c.mu.Unlock()

	if len(toFetch) > 0 {
		fetched, err := c.fetch(ctx, toFetch)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		now = time.Now()
		for u, devices := range fetched {
			c.entries[u] = cacheEntry{devices: devices, expires: now.Add(c.ttl)}
			result = append(result, devices...)
		}
		c.mu.Unlock()
	}

	return c.filter(result, ignoreZeroDevices), nil
}

func (c *Cache) filter(devices []Device, ignoreZeroDevices bool) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if ignoreZeroDevices && d.Device == 0 {
			continue
		}
		if d.User == c.ownJID.User && d.Device == c.ownJID.Device {
			continue
		}
		out = append(out, d)
	}
	return out
}

func uniqueUsers(jids []jid.JID) []string {
	seen := make(map[string]bool)
	var out []string
	for _, j := range jids {
		if !seen[j.User] {
			seen[j.User] = true
			out = append(out, j.User)
		}
	}
	return out
}

func (c *Cache) fetch(ctx context.Context, users []string) (map[string][]Device, error) {
	userNodes := make([]binarynode.Node, 0, len(users))
	for _, u := range users {
		userNodes = append(userNodes, binarynode.Node{
			Tag:     "user",
			Content: []binarynode.Node{{Tag: "jid", Content: []byte(u + "@s.whatsapp.net")}},
		})
	}

	req := binarynode.Node{
		Tag:   "iq",
		Attrs: binarynode.Attrs{"type": "get", "xmlns": "usync"},
		Content: []binarynode.Node{{
			Tag:   "usync",
			Attrs: binarynode.Attrs{"sid": c.dispatcher.NextID(), "mode": "query", "last": "true", "index": "0", "context": "message"},
			Content: []binarynode.Node{
				{Tag: "query", Content: []binarynode.Node{{Tag: "devices", Attrs: binarynode.Attrs{"version": "2"}}}},
				{Tag: "list", Content: userNodes},
			},
		}},
	}

	resp, err := c.dispatcher.Query(ctx, req, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if err := query.AssertNodeErrorFree(resp); err != nil {
		return nil, err
	}

	return parseUSyncResponse(resp), nil
}

func parseUSyncResponse(resp binarynode.Node) map[string][]Device {
	out := make(map[string][]Device)
	usyncNode, ok := resp.GetChildByTag("usync")
	if !ok {
		return out
	}
	listNode, ok := usyncNode.GetChildByTag("list")
	if !ok {
		return out
	}
	for _, userNode := range listNode.Children() {
		if userNode.Tag != "user" {
			continue
		}
		j, ok := userNode.Attrs.GetJID("jid")
		if !ok {
			continue
		}
		devicesNode, ok := userNode.GetChildByTag("devices")
		if !ok {
			out[j.User] = append(out[j.User], Device{User: j.User, Device: 0})
			continue
		}
		deviceListNode, ok := devicesNode.GetChildByTag("device-list")
		if !ok {
			continue
		}
		for _, d := range deviceListNode.Children() {
			if d.Tag != "device" {
				continue
			}
			id, _ := d.Attrs.GetUint64("id")
			if id != 0 {
				if keyIndex, hasKeyIndex := d.Attrs.OptionalString("key-index"); !hasKeyIndex || keyIndex == "" {
					continue
				}
			}
			out[j.User] = append(out[j.User], Device{User: j.User, Device: uint16(id)})
		}
	}
	return out
}
