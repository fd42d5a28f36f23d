// Package binarynode implements the token-compressed binary tree codec
// that every Noise-framed stanza is encoded as (spec component 4.A).
// Trees are the sole wire unit above the transport layer.
package binarynode

import "github.com/xx-net/wacore/jid"

// Node is the binary-node tree: {tag, attrs, content}. Content is one of
// nil, []byte or []Node — never anything else.
type Node struct {
	Tag     string
	Attrs   Attrs
	Content interface{}
}

// Attrs is the node's attribute map, with typed accessors for the
// common attribute value shapes (strings, JIDs, small integers).
type Attrs map[string]string

// GetString returns the attribute or "" if absent.
func (a Attrs) GetString(key string) string {
	return a[key]
}

// OptionalString returns the attribute and whether it was present.
func (a Attrs) OptionalString(key string) (string, bool) {
	v, ok := a[key]
	return v, ok
}

// GetJID parses the attribute as a JID.
func (a Attrs) GetJID(key string) (jid.JID, bool) {
	v, ok := a[key]
	if !ok || v == "" {
		return jid.JID{}, false
	}
	j, err := jid.Parse(v)
	if err != nil {
		return jid.JID{}, false
	}
	return j, true
}

// GetUint64 parses the attribute as a base-10 unsigned integer.
func (a Attrs) GetUint64(key string) (uint64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	n, err := parseUint64(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Children returns the node's content as a node list, or nil if the
// content is not a node list (e.g. it is raw bytes, or absent).
func (n Node) Children() []Node {
	if list, ok := n.Content.([]Node); ok {
		return list
	}
	return nil
}

// GetChildByTag returns the first direct child with the given tag.
func (n Node) GetChildByTag(tag string) (Node, bool) {
	for _, c := range n.Children() {
		if c.Tag == tag {
			return c, true
		}
	}
	return Node{}, false
}

// ContentBytes returns the node's content as bytes, or nil if the
// content is not raw bytes.
func (n Node) ContentBytes() []byte {
	if b, ok := n.Content.([]byte); ok {
		return b
	}
	return nil
}
