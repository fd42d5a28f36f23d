package binarynode

import (
	"bytes"
	"compress/zlib"
	"sort"

	"github.com/pkg/errors"
	"github.com/xx-net/wacore/jid"
)

// Encode serializes a Node into its deterministic binary form: same
// input always yields the same output byte-for-byte, since attribute
// iteration order is fixed by sorting keys before writing them.
//
// If compress is true, the body is zlib-compressed and the leading
// framing byte is set to signal that to the decoder.
func Encode(n Node, compress bool) ([]byte, error) {
	e := &encoder{buf: &bytes.Buffer{}}
	if err := e.writeNode(n); err != nil {
		return nil, err
	}

	if !compress {
		return append([]byte{0x00}, e.buf.Bytes()...), nil
	}

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	if _, err := zw.Write(e.buf.Bytes()); err != nil {
		return nil, errors.Wrap(err, "compressing frame")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing zlib writer")
	}
	return append([]byte{0x01}, zbuf.Bytes()...), nil
}

type encoder struct {
	buf *bytes.Buffer
}

func (e *encoder) writeNode(n Node) error {
	numAttrs := len(n.Attrs)
	contentPresent := n.Content != nil
	total := 1 + 2*numAttrs
	if contentPresent {
		total++
	}
	e.writeListHeader(total)

	if err := e.writeString(n.Tag); err != nil {
		return errors.Wrapf(err, "tag %q", n.Tag)
	}

	keys := make([]string, 0, numAttrs)
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := e.writeString(k); err != nil {
			return err
		}
		if err := e.writeString(n.Attrs[k]); err != nil {
			return err
		}
	}

	if !contentPresent {
		return nil
	}
	return e.writeContent(n.Content)
}

func (e *encoder) writeContent(content interface{}) error {
	switch v := content.(type) {
	case []Node:
		e.writeListHeader(len(v))
		for _, child := range v {
			if err := e.writeNode(child); err != nil {
				return err
			}
		}
		return nil
	case []byte:
		return e.writeBinary(v)
	default:
		return errors.Errorf("unsupported content type %T", content)
	}
}

func (e *encoder) writeListHeader(n int) {
	switch {
	case n == 0:
		e.buf.WriteByte(opcodeListEmpty)
	case n < 256:
		e.buf.WriteByte(opcodeList8)
		e.buf.WriteByte(byte(n))
	default:
		e.buf.WriteByte(opcodeList16)
		e.writeUint16(uint16(n))
	}
}

// writeString writes a string using, in priority order: the JID escape
// forms, the single-byte token dictionary, the double-byte token
// dictionaries, and finally the length-prefixed literal escape.
func (e *encoder) writeString(s string) error {
	if j, ok := tryParseStructuredJID(s); ok {
		return e.writeJID(j)
	}
	if opcode, ok := lookupSingleByte(s); ok {
		e.buf.WriteByte(opcode)
		return nil
	}
	if dict, idx, ok := lookupDoubleByte(s); ok {
		e.buf.WriteByte(opcodeDict0 + dict)
		e.buf.WriteByte(idx)
		return nil
	}
	return e.writeLiteralString(s)
}

// tryParseStructuredJID reports whether s is shaped like a JID ("user@server"
// or "user:device@server") worth the compact JID encoding. Plain dictionary
// words never contain '@', so this never misfires on tokens.
func tryParseStructuredJID(s string) (jid.JID, bool) {
	hasAt := false
	for _, c := range s {
		if c == '@' {
			hasAt = true
			break
		}
	}
	if !hasAt {
		return jid.JID{}, false
	}
	j, err := jid.Parse(s)
	if err != nil {
		return jid.JID{}, false
	}
	return j, true
}

func (e *encoder) writeJID(j jid.JID) error {
	if j.Device == 0 && j.Agent == 0 {
		e.buf.WriteByte(opcodeJIDPair)
		if err := e.writeString(j.User); err != nil {
			return err
		}
		return e.writeString(j.Server)
	}
	e.buf.WriteByte(opcodeADJID)
	e.buf.WriteByte(j.Agent)
	e.writeUint16(j.Device)
	if err := e.writeString(j.User); err != nil {
		return err
	}
	return e.writeString(j.Server)
}

func (e *encoder) writeLiteralString(s string) error {
	return e.writeLengthPrefixed([]byte(s), opcodeString8, opcodeString16, opcodeString32)
}

func (e *encoder) writeBinary(b []byte) error {
	return e.writeLengthPrefixed(b, opcodeBinary8, opcodeBinary20, opcodeBinary32)
}

func (e *encoder) writeLengthPrefixed(b []byte, op8, op20, op32 byte) error {
	n := len(b)
	switch {
	case n < 256:
		e.buf.WriteByte(op8)
		e.buf.WriteByte(byte(n))
	case n < 1<<20:
		e.buf.WriteByte(op20)
		e.writeUint20(uint32(n))
	case uint64(n) < 1<<32:
		e.buf.WriteByte(op32)
		e.writeUint32(uint32(n))
	default:
		return errors.Errorf("content too large: %d bytes", n)
	}
	e.buf.Write(b)
	return nil
}

func (e *encoder) writeUint16(v uint16) {
	e.buf.WriteByte(byte(v >> 8))
	e.buf.WriteByte(byte(v))
}

func (e *encoder) writeUint20(v uint32) {
	e.buf.WriteByte(byte(v >> 16))
	e.buf.WriteByte(byte(v >> 8))
	e.buf.WriteByte(byte(v))
}

func (e *encoder) writeUint32(v uint32) {
	e.buf.WriteByte(byte(v >> 24))
	e.buf.WriteByte(byte(v >> 16))
	e.buf.WriteByte(byte(v >> 8))
	e.buf.WriteByte(byte(v))
}
