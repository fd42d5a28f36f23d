package binarynode

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/pkg/errors"
)

// Decode is the inverse of Encode: total over well-formed input, it
// fails with ErrMalformedFrame (wrapped with context) otherwise.
func Decode(raw []byte) (Node, error) {
	if len(raw) == 0 {
		return Node{}, malformed("empty frame")
	}

	body := raw[1:]
	if raw[0] == 0x01 {
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return Node{}, malformed("invalid zlib stream")
		}
		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return Node{}, malformed("truncated zlib stream")
		}
		body = decompressed
	} else if raw[0] != 0x00 {
		return Node{}, malformed("unknown framing byte")
	}

	d := &decoder{buf: body}
	n, err := d.readNode()
	if err != nil {
		return Node{}, err
	}
	if d.pos != len(d.buf) {
		return Node{}, malformed("trailing bytes after node")
	}
	return n, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, malformed("unexpected end of frame")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, malformed("unexpected end of frame")
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readUint16() (uint16, error) {
	b, err := d.readBytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (d *decoder) readUint20() (uint32, error) {
	b, err := d.readBytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

func (d *decoder) readUint32() (uint32, error) {
	b, err := d.readBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func (d *decoder) readListHeader() (int, error) {
	op, err := d.readByte()
	if err != nil {
		return 0, err
	}
	switch op {
	case opcodeListEmpty:
		return 0, nil
	case opcodeList8:
		n, err := d.readByte()
		return int(n), err
	case opcodeList16:
		n, err := d.readUint16()
		return int(n), err
	default:
		return 0, malformed("expected list header")
	}
}

func (d *decoder) readNode() (Node, error) {
	total, err := d.readListHeader()
	if err != nil {
		return Node{}, errors.Wrap(err, "node header")
	}
	if total < 1 {
		return Node{}, malformed("node list too short")
	}

	tag, err := d.readString()
	if err != nil {
		return Node{}, errors.Wrap(err, "node tag")
	}

	remaining := total - 1
	contentPresent := remaining%2 == 1
	attrCount := remaining / 2

	attrs := Attrs{}
	for i := 0; i < attrCount; i++ {
		k, err := d.readString()
		if err != nil {
			return Node{}, errors.Wrap(err, "attr key")
		}
		v, err := d.readString()
		if err != nil {
			return Node{}, errors.Wrap(err, "attr value")
		}
		attrs[k] = v
	}

	var content interface{}
	if contentPresent {
		content, err = d.readContent()
		if err != nil {
			return Node{}, errors.Wrap(err, "node content")
		}
	}

	return Node{Tag: tag, Attrs: attrs, Content: content}, nil
}

func (d *decoder) readContent() (interface{}, error) {
	if d.pos >= len(d.buf) {
		return nil, malformed("unexpected end of frame")
	}
	switch d.buf[d.pos] {
	case opcodeListEmpty, opcodeList8, opcodeList16:
		n, err := d.readListHeader()
		if err != nil {
			return nil, err
		}
		nodes := make([]Node, 0, n)
		for i := 0; i < n; i++ {
			child, err := d.readNode()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, child)
		}
		return nodes, nil
	case opcodeBinary8, opcodeBinary20, opcodeBinary32:
		return d.readBinary()
	default:
		// A bare string/token used as leaf text content.
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
}

// readString is the inverse of encoder.writeString: it dispatches on the
// opcode to the JID forms, the two token dictionaries, or the literal
// length-prefixed escape.
func (d *decoder) readString() (string, error) {
	op, err := d.readByte()
	if err != nil {
		return "", err
	}
	switch op {
	case opcodeJIDPair:
		user, err := d.readString()
		if err != nil {
			return "", errors.Wrap(err, "jid-pair user")
		}
		server, err := d.readString()
		if err != nil {
			return "", errors.Wrap(err, "jid-pair server")
		}
		return jidString(user, 0, 0, server), nil
	case opcodeADJID:
		agent, err := d.readByte()
		if err != nil {
			return "", errors.Wrap(err, "ad-jid agent")
		}
		device, err := d.readUint16()
		if err != nil {
			return "", errors.Wrap(err, "ad-jid device")
		}
		user, err := d.readString()
		if err != nil {
			return "", errors.Wrap(err, "ad-jid user")
		}
		server, err := d.readString()
		if err != nil {
			return "", errors.Wrap(err, "ad-jid server")
		}
		return jidString(user, agent, device, server), nil
	case opcodeDict0, opcodeDict1, opcodeDict2, opcodeDict3:
		idx, err := d.readByte()
		if err != nil {
			return "", err
		}
		tok, ok := doubleByteToken(op-opcodeDict0, idx)
		if !ok {
			return "", malformed("double-byte token out of range")
		}
		return tok, nil
	case opcodeString8, opcodeString16, opcodeString32:
		d.pos-- // let readLengthPrefixed re-read the opcode
		b, err := d.readLengthPrefixed(opcodeString8, opcodeString16, opcodeString32)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		tok, ok := singleByteToken(op)
		if !ok {
			return "", malformed("unknown single-byte token opcode")
		}
		return tok, nil
	}
}

func (d *decoder) readBinary() ([]byte, error) {
	return d.readLengthPrefixed(opcodeBinary8, opcodeBinary20, opcodeBinary32)
}

func (d *decoder) readLengthPrefixed(op8, op20, op32 byte) ([]byte, error) {
	op, err := d.readByte()
	if err != nil {
		return nil, err
	}
	var n int
	switch op {
	case op8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		n = int(b)
	case op20:
		v, err := d.readUint20()
		if err != nil {
			return nil, err
		}
		n = int(v)
	case op32:
		v, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		n = int(v)
	default:
		return nil, malformed("expected length-prefixed escape")
	}
	return d.readBytes(n)
}

func jidString(user string, agent uint8, device uint16, server string) string {
	if agent == 0 && device == 0 {
		if user == "" {
			return server
		}
		return user + "@" + server
	}
	return user + ":" + itoa(int(device)) + "@" + server
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
