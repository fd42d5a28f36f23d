package binarynode

import "github.com/pkg/errors"

// ErrMalformedFrame is returned by Decode for any byte sequence that is
// not a well-formed encoding of a Node.
var ErrMalformedFrame = errors.New("malformed binary-node frame")

func malformed(context string) error {
	return errors.Wrap(ErrMalformedFrame, context)
}

func parseUint64(s string) (uint64, error) {
	var n uint64
	if s == "" {
		return 0, errors.New("empty integer")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.Errorf("not a digit: %q", s)
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}
