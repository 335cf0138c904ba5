// Package primitives holds the fixed-width value types and the
// deterministic binary codec shared by every other package in the node:
// Hash, Address, UInt256, Signature/PublicKey, and the varint-framed
// reader/writer pair described by the wire format.
package primitives

import (
	"encoding/hex"
	"errors"
)

// HashSize is the width in bytes of a Hash.
const HashSize = 32

// Hash is a fixed-width 32-byte digest, compared byte-wise.
type Hash [HashSize]byte

// ZeroHash is the all-zero digest used as the genesis parent hash.
var ZeroHash = Hash{}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == ZeroHash }

// Bytes returns a fresh copy of the hash bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// String renders the canonical lowercase 0x-prefixed hex form.
func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

// HashFromBytes copies b into a new Hash; b must be exactly HashSize long.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errors.New("primitives: invalid hash length")
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses a canonical "0x"-prefixed hex hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	if len(s) != 2+2*HashSize || s[0] != '0' || s[1] != 'x' {
		return h, errors.New("primitives: malformed hash hex")
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// Less orders hashes byte-wise; used for deterministic tie-breaking.
func (h Hash) Less(o Hash) bool {
	for i := range h {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}
