// Package crypto wires the node's cryptographic primitives: BLAKE3 as the
// default hash, Ed25519 for account signatures, BLS12-381 for validator
// votes/aggregation, and Keccak-256 for address derivation only. Grounded
// on core/security.go and core/utility_functions.go of the teacher repo.
package crypto

import (
	"lukechampine.com/blake3"

	"github.com/meridianchain/meridian-node/primitives"
)

// Hash computes the default BLAKE3-256 digest of data.
func Hash(data []byte) primitives.Hash {
	return primitives.Hash(blake3.Sum256(data))
}

// PairHash computes BLAKE3(left || right), the building block for the
// binary Merkle roots over a block's transactions and receipts
// (node/merkle.go). state.Trie hashes whole encoded nodes with Hash.
func PairHash(left, right primitives.Hash) primitives.Hash {
	buf := make([]byte, 0, 2*primitives.HashSize)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return Hash(buf)
}

// Selector derives a built-in contract method selector: the first 4 bytes
// of BLAKE3(name), per spec §4.5/§9.
func Selector(name string) [4]byte {
	h := Hash([]byte(name))
	var sel [4]byte
	copy(sel[:], h[:4])
	return sel
}
