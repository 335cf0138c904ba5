package crypto

import (
	"crypto/ed25519"

	"golang.org/x/crypto/sha3"

	"github.com/meridianchain/meridian-node/primitives"
)

// DeriveAddress converts a 32-byte Ed25519 public key into a 20-byte
// account address: the last 20 bytes of Keccak256(pubkey). Keccak-256 is
// used for this single purpose per spec §4.2 — every other hash in the
// system is BLAKE3.
func DeriveAddress(pub ed25519.PublicKey) primitives.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub)
	sum := h.Sum(nil)
	var addr primitives.Address
	copy(addr[:], sum[len(sum)-primitives.AddressSize:])
	return addr
}
