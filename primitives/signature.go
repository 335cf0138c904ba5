package primitives

import "encoding/hex"

// SignatureAlgo identifies which signature scheme a Signature/PublicKey
// value carries, since the two schemes have different wire widths.
type SignatureAlgo uint8

const (
	// AlgoEd25519 signs account-level transactions (64-byte signature).
	AlgoEd25519 SignatureAlgo = iota
	// AlgoBLS signs consensus votes/proposals/aggregates (96-byte signature).
	AlgoBLS
)

const (
	Ed25519SignatureSize = 64
	Ed25519PublicKeySize = 32
	BLSSignatureSize     = 96
	BLSPublicKeySize     = 48
)

// Signature is a variable-width signature value; its length determines
// which scheme produced it (64 bytes => Ed25519, 96 bytes => BLS).
type Signature struct {
	Algo SignatureAlgo
	Raw  []byte
}

func (s Signature) String() string { return "0x" + hex.EncodeToString(s.Raw) }

// PublicKey is a variable-width public key value, paired with Signature.
type PublicKey struct {
	Algo SignatureAlgo
	Raw  []byte
}

func (p PublicKey) String() string { return "0x" + hex.EncodeToString(p.Raw) }

// NewEd25519Signature wraps a 64-byte Ed25519 signature.
func NewEd25519Signature(raw []byte) Signature { return Signature{Algo: AlgoEd25519, Raw: raw} }

// NewBLSSignature wraps a 96-byte BLS signature.
func NewBLSSignature(raw []byte) Signature { return Signature{Algo: AlgoBLS, Raw: raw} }
