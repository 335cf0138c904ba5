package primitives

import (
	"errors"

	hu256 "github.com/holiman/uint256"
)

// UInt256 is a 256-bit unsigned integer with both wrapping and checked
// arithmetic, backed by github.com/holiman/uint256 (the pack's own choice
// for this type — erigon, ssz and zk-chains all carry it transitively).
type UInt256 struct {
	v hu256.Int
}

// ErrOverflow is returned by checked arithmetic that would wrap.
var ErrOverflow = errors.New("primitives: uint256 overflow")

// ZeroUInt256 is the additive identity.
func ZeroUInt256() UInt256 { return UInt256{} }

// NewUInt256FromUint64 builds a UInt256 from a native uint64.
func NewUInt256FromUint64(v uint64) UInt256 {
	return UInt256{v: *hu256.NewInt(v)}
}

// UInt256FromBytes32 interprets b (big-endian, 32 bytes) as a UInt256.
func UInt256FromBytes32(b [32]byte) UInt256 {
	var u UInt256
	u.v.SetBytes(b[:])
	return u
}

// Bytes32 renders the value as a big-endian 32-byte array — the canonical
// storage/wire representation for Account.balance and similar fields.
func (u UInt256) Bytes32() [32]byte { return u.v.Bytes32() }

// Uint64 returns the low 64 bits; callers must ensure the value fits.
func (u UInt256) Uint64() uint64 { return u.v.Uint64() }

// IsZero reports whether u is zero.
func (u UInt256) IsZero() bool { return u.v.IsZero() }

// Cmp compares u to o: -1, 0, +1.
func (u UInt256) Cmp(o UInt256) int { return u.v.Cmp(&o.v) }

// Add returns u+o, wrapping on overflow (mod 2^256).
func (u UInt256) Add(o UInt256) UInt256 {
	var r UInt256
	r.v.Add(&u.v, &o.v)
	return r
}

// CheckedAdd returns u+o, or ErrOverflow if the sum exceeds 2^256-1.
func (u UInt256) CheckedAdd(o UInt256) (UInt256, error) {
	var r UInt256
	_, overflow := r.v.AddOverflow(&u.v, &o.v)
	if overflow {
		return UInt256{}, ErrOverflow
	}
	return r, nil
}

// Sub returns u-o, wrapping on underflow (mod 2^256).
func (u UInt256) Sub(o UInt256) UInt256 {
	var r UInt256
	r.v.Sub(&u.v, &o.v)
	return r
}

// CheckedSub returns u-o, or ErrOverflow if o > u.
func (u UInt256) CheckedSub(o UInt256) (UInt256, error) {
	var r UInt256
	_, underflow := r.v.SubOverflow(&u.v, &o.v)
	if underflow {
		return UInt256{}, ErrOverflow
	}
	return r, nil
}

// Mul returns u*o, wrapping on overflow.
func (u UInt256) Mul(o UInt256) UInt256 {
	var r UInt256
	r.v.Mul(&u.v, &o.v)
	return r
}

// CheckedMul returns u*o, or ErrOverflow on overflow.
func (u UInt256) CheckedMul(o UInt256) (UInt256, error) {
	var r UInt256
	_, overflow := r.v.MulOverflow(&u.v, &o.v)
	if overflow {
		return UInt256{}, ErrOverflow
	}
	return r, nil
}

// Div returns the floor of u/o; Div by zero returns zero (matches
// holiman/uint256's EVM-style semantics, never panics).
func (u UInt256) Div(o UInt256) UInt256 {
	var r UInt256
	r.v.Div(&u.v, &o.v)
	return r
}

// String renders the value in base-10.
func (u UInt256) String() string { return u.v.String() }

// Min returns the lesser of a and b.
func MinUInt256(a, b UInt256) UInt256 {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the greater of a and b.
func MaxUInt256(a, b UInt256) UInt256 {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
