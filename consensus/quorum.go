package consensus

import (
	"sort"

	bls "github.com/herumi/bls-eth-go-binary/bls"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/primitives"
)

// Validator is one member of an epoch's active set: its stake weight,
// BLS voting key and fixed index (0..N-1) within the set's leader
// schedule and commit-certificate voter bitmap.
type Validator struct {
	Address     primitives.Address
	PubKey      *bls.PublicKey
	Stake       primitives.UInt256
	Deactivated bool
}

// ActiveSet is the validator set, leader-schedule seed and total stake
// frozen for one epoch, per spec §4.6's epoch manager.
type ActiveSet struct {
	Epoch       uint64
	Seed        primitives.Hash
	Validators  []Validator // sorted by Address, index == position
	TotalStake  primitives.UInt256
	indexByAddr map[primitives.Address]int
}

// NewActiveSet builds a frozen set from the validators active at an
// epoch boundary, excluding any marked Deactivated, sorted by address
// for a deterministic index assignment (the teacher's ListAuthorities
// has no stable order of its own, so sorting here is this package's own
// tie-break rule).
func NewActiveSet(epoch uint64, seed primitives.Hash, validators []Validator) *ActiveSet {
	filtered := make([]Validator, 0, len(validators))
	for _, v := range validators {
		if !v.Deactivated && !v.Stake.IsZero() {
			filtered = append(filtered, v)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return lessAddress(filtered[i].Address, filtered[j].Address)
	})
	total := primitives.ZeroUInt256()
	idx := make(map[primitives.Address]int, len(filtered))
	for i, v := range filtered {
		total = total.Add(v.Stake)
		idx[v.Address] = i
	}
	return &ActiveSet{Epoch: epoch, Seed: seed, Validators: filtered, TotalStake: total, indexByAddr: idx}
}

func lessAddress(a, b primitives.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// N is the number of active validators.
func (s *ActiveSet) N() int { return len(s.Validators) }

// IndexOf returns the validator's fixed bitmap/schedule index.
func (s *ActiveSet) IndexOf(addr primitives.Address) (int, bool) {
	i, ok := s.indexByAddr[addr]
	return i, ok
}

// ByAddress looks up a validator by address.
func (s *ActiveSet) ByAddress(addr primitives.Address) (Validator, bool) {
	i, ok := s.indexByAddr[addr]
	if !ok {
		return Validator{}, false
	}
	return s.Validators[i], true
}

// Quorum returns the minimum number of matching votes required for
// safety with n active validators: ceil(2n/3) + 1.
func Quorum(n int) int {
	if n == 0 {
		return 0
	}
	return (2*n+2)/3 + 1
}

// Leader returns the validator chosen to propose at (height, view),
// via stake-weighted deterministic rotation: leader(h,v) = the
// validator whose cumulative stake range contains
// H(seed‖h‖v) mod total_stake.
func Leader(set *ActiveSet, height, view uint64) (Validator, error) {
	if set.N() == 0 || set.TotalStake.IsZero() {
		return Validator{}, errNoActiveValidators
	}
	w := primitives.NewWriter(primitives.HashSize + 16)
	w.PutHash(set.Seed)
	w.PutUint64(height)
	w.PutUint64(view)
	digest := crypto.Hash(w.Bytes())

	raw := UInt256FromHash(digest)
	quotient := raw.Div(set.TotalStake)
	remainder := raw.Sub(quotient.Mul(set.TotalStake))

	cum := primitives.ZeroUInt256()
	for _, v := range set.Validators {
		cum = cum.Add(v.Stake)
		if remainder.Cmp(cum) < 0 {
			return v, nil
		}
	}
	// remainder is always below TotalStake, the sum of the validators'
	// stakes, so the loop above returns; this fallback to the last
	// validator is only reached if TotalStake disagrees with that sum.
	return set.Validators[len(set.Validators)-1], nil
}

// UInt256FromHash interprets a 32-byte hash as a big-endian UInt256,
// the same convention primitives.UInt256FromBytes32 uses for storage
// values.
func UInt256FromHash(h primitives.Hash) primitives.UInt256 {
	return primitives.UInt256FromBytes32([32]byte(h))
}
