package consensus

import (
	"sync"

	"github.com/meridianchain/meridian-node/primitives"
)

// Slashing penalty fractions (numerator/100). Equivocation forfeits the
// full bonded stake and deactivates the validator; inactivity forfeits
// a small fraction, per spec §4.6 ("a smaller inactivity penalty
// applies").
const (
	EquivocationSlashNumerator = 100
	InactivitySlashNumerator   = 10
	SlashDenominator           = 100
)

// EquivocationEvidence is two signed Vote messages for the same
// (height, view, phase) from the same validator with different block
// hashes — proof one of the two was a double-vote.
type EquivocationEvidence struct {
	Validator primitives.Address
	First     Vote
	Second    Vote
}

type voteKey struct {
	Height    uint64
	View      uint64
	Phase     Phase
	Validator primitives.Address
}

// equivocationTracker remembers the first vote seen for each
// (height, view, phase, validator) tuple so a later conflicting vote
// can be caught as evidence. Per-height entries are dropped once a
// height commits (see EquivocationTracker.Forget).
type EquivocationTracker struct {
	mu   sync.Mutex
	seen map[voteKey]Vote
}

func NewEquivocationTracker() *EquivocationTracker {
	return &EquivocationTracker{seen: make(map[voteKey]Vote)}
}

// Observe records v and reports evidence if it conflicts with an
// earlier vote for the same (height, view, phase, validator).
func (t *EquivocationTracker) Observe(v *Vote) (*EquivocationEvidence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := voteKey{Height: v.Number, View: v.View, Phase: v.Phase, Validator: v.Voter}
	prior, ok := t.seen[key]
	if !ok {
		t.seen[key] = *v
		return nil, false
	}
	if prior.BlockHash == v.BlockHash {
		return nil, false
	}
	return &EquivocationEvidence{Validator: v.Voter, First: prior, Second: *v}, true
}

// Forget drops every tracked vote for a committed height, bounding
// memory to the in-flight pipelined window.
func (t *EquivocationTracker) Forget(height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.seen {
		if k.Height == height {
			delete(t.seen, k)
		}
	}
}

// ParticipationTracker counts, per epoch, how many committed blocks
// each validator's Commit vote contributed to (read from each block's
// CommitCertificate.VoterBitmap), to evaluate spec §4.6's inactivity
// rule at epoch end.
type ParticipationTracker struct {
	mu     sync.Mutex
	epoch  uint64
	blocks uint64
	signed map[primitives.Address]uint64
}

func NewParticipationTracker() *ParticipationTracker {
	return &ParticipationTracker{signed: make(map[primitives.Address]uint64)}
}

// RecordBlock tallies one committed block's voter bitmap against set's
// fixed validator indices, resetting counters when epoch advances.
func (t *ParticipationTracker) RecordBlock(epoch uint64, set *ActiveSet, bitmap uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch {
		t.epoch = epoch
		t.blocks = 0
		t.signed = make(map[primitives.Address]uint64)
	}
	t.blocks++
	for i, v := range set.Validators {
		if i >= 64 {
			break
		}
		if bitmap&(uint64(1)<<uint(i)) != 0 {
			t.signed[v.Address]++
		}
	}
}

// Inactive returns the validators in set whose participation over the
// tracked epoch fell below thresholdPercent.
func (t *ParticipationTracker) Inactive(set *ActiveSet, thresholdPercent uint64) []primitives.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.blocks == 0 {
		return nil
	}
	var out []primitives.Address
	for _, v := range set.Validators {
		pct := t.signed[v.Address] * 100 / t.blocks
		if pct < thresholdPercent {
			out = append(out, v.Address)
		}
	}
	return out
}
