package consensus

import (
	"sync"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/primitives"
)

// EpochManager freezes the active validator set, leader-schedule seed
// and total stake at each epoch boundary (block height a multiple of
// EpochLength), per spec §4.6: "stake deposits and validator
// registrations submitted during epoch e take effect at the start of
// e+1". Queries between boundaries return the same frozen ActiveSet
// regardless of state mutations happening underneath it.
type EpochManager struct {
	mu          sync.Mutex
	epochLength uint64
	source      ValidatorSource
	slasher     Slasher

	epoch  uint64
	active *ActiveSet
}

// NewEpochManager constructs a manager with no active snapshot yet;
// the first call to Active(height) takes the snapshot for height's epoch.
func NewEpochManager(epochLength uint64, source ValidatorSource, slasher Slasher) *EpochManager {
	if epochLength == 0 {
		epochLength = 1
	}
	return &EpochManager{epochLength: epochLength, source: source, slasher: slasher}
}

func epochSeed(epoch uint64) primitives.Hash {
	w := primitives.NewWriter(16)
	w.PutUint64(epoch)
	w.PutFixed([]byte("epoch-seed"))
	return crypto.Hash(w.Bytes())
}

// Active returns the ActiveSet frozen for height's epoch, taking a
// fresh snapshot from the ValidatorSource the first time a height in a
// new epoch is observed.
func (m *EpochManager) Active(height uint64) (*ActiveSet, error) {
	epoch := height / m.epochLength
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.Epoch == epoch {
		return m.active, nil
	}
	validators, err := m.source.AllValidators()
	if err != nil {
		return nil, err
	}
	set := NewActiveSet(epoch, epochSeed(epoch), validators)
	m.epoch = epoch
	m.active = set
	return set, nil
}

// CurrentEpoch returns the last epoch a snapshot was taken for.
func (m *EpochManager) CurrentEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Slash delegates to the underlying Slasher; the resulting stake/
// deactivation change is only visible in the ActiveSet once the next
// epoch boundary re-snapshots the ValidatorSource.
func (m *EpochManager) Slash(validator primitives.Address, kind SlashKind) error {
	return m.slasher.Slash(validator, kind)
}

var _ AuthoritySet = (*EpochManager)(nil)
