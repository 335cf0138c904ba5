package node

import (
	"github.com/sirupsen/logrus"

	"github.com/meridianchain/meridian-node/consensus"
	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/execution"
	"github.com/meridianchain/meridian-node/mempool"
	"github.com/meridianchain/meridian-node/primitives"
	"github.com/meridianchain/meridian-node/state"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

// ValidatorSource implements consensus.ValidatorSource over the staking
// system contract (execution/staking.go), queried by the epoch manager
// only at epoch boundaries.
type ValidatorSource struct {
	cache  *state.Cache
	logger *logrus.Logger
}

func NewValidatorSource(cache *state.Cache, logger *logrus.Logger) *ValidatorSource {
	return &ValidatorSource{cache: cache, logger: logger}
}

var _ consensus.ValidatorSource = (*ValidatorSource)(nil)

// AllValidators implements consensus.ValidatorSource, skipping any
// registrant that never submitted a usable BLS public key instead of
// failing the whole snapshot — one bad registration should not stall
// every other validator's epoch rotation.
func (v *ValidatorSource) AllValidators() ([]consensus.Validator, error) {
	addrs, err := execution.ListValidators(v.cache)
	if err != nil {
		return nil, err
	}
	out := make([]consensus.Validator, 0, len(addrs))
	for _, addr := range addrs {
		stake, err := execution.StakeOf(v.cache, addr)
		if err != nil {
			return nil, err
		}
		deactivated, err := execution.IsDeactivated(v.cache, addr)
		if err != nil {
			return nil, err
		}
		raw, err := execution.ValidatorPubKey(v.cache, addr)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			v.logger.WithField("validator", addr.String()).Warn("node: skipping validator with no bls pubkey")
			continue
		}
		pub, err := crypto.DecodeBLSPubKey(raw)
		if err != nil {
			v.logger.WithError(err).WithField("validator", addr.String()).Warn("node: skipping validator with unusable bls pubkey")
			continue
		}
		out = append(out, consensus.Validator{
			Address:     addr,
			PubKey:      pub,
			Stake:       stake,
			Deactivated: deactivated,
		})
	}
	return out, nil
}

// Slasher implements consensus.Slasher over execution.SlashValidator,
// burning a fixed fraction of bonded stake per slash kind, per spec
// §4.6's two penalty classes.
type Slasher struct {
	cache *state.Cache
}

func NewSlasher(cache *state.Cache) *Slasher { return &Slasher{cache: cache} }

var _ consensus.Slasher = (*Slasher)(nil)

// Slash implements consensus.Slasher: equivocation burns the full bonded
// stake, inactivity burns 10%, matching spec §4.6's distinction between
// a safety violation and a liveness shortfall.
func (s *Slasher) Slash(validator primitives.Address, kind consensus.SlashKind) error {
	switch kind {
	case consensus.SlashEquivocation:
		_, err := execution.SlashValidator(s.cache, validator, 1, 1)
		return err
	case consensus.SlashInactivity:
		_, err := execution.SlashValidator(s.cache, validator, 1, 10)
		return err
	default:
		return nil
	}
}

// Signer implements consensus.Signer over a replica's own BLS keypair.
type Signer struct {
	address primitives.Address
	sk      *bls.SecretKey
	pub     *bls.PublicKey
}

func NewSigner(address primitives.Address, sk *bls.SecretKey, pub *bls.PublicKey) *Signer {
	return &Signer{address: address, sk: sk, pub: pub}
}

var _ consensus.Signer = (*Signer)(nil)

func (s *Signer) Address() primitives.Address { return s.address }

func (s *Signer) PublicKey() primitives.PublicKey {
	return primitives.PublicKey{Algo: primitives.AlgoBLS, Raw: s.pub.Serialize()}
}

func (s *Signer) Sign(msg []byte) primitives.Signature {
	return crypto.SignBLS(s.sk, msg)
}

// TxSource adapts mempool.Mempool to consensus.TxSource, swallowing the
// mempool's own error (a failed sender-account lookup) by logging it and
// returning no transactions, so the leader proposes an empty block rather
// than missing a proposal window entirely.
type TxSource struct {
	pool   *mempool.Mempool
	logger *logrus.Logger
}

func NewTxSource(pool *mempool.Mempool, logger *logrus.Logger) *TxSource {
	return &TxSource{pool: pool, logger: logger}
}

var _ consensus.TxSource = (*TxSource)(nil)

func (t *TxSource) Pick(max int) []*primitives.Transaction {
	txs, err := t.pool.Pending(max)
	if err != nil {
		t.logger.WithError(err).Warn("node: mempool pending lookup failed")
	}
	return txs
}
