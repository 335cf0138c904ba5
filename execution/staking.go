package execution

import (
	"encoding/binary"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/errs"
	"github.com/meridianchain/meridian-node/primitives"
	"github.com/meridianchain/meridian-node/state"
)

// StakingContractAddress is the well-known system-contract address stake
// and validator-registration transaction kinds mutate directly, per spec
// §4.5 step 5 ("stake/validator kinds mutate the staking contract's
// storage"). Dispatch here is by transaction kind, not by selector — the
// staking contract has no ABI of its own, unlike the token template.
var StakingContractAddress = primitives.ModuleAddress("staking")

func stakeSlot(validator primitives.Address) [32]byte {
	var buf [primitives.AddressSize + 5]byte
	copy(buf[:], validator[:])
	copy(buf[primitives.AddressSize:], "stake")
	return [32]byte(crypto.Hash(buf[:]))
}

func unbondSlot(validator primitives.Address) [32]byte {
	var buf [primitives.AddressSize + 6]byte
	copy(buf[:], validator[:])
	copy(buf[primitives.AddressSize:], "unbond")
	return [32]byte(crypto.Hash(buf[:]))
}

func registeredSlot(validator primitives.Address) [32]byte {
	var buf [primitives.AddressSize + 3]byte
	copy(buf[:], validator[:])
	copy(buf[primitives.AddressSize:], "reg")
	return [32]byte(crypto.Hash(buf[:]))
}

// validatorCountSlot and validatorIndexSlot back a simple append-only
// index of every address that has ever registered, so the epoch manager
// can enumerate validators without iterating the trie (the flat
// keyspace is content-addressed by slot hash, not ordered).
func validatorCountSlot() [32]byte {
	return [32]byte(crypto.Hash([]byte("staking:validator_count")))
}

func validatorIndexSlot(i uint64) [32]byte {
	var buf [8 + 14]byte
	binary.LittleEndian.PutUint64(buf[:8], i)
	copy(buf[8:], "validator_idx")
	return [32]byte(crypto.Hash(buf[:]))
}

func validatorCount(cache *state.Cache) (uint64, error) {
	raw, err := cache.GetStorage(StakingContractAddress, validatorCountSlot())
	if err != nil || raw == nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// readStake returns validator's currently bonded stake.
func readStake(cache *state.Cache, validator primitives.Address) (primitives.UInt256, error) {
	raw, err := cache.GetStorage(StakingContractAddress, stakeSlot(validator))
	if err != nil {
		return primitives.UInt256{}, err
	}
	if raw == nil {
		return primitives.ZeroUInt256(), nil
	}
	var arr [32]byte
	copy(arr[:], raw)
	return primitives.UInt256FromBytes32(arr), nil
}

// StakeDeposit credits amount to validator's bonded stake.
func StakeDeposit(cache *state.Cache, validator primitives.Address, amount primitives.UInt256) error {
	cur, err := readStake(cache, validator)
	if err != nil {
		return err
	}
	next, err := cur.CheckedAdd(amount)
	if err != nil {
		return errs.New(errs.KindRevertedByContract, "execution: stake deposit overflow")
	}
	b := next.Bytes32()
	cache.PutStorage(StakingContractAddress, stakeSlot(validator), b[:])
	return nil
}

// unbondRecord packs (amount, maturity_height) into 40 bytes.
func encodeUnbond(amount primitives.UInt256, maturity uint64) []byte {
	b := amount.Bytes32()
	out := make([]byte, 40)
	copy(out, b[:])
	binary.LittleEndian.PutUint64(out[32:], maturity)
	return out
}

func decodeUnbond(raw []byte) (primitives.UInt256, uint64) {
	var arr [32]byte
	copy(arr[:], raw[:32])
	return primitives.UInt256FromBytes32(arr), binary.LittleEndian.Uint64(raw[32:40])
}

// StakeWithdrawRequest moves amount out of validator's bonded stake into
// an unbonding record that matures at blockNumber+unbondingPeriod. Only
// one outstanding unbonding request per validator is tracked at a time
// (a second request before the first matures overwrites it), matching
// the single-slot storage layout of the rest of this contract.
func StakeWithdrawRequest(cache *state.Cache, validator primitives.Address, amount primitives.UInt256, blockNumber, unbondingPeriod uint64) error {
	cur, err := readStake(cache, validator)
	if err != nil {
		return err
	}
	next, err := cur.CheckedSub(amount)
	if err != nil {
		return errs.New(errs.KindRevertedByContract, "execution: stake withdraw exceeds bonded amount")
	}
	nb := next.Bytes32()
	cache.PutStorage(StakingContractAddress, stakeSlot(validator), nb[:])
	cache.PutStorage(StakingContractAddress, unbondSlot(validator), encodeUnbond(amount, blockNumber+unbondingPeriod))
	return nil
}

// MaturedUnbondAmount returns the amount released by validator's
// outstanding unbonding request if blockNumber has reached its maturity
// height, or zero otherwise.
func MaturedUnbondAmount(cache *state.Cache, validator primitives.Address, blockNumber uint64) (primitives.UInt256, error) {
	raw, err := cache.GetStorage(StakingContractAddress, unbondSlot(validator))
	if err != nil || raw == nil {
		return primitives.ZeroUInt256(), err
	}
	amount, maturity := decodeUnbond(raw)
	if blockNumber < maturity {
		return primitives.ZeroUInt256(), nil
	}
	return amount, nil
}

// RegisterValidator marks validator as registered, records the BLS
// public key (spec §6's validator identity the consensus package signs
// votes against) it submits in its TxValidatorRegister payload, and
// credits its initial stake in one step. Registrations submitted
// mid-epoch take effect at the next epoch boundary — it is the epoch
// manager's responsibility to snapshot ListValidators only at
// epoch-begin, not this function's, since a transaction has no notion
// of "current epoch".
func RegisterValidator(cache *state.Cache, validator primitives.Address, initialStake primitives.UInt256, blsPubKey []byte) error {
	already, err := IsRegisteredValidator(cache, validator)
	if err != nil {
		return err
	}
	if !already {
		count, err := validatorCount(cache)
		if err != nil {
			return err
		}
		cache.PutStorage(StakingContractAddress, validatorIndexSlot(count), validator.Bytes())
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, count+1)
		cache.PutStorage(StakingContractAddress, validatorCountSlot(), buf)
		cache.PutStorage(StakingContractAddress, registeredSlot(validator), []byte{1})
	}
	if len(blsPubKey) > 0 {
		cache.PutStorage(StakingContractAddress, pubKeySlot(validator), blsPubKey)
	}
	return StakeDeposit(cache, validator, initialStake)
}

// IsRegisteredValidator reports whether validator has ever registered.
func IsRegisteredValidator(cache *state.Cache, validator primitives.Address) (bool, error) {
	raw, err := cache.GetStorage(StakingContractAddress, registeredSlot(validator))
	if err != nil {
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

// ListValidators returns every address that has ever registered, in
// registration order, via the append-only index RegisterValidator
// maintains.
func ListValidators(cache *state.Cache) ([]primitives.Address, error) {
	n, err := validatorCount(cache)
	if err != nil {
		return nil, err
	}
	out := make([]primitives.Address, 0, n)
	for i := uint64(0); i < n; i++ {
		raw, err := cache.GetStorage(StakingContractAddress, validatorIndexSlot(i))
		if err != nil {
			return nil, err
		}
		addr, err := primitives.AddressFromBytes(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// StakeOf returns validator's currently bonded stake (exported form of
// readStake, for the consensus epoch manager).
func StakeOf(cache *state.Cache, validator primitives.Address) (primitives.UInt256, error) {
	return readStake(cache, validator)
}

func pubKeySlot(validator primitives.Address) [32]byte {
	var buf [primitives.AddressSize + 6]byte
	copy(buf[:], validator[:])
	copy(buf[primitives.AddressSize:], "blspub")
	return [32]byte(crypto.Hash(buf[:]))
}

// ValidatorPubKey returns the BLS public key validator registered with,
// or nil if it never supplied one (e.g. a stake deposit from an address
// that never sent a TxValidatorRegister).
func ValidatorPubKey(cache *state.Cache, validator primitives.Address) ([]byte, error) {
	return cache.GetStorage(StakingContractAddress, pubKeySlot(validator))
}

func deactivatedSlot(validator primitives.Address) [32]byte {
	var buf [primitives.AddressSize + 11]byte
	copy(buf[:], validator[:])
	copy(buf[primitives.AddressSize:], "deactivated")
	return [32]byte(crypto.Hash(buf[:]))
}

// SlashValidator burns a fraction of validator's bonded stake (numerator
// of denominator, e.g. for a full equivocation slash) and marks it
// deactivated; the deactivation is read by the epoch manager and takes
// effect starting the next epoch, matching spec §4.6's slashing timing.
func SlashValidator(cache *state.Cache, validator primitives.Address, numerator, denominator uint64) (primitives.UInt256, error) {
	cur, err := readStake(cache, validator)
	if err != nil {
		return primitives.UInt256{}, err
	}
	penalty := cur.Mul(primitives.NewUInt256FromUint64(numerator)).Div(primitives.NewUInt256FromUint64(denominator))
	next, err := cur.CheckedSub(penalty)
	if err != nil {
		next = primitives.ZeroUInt256()
		penalty = cur
	}
	b := next.Bytes32()
	cache.PutStorage(StakingContractAddress, stakeSlot(validator), b[:])
	cache.PutStorage(StakingContractAddress, deactivatedSlot(validator), []byte{1})
	return penalty, nil
}

// IsDeactivated reports whether validator has been slashed into
// deactivation and not yet reactivated.
func IsDeactivated(cache *state.Cache, validator primitives.Address) (bool, error) {
	raw, err := cache.GetStorage(StakingContractAddress, deactivatedSlot(validator))
	if err != nil {
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}
