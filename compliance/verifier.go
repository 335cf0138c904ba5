// Package compliance implements the production compliance verifier spec
// §4.8 names: a Groth16-shaped proof checker with a per-contract
// requirement registry and a per-block nullifier set, grounded on
// core/compliance.go's ComplianceEngine (trusted-issuer registry,
// singleton collaborator the executor calls through an interface rather
// than inline logic).
package compliance

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/errs"
	"github.com/meridianchain/meridian-node/execution"
	"github.com/meridianchain/meridian-node/primitives"
)

// Verifier is the production execution.ComplianceVerifier implementation:
// it holds a registry of Groth16 verifying keys (one per proof schema),
// a per-contract set of required schemas, and a per-block nullifier set
// that VerifyProofs consults and ResetNullifiers clears.
//
// The proof-system math itself (curve arithmetic, witness construction)
// is delegated entirely to gnark — this type's job is wiring: matching
// proofs to requirements, rejecting duplicate nullifiers within a block,
// and calling groth16.Verify with the registered key.
type Verifier struct {
	mu           sync.RWMutex
	verifyingKey map[uint32]groth16.VerifyingKey
	requirements map[primitives.Address][]execution.Requirement
	nullifiers   map[[32]byte]struct{}
}

// NewVerifier returns a Verifier with empty registries.
func NewVerifier() *Verifier {
	return &Verifier{
		verifyingKey: make(map[uint32]groth16.VerifyingKey),
		requirements: make(map[primitives.Address][]execution.Requirement),
		nullifiers:   make(map[[32]byte]struct{}),
	}
}

var _ execution.ComplianceVerifier = (*Verifier)(nil)

// RegisterVerifyingKey loads a BN254 Groth16 verifying key (as produced
// by a circuit's trusted setup, serialized with gnark's native binary
// encoding) for the given proof schema. Proofs submitted under schemaID
// are checked against this key from then on.
func (v *Verifier) RegisterVerifyingKey(schemaID uint32, vkBytes []byte) error {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return fmt.Errorf("compliance: parse verifying key for schema %d: %w", schemaID, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verifyingKey[schemaID] = vk
	return nil
}

// RequireProof adds req to the set of requirements contract imposes on
// every incoming transaction. Requirements accumulate; there is no
// unregister, matching the append-only registration style of
// execution/staking.go's validator index.
func (v *Verifier) RequireProof(contract primitives.Address, req execution.Requirement) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requirements[contract] = append(v.requirements[contract], req)
}

// GetRequirements implements execution.ComplianceVerifier.
func (v *Verifier) GetRequirements(contract primitives.Address) ([]execution.Requirement, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	reqs := v.requirements[contract]
	if len(reqs) == 0 {
		return nil, nil
	}
	out := make([]execution.Requirement, len(reqs))
	copy(out, reqs)
	return out, nil
}

// ResetNullifiers implements execution.ComplianceVerifier, called at
// every block boundary per spec §4.8 — nullifiers guard only against
// intra-block duplicate proof usage, never cross-block replay.
func (v *Verifier) ResetNullifiers() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nullifiers = make(map[[32]byte]struct{})
}

// nullifierOf derives a per-block-unique identifier for a proof from its
// schema and payload, so the same proof cannot be replayed twice within
// one block while distinct proofs never collide.
func nullifierOf(p primitives.Proof) [32]byte {
	buf := make([]byte, 4+len(p.Payload))
	binary.BigEndian.PutUint32(buf, p.SchemaID)
	copy(buf[4:], p.Payload)
	return [32]byte(crypto.Hash(buf))
}

// VerifyProofs implements execution.ComplianceVerifier. For every
// requirement it looks for a matching proof by SchemaID, rejects a
// nullifier already consumed earlier in the block, and — when a
// verifying key is registered for that schema — verifies the Groth16
// proof itself. A schema with no registered key is accepted once a
// matching proof is present, since the circuit-specific math for that
// schema is outside this package's scope (spec §1).
func (v *Verifier) VerifyProofs(proofs []primitives.Proof, requirements []execution.Requirement, blockTimestamp int64) (execution.Outcome, error) {
	if len(requirements) == 0 {
		return execution.AllowedOutcome, nil
	}
	if len(proofs) == 0 {
		return execution.FailedOutcome(errs.KindComplianceProofMissing, "compliance: no proofs attached"), nil
	}

	bySchema := make(map[uint32]primitives.Proof, len(proofs))
	for _, p := range proofs {
		bySchema[p.SchemaID] = p
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, req := range requirements {
		proof, ok := bySchema[req.SchemaID]
		if !ok {
			return execution.FailedOutcome(errs.KindComplianceProofMissing,
				fmt.Sprintf("compliance: missing proof for schema %d", req.SchemaID)), nil
		}

		null := nullifierOf(proof)
		if _, seen := v.nullifiers[null]; seen {
			return execution.FailedOutcome(errs.KindComplianceDuplicateNullifier,
				fmt.Sprintf("compliance: nullifier already used this block for schema %d", req.SchemaID)), nil
		}

		vk, hasKey := v.verifyingKey[req.SchemaID]
		if hasKey {
			ok, err := verifyGroth16(vk, proof.Payload)
			if err != nil {
				return execution.Outcome{}, fmt.Errorf("compliance: verify schema %d: %w", req.SchemaID, err)
			}
			if !ok {
				return execution.FailedOutcome(errs.KindComplianceProofInvalid,
					fmt.Sprintf("compliance: proof rejected for schema %d", req.SchemaID)), nil
			}
		}

		v.nullifiers[null] = struct{}{}
	}
	return execution.AllowedOutcome, nil
}

// verifyGroth16 splits payload into a serialized Groth16 proof followed
// by a serialized public witness (both using gnark's native binary
// encoding) and checks the proof against vk. The wire split is this
// package's own convention, since primitives.Proof.Payload is opaque to
// everything upstream of here: a 4-byte big-endian length prefix gives
// the proof's byte length, and the remainder is the witness.
func verifyGroth16(vk groth16.VerifyingKey, payload []byte) (bool, error) {
	if len(payload) < 4 {
		return false, fmt.Errorf("payload too short for proof length prefix")
	}
	proofLen := binary.BigEndian.Uint32(payload[:4])
	rest := payload[4:]
	if uint32(len(rest)) < proofLen {
		return false, fmt.Errorf("payload shorter than declared proof length")
	}
	proofBytes, witnessBytes := rest[:proofLen], rest[proofLen:]

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false, fmt.Errorf("parse proof: %w", err)
	}

	pubWitness, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return false, fmt.Errorf("allocate witness: %w", err)
	}
	if _, err := pubWitness.ReadFrom(bytes.NewReader(witnessBytes)); err != nil {
		return false, fmt.Errorf("parse public witness: %w", err)
	}

	if err := groth16.Verify(proof, vk, pubWitness); err != nil {
		return false, nil
	}
	return true, nil
}
