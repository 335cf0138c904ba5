package compliance

import (
	"testing"

	"github.com/meridianchain/meridian-node/errs"
	"github.com/meridianchain/meridian-node/execution"
	"github.com/meridianchain/meridian-node/primitives"
)

func TestVerifyProofsAllowedWhenNoRequirements(t *testing.T) {
	v := NewVerifier()
	outcome, err := v.VerifyProofs(nil, nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Allowed {
		t.Fatalf("expected allowed outcome, got %+v", outcome)
	}
}

func TestVerifyProofsMissingProof(t *testing.T) {
	v := NewVerifier()
	reqs := []execution.Requirement{{SchemaID: 7, IssuerTier: 1, Description: "kyc-tier-1"}}

	outcome, err := v.VerifyProofs(nil, reqs, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Allowed || outcome.FailKind != errs.KindComplianceProofMissing {
		t.Fatalf("expected ComplianceProofMissing, got %+v", outcome)
	}
}

func TestVerifyProofsUnregisteredSchemaAcceptsPresentProof(t *testing.T) {
	v := NewVerifier()
	reqs := []execution.Requirement{{SchemaID: 7}}
	proofs := []primitives.Proof{{SchemaID: 7, Payload: []byte("whatever")}}

	outcome, err := v.VerifyProofs(proofs, reqs, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Allowed {
		t.Fatalf("expected allowed outcome for schema with no registered key, got %+v", outcome)
	}
}

func TestVerifyProofsDuplicateNullifierWithinBlock(t *testing.T) {
	v := NewVerifier()
	reqs := []execution.Requirement{{SchemaID: 7}}
	proofs := []primitives.Proof{{SchemaID: 7, Payload: []byte("same-proof")}}

	first, err := v.VerifyProofs(proofs, reqs, 0)
	if err != nil || !first.Allowed {
		t.Fatalf("first use should be allowed, got %+v err=%v", first, err)
	}

	second, err := v.VerifyProofs(proofs, reqs, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Allowed || second.FailKind != errs.KindComplianceDuplicateNullifier {
		t.Fatalf("expected ComplianceDuplicateNullifier, got %+v", second)
	}
}

func TestResetNullifiersClearsBlockState(t *testing.T) {
	v := NewVerifier()
	reqs := []execution.Requirement{{SchemaID: 7}}
	proofs := []primitives.Proof{{SchemaID: 7, Payload: []byte("same-proof")}}

	if _, err := v.VerifyProofs(proofs, reqs, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v.ResetNullifiers()

	outcome, err := v.VerifyProofs(proofs, reqs, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Allowed {
		t.Fatalf("expected allowed outcome after reset, got %+v", outcome)
	}
}

func TestRequireProofAndGetRequirements(t *testing.T) {
	v := NewVerifier()
	contract := primitives.ModuleAddress("token")
	v.RequireProof(contract, execution.Requirement{SchemaID: 3, IssuerTier: 2, Description: "accredited-investor"})
	v.RequireProof(contract, execution.Requirement{SchemaID: 4})

	reqs, err := v.GetRequirements(contract)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(reqs))
	}

	other := primitives.ModuleAddress("staking")
	reqs, err = v.GetRequirements(other)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("expected no requirements for unregistered contract, got %d", len(reqs))
	}
}
