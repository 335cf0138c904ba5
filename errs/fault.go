// Package errs defines the uniform error-kind taxonomy used across
// admission, execution and consensus, mirroring the teacher's sentinel
// error idiom (core/storage.go's ErrUnauthorized/ErrInvalidState,
// core/cross_chain.go's ErrNotFound) but structured so callers can branch
// on a Kind without string-matching error text.
package errs

import "fmt"

// Kind enumerates the error categories spec §7 names.
type Kind uint8

const (
	KindUnknown Kind = iota

	// Structural
	KindDecodeError
	KindOversizedInput
	KindInvalidSignature
	KindChainIDMismatch
	KindInvalidExtraData

	// Mempool / admission
	KindDuplicateTransaction
	KindNonceTooLow
	KindNonceGap
	KindFeeBelowBase
	KindInsufficientFunds
	KindMempoolFull

	// Execution
	KindOutOfGas
	KindInvalidNonce
	KindRevertedByContract
	KindCallDepthExceeded
	KindReentrancy
	KindUnknownSelector

	// Consensus
	KindProposalFromWrongLeader
	KindParentMismatch
	KindViewTooOld
	KindDuplicateVote
	KindEquivocationEvidence
	KindQuorumNotReached

	// Storage
	KindUncommittedBatch
	KindStateRootMismatch
	KindMissingTrieNode

	// Compliance
	KindComplianceProofMissing
	KindComplianceProofInvalid
	KindComplianceDuplicateNullifier
)

func (k Kind) String() string {
	switch k {
	case KindDecodeError:
		return "DecodeError"
	case KindOversizedInput:
		return "OversizedInput"
	case KindInvalidSignature:
		return "InvalidSignature"
	case KindChainIDMismatch:
		return "ChainIdMismatch"
	case KindInvalidExtraData:
		return "InvalidExtraData"
	case KindDuplicateTransaction:
		return "DuplicateTransaction"
	case KindNonceTooLow:
		return "NonceTooLow"
	case KindNonceGap:
		return "NonceGap"
	case KindFeeBelowBase:
		return "FeeBelowBase"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindMempoolFull:
		return "MempoolFull"
	case KindOutOfGas:
		return "OutOfGas"
	case KindInvalidNonce:
		return "InvalidNonce"
	case KindRevertedByContract:
		return "RevertedByContract"
	case KindCallDepthExceeded:
		return "CallDepthExceeded"
	case KindReentrancy:
		return "Reentrancy"
	case KindUnknownSelector:
		return "UnknownSelector"
	case KindProposalFromWrongLeader:
		return "ProposalFromWrongLeader"
	case KindParentMismatch:
		return "ParentMismatch"
	case KindViewTooOld:
		return "ViewTooOld"
	case KindDuplicateVote:
		return "DuplicateVote"
	case KindEquivocationEvidence:
		return "EquivocationEvidence"
	case KindQuorumNotReached:
		return "QuorumNotReached"
	case KindUncommittedBatch:
		return "UncommittedBatch"
	case KindStateRootMismatch:
		return "StateRootMismatch"
	case KindMissingTrieNode:
		return "MissingTrieNode"
	case KindComplianceProofMissing:
		return "ComplianceProofMissing"
	case KindComplianceProofInvalid:
		return "ComplianceProofInvalid"
	case KindComplianceDuplicateNullifier:
		return "ComplianceDuplicateNullifier"
	default:
		return "Unknown"
	}
}

// Fault wraps an underlying error with the Kind a caller should branch on,
// matching errors.Is/errors.As semantics via Unwrap.
type Fault struct {
	Kind Kind
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// New constructs a Fault wrapping msg formatted as an error.
func New(kind Kind, msg string) *Fault {
	return &Fault{Kind: kind, Err: fmt.Errorf("%s", msg)}
}

// Wrap constructs a Fault wrapping an existing error.
func Wrap(kind Kind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

// Is reports whether err is a *Fault of the given kind.
func Is(err error, kind Kind) bool {
	f, ok := err.(*Fault)
	return ok && f.Kind == kind
}
