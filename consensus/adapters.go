package consensus

import "github.com/meridianchain/meridian-node/primitives"

// TxSource supplies pending transactions to a leader building a
// proposal. Directly descended from the teacher's txPool interface in
// core/consensus.go, renamed from "Pick(max) [][]byte" to a typed
// transaction slice since this chain's mempool (C4) already decodes.
type TxSource interface {
	Pick(max int) []*primitives.Transaction
}

// Network gossips the three consensus message types and delivers
// inbound ones. Directly descended from the teacher's networkAdapter
// interface (Broadcast/Subscribe), split into typed send/receive pairs
// per message class since this chain fixes one topic per class (spec
// §4.6's domain-stack binding) rather than a single opaque topic.
type Network interface {
	BroadcastProposal(p *Proposal) error
	BroadcastVote(v *Vote) error
	BroadcastViewChange(vc *ViewChange) error
	Proposals() <-chan *Proposal
	Votes() <-chan *Vote
	ViewChanges() <-chan *ViewChange
}

// Signer produces this replica's BLS votes/proposals. Directly
// descended from the teacher's securityAdapter interface
// (Sign/Verify), narrowed to the one signing identity a replica needs
// for itself — verification of *others'* signatures is done with the
// sender's own public key, carried on the message.
type Signer interface {
	Address() primitives.Address
	PublicKey() primitives.PublicKey
	Sign(msg []byte) primitives.Signature
}

// BlockApplier is the executor/state-cache boundary: consensus never
// imports execution or state directly (mirroring the teacher's
// decision to keep core/consensus.go ignorant of any concrete ledger
// type), so the node orchestrator (C7) supplies an implementation
// wrapping an execution.Executor and a state.Cache.
type BlockApplier interface {
	// BuildBlock assembles a candidate block for number atop parentHash:
	// it runs every transaction through the executor, filling in
	// StateRoot/ReceiptsRoot/GasUsed/BaseFee, and stages (but does not
	// commit) the resulting mutations, mirroring ApplyTransaction's
	// contract that IntermediateRoot reflects the block so far.
	BuildBlock(number uint64, parentHash primitives.Hash, proposer primitives.Address, timestamp int64, txs []*primitives.Transaction) (*primitives.Block, error)
	// DecodeBlock parses proposal wire bytes into a typed block without
	// executing it — used to validate parent-hash linkage before paying
	// for pre-execution.
	DecodeBlock(data []byte) (*primitives.Block, error)
	// PreExecute runs every transaction in blk against a snapshot of the
	// current cache and returns the resulting (not yet committed)
	// state root, so the engine can compare it to blk.Header.StateRoot
	// before voting. The mutations stay staged until Commit or Rollback.
	PreExecute(blk *primitives.Block) (primitives.Hash, error)
	// Commit performs the once-per-block Flush + batch commit of the
	// mutations PreExecute staged for blk, and advances the durable tip.
	Commit(blk *primitives.Block) error
	// Rollback discards the uncommitted mutations PreExecute staged,
	// used on a losing view change or a failed pre-execution.
	Rollback()
}

// SlashKind distinguishes the two penalty classes spec §4.6 names.
type SlashKind uint8

const (
	SlashEquivocation SlashKind = iota
	SlashInactivity
)

// ValidatorSource supplies the full universe of ever-registered
// validators and their current bonded stake, queried only at epoch
// boundaries by EpochManager. An implementation over the staking
// system contract lives in the node package (execution.ListValidators
// + execution.StakeOf + execution.IsDeactivated).
type ValidatorSource interface {
	AllValidators() ([]Validator, error)
}

// Slasher applies a slashing penalty to the underlying staking state.
// An implementation over execution.SlashValidator lives in the node
// package; EpochManager only decides *when* stake changes take effect,
// never mutates state itself.
type Slasher interface {
	Slash(validator primitives.Address, kind SlashKind) error
}

// AuthoritySet is the epoch-gated view of the active validator set the
// engine consults for leader election and quorum math. Directly
// descended from the teacher's authorityAdapter interface
// (ValidatorPubKey/StakeOf/ListAuthorities), re-typed to return a single
// frozen-at-epoch-begin snapshot instead of live lookups, since spec
// §4.6 requires the schedule and stake weights fixed for the epoch.
type AuthoritySet interface {
	Active(height uint64) (*ActiveSet, error)
	Slash(validator primitives.Address, kind SlashKind) error
}
