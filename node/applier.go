// Package node wires the execution, state, consensus, mempool and
// compliance packages into a running replica, implementing spec §4.7's
// orchestrator: startup sequencing, block production/validation, and a
// minimal liveness HTTP surface. Grounded on the teacher's cmd/cli
// process-wiring style (logrus logger + viper config at process start,
// cmd/cli/network.go's netInit) generalized from a CLI-driven node to a
// long-running service.
package node

import (
	"fmt"

	"github.com/meridianchain/meridian-node/consensus"
	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/execution"
	"github.com/meridianchain/meridian-node/primitives"
	"github.com/meridianchain/meridian-node/state"
)

// Applier is the consensus.BlockApplier implementation binding a
// consensus replica to the execution and state packages, per spec §4.7 —
// consensus never imports execution or state directly, so this type is
// the node orchestrator's one boundary object between the two.
type Applier struct {
	store      *state.Store
	cache      *state.Cache
	compliance execution.ComplianceVerifier
	execParams execution.Params
	chainID    uint32

	blockGasLimit   uint64
	protocolVersion uint32
	extraData       []byte

	pendingSnapshot int
}

// NewApplier constructs an Applier bound to cache (already rebound to the
// chain's current tip state root by the node orchestrator's startup
// sequencing).
func NewApplier(store *state.Store, cache *state.Cache, compliance execution.ComplianceVerifier, execParams execution.Params, chainID uint32, blockGasLimit uint64, protocolVersion uint32, extraData []byte) *Applier {
	if compliance == nil {
		compliance = execution.NoopComplianceVerifier
	}
	return &Applier{
		store:           store,
		cache:           cache,
		compliance:      compliance,
		execParams:      execParams,
		chainID:         chainID,
		blockGasLimit:   blockGasLimit,
		protocolVersion: protocolVersion,
		extraData:       extraData,
	}
}

var _ consensus.BlockApplier = (*Applier)(nil)

// parentInfo returns the gas-used/gas-limit/base-fee triple ComputeBaseFee
// needs from parentHash, or the chain's genesis defaults when parentHash
// has no block yet (the first block after genesis).
func (a *Applier) parentInfo(parentHash primitives.Hash) (gasUsed, gasLimit uint64, baseFee primitives.UInt256) {
	blk, err := a.store.GetBlockByHash(parentHash)
	if err != nil || blk == nil {
		return 0, a.blockGasLimit, a.execParams.MinGasPrice
	}
	return blk.Header.GasUsed, blk.Header.GasLimit, blk.Header.BaseFee
}

// BuildBlock implements consensus.BlockApplier.
func (a *Applier) BuildBlock(number uint64, parentHash primitives.Hash, proposer primitives.Address, timestamp int64, txs []*primitives.Transaction) (*primitives.Block, error) {
	snap := a.cache.Snapshot()
	a.compliance.ResetNullifiers()

	parentGasUsed, parentGasLimit, parentBaseFee := a.parentInfo(parentHash)
	baseFee := execution.ComputeBaseFee(parentBaseFee, parentGasUsed, parentGasLimit, a.execParams)

	ex := execution.New(a.cache, a.chainID, a.execParams, a.compliance)

	header := primitives.BlockHeader{
		Number:          number,
		ParentHash:      parentHash,
		Timestamp:       timestamp,
		Proposer:        proposer,
		ChainID:         a.chainID,
		GasLimit:        a.blockGasLimit,
		BaseFee:         baseFee,
		ProtocolVersion: a.protocolVersion,
		ExtraData:       a.extraData,
		Version:         uint8(a.protocolVersion),
	}
	blockHash := state.HeaderHash(&header)

	receipts := make([]primitives.Receipt, 0, len(txs))
	txHashes := make([]primitives.Hash, 0, len(txs))
	var gasUsed uint64
	for i, tx := range txs {
		if gasUsed+tx.GasLimit > a.blockGasLimit {
			break
		}
		rc, err := ex.ApplyTransaction(tx, baseFee, proposer, number, blockHash, uint32(i), timestamp)
		if err != nil {
			a.cache.Rollback(snap)
			return nil, fmt.Errorf("node: apply transaction %d: %w", i, err)
		}
		receipts = append(receipts, *rc)
		txHashes = append(txHashes, rc.TxHash)
		gasUsed += rc.GasUsed
	}

	root, err := a.cache.IntermediateRoot()
	if err != nil {
		a.cache.Rollback(snap)
		return nil, fmt.Errorf("node: intermediate root: %w", err)
	}

	header.GasUsed = gasUsed
	header.StateRoot = root
	header.TransactionsRoot = merkleRoot(txHashes)
	header.ReceiptsRoot = receiptsRoot(receipts)

	a.pendingSnapshot = snap
	return &primitives.Block{
		Header:       header,
		Transactions: truncate(txs, len(receipts)),
		Receipts:     receipts,
	}, nil
}

func truncate(txs []*primitives.Transaction, n int) []primitives.Transaction {
	out := make([]primitives.Transaction, n)
	for i := 0; i < n; i++ {
		out[i] = *txs[i]
	}
	return out
}

func receiptsRoot(receipts []primitives.Receipt) primitives.Hash {
	leaves := make([]primitives.Hash, len(receipts))
	for i := range receipts {
		w := primitives.NewWriter(0)
		receipts[i].Encode(w)
		leaves[i] = crypto.Hash(w.Bytes())
	}
	return merkleRoot(leaves)
}

// DecodeBlock implements consensus.BlockApplier.
func (a *Applier) DecodeBlock(data []byte) (*primitives.Block, error) {
	blk := &primitives.Block{}
	if err := blk.Decode(primitives.NewReader(data)); err != nil {
		return nil, fmt.Errorf("node: decode block: %w", err)
	}
	return blk, nil
}

// PreExecute implements consensus.BlockApplier: it replays blk's
// transactions against the cache exactly as BuildBlock would have, and
// compares the resulting root to what the proposer claims.
func (a *Applier) PreExecute(blk *primitives.Block) (primitives.Hash, error) {
	snap := a.cache.Snapshot()
	a.pendingSnapshot = snap
	a.compliance.ResetNullifiers()

	ex := execution.New(a.cache, a.chainID, a.execParams, a.compliance)
	blockHash := state.HeaderHash(&blk.Header)

	for i := range blk.Transactions {
		tx := &blk.Transactions[i]
		if _, err := ex.ApplyTransaction(tx, blk.Header.BaseFee, blk.Header.Proposer, blk.Header.Number, blockHash, uint32(i), blk.Header.Timestamp); err != nil {
			a.cache.Rollback(snap)
			return primitives.Hash{}, fmt.Errorf("node: pre-execute transaction %d: %w", i, err)
		}
	}
	root, err := a.cache.IntermediateRoot()
	if err != nil {
		a.cache.Rollback(snap)
		return primitives.Hash{}, err
	}
	return root, nil
}

// Commit implements consensus.BlockApplier: it flushes the cache's staged
// mutations (from BuildBlock or PreExecute) into a single write batch
// alongside the block/receipt/height-index records, and commits them
// atomically, per spec §4.3's once-per-block flush model.
func (a *Applier) Commit(blk *primitives.Block) error {
	batch := a.store.NewBatch()
	if _, err := a.cache.Flush(&batch); err != nil {
		return fmt.Errorf("node: flush cache: %w", err)
	}
	if err := a.store.PutBlock(&batch, blk); err != nil {
		return fmt.Errorf("node: put block: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("node: commit batch: %w", err)
	}
	return nil
}

// Rollback implements consensus.BlockApplier.
func (a *Applier) Rollback() {
	a.cache.Rollback(a.pendingSnapshot)
}
