package node

import (
	"testing"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/execution"
	"github.com/meridianchain/meridian-node/primitives"
	"github.com/meridianchain/meridian-node/state"
)

func newTestApplier(t *testing.T) (*Applier, *state.Cache) {
	t.Helper()
	store := state.NewStore(state.NewMemStore())
	cache := state.NewCache(store, primitives.Hash{})
	applier := NewApplier(store, cache, nil, execution.DefaultParams(), 7, 8_000_000, 1, nil)
	return applier, cache
}

func fundApplierAccount(t *testing.T, cache *state.Cache, balance uint64) primitives.Address {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	addr := crypto.DeriveAddress(pub)
	cache.PutAccount(addr, &primitives.Account{
		Balance: primitives.NewUInt256FromUint64(balance),
		Kind:    primitives.AccountEOA,
	})
	return addr
}

func transferTx(sender, to primitives.Address, nonce, gasLimit, gasPrice, value uint64) *primitives.Transaction {
	return &primitives.Transaction{
		Kind:     primitives.TxTransfer,
		Nonce:    nonce,
		Sender:   sender,
		To:       to,
		Value:    primitives.NewUInt256FromUint64(value),
		GasLimit: gasLimit,
		GasPrice: primitives.NewUInt256FromUint64(gasPrice),
		ChainID:  7,
	}
}

func TestBuildBlockAppliesTransactionsAndStagesState(t *testing.T) {
	applier, cache := newTestApplier(t)
	sender := fundApplierAccount(t, cache, 1_000_000)
	recipient := fundApplierAccount(t, cache, 0)

	tx := transferTx(sender, recipient, 0, 30_000, 5, 1_000)
	blk, err := applier.BuildBlock(1, primitives.Hash{}, primitives.ZeroAddress, 100, []*primitives.Transaction{tx})
	if err != nil {
		t.Fatalf("build block: %v", err)
	}
	if len(blk.Transactions) != 1 {
		t.Fatalf("expected 1 applied transaction, got %d", len(blk.Transactions))
	}
	if blk.Header.StateRoot == (primitives.Hash{}) {
		t.Fatalf("expected a non-zero state root")
	}
	if blk.Header.TransactionsRoot == (primitives.Hash{}) {
		t.Fatalf("expected a non-zero transactions root")
	}

	recipientAcct, ok, err := cache.GetAccount(recipient)
	if err != nil || !ok {
		t.Fatalf("recipient account missing after build: %v", err)
	}
	if recipientAcct.Balance.Uint64() != 1_000 {
		t.Fatalf("expected staged balance 1000, got %s", recipientAcct.Balance)
	}
}

func TestBuildBlockStopsAtGasLimit(t *testing.T) {
	applier, cache := newTestApplier(t)
	applier.blockGasLimit = 40_000
	sender := fundApplierAccount(t, cache, 1_000_000)
	recipient := fundApplierAccount(t, cache, 0)

	txs := []*primitives.Transaction{
		transferTx(sender, recipient, 0, 30_000, 5, 100),
		transferTx(sender, recipient, 1, 30_000, 5, 100),
	}
	blk, err := applier.BuildBlock(1, primitives.Hash{}, primitives.ZeroAddress, 100, txs)
	if err != nil {
		t.Fatalf("build block: %v", err)
	}
	if len(blk.Transactions) != 1 {
		t.Fatalf("expected block to stop after the first transaction, got %d", len(blk.Transactions))
	}
}

func TestPreExecuteReplaysAndMatchesBuildRoot(t *testing.T) {
	applier, cache := newTestApplier(t)
	sender := fundApplierAccount(t, cache, 1_000_000)
	recipient := fundApplierAccount(t, cache, 0)

	tx := transferTx(sender, recipient, 0, 30_000, 5, 1_000)
	blk, err := applier.BuildBlock(1, primitives.Hash{}, primitives.ZeroAddress, 100, []*primitives.Transaction{tx})
	if err != nil {
		t.Fatalf("build block: %v", err)
	}
	if err := applier.Commit(blk); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A fresh cache over the same store, rebound to the block's parent
	// root, must replay to the same state root PreExecute reports.
	store2 := applier.store
	replayCache := state.NewCache(store2, primitives.Hash{})
	replayApplier := NewApplier(store2, replayCache, nil, execution.DefaultParams(), 7, 8_000_000, 1, nil)

	root, err := replayApplier.PreExecute(blk)
	if err != nil {
		t.Fatalf("pre-execute: %v", err)
	}
	if root != blk.Header.StateRoot {
		t.Fatalf("replayed root %s does not match proposed root %s", root, blk.Header.StateRoot)
	}
}

func TestPreExecuteRollsBackOnFailure(t *testing.T) {
	applier, cache := newTestApplier(t)
	sender := fundApplierAccount(t, cache, 100)
	recipient := fundApplierAccount(t, cache, 0)

	badTx := transferTx(sender, recipient, 0, 30_000, 5, 1_000_000)
	blk := &primitives.Block{
		Header:       primitives.BlockHeader{Number: 1, ChainID: 7, BaseFee: primitives.NewUInt256FromUint64(1)},
		Transactions: []primitives.Transaction{*badTx},
	}

	before, err := cache.IntermediateRoot()
	if err != nil {
		t.Fatalf("intermediate root: %v", err)
	}
	if _, err := applier.PreExecute(blk); err == nil {
		t.Fatalf("expected pre-execute to fail on insufficient funds")
	}
	applier.Rollback()

	after, err := cache.IntermediateRoot()
	if err != nil {
		t.Fatalf("intermediate root: %v", err)
	}
	if before != after {
		t.Fatalf("rollback did not restore the pre-PreExecute root")
	}
}

func TestDecodeBlockRoundTrips(t *testing.T) {
	applier, cache := newTestApplier(t)
	sender := fundApplierAccount(t, cache, 1_000_000)
	recipient := fundApplierAccount(t, cache, 0)

	tx := transferTx(sender, recipient, 0, 30_000, 5, 1_000)
	blk, err := applier.BuildBlock(1, primitives.Hash{}, primitives.ZeroAddress, 100, []*primitives.Transaction{tx})
	if err != nil {
		t.Fatalf("build block: %v", err)
	}

	w := primitives.NewWriter(0)
	blk.Encode(w)

	decoded, err := applier.DecodeBlock(w.Bytes())
	if err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if decoded.Header.Number != blk.Header.Number {
		t.Fatalf("decoded header number mismatch: got %d want %d", decoded.Header.Number, blk.Header.Number)
	}
	if len(decoded.Transactions) != len(blk.Transactions) {
		t.Fatalf("decoded transaction count mismatch: got %d want %d", len(decoded.Transactions), len(blk.Transactions))
	}
}
