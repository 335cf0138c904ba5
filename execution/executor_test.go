package execution

import (
	"testing"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/errs"
	"github.com/meridianchain/meridian-node/primitives"
	"github.com/meridianchain/meridian-node/state"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	store := state.NewStore(state.NewMemStore())
	cache := state.NewCache(store, primitives.Hash{})
	return New(cache, 7, DefaultParams(), nil)
}

func fundAccount(t *testing.T, ex *Executor, balance uint64, nonce uint64) primitives.Address {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	addr := crypto.DeriveAddress(pub)
	ex.Cache.PutAccount(addr, &primitives.Account{
		Nonce:   nonce,
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

func TestApplyTransactionTransferCreditsRecipient(t *testing.T) {
	ex := newTestExecutor(t)
	sender := fundAccount(t, ex, 1_000_000, 0)
	recipient := fundAccount(t, ex, 0, 0)

	tx := transferTx(sender, recipient, 0, 30_000, 5, 1_000)
	rc, err := ex.ApplyTransaction(tx, primitives.NewUInt256FromUint64(1), primitives.ZeroAddress, 1, primitives.Hash{}, 0, 0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !rc.Success {
		t.Fatalf("expected success, got error code %d", rc.ErrorCode)
	}

	recipientAcct, ok, err := ex.Cache.GetAccount(recipient)
	if err != nil || !ok {
		t.Fatalf("recipient account missing: %v", err)
	}
	if recipientAcct.Balance.Uint64() != 1_000 {
		t.Fatalf("expected recipient balance 1000, got %s", recipientAcct.Balance)
	}

	senderAcct, _, _ := ex.Cache.GetAccount(sender)
	if senderAcct.Nonce != 1 {
		t.Fatalf("expected sender nonce 1, got %d", senderAcct.Nonce)
	}
}

func TestApplyTransactionRejectsNonceMismatch(t *testing.T) {
	ex := newTestExecutor(t)
	sender := fundAccount(t, ex, 1_000_000, 3)
	recipient := fundAccount(t, ex, 0, 0)

	tx := transferTx(sender, recipient, 0, 30_000, 5, 1_000)
	_, err := ex.ApplyTransaction(tx, primitives.NewUInt256FromUint64(1), primitives.ZeroAddress, 1, primitives.Hash{}, 0, 0)
	if !errs.Is(err, errs.KindInvalidNonce) {
		t.Fatalf("expected InvalidNonce, got %v", err)
	}
}

func TestApplyTransactionInsufficientGasFeeBalance(t *testing.T) {
	ex := newTestExecutor(t)
	sender := fundAccount(t, ex, 100, 0)
	recipient := fundAccount(t, ex, 0, 0)

	tx := transferTx(sender, recipient, 0, 30_000, 5, 0)
	_, err := ex.ApplyTransaction(tx, primitives.NewUInt256FromUint64(1), primitives.ZeroAddress, 1, primitives.Hash{}, 0, 0)
	if !errs.Is(err, errs.KindInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}

	senderAcct, _, _ := ex.Cache.GetAccount(sender)
	if senderAcct.Nonce != 0 {
		t.Fatalf("nonce must not advance when gas-fee debit fails, got %d", senderAcct.Nonce)
	}
}

func TestApplyTransactionTransferExceedsBalanceReverts(t *testing.T) {
	ex := newTestExecutor(t)
	sender := fundAccount(t, ex, 1_000_000, 0)
	recipient := fundAccount(t, ex, 0, 0)

	tx := transferTx(sender, recipient, 0, 30_000, 5, 2_000_000)
	rc, err := ex.ApplyTransaction(tx, primitives.NewUInt256FromUint64(1), primitives.ZeroAddress, 1, primitives.Hash{}, 0, 0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rc.Success {
		t.Fatalf("expected a reverted receipt")
	}
	if errs.Kind(rc.ErrorCode) != errs.KindInsufficientFunds {
		t.Fatalf("expected InsufficientFunds error code, got %d", rc.ErrorCode)
	}

	senderAcct, _, _ := ex.Cache.GetAccount(sender)
	if senderAcct.Nonce != 1 {
		t.Fatalf("nonce must still advance on a reverted transaction, got %d", senderAcct.Nonce)
	}
	recipientAcct, _, _ := ex.Cache.GetAccount(recipient)
	if !recipientAcct.Balance.IsZero() {
		t.Fatalf("recipient must not be credited on revert")
	}
}

func TestApplyTransactionDebitsGasFeeFromSender(t *testing.T) {
	ex := newTestExecutor(t)
	sender := fundAccount(t, ex, 1_000_000, 0)
	recipient := fundAccount(t, ex, 0, 0)

	tx := transferTx(sender, recipient, 0, 30_000, 5, 1_000)
	if _, err := ex.ApplyTransaction(tx, primitives.NewUInt256FromUint64(1), primitives.ZeroAddress, 1, primitives.Hash{}, 0, 0); err != nil {
		t.Fatalf("apply: %v", err)
	}

	senderAcct, _, _ := ex.Cache.GetAccount(sender)
	// 1,000,000 - 1,000 (value) - up to 30,000*5 (gas fee, minus refund for unused gas)
	if senderAcct.Balance.Cmp(primitives.NewUInt256FromUint64(1_000_000-1_000)) >= 0 {
		t.Fatalf("expected sender balance to be debited for gas, got %s", senderAcct.Balance)
	}
}

func TestApplyTransactionComplianceRejectionRefundsUnusedGas(t *testing.T) {
	ex := newTestExecutor(t)
	ex.Compliance = rejectingCompliance{}
	sender := fundAccount(t, ex, 1_000_000, 0)
	recipient := fundAccount(t, ex, 0, 0)

	tx := transferTx(sender, recipient, 0, 100_000, 5, 1_000)
	rc, err := ex.ApplyTransaction(tx, primitives.NewUInt256FromUint64(1), primitives.ZeroAddress, 1, primitives.Hash{}, 0, 0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rc.Success {
		t.Fatalf("expected compliance rejection to fail the transaction")
	}
	if errs.Kind(rc.ErrorCode) != errs.KindComplianceProofInvalid {
		t.Fatalf("expected ComplianceProofInvalid, got %d", rc.ErrorCode)
	}
	if rc.GasUsed >= tx.GasLimit {
		t.Fatalf("expected only intrinsic gas to be charged, got %d of %d", rc.GasUsed, tx.GasLimit)
	}

	senderAcct, _, _ := ex.Cache.GetAccount(sender)
	if senderAcct.Nonce != 1 {
		t.Fatalf("nonce must still advance on compliance rejection, got %d", senderAcct.Nonce)
	}
}

func TestApplyTransactionPostStateRootAdvances(t *testing.T) {
	ex := newTestExecutor(t)
	sender := fundAccount(t, ex, 1_000_000, 0)
	recipient := fundAccount(t, ex, 0, 0)
	rootBefore := ex.Cache.RootHash()

	tx := transferTx(sender, recipient, 0, 30_000, 5, 1_000)
	rc, err := ex.ApplyTransaction(tx, primitives.NewUInt256FromUint64(1), primitives.ZeroAddress, 1, primitives.Hash{}, 0, 0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rc.PostStateRoot == rootBefore {
		t.Fatalf("expected post_state_root to change after a mutating transaction")
	}
}

func TestApplyTransactionStakeDepositMovesIntoStakingContract(t *testing.T) {
	ex := newTestExecutor(t)
	validator := fundAccount(t, ex, 1_000_000, 0)

	tx := &primitives.Transaction{
		Kind:     primitives.TxStakeDeposit,
		Nonce:    0,
		Sender:   validator,
		To:       StakingContractAddress,
		Value:    primitives.NewUInt256FromUint64(50_000),
		GasLimit: 40_000,
		GasPrice: primitives.NewUInt256FromUint64(5),
		ChainID:  7,
	}
	rc, err := ex.ApplyTransaction(tx, primitives.NewUInt256FromUint64(1), primitives.ZeroAddress, 1, primitives.Hash{}, 0, 0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !rc.Success {
		t.Fatalf("expected stake deposit to succeed, error code %d", rc.ErrorCode)
	}

	staked, err := readStake(ex.Cache, validator)
	if err != nil {
		t.Fatalf("readStake: %v", err)
	}
	if staked.Uint64() != 50_000 {
		t.Fatalf("expected 50000 staked, got %s", staked)
	}
}

func TestApplyTransactionContractDeployAndTokenTransfer(t *testing.T) {
	ex := newTestExecutor(t)
	owner := fundAccount(t, ex, 1_000_000, 0)

	deployTx := &primitives.Transaction{
		Kind:     primitives.TxContractDeploy,
		Nonce:    0,
		Sender:   owner,
		GasLimit: 600_000,
		GasPrice: primitives.NewUInt256FromUint64(5),
		Data:     []byte{byte(TemplateToken)},
		ChainID:  7,
	}
	rc, err := ex.ApplyTransaction(deployTx, primitives.NewUInt256FromUint64(1), primitives.ZeroAddress, 1, primitives.Hash{}, 0, 0)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !rc.Success {
		t.Fatalf("expected deploy to succeed, error code %d", rc.ErrorCode)
	}

	contract := contractAddressFor(owner, 0)
	holder := fundAccount(t, ex, 0, 0)

	var mintArgs []byte
	mintArgs = append(mintArgs, holder[:]...)
	amt := primitives.NewUInt256FromUint64(500).Bytes32()
	mintArgs = append(mintArgs, amt[:]...)
	mintSel := crypto.Selector("mint")
	mintData := append(mintSel[:], mintArgs...)

	mintTx := &primitives.Transaction{
		Kind:     primitives.TxContractCall,
		Nonce:    1,
		Sender:   owner,
		To:       contract,
		GasLimit: 100_000,
		GasPrice: primitives.NewUInt256FromUint64(5),
		Data:     mintData,
		ChainID:  7,
	}
	rc, err = ex.ApplyTransaction(mintTx, primitives.NewUInt256FromUint64(1), primitives.ZeroAddress, 1, primitives.Hash{}, 1, 0)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !rc.Success {
		t.Fatalf("expected mint to succeed, error code %d", rc.ErrorCode)
	}

	bal, err := readBalance(&CallContext{Cache: ex.Cache, Contract: contract}, holder)
	if err != nil {
		t.Fatalf("readBalance: %v", err)
	}
	if bal.Uint64() != 500 {
		t.Fatalf("expected holder balance 500, got %s", bal)
	}
}

type rejectingCompliance struct{}

func (rejectingCompliance) VerifyProofs([]primitives.Proof, []Requirement, int64) (Outcome, error) {
	return FailedOutcome(errs.KindComplianceProofInvalid, "execution: proof rejected in test"), nil
}

func (rejectingCompliance) GetRequirements(primitives.Address) ([]Requirement, error) {
	return []Requirement{{SchemaID: 1}}, nil
}

func (rejectingCompliance) ResetNullifiers() {}
