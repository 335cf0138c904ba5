package execution

import (
	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/errs"
	"github.com/meridianchain/meridian-node/gas"
	"github.com/meridianchain/meridian-node/primitives"
	"github.com/meridianchain/meridian-node/state"
)

// Requirement is a single compliance obligation a contract address
// imposes on incoming transactions, as returned by GetRequirements.
type Requirement struct {
	SchemaID    uint32
	IssuerTier  uint8
	Description string
}

// Outcome is the result of a compliance check: either Allowed, or Failed
// carrying the rejection Kind and a human-readable reason.
type Outcome struct {
	Allowed  bool
	FailKind errs.Kind
	Reason   string
}

// AllowedOutcome is the single shared "passed" value.
var AllowedOutcome = Outcome{Allowed: true}

// FailedOutcome builds a rejection outcome.
func FailedOutcome(kind errs.Kind, reason string) Outcome {
	return Outcome{FailKind: kind, Reason: reason}
}

// ComplianceVerifier is the surface the executor needs from C8, decoupling
// this package from any concrete compliance implementation — the same
// adapter-interface idiom used throughout (mempool.AccountView, teacher's
// networkAdapter/securityAdapter in core/consensus.go). VerifyProofs checks
// a transaction's attached proofs against the requirements its target
// contract demands; GetRequirements looks those requirements up;
// ResetNullifiers clears the per-block duplicate-proof set and is called by
// the node orchestrator at every block boundary.
type ComplianceVerifier interface {
	VerifyProofs(proofs []primitives.Proof, requirements []Requirement, blockTimestamp int64) (Outcome, error)
	GetRequirements(contract primitives.Address) ([]Requirement, error)
	ResetNullifiers()
}

// noopCompliance is the default per spec §4.8: Allowed when a contract has
// no requirements, MissingProof otherwise.
type noopCompliance struct{}

func (noopCompliance) VerifyProofs(proofs []primitives.Proof, requirements []Requirement, _ int64) (Outcome, error) {
	if len(requirements) == 0 {
		return AllowedOutcome, nil
	}
	return FailedOutcome(errs.KindComplianceProofMissing, "execution: contract requires a compliance proof"), nil
}

func (noopCompliance) GetRequirements(primitives.Address) ([]Requirement, error) { return nil, nil }

func (noopCompliance) ResetNullifiers() {}

// NoopComplianceVerifier is the default no-op compliance hook.
var NoopComplianceVerifier ComplianceVerifier = noopCompliance{}

// Executor runs the per-transaction state-transition pipeline against a
// flat state.Cache, mirroring the teacher's core/execution_management.go
// ExecutionManager shape (a small struct wired to the ledger + a pluggable
// verifier, methods with no internal locking — callers serialize calls
// since a block executes its transactions strictly in order).
type Executor struct {
	Cache      *state.Cache
	Compliance ComplianceVerifier
	Params     Params
	ChainID    uint32
}

func New(cache *state.Cache, chainID uint32, params Params, compliance ComplianceVerifier) *Executor {
	if compliance == nil {
		compliance = NoopComplianceVerifier
	}
	return &Executor{Cache: cache, Compliance: compliance, Params: params, ChainID: chainID}
}

func effectiveGasPrice(tx *primitives.Transaction, baseFee primitives.UInt256) primitives.UInt256 {
	if tx.IsDynamicFee() {
		return primitives.MinUInt256(tx.MaxFeePerGas, baseFee.Add(tx.MaxPriorityFeePerGas))
	}
	return tx.GasPrice
}

// ApplyTransaction runs spec §4.5's eight-step pipeline against the
// executor's cache. PostStateRoot is computed via Cache.IntermediateRoot,
// which stages this transaction's mutations into the trie and returns the
// resulting root without touching any batch — the caller flushes the
// whole block into a single *state.Batch and commits it once, after the
// block's last transaction (see state.Cache.Flush's docs).
func (ex *Executor) ApplyTransaction(
	tx *primitives.Transaction,
	baseFee primitives.UInt256,
	proposer primitives.Address,
	blockNumber uint64,
	blockHash primitives.Hash,
	txIndex uint32,
	blockTimestamp int64,
) (*primitives.Receipt, error) {
	snap := ex.Cache.Snapshot()

	// Step 1: load sender account, verify nonce.
	acct, ok, err := ex.Cache.GetAccount(tx.Sender)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.KindInvalidNonce, "execution: sender account does not exist")
	}
	if tx.Nonce != acct.Nonce {
		return nil, errs.New(errs.KindInvalidNonce, "execution: nonce mismatch")
	}

	// Step 2: effective gas price.
	price := effectiveGasPrice(tx, baseFee)

	// Step 3: debit gas_limit * price from sender balance.
	fee := primitives.NewUInt256FromUint64(tx.GasLimit).Mul(price)
	newBalance, err := acct.Balance.CheckedSub(fee)
	if err != nil {
		ex.Cache.Rollback(snap)
		return nil, errs.New(errs.KindInsufficientFunds, "execution: cannot debit gas fee")
	}
	senderAcct := *acct
	senderAcct.Balance = newBalance

	// Step 4: increment nonce, invoke compliance hook.
	senderAcct.Nonce++
	ex.Cache.PutAccount(tx.Sender, &senderAcct)

	meter := NewGasMeter(tx.GasLimit)
	intrinsic := gas.Intrinsic(tx.Kind, tx.Data)
	if err := meter.Consume(intrinsic); err != nil {
		// Should not happen (mempool already checked), but stay safe.
		root, _ := ex.Cache.IntermediateRoot()
		return ex.failureReceipt(tx, blockHash, blockNumber, txIndex, price, errs.KindOutOfGas, tx.GasLimit, root), nil
	}

	requirements, err := ex.Compliance.GetRequirements(tx.To)
	if err != nil {
		return nil, err
	}
	outcome, err := ex.Compliance.VerifyProofs(tx.ComplianceProofs, requirements, blockTimestamp)
	if err != nil {
		return nil, err
	}
	if !outcome.Allowed {
		// Refund all unused gas minus intrinsic; keep nonce + fee debit.
		refundGas := tx.GasLimit - intrinsic
		refundAmount := primitives.NewUInt256FromUint64(refundGas).Mul(price)
		refundedAcct, _, _ := ex.Cache.GetAccount(tx.Sender)
		updated := *refundedAcct
		updated.Balance = updated.Balance.Add(refundAmount)
		ex.Cache.PutAccount(tx.Sender, &updated)

		root, ferr := ex.Cache.IntermediateRoot()
		if ferr != nil {
			return nil, ferr
		}
		kind := outcome.FailKind
		if kind == 0 {
			kind = errs.KindComplianceProofInvalid
		}
		return ex.failureReceipt(tx, blockHash, blockNumber, txIndex, price, kind, intrinsic, root), nil
	}

	// Step 5: dispatch on kind.
	logs, dispatchErr := ex.dispatch(tx, meter, blockNumber)

	// Step 6 already folded into meter; compute effective gas used.
	if dispatchErr != nil {
		ex.Cache.Rollback(snap)
		// Re-apply the fee debit + nonce increment that must survive a revert.
		acctAfterRevert, _, _ := ex.Cache.GetAccount(tx.Sender)
		reapplied := *acctAfterRevert
		reapplied.Nonce++
		reapplied.Balance, _ = reapplied.Balance.CheckedSub(fee)
		ex.Cache.PutAccount(tx.Sender, &reapplied)

		effGasUsed := meter.EffectiveGasUsed()
		ex.refundUnusedGas(tx.Sender, price, tx.GasLimit, effGasUsed)
		ex.creditFeesAndBurn(proposer, price, baseFee, effGasUsed)

		root, ferr := ex.Cache.IntermediateRoot()
		if ferr != nil {
			return nil, ferr
		}
		kind := errs.KindRevertedByContract
		if f, isFault := dispatchErr.(*errs.Fault); isFault {
			kind = f.Kind
		}
		return ex.failureReceipt(tx, blockHash, blockNumber, txIndex, price, kind, effGasUsed, root), nil
	}

	// Step 6: refund the unused portion of the prepaid gas fee.
	effGasUsed := meter.EffectiveGasUsed()
	ex.refundUnusedGas(tx.Sender, price, tx.GasLimit, effGasUsed)

	// Step 7: proposer tip + base-fee burn.
	ex.creditFeesAndBurn(proposer, price, baseFee, effGasUsed)

	// Step 8: emit receipt.
	root, err := ex.Cache.IntermediateRoot()
	if err != nil {
		return nil, err
	}
	return &primitives.Receipt{
		TxHash:            crypto.Hash(tx.EncodeUnsigned()),
		BlockHash:         blockHash,
		BlockNumber:       blockNumber,
		TxIndex:           txIndex,
		From:              tx.Sender,
		To:                tx.To,
		GasUsed:           effGasUsed,
		Success:           true,
		PostStateRoot:     root,
		EffectiveGasPrice: price,
		Logs:              logs,
	}, nil
}

func (ex *Executor) failureReceipt(tx *primitives.Transaction, blockHash primitives.Hash, blockNumber uint64, txIndex uint32, price primitives.UInt256, kind errs.Kind, gasUsed uint64, root primitives.Hash) *primitives.Receipt {
	return &primitives.Receipt{
		TxHash:            crypto.Hash(tx.EncodeUnsigned()),
		BlockHash:         blockHash,
		BlockNumber:       blockNumber,
		TxIndex:           txIndex,
		From:              tx.Sender,
		To:                tx.To,
		GasUsed:           gasUsed,
		Success:           false,
		ErrorCode:         uint16(kind),
		PostStateRoot:     root,
		EffectiveGasPrice: price,
	}
}

// refundUnusedGas credits sender with the portion of the prepaid
// gas_limit*price fee that effGasUsed did not consume (step 3 debited the
// full limit upfront; only effGasUsed is actually owed).
func (ex *Executor) refundUnusedGas(sender primitives.Address, price primitives.UInt256, gasLimit, effGasUsed uint64) {
	if effGasUsed >= gasLimit {
		return
	}
	refund := primitives.NewUInt256FromUint64(gasLimit - effGasUsed).Mul(price)
	if refund.IsZero() {
		return
	}
	acct, ok, _ := ex.Cache.GetAccount(sender)
	if !ok {
		return
	}
	updated := *acct
	updated.Balance = updated.Balance.Add(refund)
	ex.Cache.PutAccount(sender, &updated)
}

// creditFeesAndBurn credits the proposer's tip and conceptually burns the
// base-fee portion (simply not credited to any account, per spec §4.5
// step 7 — a real burn sink needs no explicit debit since the fee was
// already removed from the sender's balance in step 3).
func (ex *Executor) creditFeesAndBurn(proposer primitives.Address, effectivePrice, baseFee primitives.UInt256, effGasUsed uint64) {
	tipPerGas, err := effectivePrice.CheckedSub(baseFee)
	if err != nil {
		tipPerGas = primitives.ZeroUInt256()
	}
	tip := tipPerGas.Mul(primitives.NewUInt256FromUint64(effGasUsed))
	if tip.IsZero() {
		return
	}
	acct, ok, _ := ex.Cache.GetAccount(proposer)
	var next primitives.Account
	if ok {
		next = *acct
	} else {
		next = primitives.NewEOA(primitives.Hash{})
	}
	next.Balance = next.Balance.Add(tip)
	ex.Cache.PutAccount(proposer, &next)
}

func (ex *Executor) dispatch(tx *primitives.Transaction, meter *GasMeter, blockNumber uint64) ([]primitives.Log, error) {
	switch tx.Kind {
	case primitives.TxTransfer:
		return nil, ex.applyTransfer(tx)
	case primitives.TxContractDeploy:
		return nil, ex.applyDeploy(tx)
	case primitives.TxContractCall:
		return ex.applyCall(tx, meter)
	case primitives.TxStakeDeposit:
		return nil, StakeDeposit(ex.Cache, tx.Sender, tx.Value)
	case primitives.TxStakeWithdraw:
		return nil, StakeWithdrawRequest(ex.Cache, tx.Sender, tx.Value, blockNumber, ex.unbondingPeriod())
	case primitives.TxValidatorRegister:
		return nil, RegisterValidator(ex.Cache, tx.Sender, tx.Value, tx.Data)
	default:
		return nil, errs.New(errs.KindUnknownSelector, "execution: unknown transaction kind")
	}
}

// unbondingPeriod is sourced from chain config in the node wiring; the
// executor itself only needs it for the (rare) direct StakeWithdraw path,
// so it is threaded through Params to avoid a config-package import here.
func (ex *Executor) unbondingPeriod() uint64 {
	return ex.Params.UnbondingPeriod
}

func (ex *Executor) applyTransfer(tx *primitives.Transaction) error {
	senderAcct, _, err := ex.Cache.GetAccount(tx.Sender)
	if err != nil {
		return err
	}
	newSenderBal, err := senderAcct.Balance.CheckedSub(tx.Value)
	if err != nil {
		return errs.New(errs.KindInsufficientFunds, "execution: transfer exceeds balance")
	}
	updatedSender := *senderAcct
	updatedSender.Balance = newSenderBal
	ex.Cache.PutAccount(tx.Sender, &updatedSender)

	toAcct, ok, err := ex.Cache.GetAccount(tx.To)
	if err != nil {
		return err
	}
	var updatedTo primitives.Account
	if ok {
		updatedTo = *toAcct
	} else {
		updatedTo = primitives.NewEOA(primitives.Hash{})
	}
	newToBal, err := updatedTo.Balance.CheckedAdd(tx.Value)
	if err != nil {
		return errs.New(errs.KindRevertedByContract, "execution: transfer overflow at recipient")
	}
	updatedTo.Balance = newToBal
	ex.Cache.PutAccount(tx.To, &updatedTo)
	return nil
}

func contractAddressFor(sender primitives.Address, nonce uint64) primitives.Address {
	w := primitives.NewWriter(primitives.AddressSize + 8)
	w.PutAddress(sender)
	w.PutUint64(nonce)
	h := crypto.Hash(w.Bytes())
	var a primitives.Address
	copy(a[:], h[primitives.HashSize-primitives.AddressSize:])
	return a
}

func (ex *Executor) applyDeploy(tx *primitives.Transaction) error {
	if len(tx.Data) < 1 {
		return errs.New(errs.KindRevertedByContract, "execution: deploy requires a template byte")
	}
	addr := contractAddressFor(tx.Sender, tx.Nonce)
	acct := primitives.Account{
		Kind:        primitives.AccountContract,
		CodeHash:    crypto.Hash(tx.Data),
		StorageRoot: primitives.Hash{},
	}
	ex.Cache.PutAccount(addr, &acct)
	switch TemplateID(tx.Data[0]) {
	case TemplateToken:
		DeployToken(ex.Cache, addr, tx.Sender)
	default:
		return errs.New(errs.KindUnknownSelector, "execution: unknown deploy template")
	}
	return nil
}

func (ex *Executor) applyCall(tx *primitives.Transaction, meter *GasMeter) ([]primitives.Log, error) {
	if len(tx.Data) < 4 {
		return nil, errs.New(errs.KindUnknownSelector, "execution: call data shorter than a selector")
	}
	acct, ok, err := ex.Cache.GetAccount(tx.To)
	if err != nil {
		return nil, err
	}
	if !ok || acct.Kind != primitives.AccountContract {
		return nil, errs.New(errs.KindUnknownSelector, "execution: call target is not a contract")
	}
	var selector [4]byte
	copy(selector[:], tx.Data[:4])
	ctx := &CallContext{
		Cache:    ex.Cache,
		Contract: tx.To,
		Caller:   tx.Sender,
		Active:   make(map[primitives.Address]bool),
		Params:   ex.Params,
	}
	// Every deployed contract in this chain currently follows the token
	// template; a multi-template registry keyed by contract address would
	// extend this switch without changing the dispatch contract.
	return Dispatch(ctx, TemplateToken, selector, tx.Data[4:])
}
