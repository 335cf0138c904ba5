package execution

import (
	"encoding/binary"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/errs"
	"github.com/meridianchain/meridian-node/primitives"
	"github.com/meridianchain/meridian-node/state"
)

// TemplateID identifies which built-in handler table a deployed contract's
// storage follows. The chain dispatches contract calls by 4-byte selector
// against Go-native handlers rather than interpreting arbitrary bytecode,
// per spec §4.5/§9 ("selector-dispatched contract execution, not EVM
// bytecode").
type TemplateID uint8

const (
	TemplateToken TemplateID = iota
)

// CallContext threads the state cache and call-stack bookkeeping through
// a dispatch, enforcing the cross-call depth cap and re-entrancy guard
// spec §4.5 requires for the contract-SDK layer.
type CallContext struct {
	Cache    *state.Cache
	Contract primitives.Address
	Caller   primitives.Address
	Depth    int
	Active   map[primitives.Address]bool
	Params   Params
}

// HandlerFunc implements one selector of a contract template.
type HandlerFunc func(ctx *CallContext, args []byte) ([]primitives.Log, error)

var tokenHandlers = map[[4]byte]HandlerFunc{
	crypto.Selector("mint"):          tokenMint,
	crypto.SDKSelector("transfer"):   tokenTransfer,
	crypto.SDKSelector("balance_of"): tokenBalanceOf,
}

var templates = map[TemplateID]map[[4]byte]HandlerFunc{
	TemplateToken: tokenHandlers,
}

// Dispatch enters a contract call, enforcing the SDK call-depth cap and
// re-entrancy guard, then looks up and invokes the selector handler for
// the contract's template.
func Dispatch(ctx *CallContext, template TemplateID, selector [4]byte, args []byte) ([]primitives.Log, error) {
	if ctx.Depth >= ctx.Params.MaxContractSDKDepth {
		return nil, errs.New(errs.KindCallDepthExceeded, "execution: contract-SDK call depth exceeded")
	}
	if ctx.Active[ctx.Contract] {
		return nil, errs.New(errs.KindReentrancy, "execution: re-entrant call into active contract")
	}
	table, ok := templates[template]
	if !ok {
		return nil, errs.New(errs.KindUnknownSelector, "execution: unknown contract template")
	}
	handler, ok := table[selector]
	if !ok {
		return nil, errs.New(errs.KindUnknownSelector, "execution: unknown selector for contract template")
	}
	ctx.Active[ctx.Contract] = true
	defer delete(ctx.Active, ctx.Contract)
	ctx.Depth++
	defer func() { ctx.Depth-- }()
	return handler(ctx, args)
}

func tokenBalanceSlot(holder primitives.Address) [32]byte {
	var buf [primitives.AddressSize + 7]byte
	copy(buf[:], holder[:])
	copy(buf[primitives.AddressSize:], "balance")
	h := crypto.Hash(buf[:])
	return [32]byte(h)
}

func tokenOwnerSlot() [32]byte {
	h := crypto.Hash([]byte("token:owner"))
	return [32]byte(h)
}

func readBalance(ctx *CallContext, holder primitives.Address) (primitives.UInt256, error) {
	raw, err := ctx.Cache.GetStorage(ctx.Contract, tokenBalanceSlot(holder))
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

func writeBalance(ctx *CallContext, holder primitives.Address, amount primitives.UInt256) {
	b := amount.Bytes32()
	ctx.Cache.PutStorage(ctx.Contract, tokenBalanceSlot(holder), b[:])
}

// tokenMint credits args[0:20] with the amount encoded in args[20:52],
// but only when the caller is the contract's recorded owner (the account
// that deployed it) — mint is a built-in (BLAKE3-selector) privileged
// operation, unlike the open contract-SDK transfer below.
func tokenMint(ctx *CallContext, args []byte) ([]primitives.Log, error) {
	if len(args) < primitives.AddressSize+32 {
		return nil, errs.New(errs.KindRevertedByContract, "execution: mint args too short")
	}
	ownerRaw, err := ctx.Cache.GetStorage(ctx.Contract, tokenOwnerSlot())
	if err != nil {
		return nil, err
	}
	owner, err := primitives.AddressFromBytes(ownerRaw)
	if err != nil || owner != ctx.Caller {
		return nil, errs.New(errs.KindRevertedByContract, "execution: mint caller is not contract owner")
	}
	holder, err := primitives.AddressFromBytes(args[:primitives.AddressSize])
	if err != nil {
		return nil, errs.New(errs.KindRevertedByContract, "execution: invalid mint holder")
	}
	var amtBytes [32]byte
	copy(amtBytes[:], args[primitives.AddressSize:primitives.AddressSize+32])
	amount := primitives.UInt256FromBytes32(amtBytes)

	bal, err := readBalance(ctx, holder)
	if err != nil {
		return nil, err
	}
	newBal, err := bal.CheckedAdd(amount)
	if err != nil {
		return nil, errs.New(errs.KindRevertedByContract, "execution: mint overflow")
	}
	writeBalance(ctx, holder, newBal)
	return []primitives.Log{{Contract: ctx.Contract, EventSig: crypto.Hash([]byte("Mint"))}}, nil
}

// tokenTransfer moves amount from the caller's balance to args[0:20],
// the open contract-SDK operation any holder may invoke.
func tokenTransfer(ctx *CallContext, args []byte) ([]primitives.Log, error) {
	if len(args) < primitives.AddressSize+32 {
		return nil, errs.New(errs.KindRevertedByContract, "execution: transfer args too short")
	}
	to, err := primitives.AddressFromBytes(args[:primitives.AddressSize])
	if err != nil {
		return nil, errs.New(errs.KindRevertedByContract, "execution: invalid transfer recipient")
	}
	var amtBytes [32]byte
	copy(amtBytes[:], args[primitives.AddressSize:primitives.AddressSize+32])
	amount := primitives.UInt256FromBytes32(amtBytes)

	fromBal, err := readBalance(ctx, ctx.Caller)
	if err != nil {
		return nil, err
	}
	newFromBal, err := fromBal.CheckedSub(amount)
	if err != nil {
		return nil, errs.New(errs.KindRevertedByContract, "execution: transfer exceeds balance")
	}
	toBal, err := readBalance(ctx, to)
	if err != nil {
		return nil, err
	}
	newToBal, err := toBal.CheckedAdd(amount)
	if err != nil {
		return nil, errs.New(errs.KindRevertedByContract, "execution: transfer overflow")
	}
	writeBalance(ctx, ctx.Caller, newFromBal)
	writeBalance(ctx, to, newToBal)
	return []primitives.Log{{Contract: ctx.Contract, EventSig: crypto.Hash([]byte("Transfer"))}}, nil
}

// tokenBalanceOf is read-only; it emits the balance as log data rather
// than returning a value, since the executor's dispatch surface has no
// return-value channel (matching this chain's fire-and-log convention
// for contract reads, there being no external query surface in scope).
func tokenBalanceOf(ctx *CallContext, args []byte) ([]primitives.Log, error) {
	if len(args) < primitives.AddressSize {
		return nil, errs.New(errs.KindRevertedByContract, "execution: balance_of args too short")
	}
	holder, err := primitives.AddressFromBytes(args[:primitives.AddressSize])
	if err != nil {
		return nil, errs.New(errs.KindRevertedByContract, "execution: invalid balance_of holder")
	}
	bal, err := readBalance(ctx, holder)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, bal.Uint64())
	return []primitives.Log{{Contract: ctx.Contract, EventSig: crypto.Hash([]byte("BalanceOf")), Data: data}}, nil
}

// DeployToken initializes a freshly deployed token contract's storage,
// recording owner as its privileged minter.
func DeployToken(cache *state.Cache, contract, owner primitives.Address) {
	cache.PutStorage(contract, tokenOwnerSlot(), owner.Bytes())
}
