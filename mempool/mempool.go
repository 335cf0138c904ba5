// Package mempool implements the nonce-ordered, fingerprint-deduplicated
// transaction queue spec §4.4 describes. The teacher has no dedicated
// mempool (consensus.go takes an opaque txPool interface), so this is
// built fresh, in the teacher's own struct+sync.RWMutex manager idiom
// (see core/access_control.go, core/charity_pool_management.go: a flat
// struct holding maps, guarded by one mutex, exposing plain methods).
package mempool

import (
	"sort"
	"sync"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/errs"
	"github.com/meridianchain/meridian-node/gas"
	"github.com/meridianchain/meridian-node/primitives"
)

// AccountView is the minimal read-only account lookup the mempool needs,
// decoupling it from any concrete state package — the same
// adapter-interface idiom the teacher uses for its txPool/networkAdapter
// dependencies in core/consensus.go.
type AccountView interface {
	GetAccount(addr primitives.Address) (*primitives.Account, bool, error)
}

// Config bundles the chain parameters admission checks depend on.
type Config struct {
	ChainID             uint32
	NonceWindow         uint64 // max (tx.Nonce - account.Nonce) admitted ahead of the floor
	MaxTransactionBytes int
	MaxSize             int // max number of pending transactions across all senders
}

type entry struct {
	tx     *primitives.Transaction
	hash   primitives.Hash
	effTip primitives.UInt256
}

// Mempool holds one nonce-ordered queue per sender plus a global
// tx-hash fingerprint index, per spec §4.4.
type Mempool struct {
	mu sync.RWMutex

	cfg      Config
	accounts AccountView
	baseFee  primitives.UInt256

	bySender map[primitives.Address]map[uint64]*entry
	byHash   map[primitives.Hash]*entry
	count    int
}

func New(cfg Config, accounts AccountView, baseFee primitives.UInt256) *Mempool {
	return &Mempool{
		cfg:      cfg,
		accounts: accounts,
		baseFee:  baseFee,
		bySender: make(map[primitives.Address]map[uint64]*entry),
		byHash:   make(map[primitives.Hash]*entry),
	}
}

// SetBaseFee updates the current base fee used for fee-coherence checks
// and effective-tip ranking — called by the node orchestrator whenever a
// new block changes it.
func (m *Mempool) SetBaseFee(baseFee primitives.UInt256) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseFee = baseFee
}

func txHash(tx *primitives.Transaction) primitives.Hash {
	return crypto.Hash(tx.EncodeUnsigned())
}

// effectiveTipPerGas = min(max_priority_fee, max_fee - base_fee) in
// dynamic-fee mode, or gas_price - base_fee in legacy mode (floored at
// zero, never negative — a tx below the floor should have already been
// rejected at admission).
func effectiveTipPerGas(tx *primitives.Transaction, baseFee primitives.UInt256) primitives.UInt256 {
	if tx.IsDynamicFee() {
		if tx.MaxFeePerGas.Cmp(baseFee) <= 0 {
			return primitives.ZeroUInt256()
		}
		headroom := tx.MaxFeePerGas.Sub(baseFee)
		return primitives.MinUInt256(tx.MaxPriorityFeePerGas, headroom)
	}
	if tx.GasPrice.Cmp(baseFee) <= 0 {
		return primitives.ZeroUInt256()
	}
	return tx.GasPrice.Sub(baseFee)
}

func effectiveGasPrice(tx *primitives.Transaction, baseFee primitives.UInt256) primitives.UInt256 {
	if tx.IsDynamicFee() {
		return primitives.MinUInt256(tx.MaxFeePerGas, baseFee.Add(tx.MaxPriorityFeePerGas))
	}
	return tx.GasPrice
}

// Submit runs the four-stage admission pipeline from spec §4.4 and, on
// success, adds tx to its sender's nonce-ordered queue. A resubmission of
// an already-pending transaction (same hash) is a silent idempotent
// accept, not an error.
func (m *Mempool) Submit(tx *primitives.Transaction) error {
	h := txHash(tx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[h]; ok {
		return nil
	}

	if err := m.checkStructural(tx); err != nil {
		return err
	}

	acct, ok, err := m.accounts.GetAccount(tx.Sender)
	if err != nil {
		return err
	}
	var accountNonce uint64
	var balance primitives.UInt256
	if ok {
		accountNonce = acct.Nonce
		balance = acct.Balance
	}

	if err := m.checkNonce(tx, accountNonce); err != nil {
		return err
	}
	if err := m.checkFees(tx); err != nil {
		return err
	}
	if err := m.checkBalance(tx, balance); err != nil {
		return err
	}

	if m.count >= m.cfg.MaxSize {
		m.evictForRoom()
	}

	e := &entry{tx: tx, hash: h, effTip: effectiveTipPerGas(tx, m.baseFee)}
	queue, exists := m.bySender[tx.Sender]
	if !exists {
		queue = make(map[uint64]*entry)
		m.bySender[tx.Sender] = queue
	}
	queue[tx.Nonce] = e
	m.byHash[h] = e
	m.count++
	return nil
}

func (m *Mempool) checkStructural(tx *primitives.Transaction) error {
	if len(tx.Data) > m.cfg.MaxTransactionBytes {
		return errs.New(errs.KindOversizedInput, "mempool: transaction data exceeds max size")
	}
	if tx.ChainID != m.cfg.ChainID {
		return errs.New(errs.KindChainIDMismatch, "mempool: chain id mismatch")
	}
	if tx.SenderPubKey.Algo != primitives.AlgoEd25519 {
		return errs.New(errs.KindInvalidSignature, "mempool: sender pubkey must be ed25519")
	}
	derived := crypto.DeriveAddress(tx.SenderPubKey.Raw)
	if derived != tx.Sender {
		return errs.New(errs.KindInvalidSignature, "mempool: sender pubkey does not hash to sender address")
	}
	if !crypto.VerifyEd25519(tx.SenderPubKey.Raw, tx.EncodeUnsigned(), tx.Signature) {
		return errs.New(errs.KindInvalidSignature, "mempool: signature does not verify")
	}
	return nil
}

func (m *Mempool) checkNonce(tx *primitives.Transaction, accountNonce uint64) error {
	if tx.Nonce < accountNonce {
		return errs.New(errs.KindNonceTooLow, "mempool: nonce below account nonce")
	}
	if tx.Nonce > accountNonce+m.cfg.NonceWindow {
		return errs.New(errs.KindNonceGap, "mempool: nonce gap exceeds admission window")
	}
	return nil
}

func (m *Mempool) checkFees(tx *primitives.Transaction) error {
	intrinsic := gas.Intrinsic(tx.Kind, tx.Data)
	if tx.GasLimit < intrinsic {
		return errs.New(errs.KindFeeBelowBase, "mempool: gas limit below intrinsic gas")
	}
	if tx.IsDynamicFee() {
		if tx.MaxPriorityFeePerGas.Cmp(tx.MaxFeePerGas) > 0 {
			return errs.New(errs.KindFeeBelowBase, "mempool: max priority fee exceeds max fee")
		}
		if tx.MaxFeePerGas.Cmp(m.baseFee) < 0 {
			return errs.New(errs.KindFeeBelowBase, "mempool: max fee below current base fee")
		}
		return nil
	}
	if tx.GasPrice.Cmp(m.baseFee) < 0 {
		return errs.New(errs.KindFeeBelowBase, "mempool: gas price below current base fee")
	}
	return nil
}

func (m *Mempool) checkBalance(tx *primitives.Transaction, balance primitives.UInt256) error {
	price := effectiveGasPrice(tx, m.baseFee)
	cost := primitives.NewUInt256FromUint64(tx.GasLimit).Mul(price).Add(tx.Value)
	if balance.Cmp(cost) < 0 {
		return errs.New(errs.KindInsufficientFunds, "mempool: balance insufficient for gas_limit*price+value")
	}
	return nil
}

// evictForRoom drops the lowest-tip transaction belonging to the
// largest-queue sender, per spec §4.4's eviction rule. Must be called
// with m.mu held.
func (m *Mempool) evictForRoom() {
	var victimSender primitives.Address
	var victimQueueSize int
	found := false
	for addr, q := range m.bySender {
		if len(q) > victimQueueSize {
			victimQueueSize = len(q)
			victimSender = addr
			found = true
		}
	}
	if !found {
		return
	}
	queue := m.bySender[victimSender]
	var lowest *entry
	var lowestNonce uint64
	for nonce, e := range queue {
		if lowest == nil || e.effTip.Cmp(lowest.effTip) < 0 {
			lowest = e
			lowestNonce = nonce
		}
	}
	if lowest == nil {
		return
	}
	delete(queue, lowestNonce)
	delete(m.byHash, lowest.hash)
	m.count--
	if len(queue) == 0 {
		delete(m.bySender, victimSender)
	}
}

// Remove drops a transaction (by hash) from the pool, used after it is
// included in a committed block.
func (m *Mempool) Remove(hash primitives.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byHash[hash]
	if !ok {
		return
	}
	delete(m.byHash, hash)
	if q, ok := m.bySender[e.tx.Sender]; ok {
		delete(q, e.tx.Nonce)
		if len(q) == 0 {
			delete(m.bySender, e.tx.Sender)
		}
	}
	m.count--
}

// Has reports whether hash is currently pending.
func (m *Mempool) Has(hash primitives.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byHash[hash]
	return ok
}

// Len returns the total number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Pending returns up to limit transactions ready for block inclusion:
// within each sender, strictly nonce-ascending starting at the account's
// current nonce (no gaps); across senders, ranked by descending
// effective tip per gas, per spec §4.4.
func (m *Mempool) Pending(limit int) ([]*primitives.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type head struct {
		addr primitives.Address
		next uint64
	}
	var heads []head
	for addr := range m.bySender {
		acct, ok, err := m.accounts.GetAccount(addr)
		if err != nil {
			return nil, err
		}
		var nonce uint64
		if ok {
			nonce = acct.Nonce
		}
		heads = append(heads, head{addr: addr, next: nonce})
	}

	var out []*primitives.Transaction
	for len(out) < limit {
		bestIdx := -1
		var bestTip primitives.UInt256
		var bestEntry *entry
		for i, h := range heads {
			q := m.bySender[h.addr]
			e, ok := q[h.next]
			if !ok {
				continue
			}
			if bestIdx == -1 || e.effTip.Cmp(bestTip) > 0 {
				bestIdx = i
				bestTip = e.effTip
				bestEntry = e
			}
		}
		if bestIdx == -1 {
			break
		}
		out = append(out, bestEntry.tx)
		heads[bestIdx].next++
	}
	return out, nil
}

// PendingBySender returns a sender's queued transactions in ascending
// nonce order, for inspection/devtool use.
func (m *Mempool) PendingBySender(addr primitives.Address) []*primitives.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.bySender[addr]
	if !ok {
		return nil
	}
	nonces := make([]uint64, 0, len(q))
	for n := range q {
		nonces = append(nonces, n)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	out := make([]*primitives.Transaction, len(nonces))
	for i, n := range nonces {
		out[i] = q[n].tx
	}
	return out
}
