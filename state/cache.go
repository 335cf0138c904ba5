package state

import (
	"sync"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/primitives"
)

// storageSlotKey identifies one (address, slot) storage cell.
type storageSlotKey struct {
	addr primitives.Address
	slot [32]byte
}

// Cache is the flat read/write layer the executor operates against on its
// hot path, sitting in front of the trie per spec §4.3 ("a flat cache in
// front of the trie to avoid re-hashing on every write within a block").
// Every transaction gets a snapshot id it can roll back to on revert;
// IntermediateRoot stages each transaction's changes into the trie, and
// the whole cache is written into a single write Batch only at block
// commit (Flush), never per-transaction.
type Cache struct {
	mu sync.Mutex

	store *Store
	trie  *Trie

	accounts map[primitives.Address]*primitives.Account
	storage  map[storageSlotKey][]byte

	acctTombstones map[primitives.Address]bool
	slotTombstones map[storageSlotKey]bool

	// dirtyAccounts/dirtySlots track entries touched since the last
	// staging pass, so only the delta is re-staged into the trie instead
	// of the whole cache. IntermediateRoot stages once per transaction
	// (for the receipt's post_state_root) and Flush once more at block
	// commit; the cache maps stay populated between IntermediateRoot calls
	// so later transactions see earlier writes, and Flush clears them.
	dirtyAccounts map[primitives.Address]bool
	dirtySlots    map[storageSlotKey]bool

	// journal records mutations in order so Rollback(snapshot) can undo
	// exactly the entries made after that snapshot, mirroring how the
	// teacher's core/ledger state managers support per-call undo.
	journal []journalEntry
}

type journalKind uint8

const (
	journalAccount journalKind = iota
	journalStorage
)

type journalEntry struct {
	kind journalKind
	addr primitives.Address
	slot [32]byte

	hadAccount bool
	prevAcct   *primitives.Account

	hadStorage bool
	prevStore  []byte
}

// NewCache opens a flat cache over store, rooted at the trie whose root is
// rootHash (zero hash for a brand-new, empty state).
func NewCache(store *Store, rootHash primitives.Hash) *Cache {
	c := &Cache{
		store:          store,
		accounts:       make(map[primitives.Address]*primitives.Account),
		storage:        make(map[storageSlotKey][]byte),
		acctTombstones: make(map[primitives.Address]bool),
		slotTombstones: make(map[storageSlotKey]bool),
		dirtyAccounts:  make(map[primitives.Address]bool),
		dirtySlots:     make(map[storageSlotKey]bool),
	}
	c.trie = NewTrie(rootHash, func(h primitives.Hash) ([]byte, error) {
		return store.GetTrieNode(h)
	})
	return c
}

// RootHash returns the trie root as of the last IntermediateRoot or Flush
// (cache entries touched since then are not reflected).
func (c *Cache) RootHash() primitives.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trie.RootHash()
}

// GetAccount returns addr's account, checking the cache before falling
// through to the backing store.
func (c *Cache) GetAccount(addr primitives.Address) (*primitives.Account, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getAccountLocked(addr)
}

func (c *Cache) getAccountLocked(addr primitives.Address) (*primitives.Account, bool, error) {
	if acc, ok := c.accounts[addr]; ok {
		return acc, true, nil
	}
	if c.acctTombstones[addr] {
		return nil, false, nil
	}
	acc, ok, err := c.store.GetAccount(addr)
	if err != nil || !ok {
		return nil, false, err
	}
	c.accounts[addr] = acc
	return acc, true, nil
}

// PutAccount upserts addr's account in the cache.
func (c *Cache) PutAccount(addr primitives.Address, acc *primitives.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, had, _ := c.getAccountLocked(addr)
	c.journal = append(c.journal, journalEntry{kind: journalAccount, addr: addr, hadAccount: had, prevAcct: prev})
	cp := *acc
	c.accounts[addr] = &cp
	delete(c.acctTombstones, addr)
	c.dirtyAccounts[addr] = true
}

// DeleteAccount tombstones addr so a subsequent Flush removes it from the
// trie and backing store.
func (c *Cache) DeleteAccount(addr primitives.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, had, _ := c.getAccountLocked(addr)
	c.journal = append(c.journal, journalEntry{kind: journalAccount, addr: addr, hadAccount: had, prevAcct: prev})
	delete(c.accounts, addr)
	c.acctTombstones[addr] = true
	c.dirtyAccounts[addr] = true
}

// GetStorage returns the raw bytes at (addr, slot), or nil if unset.
func (c *Cache) GetStorage(addr primitives.Address, slot [32]byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getStorageLocked(addr, slot)
}

func (c *Cache) getStorageLocked(addr primitives.Address, slot [32]byte) ([]byte, error) {
	k := storageSlotKey{addr, slot}
	if v, ok := c.storage[k]; ok {
		return v, nil
	}
	if c.slotTombstones[k] {
		return nil, nil
	}
	v, err := c.store.GetStorage(addr, slot)
	if err != nil {
		return nil, err
	}
	c.storage[k] = v
	return v, nil
}

// PutStorage upserts the bytes at (addr, slot).
func (c *Cache) PutStorage(addr primitives.Address, slot [32]byte, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := storageSlotKey{addr, slot}
	prev, _ := c.getStorageLocked(addr, slot)
	c.journal = append(c.journal, journalEntry{kind: journalStorage, addr: addr, slot: slot, hadStorage: true, prevStore: prev})
	v := make([]byte, len(value))
	copy(v, value)
	c.storage[k] = v
	delete(c.slotTombstones, k)
	c.dirtySlots[k] = true
}

// DeleteStorage tombstones (addr, slot).
func (c *Cache) DeleteStorage(addr primitives.Address, slot [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := storageSlotKey{addr, slot}
	prev, _ := c.getStorageLocked(addr, slot)
	c.journal = append(c.journal, journalEntry{kind: journalStorage, addr: addr, slot: slot, hadStorage: true, prevStore: prev})
	delete(c.storage, k)
	c.slotTombstones[k] = true
	c.dirtySlots[k] = true
}

// Snapshot returns a mark the caller can later Rollback to, undoing every
// mutation made since — the per-transaction revert point spec §4.5
// (execution) relies on for reverted transactions.
func (c *Cache) Snapshot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.journal)
}

// Rollback undoes every mutation recorded since snapshot, in reverse order.
func (c *Cache) Rollback(snapshot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.journal) - 1; i >= snapshot; i-- {
		e := c.journal[i]
		switch e.kind {
		case journalAccount:
			if e.hadAccount {
				c.accounts[e.addr] = e.prevAcct
				delete(c.acctTombstones, e.addr)
			} else {
				delete(c.accounts, e.addr)
				c.acctTombstones[e.addr] = true
			}
		case journalStorage:
			k := storageSlotKey{e.addr, e.slot}
			if e.prevStore != nil {
				c.storage[k] = e.prevStore
				delete(c.slotTombstones, k)
			} else {
				delete(c.storage, k)
				c.slotTombstones[k] = true
			}
		}
	}
	c.journal = c.journal[:snapshot]
}

// stageDirtyLocked replays every account/slot touched since the last call
// into the trie, updating t.root and t.dirty, without touching batch or
// the backing store. Called with c.mu already held.
func (c *Cache) stageDirtyLocked() (primitives.Hash, error) {
	for addr := range c.dirtyAccounts {
		if c.acctTombstones[addr] {
			if _, err := c.trie.Delete(accountTrieKey(addr)); err != nil {
				return primitives.Hash{}, err
			}
			continue
		}
		acc, ok := c.accounts[addr]
		if !ok {
			continue
		}
		w := primitives.NewWriter(primitives.AccountEncodedSize)
		acc.Encode(w)
		if _, err := c.trie.Put(accountTrieKey(addr), w.Bytes()); err != nil {
			return primitives.Hash{}, err
		}
	}
	for k := range c.dirtySlots {
		if c.slotTombstones[k] {
			if _, err := c.trie.Delete(storageTrieKey(k.addr, k.slot)); err != nil {
				return primitives.Hash{}, err
			}
			continue
		}
		v, ok := c.storage[k]
		if !ok {
			continue
		}
		if _, err := c.trie.Put(storageTrieKey(k.addr, k.slot), v); err != nil {
			return primitives.Hash{}, err
		}
	}
	c.dirtyAccounts = make(map[primitives.Address]bool)
	c.dirtySlots = make(map[storageSlotKey]bool)
	return c.trie.RootHash(), nil
}

// IntermediateRoot replays every mutation made since the last call (or
// since the cache was opened) into the trie and returns the resulting
// root, without writing anything to a batch or clearing the journal. The
// executor calls this once per transaction to fill a receipt's
// post_state_root, per spec §4.5 step 8 — cheap, since unchanged trie
// nodes are never rehashed (state.Trie's copy-on-write sharing), and the
// accumulated t.dirty set is only written out once by Flush.
func (c *Cache) IntermediateRoot() (primitives.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stageDirtyLocked()
}

// Flush is the atomic block-commit step: it stages any remaining dirty
// entries, then writes every trie node staged since the trie was opened
// (across every transaction in the block, not just the latest one) into
// batch in one pass, mirroring every account/slot's latest value into the
// flat key-value mirror too. Call this exactly once per block, after its
// last transaction, then commit batch. The flat cache and journal are
// cleared afterward so the next block starts from the committed view.
func (c *Cache) Flush(batch *Batch) (primitives.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.stageDirtyLocked(); err != nil {
		return primitives.Hash{}, err
	}

	for addr, acc := range c.accounts {
		w := primitives.NewWriter(primitives.AccountEncodedSize)
		acc.Encode(w)
		batch.Put(accountKey(addr), w.Bytes())
	}
	for addr := range c.acctTombstones {
		batch.Delete(accountKey(addr))
	}
	for k, v := range c.storage {
		batch.Put(storageKey(k.addr, k.slot), v)
	}
	for k := range c.slotTombstones {
		batch.Delete(storageKey(k.addr, k.slot))
	}

	c.trie.Flush(batch)

	root := c.trie.RootHash()

	c.accounts = make(map[primitives.Address]*primitives.Account)
	c.storage = make(map[storageSlotKey][]byte)
	c.acctTombstones = make(map[primitives.Address]bool)
	c.slotTombstones = make(map[storageSlotKey]bool)
	c.journal = nil

	return root, nil
}

// Reset discards the entire flat cache and reopens the trie at rootHash,
// for the node orchestrator to rebind a Cache to a different historical
// root (e.g. after chain replay) without constructing a fresh Cache.
func (c *Cache) Reset(rootHash primitives.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts = make(map[primitives.Address]*primitives.Account)
	c.storage = make(map[storageSlotKey][]byte)
	c.acctTombstones = make(map[primitives.Address]bool)
	c.slotTombstones = make(map[storageSlotKey]bool)
	c.dirtyAccounts = make(map[primitives.Address]bool)
	c.dirtySlots = make(map[storageSlotKey]bool)
	c.journal = nil
	c.trie = NewTrie(rootHash, func(h primitives.Hash) ([]byte, error) {
		return c.store.GetTrieNode(h)
	})
}

// accountTrieKey derives an account's 32-byte trie key by left-padding its
// 20-byte address, keeping addresses and storage cells in visibly distinct
// key ranges within the same trie.
func accountTrieKey(addr primitives.Address) [32]byte {
	var k [32]byte
	copy(k[12:], addr[:])
	return k
}

// storageTrieKey derives a storage cell's trie key by hashing together the
// address and slot — collisions with account keys are precluded because
// trie keys are content-addressed by pair hash, not by direct encoding.
func storageTrieKey(addr primitives.Address, slot [32]byte) [32]byte {
	var buf [primitives.AddressSize + 32]byte
	copy(buf[:], addr[:])
	copy(buf[primitives.AddressSize:], slot[:])
	h := crypto.Hash(buf[:])
	return [32]byte(h)
}
