package state

import (
	"encoding/binary"
	"fmt"

	"github.com/meridianchain/meridian-node/primitives"
)

// Column family prefixes. A single flat KVStore stands in for the six
// logical column families spec §4.3/§6 describes; each family is a
// distinct key prefix within it (teacher's own KVStore is likewise a
// single flat keyspace partitioned by string prefix — core/storage.go,
// core/cross_chain.go).
const (
	colAccount  byte = 0x01 // state: address -> encoded Account
	colStorage  byte = 0x02 // state: address||slot -> raw bytes
	colTrieNode byte = 0x03 // trie_nodes: hash -> encoded node
	colBlockRaw byte = 0x04 // blocks: "raw:" equivalent, block_hash -> encoded Block
	colHeight   byte = 0x05 // block_index: be_u64(height) -> block_hash
	colReceipt  byte = 0x06 // receipts: tx_hash -> encoded Receipt
	colMeta     byte = 0x07 // metadata: scalar key -> value
	colBitmap   byte = 0x08 // commit bitmap: be_u64(height) -> be_u64(bitmap)
	colSlashing byte = 0x09 // slashing: (height,view,validator_index) -> evidence
)

func accountKey(addr primitives.Address) []byte {
	k := make([]byte, 1+primitives.AddressSize)
	k[0] = colAccount
	copy(k[1:], addr[:])
	return k
}

func storageKey(addr primitives.Address, slot [32]byte) []byte {
	k := make([]byte, 1+primitives.AddressSize+32)
	k[0] = colStorage
	copy(k[1:], addr[:])
	copy(k[1+primitives.AddressSize:], slot[:])
	return k
}

func trieNodeKey(h primitives.Hash) []byte {
	k := make([]byte, 1+primitives.HashSize)
	k[0] = colTrieNode
	copy(k[1:], h[:])
	return k
}

func blockKey(h primitives.Hash) []byte {
	k := make([]byte, 1+primitives.HashSize)
	k[0] = colBlockRaw
	copy(k[1:], h[:])
	return k
}

func heightKey(height uint64) []byte {
	k := make([]byte, 9)
	k[0] = colHeight
	binary.BigEndian.PutUint64(k[1:], height)
	return k
}

func receiptKey(txHash primitives.Hash) []byte {
	k := make([]byte, 1+primitives.HashSize)
	k[0] = colReceipt
	copy(k[1:], txHash[:])
	return k
}

func metaKey(name string) []byte {
	return append([]byte{colMeta}, []byte(name)...)
}

func bitmapKey(height uint64) []byte {
	k := make([]byte, 9)
	k[0] = colBitmap
	binary.BigEndian.PutUint64(k[1:], height)
	return k
}

func slashingKey(height uint64, view uint64, validatorIndex uint8) []byte {
	k := make([]byte, 1+8+8+1)
	k[0] = colSlashing
	binary.BigEndian.PutUint64(k[1:9], height)
	binary.BigEndian.PutUint64(k[9:17], view)
	k[17] = validatorIndex
	return k
}

// MetaLatestBlockHash / MetaLatestHeight are the metadata column's
// well-known scalar keys (spec §4.3: "latest-block pointer").
const (
	metaLatestBlockHash = "latest_block_hash"
	metaLatestHeight    = "latest_height"
)

// Store wires the six logical column families over a single KVStore,
// and exposes the typed accessors the executor/consensus/node packages
// use. It owns no locking of its own beyond what the backing KVStore
// guarantees; callers coordinate exclusivity via state.Cache.
type Store struct {
	kv KVStore
}

func NewStore(kv KVStore) *Store { return &Store{kv: kv} }

func (s *Store) KV() KVStore { return s.kv }

func (s *Store) GetAccount(addr primitives.Address) (*primitives.Account, bool, error) {
	raw, err := s.kv.Get(accountKey(addr))
	if err == ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	acc, err := primitives.DecodeAccount(raw)
	if err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

func (s *Store) GetStorage(addr primitives.Address, slot [32]byte) ([]byte, error) {
	raw, err := s.kv.Get(storageKey(addr, slot))
	if err == ErrNotFound {
		return nil, nil
	}
	return raw, err
}

func (s *Store) GetTrieNode(h primitives.Hash) ([]byte, error) {
	raw, err := s.kv.Get(trieNodeKey(h))
	if err == ErrNotFound {
		return nil, fmt.Errorf("state: missing trie node %s", h)
	}
	return raw, err
}

func (s *Store) GetBlockByHash(h primitives.Hash) (*primitives.Block, error) {
	raw, err := s.kv.Get(blockKey(h))
	if err != nil {
		return nil, err
	}
	b := &primitives.Block{}
	if err := b.Decode(primitives.NewReader(raw)); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) GetBlockHashByHeight(height uint64) (primitives.Hash, error) {
	raw, err := s.kv.Get(heightKey(height))
	if err != nil {
		return primitives.Hash{}, err
	}
	return primitives.HashFromBytes(raw)
}

func (s *Store) GetReceipt(txHash primitives.Hash) (*primitives.Receipt, error) {
	raw, err := s.kv.Get(receiptKey(txHash))
	if err != nil {
		return nil, err
	}
	rc := &primitives.Receipt{}
	if err := rc.Decode(primitives.NewReader(raw)); err != nil {
		return nil, err
	}
	return rc, nil
}

func (s *Store) GetCommitBitmap(height uint64) (uint64, error) {
	raw, err := s.kv.Get(bitmapKey(height))
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

// LatestBlockHash returns the metadata column's latest-block pointer, or
// the zero hash if the store is empty (fresh genesis).
func (s *Store) LatestBlockHash() (primitives.Hash, bool, error) {
	raw, err := s.kv.Get(metaKey(metaLatestBlockHash))
	if err == ErrNotFound {
		return primitives.Hash{}, false, nil
	}
	if err != nil {
		return primitives.Hash{}, false, err
	}
	h, err := primitives.HashFromBytes(raw)
	return h, true, err
}

// PutBlock stages a block, its receipts, height index, commit bitmap and
// latest-block pointer into batch — all written atomically with the
// caller's other writes when the caller commits batch (Batch.Commit).
func (s *Store) PutBlock(batch *Batch, b *primitives.Block) error {
	w := primitives.NewWriter(0)
	b.Encode(w)
	h := BlockHash(b)
	batch.Put(blockKey(h), w.Bytes())
	batch.Put(heightKey(b.Header.Number), h[:])
	batch.Put(bitmapKey(b.Header.Number), beUint64(b.Certificate.VoterBitmap))
	batch.Put(metaKey(metaLatestBlockHash), h[:])
	batch.Put(metaKey(metaLatestHeight), beUint64(b.Header.Number))
	for i := range b.Receipts {
		rw := primitives.NewWriter(0)
		b.Receipts[i].Encode(rw)
		batch.Put(receiptKey(b.Receipts[i].TxHash), rw.Bytes())
	}
	return nil
}

func beUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// NewBatch starts a fresh write batch over the store's backing KVStore.
func (s *Store) NewBatch() Batch { return s.kv.NewBatch() }
