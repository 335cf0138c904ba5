package state

import (
	"testing"

	"github.com/meridianchain/meridian-node/primitives"
)

func keyFromString(s string) [32]byte {
	var k [32]byte
	copy(k[:], s)
	return k
}

func newTestTrie() (*Trie, *Store) {
	mem := NewMemStore()
	store := NewStore(mem)
	trie := NewTrie(primitives.Hash{}, func(h primitives.Hash) ([]byte, error) {
		return store.GetTrieNode(h)
	})
	return trie, store
}

func TestTriePutGetSingle(t *testing.T) {
	trie, _ := newTestTrie()
	k := keyFromString("alpha-key-alpha-key-alpha-key-aa")
	if _, err := trie.Put(k, []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := trie.Get(k)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if string(v) != "v1" {
		t.Fatalf("expected v1, got %q", v)
	}
}

func TestTrieDivergingKeysBranch(t *testing.T) {
	trie, _ := newTestTrie()
	k1 := keyFromString("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	k2 := keyFromString("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab")

	if _, err := trie.Put(k1, []byte("one")); err != nil {
		t.Fatalf("put k1: %v", err)
	}
	if _, err := trie.Put(k2, []byte("two")); err != nil {
		t.Fatalf("put k2: %v", err)
	}

	v1, ok, err := trie.Get(k1)
	if err != nil || !ok || string(v1) != "one" {
		t.Fatalf("k1 lookup wrong: %q ok=%v err=%v", v1, ok, err)
	}
	v2, ok, err := trie.Get(k2)
	if err != nil || !ok || string(v2) != "two" {
		t.Fatalf("k2 lookup wrong: %q ok=%v err=%v", v2, ok, err)
	}
}

func TestTrieUpdateChangesRoot(t *testing.T) {
	trie, _ := newTestTrie()
	k := keyFromString("some-deterministic-32-byte-key!!")
	r1, _ := trie.Put(k, []byte("v1"))
	r2, _ := trie.Put(k, []byte("v2"))
	if r1 == r2 {
		t.Fatalf("expected root to change after update")
	}
	v, ok, _ := trie.Get(k)
	if !ok || string(v) != "v2" {
		t.Fatalf("expected v2, got %q ok=%v", v, ok)
	}
}

func TestTrieDeleteRemovesKey(t *testing.T) {
	trie, _ := newTestTrie()
	k1 := keyFromString("111111111111111111111111111111")
	k2 := keyFromString("222222222222222222222222222222")
	trie.Put(k1, []byte("one"))
	trie.Put(k2, []byte("two"))

	if _, err := trie.Delete(k1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err := trie.Get(k1)
	if err != nil {
		t.Fatalf("get after delete errored: %v", err)
	}
	if ok {
		t.Fatalf("expected k1 to be absent after delete")
	}
	v2, ok, err := trie.Get(k2)
	if err != nil || !ok || string(v2) != "two" {
		t.Fatalf("k2 should survive k1's deletion: %q ok=%v err=%v", v2, ok, err)
	}
}

func TestTrieDeleteAllEmptiesRoot(t *testing.T) {
	trie, _ := newTestTrie()
	k := keyFromString("only-key-in-this-trie-32-bytes!!")
	trie.Put(k, []byte("v"))
	root, err := trie.Delete(k)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !root.IsZero() {
		t.Fatalf("expected empty trie after deleting its only key")
	}
}

func TestTrieFlushPersistsNodesAndReopens(t *testing.T) {
	trie, store := newTestTrie()
	k := keyFromString("persisted-key-persisted-key!!!!")
	root, err := trie.Put(k, []byte("persist-me"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	batch := store.NewBatch()
	trie.Flush(&batch)
	if err := batch.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reopened := NewTrie(root, func(h primitives.Hash) ([]byte, error) {
		return store.GetTrieNode(h)
	})
	v, ok, err := reopened.Get(k)
	if err != nil || !ok || string(v) != "persist-me" {
		t.Fatalf("reopened trie lookup failed: %q ok=%v err=%v", v, ok, err)
	}
}

func TestTrieProveAndVerify(t *testing.T) {
	trie, _ := newTestTrie()
	k1 := keyFromString("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	k2 := keyFromString("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab")
	trie.Put(k1, []byte("one"))
	trie.Put(k2, []byte("two"))

	steps, err := trie.Prove(k1)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	val, included, err := VerifyProof(trie.RootHash(), k1, steps)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !included || string(val) != "one" {
		t.Fatalf("expected inclusion proof for k1, got included=%v val=%q", included, val)
	}
}

func TestTrieEmptyRootIsZero(t *testing.T) {
	trie, _ := newTestTrie()
	if !trie.RootHash().IsZero() {
		t.Fatalf("expected empty trie root to be zero hash")
	}
}
