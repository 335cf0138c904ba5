package state

import (
	"errors"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/primitives"
)

// ---------------------------------------------------------------------
// Node encoding
//
// Trie keys are always 32-byte hashes (the world-state trie keys on
// addresses padded/hashed to 32 bytes; the spec's §4.3 applies equally
// to any 32-byte-keyed trie). Because every key has identical length,
// value-bearing nodes are always leaves — branch nodes never need their
// own terminal value, which keeps the node set to exactly the three
// variants spec §4.3 names: leaf, extension, branch.
// ---------------------------------------------------------------------

type nodeKind uint8

const (
	kindLeaf nodeKind = iota
	kindExtension
	kindBranch
)

// node is the in-memory decoded form of a trie node.
type node struct {
	kind nodeKind

	// leaf
	keyEnd []byte // nibbles
	value  []byte

	// extension
	keyFragment []byte // nibbles
	child       primitives.Hash

	// branch
	children [16]primitives.Hash
}

func (n *node) encode() []byte {
	w := primitives.NewWriter(64)
	w.PutUint8(uint8(n.kind))
	switch n.kind {
	case kindLeaf:
		w.PutBytes(n.keyEnd)
		w.PutBytes(n.value)
	case kindExtension:
		w.PutBytes(n.keyFragment)
		w.PutHash(n.child)
	case kindBranch:
		for _, c := range n.children {
			w.PutHash(c)
		}
	}
	return w.Bytes()
}

func decodeNode(b []byte) (*node, error) {
	r := primitives.NewReader(b)
	kindRaw, err := r.GetUint8()
	if err != nil {
		return nil, err
	}
	n := &node{kind: nodeKind(kindRaw)}
	switch n.kind {
	case kindLeaf:
		if n.keyEnd, err = r.GetBytes(); err != nil {
			return nil, err
		}
		if n.value, err = r.GetBytes(); err != nil {
			return nil, err
		}
	case kindExtension:
		if n.keyFragment, err = r.GetBytes(); err != nil {
			return nil, err
		}
		if n.child, err = r.GetHash(); err != nil {
			return nil, err
		}
	case kindBranch:
		for i := range n.children {
			if n.children[i], err = r.GetHash(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.New("state: unknown trie node kind")
	}
	return n, nil
}

func hashNode(n *node) primitives.Hash {
	return crypto.Hash(n.encode())
}

// ---------------------------------------------------------------------
// Nibble helpers
// ---------------------------------------------------------------------

func toNibbles(key []byte) []byte {
	out := make([]byte, len(key)*2)
	for i, b := range key {
		out[i*2] = b >> 4
		out[i*2+1] = b & 0x0f
	}
	return out
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// ---------------------------------------------------------------------
// Trie
// ---------------------------------------------------------------------

// EmptyTrieRootPlaceholder is the root hash of a trie with no entries —
// the zero hash, since an empty trie has no root node to hash. Accounts
// of kind Eoa must carry this as their StorageRoot (spec §3).
var EmptyTrieRootPlaceholder = primitives.Hash{}

// Trie is a content-addressed Merkle Patricia Trie over 32-byte keys.
// Reads fall through to the backing node store; writes stage new nodes
// in a dirty set that Flush persists in one batch, giving the
// copy-on-write sharing spec §4.3 requires (unchanged branches are never
// re-encoded, so they keep their original hash and are never rewritten).
type Trie struct {
	nodeSource func(primitives.Hash) ([]byte, error)
	root       primitives.Hash
	dirty      map[primitives.Hash][]byte
}

// NewTrie opens a trie at root (zero hash for a fresh/empty trie), reading
// missing nodes from load.
func NewTrie(root primitives.Hash, load func(primitives.Hash) ([]byte, error)) *Trie {
	return &Trie{nodeSource: load, root: root, dirty: make(map[primitives.Hash][]byte)}
}

func (t *Trie) RootHash() primitives.Hash { return t.root }

func (t *Trie) loadNode(h primitives.Hash) (*node, error) {
	if raw, ok := t.dirty[h]; ok {
		return decodeNode(raw)
	}
	raw, err := t.nodeSource(h)
	if err != nil {
		return nil, err
	}
	return decodeNode(raw)
}

func (t *Trie) stage(n *node) primitives.Hash {
	h := hashNode(n)
	t.dirty[h] = n.encode()
	return h
}

// Get returns the value stored at key, or (nil, false) if absent.
func (t *Trie) Get(key [32]byte) ([]byte, bool, error) {
	if t.root.IsZero() {
		return nil, false, nil
	}
	return t.get(t.root, toNibbles(key[:]))
}

func (t *Trie) get(h primitives.Hash, path []byte) ([]byte, bool, error) {
	n, err := t.loadNode(h)
	if err != nil {
		return nil, false, err
	}
	switch n.kind {
	case kindLeaf:
		if string(n.keyEnd) == string(path) {
			return n.value, true, nil
		}
		return nil, false, nil
	case kindExtension:
		if len(path) < len(n.keyFragment) || string(path[:len(n.keyFragment)]) != string(n.keyFragment) {
			return nil, false, nil
		}
		return t.get(n.child, path[len(n.keyFragment):])
	case kindBranch:
		if len(path) == 0 {
			return nil, false, nil
		}
		next := n.children[path[0]]
		if next.IsZero() {
			return nil, false, nil
		}
		return t.get(next, path[1:])
	}
	return nil, false, errors.New("state: corrupt trie node")
}

// Put inserts or updates the value at key and returns the new root hash.
func (t *Trie) Put(key [32]byte, value []byte) (primitives.Hash, error) {
	path := toNibbles(key[:])
	if t.root.IsZero() {
		leaf := &node{kind: kindLeaf, keyEnd: path, value: append([]byte(nil), value...)}
		t.root = t.stage(leaf)
		return t.root, nil
	}
	newRoot, err := t.put(t.root, path, value)
	if err != nil {
		return primitives.Hash{}, err
	}
	t.root = newRoot
	return t.root, nil
}

func (t *Trie) put(h primitives.Hash, path []byte, value []byte) (primitives.Hash, error) {
	n, err := t.loadNode(h)
	if err != nil {
		return primitives.Hash{}, err
	}
	switch n.kind {
	case kindLeaf:
		if string(n.keyEnd) == string(path) {
			leaf := &node{kind: kindLeaf, keyEnd: path, value: append([]byte(nil), value...)}
			return t.stage(leaf), nil
		}
		return t.splitLeaf(n, path, value)
	case kindExtension:
		cp := commonPrefixLen(n.keyFragment, path)
		if cp == len(n.keyFragment) {
			newChild, err := t.put(n.child, path[cp:], value)
			if err != nil {
				return primitives.Hash{}, err
			}
			ext := &node{kind: kindExtension, keyFragment: n.keyFragment, child: newChild}
			return t.stage(ext), nil
		}
		return t.splitExtension(n, cp, path, value)
	case kindBranch:
		if len(path) == 0 {
			return primitives.Hash{}, errors.New("state: branch terminal values unsupported for fixed-length keys")
		}
		branch := *n
		idx := path[0]
		if branch.children[idx].IsZero() {
			leaf := &node{kind: kindLeaf, keyEnd: path[1:], value: append([]byte(nil), value...)}
			branch.children[idx] = t.stage(leaf)
		} else {
			newChild, err := t.put(branch.children[idx], path[1:], value)
			if err != nil {
				return primitives.Hash{}, err
			}
			branch.children[idx] = newChild
		}
		return t.stage(&branch), nil
	}
	return primitives.Hash{}, errors.New("state: corrupt trie node")
}

// splitLeaf handles inserting a value whose path diverges from an
// existing leaf's key partway through, creating a branch (and possibly
// an extension prefix) at the divergence point.
func (t *Trie) splitLeaf(existing *node, path []byte, value []byte) (primitives.Hash, error) {
	cp := commonPrefixLen(existing.keyEnd, path)

	var branch node
	branch.kind = kindBranch

	if cp == len(existing.keyEnd) {
		return primitives.Hash{}, errors.New("state: duplicate key length mismatch")
	}
	branch.children[existing.keyEnd[cp]] = t.stage(&node{
		kind: kindLeaf, keyEnd: existing.keyEnd[cp+1:], value: existing.value,
	})
	branch.children[path[cp]] = t.stage(&node{
		kind: kindLeaf, keyEnd: path[cp+1:], value: append([]byte(nil), value...),
	})
	branchHash := t.stage(&branch)

	if cp == 0 {
		return branchHash, nil
	}
	ext := &node{kind: kindExtension, keyFragment: path[:cp], child: branchHash}
	return t.stage(ext), nil
}

// splitExtension handles inserting a value whose path diverges from an
// extension node's shared fragment at position cp < len(fragment).
func (t *Trie) splitExtension(existing *node, cp int, path []byte, value []byte) (primitives.Hash, error) {
	var branch node
	branch.kind = kindBranch

	remainingExisting := existing.keyFragment[cp+1:]
	divergingNibble := existing.keyFragment[cp]
	if len(remainingExisting) == 0 {
		branch.children[divergingNibble] = existing.child
	} else {
		ext := &node{kind: kindExtension, keyFragment: remainingExisting, child: existing.child}
		branch.children[divergingNibble] = t.stage(ext)
	}

	if cp == len(path) {
		return primitives.Hash{}, errors.New("state: key shorter than existing extension fragment")
	}
	branch.children[path[cp]] = t.stage(&node{
		kind: kindLeaf, keyEnd: path[cp+1:], value: append([]byte(nil), value...),
	})
	branchHash := t.stage(&branch)

	if cp == 0 {
		return branchHash, nil
	}
	ext := &node{kind: kindExtension, keyFragment: path[:cp], child: branchHash}
	return t.stage(ext), nil
}

// Delete removes key, returning the new root hash (zero if the trie
// becomes empty). Deleting an absent key is a no-op.
func (t *Trie) Delete(key [32]byte) (primitives.Hash, error) {
	if t.root.IsZero() {
		return t.root, nil
	}
	newRoot, changed, err := t.delete(t.root, toNibbles(key[:]))
	if err != nil {
		return primitives.Hash{}, err
	}
	if changed {
		t.root = newRoot
	}
	return t.root, nil
}

func (t *Trie) delete(h primitives.Hash, path []byte) (primitives.Hash, bool, error) {
	n, err := t.loadNode(h)
	if err != nil {
		return primitives.Hash{}, false, err
	}
	switch n.kind {
	case kindLeaf:
		if string(n.keyEnd) != string(path) {
			return h, false, nil
		}
		return primitives.Hash{}, true, nil
	case kindExtension:
		if len(path) < len(n.keyFragment) || string(path[:len(n.keyFragment)]) != string(n.keyFragment) {
			return h, false, nil
		}
		newChild, changed, err := t.delete(n.child, path[len(n.keyFragment):])
		if err != nil {
			return primitives.Hash{}, false, err
		}
		if !changed {
			return h, false, nil
		}
		if newChild.IsZero() {
			return primitives.Hash{}, true, nil
		}
		ext := &node{kind: kindExtension, keyFragment: n.keyFragment, child: newChild}
		return t.stage(ext), true, nil
	case kindBranch:
		if len(path) == 0 {
			return h, false, nil
		}
		idx := path[0]
		if n.children[idx].IsZero() {
			return h, false, nil
		}
		newChild, changed, err := t.delete(n.children[idx], path[1:])
		if err != nil {
			return primitives.Hash{}, false, err
		}
		if !changed {
			return h, false, nil
		}
		branch := *n
		branch.children[idx] = newChild
		return t.stage(&branch), true, nil
	}
	return primitives.Hash{}, false, errors.New("state: corrupt trie node")
}

// ProofStep is one node along the path from root to a proven key.
type ProofStep struct {
	Hash    primitives.Hash
	Encoded []byte
}

// Prove returns the node path from root to key's leaf (or to the point
// of divergence if key is absent), sufficient for the caller to verify
// inclusion (or non-inclusion) against the trie's root hash.
func (t *Trie) Prove(key [32]byte) ([]ProofStep, error) {
	var steps []ProofStep
	h := t.root
	path := toNibbles(key[:])
	for !h.IsZero() {
		n, err := t.loadNode(h)
		if err != nil {
			return nil, err
		}
		steps = append(steps, ProofStep{Hash: h, Encoded: n.encode()})
		switch n.kind {
		case kindLeaf:
			return steps, nil
		case kindExtension:
			if len(path) < len(n.keyFragment) || string(path[:len(n.keyFragment)]) != string(n.keyFragment) {
				return steps, nil
			}
			path = path[len(n.keyFragment):]
			h = n.child
		case kindBranch:
			if len(path) == 0 {
				return steps, nil
			}
			h = n.children[path[0]]
			path = path[1:]
		}
	}
	return steps, nil
}

// VerifyProof recomputes the hash chain from the deepest step back to
// root and checks it matches root; it does not require trie access.
func VerifyProof(root primitives.Hash, key [32]byte, steps []ProofStep) (value []byte, included bool, err error) {
	if len(steps) == 0 {
		if root.IsZero() {
			return nil, false, nil
		}
		return nil, false, errors.New("state: empty proof for non-empty root")
	}
	if steps[0].Hash != root {
		return nil, false, errors.New("state: proof does not start at root")
	}
	for _, s := range steps {
		if crypto.Hash(s.Encoded) != s.Hash {
			return nil, false, errors.New("state: proof step hash mismatch")
		}
	}
	last, err := decodeNode(steps[len(steps)-1].Encoded)
	if err != nil {
		return nil, false, err
	}
	path := toNibbles(key[:])
	consumed := 0
	for _, s := range steps[:len(steps)-1] {
		n, _ := decodeNode(s.Encoded)
		switch n.kind {
		case kindExtension:
			consumed += len(n.keyFragment)
		case kindBranch:
			consumed++
		}
	}
	if last.kind == kindLeaf && string(last.keyEnd) == string(path[consumed:]) {
		return last.value, true, nil
	}
	return nil, false, nil
}

// Flush writes every dirty (newly created) node into batch under the
// trie_nodes column family and clears the dirty set. Unchanged branches
// were never staged, so they are never rewritten — the copy-on-write
// sharing spec §4.3 requires falls out naturally.
func (t *Trie) Flush(batch *Batch) {
	for h, raw := range t.dirty {
		batch.Put(trieNodeKey(h), raw)
	}
	t.dirty = make(map[primitives.Hash][]byte)
}
