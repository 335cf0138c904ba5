package node

import (
	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/primitives"
)

// merkleRoot folds leaves pairwise with crypto.PairHash, duplicating the
// last element of an odd-length level (state.Trie does not use this
// scheme: it hashes each encoded trie node whole with crypto.Hash). No
// transactions/receipts list hashing helper exists elsewhere in the
// repository — BuildBlock is the only caller that needs one.
func merkleRoot(leaves []primitives.Hash) primitives.Hash {
	if len(leaves) == 0 {
		return primitives.Hash{}
	}
	level := leaves
	for len(level) > 1 {
		next := make([]primitives.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, crypto.PairHash(level[i], level[i+1]))
			} else {
				next = append(next, crypto.PairHash(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}
