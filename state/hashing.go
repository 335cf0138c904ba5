package state

import (
	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/primitives"
)

// BlockHash is BLAKE3 over the canonical header encoding. The commit
// certificate is deliberately excluded: it is produced by voting *on*
// this hash, so including it would be circular.
func BlockHash(b *primitives.Block) primitives.Hash {
	return HeaderHash(&b.Header)
}

// HeaderHash hashes a header in isolation (used by consensus to compute
// a proposal's block_hash before the body is fully assembled).
func HeaderHash(h *primitives.BlockHeader) primitives.Hash {
	w := primitives.NewWriter(0)
	h.Encode(w)
	return crypto.Hash(w.Bytes())
}

// TxHash is BLAKE3 over the transaction's unsigned encoding, per spec §3.
func TxHash(tx *primitives.Transaction) primitives.Hash {
	return crypto.Hash(tx.EncodeUnsigned())
}
