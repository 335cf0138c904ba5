package primitives

// MaxExtraDataBytes bounds BlockHeader.ExtraData per spec §3/§6.
const MaxExtraDataBytes = 32

// BlockHeader carries the metadata committed to by a block's hash.
type BlockHeader struct {
	Number           uint64
	ParentHash       Hash
	StateRoot        Hash
	TransactionsRoot Hash
	ReceiptsRoot     Hash
	Timestamp        int64
	Proposer         Address
	ChainID          uint32
	GasUsed          uint64
	GasLimit         uint64
	BaseFee          UInt256
	ProtocolVersion  uint32
	ExtraData        []byte

	// Version is the low byte of ProtocolVersion, cached for fast wire
	// dispatch (teacher's BlockHeader carries an equivalent redundant
	// fast-path field on its PoW header).
	Version uint8
}

func (h *BlockHeader) Encode(w *Writer) {
	w.PutUint64(h.Number)
	w.PutHash(h.ParentHash)
	w.PutHash(h.StateRoot)
	w.PutHash(h.TransactionsRoot)
	w.PutHash(h.ReceiptsRoot)
	w.PutInt64(h.Timestamp)
	w.PutAddress(h.Proposer)
	w.PutUint32(h.ChainID)
	w.PutUint64(h.GasUsed)
	w.PutUint64(h.GasLimit)
	w.PutUInt256(h.BaseFee)
	w.PutUint32(h.ProtocolVersion)
	w.PutBytes(h.ExtraData)
}

func (h *BlockHeader) Decode(r *Reader) error {
	var err error
	if h.Number, err = r.GetUint64(); err != nil {
		return err
	}
	if h.ParentHash, err = r.GetHash(); err != nil {
		return err
	}
	if h.StateRoot, err = r.GetHash(); err != nil {
		return err
	}
	if h.TransactionsRoot, err = r.GetHash(); err != nil {
		return err
	}
	if h.ReceiptsRoot, err = r.GetHash(); err != nil {
		return err
	}
	if h.Timestamp, err = r.GetInt64(); err != nil {
		return err
	}
	if h.Proposer, err = r.GetAddress(); err != nil {
		return err
	}
	if h.ChainID, err = r.GetUint32(); err != nil {
		return err
	}
	if h.GasUsed, err = r.GetUint64(); err != nil {
		return err
	}
	if h.GasLimit, err = r.GetUint64(); err != nil {
		return err
	}
	if h.BaseFee, err = r.GetUInt256(); err != nil {
		return err
	}
	if h.ProtocolVersion, err = r.GetUint32(); err != nil {
		return err
	}
	if h.ExtraData, err = r.GetBytes(); err != nil {
		return err
	}
	h.Version = byte(h.ProtocolVersion)
	return nil
}

// CommitCertificate is the aggregated BLS signature over a block hash by
// the quorum of validators that voted Commit, plus the voter bitmap (one
// bit per validator index, N ≤ 64).
type CommitCertificate struct {
	AggregateSig Signature
	VoterBitmap  uint64
}

func (c *CommitCertificate) Encode(w *Writer) {
	w.PutUint8(uint8(c.AggregateSig.Algo))
	w.PutBytes(c.AggregateSig.Raw)
	w.PutUint64(c.VoterBitmap)
}

func (c *CommitCertificate) Decode(r *Reader) error {
	algo, err := r.GetUint8()
	if err != nil {
		return err
	}
	raw, err := r.GetBytes()
	if err != nil {
		return err
	}
	c.AggregateSig = Signature{Algo: SignatureAlgo(algo), Raw: raw}
	if c.VoterBitmap, err = r.GetUint64(); err != nil {
		return err
	}
	return nil
}

// Block is a header plus its ordered transaction body, receipts and the
// certificate that finalized it.
type Block struct {
	Header       BlockHeader
	Transactions []Transaction
	Receipts     []Receipt
	Certificate  CommitCertificate
}

func (b *Block) Encode(w *Writer) {
	b.Header.Encode(w)
	w.PutVarint(uint64(len(b.Transactions)))
	for i := range b.Transactions {
		b.Transactions[i].Encode(w)
	}
	w.PutVarint(uint64(len(b.Receipts)))
	for i := range b.Receipts {
		b.Receipts[i].Encode(w)
	}
	b.Certificate.Encode(w)
}

func (b *Block) Decode(r *Reader) error {
	if err := b.Header.Decode(r); err != nil {
		return err
	}
	n, err := r.GetVarint()
	if err != nil {
		return err
	}
	b.Transactions = make([]Transaction, n)
	for i := range b.Transactions {
		if err := b.Transactions[i].Decode(r); err != nil {
			return err
		}
	}
	n, err = r.GetVarint()
	if err != nil {
		return err
	}
	b.Receipts = make([]Receipt, n)
	for i := range b.Receipts {
		if err := b.Receipts[i].Decode(r); err != nil {
			return err
		}
	}
	return b.Certificate.Decode(r)
}
