package primitives

// Log is a single contract event emitted during execution.
type Log struct {
	Contract Address
	EventSig Hash
	Topics   []Hash
	Data     []byte
}

func (l *Log) Encode(w *Writer) {
	w.PutAddress(l.Contract)
	w.PutHash(l.EventSig)
	w.PutVarint(uint64(len(l.Topics)))
	for _, t := range l.Topics {
		w.PutHash(t)
	}
	w.PutBytes(l.Data)
}

func (l *Log) Decode(r *Reader) error {
	var err error
	if l.Contract, err = r.GetAddress(); err != nil {
		return err
	}
	if l.EventSig, err = r.GetHash(); err != nil {
		return err
	}
	n, err := r.GetVarint()
	if err != nil {
		return err
	}
	l.Topics = make([]Hash, n)
	for i := range l.Topics {
		if l.Topics[i], err = r.GetHash(); err != nil {
			return err
		}
	}
	if l.Data, err = r.GetBytes(); err != nil {
		return err
	}
	return nil
}

// Receipt records the outcome of executing a single transaction.
type Receipt struct {
	TxHash            Hash
	BlockHash         Hash
	BlockNumber       uint64
	TxIndex           uint32
	From              Address
	To                Address
	GasUsed           uint64
	Success           bool
	ErrorCode         uint16
	PostStateRoot     Hash
	EffectiveGasPrice UInt256
	Logs              []Log
}

func (rc *Receipt) Encode(w *Writer) {
	w.PutHash(rc.TxHash)
	w.PutHash(rc.BlockHash)
	w.PutUint64(rc.BlockNumber)
	w.PutUint32(rc.TxIndex)
	w.PutAddress(rc.From)
	w.PutAddress(rc.To)
	w.PutUint64(rc.GasUsed)
	w.PutBool(rc.Success)
	w.PutUint32(uint32(rc.ErrorCode))
	w.PutHash(rc.PostStateRoot)
	w.PutUInt256(rc.EffectiveGasPrice)
	w.PutVarint(uint64(len(rc.Logs)))
	for i := range rc.Logs {
		rc.Logs[i].Encode(w)
	}
}

func (rc *Receipt) Decode(r *Reader) error {
	var err error
	if rc.TxHash, err = r.GetHash(); err != nil {
		return err
	}
	if rc.BlockHash, err = r.GetHash(); err != nil {
		return err
	}
	if rc.BlockNumber, err = r.GetUint64(); err != nil {
		return err
	}
	if rc.TxIndex, err = r.GetUint32(); err != nil {
		return err
	}
	if rc.From, err = r.GetAddress(); err != nil {
		return err
	}
	if rc.To, err = r.GetAddress(); err != nil {
		return err
	}
	if rc.GasUsed, err = r.GetUint64(); err != nil {
		return err
	}
	if rc.Success, err = r.GetBool(); err != nil {
		return err
	}
	ec, err := r.GetUint32()
	if err != nil {
		return err
	}
	rc.ErrorCode = uint16(ec)
	if rc.PostStateRoot, err = r.GetHash(); err != nil {
		return err
	}
	if rc.EffectiveGasPrice, err = r.GetUInt256(); err != nil {
		return err
	}
	n, err := r.GetVarint()
	if err != nil {
		return err
	}
	rc.Logs = make([]Log, n)
	for i := range rc.Logs {
		if err := rc.Logs[i].Decode(r); err != nil {
			return err
		}
	}
	return nil
}

// ValidatorSetEntry is one committee member's metadata, valid for the
// epoch it was fixed in.
type ValidatorSetEntry struct {
	Addr               Address
	Ed25519PubKey      PublicKey
	BLSPubKey          PublicKey
	Stake              UInt256
	Index              uint8
	Active             bool
	SignedBlocksInEpoch uint32
}

// MaxValidatorSetSize is the bitmap-width ceiling (spec §3): a 64-bit
// commit bitmap cannot address more than 64 validator indices.
const MaxValidatorSetSize = 64
