package primitives

// TxKind enumerates the transaction kinds spec §3 defines.
type TxKind uint8

const (
	TxTransfer TxKind = iota
	TxContractDeploy
	TxContractCall
	TxStakeDeposit
	TxStakeWithdraw
	TxValidatorRegister
)

// Proof is an opaque compliance proof attached to a transaction; its
// contents are interpreted only by the compliance verifier (C8).
type Proof struct {
	SchemaID uint32
	Payload  []byte
}

func (p Proof) Encode(w *Writer) {
	w.PutUint32(p.SchemaID)
	w.PutBytes(p.Payload)
}

func (p *Proof) Decode(r *Reader) error {
	var err error
	if p.SchemaID, err = r.GetUint32(); err != nil {
		return err
	}
	if p.Payload, err = r.GetBytes(); err != nil {
		return err
	}
	return nil
}

// Transaction is the signed, user-submitted unit of state mutation.
// TxHash = BLAKE3(encode-without-signature); computed by state.TxHash, never
// computed inline here to keep this package free of the crypto import.
type Transaction struct {
	Kind                 TxKind
	Nonce                uint64
	Sender               Address
	To                   Address
	Value                UInt256
	GasLimit             uint64
	GasPrice             UInt256 // legacy fee mode
	MaxFeePerGas         UInt256 // dynamic fee mode
	MaxPriorityFeePerGas UInt256 // dynamic fee mode
	Data                 []byte
	Priority             uint8
	ChainID              uint32
	ComplianceProofs     []Proof
	Memo                 []byte // ambient: optional annotation, never interpreted

	Signature    Signature
	SenderPubKey PublicKey
}

// IsDynamicFee reports whether t uses the EIP-1559-style dynamic fee
// fields instead of the legacy single gas_price field.
func (t *Transaction) IsDynamicFee() bool {
	return !t.MaxFeePerGas.IsZero() || !t.MaxPriorityFeePerGas.IsZero()
}

// encodeUnsigned appends every field except Signature, per spec §3's
// definition of the transaction hash preimage.
func (t *Transaction) encodeUnsigned(w *Writer) {
	w.PutUint8(uint8(t.Kind))
	w.PutUint64(t.Nonce)
	w.PutAddress(t.Sender)
	w.PutAddress(t.To)
	w.PutUInt256(t.Value)
	w.PutUint64(t.GasLimit)
	w.PutUInt256(t.GasPrice)
	w.PutUInt256(t.MaxFeePerGas)
	w.PutUInt256(t.MaxPriorityFeePerGas)
	w.PutBytes(t.Data)
	w.PutUint8(t.Priority)
	w.PutUint32(t.ChainID)
	w.PutVarint(uint64(len(t.ComplianceProofs)))
	for _, p := range t.ComplianceProofs {
		p.Encode(w)
	}
	w.PutBytes(t.Memo)
	w.PutUint8(uint8(t.SenderPubKey.Algo))
	w.PutBytes(t.SenderPubKey.Raw)
}

// Encode appends the full canonical encoding, including the signature.
func (t *Transaction) Encode(w *Writer) {
	t.encodeUnsigned(w)
	w.PutUint8(uint8(t.Signature.Algo))
	w.PutBytes(t.Signature.Raw)
}

// EncodeUnsigned returns the bytes that get BLAKE3-hashed to produce the
// transaction hash (everything except the Signature field).
func (t *Transaction) EncodeUnsigned() []byte {
	w := NewWriter(256)
	t.encodeUnsigned(w)
	return w.Bytes()
}

func (t *Transaction) Decode(r *Reader) error {
	kind, err := r.GetUint8()
	if err != nil {
		return err
	}
	t.Kind = TxKind(kind)
	if t.Nonce, err = r.GetUint64(); err != nil {
		return err
	}
	if t.Sender, err = r.GetAddress(); err != nil {
		return err
	}
	if t.To, err = r.GetAddress(); err != nil {
		return err
	}
	if t.Value, err = r.GetUInt256(); err != nil {
		return err
	}
	if t.GasLimit, err = r.GetUint64(); err != nil {
		return err
	}
	if t.GasPrice, err = r.GetUInt256(); err != nil {
		return err
	}
	if t.MaxFeePerGas, err = r.GetUInt256(); err != nil {
		return err
	}
	if t.MaxPriorityFeePerGas, err = r.GetUInt256(); err != nil {
		return err
	}
	if t.Data, err = r.GetBytes(); err != nil {
		return err
	}
	if t.Priority, err = r.GetUint8(); err != nil {
		return err
	}
	if t.ChainID, err = r.GetUint32(); err != nil {
		return err
	}
	n, err := r.GetVarint()
	if err != nil {
		return err
	}
	t.ComplianceProofs = make([]Proof, n)
	for i := range t.ComplianceProofs {
		if err := t.ComplianceProofs[i].Decode(r); err != nil {
			return err
		}
	}
	if t.Memo, err = r.GetBytes(); err != nil {
		return err
	}
	algo, err := r.GetUint8()
	if err != nil {
		return err
	}
	raw, err := r.GetBytes()
	if err != nil {
		return err
	}
	t.SenderPubKey = PublicKey{Algo: SignatureAlgo(algo), Raw: raw}

	sigAlgo, err := r.GetUint8()
	if err != nil {
		return err
	}
	sigRaw, err := r.GetBytes()
	if err != nil {
		return err
	}
	t.Signature = Signature{Algo: SignatureAlgo(sigAlgo), Raw: sigRaw}
	return nil
}
