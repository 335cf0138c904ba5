package primitives

// AccountKind distinguishes externally-owned accounts, contracts and
// system (module) accounts.
type AccountKind uint8

const (
	AccountEOA AccountKind = iota
	AccountContract
	AccountSystem
)

// Account is the per-address state record stored in the world-state trie
// (and mirrored in the flat cache). For an EOA, CodeHash is the zero hash
// and StorageRoot is the empty-trie root; neither this package nor
// state.Cache checks this, the cache stores accounts as given.
type Account struct {
	Nonce          uint64
	Balance        UInt256
	StorageRoot    Hash
	CodeHash       Hash
	Kind           AccountKind
	ComplianceHash Hash
}

// AccountEncodedSize is the fixed on-disk/wire size of an encoded Account:
// nonce(8) + balance(32) + storage_root(32) + code_hash(32) + kind(1) +
// compliance_hash(32) = 137 bytes, per spec §6.
const AccountEncodedSize = 8 + 32 + 32 + 32 + 1 + 32

func (a *Account) Encode(w *Writer) {
	w.PutUint64(a.Nonce)
	w.PutUInt256(a.Balance)
	w.PutHash(a.StorageRoot)
	w.PutHash(a.CodeHash)
	w.PutUint8(uint8(a.Kind))
	w.PutHash(a.ComplianceHash)
}

func (a *Account) Decode(r *Reader) error {
	var err error
	if a.Nonce, err = r.GetUint64(); err != nil {
		return err
	}
	if a.Balance, err = r.GetUInt256(); err != nil {
		return err
	}
	if a.StorageRoot, err = r.GetHash(); err != nil {
		return err
	}
	if a.CodeHash, err = r.GetHash(); err != nil {
		return err
	}
	kind, err := r.GetUint8()
	if err != nil {
		return err
	}
	a.Kind = AccountKind(kind)
	if a.ComplianceHash, err = r.GetHash(); err != nil {
		return err
	}
	return nil
}

// EncodeAccount renders a to its canonical 137-byte form.
func EncodeAccount(a *Account) []byte {
	w := NewWriter(AccountEncodedSize)
	a.Encode(w)
	return w.Bytes()
}

// DecodeAccount parses the canonical 137-byte Account encoding.
func DecodeAccount(b []byte) (*Account, error) {
	r := NewReader(b)
	a := &Account{}
	if err := a.Decode(r); err != nil {
		return nil, err
	}
	return a, nil
}

// NewEOA returns a fresh externally-owned account with zero balance,
// nonce 0, and the invariants spec §3 requires (empty code/storage).
func NewEOA(emptyTrieRoot Hash) Account {
	return Account{
		StorageRoot: emptyTrieRoot,
		CodeHash:    Hash{},
		Kind:        AccountEOA,
	}
}
