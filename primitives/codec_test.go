package primitives

import (
	"bytes"
	"testing"
)

func TestHashHexRoundTrip(t *testing.T) {
	var h Hash
	h[0] = 0xab
	h[31] = 0xcd
	s := h.String()
	got, err := HashFromHex(s)
	if err != nil {
		t.Fatalf("HashFromHex failed: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %x want %x", got, h)
	}
}

func TestUInt256ArithmeticRoundTrip(t *testing.T) {
	a := NewUInt256FromUint64(1_000_000)
	b := NewUInt256FromUint64(21_000)
	sum := a.Add(b)
	if sum.Uint64() != 1_021_000 {
		t.Fatalf("expected 1021000, got %s", sum.String())
	}
	diff, err := sum.CheckedSub(b)
	if err != nil {
		t.Fatalf("unexpected overflow: %v", err)
	}
	if diff.Cmp(a) != 0 {
		t.Fatalf("expected %s, got %s", a.String(), diff.String())
	}
	if _, err := ZeroUInt256().CheckedSub(a); err == nil {
		t.Fatalf("expected underflow error")
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := &Transaction{
		Kind:         TxTransfer,
		Nonce:        0,
		Sender:       Address{1},
		To:           Address{2},
		Value:        NewUInt256FromUint64(1_000),
		GasLimit:     21_000,
		GasPrice:     NewUInt256FromUint64(1),
		ChainID:      31337,
		Data:         nil,
		SenderPubKey: PublicKey{Algo: AlgoEd25519, Raw: bytes.Repeat([]byte{7}, Ed25519PublicKeySize)},
		Signature:    NewEd25519Signature(bytes.Repeat([]byte{9}, Ed25519SignatureSize)),
	}

	w := NewWriter(0)
	tx.Encode(w)
	encoded := w.Bytes()

	var decoded Transaction
	if err := decoded.Decode(NewReader(encoded)); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	w2 := NewWriter(0)
	decoded.Encode(w2)
	if !bytes.Equal(encoded, w2.Bytes()) {
		t.Fatalf("round trip not byte-identical")
	}
	if decoded.Sender != tx.Sender || decoded.Nonce != tx.Nonce {
		t.Fatalf("decoded fields mismatch: %+v", decoded)
	}
}

func TestBlockHeaderRoundTrip(t *testing.T) {
	h := &BlockHeader{
		Number:          1,
		ParentHash:      Hash{1},
		StateRoot:       Hash{2},
		Timestamp:       1_700_000_000,
		Proposer:        Address{3},
		ChainID:         31337,
		GasLimit:        100_000_000,
		BaseFee:         NewUInt256FromUint64(1_000_000_000),
		ProtocolVersion: 1,
		ExtraData:       []byte("meridian"),
	}
	w := NewWriter(0)
	h.Encode(w)
	var decoded BlockHeader
	if err := decoded.Decode(NewReader(w.Bytes())); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	w2 := NewWriter(0)
	decoded.Encode(w2)
	if !bytes.Equal(w.Bytes(), w2.Bytes()) {
		t.Fatalf("round trip not byte-identical")
	}
}

func TestAccountEncodedSize(t *testing.T) {
	a := &Account{Nonce: 1, Balance: NewUInt256FromUint64(42)}
	enc := EncodeAccount(a)
	if len(enc) != AccountEncodedSize {
		t.Fatalf("expected %d bytes, got %d", AccountEncodedSize, len(enc))
	}
	decoded, err := DecodeAccount(enc)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Nonce != a.Nonce || decoded.Balance.Cmp(a.Balance) != 0 {
		t.Fatalf("decoded mismatch: %+v", decoded)
	}
}
