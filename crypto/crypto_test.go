package crypto

import (
	"testing"

	bls "github.com/herumi/bls-eth-go-binary/bls"

	"github.com/meridianchain/meridian-node/primitives"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("meridian"))
	b := Hash([]byte("meridian"))
	if a != b {
		t.Fatalf("expected identical hashes for identical input")
	}
	c := Hash([]byte("meridian!"))
	if a == c {
		t.Fatalf("expected distinct hashes for distinct input")
	}
}

func TestPairHashOrderSensitive(t *testing.T) {
	l := Hash([]byte("left"))
	r := Hash([]byte("right"))
	if PairHash(l, r) == PairHash(r, l) {
		t.Fatalf("pair hash must be order sensitive")
	}
}

func TestEd25519SignVerify(t *testing.T) {
	priv, pub, err := GenerateEd25519Key()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	msg := []byte("transfer:1000")
	sig := SignEd25519(priv, msg)
	if !VerifyEd25519(pub, msg, sig) {
		t.Fatalf("expected valid signature")
	}
	if VerifyEd25519(pub, []byte("tampered"), sig) {
		t.Fatalf("expected invalid signature over tampered message")
	}
}

func TestBLSSignVerifyAggregate(t *testing.T) {
	sk1, pk1, err := GenerateBLSKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	sk2, pk2, err := GenerateBLSKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	msg := []byte("block-hash")
	sig1 := SignBLS(sk1, msg)
	sig2 := SignBLS(sk2, msg)

	ok, err := VerifyBLS(pk1, msg, sig1)
	if err != nil || !ok {
		t.Fatalf("expected valid single signature, err=%v", err)
	}

	agg, err := AggregateBLSSignatures([]primitives.Signature{sig1, sig2})
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	ok, err = VerifyAggregatedBLS(agg, []*bls.PublicKey{pk1, pk2}, msg)
	if err != nil || !ok {
		t.Fatalf("expected valid aggregate signature, err=%v", err)
	}
}

func TestDecodeBLSPubKeyRejectsIdentity(t *testing.T) {
	var zero bls.PublicKey
	if _, err := DecodeBLSPubKey(zero.Serialize()); err == nil {
		t.Fatalf("expected identity point to be rejected")
	}
}
