package crypto

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	bls "github.com/herumi/bls-eth-go-binary/bls"

	"github.com/meridianchain/meridian-node/primitives"
)

var blsInitOnce sync.Once
var blsInitErr error

// initBLS lazily initializes the herumi BLS12-381 backend exactly once,
// matching core/security.go's package-level init() pattern but deferred
// so importers that never touch BLS don't pay curve-setup cost.
func initBLS() error {
	blsInitOnce.Do(func() {
		blsInitErr = bls.Init(bls.BLS12_381)
		if blsInitErr == nil {
			blsInitErr = bls.SetETHmode(bls.EthModeDraft07)
		}
	})
	return blsInitErr
}

// GenerateBLSKey creates a fresh validator BLS keypair.
func GenerateBLSKey() (*bls.SecretKey, *bls.PublicKey, error) {
	if err := initBLS(); err != nil {
		return nil, nil, err
	}
	var sk bls.SecretKey
	sk.SetByCSPRNG()
	return &sk, sk.GetPublicKey(), nil
}

// SignBLS signs msg (typically a block or vote hash) with a validator's
// BLS secret key.
func SignBLS(sk *bls.SecretKey, msg []byte) primitives.Signature {
	sig := sk.SignByte(msg)
	return primitives.NewBLSSignature(sig.Serialize())
}

// isIdentityPubKey rejects the BLS identity (point-at-infinity) public
// key, which must never be accepted as a valid voter key per spec §4.2.
func isIdentityPubKey(pub *bls.PublicKey) bool {
	var zero bls.PublicKey
	return bytes.Equal(pub.Serialize(), zero.Serialize())
}

func isIdentitySig(sig *bls.Sign) bool {
	var zero bls.Sign
	return bytes.Equal(sig.Serialize(), zero.Serialize())
}

// EncodeBLSSecretKey serializes sk for storage in a validator's keyfile.
func EncodeBLSSecretKey(sk *bls.SecretKey) []byte {
	return sk.Serialize()
}

// DecodeBLSSecretKey parses a serialized BLS secret key and derives its
// public key, mirroring DecodeBLSPubKey's lazy-init pattern.
func DecodeBLSSecretKey(raw []byte) (*bls.SecretKey, *bls.PublicKey, error) {
	if err := initBLS(); err != nil {
		return nil, nil, err
	}
	var sk bls.SecretKey
	if err := sk.Deserialize(raw); err != nil {
		return nil, nil, fmt.Errorf("crypto: bls secret key deserialize: %w", err)
	}
	return &sk, sk.GetPublicKey(), nil
}

// DecodeBLSPubKey parses a compressed BLS public key, rejecting points
// that are not in the correct prime-order subgroup (herumi's ETH-mode
// deserializer performs the subgroup check) and rejecting the identity
// point explicitly.
func DecodeBLSPubKey(raw []byte) (*bls.PublicKey, error) {
	if err := initBLS(); err != nil {
		return nil, err
	}
	var pk bls.PublicKey
	if err := pk.Deserialize(raw); err != nil {
		return nil, fmt.Errorf("crypto: bls pubkey deserialize: %w", err)
	}
	if isIdentityPubKey(&pk) {
		return nil, errors.New("crypto: bls pubkey is the identity point")
	}
	return &pk, nil
}

// VerifyBLS checks a single BLS signature against msg and pub.
func VerifyBLS(pub *bls.PublicKey, msg []byte, sig primitives.Signature) (bool, error) {
	if sig.Algo != primitives.AlgoBLS {
		return false, errors.New("crypto: not a bls signature")
	}
	var s bls.Sign
	if err := s.Deserialize(sig.Raw); err != nil {
		return false, fmt.Errorf("crypto: bls sig deserialize: %w", err)
	}
	if isIdentitySig(&s) {
		return false, errors.New("crypto: bls signature is the identity point")
	}
	return s.VerifyByte(pub, msg), nil
}

// AggregateBLSSignatures merges compressed BLS signatures. Aggregation is
// commutative and associative, so callers may fold votes in arrival
// order with no coordination (spec §4.2).
func AggregateBLSSignatures(sigs []primitives.Signature) (primitives.Signature, error) {
	if len(sigs) == 0 {
		return primitives.Signature{}, errors.New("crypto: no signatures to aggregate")
	}
	var agg bls.Sign
	for i, s := range sigs {
		if s.Algo != primitives.AlgoBLS {
			return primitives.Signature{}, fmt.Errorf("crypto: sig %d is not bls", i)
		}
		var parsed bls.Sign
		if err := parsed.Deserialize(s.Raw); err != nil {
			return primitives.Signature{}, fmt.Errorf("crypto: sig %d deserialize: %w", i, err)
		}
		if i == 0 {
			agg = parsed
		} else {
			agg.Add(&parsed)
		}
	}
	return primitives.NewBLSSignature(agg.Serialize()), nil
}

// VerifyAggregatedBLS verifies an aggregated signature where every
// signer signed the *same* message (a HotStuff vote certificate), against
// the aggregate of their public keys.
func VerifyAggregatedBLS(aggSig primitives.Signature, pubKeys []*bls.PublicKey, msg []byte) (bool, error) {
	if len(pubKeys) == 0 {
		return false, errors.New("crypto: no public keys supplied")
	}
	var aggPub bls.PublicKey
	for i, pk := range pubKeys {
		if i == 0 {
			aggPub = *pk
		} else {
			aggPub.Add(pk)
		}
	}
	return VerifyBLS(&aggPub, msg, aggSig)
}
