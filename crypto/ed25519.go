package crypto

import (
	"crypto/ed25519"
	"errors"

	"github.com/meridianchain/meridian-node/primitives"
)

// GenerateEd25519Key creates a new Ed25519 keypair for an account wallet.
func GenerateEd25519Key() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// SignEd25519 signs msg with priv, returning a primitives.Signature.
func SignEd25519(priv ed25519.PrivateKey, msg []byte) primitives.Signature {
	return primitives.NewEd25519Signature(ed25519.Sign(priv, msg))
}

// VerifyEd25519 checks a single Ed25519 signature.
func VerifyEd25519(pub ed25519.PublicKey, msg []byte, sig primitives.Signature) bool {
	if sig.Algo != primitives.AlgoEd25519 || len(sig.Raw) != ed25519.SignatureSize {
		return false
	}
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig.Raw)
}

// BatchVerifyEd25519 verifies a batch of (pubkey, msg, sig) triples and
// returns a single boolean: true iff every signature is valid. No pack
// library offers a faster batch primitive than the stdlib sequential
// check (see DESIGN.md), so this short-circuits on the first failure.
func BatchVerifyEd25519(pubs []ed25519.PublicKey, msgs [][]byte, sigs []primitives.Signature) (bool, error) {
	if len(pubs) != len(msgs) || len(msgs) != len(sigs) {
		return false, errors.New("crypto: mismatched batch lengths")
	}
	for i := range pubs {
		if !VerifyEd25519(pubs[i], msgs[i], sigs[i]) {
			return false, nil
		}
	}
	return true, nil
}
