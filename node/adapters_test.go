package node

import (
	"crypto/ed25519"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/meridianchain/meridian-node/consensus"
	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/execution"
	"github.com/meridianchain/meridian-node/mempool"
	"github.com/meridianchain/meridian-node/primitives"
	"github.com/meridianchain/meridian-node/state"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestValidatorSourceListsRegisteredValidators(t *testing.T) {
	store := state.NewStore(state.NewMemStore())
	cache := state.NewCache(store, primitives.Hash{})

	_, pub, err := crypto.GenerateBLSKey()
	if err != nil {
		t.Fatalf("bls keygen: %v", err)
	}
	validator := crypto.DeriveAddress(mustEd25519Pub(t))
	if err := execution.RegisterValidator(cache, validator, primitives.NewUInt256FromUint64(1_000), pub.Serialize()); err != nil {
		t.Fatalf("register validator: %v", err)
	}

	src := NewValidatorSource(cache, testLogger())
	validators, err := src.AllValidators()
	if err != nil {
		t.Fatalf("all validators: %v", err)
	}
	if len(validators) != 1 {
		t.Fatalf("expected 1 validator, got %d", len(validators))
	}
	if validators[0].Address != validator {
		t.Fatalf("unexpected validator address %s", validators[0].Address)
	}
	if validators[0].Stake.Uint64() != 1_000 {
		t.Fatalf("expected stake 1000, got %s", validators[0].Stake)
	}
}

func TestValidatorSourceSkipsUnusablePubKey(t *testing.T) {
	store := state.NewStore(state.NewMemStore())
	cache := state.NewCache(store, primitives.Hash{})

	validator := crypto.DeriveAddress(mustEd25519Pub(t))
	if err := execution.RegisterValidator(cache, validator, primitives.NewUInt256FromUint64(1_000), []byte("not-a-bls-key")); err != nil {
		t.Fatalf("register validator: %v", err)
	}

	src := NewValidatorSource(cache, testLogger())
	validators, err := src.AllValidators()
	if err != nil {
		t.Fatalf("all validators: %v", err)
	}
	if len(validators) != 0 {
		t.Fatalf("expected the unusable registration to be skipped, got %d", len(validators))
	}
}

func TestSlasherBurnsStakeByKind(t *testing.T) {
	store := state.NewStore(state.NewMemStore())
	cache := state.NewCache(store, primitives.Hash{})

	_, pub, err := crypto.GenerateBLSKey()
	if err != nil {
		t.Fatalf("bls keygen: %v", err)
	}
	validator := crypto.DeriveAddress(mustEd25519Pub(t))
	if err := execution.RegisterValidator(cache, validator, primitives.NewUInt256FromUint64(1_000), pub.Serialize()); err != nil {
		t.Fatalf("register validator: %v", err)
	}

	slasher := NewSlasher(cache)
	if err := slasher.Slash(validator, consensus.SlashInactivity); err != nil {
		t.Fatalf("slash inactivity: %v", err)
	}
	stake, err := execution.StakeOf(cache, validator)
	if err != nil {
		t.Fatalf("stake of: %v", err)
	}
	if stake.Uint64() != 900 {
		t.Fatalf("expected 10%% burn to leave 900, got %s", stake)
	}

	if err := slasher.Slash(validator, consensus.SlashEquivocation); err != nil {
		t.Fatalf("slash equivocation: %v", err)
	}
	stake, err = execution.StakeOf(cache, validator)
	if err != nil {
		t.Fatalf("stake of: %v", err)
	}
	if stake.Uint64() != 0 {
		t.Fatalf("expected equivocation to burn all remaining stake, got %s", stake)
	}
}

func TestSignerSignsAndReportsAddressAndPubKey(t *testing.T) {
	sk, pub, err := crypto.GenerateBLSKey()
	if err != nil {
		t.Fatalf("bls keygen: %v", err)
	}
	addr := crypto.DeriveAddress(mustEd25519Pub(t))
	signer := NewSigner(addr, sk, pub)

	if signer.Address() != addr {
		t.Fatalf("unexpected signer address")
	}
	pk := signer.PublicKey()
	if pk.Algo != primitives.AlgoBLS {
		t.Fatalf("expected AlgoBLS, got %v", pk.Algo)
	}
	sig := signer.Sign([]byte("round-1-proposal"))
	ok, err := crypto.VerifyBLS(pub, []byte("round-1-proposal"), sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify against the signer's own public key")
	}
}

func TestTxSourcePicksFromMempool(t *testing.T) {
	store := state.NewStore(state.NewMemStore())
	cache := state.NewCache(store, primitives.Hash{})
	priv, pub, err := crypto.GenerateEd25519Key()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	sender := crypto.DeriveAddress(pub)
	cache.PutAccount(sender, &primitives.Account{Balance: primitives.NewUInt256FromUint64(1_000_000), Kind: primitives.AccountEOA})
	recipient := fundApplierAccount(t, cache, 0)

	mpCfg := mempool.Config{ChainID: 7, NonceWindow: 64, MaxTransactionBytes: 4096, MaxSize: 16}
	pool := mempool.New(mpCfg, cache, primitives.NewUInt256FromUint64(1))

	tx := transferTx(sender, recipient, 0, 30_000, 5, 1_000)
	tx.SenderPubKey = primitives.PublicKey{Algo: primitives.AlgoEd25519, Raw: pub}
	tx.Signature = crypto.SignEd25519(priv, tx.EncodeUnsigned())
	if err := pool.Submit(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	src := NewTxSource(pool, testLogger())
	picked := src.Pick(10)
	if len(picked) != 1 {
		t.Fatalf("expected 1 picked transaction, got %d", len(picked))
	}
}

func mustEd25519Pub(t *testing.T) ed25519.PublicKey {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key()
	if err != nil {
		t.Fatalf("ed25519 keygen: %v", err)
	}
	return pub
}
