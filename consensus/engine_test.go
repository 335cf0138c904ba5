package consensus

import (
	"context"
	"sync"
	"testing"
	"time"

	bls "github.com/herumi/bls-eth-go-binary/bls"
	"github.com/sirupsen/logrus"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/primitives"
)

// --- fakes -----------------------------------------------------------

type fakeSigner struct {
	addr primitives.Address
	sk   *bls.SecretKey
	pk   *bls.PublicKey
}

func (s *fakeSigner) Address() primitives.Address { return s.addr }
func (s *fakeSigner) PublicKey() primitives.PublicKey {
	return primitives.PublicKey{Algo: primitives.AlgoBLS, Raw: s.pk.Serialize()}
}
func (s *fakeSigner) Sign(msg []byte) primitives.Signature { return crypto.SignBLS(s.sk, msg) }

func newFakeSigner(t *testing.T, index int) *fakeSigner {
	t.Helper()
	sk, pk, err := crypto.GenerateBLSKey()
	if err != nil {
		t.Fatalf("generate bls key: %v", err)
	}
	var addr primitives.Address
	addr[primitives.AddressSize-1] = byte(index + 1)
	return &fakeSigner{addr: addr, sk: sk, pk: pk}
}

type fakeAuthority struct {
	set *ActiveSet

	mu      sync.Mutex
	slashed []primitives.Address
}

func (a *fakeAuthority) Active(uint64) (*ActiveSet, error) { return a.set, nil }
func (a *fakeAuthority) Slash(validator primitives.Address, _ SlashKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slashed = append(a.slashed, validator)
	return nil
}

// fakeApplier derives a block's state root deterministically from its
// parent hash and transaction count, so BuildBlock (leader) and
// PreExecute (replica re-validating) always agree without any real
// executor/state.Cache wired in.
type fakeApplier struct {
	mu        sync.Mutex
	committed []*primitives.Block
}

func fakeStateRoot(parent primitives.Hash, number uint64, txCount int) primitives.Hash {
	w := primitives.NewWriter(64)
	w.PutHash(parent)
	w.PutUint64(number)
	w.PutUint64(uint64(txCount))
	return crypto.Hash(w.Bytes())
}

func (a *fakeApplier) BuildBlock(number uint64, parentHash primitives.Hash, proposer primitives.Address, timestamp int64, txs []*primitives.Transaction) (*primitives.Block, error) {
	blk := &primitives.Block{
		Header: primitives.BlockHeader{
			Number:     number,
			ParentHash: parentHash,
			Proposer:   proposer,
			Timestamp:  timestamp,
			ChainID:    7,
			GasLimit:   8_000_000,
			BaseFee:    primitives.NewUInt256FromUint64(1),
		},
	}
	for _, tx := range txs {
		blk.Transactions = append(blk.Transactions, *tx)
	}
	blk.Header.StateRoot = fakeStateRoot(parentHash, number, len(blk.Transactions))
	return blk, nil
}

func (a *fakeApplier) DecodeBlock(data []byte) (*primitives.Block, error) {
	blk := &primitives.Block{}
	if err := blk.Decode(primitives.NewReader(data)); err != nil {
		return nil, err
	}
	return blk, nil
}

func (a *fakeApplier) PreExecute(blk *primitives.Block) (primitives.Hash, error) {
	return fakeStateRoot(blk.Header.ParentHash, blk.Header.Number, len(blk.Transactions)), nil
}

func (a *fakeApplier) Commit(blk *primitives.Block) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committed = append(a.committed, blk)
	return nil
}

func (a *fakeApplier) Rollback() {}

type noTx struct{}

func (noTx) Pick(int) []*primitives.Transaction { return nil }

// fakeBus fans every broadcast out to every registered replica network,
// simulating a fully connected gossip mesh without any real libp2p host.
type fakeBus struct {
	mu   sync.Mutex
	nets []*fakeNetwork
}

func (b *fakeBus) register(n *fakeNetwork) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nets = append(b.nets, n)
}

type fakeNetwork struct {
	bus         *fakeBus
	proposals   chan *Proposal
	votes       chan *Vote
	viewChanges chan *ViewChange
}

func newFakeNetwork(bus *fakeBus) *fakeNetwork {
	n := &fakeNetwork{
		bus:         bus,
		proposals:   make(chan *Proposal, 64),
		votes:       make(chan *Vote, 256),
		viewChanges: make(chan *ViewChange, 64),
	}
	bus.register(n)
	return n
}

func (n *fakeNetwork) BroadcastProposal(p *Proposal) error {
	n.bus.mu.Lock()
	defer n.bus.mu.Unlock()
	for _, peer := range n.bus.nets {
		peer.proposals <- p
	}
	return nil
}

func (n *fakeNetwork) BroadcastVote(v *Vote) error {
	n.bus.mu.Lock()
	defer n.bus.mu.Unlock()
	for _, peer := range n.bus.nets {
		peer.votes <- v
	}
	return nil
}

func (n *fakeNetwork) BroadcastViewChange(vc *ViewChange) error {
	n.bus.mu.Lock()
	defer n.bus.mu.Unlock()
	for _, peer := range n.bus.nets {
		peer.viewChanges <- vc
	}
	return nil
}

func (n *fakeNetwork) Proposals() <-chan *Proposal     { return n.proposals }
func (n *fakeNetwork) Votes() <-chan *Vote             { return n.votes }
func (n *fakeNetwork) ViewChanges() <-chan *ViewChange { return n.viewChanges }

// --- tests -------------------------------------------------------------

func TestEngineCommitsOneHeightAcrossFourReplicas(t *testing.T) {
	const n = 4
	signers := make([]*fakeSigner, n)
	validators := make([]Validator, n)
	for i := 0; i < n; i++ {
		signers[i] = newFakeSigner(t, i)
		validators[i] = Validator{Address: signers[i].addr, PubKey: signers[i].pk, Stake: primitives.NewUInt256FromUint64(100)}
	}
	set := NewActiveSet(0, primitives.Hash{}, validators)
	authority := &fakeAuthority{set: set}
	bus := &fakeBus{}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	appliers := make([]*fakeApplier, n)
	engines := make([]*Engine, n)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < n; i++ {
		appliers[i] = &fakeApplier{}
		net := newFakeNetwork(bus)
		params := DefaultParams()
		params.ViewTimeoutBase = 2 * time.Second
		engines[i] = NewEngine(logger, signers[i], net, noTx{}, authority, appliers[i], primitives.Hash{}, 0, primitives.Hash{}, params)
		go engines[i].Start(ctx)
	}

	deadline := time.After(5 * time.Second)
	for {
		allCommitted := true
		for i := 0; i < n; i++ {
			_, num, _ := engines[i].Tip()
			if num < 1 {
				allCommitted = false
				break
			}
		}
		if allCommitted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("replicas did not all commit height 1 in time")
		case <-time.After(20 * time.Millisecond):
		}
	}

	for i := 0; i < n; i++ {
		hash, num, root := engines[i].Tip()
		if num != 1 {
			t.Fatalf("replica %d: expected tip number 1, got %d", i, num)
		}
		if hash.IsZero() || root.IsZero() {
			t.Fatalf("replica %d: expected non-zero tip hash/root", i)
		}
	}
}

func TestQuorumMatchesCeilTwoThirdsPlusOne(t *testing.T) {
	cases := []struct{ n, want int }{
		{1, 2}, {3, 3}, {4, 4}, {7, 6}, {10, 8},
	}
	for _, c := range cases {
		if got := Quorum(c.n); got != c.want {
			t.Errorf("Quorum(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestLeaderIsDeterministicForSameInputs(t *testing.T) {
	signers := make([]*fakeSigner, 3)
	validators := make([]Validator, 3)
	for i := range signers {
		signers[i] = newFakeSigner(t, i)
		validators[i] = Validator{Address: signers[i].addr, PubKey: signers[i].pk, Stake: primitives.NewUInt256FromUint64(uint64(10 * (i + 1)))}
	}
	set := NewActiveSet(0, primitives.Hash{}, validators)

	l1, err := Leader(set, 5, 0)
	if err != nil {
		t.Fatalf("leader: %v", err)
	}
	l2, err := Leader(set, 5, 0)
	if err != nil {
		t.Fatalf("leader: %v", err)
	}
	if l1.Address != l2.Address {
		t.Fatalf("expected deterministic leader election, got %v then %v", l1.Address, l2.Address)
	}
}
