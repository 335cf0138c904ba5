package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/primitives"
)

// Params bundles the engine's tunable timing and epoch parameters.
type Params struct {
	ViewTimeoutBase            time.Duration // initial view-change timeout
	ViewTimeoutMax             time.Duration // exponential-backoff ceiling
	EpochLength                uint64        // blocks per epoch
	InactivityThresholdPercent uint64        // min % of blocks a validator must sign
	MaxTxPerBlock              int

	// BlockInterval is the node orchestrator's block-production timer
	// period (config's block_time_ms): the minimum spacing this replica
	// enforces between proposals it leads. Zero disables pacing and
	// proposes as soon as a round opens and this replica is leader —
	// the behavior every other Params field already assumed before this
	// field existed.
	BlockInterval time.Duration
}

// DefaultParams returns spec §4.6/§6's documented consensus defaults.
func DefaultParams() Params {
	return Params{
		ViewTimeoutBase:            4 * time.Second,
		ViewTimeoutMax:             64 * time.Second,
		EpochLength:                28_800, // ~4 days at 12s blocks
		InactivityThresholdPercent: 50,
		MaxTxPerBlock:              5_000,
		BlockInterval:              2 * time.Second,
	}
}

// round is the in-flight state for one block height, reachable while
// pipelining permits more than one height to be live at once.
type round struct {
	height    uint64
	view      uint64
	state     State
	proposal  *Proposal
	block     *primitives.Block
	stateRoot primitives.Hash

	prepareVotes map[primitives.Hash]map[primitives.Address]*Vote
	commitVotes  map[primitives.Hash]map[primitives.Address]*Vote
	viewChanges  map[uint64]map[primitives.Address]*ViewChange

	timeoutCount int
	timer        *time.Timer
}

func newRound(height uint64) *round {
	return &round{
		height:       height,
		state:        StateIdle,
		prepareVotes: make(map[primitives.Hash]map[primitives.Address]*Vote),
		commitVotes:  make(map[primitives.Hash]map[primitives.Address]*Vote),
		viewChanges:  make(map[uint64]map[primitives.Address]*ViewChange),
	}
}

// Engine drives the pipelined three-phase BFT state machine for one
// replica, per spec §4.6. It depends only on the adapter interfaces
// above, matching the teacher's core/consensus.go SynnergyConsensus
// struct (logger + ledger + four adapters, mutex-guarded) generalized
// from its PoH/PoS/PoW hybrid to the spec's HotStuff-style pipeline.
type Engine struct {
	mu            sync.Mutex
	logger        *logrus.Logger
	signer        Signer
	network       Network
	txSource      TxSource
	authority     AuthoritySet
	applier       BlockApplier
	equivocation  *EquivocationTracker
	participation *ParticipationTracker
	params        Params

	tipHash      primitives.Hash
	tipNumber    uint64
	tipStateRoot primitives.Hash

	rounds         map[uint64]*round
	ctx            context.Context
	lastProposalAt time.Time
}

// NewEngine constructs a replica resuming from the committed tip
// (tipHash, tipNumber, tipStateRoot).
func NewEngine(
	logger *logrus.Logger,
	signer Signer,
	network Network,
	txSource TxSource,
	authority AuthoritySet,
	applier BlockApplier,
	tipHash primitives.Hash,
	tipNumber uint64,
	tipStateRoot primitives.Hash,
	params Params,
) *Engine {
	return &Engine{
		logger:        logger,
		signer:        signer,
		network:       network,
		txSource:      txSource,
		authority:     authority,
		applier:       applier,
		equivocation:  NewEquivocationTracker(),
		participation: NewParticipationTracker(),
		params:        params,
		tipHash:       tipHash,
		tipNumber:     tipNumber,
		tipStateRoot:  tipStateRoot,
		rounds:        make(map[uint64]*round),
	}
}

// Start launches the replica's message loops and opens the first
// height. It blocks until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	go e.readProposals(ctx)
	go e.readVotes(ctx)
	go e.readViewChanges(ctx)

	e.mu.Lock()
	e.openRoundLocked(e.tipNumber + 1)
	e.mu.Unlock()

	<-ctx.Done()
}

func (e *Engine) readProposals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-e.network.Proposals():
			if !ok {
				return
			}
			e.OnProposal(p)
		}
	}
}

func (e *Engine) readVotes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-e.network.Votes():
			if !ok {
				return
			}
			e.OnVote(v)
		}
	}
}

func (e *Engine) readViewChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case vc, ok := <-e.network.ViewChanges():
			if !ok {
				return
			}
			e.OnViewChange(vc)
		}
	}
}

// openRoundLocked creates height's round if absent, arms its
// view-change timer, and, if this replica is the elected leader for
// (height, view 0), proposes through maybeProposeLocked, which may defer
// the proposal until BlockInterval has elapsed. Caller must hold e.mu.
func (e *Engine) openRoundLocked(height uint64) {
	if _, ok := e.rounds[height]; ok {
		return
	}
	r := newRound(height)
	e.rounds[height] = r
	e.armTimerLocked(r)

	set, err := e.authority.Active(height)
	if err != nil {
		e.logger.WithError(err).Warn("consensus: active set lookup failed")
		return
	}
	leader, err := Leader(set, height, r.view)
	if err != nil {
		e.logger.WithError(err).Warn("consensus: leader election failed")
		return
	}
	if leader.Address == e.signer.Address() {
		e.maybeProposeLocked(r, set)
	}
}

// maybeProposeLocked enforces the node orchestrator's block-production
// timer (Params.BlockInterval, spec §4.7's block_time_ms): if less than
// BlockInterval has elapsed since this replica's last proposal, it defers
// proposeLocked to fire once the interval has elapsed instead of
// proposing immediately. Caller must hold e.mu.
func (e *Engine) maybeProposeLocked(r *round, set *ActiveSet) {
	if e.params.BlockInterval <= 0 {
		e.lastProposalAt = time.Now()
		e.proposeLocked(r, set)
		return
	}
	wait := e.params.BlockInterval - time.Since(e.lastProposalAt)
	if wait <= 0 {
		e.lastProposalAt = time.Now()
		e.proposeLocked(r, set)
		return
	}
	height, view := r.height, r.view
	time.AfterFunc(wait, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		cur, ok := e.rounds[height]
		if !ok || cur.view != view || cur.state != StateIdle {
			return
		}
		set, err := e.authority.Active(height)
		if err != nil {
			return
		}
		leader, err := Leader(set, height, view)
		if err != nil || leader.Address != e.signer.Address() {
			return
		}
		e.lastProposalAt = time.Now()
		e.proposeLocked(cur, set)
	})
}

func (e *Engine) armTimerLocked(r *round) {
	timeout := e.params.ViewTimeoutBase << uint(r.timeoutCount)
	if timeout > e.params.ViewTimeoutMax || timeout <= 0 {
		timeout = e.params.ViewTimeoutMax
	}
	height := r.height
	r.timer = time.AfterFunc(timeout, func() { e.onViewTimeout(height) })
}

// parentFor resolves the parent hash a proposal/build for height
// should reference: the committed tip for tipNumber+1, or the prior
// in-flight round's Prepared/Proposed block once pipelined further.
func (e *Engine) parentFor(height uint64) (primitives.Hash, bool) {
	if height == e.tipNumber+1 {
		return e.tipHash, true
	}
	if prev, ok := e.rounds[height-1]; ok && prev.block != nil {
		h, err := e.blockHash(prev.block)
		if err != nil {
			return primitives.Hash{}, false
		}
		return h, true
	}
	return primitives.Hash{}, false
}

func (e *Engine) blockHash(blk *primitives.Block) (primitives.Hash, error) {
	w := primitives.NewWriter(256)
	blk.Header.Encode(w)
	return crypto.Hash(w.Bytes()), nil
}

// proposeLocked builds and broadcasts a proposal for r, reusing the
// block r already holds if a view change carried one forward, whether
// that block reached Prepared or was only Proposed; only this replica's
// own round for r.height is consulted, not blocks other replicas
// prepared. Otherwise it builds a fresh block. Caller must hold e.mu.
func (e *Engine) proposeLocked(r *round, set *ActiveSet) {
	var blk *primitives.Block
	var err error
	if r.block != nil {
		blk = r.block
	} else {
		parent, ok := e.parentFor(r.height)
		if !ok {
			e.logger.Warn("consensus: no known parent yet, deferring proposal")
			return
		}
		txs := e.txSource.Pick(e.params.MaxTxPerBlock)
		blk, err = e.applier.BuildBlock(r.height, parent, e.signer.Address(), time.Now().UnixMilli(), txs)
		if err != nil {
			e.logger.WithError(err).Warn("consensus: build block failed")
			return
		}
	}

	hash, err := e.blockHash(blk)
	if err != nil {
		return
	}
	w := primitives.NewWriter(4096)
	blk.Encode(w)

	p := &Proposal{View: r.view, Number: r.height, BlockHash: hash, BlockData: w.Bytes()}
	p.ProposerSig = e.signer.Sign(p.signedPayload())

	r.proposal = p
	r.block = blk
	r.state = StateProposed

	if err := e.network.BroadcastProposal(p); err != nil {
		e.logger.WithError(err).Warn("consensus: broadcast proposal failed")
	}
	e.castVoteLocked(r, set, PhasePrepare, hash)
}

// OnProposal validates and processes an inbound proposal.
func (e *Engine) OnProposal(p *Proposal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.Number <= e.tipNumber {
		return
	}
	r, ok := e.rounds[p.Number]
	if !ok {
		// Only accept a proposal for a height we have not yet opened if
		// it is the next height after the tip or a round for its parent
		// height is already open (in any state).
		if p.Number != e.tipNumber+1 {
			if _, okParent := e.rounds[p.Number-1]; !okParent {
				return
			}
		}
		r = newRound(p.Number)
		e.rounds[p.Number] = r
		e.armTimerLocked(r)
	}
	if r.state != StateIdle || p.View != r.view {
		return
	}

	set, err := e.authority.Active(p.Number)
	if err != nil {
		return
	}
	leader, err := Leader(set, p.Number, p.View)
	if err != nil || leader.PubKey == nil {
		return
	}
	ok2, err := crypto.VerifyBLS(leader.PubKey, p.signedPayload(), p.ProposerSig)
	if err != nil || !ok2 {
		return
	}

	parent, haveParent := e.parentFor(p.Number)
	if !haveParent {
		return
	}

	blk, err := e.applier.DecodeBlock(p.BlockData)
	if err != nil {
		return
	}
	if blk.Header.Number != p.Number || blk.Header.ParentHash != parent {
		return
	}
	hash, err := e.blockHash(blk)
	if err != nil || hash != p.BlockHash {
		return
	}

	root, err := e.applier.PreExecute(blk)
	if err != nil || root != blk.Header.StateRoot {
		e.applier.Rollback()
		return
	}

	r.proposal = p
	r.block = blk
	r.stateRoot = root
	r.state = StateProposed

	e.castVoteLocked(r, set, PhasePrepare, hash)
}

func (e *Engine) castVoteLocked(r *round, set *ActiveSet, phase Phase, blockHash primitives.Hash) {
	v := &Vote{
		View:      r.view,
		Number:    r.height,
		BlockHash: blockHash,
		Phase:     phase,
		Voter:     e.signer.Address(),
		PubKey:    e.signer.PublicKey(),
	}
	v.Sig = e.signer.Sign(v.SignedPayload())
	if err := e.network.BroadcastVote(v); err != nil {
		e.logger.WithError(err).Warn("consensus: broadcast vote failed")
	}
	e.tallyVoteLocked(r, set, v)
}

// OnVote validates and tallies an inbound vote.
func (e *Engine) OnVote(v *Vote) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v.Number <= e.tipNumber {
		return
	}
	if ev, found := e.equivocation.Observe(v); found {
		if err := e.authority.Slash(ev.Validator, SlashEquivocation); err != nil {
			e.logger.WithError(err).Warn("consensus: equivocation slash failed")
		}
		return
	}

	set, err := e.authority.Active(v.Number)
	if err != nil {
		return
	}
	voter, ok := set.ByAddress(v.Voter)
	if !ok || voter.PubKey == nil {
		return
	}
	ok2, err := crypto.VerifyBLS(voter.PubKey, v.SignedPayload(), v.Sig)
	if err != nil || !ok2 {
		return
	}

	r, ok := e.rounds[v.Number]
	if !ok || v.View != r.view {
		return
	}
	e.tallyVoteLocked(r, set, v)
}

func (e *Engine) tallyVoteLocked(r *round, set *ActiveSet, v *Vote) {
	byHash := r.prepareVotes
	if v.Phase == PhaseCommit {
		byHash = r.commitVotes
	}
	votes, ok := byHash[v.BlockHash]
	if !ok {
		votes = make(map[primitives.Address]*Vote)
		byHash[v.BlockHash] = votes
	}
	votes[v.Voter] = v

	quorum := Quorum(set.N())
	if quorum == 0 || len(votes) < quorum {
		return
	}

	switch v.Phase {
	case PhasePrepare:
		if r.state != StateProposed {
			return
		}
		r.state = StatePrepared
		r.timeoutCount = 0
		e.castVoteLocked(r, set, PhaseCommit, v.BlockHash)
		e.openRoundLocked(r.height + 1)
	case PhaseCommit:
		if r.state != StatePrepared {
			return
		}
		e.finalizeLocked(r, set, votes, v.BlockHash)
	}
}

func (e *Engine) finalizeLocked(r *round, set *ActiveSet, commitVotes map[primitives.Address]*Vote, blockHash primitives.Hash) {
	sigs := make([]primitives.Signature, 0, len(commitVotes))
	var bitmap uint64
	for addr, vote := range commitVotes {
		sigs = append(sigs, vote.Sig)
		if idx, ok := set.IndexOf(addr); ok && idx < 64 {
			bitmap |= uint64(1) << uint(idx)
		}
	}
	agg, err := crypto.AggregateBLSSignatures(sigs)
	if err != nil {
		e.logger.WithError(err).Warn("consensus: aggregate commit signatures failed")
		return
	}
	r.block.Certificate = primitives.CommitCertificate{AggregateSig: agg, VoterBitmap: bitmap}

	if err := e.applier.Commit(r.block); err != nil {
		e.logger.WithError(err).Error("consensus: commit block failed")
		e.applier.Rollback()
		return
	}

	r.state = StateCommitted
	if r.timer != nil {
		r.timer.Stop()
	}
	e.equivocation.Forget(r.height)
	e.participation.RecordBlock(r.height/e.params.EpochLength, set, bitmap)

	e.tipHash = blockHash
	e.tipNumber = r.height
	e.tipStateRoot = r.block.Header.StateRoot
	delete(e.rounds, r.height)

	if (r.height+1)%e.params.EpochLength == 0 {
		for _, addr := range e.participation.Inactive(set, e.params.InactivityThresholdPercent) {
			if err := e.authority.Slash(addr, SlashInactivity); err != nil {
				e.logger.WithError(err).Warn("consensus: inactivity slash failed")
			}
		}
	}

	e.openRoundLocked(r.height + 1)
}

// OnViewChange validates and tallies an inbound view-change vote. Spec
// §4.6's ViewChange message carries no height; this engine resolves it
// against every currently open round whose current view matches
// CurrentView (an Open Question decision — see DESIGN.md).
func (e *Engine) OnViewChange(vc *ViewChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rounds {
		if r.state == StateCommitted || r.view != vc.CurrentView {
			continue
		}
		set, err := e.authority.Active(r.height)
		if err != nil {
			continue
		}
		voter, ok := set.ByAddress(vc.Voter)
		if !ok || voter.PubKey == nil {
			continue
		}
		ok2, err := crypto.VerifyBLS(voter.PubKey, vc.SignedPayload(), vc.Sig)
		if err != nil || !ok2 {
			continue
		}
		votes, ok := r.viewChanges[vc.ProposedView]
		if !ok {
			votes = make(map[primitives.Address]*ViewChange)
			r.viewChanges[vc.ProposedView] = votes
		}
		votes[vc.Voter] = vc

		if len(votes) >= Quorum(set.N()) {
			e.enterViewLocked(r, set, vc.ProposedView)
		}
	}
}

func (e *Engine) enterViewLocked(r *round, set *ActiveSet, newView uint64) {
	if newView <= r.view {
		return
	}
	r.view = newView
	r.timeoutCount++
	r.state = StateIdle
	r.proposal = nil
	// r.block is kept whatever state the round reached, so a leader of
	// the new view re-proposes the block this replica holds for the
	// height (Prepared or only Proposed) rather than building a new one.
	if r.timer != nil {
		r.timer.Stop()
	}
	e.armTimerLocked(r)

	leader, err := Leader(set, r.height, newView)
	if err != nil {
		return
	}
	if leader.Address == e.signer.Address() {
		e.maybeProposeLocked(r, set)
	}
}

func (e *Engine) onViewTimeout(height uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[height]
	if !ok || r.state == StateCommitted {
		return
	}
	r.state = StateViewChanging
	vc := &ViewChange{
		CurrentView:  r.view,
		ProposedView: r.view + 1,
		Voter:        e.signer.Address(),
		PubKey:       e.signer.PublicKey(),
	}
	vc.Sig = e.signer.Sign(vc.SignedPayload())
	if err := e.network.BroadcastViewChange(vc); err != nil {
		e.logger.WithError(err).Warn("consensus: broadcast view-change failed")
	}

	set, err := e.authority.Active(height)
	if err == nil {
		votes, ok := r.viewChanges[vc.ProposedView]
		if !ok {
			votes = make(map[primitives.Address]*ViewChange)
			r.viewChanges[vc.ProposedView] = votes
		}
		votes[vc.Voter] = vc
		if len(votes) >= Quorum(set.N()) {
			e.enterViewLocked(r, set, vc.ProposedView)
			return
		}
	}
	r.timeoutCount++
	e.armTimerLocked(r)
}

// Tip returns the last committed block's hash, number and state root.
func (e *Engine) Tip() (primitives.Hash, uint64, primitives.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tipHash, e.tipNumber, e.tipStateRoot
}
