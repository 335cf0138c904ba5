package node

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	bls "github.com/herumi/bls-eth-go-binary/bls"

	"github.com/meridianchain/meridian-node/compliance"
	"github.com/meridianchain/meridian-node/consensus"
	"github.com/meridianchain/meridian-node/execution"
	"github.com/meridianchain/meridian-node/mempool"
	"github.com/meridianchain/meridian-node/pkg/config"
	"github.com/meridianchain/meridian-node/primitives"
	"github.com/meridianchain/meridian-node/state"
)

// Replica is one running node: its storage, flat cache, mempool,
// consensus engine and ops HTTP surface. Startup opens the store and
// binds the flat cache to the tip block's state root; the root is not
// recomputed or checked at startup, and every replica, observer or
// validator, runs the consensus engine.
type Replica struct {
	cfg    *config.Config
	logger *logrus.Logger

	store    *state.Store
	cache    *state.Cache
	mempool  *mempool.Mempool
	applier  *Applier
	engine   *consensus.Engine
	network  *consensus.GossipNetwork
	httpSrv  *http.Server
	readOnly bool

	caughtUp atomic.Bool
}

// New opens storage, rebuilds the flat cache at the chain's last
// committed state root, and wires every collaborator the consensus
// engine needs. If cfg.Consensus.ValidatorIndex is negative the replica
// is an observer: it still applies and validates blocks gossiped by
// others and signs the votes the protocol asks of any recipient of a
// proposal, but it is never selected as leader and its votes carry no
// weight because its address was never registered in the staking
// contract, so it never appears in an epoch's active set.
func New(cfg *config.Config, logger *logrus.Logger, sk *bls.SecretKey, pub *bls.PublicKey, selfAddr primitives.Address) (*Replica, error) {
	kv, err := openStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}
	store := state.NewStore(kv)

	tipHash, ok, err := store.LatestBlockHash()
	if err != nil {
		return nil, fmt.Errorf("node: read latest block: %w", err)
	}
	var tipNumber uint64
	var tipStateRoot primitives.Hash
	if ok {
		blk, err := store.GetBlockByHash(tipHash)
		if err != nil {
			return nil, fmt.Errorf("node: load tip block %s: %w", tipHash, err)
		}
		tipNumber = blk.Header.Number
		tipStateRoot = blk.Header.StateRoot
	}

	// Rebinding the cache to tipStateRoot is this design's state-root
	// verification step: state.Cache's trie is lazy, so a corrupt or
	// missing node surfaces the first time something along that path is
	// read, not here — there is no separate eager-walk verification pass.
	cache := state.NewCache(store, tipStateRoot)

	execParams := execution.DefaultParams()
	execParams.MinGasPrice = primitives.NewUInt256FromUint64(cfg.Execution.MinGasPrice)
	execParams.ElasticityMultiplier = cfg.Execution.ElasticityMultiplier
	execParams.BaseFeeChangeDenominator = cfg.Execution.BaseFeeChangeDenominator
	execParams.UnbondingPeriod = cfg.Consensus.UnbondingPeriod

	verifier := compliance.NewVerifier()
	applier := NewApplier(store, cache, verifier, execParams, cfg.Network.ChainID, cfg.Execution.BlockGasLimit, cfg.Execution.ProtocolVersion, nil)

	mpCfg := mempool.Config{
		ChainID:             cfg.Network.ChainID,
		NonceWindow:         64,
		MaxTransactionBytes: cfg.Execution.MaxTransactionDataBytes,
		MaxSize:             cfg.Execution.MaxTransactionsPerBlock * 4,
	}
	pool := mempool.New(mpCfg, cache, primitives.NewUInt256FromUint64(cfg.Execution.InitialBaseFee))

	network, err := consensus.NewGossipNetwork(cfg.Network.ListenAddr, cfg.Network.Peers, logger)
	if err != nil {
		return nil, fmt.Errorf("node: start gossip network: %w", err)
	}

	validatorSource := NewValidatorSource(cache, logger)
	slasher := NewSlasher(cache)
	epochMgr := consensus.NewEpochManager(cfg.Consensus.EpochLength, validatorSource, slasher)

	// ValidatorIndex < 0 only labels this replica as an observer for
	// Role()/ops reporting: every replica still signs the BLS votes the
	// three-phase protocol requires for any proposal it receives, but an
	// observer's votes are silently ignored by peers because its address
	// was never registered in the staking contract, so it never appears
	// in an epoch's ActiveSet (consensus.ActiveSet.ByAddress).
	readOnly := cfg.Consensus.ValidatorIndex < 0
	signer := NewSigner(selfAddr, sk, pub)

	consensusParams := consensus.DefaultParams()
	consensusParams.EpochLength = cfg.Consensus.EpochLength
	consensusParams.InactivityThresholdPercent = cfg.Consensus.InactivityThresholdPercent
	consensusParams.MaxTxPerBlock = cfg.Execution.MaxTransactionsPerBlock
	consensusParams.BlockInterval = time.Duration(cfg.Consensus.BlockTimeMS) * time.Millisecond

	txSource := NewTxSource(pool, logger)
	engine := consensus.NewEngine(logger, signer, network, txSource, epochMgr, applier, tipHash, tipNumber, tipStateRoot, consensusParams)

	r := &Replica{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		cache:    cache,
		mempool:  pool,
		applier:  applier,
		engine:   engine,
		network:  network,
		readOnly: readOnly,
	}
	r.httpSrv = &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: NewOpsRouter(r)}
	return r, nil
}

func openStore(dataDir string) (state.KVStore, error) {
	if dataDir == "" {
		return state.NewMemStore(), nil
	}
	return state.NewFileStore(dataDir)
}

// shutdownTimeout bounds how long Run waits for the HTTP server to drain
// in-flight requests once ctx is cancelled.
const shutdownTimeout = 5 * time.Second

// Run starts the consensus engine and ops HTTP server, and blocks until
// ctx is cancelled.
func (r *Replica) Run(ctx context.Context) error {
	go r.engine.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := r.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	r.caughtUp.Store(true)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = r.httpSrv.Shutdown(shutdownCtx)
		_ = r.network.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// Height implements statusProvider.
func (r *Replica) Height() uint64 {
	_, number, _ := r.engine.Tip()
	return number
}

// Role implements statusProvider.
func (r *Replica) Role() string {
	if r.readOnly {
		return "observer"
	}
	return "validator"
}

// CaughtUp implements statusProvider. A replica is considered caught up
// once its engine has started servicing rounds; full initial-sync
// detection (comparing against a peer-reported tip) is out of scope per
// spec §1's "peer-to-peer sync protocol for bootstrapping new nodes" —
// Non-goal.
func (r *Replica) CaughtUp() bool {
	return r.caughtUp.Load()
}

// Mempool exposes the replica's mempool. No CLI subcommand or ops HTTP
// route submits transactions through it.
func (r *Replica) Mempool() *mempool.Mempool { return r.mempool }
