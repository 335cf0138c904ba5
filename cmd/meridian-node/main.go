package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	bls "github.com/herumi/bls-eth-go-binary/bls"

	"github.com/meridianchain/meridian-node/crypto"
	"github.com/meridianchain/meridian-node/execution"
	"github.com/meridianchain/meridian-node/node"
	"github.com/meridianchain/meridian-node/pkg/config"
	"github.com/meridianchain/meridian-node/primitives"
	"github.com/meridianchain/meridian-node/state"
)

// keyFile is the on-disk shape a validator's identity is persisted as,
// written by "keys generate" and read by "start"/"genesis init".
type keyFile struct {
	Address      string `json:"address"`
	BLSSecretKey string `json:"bls_secret_key"`
}

func main() {
	rootCmd := &cobra.Command{Use: "meridian-node", Short: "meridian consensus/execution node"}
	rootCmd.PersistentFlags().String("env", "", "environment config overlay to merge over default.yaml (e.g. \"prod\")")
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(genesisCmd())
	rootCmd.AddCommand(chainCmd())
	rootCmd.AddCommand(mempoolCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if lv, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(lv)
	}
	if cfg.Logging.File != "" {
		if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			logger.SetOutput(f)
		} else {
			logger.WithError(err).Warn("main: failed to open log file, falling back to stderr")
		}
	}
	return logger
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	env, _ := cmd.Flags().GetString("env")
	return config.Load(env)
}

func startCmd() *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the node: consensus engine, gossip network and ops HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			var sk *bls.SecretKey
			var pub *bls.PublicKey
			var selfAddr primitives.Address
			if keyPath != "" {
				kf, err := readKeyFile(keyPath)
				if err != nil {
					return fmt.Errorf("main: read keyfile: %w", err)
				}
				selfAddr, sk, pub, err = kf.decode()
				if err != nil {
					return fmt.Errorf("main: decode keyfile: %w", err)
				}
			} else {
				logger.Warn("main: no --keyfile given, running as an anonymous observer with an ephemeral identity")
				sk, pub, err = crypto.GenerateBLSKey()
				if err != nil {
					return err
				}
				_, edPub, err := crypto.GenerateEd25519Key()
				if err != nil {
					return err
				}
				selfAddr = crypto.DeriveAddress(edPub)
			}

			replica, err := node.New(cfg, logger, sk, pub, selfAddr)
			if err != nil {
				return fmt.Errorf("main: construct replica: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sig
				logger.Info("main: shutdown signal received")
				cancel()
			}()

			logger.WithField("addr", selfAddr.String()).Info("main: starting replica")
			return replica.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&keyPath, "keyfile", "", "path to a validator keyfile produced by \"keys generate\"")
	return cmd
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "validator key management"}
	cmd.AddCommand(keysGenerateCmd())
	return cmd
}

func keysGenerateCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "generate a new validator identity (an address plus a BLS signing key) and write it to a keyfile",
		RunE: func(cmd *cobra.Command, args []string) error {
			sk, _, err := crypto.GenerateBLSKey()
			if err != nil {
				return err
			}
			_, edPub, err := crypto.GenerateEd25519Key()
			if err != nil {
				return err
			}
			addr := crypto.DeriveAddress(edPub)

			kf := keyFile{
				Address:      addr.String(),
				BLSSecretKey: hex.EncodeToString(crypto.EncodeBLSSecretKey(sk)),
			}
			data, err := json.MarshalIndent(kf, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("main: write keyfile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated validator identity %s -> %s\n", addr.String(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "validator.key.json", "keyfile output path")
	return cmd
}

func readKeyFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, err
	}
	return &kf, nil
}

func (kf *keyFile) decode() (primitives.Address, *bls.SecretKey, *bls.PublicKey, error) {
	addr, err := primitives.AddressFromHex(kf.Address)
	if err != nil {
		return primitives.Address{}, nil, nil, fmt.Errorf("main: parse address: %w", err)
	}
	raw, err := hex.DecodeString(kf.BLSSecretKey)
	if err != nil {
		return primitives.Address{}, nil, nil, fmt.Errorf("main: decode bls secret key: %w", err)
	}
	sk, pub, err := crypto.DecodeBLSSecretKey(raw)
	if err != nil {
		return primitives.Address{}, nil, nil, err
	}
	return addr, sk, pub, nil
}

func genesisCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "genesis", Short: "genesis block construction"}
	cmd.AddCommand(genesisInitCmd())
	return cmd
}

func genesisInitCmd() *cobra.Command {
	var validatorKeyPath string
	var stake uint64
	cmd := &cobra.Command{
		Use:   "init",
		Short: "seed a fresh data directory with a single bonded validator and commit block 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.DataDir == "" {
				return fmt.Errorf("main: genesis init requires storage.data_dir to be set")
			}

			kf, err := readKeyFile(validatorKeyPath)
			if err != nil {
				return fmt.Errorf("main: read validator keyfile: %w", err)
			}
			validatorAddr, _, pub, err := kf.decode()
			if err != nil {
				return err
			}

			kv, err := state.NewFileStore(cfg.Storage.DataDir)
			if err != nil {
				return fmt.Errorf("main: open data dir: %w", err)
			}
			store := state.NewStore(kv)
			if _, ok, err := store.LatestBlockHash(); err != nil {
				return err
			} else if ok {
				return fmt.Errorf("main: data dir %s already has a chain", cfg.Storage.DataDir)
			}

			cache := state.NewCache(store, primitives.Hash{})
			if err := execution.RegisterValidator(cache, validatorAddr, primitives.NewUInt256FromUint64(stake), pub.Serialize()); err != nil {
				return fmt.Errorf("main: register genesis validator: %w", err)
			}

			root, err := cache.IntermediateRoot()
			if err != nil {
				return err
			}
			header := primitives.BlockHeader{
				Number:          0,
				StateRoot:       root,
				Timestamp:       0,
				Proposer:        validatorAddr,
				ChainID:         cfg.Network.ChainID,
				GasLimit:        cfg.Execution.BlockGasLimit,
				BaseFee:         primitives.NewUInt256FromUint64(cfg.Execution.InitialBaseFee),
				ProtocolVersion: cfg.Execution.ProtocolVersion,
			}
			genesisBlock := &primitives.Block{Header: header}

			batch := store.NewBatch()
			if _, err := cache.Flush(&batch); err != nil {
				return err
			}
			if err := store.PutBlock(&batch, genesisBlock); err != nil {
				return err
			}
			if err := batch.Commit(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "genesis committed: validator %s bonded with stake %d, state root %s\n", validatorAddr.String(), stake, root.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&validatorKeyPath, "validator-keyfile", "", "keyfile of the validator to bond at genesis")
	cmd.Flags().Uint64Var(&stake, "stake", 0, "initial bonded stake for the genesis validator")
	_ = cmd.MarkFlagRequired("validator-keyfile")
	_ = cmd.MarkFlagRequired("stake")
	return cmd
}

func chainCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "chain", Short: "chain maintenance devtools"}
	cmd.AddCommand(chainReplayCmd())
	return cmd
}

// chainReplayCmd is a devtool: it re-executes every committed block
// against a fresh cache rebound to genesis, reporting the first height
// whose replayed state root diverges from what was stored. It never
// calls Commit, so it never mutates the data directory.
func chainReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "re-execute every committed block from genesis, verifying each stored state root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			kv, err := state.NewFileStore(cfg.Storage.DataDir)
			if err != nil {
				return err
			}
			store := state.NewStore(kv)
			tipHash, ok, err := store.LatestBlockHash()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no chain found")
				return nil
			}
			tip, err := store.GetBlockByHash(tipHash)
			if err != nil {
				return err
			}

			execParams := execution.DefaultParams()
			cache := state.NewCache(store, primitives.Hash{})
			applier := node.NewApplier(store, cache, nil, execParams, cfg.Network.ChainID, cfg.Execution.BlockGasLimit, cfg.Execution.ProtocolVersion, nil)

			for height := uint64(1); height <= tip.Header.Number; height++ {
				hash, err := store.GetBlockHashByHeight(height)
				if err != nil {
					return err
				}
				blk, err := store.GetBlockByHash(hash)
				if err != nil {
					return err
				}
				root, err := applier.PreExecute(blk)
				if err != nil {
					return fmt.Errorf("main: replay height %d: %w", height, err)
				}
				if root != blk.Header.StateRoot {
					return fmt.Errorf("main: state root mismatch at height %d: replayed %s, stored %s", height, root, blk.Header.StateRoot)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d blocks, all state roots match\n", tip.Header.Number)
			return nil
		},
	}
	return cmd
}

func mempoolCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mempool", Short: "mempool devtools"}
	cmd.AddCommand(mempoolDecodeCmd())
	return cmd
}

// mempoolDecodeCmd is a devtool for inspecting a hex-encoded, wire-encoded
// transaction without needing a running node or an RPC surface — spec §1
// excludes a JSON-RPC/gRPC submission API as a Non-goal, so this is the
// operator's only local way to eyeball a transaction's decoded fields.
func mempoolDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [hex]",
		Short: "decode a hex-encoded wire transaction and print its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("main: decode hex: %w", err)
			}
			tx := &primitives.Transaction{}
			if err := tx.Decode(primitives.NewReader(raw)); err != nil {
				return fmt.Errorf("main: decode transaction: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kind=%d sender=%s to=%s nonce=%d value=%s gas_limit=%d chain_id=%d\n",
				tx.Kind, tx.Sender.String(), tx.To.String(), tx.Nonce, tx.Value.String(), tx.GasLimit, tx.ChainID)
			return nil
		},
	}
	return cmd
}
