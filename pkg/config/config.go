// Package config provides a reusable loader for node configuration files
// and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.2.0
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/meridianchain/meridian-node/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config is the full configuration surface spec §6 names, grouped the
// way the node orchestrator consumes each section.
type Config struct {
	Network struct {
		ChainID    uint32   `mapstructure:"chain_id" json:"chain_id"`
		ListenAddr string   `mapstructure:"listen_addr" json:"listen_addr"`
		P2PPort    int      `mapstructure:"p2p_port" json:"p2p_port"`
		Peers      []string `mapstructure:"peers" json:"peers"`
	} `mapstructure:"network" json:"network"`

	Consensus struct {
		BlockTimeMS                int64  `mapstructure:"block_time_ms" json:"block_time_ms"`
		EpochLength                uint64 `mapstructure:"epoch_length" json:"epoch_length"`
		UnbondingPeriod            uint64 `mapstructure:"unbonding_period" json:"unbonding_period"`
		InactivityThresholdPercent uint64 `mapstructure:"inactivity_threshold_percent" json:"inactivity_threshold_percent"`
		ValidatorSetSize           int    `mapstructure:"validator_set_size" json:"validator_set_size"`
		MinValidatorStake          uint64 `mapstructure:"min_validator_stake" json:"min_validator_stake"`
		// ValidatorIndex >= 0 labels the node a validator; a negative value
		// labels it an observer. Both run the consensus engine and sign
		// votes; the label only changes the reported role.
		ValidatorIndex int `mapstructure:"validator_index" json:"validator_index"`
	} `mapstructure:"consensus" json:"consensus"`

	Execution struct {
		BlockGasLimit            uint64 `mapstructure:"block_gas_limit" json:"block_gas_limit"`
		MaxBlockSizeBytes        int    `mapstructure:"max_block_size_bytes" json:"max_block_size_bytes"`
		MaxTransactionsPerBlock  int    `mapstructure:"max_transactions_per_block" json:"max_transactions_per_block"`
		MaxTransactionDataBytes  int    `mapstructure:"max_transaction_data_bytes" json:"max_transaction_data_bytes"`
		MaxExtraDataBytes        int    `mapstructure:"max_extra_data_bytes" json:"max_extra_data_bytes"`
		MinGasPrice              uint64 `mapstructure:"min_gas_price" json:"min_gas_price"`
		InitialBaseFee           uint64 `mapstructure:"initial_base_fee" json:"initial_base_fee"`
		BaseFeeChangeDenominator uint64 `mapstructure:"base_fee_change_denominator" json:"base_fee_change_denominator"`
		ElasticityMultiplier     uint64 `mapstructure:"elasticity_multiplier" json:"elasticity_multiplier"`
		TransferGasCost          uint64 `mapstructure:"transfer_gas_cost" json:"transfer_gas_cost"`
		ContractDeployGasCost    uint64 `mapstructure:"contract_deploy_gas_cost" json:"contract_deploy_gas_cost"`
		ContractCallGasCost      uint64 `mapstructure:"contract_call_gas_cost" json:"contract_call_gas_cost"`
		TokenDecimals            uint8  `mapstructure:"token_decimals" json:"token_decimals"`
		ProtocolVersion          uint32 `mapstructure:"protocol_version" json:"protocol_version"`
	} `mapstructure:"execution" json:"execution"`

	Storage struct {
		// DataDir empty means in-memory only (spec §6).
		DataDir string `mapstructure:"data_dir" json:"data_dir"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"http" json:"http"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

func applyDefaults() {
	viper.SetDefault("network.chain_id", 1)
	viper.SetDefault("network.listen_addr", "/ip4/0.0.0.0/tcp/26656")
	viper.SetDefault("network.p2p_port", 26656)

	viper.SetDefault("consensus.block_time_ms", 2000)
	viper.SetDefault("consensus.epoch_length", 28_800)
	viper.SetDefault("consensus.unbonding_period", 100_800)
	viper.SetDefault("consensus.inactivity_threshold_percent", 50)
	viper.SetDefault("consensus.validator_set_size", 64)
	viper.SetDefault("consensus.min_validator_stake", 1)
	viper.SetDefault("consensus.validator_index", -1)

	viper.SetDefault("execution.block_gas_limit", 30_000_000)
	viper.SetDefault("execution.max_block_size_bytes", 2_000_000)
	viper.SetDefault("execution.max_transactions_per_block", 5_000)
	viper.SetDefault("execution.max_transaction_data_bytes", 131_072)
	viper.SetDefault("execution.max_extra_data_bytes", 32)
	viper.SetDefault("execution.min_gas_price", 0)
	viper.SetDefault("execution.initial_base_fee", 1_000_000_000)
	viper.SetDefault("execution.base_fee_change_denominator", 8)
	viper.SetDefault("execution.elasticity_multiplier", 2)
	viper.SetDefault("execution.transfer_gas_cost", 21_000)
	viper.SetDefault("execution.contract_deploy_gas_cost", 500_000)
	viper.SetDefault("execution.contract_call_gas_cost", 50_000)
	viper.SetDefault("execution.token_decimals", 18)
	viper.SetDefault("execution.protocol_version", 1)

	viper.SetDefault("storage.data_dir", "")

	viper.SetDefault("logging.level", "info")

	viper.SetDefault("http.listen_addr", "127.0.0.1:8090")
}

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. Missing config files are not an error — applyDefaults plus
// AutomaticEnv carry the node through a zero-config local run.
func Load(env string) (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	applyDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the NODE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("NODE_ENV", ""))
}
