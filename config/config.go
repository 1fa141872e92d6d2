// Package config loads txbench settings from a config file, TXBENCH_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/okx/xlayer-toolkit/txbench/utils"
)

// EnvPrefix prefixes every environment variable, e.g. TXBENCH_WALLET_PASSWORD.
const EnvPrefix = "TXBENCH"

const (
	ModeInterval = "interval"
	ModeFilter   = "filter"
)

type Config struct {
	RPC     string        `mapstructure:"rpc"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
	Bench   BenchConfig   `mapstructure:"bench"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type WalletConfig struct {
	Address    string `mapstructure:"address"`
	Password   string `mapstructure:"password"`
	PrivateKey string `mapstructure:"private_key"`
	Keystore   string `mapstructure:"keystore"`
}

type DeployConfig struct {
	ABIPath        string        `mapstructure:"abi_path"`
	GasLimit       uint64        `mapstructure:"gas_limit"`
	UnlockDuration time.Duration `mapstructure:"unlock_duration"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
}

type BenchConfig struct {
	Destination    string        `mapstructure:"destination"`
	GasPrice       string        `mapstructure:"gas_price"`
	ChainID        uint64        `mapstructure:"chain_id"`
	Unprotected    bool          `mapstructure:"unprotected"`
	Concurrency    int           `mapstructure:"concurrency"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Mode           string        `mapstructure:"mode"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	FilterInterval time.Duration `mapstructure:"filter_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	StatsFile      string        `mapstructure:"stats_file"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc", "http://localhost:8545")

	v.SetDefault("wallet.address", "")
	v.SetDefault("wallet.password", "")
	v.SetDefault("wallet.private_key", "")
	v.SetDefault("wallet.keystore", "")

	v.SetDefault("deploy.abi_path", "")
	v.SetDefault("deploy.gas_limit", 4700000)
	v.SetDefault("deploy.unlock_duration", 5*time.Minute)
	v.SetDefault("deploy.receipt_timeout", 2*time.Minute)

	v.SetDefault("bench.destination", "")
	v.SetDefault("bench.gas_price", "")
	v.SetDefault("bench.chain_id", 0)
	v.SetDefault("bench.unprotected", false)
	v.SetDefault("bench.concurrency", 1)
	v.SetDefault("bench.rate_limit", 0)
	v.SetDefault("bench.mode", ModeInterval)
	v.SetDefault("bench.poll_interval", 100*time.Millisecond)
	v.SetDefault("bench.filter_interval", utils.DefaultFilterInterval)
	v.SetDefault("bench.max_attempts", 100)
	v.SetDefault("bench.stats_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("metrics.addr", "")
}

// BindFlags binds each flag name in keys to its config key.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", flag, err)
		}
	}
	return nil
}

// Load reads the optional config file at path and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that can be checked without a node.
func (c *Config) Validate() error {
	if c.RPC == "" {
		return errors.New("rpc endpoint is required")
	}
	if c.Wallet.Address != "" && !ethcmn.IsHexAddress(c.Wallet.Address) {
		return fmt.Errorf("invalid wallet.address %q", c.Wallet.Address)
	}
	if c.Wallet.PrivateKey != "" && c.Wallet.Keystore != "" {
		return errors.New("wallet.private_key and wallet.keystore are mutually exclusive")
	}
	if c.Bench.Destination != "" && !ethcmn.IsHexAddress(c.Bench.Destination) {
		return fmt.Errorf("invalid bench.destination %q", c.Bench.Destination)
	}
	if c.Bench.GasPrice != "" {
		if _, err := utils.ParseGasPrice(c.Bench.GasPrice); err != nil {
			return fmt.Errorf("invalid bench.gas_price: %w", err)
		}
	}
	switch c.Bench.Mode {
	case ModeInterval, ModeFilter:
	default:
		return fmt.Errorf("invalid bench.mode %q, want %s or %s", c.Bench.Mode, ModeInterval, ModeFilter)
	}
	if c.Bench.Concurrency < 1 {
		return fmt.Errorf("bench.concurrency must be at least 1, got %d", c.Bench.Concurrency)
	}
	if c.Bench.RateLimit < 0 {
		return fmt.Errorf("bench.rate_limit must not be negative, got %v", c.Bench.RateLimit)
	}
	if c.Bench.MaxAttempts < 1 {
		return fmt.Errorf("bench.max_attempts must be at least 1, got %d", c.Bench.MaxAttempts)
	}
	return nil
}

// LocalSigning reports whether a key is configured for signing in process.
func (w WalletConfig) LocalSigning() bool {
	return w.PrivateKey != "" || w.Keystore != ""
}

// LoadWallet loads the configured local signing key.
func (w WalletConfig) LoadWallet() (*utils.Wallet, error) {
	switch {
	case w.PrivateKey != "":
		return utils.WalletFromHex(w.PrivateKey)
	case w.Keystore != "":
		return utils.WalletFromKeystore(w.Keystore, w.Password)
	default:
		return nil, errors.New("no wallet.private_key or wallet.keystore configured")
	}
}
