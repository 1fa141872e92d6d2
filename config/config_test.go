package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8545", cfg.RPC)
	require.Equal(t, uint64(4700000), cfg.Deploy.GasLimit)
	require.Equal(t, 5*time.Minute, cfg.Deploy.UnlockDuration)
	require.Equal(t, 2*time.Minute, cfg.Deploy.ReceiptTimeout)
	require.Equal(t, 1, cfg.Bench.Concurrency)
	require.Equal(t, ModeInterval, cfg.Bench.Mode)
	require.Equal(t, 100*time.Millisecond, cfg.Bench.PollInterval)
	require.Equal(t, 100, cfg.Bench.MaxAttempts)
	require.Equal(t, "info", cfg.Log.Level)
	require.False(t, cfg.Wallet.LocalSigning())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "txbench.yaml", `
rpc: http://10.0.0.1:8545
wallet:
  address: "0x8ba1f109551bd432803012645ac136ddd64dba72"
  password: hunter2
deploy:
  receipt_timeout: 30s
bench:
  mode: filter
  concurrency: 8
  rate_limit: 2500
  gas_price: 2gwei
  poll_interval: 250ms
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)

	require.Equal(t, "http://10.0.0.1:8545", cfg.RPC)
	require.Equal(t, "0x8ba1f109551bd432803012645ac136ddd64dba72", cfg.Wallet.Address)
	require.Equal(t, "hunter2", cfg.Wallet.Password)
	require.Equal(t, 30*time.Second, cfg.Deploy.ReceiptTimeout)
	require.Equal(t, ModeFilter, cfg.Bench.Mode)
	require.Equal(t, 8, cfg.Bench.Concurrency)
	require.Equal(t, 2500.0, cfg.Bench.RateLimit)
	require.Equal(t, "2gwei", cfg.Bench.GasPrice)
	require.Equal(t, 250*time.Millisecond, cfg.Bench.PollInterval)
}

func TestLoadJSONFile(t *testing.T) {
	path := writeFile(t, "txbench.json", `{"rpc": "ws://127.0.0.1:8546", "bench": {"max_attempts": 7}}`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:8546", cfg.RPC)
	require.Equal(t, 7, cfg.Bench.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "txbench.yaml", "wallet:\n  password: from-file\n")
	t.Setenv("TXBENCH_WALLET_PASSWORD", "from-env")
	t.Setenv("TXBENCH_BENCH_CONCURRENCY", "16")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Wallet.Password)
	require.Equal(t, 16, cfg.Bench.Concurrency)
}

func TestBindFlagsOverrideEnv(t *testing.T) {
	t.Setenv("TXBENCH_RPC", "http://env:8545")
	v := New()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.String("log-level", "", "")
	require.NoError(t, BindFlags(v, flags, map[string]string{"rpc": "rpc", "log-level": "log.level"}))
	require.NoError(t, flags.Parse([]string{"--rpc", "http://flag:8545"}))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	require.Equal(t, "http://flag:8545", cfg.RPC)
	require.Equal(t, "info", cfg.Log.Level)

	require.Error(t, BindFlags(v, flags, map[string]string{"missing": "rpc"}))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"empty rpc":         func(c *Config) { c.RPC = "" },
		"bad address":       func(c *Config) { c.Wallet.Address = "0x1234" },
		"bad destination":   func(c *Config) { c.Bench.Destination = "nope" },
		"bad gas price":     func(c *Config) { c.Bench.GasPrice = "cheap" },
		"bad mode":          func(c *Config) { c.Bench.Mode = "busy" },
		"zero concurrency":  func(c *Config) { c.Bench.Concurrency = 0 },
		"negative rate":     func(c *Config) { c.Bench.RateLimit = -1 },
		"zero max attempts": func(c *Config) { c.Bench.MaxAttempts = 0 },
		"two key sources": func(c *Config) {
			c.Wallet.PrivateKey = "0x01"
			c.Wallet.Keystore = "key.json"
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(New(), "")
			require.NoError(t, err)
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWallet(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	w := WalletConfig{PrivateKey: hexutil.Encode(crypto.FromECDSA(key))}
	require.True(t, w.LocalSigning())
	wallet, err := w.LoadWallet()
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), wallet.Address)

	_, err = WalletConfig{}.LoadWallet()
	require.Error(t, err)
}
