package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/okx/xlayer-toolkit/txbench/bench"
	"github.com/okx/xlayer-toolkit/txbench/config"
	"github.com/okx/xlayer-toolkit/txbench/metrics"
	"github.com/okx/xlayer-toolkit/txbench/utils"
)

const (
	FlagConfigFile  = "config-file"
	FlagRPC         = "rpc"
	FlagLogLevel    = "log-level"
	FlagLogJSON     = "log-json"
	FlagMetricsAddr = "metrics-addr"
	FlagMode        = "mode"
	FlagConcurrency = "concurrency"
	FlagRateLimit   = "rate-limit"
	FlagOutput      = "output"
)

var persistentKeys = map[string]string{
	FlagRPC:         "rpc",
	FlagLogLevel:    "log.level",
	FlagLogJSON:     "log.json",
	FlagMetricsAddr: "metrics.addr",
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// cli holds the state shared by all subcommands of one invocation.
type cli struct {
	v          *viper.Viper
	configPath string
}

// env is what a subcommand runs with once configuration is loaded.
type env struct {
	cfg     *config.Config
	logger  log.Logger
	client  *utils.EthClient
	metrics *metrics.Metrics
	out     io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "txbench",
		Short: "Contract deployer and transaction throughput benchmark for Ethereum compatible nodes",
		Long: `txbench deploys the product registry contract and measures how fast a node
accepts and processes plain value transfers.

Settings come from the config file (-f), TXBENCH_* environment variables
and flags, in increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&c.configPath, FlagConfigFile, "f", "", "Path to the configuration file (yaml, json or toml)")
	pf.String(FlagRPC, "", "Node JSON-RPC endpoint, http(s) or ws(s)")
	pf.String(FlagLogLevel, "", "Log level: trace, debug, info, warn, error, crit")
	pf.Bool(FlagLogJSON, false, "Emit JSON logs")
	pf.String(FlagMetricsAddr, "", "Serve Prometheus metrics on this address, e.g. :9100")

	rootCmd.AddCommand(
		c.deployCmd(),
		c.statusCmd(),
		c.gentxCmd(),
		c.sendCmd(),
		c.waitCmd(),
		c.benchCmd(),
	)
	return rootCmd
}

// setup binds flags, loads configuration and dials the node. The returned
// cleanup must be called when the command is done.
func (c *cli) setup(ctx context.Context, cmd *cobra.Command, keys map[string]string) (*env, func(), error) {
	if err := config.BindFlags(c.v, cmd.Flags(), persistentKeys); err != nil {
		return nil, nil, err
	}
	if err := config.BindFlags(c.v, cmd.Flags(), keys); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := utils.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, nil, err
	}
	log.SetDefault(logger)

	client, err := utils.NewEthClient(ctx, cfg.RPC)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Connected", "rpc", cfg.RPC)

	e := &env{cfg: cfg, logger: logger, client: client, out: cmd.OutOrStdout()}
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	metricsDone := make(chan struct{})
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		e.metrics = metrics.New(reg)
		go func() {
			defer close(metricsDone)
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, reg, logger); err != nil {
				logger.Error("Metrics server failed", "err", err)
			}
		}()
	} else {
		close(metricsDone)
	}

	cleanup := func() {
		stopMetrics()
		<-metricsDone
		client.Close()
	}
	return e, cleanup, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func (c *cli) run(keys map[string]string, fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		e, cleanup, err := c.setup(ctx, cmd, keys)
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(ctx, e, args)
	}
}

func (c *cli) deployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the product registry contract",
		Long: `Deploy the product registry contract and print its address once mined.

Without wallet.private_key or wallet.keystore the node signs the deployment
for wallet.address (or its first account) after personal_unlockAccount.

Example:
  txbench deploy -f ./txbench.yaml`,
		Args: cobra.NoArgs,
		RunE: c.run(nil, func(ctx context.Context, e *env, _ []string) error {
			res, err := bench.Deploy(ctx, e.client, e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("deploy failed: %w", err)
			}
			fmt.Fprintf(e.out, "Contract mined! address: %s transactionHash: %s\n", res.Address.Hex(), res.TxHash.Hex())
			return nil
		}),
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the node's pending and queued transaction counts",
		Args:  cobra.NoArgs,
		RunE: c.run(nil, func(ctx context.Context, e *env, _ []string) error {
			status, err := e.client.MempoolStatus(ctx)
			if err != nil {
				return fmt.Errorf("query mempool status: %w", err)
			}
			fmt.Fprintf(e.out, "Pending Txs: %d\nQueued Txs: %d\n", status.Pending, status.Queued)
			return nil
		}),
	}
}

func (c *cli) gentxCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "gentx <count>",
		Short: "Sign transfers from the configured wallet and write them one per line",
		Long: `Sign <count> zero value transfers with consecutive nonces, starting at the
wallet's pending nonce, and write the raw transactions to --output.

Example:
  txbench gentx 10000 -f ./txbench.yaml --output txs.txt`,
		Args: cobra.ExactArgs(1),
		RunE: c.run(nil, func(ctx context.Context, e *env, args []string) error {
			count, err := parseCount(args[0])
			if err != nil {
				return err
			}
			txs, err := bench.GenerateTxs(ctx, e.client, e.cfg, count, e.logger)
			if err != nil {
				return err
			}
			if err := utils.WriteDataToFile(output, txs); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "%d transactions written to %s\n", len(txs), output)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&output, FlagOutput, "o", "txs.txt", "File to write the raw transactions to")
	return cmd
}

func (c *cli) sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Submit raw transactions read from a file, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(submitKeys, func(ctx context.Context, e *env, args []string) error {
			txs, err := utils.ReadDataFromFile(args[0])
			if err != nil {
				return err
			}
			elapsed, err := bench.Send(ctx, e.client, e.cfg, txs, e.logger, e.metrics)
			if err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
			fmt.Fprintf(e.out, "Sent %d transactions in %d ms\n", len(txs), elapsed.Milliseconds())
			return nil
		}),
	}
	addSubmitFlags(cmd)
	return cmd
}

func (c *cli) waitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until the node's mempool drains",
		Args:  cobra.NoArgs,
		RunE: c.run(waitKeys, func(ctx context.Context, e *env, _ []string) error {
			start := time.Now()
			at, err := bench.Wait(ctx, e.client, e.cfg, e.logger, e.metrics, nil)
			if err != nil {
				return fmt.Errorf("wait failed: %w", err)
			}
			fmt.Fprintf(e.out, "Mempool drained after %d ms\n", at.Sub(start).Milliseconds())
			return nil
		}),
	}
	addWaitFlags(cmd)
	return cmd
}

func (c *cli) benchCmd() *cobra.Command {
	keys := make(map[string]string, len(submitKeys)+len(waitKeys))
	for k, v := range submitKeys {
		keys[k] = v
	}
	for k, v := range waitKeys {
		keys[k] = v
	}

	cmd := &cobra.Command{
		Use:   "bench <count>",
		Short: "Generate, submit and wait for <count> transfers, then report throughput",
		Long: `Generate <count> signed transfers, submit them, wait for the mempool to
drain and report submission and processing throughput.

Example:
  txbench bench 5000 -f ./txbench.yaml --concurrency 8 --mode filter`,
		Args: cobra.ExactArgs(1),
		RunE: c.run(keys, func(ctx context.Context, e *env, args []string) error {
			count, err := parseCount(args[0])
			if err != nil {
				return err
			}
			if _, err := bench.Bench(ctx, e.client, e.cfg, count, e.logger, e.metrics); err != nil {
				return fmt.Errorf("benchmark failed: %w", err)
			}
			return nil
		}),
	}
	addSubmitFlags(cmd)
	addWaitFlags(cmd)
	return cmd
}

var (
	submitKeys = map[string]string{
		FlagConcurrency: "bench.concurrency",
		FlagRateLimit:   "bench.rate_limit",
	}
	waitKeys = map[string]string{
		FlagMode: "bench.mode",
	}
)

func addSubmitFlags(cmd *cobra.Command) {
	cmd.Flags().Int(FlagConcurrency, 1, "Maximum in-flight eth_sendRawTransaction calls")
	cmd.Flags().Float64(FlagRateLimit, 0, "Maximum transactions per second, 0 for unlimited")
}

func addWaitFlags(cmd *cobra.Command) {
	cmd.Flags().String(FlagMode, config.ModeInterval, "Wait mode: interval or filter")
}

func parseCount(s string) (int, error) {
	count, err := strconv.Atoi(s)
	if err != nil || count <= 0 {
		return 0, fmt.Errorf("invalid transaction count %q", s)
	}
	return count, nil
}
