package bench

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/okx/xlayer-toolkit/txbench/config"
	"github.com/okx/xlayer-toolkit/txbench/metrics"
	"github.com/okx/xlayer-toolkit/txbench/operations"
	"github.com/okx/xlayer-toolkit/txbench/stats"
	"github.com/okx/xlayer-toolkit/txbench/utils"
)

// GenerateTxs signs count transfers from the configured wallet, starting at
// its pending nonce.
func GenerateTxs(ctx context.Context, cli *utils.EthClient, cfg *config.Config, count int, logger log.Logger) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("transaction count must be positive, got %d", count)
	}
	wallet, err := cfg.Wallet.LoadWallet()
	if err != nil {
		return nil, err
	}

	to := wallet.Address
	if cfg.Bench.Destination != "" {
		to = ethcmn.HexToAddress(cfg.Bench.Destination)
	}
	nonce, err := cli.QueryNonce(ctx, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("query nonce: %w", err)
	}
	gasPrice, err := resolveGasPrice(ctx, cli, cfg.Bench.GasPrice)
	if err != nil {
		return nil, err
	}
	signer, err := resolveSigner(ctx, cli, cfg.Bench)
	if err != nil {
		return nil, err
	}

	logger.Info("Generating transactions", "from", wallet.Address, "to", to, "count", count, "nonce", nonce, "gasPrice", gasPrice)
	return utils.GenerateTransactions(wallet, to, nonce, count, gasPrice, signer)
}

func resolveGasPrice(ctx context.Context, cli *utils.EthClient, configured string) (*big.Int, error) {
	if configured != "" {
		return utils.ParseGasPrice(configured)
	}
	price, err := cli.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("query gas price: %w", err)
	}
	return price, nil
}

func resolveSigner(ctx context.Context, cli *utils.EthClient, cfg config.BenchConfig) (types.Signer, error) {
	if cfg.Unprotected {
		return utils.NewSigner(nil), nil
	}
	if cfg.ChainID != 0 {
		return utils.NewSigner(new(big.Int).SetUint64(cfg.ChainID)), nil
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	return utils.NewSigner(chainID), nil
}

// Send submits raw transactions with the configured concurrency and rate.
func Send(ctx context.Context, cli *utils.EthClient, cfg *config.Config, txs []string, logger log.Logger, m *metrics.Metrics) (time.Duration, error) {
	return operations.SendTransactions(ctx, cli, txs, operations.SendOptions{
		Concurrency: cfg.Bench.Concurrency,
		RateLimit:   cfg.Bench.RateLimit,
		Logger:      logger,
		Metrics:     m,
	})
}

// Wait blocks until the node's mempool drains, in the configured mode.
func Wait(ctx context.Context, cli *utils.EthClient, cfg *config.Config, logger log.Logger, m *metrics.Metrics, observe func(utils.MempoolStatus)) (time.Time, error) {
	switch cfg.Bench.Mode {
	case config.ModeFilter:
		cli.FilterInterval = cfg.Bench.FilterInterval
		return operations.WaitProcessedFilter(ctx, cli, operations.FilterOptions{
			MaxAttempts: cfg.Bench.MaxAttempts,
			Logger:      logger,
			Metrics:     m,
			Observe:     observe,
		})
	case config.ModeInterval, "":
		return operations.WaitProcessedInterval(ctx, cli, operations.IntervalOptions{
			Interval:    cfg.Bench.PollInterval,
			MaxAttempts: cfg.Bench.MaxAttempts,
			Logger:      logger,
			Metrics:     m,
			Observe:     observe,
		})
	default:
		return time.Time{}, fmt.Errorf("unknown wait mode %q", cfg.Bench.Mode)
	}
}

// Bench generates count transfers, submits them, waits for the pool to drain
// and reports the run.
func Bench(ctx context.Context, cli *utils.EthClient, cfg *config.Config, count int, logger log.Logger, m *metrics.Metrics) (stats.Summary, error) {
	txs, err := GenerateTxs(ctx, cli, cfg, count, logger)
	if err != nil {
		return stats.Summary{}, err
	}

	runID := uuid.NewString()
	logger = logger.New("run", runID)
	tracker := stats.NewTracker(logger, runID, len(txs), cfg.Bench.StatsFile)
	tracker.Start(ctx)
	defer tracker.Stop()

	elapsed, err := Send(ctx, cli, cfg, txs, logger, m)
	if err != nil {
		return tracker.Summary(), fmt.Errorf("submit transactions: %w", err)
	}
	tracker.RecordSubmitted(elapsed)
	logger.Info("Submission finished", "txs", len(txs), "elapsedMs", elapsed.Milliseconds())

	drainedAt, err := Wait(ctx, cli, cfg, logger, m, tracker.RecordMempool)
	if err != nil {
		if errors.Is(err, operations.ErrAttemptsExhausted) {
			logger.Warn("Mempool did not drain", "err", err)
		}
		return tracker.Summary(), fmt.Errorf("wait for mempool: %w", err)
	}
	tracker.RecordDrained(drainedAt)
	return tracker.Summary(), nil
}
