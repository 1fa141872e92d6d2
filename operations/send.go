package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/okx/xlayer-toolkit/txbench/metrics"
)

// RawSender submits signed raw transactions.
type RawSender interface {
	SendRawTransaction(ctx context.Context, rawTx string) (common.Hash, error)
}

// SendOptions configures SendTransactions. Zero fields take defaults.
type SendOptions struct {
	// Concurrency bounds the in-flight submissions; 1 submits in order.
	Concurrency int
	// RateLimit caps submissions per second; 0 disables the limit.
	RateLimit float64
	Logger    log.Logger
	Metrics   *metrics.Metrics
}

func (o SendOptions) withDefaults() SendOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Logger == nil {
		o.Logger = log.Root()
	}
	return o
}

// SendTransactions submits every raw transaction once and returns the wall
// clock time taken. The first failure stops further submissions and is
// returned with the index of the failing transaction.
func SendTransactions(ctx context.Context, client RawSender, txs []string, opts SendOptions) (time.Duration, error) {
	opts = opts.withDefaults()

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Concurrency)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, raw := range txs {
		i, raw := i, raw
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}

			begin := time.Now()
			hash, err := client.SendRawTransaction(gctx, raw)
			opts.Metrics.ObserveSend(time.Since(begin), err)
			if err != nil {
				return fmt.Errorf("send tx %d: %w", i, err)
			}
			opts.Logger.Debug("Transaction sent", "index", i, "hash", hash)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	opts.Logger.Info("Transactions sent", "count", len(txs), "elapsed", elapsed)
	return elapsed, nil
}
