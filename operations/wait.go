package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/okx/xlayer-toolkit/txbench/metrics"
	"github.com/okx/xlayer-toolkit/txbench/utils"
)

const (
	// DefaultInterval is a time interval
	DefaultInterval = 1 * time.Second
	// DefaultDeadline is a time interval
	DefaultDeadline = 2 * time.Minute
	// DefaultPollInterval is the tick of the interval mempool poller
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMaxAttempts bounds both mempool pollers
	DefaultMaxAttempts = 100

	ModeInterval = "interval"
	ModeFilter   = "filter"
)

var (
	// ErrTimeoutReached is thrown when the timeout is reached and
	// because the condition is not matched
	ErrTimeoutReached = errors.New("timeout has been reached")
	// ErrAttemptsExhausted accompanies both poller exhaustion errors.
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	// ErrPendingFull is returned by the interval poller when the pool did not drain.
	ErrPendingFull = errors.New("pending full")
	// ErrProcessingFailed is returned by the filter poller when pending did not drain.
	ErrProcessingFailed = errors.New("processing failed")
	// ErrSubscriptionClosed is returned when a block filter ends without an error.
	ErrSubscriptionClosed = errors.New("block subscription closed")
)

// ConditionFunc is a generic function
type ConditionFunc func() (done bool, err error)

// Poll retries the given condition with the given interval until it succeeds,
// the given deadline expires or ctx is done.
func Poll(ctx context.Context, interval, deadline time.Duration, condition ConditionFunc) error {
	timeout := time.NewTimer(deadline)
	defer timeout.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return ErrTimeoutReached
		case <-tick.C:
			ok, err := condition()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}

// ReceiptReader fetches transaction receipts.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitTxReceipt polls for the receipt of txHash every interval until timeout.
func WaitTxReceipt(ctx context.Context, txHash common.Hash, interval, timeout time.Duration, client ReceiptReader) (*types.Receipt, error) {
	if client == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var receipt *types.Receipt
	pollErr := Poll(ctx, interval, timeout, func() (bool, error) {
		var err error
		receipt, err = client.TransactionReceipt(ctx, txHash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	if pollErr != nil {
		return nil, pollErr
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("transaction %s has failed in block %v", txHash, receipt.BlockNumber)
	}
	return receipt, nil
}

// SyncReader reports the sync progress of a node.
type SyncReader interface {
	SyncProgress(ctx context.Context) (*ethereum.SyncProgress, error)
}

// NodeUpCondition reports whether the node answers eth_syncing and is not syncing.
// Transport errors count as not up yet.
func NodeUpCondition(ctx context.Context, client SyncReader) ConditionFunc {
	return func() (bool, error) {
		progress, err := client.SyncProgress(ctx)
		if err != nil {
			return false, nil
		}
		return progress == nil, nil
	}
}

// StatusReader queries the node's mempool counters.
type StatusReader interface {
	MempoolStatus(ctx context.Context) (utils.MempoolStatus, error)
}

// BlockFilter delivers one hash per new block to ch until unsubscribed.
type BlockFilter interface {
	SubscribeBlocks(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
}

// FilterClient is a StatusReader with a default block filter.
type FilterClient interface {
	StatusReader
	BlockFilter
}

// IntervalOptions configures WaitProcessedInterval. Zero fields take defaults.
type IntervalOptions struct {
	Interval    time.Duration
	MaxAttempts int
	Logger      log.Logger
	Metrics     *metrics.Metrics
	// Observe, when set, receives every status snapshot.
	Observe func(utils.MempoolStatus)
}

func (o IntervalOptions) withDefaults() IntervalOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Logger == nil {
		o.Logger = log.Root()
	}
	return o
}

// WaitProcessedInterval queries the mempool every Interval until both pending
// and queued are zero and returns the time the empty pool was observed.
// After MaxAttempts non-empty snapshots it fails with ErrPendingFull.
func WaitProcessedInterval(ctx context.Context, client StatusReader, opts IntervalOptions) (time.Time, error) {
	opts = opts.withDefaults()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-ticker.C:
		}

		status, err := client.MempoolStatus(ctx)
		if err != nil {
			return time.Time{}, fmt.Errorf("query mempool status: %w", err)
		}
		observe(opts.Logger, opts.Metrics, opts.Observe, ModeInterval, status, attempt)
		if status.Drained() {
			return time.Now(), nil
		}
		if attempt >= opts.MaxAttempts {
			return time.Time{}, fmt.Errorf("%w after %d polls (%w)", ErrPendingFull, attempt, ErrAttemptsExhausted)
		}
	}
}

// FilterOptions configures WaitProcessedFilter. Zero fields take defaults.
type FilterOptions struct {
	// Filter is the event source; nil uses the client's latest block filter.
	Filter      BlockFilter
	MaxAttempts int
	Logger      log.Logger
	Metrics     *metrics.Metrics
	Observe     func(utils.MempoolStatus)
}

func (o FilterOptions) withDefaults() FilterOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Logger == nil {
		o.Logger = log.Root()
	}
	return o
}

// WaitProcessedFilter queries the mempool on every filter event until pending
// is zero and returns the time that was observed. After MaxAttempts events
// with pending transactions it fails with ErrProcessingFailed. The
// subscription is released on every return path.
func WaitProcessedFilter(ctx context.Context, client FilterClient, opts FilterOptions) (time.Time, error) {
	opts = opts.withDefaults()
	filter := opts.Filter
	if filter == nil {
		filter = client
	}

	blocks := make(chan common.Hash)
	sub, err := filter.SubscribeBlocks(ctx, blocks)
	if err != nil {
		return time.Time{}, fmt.Errorf("subscribe blocks: %w", err)
	}
	defer sub.Unsubscribe()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = ErrSubscriptionClosed
			}
			return time.Time{}, err
		case hash := <-blocks:
			opts.Logger.Debug("New block", "hash", hash)
		}

		status, err := client.MempoolStatus(ctx)
		if err != nil {
			return time.Time{}, fmt.Errorf("query mempool status: %w", err)
		}
		observe(opts.Logger, opts.Metrics, opts.Observe, ModeFilter, status, attempt)
		if status.Pending == 0 {
			return time.Now(), nil
		}
		if attempt >= opts.MaxAttempts {
			return time.Time{}, fmt.Errorf("%w after %d blocks (%w)", ErrProcessingFailed, attempt, ErrAttemptsExhausted)
		}
	}
}

func observe(logger log.Logger, m *metrics.Metrics, hook func(utils.MempoolStatus), mode string, status utils.MempoolStatus, attempt int) {
	logger.Info("Mempool status", "mode", mode, "attempt", attempt, "pending", status.Pending, "queued", status.Queued)
	m.ObservePoll(mode, status.Pending, status.Queued)
	if hook != nil {
		hook(status)
	}
}
