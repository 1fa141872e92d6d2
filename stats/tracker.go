package stats

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/okx/xlayer-toolkit/txbench/utils"
)

const defaultReportInterval = 5 * time.Second

// Summary is a snapshot of a benchmark run.
type Summary struct {
	RunID         string
	TxCount       int
	SubmitElapsed time.Duration
	// DrainElapsed runs from the start of submission to the empty pool.
	DrainElapsed time.Duration
	SubmitTPS    float64
	ProcessedTPS float64
	Polls        int
	PeakPending  uint64
	LastStatus   utils.MempoolStatus
	Drained      bool
}

// Tracker collects the statistics of one benchmark run and reports them
// periodically until stopped.
type Tracker struct {
	mu  sync.RWMutex
	log log.Logger
	out io.Writer

	runID         string
	txCount       int
	startTime     time.Time
	submitElapsed time.Duration
	drainedAt     time.Time
	polls         int
	peakPending   uint64
	lastStatus    utils.MempoolStatus

	reportInterval time.Duration

	// Control channels
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool

	logFilePath string
}

// NewTracker creates a tracker for txCount transactions. The clock starts now.
// logFilePath, when set, receives the latest report on every tick.
func NewTracker(l log.Logger, runID string, txCount int, logFilePath string) *Tracker {
	return &Tracker{
		log:            l,
		out:            os.Stdout,
		runID:          runID,
		txCount:        txCount,
		startTime:      time.Now(),
		reportInterval: defaultReportInterval,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		logFilePath:    logFilePath,
	}
}

// RecordSubmitted records how long submitting all transactions took.
func (t *Tracker) RecordSubmitted(elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitElapsed = elapsed
}

// RecordMempool records one mempool status observation.
func (t *Tracker) RecordMempool(status utils.MempoolStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.polls++
	t.lastStatus = status
	if status.Pending > t.peakPending {
		t.peakPending = status.Pending
	}
}

// RecordDrained records the time the pool was observed empty.
func (t *Tracker) RecordDrained(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drainedAt = at
}

// Summary returns the current statistics (thread-safe)
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.summaryLocked()
}

func (t *Tracker) summaryLocked() Summary {
	s := Summary{
		RunID:         t.runID,
		TxCount:       t.txCount,
		SubmitElapsed: t.submitElapsed,
		Polls:         t.polls,
		PeakPending:   t.peakPending,
		LastStatus:    t.lastStatus,
		Drained:       !t.drainedAt.IsZero(),
	}
	if t.submitElapsed > 0 {
		s.SubmitTPS = float64(t.txCount) / t.submitElapsed.Seconds()
	}
	if s.Drained {
		s.DrainElapsed = t.drainedAt.Sub(t.startTime)
		if s.DrainElapsed > 0 {
			s.ProcessedTPS = float64(t.txCount) / s.DrainElapsed.Seconds()
		}
	}
	return s
}

// Start begins the periodic reporting goroutine
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	go t.reportLoop(ctx)
}

func (t *Tracker) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(t.reportInterval)
	defer ticker.Stop()
	defer close(t.doneCh)

	for {
		select {
		case <-ctx.Done():
			t.printStats(true)
			return
		case <-t.stopCh:
			t.printStats(true)
			return
		case <-ticker.C:
			t.printStats(false)
		}
	}
}

// Stop stops the reporting goroutine after a final report. Stopping a
// tracker that was never started prints the final report directly.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		t.mu.RLock()
		started := t.started
		t.mu.RUnlock()
		if !started {
			t.printStats(true)
			return
		}
		close(t.stopCh)
		<-t.doneCh
	})
}

// printStats outputs the current statistics to the output writer and log file
func (t *Tracker) printStats(final bool) {
	t.mu.RLock()
	s := t.summaryLocked()
	uptime := time.Since(t.startTime)
	t.mu.RUnlock()

	prefix := "Bench Stats"
	if final {
		prefix = "Final Bench Stats"
	}

	output := fmt.Sprintf("\n========== %s ==========\n", prefix)
	output += fmt.Sprintf("Run ID:         %s\n", s.RunID)
	output += fmt.Sprintf("Transactions:   %d\n", s.TxCount)
	output += fmt.Sprintf("Submit Time:    %d ms\n", s.SubmitElapsed.Milliseconds())
	output += fmt.Sprintf("Submit TPS:     %.2f tx/s\n", s.SubmitTPS)
	if s.Drained {
		output += fmt.Sprintf("Drain Time:     %d ms\n", s.DrainElapsed.Milliseconds())
		output += fmt.Sprintf("Processed TPS:  %.2f tx/s\n", s.ProcessedTPS)
	} else {
		output += "Drain Time:     -\n"
	}
	output += fmt.Sprintf("Pending Txs:    %d\n", s.LastStatus.Pending)
	output += fmt.Sprintf("Queued Txs:     %d\n", s.LastStatus.Queued)
	output += fmt.Sprintf("Peak Pending:   %d\n", s.PeakPending)
	output += fmt.Sprintf("Polls:          %d\n", s.Polls)
	output += fmt.Sprintf("Uptime:         %s\n", uptime.Round(time.Millisecond))
	output += "=====================================\n\n"

	fmt.Fprint(t.out, output)

	// Write to log file (overwrite with latest stats)
	if t.logFilePath != "" {
		if err := os.WriteFile(t.logFilePath, []byte(output), 0644); err != nil {
			t.log.Warn("Failed to write stats file", "path", t.logFilePath, "err", err)
		}
	}

	t.log.Info("Bench statistics",
		"runID", s.RunID,
		"txs", s.TxCount,
		"submitMs", s.SubmitElapsed.Milliseconds(),
		"submitTPS", fmt.Sprintf("%.2f", s.SubmitTPS),
		"drained", s.Drained,
		"drainMs", s.DrainElapsed.Milliseconds(),
		"processedTPS", fmt.Sprintf("%.2f", s.ProcessedTPS),
		"pending", s.LastStatus.Pending,
		"queued", s.LastStatus.Queued,
		"polls", s.Polls,
	)
}
