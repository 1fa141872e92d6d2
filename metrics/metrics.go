// Package metrics holds the Prometheus collectors of a benchmark run.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "txbench"

// Metrics groups the benchmark collectors. A nil *Metrics records nothing.
type Metrics struct {
	TxSubmittedTotal prometheus.Counter
	TxFailedTotal    prometheus.Counter
	SubmitDuration   prometheus.Histogram
	MempoolPending   prometheus.Gauge
	MempoolQueued    prometheus.Gauge
	PollsTotal       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TxSubmittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_submitted_total",
			Help:      "Raw transactions accepted by the node",
		}),
		TxFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_failed_total",
			Help:      "Raw transactions rejected by the node or failed in transport",
		}),
		SubmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_submit_duration_seconds",
			Help:      "Latency of eth_sendRawTransaction calls",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		MempoolPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mempool_pending",
			Help:      "Pending transactions reported by txpool_status",
		}),
		MempoolQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mempool_queued",
			Help:      "Queued transactions reported by txpool_status",
		}),
		PollsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mempool_polls_total",
			Help:      "Mempool status queries issued while waiting for the pool to drain",
		}, []string{"mode"}),
	}
}

// ObserveSend records the outcome of one submission.
func (m *Metrics) ObserveSend(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.SubmitDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.TxFailedTotal.Inc()
		return
	}
	m.TxSubmittedTotal.Inc()
}

// ObservePoll records one mempool status query of the given wait mode.
func (m *Metrics) ObservePoll(mode string, pending, queued uint64) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(mode).Inc()
	m.MempoolPending.Set(float64(pending))
	m.MempoolQueued.Set(float64(queued))
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
