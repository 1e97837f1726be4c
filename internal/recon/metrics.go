package recon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the reconciliation loop. A ledger gap found by a job is
// a counter increment, not an error: idempotent replay repairs it silently.
type Metrics struct {
	runs        *prometheus.CounterVec
	errors      *prometheus.CounterVec
	gaps        *prometheus.CounterVec
	lastRun     *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
}

// NewMetrics registers the reconciliation collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "walletcore_reconciliation_runs_total",
			Help: "Completed reconciliation job runs.",
		}, []string{"job"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "walletcore_reconciliation_errors_total",
			Help: "Reconciliation job runs that returned an error.",
		}, []string{"job"}),
		gaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "walletcore_reconciliation_gap_total",
			Help: "Provider transactions found missing from the ledger.",
		}, []string{"stream"}),
		lastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "walletcore_reconciliation_last_run_unix",
			Help: "Unix time of each job's most recent run.",
		}, []string{"job"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "walletcore_reconciliation_last_success_unix",
			Help: "Unix time of each job's most recent successful run.",
		}, []string{"job"}),
	}
}

func (metrics *Metrics) recordRun(job string, at int64, runErr error) {
	metrics.runs.WithLabelValues(job).Inc()
	metrics.lastRun.WithLabelValues(job).Set(float64(at))
	if runErr != nil {
		metrics.errors.WithLabelValues(job).Inc()
		return
	}
	metrics.lastSuccess.WithLabelValues(job).Set(float64(at))
}

func (metrics *Metrics) recordGap(stream string) {
	metrics.gaps.WithLabelValues(stream).Inc()
}
