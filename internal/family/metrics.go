package family

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service instrumentation. A nil registerer produces
// unregistered collectors, which keeps tests free of global state.
type Metrics struct {
	refreshTotal         *prometheus.CounterVec
	refreshDuration      prometheus.Histogram
	mutationsTotal       *prometheus.CounterVec
	deleteRefusalsTotal  *prometheus.CounterVec
	assetCleanupFailures prometheus.Counter
}

// NewMetrics builds the collector set and registers it with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		refreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kintree",
			Name:      "refresh_total",
			Help:      "Member snapshot refreshes by outcome.",
		}, []string{"outcome"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kintree",
			Name:      "refresh_duration_seconds",
			Help:      "Latency of member snapshot refreshes.",
			Buckets:   prometheus.DefBuckets,
		}),
		mutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kintree",
			Name:      "mutations_total",
			Help:      "Member mutations by operation.",
		}, []string{"op"}),
		deleteRefusalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kintree",
			Name:      "delete_refusals_total",
			Help:      "Deletes refused before side effects, by reason.",
		}, []string{"reason"}),
		assetCleanupFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kintree",
			Name:      "asset_cleanup_failures_total",
			Help:      "Best-effort image deletions that failed.",
		}),
	}
}

func (m *Metrics) observeRefresh(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
	m.refreshDuration.Observe(d.Seconds())
}

func (m *Metrics) countMutation(op string) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) countRefusal(reason string) {
	if m == nil {
		return
	}
	m.deleteRefusalsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) countAssetCleanupFailure() {
	if m == nil {
		return
	}
	m.assetCleanupFailures.Inc()
}
