package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterMutations           *prometheus.CounterVec
	CounterPersistenceFailures prometheus.Counter
	CounterFlushes             *prometheus.CounterVec
	CounterBiosourceSyncs      *prometheus.CounterVec
	CounterHandleRequestPanic  prometheus.Counter

	// gauges
	GaugePendingWrites prometheus.Gauge
	GaugeDegraded      prometheus.Gauge
	GaugeLifeSignal    prometheus.Gauge

	// histograms
	HistRefreshDuration prometheus.Histogram
}

func NewTestManager() *Manager {
	return NewManager("fittracker", "test", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("fittracker", "test", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterMutations := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "mutations",
		Help:      "The total number of tracker mutations",
	}, []string{"op", "metric"})
	counterPersistenceFailures := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "persistence_failures",
		Help:      "The total number of writes rejected by the backing store",
	})
	counterFlushes := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "flushes",
		Help:      "The total number of pending writes flushes",
	}, []string{"result"})
	counterBiosourceSyncs := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "biosource_syncs",
		Help:      "The total number of external biometric source reads",
	}, []string{"result"})
	counterHandleRequestPanic := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "handle_request_panic",
		Help:      "The total number of ops requests that ended in a panic",
	})

	gaugePendingWrites := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pending_writes",
		Help:      "Writes kept in memory, waiting to be flushed to the store",
	})
	gaugeDegraded := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "degraded",
		Help:      "1 when the last write failed to persist",
	})
	gaugeLifeSignal := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "life_signal",
		Help:      "Shows whether the service is alive",
	})

	histRefreshDuration := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "refresh_duration_seconds",
		Help:      "Duration of a read model recompute in seconds",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	return &Manager{
		CounterMutations:           counterMutations,
		CounterPersistenceFailures: counterPersistenceFailures,
		CounterFlushes:             counterFlushes,
		CounterBiosourceSyncs:      counterBiosourceSyncs,
		CounterHandleRequestPanic:  counterHandleRequestPanic,
		GaugePendingWrites:         gaugePendingWrites,
		GaugeDegraded:              gaugeDegraded,
		GaugeLifeSignal:            gaugeLifeSignal,
		HistRefreshDuration:        histRefreshDuration,
	}
}
