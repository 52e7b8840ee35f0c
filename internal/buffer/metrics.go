package buffer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	hotEntries           *prometheus.GaugeVec
	maintenanceDuration  *prometheus.HistogramVec
	maintenanceErrors    *prometheus.CounterVec
	backpressureTriggers *prometheus.CounterVec
	finalized            *prometheus.CounterVec
	offloaded            *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	sharedMetrics *metrics
)

// newMetrics returns the process-wide buffer metric collectors, registering
// them with the default registry exactly once regardless of how many
// Buffer instances (one per bridge) exist in the process.
func newMetrics() *metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &metrics{
			hotEntries: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "indexer_buffer_hot_entries",
				Help: "Current number of entries in the hot tier.",
			}, []string{"bridge_id"}),
			maintenanceDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "indexer_buffer_maintenance_duration_seconds",
				Help:    "Duration of maintenance passes.",
				Buckets: prometheus.DefBuckets,
			}, []string{"bridge_id"}),
			maintenanceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "indexer_buffer_maintenance_errors_total",
				Help: "Maintenance passes that failed to commit.",
			}, []string{"bridge_id"}),
			backpressureTriggers: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "indexer_buffer_backpressure_triggers_total",
				Help: "Opportunistic maintenance passes triggered by exceeding max_hot_entries.",
			}, []string{"bridge_id"}),
			finalized: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "indexer_buffer_finalized_total",
				Help: "Entries flushed-and-removed as final.",
			}, []string{"bridge_id"}),
			offloaded: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "indexer_buffer_offloaded_total",
				Help: "Non-final entries offloaded to cold storage on TTL expiry.",
			}, []string{"bridge_id"}),
		}
	})
	return sharedMetrics
}
