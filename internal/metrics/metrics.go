package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the refresh pipeline
var (
	// RefreshTotal counts per-learner refreshes by outcome.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encybara_refresh_total",
			Help: "Total number of learner refreshes by outcome",
		},
		[]string{"outcome"}, // success, failed, skipped
	)

	// RefreshDuration measures one learner refresh.
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "encybara_refresh_duration_seconds",
		Help:    "Duration of a single learner refresh in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BulkRefreshDuration measures a whole RefreshAll pass.
	BulkRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "encybara_bulk_refresh_duration_seconds",
		Help:    "Duration of a bulk refresh pass in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	})

	BulkRefreshLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "encybara_bulk_refresh_last_success_timestamp",
		Help: "Unix timestamp of the last completed bulk refresh",
	})

	// CascadeTierTotal counts which fallback tier produced recommendations.
	CascadeTierTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encybara_cascade_tier_total",
			Help: "Total number of fallback cascades resolved per tier",
		},
		[]string{"tier"},
	)

	// MaterializeTotal counts materializer actions.
	MaterializeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encybara_materialize_total",
			Help: "Total number of enrollment materializations by action",
		},
		[]string{"action"}, // created, updated, skipped
	)

	// WriteConflictsTotal counts uniqueness races seen by the materializer.
	WriteConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encybara_write_conflicts_total",
			Help: "Total number of enrollment write conflicts by resolution",
		},
		[]string{"resolution"}, // retried, exhausted
	)

	// CatalogCacheTotal counts catalog cache lookups.
	CatalogCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encybara_catalog_cache_total",
			Help: "Total number of catalog cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)
)

// RecordRefresh records the outcome of one learner refresh
func RecordRefresh(outcome string, duration time.Duration) {
	RefreshTotal.WithLabelValues(outcome).Inc()
	RefreshDuration.Observe(duration.Seconds())
}

// RecordBulkRefresh records a completed bulk pass
func RecordBulkRefresh(duration time.Duration) {
	BulkRefreshDuration.Observe(duration.Seconds())
	BulkRefreshLastSuccess.Set(float64(time.Now().Unix()))
}

// RecordCascadeTier records the tier that resolved a cascade
func RecordCascadeTier(tier string) {
	CascadeTierTotal.WithLabelValues(tier).Inc()
}

// RecordMaterialize records one materializer action
func RecordMaterialize(action string) {
	MaterializeTotal.WithLabelValues(action).Inc()
}

// RecordWriteConflict records how a uniqueness race was resolved
func RecordWriteConflict(resolution string) {
	WriteConflictsTotal.WithLabelValues(resolution).Inc()
}

// RecordCacheLookup records a catalog cache result
func RecordCacheLookup(result string) {
	CatalogCacheTotal.WithLabelValues(result).Inc()
}
