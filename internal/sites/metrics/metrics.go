package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sites vertical.
type Metrics struct {
	VersionsCreated     prometheus.Counter
	BulkUpdatesApplied  prometheus.Counter
	BulkUpdatesMissed   prometheus.Counter
	SnapshotsGenerated  prometheus.Counter
	DiscoveryRuns       prometheus.Counter
	DiscoveryCacheHits  prometheus.Counter
	AggregationDuration prometheus.Histogram
	RequestDuration     *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		VersionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitestats_site_versions_created_total",
			Help: "Total number of site versions created",
		}),
		BulkUpdatesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitestats_bulk_updates_applied_total",
			Help: "Total number of sites updated through the bulk endpoint",
		}),
		BulkUpdatesMissed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitestats_bulk_updates_missed_total",
			Help: "Total number of bulk update entries with no matching open site version",
		}),
		SnapshotsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitestats_summary_snapshots_generated_total",
			Help: "Total number of daily summary snapshots generated",
		}),
		DiscoveryRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitestats_discovery_runs_total",
			Help: "Total number of discovery matcher runs",
		}),
		DiscoveryCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitestats_discovery_cache_hits_total",
			Help: "Total number of discovery results served from cache",
		}),
		AggregationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitestats_summary_aggregation_duration_seconds",
			Help:    "Duration of summary snapshot generation",
			Buckets: prometheus.DefBuckets,
		}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitestats_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by path",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
	}
}

// IncrementVersionsCreated increments the site version counter by 1.
func (m *Metrics) IncrementVersionsCreated() {
	if m == nil {
		return
	}
	m.VersionsCreated.Inc()
}

// RecordBulkOutcome adds the per-batch updated and not-found counts.
func (m *Metrics) RecordBulkOutcome(updated, missed int) {
	if m == nil {
		return
	}
	m.BulkUpdatesApplied.Add(float64(updated))
	m.BulkUpdatesMissed.Add(float64(missed))
}

// RecordSnapshotsGenerated adds the number of freshly generated snapshots.
func (m *Metrics) RecordSnapshotsGenerated(n int) {
	if m == nil {
		return
	}
	m.SnapshotsGenerated.Add(float64(n))
}

// RecordDiscoveryRun counts one discovery pass, cached or not.
func (m *Metrics) RecordDiscoveryRun(cacheHit bool) {
	if m == nil {
		return
	}
	m.DiscoveryRuns.Inc()
	if cacheHit {
		m.DiscoveryCacheHits.Inc()
	}
}

// ObserveAggregationDuration records one aggregation pass duration.
func (m *Metrics) ObserveAggregationDuration(seconds float64) {
	if m == nil {
		return
	}
	m.AggregationDuration.Observe(seconds)
}

// ObserveRequestDuration records one request duration.
func (m *Metrics) ObserveRequestDuration(path string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(path).Observe(seconds)
}
