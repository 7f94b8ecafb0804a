package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// SupplierRequestsTotal tracks supplier API calls by endpoint and outcome
	SupplierRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partsync_supplier_requests_total",
			Help: "Total number of supplier API requests",
		},
		[]string{"endpoint", "status"}, // status: success, network, rate_limit, auth, server, unknown
	)

	// SupplierRequestDuration measures supplier API call duration in seconds
	SupplierRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partsync_supplier_request_duration_seconds",
			Help:    "Supplier API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"endpoint"},
	)

	// RateLimitHitsTotal counts rate-limit windows recorded per endpoint
	RateLimitHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partsync_rate_limit_hits_total",
			Help: "Total number of rate-limit windows recorded",
		},
		[]string{"endpoint"},
	)

	// RetryAttemptsTotal counts retry attempts by failure class
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partsync_retry_attempts_total",
			Help: "Total number of retry attempts after classified failures",
		},
		[]string{"class"},
	)

	// SyncRunsTotal tracks sync runs by type and terminal status
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partsync_sync_runs_total",
			Help: "Total number of sync runs",
		},
		[]string{"sync_type", "status"}, // status: completed, partial, failed, skipped
	)

	// SyncRunDuration measures sync run duration in seconds
	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partsync_sync_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"sync_type"},
	)

	// PartsSyncedTotal counts parts processed by sync runs
	PartsSyncedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partsync_parts_synced_total",
			Help: "Total number of parts processed by sync runs",
		},
		[]string{"sync_type", "result"}, // result: success, failure
	)

	// UpdateRequestsTotal counts queued pricing update requests by terminal state
	UpdateRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partsync_update_requests_total",
			Help: "Total number of pricing update requests processed",
		},
		[]string{"status"}, // status: completed, failed, requeued
	)

	// PendingUpdateRequests tracks the current pending update request backlog
	PendingUpdateRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "partsync_pending_update_requests",
			Help: "Number of update requests currently pending",
		},
	)

	// CacheEntries tracks the number of parts held in the pricing cache
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "partsync_cache_entries",
			Help: "Number of entries in the pricing cache",
		},
	)
)

// RecordSupplierRequest records the outcome of one supplier API call
func RecordSupplierRequest(endpoint, status string, seconds float64) {
	SupplierRequestsTotal.WithLabelValues(endpoint, status).Inc()
	SupplierRequestDuration.WithLabelValues(endpoint).Observe(seconds)
}

// RecordRateLimitHit records a newly installed rate-limit window
func RecordRateLimitHit(endpoint string) {
	RateLimitHitsTotal.WithLabelValues(endpoint).Inc()
}

// RecordRetryAttempt records a retry triggered by a classified failure
func RecordRetryAttempt(class string) {
	RetryAttemptsTotal.WithLabelValues(class).Inc()
}

// RecordSyncRun records a finished (or skipped) sync run
func RecordSyncRun(syncType, status string, seconds float64) {
	SyncRunsTotal.WithLabelValues(syncType, status).Inc()
	if status != "skipped" {
		SyncRunDuration.WithLabelValues(syncType).Observe(seconds)
	}
}

// RecordPartsSynced records per-part outcomes of a sync run
func RecordPartsSynced(syncType string, success, failure int) {
	if success > 0 {
		PartsSyncedTotal.WithLabelValues(syncType, "success").Add(float64(success))
	}
	if failure > 0 {
		PartsSyncedTotal.WithLabelValues(syncType, "failure").Add(float64(failure))
	}
}

// RecordUpdateRequest records the terminal state of one drained update request
func RecordUpdateRequest(status string) {
	UpdateRequestsTotal.WithLabelValues(status).Inc()
}
