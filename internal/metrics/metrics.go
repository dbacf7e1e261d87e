package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	rowsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "rows_processed_total",
			Help:      "Processed sheet rows by outcome.",
		},
		[]string{"outcome"},
	)

	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "token_refreshes_total",
			Help:      "Access token refresh attempts by result.",
		},
		[]string{"result"},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "provider_requests_total",
			Help:      "Provider HTTP requests by endpoint and status class.",
		},
		[]string{"endpoint", "status"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "sync_runs_total",
			Help:      "Batch runs by result.",
		},
		[]string{"result"},
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tasksync",
			Name:      "sync_duration_seconds",
			Help:      "Wall clock duration of a batch run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(rowsProcessed, tokenRefreshes, providerRequests, syncRuns, syncDuration)
	})
}

// IncRow increments the row counter for an outcome label.
func IncRow(outcome string) {
	rowsProcessed.WithLabelValues(outcome).Inc()
}

// IncTokenRefresh increments the refresh counter with result "success" or "failure".
func IncTokenRefresh(result string) {
	tokenRefreshes.WithLabelValues(result).Inc()
}

// IncProviderRequest increments the provider request counter.
func IncProviderRequest(endpoint, status string) {
	providerRequests.WithLabelValues(endpoint, status).Inc()
}

// IncRun increments the batch run counter with result "completed" or "fatal".
func IncRun(result string) {
	syncRuns.WithLabelValues(result).Inc()
}

// ObserveRunDuration records the duration of one batch run in seconds.
func ObserveRunDuration(seconds float64) {
	syncDuration.Observe(seconds)
}
