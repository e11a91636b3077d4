package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP requests
	RequestsTotal *prometheus.CounterVec

	// Download outcomes
	DownloadsTotal  *prometheus.CounterVec // by status: completed, error, cancelled
	ActiveDownloads prometheus.Gauge

	// Fetch step
	FetchAttemptsTotal *prometheus.CounterVec // by result: success, rate_limited, challenge_required, ...
	FetchRetriesTotal  prometheus.Counter
	FetchDuration      prometheus.Histogram
	DownloadedBytes    prometheus.Histogram

	// Transform step
	TransformDuration *prometheus.HistogramVec // by op and result

	// Batches
	BatchesTotal       prometheus.Counter
	BatchMembersTotal  *prometheus.CounterVec // by outcome: completed, failed, timeout
	ActiveBatches      prometheus.Gauge

	// Scheduler
	ScheduledPending  prometheus.Gauge
	ScheduledPromoted prometheus.Counter

	// Backend performance
	HistoryOpDuration *prometheus.HistogramVec // history op latency by backend and op
	StorageDuration   *prometheus.HistogramVec // upload latency by storage_type and result
	UploadsTotal      *prometheus.CounterVec  // by result

	// Authentication/Security
	SignatureFailuresTotal prometheus.Counter
	ExpiredRequestsTotal   prometheus.Counter

	// Live updates
	WebsocketClients prometheus.Gauge

	// Circuit breaker
	CircuitBreakerState *prometheus.GaugeVec // by backend: fetch, storage

	// Health checks
	HealthStatus       *prometheus.GaugeVec // by component: history, storage, ytdlp (1=healthy, 0=unhealthy)
	HealthChecksFailed *prometheus.CounterVec

	// System metrics
	MemoryGauge     prometheus.Gauge
	GoroutinesGauge prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tasvid_requests_total",
				Help: "Total number of HTTP requests by status code",
			}, []string{"status"}),

			DownloadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tasvid_downloads_total",
				Help: "Total number of downloads by terminal status (completed, error, cancelled)",
			}, []string{"status"}),
			ActiveDownloads: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tasvid_active_downloads",
				Help: "Number of downloads currently holding a fetch slot",
			}),

			FetchAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tasvid_fetch_attempts_total",
				Help: "Total fetch attempts by result",
			}, []string{"result"}),
			FetchRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tasvid_fetch_retries_total",
				Help: "Total fetch retries after rate limiting",
			}),
			FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "tasvid_fetch_duration_seconds",
				Help:    "Fetch duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			}),
			DownloadedBytes: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "tasvid_downloaded_bytes",
				Help:    "Bytes transferred per completed fetch",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 35), // Up to ~32GB+
			}),

			TransformDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tasvid_transform_duration_seconds",
				Help:    "Media transform duration in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
			}, []string{"op", "result"}),

			BatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tasvid_batches_total",
				Help: "Total number of submitted batches",
			}),
			BatchMembersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tasvid_batch_members_total",
				Help: "Total batch members by outcome (completed, failed, timeout)",
			}, []string{"outcome"}),
			ActiveBatches: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tasvid_active_batches",
				Help: "Number of batches still being driven",
			}),

			ScheduledPending: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tasvid_scheduled_pending",
				Help: "Number of scheduled downloads waiting to fire",
			}),
			ScheduledPromoted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tasvid_scheduled_promoted_total",
				Help: "Total scheduled downloads handed to the orchestrator",
			}),

			HistoryOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tasvid_history_op_duration_seconds",
				Help:    "History store operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			}, []string{"backend", "op"}),
			StorageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tasvid_storage_upload_duration_seconds",
				Help:    "Upload duration per file in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			}, []string{"storage_type", "result"}),
			UploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tasvid_uploads_total",
				Help: "Total uploads by result",
			}, []string{"result"}),

			SignatureFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tasvid_signature_failures_total",
				Help: "Total number of failed file link signature verifications",
			}),
			ExpiredRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tasvid_expired_requests_total",
				Help: "Total number of file link requests with expired timestamps",
			}),

			WebsocketClients: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tasvid_websocket_clients",
				Help: "Number of connected live update clients",
			}),

			CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "tasvid_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			}, []string{"backend"}),

			HealthStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "tasvid_health_status",
				Help: "Health status by component (1=healthy, 0=unhealthy)",
			}, []string{"component"}),
			HealthChecksFailed: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tasvid_health_checks_failed_total",
				Help: "Total number of failed health checks by component",
			}, []string{"component"}),

			MemoryGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tasvid_memory_heap_alloc_bytes",
				Help: "Current heap allocation in bytes",
			}),
			GoroutinesGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tasvid_goroutines",
				Help: "Number of goroutines",
			}),
		}
	})

	return defaultMetrics
}

// StartRuntimeMetricsCollector starts a goroutine that updates runtime metrics
// until stop is closed. A nil stop runs for the life of the process.
func (m *Metrics) StartRuntimeMetricsCollector(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			m.MemoryGauge.Set(float64(mem.HeapAlloc))
			m.GoroutinesGauge.Set(float64(runtime.NumGoroutine()))
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
}
