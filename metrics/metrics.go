package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ExecutionGroups counts execution groups created by data_source, mode
	ExecutionGroups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqshard_execution_groups_total",
			Help: "Total number of execution groups prepared",
		},
		[]string{"data_source", "mode"},
	)

	// ExecutionUnits counts executed units by data_source, query_type, result
	ExecutionUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqshard_execution_units_total",
			Help: "Total number of execution units executed",
		},
		[]string{"data_source", "query_type", "result"},
	)

	// ExecutionLatency tracks unit latency by data_source, query_type
	ExecutionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tqshard_execution_latency_seconds",
			Help:    "Execution unit latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"data_source", "query_type"},
	)

	// ConnectionAcquire tracks time spent waiting for physical connections
	ConnectionAcquire = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tqshard_connection_acquire_seconds",
			Help:    "Time spent acquiring physical connections in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"data_source"},
	)

	// CommitLock counts commit lock attempts by result (acquired, timeout)
	CommitLock = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqshard_commit_lock_total",
			Help: "Total number of commit lock acquisition attempts",
		},
		[]string{"result"},
	)

	// GlobalClockTimestamps counts timestamps taken from the global clock by kind
	GlobalClockTimestamps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqshard_global_clock_timestamps_total",
			Help: "Total number of global clock timestamps used",
		},
		[]string{"kind"},
	)

	// DataSourceHealthy is 1 when the last health check of a data source passed
	DataSourceHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tqshard_data_source_healthy",
			Help: "Whether the data source passed its last health check",
		},
		[]string{"data_source"},
	)

	once sync.Once
)

// Init registers all metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(ExecutionGroups)
		prometheus.MustRegister(ExecutionUnits)
		prometheus.MustRegister(ExecutionLatency)
		prometheus.MustRegister(ConnectionAcquire)
		prometheus.MustRegister(CommitLock)
		prometheus.MustRegister(GlobalClockTimestamps)
		prometheus.MustRegister(DataSourceHealthy)
	})
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
