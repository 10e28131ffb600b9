package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide Prometheus metrics the monitoring module
// registers. The apigw, auth and backend packages register their own.
type Metrics struct {
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheSize        prometheus.Gauge

	ReplicationRequestsTotal *prometheus.CounterVec
	ReplicationLatency       *prometheus.HistogramVec

	ActiveConnections prometheus.Gauge
	MemoryUsage       prometheus.Gauge
}

// NewMetrics creates and registers all metrics against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		CacheHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "s3proxy_cache_hits_total",
				Help: "Total number of cache hits",
			},
		),
		CacheMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "s3proxy_cache_misses_total",
				Help: "Total number of cache misses",
			},
		),
		CacheSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "s3proxy_cache_size_bytes",
				Help: "Current cache size in bytes",
			},
		),

		ReplicationRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3proxy_replication_requests_total",
				Help: "Total number of replication requests",
			},
			[]string{"operation", "ack_level", "result"}, // put/delete, one/all, success/failure
		),
		ReplicationLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3proxy_replication_latency_seconds",
				Help:    "Latency of replication requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "ack_level"},
		),

		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "s3proxy_active_connections",
				Help: "Number of active connections",
			},
		),
		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "s3proxy_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),
	}
}

// GetRegistry returns the default Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return prometheus.DefaultRegisterer.(*prometheus.Registry)
}
