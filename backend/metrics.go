package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	BackendState         *prometheus.GaugeVec     // current state of a backend (1=UP, 0.5=PROBING, 0=DOWN)
	BackendRequestsTotal *prometheus.CounterVec   // requests issued against a backend
	BackendLatency       *prometheus.HistogramVec // backend request latency
	BackendBytesRead     *prometheus.CounterVec   // bytes read from a backend
	BackendBytesWrite    *prometheus.CounterVec   // bytes written to a backend

	PrimarySelections   *prometheus.CounterVec   // outcomes of primary selector runs, by method and chosen backend
	PrimaryProbeLatency *prometheus.HistogramVec // latency of individual primary-selector probes
}

func NewMetrics() *Metrics {
	return &Metrics{
		BackendState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "s3proxy_backend_state",
				Help: "Current state of a backend (1=UP, 0.5=PROBING, 0=DOWN)",
			},
			[]string{"backend"},
		),
		BackendRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3proxy_backend_requests_total",
				Help: "Total number of requests sent to backends",
			},
			[]string{"backend", "method", "code"},
		),
		BackendLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3proxy_backend_latency_seconds",
				Help:    "Latency of requests to backends in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "method"},
		),
		BackendBytesRead: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3proxy_backend_bytes_read_total",
				Help: "Total number of bytes read from backends",
			},
			[]string{"backend"},
		),
		BackendBytesWrite: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3proxy_backend_bytes_write_total",
				Help: "Total number of bytes wrote to backends",
			},
			[]string{"backend"},
		),
		PrimarySelections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3proxy_primary_selection_total",
				Help: "Outcomes of primary backend selection, by method and chosen backend",
			},
			[]string{"method", "backend"},
		),
		PrimaryProbeLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3proxy_primary_probe_latency_seconds",
				Help:    "Latency of individual head_bucket probes issued by the latency-based primary selector",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
	}
}
