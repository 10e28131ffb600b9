package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"s3proxy/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP server that exports Prometheus metrics.
type Server struct {
	config  *Config
	metrics *Metrics
	server  *http.Server

	stopSystemMetrics chan struct{}
}

// NewServer builds a metrics server.
func NewServer(config *Config, metrics *Metrics) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	return &Server{
		config:            config,
		metrics:           metrics,
		stopSystemMetrics: make(chan struct{}),
	}
}

// Start starts the metrics HTTP server.
func (s *Server) Start() error {
	if !s.config.Enabled {
		logger.Info("Monitoring is disabled, skipping metrics server start")
		return nil
	}

	logger.Info("Starting metrics server on %s", s.config.ListenAddress)

	mux := http.NewServeMux()
	mux.Handle(s.config.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/health/live", s.liveHealthHandler)
	mux.HandleFunc("/health/ready", s.readyHealthHandler)

	s.server = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	if s.config.EnableSystemMetrics {
		go s.collectSystemMetrics()
	}

	go func() {
		logger.Info("Metrics server listening on %s%s", s.config.ListenAddress, s.config.MetricsPath)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed: %v", err)
		}
	}()

	return nil
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.config.Enabled || s.server == nil {
		return nil
	}

	logger.Info("Stopping metrics server...")
	close(s.stopSystemMetrics)

	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"s3proxy-monitoring"}`)
}

func (s *Server) liveHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "{\"status\": \"OK\"}")
}

func (s *Server) readyHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "{\"status\": \"OK\"}")
}

func (s *Server) collectSystemMetrics() {
	logger.Debug("Starting system metrics collection with interval %v", s.config.SystemMetricsInterval)

	ticker := time.NewTicker(s.config.SystemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateSystemMetrics()
		case <-s.stopSystemMetrics:
			logger.Debug("Stopping system metrics collection")
			return
		}
	}
}

func (s *Server) updateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.metrics.MemoryUsage.Set(float64(memStats.Alloc))

	logger.Debug("Updated system metrics: memory_usage=%d bytes", memStats.Alloc)
}

// GetMetricsURL returns the full metrics endpoint URL.
func (s *Server) GetMetricsURL() string {
	if !s.config.Enabled {
		return ""
	}
	return fmt.Sprintf("http://localhost%s%s", s.config.ListenAddress, s.config.MetricsPath)
}
