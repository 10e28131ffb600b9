package monitoring

import (
	"context"
	"fmt"

	"s3proxy/logger"
)

// Monitor is the monitoring module's main entry point.
type Monitor struct {
	config  *Config
	metrics *Metrics
	server  *Server
}

// New builds a Monitor.
func New(config *Config) (*Monitor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid monitoring config: %w", err)
	}

	metrics := NewMetrics()
	server := NewServer(config, metrics)

	monitor := &Monitor{
		config:  config,
		metrics: metrics,
		server:  server,
	}
	
	logger.Info("Monitoring module initialized")
	logger.Debug("Monitoring config: enabled=%v, listen=%s, path=%s", 
		config.Enabled, config.ListenAddress, config.MetricsPath)
	
	return monitor, nil
}

// Start starts the monitoring module.
func (m *Monitor) Start() error {
	if !m.config.Enabled {
		logger.Info("Monitoring is disabled")
		return nil
	}

	logger.Info("Starting monitoring module...")

	if err := m.server.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info("Monitoring module started successfully")
	return nil
}

// Stop stops the monitoring module.
func (m *Monitor) Stop(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}

	logger.Info("Stopping monitoring module...")

	if err := m.server.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}

	logger.Info("Monitoring module stopped")
	return nil
}

// GetMetrics returns the metrics instance for use by other modules.
func (m *Monitor) GetMetrics() *Metrics {
	return m.metrics
}

// GetConfig returns the monitoring configuration.
func (m *Monitor) GetConfig() *Config {
	return m.config
}

// IsEnabled reports whether monitoring is enabled.
func (m *Monitor) IsEnabled() bool {
	return m.config.Enabled
}

// GetMetricsURL returns the metrics endpoint URL.
func (m *Monitor) GetMetricsURL() string {
	return m.server.GetMetricsURL()
}
