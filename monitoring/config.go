package monitoring

import (
	"fmt"
	"time"
)

// Config holds the settings for the monitoring module.
type Config struct {
	// Enabled controls whether monitoring is active.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the metrics HTTP server's bind address (e.g. ":9091").
	ListenAddress string `yaml:"listen_address"`

	// MetricsPath is the metrics endpoint path (default "/metrics").
	MetricsPath string `yaml:"metrics_path"`

	// ReadTimeout is the metrics HTTP server's read timeout.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the metrics HTTP server's write timeout.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EnableSystemMetrics turns on system metrics collection (memory, CPU, etc).
	EnableSystemMetrics bool `yaml:"enable_system_metrics"`

	// SystemMetricsInterval is the system metrics collection interval.
	SystemMetricsInterval time.Duration `yaml:"system_metrics_interval"`
}

// DefaultConfig returns the default monitoring configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:               true,
		ListenAddress:         ":9091",
		MetricsPath:           "/metrics",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		EnableSystemMetrics:   true,
		SystemMetricsInterval: 15 * time.Second,
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address cannot be empty when monitoring is enabled")
	}
	
	if c.MetricsPath == "" {
		return fmt.Errorf("metrics_path cannot be empty")
	}
	
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}
	
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	
	if c.EnableSystemMetrics && c.SystemMetricsInterval <= 0 {
		return fmt.Errorf("system_metrics_interval must be positive when system metrics are enabled")
	}
	
	return nil
}
