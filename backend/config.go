package backend

import (
	"fmt"
	"time"
)

// ManagerConfig controls the health monitor and circuit breaker.
type ManagerConfig struct {
	// HealthCheckInterval is the interval between active health probes.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// CheckTimeout bounds a single health probe.
	CheckTimeout time.Duration `yaml:"check_timeout" json:"check_timeout"`

	// FailureThreshold is the number of consecutive failures that moves a backend to DOWN.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// SuccessThreshold is the number of consecutive successes that moves PROBING to UP.
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`

	// CircuitBreakerWindow is the sliding window size for the circuit breaker.
	CircuitBreakerWindow time.Duration `yaml:"circuit_breaker_window" json:"circuit_breaker_window"`

	// CircuitBreakerThreshold is the error count within the window that trips the breaker.
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`

	// InitialState is the state assigned to every backend at startup.
	InitialState BackendState `yaml:"initial_state" json:"initial_state"`
}

// PrimarySelection controls how the registry's primary pointer is chosen.
// Exactly one of ExplicitName or UseLatencyBased may be set; neither set
// falls back to the first backend in declaration order.
type PrimarySelection struct {
	ExplicitName    string `yaml:"primary_backend_name" json:"primary_backend_name"`
	UseLatencyBased bool   `yaml:"use_latency_based_primary_backend" json:"use_latency_based_primary_backend"`
}

// Config is the full backend package configuration.
type Config struct {
	Manager  ManagerConfig     `yaml:"manager" json:"manager"`
	Primary  PrimarySelection  `yaml:"-" json:"-"` // populated from the root config, not this package's own file section
	Backends []BackendConfig   `yaml:"backends" json:"backends"`
}

// DefaultManagerConfig returns reasonable health monitor defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HealthCheckInterval:     15 * time.Second,
		CheckTimeout:            5 * time.Second,
		FailureThreshold:        3,
		SuccessThreshold:        2,
		CircuitBreakerWindow:    60 * time.Second,
		CircuitBreakerThreshold: 5,
		InitialState:            StateProbing,
	}
}

// DefaultConfig returns a single-backend configuration suitable for local testing.
func DefaultConfig() *Config {
	return &Config{
		Manager: DefaultManagerConfig(),
		Backends: []BackendConfig{
			{
				Name:      "local-minio",
				Type:      "s3",
				Endpoint:  "http://localhost:9000",
				Region:    "us-east-1",
				Bucket:    "test-bucket",
				AccessKey: "minioadmin",
				SecretKey: "minioadmin",
			},
		},
	}
}

// Validate checks the configuration, including the uniqueness of backend names
// required by the registry.
func (c *Config) Validate() error {
	if err := c.Manager.Validate(); err != nil {
		return fmt.Errorf("invalid manager config: %w", err)
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	if c.Primary.ExplicitName != "" && c.Primary.UseLatencyBased {
		return fmt.Errorf("primary_backend_name and use_latency_based_primary_backend are mutually exclusive")
	}

	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend name cannot be empty")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate backend name %q", b.Name)
		}
		seen[b.Name] = true

		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid backend config %q: %w", b.Name, err)
		}
	}

	if c.Primary.ExplicitName != "" && !seen[c.Primary.ExplicitName] {
		return fmt.Errorf("primary_backend_name %q does not match any configured backend", c.Primary.ExplicitName)
	}

	return nil
}

// Validate checks the health monitor configuration.
func (mc *ManagerConfig) Validate() error {
	if mc.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive")
	}

	if mc.CheckTimeout <= 0 {
		return fmt.Errorf("check_timeout must be positive")
	}

	if mc.CheckTimeout >= mc.HealthCheckInterval {
		return fmt.Errorf("check_timeout must be less than health_check_interval")
	}

	if mc.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive")
	}

	if mc.SuccessThreshold <= 0 {
		return fmt.Errorf("success_threshold must be positive")
	}

	if mc.CircuitBreakerWindow <= 0 {
		return fmt.Errorf("circuit_breaker_window must be positive")
	}

	if mc.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("circuit_breaker_threshold must be positive")
	}

	if mc.InitialState != StateUp && mc.InitialState != StateDown && mc.InitialState != StateProbing {
		return fmt.Errorf("initial_state must be one of: UP, DOWN, PROBING")
	}

	return nil
}

// Validate checks a single backend descriptor.
func (bc *BackendConfig) Validate() error {
	if bc.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if bc.Region == "" {
		return fmt.Errorf("region cannot be empty")
	}

	if bc.Bucket == "" {
		return fmt.Errorf("bucket cannot be empty")
	}

	if bc.AccessKey == "" {
		return fmt.Errorf("access_key_id cannot be empty")
	}

	if bc.SecretKey == "" {
		return fmt.Errorf("secret_access_key cannot be empty")
	}

	return nil
}
