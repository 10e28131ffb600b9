package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"s3proxy/apigw"
	"s3proxy/auth"
	"s3proxy/backend"
	"s3proxy/monitoring"
	"s3proxy/routing"
)

// AppConfig is the full application configuration, assembled from the
// configuration file's flat top-level keys plus the ambient server/logging/
// monitoring sections.
type AppConfig struct {
	VirtualBucket                 string                 `yaml:"virtualBucket" json:"virtualBucket"`
	ReadMode                      routing.ReadMode       `yaml:"readMode" json:"readMode"`
	WriteMode                     routing.WriteMode      `yaml:"writeMode" json:"writeMode"`
	PrimaryBackendName            string                 `yaml:"primaryBackendName" json:"primaryBackendName"`
	UseLatencyBasedPrimaryBackend bool                   `yaml:"useLatencyBasedPrimaryBackend" json:"useLatencyBasedPrimaryBackend"`
	Backends                      []backend.BackendConfig `yaml:"backends" json:"backends"`

	Server     ServerConfig      `yaml:"server" json:"server"`
	Logging    LoggingConfig     `yaml:"logging" json:"logging"`
	Monitoring monitoring.Config `yaml:"monitoring" json:"monitoring"`
	Manager    backend.ManagerConfig `yaml:"manager" json:"manager"`

	// AccessKeyID/SecretAccessKey are the single credential pair incoming
	// requests must sign against (SigV4). Populated from the -access-key/
	// -secret-key flags or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY.
	AccessKeyID     string `yaml:"-" json:"-"`
	SecretAccessKey string `yaml:"-" json:"-"`
}

// ServerConfig holds ambient HTTP server settings not named directly by the
// configuration file's top-level keys.
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// LoggingConfig holds the ambient log level setting.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// DefaultAppConfig returns the spec's default policy/server settings. It is
// not itself a valid standalone configuration — backends and modes still
// need to come from the configuration file.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		VirtualBucket: "mybucket",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging:    LoggingConfig{Level: "info"},
		Monitoring: *monitoring.DefaultConfig(),
		Manager:    backend.DefaultManagerConfig(),
	}
}

// LoadConfig reads a configuration file, selecting JSON or YAML by its file
// extension (case-insensitive).
func LoadConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultAppConfig()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	default:
		return nil, fmt.Errorf("unrecognized config file extension for %s: expected .json, .yaml, or .yml", filename)
	}

	return config, nil
}

// Validate checks the configuration, including the fatal startup conditions
// from the spec's error handling design: empty backends, a primary name
// with no match, and mutually exclusive primary-selection settings.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	if (c.Server.TLSCertFile != "" && c.Server.TLSKeyFile == "") ||
		(c.Server.TLSCertFile == "" && c.Server.TLSKeyFile != "") {
		return fmt.Errorf("both tls_cert_file and tls_key_file must be specified for TLS")
	}

	if !isValidLogLevel(c.Logging.Level) {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	if c.ReadMode == "" {
		return fmt.Errorf("readMode is required")
	}
	switch c.ReadMode {
	case routing.PrimaryOnly, routing.PrimaryFallback, routing.BestEffort, routing.AllConsistent:
	default:
		return fmt.Errorf("invalid readMode: %s", c.ReadMode)
	}

	if c.WriteMode == "" {
		return fmt.Errorf("writeMode is required")
	}
	switch c.WriteMode {
	case routing.AsyncReplication, routing.MultiSync:
	default:
		return fmt.Errorf("invalid writeMode: %s", c.WriteMode)
	}

	if c.PrimaryBackendName != "" && c.UseLatencyBasedPrimaryBackend {
		return fmt.Errorf("primaryBackendName and useLatencyBasedPrimaryBackend are mutually exclusive")
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("backends must be a non-empty list")
	}

	backendConfig := c.ToBackendConfig()
	if err := backendConfig.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}

	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return fmt.Errorf("an incoming access key ID and secret access key are required")
	}

	return nil
}

// ToBackendConfig assembles the backend package's configuration from the
// flat top-level keys plus the ambient manager section.
func (c *AppConfig) ToBackendConfig() backend.Config {
	return backend.Config{
		Manager: c.Manager,
		Primary: backend.PrimarySelection{
			ExplicitName:    c.PrimaryBackendName,
			UseLatencyBased: c.UseLatencyBasedPrimaryBackend,
		},
		Backends: c.Backends,
	}
}

// ToRoutingConfig assembles the Policy & Routing Engine's configuration
// from the flat readMode/writeMode keys.
func (c *AppConfig) ToRoutingConfig() routing.Config {
	return routing.Config{
		Policies: routing.Policies{
			Put:    routing.WriteOperationPolicy{Mode: c.WriteMode},
			Delete: routing.WriteOperationPolicy{Mode: c.WriteMode},
			Get:    routing.ReadOperationPolicy{Mode: c.ReadMode},
		},
	}
}

// ToAuthConfig builds the single-credential-pair authenticator configuration
// required by the client-facing wire protocol (SigV4 against one access key).
func (c *AppConfig) ToAuthConfig() auth.Config {
	return auth.Config{
		Provider: "static",
		Static: &auth.StaticConfig{
			Users: []auth.UserConfig{
				{
					AccessKey:   c.AccessKeyID,
					SecretKey:   c.SecretAccessKey,
					DisplayName: "default",
				},
			},
		},
	}
}

// ToAPIGatewayConfig converts to the API Gateway's own configuration type.
func (c *AppConfig) ToAPIGatewayConfig() apigw.Config {
	return apigw.Config{
		ListenAddress: fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port),
		TLSCertFile:   c.Server.TLSCertFile,
		TLSKeyFile:    c.Server.TLSKeyFile,
		ReadTimeout:   c.Server.ReadTimeout,
		WriteTimeout:  c.Server.WriteTimeout,
	}
}

func isValidLogLevel(level string) bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return true
		}
	}
	return false
}
