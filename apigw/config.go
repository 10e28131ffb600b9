package apigw

import "time"

// Config holds the API Gateway's configuration.
type Config struct {
	// ListenAddress is the address and port to listen on (e.g. ":9000").
	ListenAddress string

	// TLSCertFile/TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default API Gateway configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":9000",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
}
