package backend

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BackendState is the liveness state of one backend as tracked by the health monitor.
type BackendState string

const (
	StateUp      BackendState = "UP"      // fully operational
	StateDown    BackendState = "DOWN"    // unreachable or failing
	StateProbing BackendState = "PROBING" // recovering, tentatively serving again
)

// String returns the textual representation of the state.
func (s BackendState) String() string {
	return string(s)
}

// ToFloat64 maps the state onto a Prometheus gauge value.
func (s BackendState) ToFloat64() float64 {
	switch s {
	case StateUp:
		return 1.0
	case StateProbing:
		return 0.5
	case StateDown:
		return 0.0
	default:
		return 0.0
	}
}

// BackendConfig is one Backend Descriptor entry. Config.Backends keeps these
// in a slice rather than a map so declaration order survives: the Primary
// Selector's tie-break and PRIMARY_FALLBACK's secondary attempt order both
// depend on it, and Go map iteration order is not stable.
type BackendConfig struct {
	Name           string `yaml:"name" json:"name"`
	Type           string `yaml:"type" json:"type"` // fixed value "s3"
	Endpoint       string `yaml:"endpoint" json:"endpoint"`
	Region         string `yaml:"region" json:"region"`
	Bucket         string `yaml:"bucket" json:"bucket"`
	ForcePathStyle bool   `yaml:"force_path_style" json:"force_path_style"`
	AccessKey      string `yaml:"access_key_id" json:"access_key_id"`
	SecretKey      string `yaml:"secret_access_key" json:"secret_access_key"`
}

// Backend is a live Backend Handle bound to a BackendConfig.
type Backend struct {
	ID                 string // logical name, unique within the registry
	Config             BackendConfig
	S3Client           *s3.Client
	StreamingPutClient *s3.Client // used only when Endpoint is plain HTTP

	mu                   sync.RWMutex
	state                BackendState
	lastError            error
	lastCheckTime        time.Time
	consecutiveFailures  int
	consecutiveSuccesses int

	// circuit breaker sliding window
	recentFailures int
	windowStart    time.Time
}

// BackendResult is the outcome of one operation against one backend.
type BackendResult struct {
	BackendID    string
	Method       string
	Response     interface{}
	StatusCode   int
	Err          error
	Duration     time.Duration
	BytesWritten int64
	BytesRead    int64
}

func (b *Backend) GetState() BackendState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Backend) GetLastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

func (b *Backend) GetLastCheckTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastCheckTime
}

func (b *Backend) GetStats() (consecutiveFailures, consecutiveSuccesses, recentFailures int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consecutiveFailures, b.consecutiveSuccesses, b.recentFailures
}

// IsLive reports whether the backend should currently be offered to strategy
// engines. PROBING already passed its first recovery check so it is trusted
// same as UP; DOWN is excluded.
func (b *Backend) IsLive() bool {
	s := b.GetState()
	return s == StateUp || s == StateProbing
}

// BackendProvider is the Backend Registry surface consumed by the strategy engines.
type BackendProvider interface {
	// GetLiveBackends returns every backend currently UP or PROBING, in declaration order.
	GetLiveBackends() []*Backend

	// GetAllBackends returns every configured backend, in declaration order.
	GetAllBackends() []*Backend

	// GetBackend resolves a backend by its logical name.
	GetBackend(id string) (*Backend, bool)

	// GetPrimary returns the designated primary backend, fixed at startup.
	GetPrimary() (*Backend, bool)

	ReportSuccess(result *BackendResult)
	ReportFailure(result *BackendResult)

	Start() error
	Stop() error
	IsRunning() bool
}
