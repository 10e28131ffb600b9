package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"s3proxy/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
)

// Manager implements BackendProvider and owns the health monitor, circuit
// breaker, and the fixed Primary Pointer.
type Manager struct {
	config  ManagerConfig
	primary PrimarySelection

	mu       sync.RWMutex
	order    []string // backend names in declaration order
	backends map[string]*Backend
	primaryBackend *Backend
	metrics  *Metrics

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewManager builds the registry and its S3 clients but does not run the
// Primary Selector yet; that happens on Start, so the latency probes do not
// block construction.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config for backend manager not provided")
	}

	managerConfig := cfg.Manager
	if managerConfig == (ManagerConfig{}) {
		managerConfig = DefaultManagerConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	manager := &Manager{
		config:   managerConfig,
		primary:  cfg.Primary,
		backends: make(map[string]*Backend, len(cfg.Backends)),
		order:    make([]string, 0, len(cfg.Backends)),
		metrics:  NewMetrics(),
		stopChan: make(chan struct{}),
	}

	for _, backendConfig := range cfg.Backends {
		b, err := manager.createBackend(backendConfig.Name, backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend %q: %w", backendConfig.Name, err)
		}
		manager.backends[backendConfig.Name] = b
		manager.order = append(manager.order, backendConfig.Name)
	}

	logger.Info("Backend manager initialized with %d backends", len(manager.backends))
	for _, id := range manager.order {
		b := manager.backends[id]
		logger.Info("  - %s: %s (bucket: %s)", id, b.Config.Endpoint, b.Config.Bucket)
	}

	return manager, nil
}

func (m *Manager) createBackend(id string, cfg BackendConfig) (*Backend, error) {
	awsConfig, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for backend %s: %w", id, err)
	}

	defaultS3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	b := &Backend{
		ID:          id,
		Config:      cfg,
		S3Client:    defaultS3Client,
		state:       m.config.InitialState,
		windowStart: time.Now(),
	}

	isHTTP := cfg.Endpoint != "" && strings.HasPrefix(strings.ToLower(cfg.Endpoint), "http://")
	if isHTTP {
		logger.Warn("Backend %q uses plain HTTP, creating a streaming client for PutObject", id)
		streamingS3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			o.UsePathStyle = true
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.APIOptions = append(o.APIOptions, func(stack *middleware.Stack) error {
				return v4.RemoveComputePayloadSHA256Middleware(stack)
			})
		})
		b.StreamingPutClient = streamingS3Client
	}

	logger.Info("Created backend %q (endpoint: %s, bucket: %s) with initial state %s", id, cfg.Endpoint, cfg.Bucket, b.state)
	return b, nil
}

// Start launches the health monitor and runs the Primary Selector once.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("backend manager is already running")
	}

	ordered := make([]*Backend, 0, len(m.order))
	for _, id := range m.order {
		ordered = append(ordered, m.backends[id])
	}
	m.mu.Unlock()

	logger.Info("Starting backend manager...")

	primary, err := selectPrimary(context.Background(), m.primary, ordered, m.config.CheckTimeout, m.metrics)
	if err != nil {
		return fmt.Errorf("primary selection failed: %w", err)
	}

	m.mu.Lock()
	m.primaryBackend = primary
	m.running = true
	m.mu.Unlock()

	logger.Info("Primary backend selected: %q", primary.ID)

	m.wg.Add(1)
	go m.runHealthChecks()

	logger.Info("Backend manager started")
	return nil
}

// Stop halts the health monitor and waits for it to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	logger.Info("Stopping backend manager...")
	close(m.stopChan)
	m.wg.Wait()
	m.stopChan = make(chan struct{})
	m.running = false
	logger.Info("Backend manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// GetLiveBackends returns every backend currently UP or PROBING, in declaration order.
func (m *Manager) GetLiveBackends() []*Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live := make([]*Backend, 0, len(m.order))
	for _, id := range m.order {
		b := m.backends[id]
		if b.IsLive() {
			live = append(live, b)
		}
	}

	logger.Debug("GetLiveBackends: returning %d out of %d backends", len(live), len(m.order))
	return live
}

// GetAllBackends returns every configured backend, in declaration order.
func (m *Manager) GetAllBackends() []*Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Backend, 0, len(m.order))
	for _, id := range m.order {
		all = append(all, m.backends[id])
	}
	return all
}

func (m *Manager) GetBackend(id string) (*Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, exists := m.backends[id]
	return b, exists
}

// GetPrimary returns the backend chosen by the Primary Selector at Start time.
func (m *Manager) GetPrimary() (*Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.primaryBackend == nil {
		return nil, false
	}
	return m.primaryBackend, true
}

// ReportSuccess resets a backend's failure counters and, if it had been DOWN,
// returns it to service immediately.
func (m *Manager) ReportSuccess(result *BackendResult) {
	m.mu.RLock()
	b, exists := m.backends[result.BackendID]
	m.mu.RUnlock()

	if !exists {
		logger.Warn("ReportSuccess: backend %q not found", result.BackendID)
		return
	}

	b.mu.Lock()
	b.consecutiveFailures = 0
	b.consecutiveSuccesses++
	b.recentFailures = 0

	if b.state == StateDown {
		logger.Info("Backend %q is back online after a successful request", result.BackendID)
		setBackendState(m, b, StateUp)
	}
	b.mu.Unlock()

	logger.Debug("ReportSuccess: backend %q, consecutive successes: %d", result.BackendID, b.consecutiveSuccesses)

	m.metrics.BackendRequestsTotal.WithLabelValues(result.BackendID, result.Method, strconv.Itoa(result.StatusCode)).Inc()
	m.metrics.BackendLatency.WithLabelValues(result.BackendID, result.Method).Observe(result.Duration.Seconds())
	m.metrics.BackendBytesRead.WithLabelValues(result.BackendID).Add(float64(result.BytesRead))
	m.metrics.BackendBytesWrite.WithLabelValues(result.BackendID).Add(float64(result.BytesWritten))
}

// ReportFailure records a failed operation, using the error taxonomy to decide
// whether it should move the circuit breaker at all.
func (m *Manager) ReportFailure(result *BackendResult) {
	m.mu.RLock()
	b, exists := m.backends[result.BackendID]
	m.mu.RUnlock()

	if !exists {
		logger.Warn("ReportFailure: backend %q not found", result.BackendID)
		return
	}

	if IsBenign(result.Err) {
		logger.Debug("ReportFailure: benign error (%s) on backend %q, not affecting circuit breaker: %v",
			Classify(result.Err), result.BackendID, result.Err)
		m.metrics.BackendRequestsTotal.WithLabelValues(result.BackendID, result.Method, strconv.Itoa(result.StatusCode)).Inc()
		m.metrics.BackendLatency.WithLabelValues(result.BackendID, result.Method).Observe(result.Duration.Seconds())
		return
	}

	b.mu.Lock()
	b.consecutiveSuccesses = 0
	b.consecutiveFailures++
	b.lastError = result.Err

	now := time.Now()
	if now.Sub(b.windowStart) > m.config.CircuitBreakerWindow {
		b.recentFailures = 1
		b.windowStart = now
	} else {
		b.recentFailures++
	}

	logger.Warn("ReportFailure: %s failure on backend %q, consecutive: %d, recent: %d. Error: %v",
		Classify(result.Err), result.BackendID, b.consecutiveFailures, b.recentFailures, result.Err)

	if b.state != StateDown && b.recentFailures >= m.config.CircuitBreakerThreshold {
		logger.Error("Circuit breaker triggered for backend %q: %d failures in %v, setting state to DOWN",
			result.BackendID, b.recentFailures, now.Sub(b.windowStart))
		setBackendState(m, b, StateDown)
	}
	b.mu.Unlock()

	m.metrics.BackendRequestsTotal.WithLabelValues(result.BackendID, result.Method, strconv.Itoa(result.StatusCode)).Inc()
	m.metrics.BackendLatency.WithLabelValues(result.BackendID, result.Method).Observe(result.Duration.Seconds())
	m.metrics.BackendBytesRead.WithLabelValues(result.BackendID).Add(float64(result.BytesRead))
	m.metrics.BackendBytesWrite.WithLabelValues(result.BackendID).Add(float64(result.BytesWritten))
}

func (m *Manager) runHealthChecks() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	logger.Debug("doing initial health check")
	m.performHealthChecks()

	logger.Debug("health check routine started with interval %v", m.config.HealthCheckInterval)
	for {
		select {
		case <-ticker.C:
			m.performHealthChecks()
		case <-m.stopChan:
			logger.Debug("health check routine stopped")
			return
		}
	}
}

func (m *Manager) performHealthChecks() {
	m.mu.RLock()
	backends := make([]*Backend, 0, len(m.order))
	for _, id := range m.order {
		backends = append(backends, m.backends[id])
	}
	m.mu.RUnlock()

	logger.Debug("performing health checks for %d backends", len(backends))

	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b *Backend) {
			defer wg.Done()
			m.checkBackend(b)
		}(b)
	}
	wg.Wait()
	logger.Debug("health checks completed")
}

func (m *Manager) checkBackend(b *Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.CheckTimeout)
	defer cancel()

	logger.Debug("checking backend %s (state: %s)", b.ID, b.GetState())

	_, err := b.S3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.Config.Bucket),
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastCheckTime = time.Now()
	oldState := b.state

	if err != nil {
		b.lastError = err
		b.consecutiveSuccesses = 0
		b.consecutiveFailures++

		logger.Debug("backend %s health check failed: %v (consecutive failures: %d)", b.ID, err, b.consecutiveFailures)

		switch b.state {
		case StateUp:
			if b.consecutiveFailures >= m.config.FailureThreshold {
				setBackendState(m, b, StateDown)
				logger.Warn("backend %s transitioned from UP to DOWN after %d consecutive failures", b.ID, b.consecutiveFailures)
			}
		case StateProbing:
			setBackendState(m, b, StateDown)
			logger.Warn("backend %s transitioned from PROBING to DOWN after health check failure", b.ID)
		case StateDown:
		}
	} else {
		b.lastError = nil
		b.consecutiveFailures = 0
		b.consecutiveSuccesses++

		logger.Debug("backend %s health check succeeded (consecutive successes: %d)", b.ID, b.consecutiveSuccesses)

		switch b.state {
		case StateDown:
			setBackendState(m, b, StateProbing)
			logger.Info("backend %s transitioned from DOWN to PROBING after successful health check", b.ID)
		case StateProbing:
			if b.consecutiveSuccesses >= m.config.SuccessThreshold {
				setBackendState(m, b, StateUp)
				logger.Info("backend %s transitioned from PROBING to UP after %d consecutive successes", b.ID, b.consecutiveSuccesses)
			}
		case StateUp:
		}
	}

	if oldState != b.state {
		logger.Info("backend %s state changed: %s -> %s", b.ID, oldState, b.state)
	}
}

func setBackendState(m *Manager, b *Backend, state BackendState) {
	b.state = state
	m.metrics.BackendState.WithLabelValues(b.ID).Set(b.state.ToFloat64())
}
