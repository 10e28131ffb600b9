package replicator

import (
	"fmt"
	"time"
)

// Config controls the replication package's concurrency and retry behavior.
type Config struct {
	// MaxConcurrentOperations bounds the number of MULTI_SYNC backend writes
	// and deletes in flight. Primary writes, Replication Tasks and multipart
	// calls do not take a slot.
	MaxConcurrentOperations int `yaml:"max_concurrent_operations"`

	// OperationTimeout bounds a single backend call.
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// RetryAttempts is the number of retries for a synchronous backend write.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryDelay is the fixed delay between synchronous retry attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// BufferSize sizes the buffer used by streaming copy operations.
	BufferSize int `yaml:"buffer_size"`

	// ReplicationTaskMaxAttempts bounds retries of the background Replication
	// Task that propagates an ASYNC_REPLICATION write from the primary to
	// the secondaries.
	ReplicationTaskMaxAttempts int `yaml:"replication_task_max_attempts"`

	// ReplicationTaskInitialBackoff is the delay before the task's first retry.
	ReplicationTaskInitialBackoff time.Duration `yaml:"replication_task_initial_backoff"`

	// ReplicationTaskMaxBackoff caps the exponential backoff between retries.
	ReplicationTaskMaxBackoff time.Duration `yaml:"replication_task_max_backoff"`
}

// DefaultConfig returns the package's default tuning.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentOperations:       100,
		OperationTimeout:              30 * time.Second,
		RetryAttempts:                 3,
		RetryDelay:                    1 * time.Second,
		BufferSize:                    32 * 1024,
		ReplicationTaskMaxAttempts:    6,
		ReplicationTaskInitialBackoff: 1 * time.Second,
		ReplicationTaskMaxBackoff:     60 * time.Second,
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("max_concurrent_operations must be positive")
	}

	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation_timeout must be positive")
	}

	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be non-negative")
	}

	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must be non-negative")
	}

	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive")
	}

	if c.ReplicationTaskMaxAttempts <= 0 {
		return fmt.Errorf("replication_task_max_attempts must be positive")
	}

	if c.ReplicationTaskInitialBackoff <= 0 {
		return fmt.Errorf("replication_task_initial_backoff must be positive")
	}

	if c.ReplicationTaskMaxBackoff < c.ReplicationTaskInitialBackoff {
		return fmt.Errorf("replication_task_max_backoff must be at least replication_task_initial_backoff")
	}

	return nil
}
