package routing

import (
	"context"

	"s3proxy/apigw"
)

// WriteMode is the Write Strategy Engine's replication policy for one write operation.
type WriteMode string

const (
	// AsyncReplication acknowledges after the primary write succeeds and
	// replicates to secondaries via a background Replication Task.
	AsyncReplication WriteMode = "ASYNC_REPLICATION"
	// MultiSync tees the request body to every live backend and only
	// acknowledges once all of them have confirmed the write.
	MultiSync WriteMode = "MULTI_SYNC"
)

// ReadMode is the Read Strategy Engine's backend-selection policy for one read operation.
type ReadMode string

const (
	// PrimaryOnly serves exclusively from the primary backend.
	PrimaryOnly ReadMode = "PRIMARY_ONLY"
	// PrimaryFallback tries the primary first, then each secondary in declaration order.
	PrimaryFallback ReadMode = "PRIMARY_FALLBACK"
	// BestEffort races every live backend and returns the first success.
	BestEffort ReadMode = "BEST_EFFORT"
	// AllConsistent reads from every live backend and fails the request if
	// their results diverge, otherwise returning the primary's result.
	AllConsistent ReadMode = "ALL_CONSISTENT"
)

// WriteOperationPolicy configures how a write operation is replicated.
type WriteOperationPolicy struct {
	Mode WriteMode `yaml:"mode"`
}

// ReadOperationPolicy configures how a read operation selects its source backend.
type ReadOperationPolicy struct {
	Mode ReadMode `yaml:"mode"`
}

// ReplicationExecutor is the Write Strategy Engine surface the router dispatches to.
type ReplicationExecutor interface {
	PutObject(ctx context.Context, req *apigw.S3Request, policy WriteOperationPolicy) *apigw.S3Response
	DeleteObject(ctx context.Context, req *apigw.S3Request, policy WriteOperationPolicy) *apigw.S3Response

	CreateMultipartUpload(ctx context.Context, req *apigw.S3Request, policy WriteOperationPolicy) *apigw.S3Response
	UploadPart(ctx context.Context, req *apigw.S3Request, policy WriteOperationPolicy) *apigw.S3Response
	CompleteMultipartUpload(ctx context.Context, req *apigw.S3Request, policy WriteOperationPolicy) *apigw.S3Response
	AbortMultipartUpload(ctx context.Context, req *apigw.S3Request, policy WriteOperationPolicy) *apigw.S3Response
}

// FetchingExecutor is the Read Strategy Engine surface the router dispatches to.
type FetchingExecutor interface {
	GetObject(ctx context.Context, req *apigw.S3Request, policy ReadOperationPolicy) *apigw.S3Response
	HeadObject(ctx context.Context, req *apigw.S3Request, policy ReadOperationPolicy) *apigw.S3Response
	HeadBucket(ctx context.Context, req *apigw.S3Request) *apigw.S3Response

	// ListObjects always serves from a single backend — see DESIGN.md: listings are never merged.
	ListObjects(ctx context.Context, req *apigw.S3Request, policy ReadOperationPolicy) *apigw.S3Response
	ListBuckets(ctx context.Context, req *apigw.S3Request) *apigw.S3Response
	ListMultipartUploads(ctx context.Context, req *apigw.S3Request) *apigw.S3Response
}

// Policies holds the per-operation-class policy configuration.
type Policies struct {
	Put    WriteOperationPolicy `yaml:"put"`
	Delete WriteOperationPolicy `yaml:"delete"`
	Get    ReadOperationPolicy  `yaml:"get"`
}

// Config is the Policy & Routing Engine's configuration.
type Config struct {
	Policies Policies `yaml:"policies"`
}

// DefaultConfig returns the spec's default policy set.
func DefaultConfig() *Config {
	return &Config{
		Policies: Policies{
			Put:    WriteOperationPolicy{Mode: AsyncReplication},
			Delete: WriteOperationPolicy{Mode: AsyncReplication},
			Get:    ReadOperationPolicy{Mode: PrimaryFallback},
		},
	}
}
