package replicator

import (
	"context"
	"io"
	"time"

	"s3proxy/apigw"
	"s3proxy/backend"
)

// ReaderCloner clones a single io.Reader into count independent streams, one
// per backend, so a request body can be teed to several writers at once.
type ReaderCloner interface {
	Clone(reader io.Reader, count int) ([]io.Reader, error)
}

// PipeReaderCloner implements ReaderCloner over io.Pipe — the Streaming Bridge.
type PipeReaderCloner struct{}

// Clone fans reader out to count pipes, copying through a single MultiWriter
// goroutine so every backend sees the same bytes without buffering the whole
// body in memory.
func (c *PipeReaderCloner) Clone(reader io.Reader, count int) ([]io.Reader, error) {
	if count <= 0 {
		return nil, nil
	}
	if count == 1 {
		return []io.Reader{reader}, nil
	}

	pipes := make([]*io.PipeWriter, count)
	readers := make([]io.Reader, count)
	writers := make([]io.Writer, count)
	for i := 0; i < count; i++ {
		r, w := io.Pipe()
		pipes[i] = w
		readers[i] = r
		writers[i] = w
	}

	go func() {
		defer func() {
			for _, pipe := range pipes {
				pipe.Close()
			}
		}()

		_, err := io.Copy(io.MultiWriter(writers...), reader)
		if err != nil {
			for _, pipe := range pipes {
				pipe.CloseWithError(err)
			}
		}
	}()

	return readers, nil
}

// CountingReader wraps an io.Reader and counts the bytes that pass through it.
type CountingReader struct {
	reader io.Reader
	count  int64
}

func NewCountingReader(reader io.Reader) *CountingReader {
	return &CountingReader{reader: reader}
}

func (cr *CountingReader) Read(p []byte) (n int, err error) {
	n, err = cr.reader.Read(p)
	cr.count += int64(n)
	return n, err
}

func (cr *CountingReader) Count() int64 {
	return cr.count
}

// operationContext carries the request-scoped identifiers a replication
// operation logs against.
type operationContext struct {
	ctx       context.Context
	operation string
	bucket    string
	key       string
	startTime time.Time
}

func newOperationContext(ctx context.Context, operation, bucket, key string) *operationContext {
	return &operationContext{
		ctx:       ctx,
		operation: operation,
		bucket:    bucket,
		key:       key,
		startTime: time.Now(),
	}
}

func (oc *operationContext) Duration() time.Duration {
	return time.Since(oc.startTime)
}

// BackendOperation is one write performed against one backend.
type BackendOperation func(ctx context.Context, backend *backend.Backend, req *apigw.S3Request, body io.Reader) *backend.BackendResult
