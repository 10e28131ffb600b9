package replicator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"s3proxy/apigw"
	"s3proxy/backend"
	"s3proxy/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// performPutAsync writes to the primary synchronously and, once that
// succeeds, hands the object off to a background Replication Task that
// propagates it to the secondaries. The client only waits on the primary.
func (r *Replicator) performPutAsync(opCtx *operationContext, req *apigw.S3Request) *apigw.S3Response {
	primary, ok := r.backendProvider.GetPrimary()
	if !ok {
		return r.noBackendsResponse()
	}

	result := r.performPutToBackend(opCtx.ctx, primary, req, req.Body)
	r.reportBackendResult(result)
	if result.Err != nil {
		return r.errorResponseFromResult(result)
	}

	secondaries := r.liveSecondaries(primary)
	if len(secondaries) > 0 {
		go r.runPutReplicationTask(primary, secondaries, req.Bucket, req.Key, req.Headers)
	}

	return r.convertPutResultToResponse(result)
}

// performPutMultiSync tees the request body to every live backend and blocks
// until all of them have responded, surfacing the worst failure observed.
func (r *Replicator) performPutMultiSync(opCtx *operationContext, req *apigw.S3Request) *apigw.S3Response {
	backends := r.backendProvider.GetLiveBackends()
	if len(backends) == 0 {
		return r.noBackendsResponse()
	}
	primary, ok := r.backendProvider.GetPrimary()
	if !ok {
		return r.noBackendsResponse()
	}

	readers, err := r.readerCloner.Clone(req.Body, len(backends))
	if err != nil {
		logger.Error("performPutMultiSync: failed to clone reader: %v", err)
		return r.createErrorResponse(http.StatusInternalServerError, "InternalError", "failed to prepare request body")
	}

	resultsChan := make(chan *backend.BackendResult, len(backends))

	var wg sync.WaitGroup
	for i, b := range backends {
		wg.Add(1)
		go func(b *backend.Backend, reader io.Reader) {
			defer wg.Done()

			r.semaphore <- struct{}{}
			defer func() { <-r.semaphore }()

			result := r.performPutToBackend(opCtx.ctx, b, req, reader)
			r.reportBackendResult(result)
			resultsChan <- result
		}(b, readers[i])
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var results []*backend.BackendResult
	for result := range resultsChan {
		results = append(results, result)
	}

	return r.aggregateMultiSyncResults(results, primary.ID, "replicate object to all backends")
}

// runPutReplicationTask re-reads the object from the primary once per
// secondary and retries each with exponential backoff, since the client's
// own request body is already consumed by the primary write.
func (r *Replicator) runPutReplicationTask(primary *backend.Backend, secondaries []*backend.Backend, bucket, key string, headers http.Header) {
	var wg sync.WaitGroup
	for _, secondary := range secondaries {
		wg.Add(1)
		go func(secondary *backend.Backend) {
			defer wg.Done()
			r.replicatePutToSecondary(primary, secondary, bucket, key, headers)
		}(secondary)
	}
	wg.Wait()
}

func (r *Replicator) replicatePutToSecondary(primary, secondary *backend.Backend, bucket, key string, headers http.Header) {
	var lastErr error
	for attempt := 0; attempt < r.config.ReplicationTaskMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, r.config.ReplicationTaskInitialBackoff, r.config.ReplicationTaskMaxBackoff)
			time.Sleep(delay)
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.config.OperationTimeout)
		getOutput, err := primary.S3Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(primary.Config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			cancel()
			lastErr = err
			logger.Error("replicatePutToSecondary: attempt %d failed to re-read %s/%s from primary %s: %v", attempt+1, bucket, key, primary.ID, err)
			continue
		}

		fakeReq := &apigw.S3Request{Bucket: bucket, Key: key, Headers: headers, ContentLength: aws.ToInt64(getOutput.ContentLength)}
		result := r.performPutToBackend(ctx, secondary, fakeReq, getOutput.Body)
		getOutput.Body.Close()
		cancel()

		r.reportBackendResult(result)
		if result.Err == nil {
			logger.Debug("replicatePutToSecondary: replicated %s/%s to %s on attempt %d", bucket, key, secondary.ID, attempt+1)
			return
		}
		lastErr = result.Err
	}

	logger.Error("replicatePutToSecondary: giving up on %s/%s for backend %s after %d attempts: %v", bucket, key, secondary.ID, r.config.ReplicationTaskMaxAttempts, lastErr)
}

// liveSecondaries returns every live backend other than primary.
func (r *Replicator) liveSecondaries(primary *backend.Backend) []*backend.Backend {
	var secondaries []*backend.Backend
	for _, b := range r.backendProvider.GetLiveBackends() {
		if b.ID != primary.ID {
			secondaries = append(secondaries, b)
		}
	}
	return secondaries
}

func (r *Replicator) performPutToBackend(ctx context.Context, b *backend.Backend, req *apigw.S3Request, body io.Reader) *backend.BackendResult {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.config.OperationTimeout)
	defer cancel()

	countingReader := NewCountingReader(body)

	// client selection happens before putInput is built so it doesn't race
	// with the retry loop's body rewind below.
	isStreamingClient := b.StreamingPutClient != nil
	clientToUse := b.S3Client
	if isStreamingClient {
		clientToUse = b.StreamingPutClient
	}

	putInput := &s3.PutObjectInput{
		Bucket: aws.String(b.Config.Bucket),
		Key:    aws.String(req.Key),
		Body:   countingReader,
	}

	if req.ContentLength > 0 {
		putInput.ContentLength = aws.Int64(req.ContentLength)
	}

	metadata := make(map[string]string)
	for key, values := range req.Headers {
		if len(values) == 0 {
			continue
		}
		canonicalKey := http.CanonicalHeaderKey(key)
		value := values[0]

		switch canonicalKey {
		case "Content-Type":
			putInput.ContentType = aws.String(value)
		case "Content-Encoding":
			putInput.ContentEncoding = aws.String(value)
		case "Content-Md5":
			putInput.ContentMD5 = aws.String(value)
		case "Cache-Control":
			putInput.CacheControl = aws.String(value)
		case "X-Amz-Storage-Class":
			putInput.StorageClass = types.StorageClass(value)
		case "X-Amz-Content-Sha256":
			if !isStreamingClient {
				putInput.ChecksumSHA256 = aws.String(value)
			}
		case "Authorization", "X-Amz-Date", "Host", "Content-Length":
			continue
		default:
			if strings.HasPrefix(canonicalKey, "X-Amz-Meta-") {
				metaKey := strings.TrimPrefix(canonicalKey, "X-Amz-Meta-")
				metadata[strings.ToLower(metaKey)] = value
			}
		}
	}

	if len(metadata) > 0 {
		putInput.Metadata = metadata
	}

	var response *s3.PutObjectOutput
	var err error

	for attempt := 0; attempt <= r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			if seeker, ok := putInput.Body.(io.Seeker); ok {
				_, _ = seeker.Seek(0, io.SeekStart)
			}
			logger.Debug("performPutToBackend: retry attempt %d for backend %s", attempt, b.ID)
			time.Sleep(r.config.RetryDelay)
		}

		response, err = clientToUse.PutObject(ctx, putInput)
		if err == nil {
			break
		}
		logger.Debug("performPutToBackend: attempt %d failed for backend %s: %v", attempt+1, b.ID, err)

		var responseError interface {
			HTTPStatusCode() int
		}
		if errors.As(err, &responseError) {
			if responseError.HTTPStatusCode() >= 400 && responseError.HTTPStatusCode() < 500 {
				break
			}
		}
	}

	duration := time.Since(startTime)
	bytesWritten := countingReader.Count()

	if err != nil {
		logger.Error("performPutToBackend: failed on backend %s after retries: %v", b.ID, err)
	} else {
		logger.Debug("performPutToBackend: success on backend %s, bytes=%d, duration=%v", b.ID, bytesWritten, duration)
	}

	return &backend.BackendResult{
		BackendID:    b.ID,
		Method:       "PUT",
		Response:     response,
		Err:          err,
		Duration:     duration,
		BytesWritten: bytesWritten,
	}
}

// aggregateMultiSyncResults requires every backend to succeed; on any
// failure it returns the most severe error observed, classified per
// backend.Classify/MoreSevere rather than just the last error seen. On
// success the client sees the primary's result specifically, not whichever
// backend's write happened to land first in the channel.
func (r *Replicator) aggregateMultiSyncResults(results []*backend.BackendResult, primaryID, failureMsg string) *apigw.S3Response {
	var worst *backend.BackendResult
	var primaryResult *backend.BackendResult

	for _, result := range results {
		if result.Err != nil {
			if worst == nil || backend.MoreSevere(backend.Classify(result.Err), backend.Classify(worst.Err)) {
				worst = result
			}
			continue
		}
		if result.BackendID == primaryID {
			primaryResult = result
		}
	}

	if worst != nil {
		logger.Error("aggregateMultiSyncResults: failed to %s: %v", failureMsg, worst.Err)
		return r.errorResponseFromResult(worst)
	}

	if primaryResult == nil {
		logger.Error("aggregateMultiSyncResults: primary backend %s missing from results for %s", primaryID, failureMsg)
		return r.createErrorResponse(http.StatusInternalServerError, "InternalError", "primary backend result missing")
	}

	return r.convertPutResultToResponse(primaryResult)
}

// convertPutResultToResponse builds the client-facing response for a
// successful PUT.
func (r *Replicator) convertPutResultToResponse(result *backend.BackendResult) *apigw.S3Response {
	headers := make(http.Header)

	if putOutput, ok := result.Response.(*s3.PutObjectOutput); ok {
		if putOutput.ETag != nil {
			headers.Set("ETag", *putOutput.ETag)
		}
		if putOutput.VersionId != nil {
			headers.Set("x-amz-version-id", *putOutput.VersionId)
		}
	}

	return &apigw.S3Response{
		StatusCode: http.StatusOK,
		Headers:    headers,
	}
}
