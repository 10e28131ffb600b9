package replicator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"s3proxy/apigw"
	"s3proxy/backend"
	"s3proxy/logger"
)

// performDeleteAsync deletes from the primary synchronously and schedules a
// background Replication Task to delete from the secondaries.
func (r *Replicator) performDeleteAsync(opCtx *operationContext, req *apigw.S3Request) *apigw.S3Response {
	primary, ok := r.backendProvider.GetPrimary()
	if !ok {
		return r.noBackendsResponse()
	}

	result := r.performDeleteFromBackend(opCtx.ctx, primary, req)
	r.reportBackendResult(result)
	if result.Err != nil {
		return r.errorResponseFromResult(result)
	}

	secondaries := r.liveSecondaries(primary)
	if len(secondaries) > 0 {
		go r.runDeleteReplicationTask(secondaries, req)
	}

	return r.convertDeleteResultToResponse(result)
}

// performDeleteMultiSync deletes from every live backend and blocks until
// all of them have responded.
func (r *Replicator) performDeleteMultiSync(opCtx *operationContext, req *apigw.S3Request) *apigw.S3Response {
	backends := r.backendProvider.GetLiveBackends()
	if len(backends) == 0 {
		return r.noBackendsResponse()
	}

	resultsChan := make(chan *backend.BackendResult, len(backends))

	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b *backend.Backend) {
			defer wg.Done()

			r.semaphore <- struct{}{}
			defer func() { <-r.semaphore }()

			result := r.performDeleteFromBackend(opCtx.ctx, b, req)
			r.reportBackendResult(result)
			resultsChan <- result
		}(b)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var results []*backend.BackendResult
	for result := range resultsChan {
		results = append(results, result)
	}

	return r.aggregateDeleteMultiSyncResults(results)
}

// runDeleteReplicationTask retries a DELETE against each secondary with
// exponential backoff. Unlike PUT there's no body to re-fetch, so a plain
// retry loop per secondary is enough.
func (r *Replicator) runDeleteReplicationTask(secondaries []*backend.Backend, req *apigw.S3Request) {
	var wg sync.WaitGroup
	for _, secondary := range secondaries {
		wg.Add(1)
		go func(secondary *backend.Backend) {
			defer wg.Done()
			r.replicateDeleteToSecondary(secondary, req)
		}(secondary)
	}
	wg.Wait()
}

func (r *Replicator) replicateDeleteToSecondary(secondary *backend.Backend, req *apigw.S3Request) {
	var lastErr error
	for attempt := 0; attempt < r.config.ReplicationTaskMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, r.config.ReplicationTaskInitialBackoff, r.config.ReplicationTaskMaxBackoff)
			time.Sleep(delay)
		}

		result := r.performDeleteFromBackend(context.Background(), secondary, req)
		r.reportBackendResult(result)
		if result.Err == nil {
			logger.Debug("replicateDeleteToSecondary: replicated delete of %s/%s to %s on attempt %d", req.Bucket, req.Key, secondary.ID, attempt+1)
			return
		}
		lastErr = result.Err
	}

	logger.Error("replicateDeleteToSecondary: giving up on %s/%s for backend %s after %d attempts: %v", req.Bucket, req.Key, secondary.ID, r.config.ReplicationTaskMaxAttempts, lastErr)
}

func (r *Replicator) performDeleteFromBackend(ctx context.Context, b *backend.Backend, req *apigw.S3Request) *backend.BackendResult {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.config.OperationTimeout)
	defer cancel()

	deleteInput := &s3.DeleteObjectInput{
		Bucket: aws.String(b.Config.Bucket),
		Key:    aws.String(req.Key),
	}

	var response *s3.DeleteObjectOutput
	var err error

	for attempt := 0; attempt <= r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			logger.Debug("performDeleteFromBackend: retry attempt %d for backend %s", attempt, b.ID)
			time.Sleep(r.config.RetryDelay)
		}

		response, err = b.S3Client.DeleteObject(ctx, deleteInput)
		if err == nil {
			break
		}
		logger.Debug("performDeleteFromBackend: attempt %d failed for backend %s: %v", attempt+1, b.ID, err)
	}

	duration := time.Since(startTime)

	if err != nil {
		logger.Error("performDeleteFromBackend: failed on backend %s after %d attempts: %v", b.ID, r.config.RetryAttempts+1, err)
	} else {
		logger.Debug("performDeleteFromBackend: success on backend %s, duration=%v", b.ID, duration)
	}

	return &backend.BackendResult{
		BackendID:  b.ID,
		Response:   response,
		Err:        err,
		Duration:   duration,
		Method:     "DELETE",
		StatusCode: http.StatusNoContent,
	}
}

// aggregateDeleteMultiSyncResults requires every backend to succeed.
func (r *Replicator) aggregateDeleteMultiSyncResults(results []*backend.BackendResult) *apigw.S3Response {
	var worst *backend.BackendResult
	var anySuccess *backend.BackendResult

	for _, result := range results {
		if result.Err != nil {
			if worst == nil || backend.MoreSevere(backend.Classify(result.Err), backend.Classify(worst.Err)) {
				worst = result
			}
			continue
		}
		if anySuccess == nil {
			anySuccess = result
		}
	}

	if worst != nil {
		logger.Error("aggregateDeleteMultiSyncResults: failed to delete object from all backends: %v", worst.Err)
		return r.errorResponseFromResult(worst)
	}

	return r.convertDeleteResultToResponse(anySuccess)
}

// convertDeleteResultToResponse builds the client-facing response for a
// successful DELETE.
func (r *Replicator) convertDeleteResultToResponse(result *backend.BackendResult) *apigw.S3Response {
	headers := make(http.Header)

	if deleteOutput, ok := result.Response.(*s3.DeleteObjectOutput); ok {
		if deleteOutput.VersionId != nil {
			headers.Set("x-amz-version-id", *deleteOutput.VersionId)
		}
		if deleteOutput.DeleteMarker != nil && *deleteOutput.DeleteMarker {
			headers.Set("x-amz-delete-marker", "true")
		}
	}

	return &apigw.S3Response{
		StatusCode: http.StatusNoContent,
		Headers:    headers,
	}
}
