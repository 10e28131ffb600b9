package replicator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"s3proxy/apigw"
	"s3proxy/backend"
	"s3proxy/logger"
	"s3proxy/routing"
)

// Replicator implements routing.ReplicationExecutor, the Write Strategy Engine.
type Replicator struct {
	backendProvider backend.BackendProvider
	readerCloner    ReaderCloner
	config          *Config

	// bounds the number of concurrent backend operations in flight
	semaphore chan struct{}
}

// NewReplicator builds a Replicator bound to the given Backend Registry.
func NewReplicator(provider backend.BackendProvider, config *Config) *Replicator {
	if config == nil {
		config = DefaultConfig()
	}

	replicator := &Replicator{
		backendProvider: provider,
		readerCloner:    &PipeReaderCloner{},
		config:          config,
		semaphore:       make(chan struct{}, config.MaxConcurrentOperations),
	}

	logger.Info("Replicator initialized with config: max_concurrent=%d, timeout=%v",
		config.MaxConcurrentOperations, config.OperationTimeout)

	return replicator
}

// PutObject implements the Write Strategy Engine for object uploads.
func (r *Replicator) PutObject(ctx context.Context, req *apigw.S3Request, policy routing.WriteOperationPolicy) *apigw.S3Response {
	opCtx := newOperationContext(ctx, "PUT_OBJECT", req.Bucket, req.Key)
	logger.Debug("PutObject: bucket=%s, key=%s, policy=%+v", req.Bucket, req.Key, policy)

	switch policy.Mode {
	case routing.AsyncReplication:
		return r.performPutAsync(opCtx, req)
	case routing.MultiSync:
		return r.performPutMultiSync(opCtx, req)
	default:
		return r.unknownModeResponse(policy.Mode)
	}
}

// DeleteObject implements the Write Strategy Engine for object deletion.
func (r *Replicator) DeleteObject(ctx context.Context, req *apigw.S3Request, policy routing.WriteOperationPolicy) *apigw.S3Response {
	opCtx := newOperationContext(ctx, "DELETE_OBJECT", req.Bucket, req.Key)
	logger.Debug("DeleteObject: bucket=%s, key=%s, policy=%+v", req.Bucket, req.Key, policy)

	switch policy.Mode {
	case routing.AsyncReplication:
		return r.performDeleteAsync(opCtx, req)
	case routing.MultiSync:
		return r.performDeleteMultiSync(opCtx, req)
	default:
		return r.unknownModeResponse(policy.Mode)
	}
}

// CreateMultipartUpload is a primary-only passthrough: multipart state lives
// entirely on the primary backend, so the proxy's upload ID is the primary's
// own (see DESIGN.md — no cross-backend multipart coordinator).
func (r *Replicator) CreateMultipartUpload(ctx context.Context, req *apigw.S3Request, policy routing.WriteOperationPolicy) *apigw.S3Response {
	primary, ok := r.backendProvider.GetPrimary()
	if !ok {
		return r.noBackendsResponse()
	}

	result := r.performCreateMultipartUpload(ctx, primary, req)
	r.reportBackendResult(result)
	if result.Err != nil {
		return r.errorResponseFromResult(result)
	}
	return r.convertCreateMultipartResultToResponse(req, result)
}

func (r *Replicator) UploadPart(ctx context.Context, req *apigw.S3Request, policy routing.WriteOperationPolicy) *apigw.S3Response {
	primary, ok := r.backendProvider.GetPrimary()
	if !ok {
		return r.noBackendsResponse()
	}

	uploadID := req.Query.Get("uploadId")
	partNumber := req.Query.Get("partNumber")

	result := r.performUploadPartToBackend(ctx, primary, req, req.Body, uploadID, partNumber)
	r.reportBackendResult(result)
	if result.Err != nil {
		return r.errorResponseFromResult(result)
	}
	return r.convertUploadPartResultToResponse(result)
}

func (r *Replicator) CompleteMultipartUpload(ctx context.Context, req *apigw.S3Request, policy routing.WriteOperationPolicy) *apigw.S3Response {
	primary, ok := r.backendProvider.GetPrimary()
	if !ok {
		return r.noBackendsResponse()
	}

	uploadID := req.Query.Get("uploadId")

	result := r.performCompleteMultipartUploadToBackend(ctx, primary, req, uploadID)
	r.reportBackendResult(result)
	if result.Err != nil {
		return r.errorResponseFromResult(result)
	}
	return r.convertCompleteMultipartUploadResultToResponse(result)
}

func (r *Replicator) AbortMultipartUpload(ctx context.Context, req *apigw.S3Request, policy routing.WriteOperationPolicy) *apigw.S3Response {
	primary, ok := r.backendProvider.GetPrimary()
	if !ok {
		return &apigw.S3Response{StatusCode: http.StatusNoContent}
	}

	uploadID := req.Query.Get("uploadId")
	result := r.performAbortMultipartUploadToBackend(ctx, primary, req, uploadID)
	r.reportBackendResult(result)

	return &apigw.S3Response{StatusCode: http.StatusNoContent}
}

func (r *Replicator) unknownModeResponse(mode routing.WriteMode) *apigw.S3Response {
	return r.createErrorResponse(http.StatusInternalServerError, "InternalError", fmt.Sprintf("unknown write mode: %s", mode))
}

func (r *Replicator) noBackendsResponse() *apigw.S3Response {
	return r.createErrorResponse(http.StatusServiceUnavailable, "ServiceUnavailable", "no backend available")
}

func (r *Replicator) errorResponseFromResult(result *backend.BackendResult) *apigw.S3Response {
	if result.StatusCode == http.StatusBadRequest {
		return r.createErrorResponse(http.StatusBadRequest, "InvalidRequest", result.Err.Error())
	}

	class := backend.Classify(result.Err)
	status := http.StatusInternalServerError
	switch class {
	case backend.ClassNotFound:
		status = http.StatusNotFound
	case backend.ClassAuthFailure:
		status = http.StatusForbidden
	case backend.ClassThrottled:
		status = http.StatusTooManyRequests
	case backend.ClassTransient:
		status = http.StatusServiceUnavailable
	case backend.ClassPermanent, backend.ClassIntegrity:
		status = http.StatusBadRequest
	}
	return r.createErrorResponse(status, "InternalError", result.Err.Error())
}

// createErrorResponse builds an S3 XML error body.
func (r *Replicator) createErrorResponse(statusCode int, errorCode, message string) *apigw.S3Response {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Error>
    <Code>%s</Code>
    <Message>%s</Message>
</Error>`, errorCode, message)

	headers := make(http.Header)
	headers.Set("Content-Type", "application/xml")
	headers.Set("Content-Length", fmt.Sprintf("%d", len(body)))

	return &apigw.S3Response{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// reportBackendResult forwards a backend outcome to the health monitor.
func (r *Replicator) reportBackendResult(result *backend.BackendResult) {
	if result.Err != nil {
		r.backendProvider.ReportFailure(result)
	} else {
		r.backendProvider.ReportSuccess(result)
	}
}
