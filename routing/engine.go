package routing

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"s3proxy/apigw"
	"s3proxy/auth"
	"s3proxy/logger"
)

// Engine is the Policy & Routing Engine implementation.
type Engine struct {
	auth       auth.Authenticator
	replicator ReplicationExecutor
	fetcher    FetchingExecutor

	putPolicy    WriteOperationPolicy
	deletePolicy WriteOperationPolicy
	getPolicy    ReadOperationPolicy
}

// NewEngine builds an Engine.
func NewEngine(
	authenticator auth.Authenticator,
	replicator ReplicationExecutor,
	fetcher FetchingExecutor,
	config *Config,
) *Engine {
	if config == nil {
		config = DefaultConfig()
	}

	return &Engine{
		auth:         authenticator,
		replicator:   replicator,
		fetcher:      fetcher,
		putPolicy:    config.Policies.Put,
		deletePolicy: config.Policies.Delete,
		getPolicy:    config.Policies.Get,
	}
}

// Handle implements RequestHandler. It is the module's entry point.
func (e *Engine) Handle(req *apigw.S3Request) *apigw.S3Response {
	logger.Debug("Policy & Routing Engine: handling request - Operation: %s, Bucket: %s, Key: %s",
		req.Operation, req.Bucket, req.Key)

	logger.Debug("Starting authentication")
	identity, err := e.auth.Authenticate(req)
	if err != nil {
		logger.Debug("Authentication failed: %v", err)
		return e.createAuthErrorResponse(err)
	}

	logger.Debug("Policy & Routing Engine received authenticated request:")
	logger.Debug("  User: %s (%s)", identity.DisplayName, identity.AccessKey)
	logger.Debug("  Operation: %s", req.Operation)
	logger.Debug("  Bucket: %s", req.Bucket)
	logger.Debug("  Key: %s", req.Key)

	logger.Debug("Authorization check passed (not implemented yet)")

	logger.Debug("Routing request based on operation: %s", req.Operation)

	switch req.Operation {
	case apigw.PutObject:
		logger.Debug("Routing to replicator.PutObject with policy: %+v", e.putPolicy)
		return e.replicator.PutObject(req.Context, req, e.putPolicy)

	case apigw.DeleteObject:
		logger.Debug("Routing to replicator.DeleteObject with policy: %+v", e.deletePolicy)
		return e.replicator.DeleteObject(req.Context, req, e.deletePolicy)

	case apigw.CreateMultipartUpload:
		logger.Debug("Routing to replicator.CreateMultipartUpload with policy: %+v", e.putPolicy)
		return e.replicator.CreateMultipartUpload(req.Context, req, e.putPolicy)

	case apigw.UploadPart:
		logger.Debug("Routing to replicator.UploadPart with policy: %+v", e.putPolicy)
		return e.replicator.UploadPart(req.Context, req, e.putPolicy)

	case apigw.CompleteMultipartUpload:
		logger.Debug("Routing to replicator.CompleteMultipartUpload with policy: %+v", e.putPolicy)
		return e.replicator.CompleteMultipartUpload(req.Context, req, e.putPolicy)

	case apigw.AbortMultipartUpload:
		logger.Debug("Routing to replicator.AbortMultipartUpload with policy: %+v", e.deletePolicy)
		return e.replicator.AbortMultipartUpload(req.Context, req, e.deletePolicy)

	case apigw.GetObject:
		logger.Debug("Routing to fetcher.GetObject with policy: %+v", e.getPolicy)
		return e.fetcher.GetObject(req.Context, req, e.getPolicy)

	case apigw.HeadObject:
		logger.Debug("Routing to fetcher.HeadObject with policy: %+v", e.getPolicy)
		return e.fetcher.HeadObject(req.Context, req, e.getPolicy)

	case apigw.HeadBucket:
		logger.Debug("Routing to fetcher.HeadBucket")
		return e.fetcher.HeadBucket(req.Context, req)

	case apigw.ListObjectsV2:
		logger.Debug("Routing to fetcher.ListObjects with policy: %+v", e.getPolicy)
		return e.fetcher.ListObjects(req.Context, req, e.getPolicy)

	case apigw.ListBuckets:
		logger.Debug("Routing to fetcher.ListBuckets")
		return e.fetcher.ListBuckets(req.Context, req)

	case apigw.ListMultipartUploads:
		logger.Debug("Routing to fetcher.ListMultipartUploads")
		return e.fetcher.ListMultipartUploads(req.Context, req)

	default:
		logger.Warn("Unsupported operation: %s", req.Operation)
		return e.createOperationNotImplementedResponse(req.Operation)
	}
}

// createAuthErrorResponse maps an authentication error to a standard S3Response.
func (e *Engine) createAuthErrorResponse(err error) *apigw.S3Response {
	var code string
	var message string
	var statusCode int

	logger.Debug("Creating auth error response for error: %v", err)

	switch {
	case errors.Is(err, auth.ErrMissingAuthHeader):
		code = "MissingSecurityHeader"
		message = "Your request was missing a required header."
		statusCode = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidAccessKeyID):
		code = "InvalidAccessKeyId"
		message = "The Access Key Id you provided does not exist in our records."
		statusCode = http.StatusForbidden
	case errors.Is(err, auth.ErrSignatureMismatch):
		code = "SignatureDoesNotMatch"
		message = "The request signature we calculated does not match the signature you provided."
		statusCode = http.StatusForbidden
	case errors.Is(err, auth.ErrRequestExpired):
		code = "RequestTimeTooSkewed"
		message = "The difference between the request time and the current time is too large."
		statusCode = http.StatusForbidden
	default:
		code = "AccessDenied"
		message = "Access Denied"
		statusCode = http.StatusForbidden
	}

	errorBody := e.formatS3ErrorXML(code, message)

	headers := make(http.Header)
	headers.Set("Content-Type", "application/xml")
	headers.Set("Content-Length", fmt.Sprintf("%d", len(errorBody)))

	return &apigw.S3Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(errorBody)),
		Headers:    headers,
	}
}

// createOperationNotImplementedResponse builds the response for an unsupported operation.
func (e *Engine) createOperationNotImplementedResponse(operation apigw.S3Operation) *apigw.S3Response {
	code := "NotImplemented"
	message := fmt.Sprintf("The operation %s is not implemented", operation)
	statusCode := http.StatusNotImplemented

	errorBody := e.formatS3ErrorXML(code, message)

	headers := make(http.Header)
	headers.Set("Content-Type", "application/xml")
	headers.Set("Content-Length", fmt.Sprintf("%d", len(errorBody)))

	return &apigw.S3Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(errorBody)),
		Headers:    headers,
	}
}

// formatS3ErrorXML formats an error in the standard S3 XML shape.
func (e *Engine) formatS3ErrorXML(code, message string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Error>
    <Code>%s</Code>
    <Message>%s</Message>
    <RequestId>%s</RequestId>
    <HostId>%s</HostId>
</Error>`, code, message, "policy-routing-engine", "s3proxy")
}
