package replicator

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"s3proxy/apigw"
	"s3proxy/backend"
	"s3proxy/logger"
)

// Multipart uploads live entirely on the primary backend: the state S3
// tracks for an in-progress upload (parts, their ETags, the final assembly)
// is backend-local, so there is nothing to fan out or reconcile across
// secondaries. The proxy's upload ID is simply the primary's own.

// performCreateMultipartUpload issues CreateMultipartUpload against one backend.
func (r *Replicator) performCreateMultipartUpload(ctx context.Context, b *backend.Backend, req *apigw.S3Request) *backend.BackendResult {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.config.OperationTimeout)
	defer cancel()

	createInput := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.Config.Bucket),
		Key:    aws.String(req.Key),
	}

	if contentType := req.Headers.Get("Content-Type"); contentType != "" {
		createInput.ContentType = aws.String(contentType)
	}
	if contentEncoding := req.Headers.Get("Content-Encoding"); contentEncoding != "" {
		createInput.ContentEncoding = aws.String(contentEncoding)
	}
	if storageClass := req.Headers.Get("X-Amz-Storage-Class"); storageClass != "" {
		createInput.StorageClass = types.StorageClass(storageClass)
	}

	var response *s3.CreateMultipartUploadOutput
	var err error

	for attempt := 0; attempt <= r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			logger.Debug("performCreateMultipartUpload: retry attempt %d for backend %s", attempt, b.ID)
			time.Sleep(r.config.RetryDelay)
		}

		response, err = b.S3Client.CreateMultipartUpload(ctx, createInput)
		if err == nil {
			break
		}
		logger.Debug("performCreateMultipartUpload: attempt %d failed for backend %s: %v", attempt+1, b.ID, err)
	}

	duration := time.Since(startTime)

	if err != nil {
		logger.Error("performCreateMultipartUpload: failed on backend %s after %d attempts: %v", b.ID, r.config.RetryAttempts+1, err)
	} else {
		logger.Debug("performCreateMultipartUpload: success on backend %s, uploadId=%s, duration=%v", b.ID, aws.ToString(response.UploadId), duration)
	}

	return &backend.BackendResult{
		BackendID:  b.ID,
		Response:   response,
		Err:        err,
		Duration:   duration,
		Method:     "PUT",
		StatusCode: http.StatusOK,
	}
}

func (r *Replicator) convertCreateMultipartResultToResponse(req *apigw.S3Request, result *backend.BackendResult) *apigw.S3Response {
	output, ok := result.Response.(*s3.CreateMultipartUploadOutput)
	if !ok || output.UploadId == nil {
		return r.createErrorResponse(http.StatusInternalServerError, "InternalError", "backend did not return an upload ID")
	}

	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<InitiateMultipartUploadResult>
    <Bucket>%s</Bucket>
    <Key>%s</Key>
    <UploadId>%s</UploadId>
</InitiateMultipartUploadResult>`, req.Bucket, req.Key, *output.UploadId)

	headers := make(http.Header)
	headers.Set("Content-Type", "application/xml")
	headers.Set("Content-Length", fmt.Sprintf("%d", len(body)))

	return &apigw.S3Response{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// performUploadPartToBackend issues UploadPart against one backend, using
// uploadID verbatim as the native upload ID the primary handed out.
func (r *Replicator) performUploadPartToBackend(ctx context.Context, b *backend.Backend, req *apigw.S3Request, body io.Reader, uploadID, partNumber string) *backend.BackendResult {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.config.OperationTimeout)
	defer cancel()

	partNum, err := strconv.ParseInt(partNumber, 10, 32)
	if err != nil {
		return &backend.BackendResult{
			BackendID:  b.ID,
			Err:        fmt.Errorf("invalid part number: %s", partNumber),
			Duration:   time.Since(startTime),
			Method:     "PUT",
			StatusCode: http.StatusBadRequest,
		}
	}

	countingReader := NewCountingReader(body)

	uploadInput := &s3.UploadPartInput{
		Bucket:     aws.String(b.Config.Bucket),
		Key:        aws.String(req.Key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNum)),
		Body:       countingReader,
	}

	if req.ContentLength > 0 {
		uploadInput.ContentLength = aws.Int64(req.ContentLength)
	}

	var response *s3.UploadPartOutput

	for attempt := 0; attempt <= r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			if seeker, ok := uploadInput.Body.(io.Seeker); ok {
				_, _ = seeker.Seek(0, io.SeekStart)
			}
			logger.Debug("performUploadPartToBackend: retry attempt %d for backend %s", attempt, b.ID)
			time.Sleep(r.config.RetryDelay)
		}

		response, err = b.S3Client.UploadPart(ctx, uploadInput)
		if err == nil {
			break
		}
		logger.Debug("performUploadPartToBackend: attempt %d failed for backend %s: %v", attempt+1, b.ID, err)
	}

	duration := time.Since(startTime)
	bytesWritten := countingReader.Count()

	if err != nil {
		logger.Error("performUploadPartToBackend: failed on backend %s after %d attempts: %v", b.ID, r.config.RetryAttempts+1, err)
	} else {
		logger.Debug("performUploadPartToBackend: success on backend %s, bytes=%d, duration=%v", b.ID, bytesWritten, duration)
	}

	return &backend.BackendResult{
		BackendID:    b.ID,
		Response:     response,
		Err:          err,
		Duration:     duration,
		BytesWritten: bytesWritten,
		Method:       "PUT",
		StatusCode:   http.StatusOK,
	}
}

func (r *Replicator) convertUploadPartResultToResponse(result *backend.BackendResult) *apigw.S3Response {
	headers := make(http.Header)

	if uploadOutput, ok := result.Response.(*s3.UploadPartOutput); ok {
		if uploadOutput.ETag != nil {
			headers.Set("ETag", *uploadOutput.ETag)
		}
	}

	return &apigw.S3Response{
		StatusCode: http.StatusOK,
		Headers:    headers,
	}
}

// completeMultipartUploadRequest mirrors the XML body S3 clients send to
// CompleteMultipartUpload: the ordered list of parts and their ETags.
type completeMultipartUploadRequest struct {
	XMLName xml.Name `xml:"CompleteMultipartUpload"`
	Parts   []struct {
		PartNumber int32  `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
	} `xml:"Part"`
}

func parseCompletedParts(body io.Reader) ([]types.CompletedPart, error) {
	var parsed completeMultipartUploadRequest
	if err := xml.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse CompleteMultipartUpload body: %w", err)
	}

	parts := make([]types.CompletedPart, 0, len(parsed.Parts))
	for _, p := range parsed.Parts {
		parts = append(parts, types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		})
	}
	return parts, nil
}

// performCompleteMultipartUploadToBackend issues CompleteMultipartUpload
// against one backend, using the part list the client sent in its request body.
func (r *Replicator) performCompleteMultipartUploadToBackend(ctx context.Context, b *backend.Backend, req *apigw.S3Request, uploadID string) *backend.BackendResult {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.config.OperationTimeout)
	defer cancel()

	completedParts, err := parseCompletedParts(req.Body)
	if err != nil {
		return &backend.BackendResult{
			BackendID:  b.ID,
			Err:        err,
			Duration:   time.Since(startTime),
			Method:     "POST",
			StatusCode: http.StatusBadRequest,
		}
	}

	completeInput := &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(b.Config.Bucket),
		Key:      aws.String(req.Key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	}

	var response *s3.CompleteMultipartUploadOutput

	for attempt := 0; attempt <= r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			logger.Debug("performCompleteMultipartUploadToBackend: retry attempt %d for backend %s", attempt, b.ID)
			time.Sleep(r.config.RetryDelay)
		}

		response, err = b.S3Client.CompleteMultipartUpload(ctx, completeInput)
		if err == nil {
			break
		}
		logger.Debug("performCompleteMultipartUploadToBackend: attempt %d failed for backend %s: %v", attempt+1, b.ID, err)
	}

	duration := time.Since(startTime)

	if err != nil {
		logger.Error("performCompleteMultipartUploadToBackend: failed on backend %s after %d attempts: %v", b.ID, r.config.RetryAttempts+1, err)
	} else {
		logger.Debug("performCompleteMultipartUploadToBackend: success on backend %s, duration=%v", b.ID, duration)
	}

	return &backend.BackendResult{
		BackendID:  b.ID,
		Response:   response,
		Err:        err,
		Duration:   duration,
		Method:     "POST",
		StatusCode: http.StatusOK,
	}
}

func (r *Replicator) convertCompleteMultipartUploadResultToResponse(result *backend.BackendResult) *apigw.S3Response {
	headers := make(http.Header)

	completeOutput, ok := result.Response.(*s3.CompleteMultipartUploadOutput)
	if !ok {
		return &apigw.S3Response{StatusCode: http.StatusOK, Headers: headers}
	}

	if completeOutput.ETag != nil {
		headers.Set("ETag", *completeOutput.ETag)
	}
	if completeOutput.VersionId != nil {
		headers.Set("x-amz-version-id", *completeOutput.VersionId)
	}

	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<CompleteMultipartUploadResult>
    <Location>%s</Location>
    <Bucket>%s</Bucket>
    <Key>%s</Key>
    <ETag>%s</ETag>
</CompleteMultipartUploadResult>`,
		aws.ToString(completeOutput.Location),
		aws.ToString(completeOutput.Bucket),
		aws.ToString(completeOutput.Key),
		aws.ToString(completeOutput.ETag))

	headers.Set("Content-Type", "application/xml")
	headers.Set("Content-Length", fmt.Sprintf("%d", len(body)))

	return &apigw.S3Response{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// performAbortMultipartUploadToBackend issues AbortMultipartUpload against
// one backend.
func (r *Replicator) performAbortMultipartUploadToBackend(ctx context.Context, b *backend.Backend, req *apigw.S3Request, uploadID string) *backend.BackendResult {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.config.OperationTimeout)
	defer cancel()

	abortInput := &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.Config.Bucket),
		Key:      aws.String(req.Key),
		UploadId: aws.String(uploadID),
	}

	var response *s3.AbortMultipartUploadOutput
	var err error

	for attempt := 0; attempt <= r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			logger.Debug("performAbortMultipartUploadToBackend: retry attempt %d for backend %s", attempt, b.ID)
			time.Sleep(r.config.RetryDelay)
		}

		response, err = b.S3Client.AbortMultipartUpload(ctx, abortInput)
		if err == nil {
			break
		}
		logger.Debug("performAbortMultipartUploadToBackend: attempt %d failed for backend %s: %v", attempt+1, b.ID, err)
	}

	duration := time.Since(startTime)

	if err != nil {
		logger.Error("performAbortMultipartUploadToBackend: failed on backend %s after %d attempts: %v", b.ID, r.config.RetryAttempts+1, err)
	} else {
		logger.Debug("performAbortMultipartUploadToBackend: success on backend %s, duration=%v", b.ID, duration)
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
