package apigw

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"s3proxy/logger"
)

// RequestParser parses an http.Request into an S3Request.
type RequestParser struct{}

// NewRequestParser builds a RequestParser.
func NewRequestParser() *RequestParser {
	return &RequestParser{}
}

// Parse builds an S3Request from an http.Request.
func (p *RequestParser) Parse(r *http.Request) (*S3Request, error) {
	logger.Debug("Parsing HTTP request: %s %s", r.Method, r.URL.Path)
	logger.Debug("Query parameters: %v", r.URL.Query())
	logger.Debug("Request headers: %+v", r.Header)

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	// Proxies/load balancers terminate TLS upstream and signal it via this header.
	if r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}

	logger.Debug("Determined scheme: %s", scheme)

	s3req := &S3Request{
		Host:      r.Host,
		Scheme:    scheme,
		Headers:   r.Header.Clone(),
		Query:     r.URL.Query(),
		Body:      r.Body,
		Context:   r.Context(),
	}

	if contentLengthStr := r.Header.Get("Content-Length"); contentLengthStr != "" {
		if contentLength, err := strconv.ParseInt(contentLengthStr, 10, 64); err == nil {
			s3req.ContentLength = contentLength
			logger.Debug("Content-Length: %d", contentLength)
		}
	}

	if err := p.parsePath(r.URL.Path, s3req); err != nil {
		logger.Debug("Failed to parse path: %v", err)
		return nil, err
	}

	logger.Debug("Parsed path - Bucket: %s, Key: %s", s3req.Bucket, s3req.Key)

	if err := p.determineOperation(r.Method, s3req); err != nil {
		logger.Debug("Failed to determine operation: %v", err)
		return nil, err
	}

	logger.Debug("Determined operation: %s", s3req.Operation.String())
	logger.Debug("Created S3Request: %+v", s3req)
	return s3req, nil
}

// parsePath extracts the bucket and key from a URL path.
func (p *RequestParser) parsePath(path string, s3req *S3Request) error {
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		return nil
	}

	parts := strings.SplitN(path, "/", 2)
	s3req.Bucket = parts[0]

	if len(parts) > 1 {
		s3req.Key = parts[1]
	}

	return nil
}

// determineOperation determines the S3 operation from the HTTP method and query parameters.
func (p *RequestParser) determineOperation(method string, s3req *S3Request) error {
	query := s3req.Query

	switch method {
	case "GET":
		return p.determineGetOperation(s3req, query)
	case "PUT":
		return p.determinePutOperation(s3req, query)
	case "POST":
		return p.determinePostOperation(s3req, query)
	case "DELETE":
		return p.determineDeleteOperation(s3req, query)
	case "HEAD":
		return p.determineHeadOperation(s3req, query)
	default:
		s3req.Operation = UnsupportedOperation
		return fmt.Errorf("unsupported HTTP method: %s", method)
	}
}

// determineGetOperation determines which GET operation a request maps to.
func (p *RequestParser) determineGetOperation(s3req *S3Request, query map[string][]string) error {
	if _, hasUploads := query["uploads"]; hasUploads {
		s3req.Operation = ListMultipartUploads
		return nil
	}

	if s3req.Bucket == "" {
		s3req.Operation = ListBuckets
		return nil
	}

	if s3req.Key == "" || strings.HasSuffix(s3req.Key, "/") {
		s3req.Operation = ListObjectsV2
		return nil
	}

	s3req.Operation = GetObject
	return nil
}

// determinePutOperation determines which PUT operation a request maps to.
func (p *RequestParser) determinePutOperation(s3req *S3Request, query map[string][]string) error {
	if partNumber, hasPartNumber := query["partNumber"]; hasPartNumber {
		if uploadId, hasUploadId := query["uploadId"]; hasUploadId {
			if len(partNumber) > 0 && len(uploadId) > 0 {
				s3req.Operation = UploadPart
				return nil
			}
		}
	}

	if s3req.Bucket != "" && s3req.Key != "" {
		s3req.Operation = PutObject
		return nil
	}

	s3req.Operation = UnsupportedOperation
	return fmt.Errorf("unsupported PUT operation")
}

// determinePostOperation determines which POST operation a request maps to.
func (p *RequestParser) determinePostOperation(s3req *S3Request, query map[string][]string) error {
	if _, hasUploads := query["uploads"]; hasUploads {
		s3req.Operation = CreateMultipartUpload
		return nil
	}

	if uploadId, hasUploadId := query["uploadId"]; hasUploadId {
		if len(uploadId) > 0 {
			s3req.Operation = CompleteMultipartUpload
			return nil
		}
	}

	s3req.Operation = UnsupportedOperation
	return fmt.Errorf("unsupported POST operation")
}

// determineDeleteOperation determines which DELETE operation a request maps to.
func (p *RequestParser) determineDeleteOperation(s3req *S3Request, query map[string][]string) error {
	if uploadId, hasUploadId := query["uploadId"]; hasUploadId {
		if len(uploadId) > 0 {
			s3req.Operation = AbortMultipartUpload
			return nil
		}
	}

	if s3req.Bucket != "" && s3req.Key != "" {
		s3req.Operation = DeleteObject
		return nil
	}

	s3req.Operation = UnsupportedOperation
	return fmt.Errorf("unsupported DELETE operation")
}

// determineHeadOperation determines which HEAD operation a request maps to.
func (p *RequestParser) determineHeadOperation(s3req *S3Request, query map[string][]string) error {
	if s3req.Bucket != "" && s3req.Key != "" {
		s3req.Operation = HeadObject
		return nil
	}

	if s3req.Bucket != "" && s3req.Key == "" {
		s3req.Operation = HeadBucket
		return nil
	}

	s3req.Operation = UnsupportedOperation
	return fmt.Errorf("unsupported HEAD operation")
}
