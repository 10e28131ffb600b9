package routing

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"s3proxy/apigw"
	"s3proxy/auth"
)

// MockAuthenticator is a test double for auth.Authenticator.
type MockAuthenticator struct {
	shouldFail bool
	failError  error
}

func (m *MockAuthenticator) Authenticate(req *apigw.S3Request) (*auth.UserIdentity, error) {
	if m.shouldFail {
		return nil, m.failError
	}
	return &auth.UserIdentity{
		DisplayName: "test-user",
		AccessKey:   "test-access-key",
	}, nil
}

func TestNewEngine(t *testing.T) {
	auth := &MockAuthenticator{}
	replicator := NewMockReplicationExecutor()
	fetcher := NewMockFetchingExecutor()
	
	engine := NewEngine(auth, replicator, fetcher, nil)
	if engine == nil {
		t.Fatal("Expected engine to be created")
	}

	if engine.putPolicy.Mode != AsyncReplication {
		t.Errorf("Expected default put policy mode %q, got %q", AsyncReplication, engine.putPolicy.Mode)
	}

	if engine.deletePolicy.Mode != AsyncReplication {
		t.Errorf("Expected default delete policy mode %q, got %q", AsyncReplication, engine.deletePolicy.Mode)
	}

	if engine.getPolicy.Mode != PrimaryFallback {
		t.Errorf("Expected default get policy mode %q, got %q", PrimaryFallback, engine.getPolicy.Mode)
	}
}

func TestNewEngineWithCustomConfig(t *testing.T) {
	auth := &MockAuthenticator{}
	replicator := NewMockReplicationExecutor()
	fetcher := NewMockFetchingExecutor()
	
	config := &Config{
		Policies: Policies{
			Put:    WriteOperationPolicy{Mode: MultiSync},
			Delete: WriteOperationPolicy{Mode: MultiSync},
			Get:    ReadOperationPolicy{Mode: AllConsistent},
		},
	}

	engine := NewEngine(auth, replicator, fetcher, config)

	if engine.putPolicy.Mode != MultiSync {
		t.Errorf("Expected custom put policy mode %q, got %q", MultiSync, engine.putPolicy.Mode)
	}

	if engine.deletePolicy.Mode != MultiSync {
		t.Errorf("Expected custom delete policy mode %q, got %q", MultiSync, engine.deletePolicy.Mode)
	}

	if engine.getPolicy.Mode != AllConsistent {
		t.Errorf("Expected custom get policy mode %q, got %q", AllConsistent, engine.getPolicy.Mode)
	}
}

func TestEngine_Handle_AuthenticationFailure(t *testing.T) {
	auth := &MockAuthenticator{
		shouldFail: true,
		failError:  auth.ErrInvalidAccessKeyID,
	}
	replicator := NewMockReplicationExecutor()
	fetcher := NewMockFetchingExecutor()
	engine := NewEngine(auth, replicator, fetcher, nil)
	
	req := &apigw.S3Request{
		Operation: apigw.GetObject,
		Bucket:    "test-bucket",
		Key:       "test-key",
		Context:   context.Background(),
		Headers:   make(http.Header),
		Query:     make(url.Values),
	}
	
	resp := engine.Handle(req)

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status code %d, got %d", http.StatusForbidden, resp.StatusCode)
	}

	if resp.Body != nil {
		body := make([]byte, 1024)
		n, _ := resp.Body.Read(body)
		bodyStr := string(body[:n])
		if !strings.Contains(bodyStr, "InvalidAccessKeyId") {
			t.Errorf("Expected error body to contain 'InvalidAccessKeyId', got: %s", bodyStr)
		}
	}
}

func TestEngine_Handle_WriteOperations(t *testing.T) {
	auth := &MockAuthenticator{}
	replicator := NewMockReplicationExecutor()
	fetcher := NewMockFetchingExecutor()
	engine := NewEngine(auth, replicator, fetcher, nil)
	
	writeOperations := []apigw.S3Operation{
		apigw.PutObject,
		apigw.DeleteObject,
		apigw.CreateMultipartUpload,
		apigw.UploadPart,
		apigw.CompleteMultipartUpload,
		apigw.AbortMultipartUpload,
	}
	
	for _, operation := range writeOperations {
		t.Run(operation.String(), func(t *testing.T) {
			req := &apigw.S3Request{
				Operation: operation,
				Bucket:    "test-bucket",
				Key:       "test-key",
				Context:   context.Background(),
				Headers:   make(http.Header),
				Query:     make(url.Values),
			}
			
			if operation == apigw.UploadPart {
				req.Query.Set("partNumber", "1")
				req.Query.Set("uploadId", "test-upload-id")
			} else if operation == apigw.CompleteMultipartUpload || operation == apigw.AbortMultipartUpload {
				req.Query.Set("uploadId", "test-upload-id")
			}
			
			resp := engine.Handle(req)

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				t.Errorf("Expected successful status code, got %d", resp.StatusCode)
			}
			
			if resp.Error != nil {
				t.Errorf("Expected no error, got %v", resp.Error)
			}
		})
	}
}

func TestEngine_Handle_ReadOperations(t *testing.T) {
	auth := &MockAuthenticator{}
	replicator := NewMockReplicationExecutor()
	fetcher := NewMockFetchingExecutor()
	engine := NewEngine(auth, replicator, fetcher, nil)
	
	readOperations := []apigw.S3Operation{
		apigw.GetObject,
		apigw.HeadObject,
		apigw.ListObjectsV2,
		apigw.ListBuckets,
		apigw.ListMultipartUploads,
	}
	
	for _, operation := range readOperations {
		t.Run(operation.String(), func(t *testing.T) {
			req := &apigw.S3Request{
				Operation: operation,
				Bucket:    "test-bucket",
				Key:       "test-key",
				Context:   context.Background(),
				Headers:   make(http.Header),
				Query:     make(url.Values),
			}
			
			resp := engine.Handle(req)

			if resp.StatusCode != http.StatusOK {
				t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
			}
			
			if resp.Error != nil {
				t.Errorf("Expected no error, got %v", resp.Error)
			}
		})
	}
}

func TestEngine_Handle_UnsupportedOperation(t *testing.T) {
	auth := &MockAuthenticator{}
	replicator := NewMockReplicationExecutor()
	fetcher := NewMockFetchingExecutor()
	engine := NewEngine(auth, replicator, fetcher, nil)
	
	req := &apigw.S3Request{
		Operation: apigw.UnsupportedOperation,
		Bucket:    "test-bucket",
		Key:       "test-key",
		Context:   context.Background(),
		Headers:   make(http.Header),
		Query:     make(url.Values),
	}
	
	resp := engine.Handle(req)

	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("Expected status code %d, got %d", http.StatusNotImplemented, resp.StatusCode)
	}

	if resp.Body != nil {
		body := make([]byte, 1024)
		n, _ := resp.Body.Read(body)
		bodyStr := string(body[:n])
		if !strings.Contains(bodyStr, "NotImplemented") {
			t.Errorf("Expected error body to contain 'NotImplemented', got: %s", bodyStr)
		}
	}
}

func TestEngine_AuthErrorMapping(t *testing.T) {
	replicator := NewMockReplicationExecutor()
	fetcher := NewMockFetchingExecutor()
	
	testCases := []struct {
		name           string
		authError      error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "MissingAuthHeader",
			authError:      auth.ErrMissingAuthHeader,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "MissingSecurityHeader",
		},
		{
			name:           "InvalidAccessKeyID",
			authError:      auth.ErrInvalidAccessKeyID,
			expectedStatus: http.StatusForbidden,
			expectedCode:   "InvalidAccessKeyId",
		},
		{
			name:           "SignatureMismatch",
			authError:      auth.ErrSignatureMismatch,
			expectedStatus: http.StatusForbidden,
			expectedCode:   "SignatureDoesNotMatch",
		},
		{
			name:           "RequestExpired",
			authError:      auth.ErrRequestExpired,
			expectedStatus: http.StatusForbidden,
			expectedCode:   "RequestTimeTooSkewed",
		},
	}
	
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			auth := &MockAuthenticator{
				shouldFail: true,
				failError:  tc.authError,
			}
			engine := NewEngine(auth, replicator, fetcher, nil)
			
			req := &apigw.S3Request{
				Operation: apigw.GetObject,
				Bucket:    "test-bucket",
				Key:       "test-key",
				Context:   context.Background(),
				Headers:   make(http.Header),
				Query:     make(url.Values),
			}
			
			resp := engine.Handle(req)
			
			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("Expected status code %d, got %d", tc.expectedStatus, resp.StatusCode)
			}
			
			if resp.Body != nil {
				body := make([]byte, 1024)
				n, _ := resp.Body.Read(body)
				bodyStr := string(body[:n])
				if !strings.Contains(bodyStr, tc.expectedCode) {
					t.Errorf("Expected error body to contain '%s', got: %s", tc.expectedCode, bodyStr)
				}
			}
		})
	}
}
