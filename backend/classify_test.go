package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type apiErrStub struct {
	code string
}

func (e *apiErrStub) Error() string        { return e.code }
func (e *apiErrStub) ErrorCode() string    { return e.code }
func (e *apiErrStub) ErrorMessage() string { return e.code }
func (e *apiErrStub) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

type httpErrStub struct {
	status int
}

func (e *httpErrStub) Error() string        { return fmt.Sprintf("http %d", e.status) }
func (e *httpErrStub) HTTPStatusCode() int { return e.status }

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ClassNone},
		{"context canceled", context.Canceled, ClassTransient},
		{"deadline exceeded", context.DeadlineExceeded, ClassTransient},
		{"sdk not found", &types.NotFound{}, ClassNotFound},
		{"sdk no such key", &types.NoSuchKey{}, ClassNotFound},
		{"access denied code", &apiErrStub{code: "AccessDenied"}, ClassAuthFailure},
		{"signature mismatch code", &apiErrStub{code: "SignatureDoesNotMatch"}, ClassAuthFailure},
		{"slow down code", &apiErrStub{code: "SlowDown"}, ClassThrottled},
		{"bad digest code", &apiErrStub{code: "BadDigest"}, ClassIntegrity},
		{"http 404", &httpErrStub{status: 404}, ClassNotFound},
		{"http 403", &httpErrStub{status: 403}, ClassAuthFailure},
		{"http 429", &httpErrStub{status: 429}, ClassThrottled},
		{"http 500", &httpErrStub{status: 500}, ClassTransient},
		{"http 400", &httpErrStub{status: 400}, ClassPermanent},
		{"unrecognized error", errors.New("boom"), ClassTransient},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.expected {
				t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.expected)
			}
		})
	}
}

func TestMoreSevere(t *testing.T) {
	if !MoreSevere(ClassAuthFailure, ClassTransient) {
		t.Error("expected AuthFailure to be more severe than Transient")
	}
	if MoreSevere(ClassNotFound, ClassPermanent) {
		t.Error("expected NotFound to not be more severe than Permanent")
	}
}

func TestIsBenign(t *testing.T) {
	if !IsBenign(nil) {
		t.Error("expected nil error to be benign")
	}
	if !IsBenign(&types.NotFound{}) {
		t.Error("expected not-found to be benign")
	}
	if !IsBenign(context.Canceled) {
		t.Error("expected cancellation to be benign")
	}
	if IsBenign(&apiErrStub{code: "AccessDenied"}) {
		t.Error("expected auth failure to not be benign")
	}
}
