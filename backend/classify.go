package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrorClass is the public error taxonomy an operation against a backend can fall into.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassNotFound
	ClassAuthFailure
	ClassThrottled
	ClassTransient
	ClassPermanent
	ClassIntegrity
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "None"
	case ClassNotFound:
		return "NotFound"
	case ClassAuthFailure:
		return "AuthFailure"
	case ClassThrottled:
		return "Throttled"
	case ClassTransient:
		return "Transient"
	case ClassPermanent:
		return "Permanent"
	case ClassIntegrity:
		return "Integrity"
	default:
		return "Unknown"
	}
}

// severity orders classes from least to most serious, used by BEST_EFFORT to
// pick the single most representative failure out of several backend errors.
func (c ErrorClass) severity() int {
	switch c {
	case ClassNone:
		return 0
	case ClassNotFound:
		return 1
	case ClassThrottled:
		return 2
	case ClassTransient:
		return 3
	case ClassIntegrity:
		return 4
	case ClassPermanent:
		return 5
	case ClassAuthFailure:
		return 6
	default:
		return 0
	}
}

// MoreSevere reports whether a is a worse failure than b.
func MoreSevere(a, b ErrorClass) bool {
	return a.severity() > b.severity()
}

var throttleCodes = map[string]bool{
	"SlowDown":                   true,
	"ThrottlingException":        true,
	"RequestLimitExceeded":       true,
	"TooManyRequests":            true,
	"ProvisionedThroughputExceededException": true,
}

var authCodes = map[string]bool{
	"AccessDenied":             true,
	"InvalidAccessKeyId":       true,
	"SignatureDoesNotMatch":    true,
	"ExpiredToken":             true,
	"AuthorizationHeaderMalformed": true,
}

// Classify maps an error returned from an S3 SDK call onto the public error
// taxonomy, using context cancellation, the SDK's typed not-found errors,
// smithy's APIError interface and HTTP status codes.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return ClassNotFound
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return ClassNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if authCodes[code] {
			return ClassAuthFailure
		}
		if throttleCodes[code] {
			return ClassThrottled
		}
		if code == "BadDigest" || code == "InvalidDigest" || code == "EntityTooLarge" || code == "IncompleteBody" {
			return ClassIntegrity
		}
	}

	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) {
		switch status := httpErr.HTTPStatusCode(); {
		case status == http.StatusNotFound:
			return ClassNotFound
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return ClassAuthFailure
		case status == http.StatusTooManyRequests:
			return ClassThrottled
		case status == http.StatusRequestEntityTooLarge:
			return ClassIntegrity
		case status >= 500:
			return ClassTransient
		case status >= 400:
			return ClassPermanent
		}
	}

	// network errors, DNS failures and the like without an HTTP status surface.
	return ClassTransient
}

// IsBenign mirrors the health monitor's historical notion of an error that
// should not trip the circuit breaker: context cancellation and not-found
// responses are expected traffic, not backend distress.
func IsBenign(err error) bool {
	if err == nil {
		return true
	}
	switch Classify(err) {
	case ClassNotFound:
		return true
	default:
		return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
}
