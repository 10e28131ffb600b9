package auth

import (
	"errors"
	"s3proxy/apigw"
)

// Authenticator is the common interface every authentication module implements.
type Authenticator interface {
	// Authenticate verifies a request's identity. It takes the full S3Request
	// because SigV4 signs over the method, URL, headers, and body hash together.
	Authenticate(req *apigw.S3Request) (*UserIdentity, error)
}

// UserIdentity is a request's verified identity, passed on to authorization.
type UserIdentity struct {
	AccessKey   string
	DisplayName string
}

var (
	ErrMissingAuthHeader  = errors.New("missing authorization header")
	ErrInvalidAuthHeader  = errors.New("invalid authorization header")
	ErrInvalidAccessKeyID = errors.New("invalid access key ID")
	ErrSignatureMismatch  = errors.New("signature does not match")
	ErrRequestExpired     = errors.New("request has expired")
)

// SecretKey holds a secret access key and its associated user data.
type SecretKey struct {
	SecretAccessKey string
	DisplayName     string
}
