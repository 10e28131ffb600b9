package fetch

import (
	"s3proxy/apigw"
)

// Cache lets the Fetcher short-circuit a read without touching any backend.
type Cache interface {
	// Get looks an object up in the cache. A hit returns a ready-to-send S3Response.
	Get(bucket, key string) (response *apigw.S3Response, found bool)
}
