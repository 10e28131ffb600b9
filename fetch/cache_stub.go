package fetch

import "s3proxy/apigw"

// StubCache implements Cache with no backing store. It always reports a miss.
type StubCache struct{}

// NewStubCache builds a no-op cache.
func NewStubCache() *StubCache {
	return &StubCache{}
}

func (s *StubCache) Get(bucket, key string) (*apigw.S3Response, bool) {
	return nil, false
}
