package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"s3proxy/apigw"
	"s3proxy/backend"
	"s3proxy/logger"
	"s3proxy/routing"
)

// backendOperation performs one S3 call against one backend and reports the
// object metadata needed for ALL_CONSISTENT divergence checks alongside the response.
type backendOperation func(ctx context.Context, req *apigw.S3Request, b *backend.Backend) (*apigw.S3Response, objectMeta)

// objectMeta is the subset of an object's metadata compared across backends
// under ALL_CONSISTENT. Two attempts are considered consistent when their ETags are equal.
type objectMeta struct {
	etag         string
	size         int64
	lastModified time.Time
	present      bool // false for operations objectMeta doesn't apply to (e.g. HeadBucket)
}

func (m objectMeta) equal(o objectMeta) bool {
	return m.etag == o.etag
}

// attempt is the outcome of one backendOperation call against one backend.
type attempt struct {
	backend *backend.Backend
	resp    *apigw.S3Response
	meta    objectMeta
	err     error
}

func (a *attempt) success() bool {
	return a.err == nil && a.resp != nil && a.resp.Error == nil && a.resp.StatusCode >= 200 && a.resp.StatusCode < 300
}

// Fetcher implements routing.FetchingExecutor, the Read Strategy Engine.
type Fetcher struct {
	backendProvider backend.BackendProvider
	cache           Cache
	virtualBucket   string
}

// NewFetcher builds a Fetcher bound to the given Backend Registry.
func NewFetcher(provider backend.BackendProvider, cache Cache, virtualBucket string) *Fetcher {
	return &Fetcher{
		backendProvider: provider,
		cache:           cache,
		virtualBucket:   virtualBucket,
	}
}

func (f *Fetcher) GetObject(ctx context.Context, req *apigw.S3Request, policy routing.ReadOperationPolicy) *apigw.S3Response {
	if response, found := f.cache.Get(req.Bucket, req.Key); found {
		return response
	}
	return f.dispatch(ctx, req, policy.Mode, f.performGetObject, "GET", "object not found on any backend")
}

func (f *Fetcher) HeadObject(ctx context.Context, req *apigw.S3Request, policy routing.ReadOperationPolicy) *apigw.S3Response {
	if response, found := f.cache.Get(req.Bucket, req.Key); found {
		response.Body = nil
		return response
	}
	return f.dispatch(ctx, req, policy.Mode, f.performHeadObject, "HEAD", "object not found on any backend")
}

func (f *Fetcher) HeadBucket(ctx context.Context, req *apigw.S3Request) *apigw.S3Response {
	return f.dispatch(ctx, req, routing.BestEffort, f.performHeadBucket, "HEAD_BUCKET", "bucket not found on any backend")
}

// dispatch routes a single-object read across backends per the requested
// ReadMode. Grounded on the teacher's executeFirst/executeNewest concurrency
// shapes, generalized from two strategies to the spec's four.
func (f *Fetcher) dispatch(ctx context.Context, req *apigw.S3Request, mode routing.ReadMode, op backendOperation, methodName, notFoundMsg string) *apigw.S3Response {
	switch mode {
	case routing.PrimaryOnly:
		primary, ok := f.backendProvider.GetPrimary()
		if !ok {
			return f.noBackendsResponse()
		}
		a := f.attemptOn(ctx, req, primary, op, methodName)
		if !a.success() {
			return f.errorResponse(a.err, notFoundMsg)
		}
		return a.resp

	case routing.PrimaryFallback:
		order, ok := f.primaryFirstOrder()
		if !ok {
			return f.noBackendsResponse()
		}
		return f.tryInOrder(ctx, req, order, op, methodName, notFoundMsg)

	case routing.BestEffort:
		backends := f.backendProvider.GetLiveBackends()
		if len(backends) == 0 {
			return f.noBackendsResponse()
		}
		return f.race(ctx, req, backends, op, methodName, notFoundMsg)

	case routing.AllConsistent:
		backends := f.backendProvider.GetLiveBackends()
		if len(backends) == 0 {
			return f.noBackendsResponse()
		}
		return f.allConsistent(ctx, req, backends, op, methodName, notFoundMsg)

	default:
		return f.unknownModeResponse(mode)
	}
}

// primaryFirstOrder returns every live backend with the primary moved to the
// front, preserving declaration order among the rest.
func (f *Fetcher) primaryFirstOrder() ([]*backend.Backend, bool) {
	live := f.backendProvider.GetLiveBackends()
	if len(live) == 0 {
		return nil, false
	}
	primary, ok := f.backendProvider.GetPrimary()
	if !ok {
		return live, true
	}
	ordered := make([]*backend.Backend, 0, len(live))
	ordered = append(ordered, primary)
	for _, b := range live {
		if b.ID != primary.ID {
			ordered = append(ordered, b)
		}
	}
	return ordered, true
}

// tryInOrder attempts op against each backend sequentially, returning the
// first success. Used by PRIMARY_FALLBACK. The first backend in order (the
// primary, when one is selected) decides two cases: its NotFound is returned
// at once without consulting the rest, and its error is returned when every
// backend fails.
func (f *Fetcher) tryInOrder(ctx context.Context, req *apigw.S3Request, order []*backend.Backend, op backendOperation, methodName, notFoundMsg string) *apigw.S3Response {
	var firstErr error
	for i, b := range order {
		a := f.attemptOn(ctx, req, b, op, methodName)
		if a.success() {
			return a.resp
		}
		if i == 0 {
			firstErr = a.err
			if backend.Classify(a.err) == backend.ClassNotFound {
				break
			}
		}
	}
	return f.errorResponse(firstErr, notFoundMsg)
}

// race fans op out to every backend concurrently and cancels every
// outstanding attempt as soon as one succeeds, so response latency tracks
// the fastest backend rather than the slowest. Cancelled attempts still
// report to the health monitor, but context.Canceled is classified benign
// (see backend.IsBenign) so losing a race never trips a backend's circuit
// breaker.
func (f *Fetcher) race(ctx context.Context, req *apigw.S3Request, backends []*backend.Backend, op backendOperation, methodName, notFoundMsg string) *apigw.S3Response {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan *attempt, len(backends))
	for _, be := range backends {
		go func(b *backend.Backend) {
			results <- f.attemptOn(raceCtx, req, b, op, methodName)
		}(be)
	}

	var worst error
	for i := 0; i < len(backends); i++ {
		a := <-results
		if a.success() {
			cancel()
			return a.resp
		}
		if worst == nil || backend.MoreSevere(backend.Classify(a.err), backend.Classify(worst)) {
			worst = a.err
		}
	}
	if worst == nil {
		worst = fmt.Errorf(notFoundMsg)
	}
	return f.errorResponse(worst, notFoundMsg)
}

// allConsistent reads from every backend and compares results; divergence is
// reported rather than silently resolved, since listings and objects are
// never merged across backends (see DESIGN.md).
func (f *Fetcher) allConsistent(ctx context.Context, req *apigw.S3Request, backends []*backend.Backend, op backendOperation, methodName, notFoundMsg string) *apigw.S3Response {
	results := f.collectAll(ctx, req, backends, op, methodName)

	var successes []*attempt
	var worst error
	for _, a := range results {
		if a.success() {
			successes = append(successes, a)
		} else if worst == nil || backend.MoreSevere(backend.Classify(a.err), backend.Classify(worst)) {
			worst = a.err
		}
	}

	if len(successes) == 0 {
		if worst == nil {
			worst = fmt.Errorf(notFoundMsg)
		}
		return f.errorResponse(worst, notFoundMsg)
	}

	if len(successes) != len(backends) {
		return f.partialFailureResponse(req, len(successes), len(backends), worst)
	}

	first := successes[0]
	for _, a := range successes[1:] {
		if a.meta.present && !a.meta.equal(first.meta) {
			return f.inconsistentReplicasResponse(req, first.backend.ID, a.backend.ID)
		}
	}

	if primary, ok := f.backendProvider.GetPrimary(); ok {
		for _, a := range successes {
			if a.backend.ID == primary.ID {
				return a.resp
			}
		}
	}
	return first.resp
}

// collectAll runs op against every backend concurrently and waits for all of
// them, reporting success/failure to the registry as it goes.
func (f *Fetcher) collectAll(ctx context.Context, req *apigw.S3Request, backends []*backend.Backend, op backendOperation, methodName string) []*attempt {
	results := make([]*attempt, len(backends))
	var wg sync.WaitGroup
	for i, be := range backends {
		wg.Add(1)
		go func(i int, b *backend.Backend) {
			defer wg.Done()
			results[i] = f.attemptOn(ctx, req, b, op, methodName)
		}(i, be)
	}
	wg.Wait()
	return results
}

func (f *Fetcher) attemptOn(ctx context.Context, req *apigw.S3Request, b *backend.Backend, op backendOperation, methodName string) *attempt {
	start := time.Now()
	resp, meta := op(ctx, req, b)
	latency := time.Since(start)

	var bytesRead int64
	if counter, ok := resp.Body.(*bytesCountingReader); ok && counter != nil {
		bytesRead = counter.totalRead
	}

	a := &attempt{backend: b, resp: resp, meta: meta, err: resp.Error}
	if a.success() {
		f.backendProvider.ReportSuccess(&backend.BackendResult{
			BackendID: b.ID, Method: methodName, StatusCode: resp.StatusCode, Duration: latency, BytesRead: bytesRead,
		})
	} else {
		f.backendProvider.ReportFailure(&backend.BackendResult{
			BackendID: b.ID, Method: methodName, StatusCode: resp.StatusCode, Err: resp.Error, Duration: latency, BytesRead: bytesRead,
		})
	}
	return a
}

// --- individual S3 operations ---

func (f *Fetcher) performGetObject(ctx context.Context, req *apigw.S3Request, b *backend.Backend) (*apigw.S3Response, objectMeta) {
	input := &s3.GetObjectInput{Bucket: aws.String(b.Config.Bucket), Key: aws.String(req.Key)}
	if rangeHeader := req.Headers.Get("Range"); rangeHeader != "" {
		input.Range = aws.String(rangeHeader)
	}
	result, err := b.S3Client.GetObject(ctx, input)
	if err != nil {
		return f.errorResponseFromErr(err), objectMeta{}
	}
	headers := make(http.Header)
	if result.ContentType != nil {
		headers.Set("Content-Type", *result.ContentType)
	}
	if result.ContentLength != nil {
		headers.Set("Content-Length", fmt.Sprintf("%d", *result.ContentLength))
	}
	if result.LastModified != nil {
		headers.Set("Last-Modified", result.LastModified.Format(time.RFC1123))
	}
	if result.ETag != nil {
		headers.Set("ETag", *result.ETag)
	}
	if result.ContentRange != nil {
		headers.Set("Content-Range", *result.ContentRange)
	}

	statusCode := http.StatusOK
	if result.ContentRange != nil {
		statusCode = http.StatusPartialContent
	}

	resp := &apigw.S3Response{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       &bytesCountingReader{reader: result.Body},
	}
	return resp, metaFromHeadObject(result.ETag, result.ContentLength, result.LastModified)
}

func (f *Fetcher) performHeadObject(ctx context.Context, req *apigw.S3Request, b *backend.Backend) (*apigw.S3Response, objectMeta) {
	input := &s3.HeadObjectInput{Bucket: aws.String(b.Config.Bucket), Key: aws.String(req.Key)}
	result, err := b.S3Client.HeadObject(ctx, input)
	if err != nil {
		return f.errorResponseFromErr(err), objectMeta{}
	}
	headers := make(http.Header)
	if result.ContentType != nil {
		headers.Set("Content-Type", *result.ContentType)
	}
	if result.ContentLength != nil {
		headers.Set("Content-Length", fmt.Sprintf("%d", *result.ContentLength))
	}
	if result.LastModified != nil {
		headers.Set("Last-Modified", result.LastModified.Format(time.RFC1123))
	}
	if result.ETag != nil {
		headers.Set("ETag", *result.ETag)
	}

	resp := &apigw.S3Response{StatusCode: http.StatusOK, Headers: headers}
	return resp, metaFromHeadObject(result.ETag, result.ContentLength, result.LastModified)
}

func (f *Fetcher) performHeadBucket(ctx context.Context, req *apigw.S3Request, b *backend.Backend) (*apigw.S3Response, objectMeta) {
	input := &s3.HeadBucketInput{Bucket: aws.String(b.Config.Bucket)}
	_, err := b.S3Client.HeadBucket(ctx, input)
	if err != nil {
		return f.errorResponseFromErr(err), objectMeta{}
	}
	return &apigw.S3Response{StatusCode: http.StatusOK}, objectMeta{}
}

func metaFromHeadObject(etag *string, contentLength *int64, lastModified *time.Time) objectMeta {
	m := objectMeta{present: true}
	if etag != nil {
		m.etag = *etag
	}
	if contentLength != nil {
		m.size = *contentLength
	}
	if lastModified != nil {
		m.lastModified = *lastModified
	}
	return m
}

// --- response helpers ---

func classToStatus(class backend.ErrorClass) int {
	switch class {
	case backend.ClassNotFound:
		return http.StatusNotFound
	case backend.ClassAuthFailure:
		return http.StatusForbidden
	case backend.ClassThrottled:
		return http.StatusTooManyRequests
	case backend.ClassIntegrity:
		return http.StatusUnprocessableEntity
	case backend.ClassPermanent:
		return http.StatusBadRequest
	case backend.ClassTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (f *Fetcher) errorResponseFromErr(err error) *apigw.S3Response {
	return &apigw.S3Response{StatusCode: classToStatus(backend.Classify(err)), Error: err}
}

func (f *Fetcher) errorResponse(err error, fallbackMsg string) *apigw.S3Response {
	if err == nil {
		err = fmt.Errorf(fallbackMsg)
	}
	return &apigw.S3Response{StatusCode: classToStatus(backend.Classify(err)), Error: err}
}

func (f *Fetcher) inconsistentReplicasResponse(req *apigw.S3Request, backendA, backendB string) *apigw.S3Response {
	logger.Warn("ALL_CONSISTENT divergence on %s/%s between backends %q and %q", req.Bucket, req.Key, backendA, backendB)
	return f.integrityErrorResponse(fmt.Sprintf("backends %q and %q returned different object state", backendA, backendB))
}

// partialFailureResponse reports the ALL_CONSISTENT case where at least one
// backend failed outright, treated the same as ETag divergence among the
// survivors: a single Integrity error, not a quorum of successes.
func (f *Fetcher) partialFailureResponse(req *apigw.S3Request, succeeded, total int, cause error) *apigw.S3Response {
	logger.Warn("ALL_CONSISTENT partial failure on %s/%s: %d/%d backends succeeded: %v", req.Bucket, req.Key, succeeded, total, cause)
	return f.integrityErrorResponse(fmt.Sprintf("only %d of %d backends succeeded: %v", succeeded, total, cause))
}

func (f *Fetcher) integrityErrorResponse(reason string) *apigw.S3Response {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Error>
    <Code>InconsistentReplicas</Code>
    <Message>%s</Message>
</Error>`, reason)
	headers := make(http.Header)
	headers.Set("Content-Type", "application/xml")
	headers.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	return &apigw.S3Response{
		StatusCode: http.StatusConflict,
		Headers:    headers,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func (f *Fetcher) noBackendsResponse() *apigw.S3Response {
	return &apigw.S3Response{StatusCode: http.StatusServiceUnavailable, Error: fmt.Errorf("no live backends available")}
}

func (f *Fetcher) unknownModeResponse(mode routing.ReadMode) *apigw.S3Response {
	return &apigw.S3Response{StatusCode: http.StatusInternalServerError, Error: fmt.Errorf("unknown read mode: %s", mode)}
}

// bytesCountingReader wraps an io.ReadCloser to count bytes read, for backend byte metrics.
type bytesCountingReader struct {
	reader    io.ReadCloser
	totalRead int64
}

func (b *bytesCountingReader) Read(p []byte) (n int, err error) {
	n, err = b.reader.Read(p)
	b.totalRead += int64(n)
	return n, err
}

func (b *bytesCountingReader) Close() error {
	return b.reader.Close()
}
