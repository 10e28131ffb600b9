package fetch

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"s3proxy/apigw"
	"s3proxy/backend"
	"s3proxy/routing"
)

// ListBucketsResult is the XML body of a ListBuckets response.
type ListBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Owner   Owner    `xml:"Owner"`
	Buckets Buckets  `xml:"Buckets"`
}

type Owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type Buckets struct {
	Bucket []Bucket `xml:"Bucket"`
}

type Bucket struct {
	Name         string    `xml:"Name"`
	CreationDate time.Time `xml:"CreationDate"`
}

type ListObjectsV2Result struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	Name                  string   `xml:"Name"`
	Prefix                string   `xml:"Prefix,omitempty"`
	KeyCount              int32    `xml:"KeyCount"`
	MaxKeys               int32    `xml:"MaxKeys"`
	IsTruncated           bool     `xml:"IsTruncated"`
	ContinuationToken     string   `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string   `xml:"NextContinuationToken,omitempty"`
	Contents              []Object `xml:"Contents"`
}

type Object struct {
	Key          string    `xml:"Key"`
	LastModified time.Time `xml:"LastModified"`
	ETag         string    `xml:"ETag"`
	Size         int64     `xml:"Size"`
	StorageClass string    `xml:"StorageClass,omitempty"`
}

// listAttempt is one backend's raw ListObjectsV2 page.
type listAttempt struct {
	backend *backend.Backend
	page    *s3.ListObjectsV2Output
	err     error
}

func (a *listAttempt) success() bool {
	return a.err == nil && a.page != nil
}

// ListObjects serves a listing page from exactly one backend per the active
// ReadMode. Pages are never merged across backends (see DESIGN.md). The
// backend is chosen afresh for every request, including follow-up pages; a
// continuation token is passed through to whichever backend is chosen.
func (f *Fetcher) ListObjects(ctx context.Context, req *apigw.S3Request, policy routing.ReadOperationPolicy) *apigw.S3Response {
	switch policy.Mode {
	case routing.PrimaryOnly:
		primary, ok := f.backendProvider.GetPrimary()
		if !ok {
			return f.noBackendsResponse()
		}
		a := f.fetchListPage(ctx, req, primary)
		if !a.success() {
			return f.errorResponse(a.err, "no backend available to serve listing")
		}
		return f.renderListObjectsResponse(req, a.page)

	case routing.PrimaryFallback:
		order, ok := f.primaryFirstOrder()
		if !ok {
			return f.noBackendsResponse()
		}
		var worst error
		for _, b := range order {
			a := f.fetchListPage(ctx, req, b)
			if a.success() {
				return f.renderListObjectsResponse(req, a.page)
			}
			if worst == nil || backend.MoreSevere(backend.Classify(a.err), backend.Classify(worst)) {
				worst = a.err
			}
		}
		return f.errorResponse(worst, "no backend available to serve listing")

	case routing.BestEffort:
		backends := f.backendProvider.GetLiveBackends()
		if len(backends) == 0 {
			return f.noBackendsResponse()
		}
		attempts := f.fetchListPages(ctx, req, backends)
		var worst error
		for _, a := range attempts {
			if a.success() {
				return f.renderListObjectsResponse(req, a.page)
			}
			if worst == nil || backend.MoreSevere(backend.Classify(a.err), backend.Classify(worst)) {
				worst = a.err
			}
		}
		return f.errorResponse(worst, "no backend available to serve listing")

	case routing.AllConsistent:
		backends := f.backendProvider.GetLiveBackends()
		if len(backends) == 0 {
			return f.noBackendsResponse()
		}
		attempts := f.fetchListPages(ctx, req, backends)
		var successes []*listAttempt
		var worst error
		for _, a := range attempts {
			if a.success() {
				successes = append(successes, a)
			} else if worst == nil || backend.MoreSevere(backend.Classify(a.err), backend.Classify(worst)) {
				worst = a.err
			}
		}
		if len(successes) == 0 {
			return f.errorResponse(worst, "no backend available to serve listing")
		}
		if len(successes) != len(backends) {
			return f.partialFailureResponse(req, len(successes), len(backends), worst)
		}
		first := successes[0]
		for _, a := range successes[1:] {
			if !samePageKeys(first.page, a.page) {
				return f.inconsistentReplicasResponse(req, first.backend.ID, a.backend.ID)
			}
		}
		if primary, ok := f.backendProvider.GetPrimary(); ok {
			for _, a := range successes {
				if a.backend.ID == primary.ID {
					return f.renderListObjectsResponse(req, a.page)
				}
			}
		}
		return f.renderListObjectsResponse(req, first.page)

	default:
		return f.unknownModeResponse(policy.Mode)
	}
}

// samePageKeys reports whether two backends' listing pages contain the same
// keys with the same ETags, order-insensitive.
func samePageKeys(a, b *s3.ListObjectsV2Output) bool {
	if len(a.Contents) != len(b.Contents) {
		return false
	}
	seen := make(map[string]string, len(a.Contents))
	for _, obj := range a.Contents {
		seen[aws.ToString(obj.Key)] = aws.ToString(obj.ETag)
	}
	for _, obj := range b.Contents {
		etag, ok := seen[aws.ToString(obj.Key)]
		if !ok || etag != aws.ToString(obj.ETag) {
			return false
		}
	}
	return true
}

func (f *Fetcher) fetchListPages(ctx context.Context, req *apigw.S3Request, backends []*backend.Backend) []*listAttempt {
	results := make([]*listAttempt, len(backends))
	done := make(chan int, len(backends))
	for i, b := range backends {
		go func(i int, b *backend.Backend) {
			results[i] = f.fetchListPage(ctx, req, b)
			done <- i
		}(i, b)
	}
	for range backends {
		<-done
	}
	return results
}

func (f *Fetcher) fetchListPage(ctx context.Context, req *apigw.S3Request, b *backend.Backend) *listAttempt {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(b.Config.Bucket)}
	if p := req.Query.Get("prefix"); p != "" {
		input.Prefix = aws.String(p)
	}
	if d := req.Query.Get("delimiter"); d != "" {
		input.Delimiter = aws.String(d)
	}
	if t := req.Query.Get("continuation-token"); t != "" {
		input.ContinuationToken = aws.String(t)
	}
	if maxKeysStr := req.Query.Get("max-keys"); maxKeysStr != "" {
		if maxKeys, err := strconv.ParseInt(maxKeysStr, 10, 32); err == nil && maxKeys > 0 {
			input.MaxKeys = aws.Int32(int32(maxKeys))
		}
	}

	start := time.Now()
	page, err := b.S3Client.ListObjectsV2(ctx, input)
	latency := time.Since(start)

	if err != nil {
		f.backendProvider.ReportFailure(&backend.BackendResult{BackendID: b.ID, Method: "LIST_OBJECTS", Err: err, Duration: latency})
	} else {
		f.backendProvider.ReportSuccess(&backend.BackendResult{BackendID: b.ID, Method: "LIST_OBJECTS", StatusCode: http.StatusOK, Duration: latency})
	}
	return &listAttempt{backend: b, page: page, err: err}
}

func (f *Fetcher) renderListObjectsResponse(req *apigw.S3Request, page *s3.ListObjectsV2Output) *apigw.S3Response {
	objects := make([]Object, 0, len(page.Contents))
	for _, obj := range page.Contents {
		objects = append(objects, Object{
			Key:          aws.ToString(obj.Key),
			LastModified: aws.ToTime(obj.LastModified),
			ETag:         aws.ToString(obj.ETag),
			Size:         aws.ToInt64(obj.Size),
			StorageClass: string(obj.StorageClass),
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	maxKeys, _ := strconv.ParseInt(req.Query.Get("max-keys"), 10, 32)
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	result := ListObjectsV2Result{
		Name:                  req.Bucket,
		Prefix:                req.Query.Get("prefix"),
		MaxKeys:               int32(maxKeys),
		KeyCount:              int32(len(objects)),
		IsTruncated:           aws.ToBool(page.IsTruncated),
		ContinuationToken:     req.Query.Get("continuation-token"),
		NextContinuationToken: aws.ToString(page.NextContinuationToken),
		Contents:              objects,
	}

	xmlData, err := xml.MarshalIndent(result, "", "  ")
	if err != nil {
		return &apigw.S3Response{StatusCode: http.StatusInternalServerError, Error: err}
	}

	headers := make(http.Header)
	headers.Set("Content-Type", "application/xml")
	headers.Set("Content-Length", strconv.Itoa(len(xmlData)))

	return &apigw.S3Response{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       io.NopCloser(bytes.NewReader(xmlData)),
	}
}

// ListBuckets always returns the single virtual bucket the proxy presents to clients.
func (f *Fetcher) ListBuckets(ctx context.Context, req *apigw.S3Request) *apigw.S3Response {
	result := ListBucketsResult{
		Owner: Owner{ID: "s3proxy-owner-id", DisplayName: "s3proxy-owner"},
		Buckets: Buckets{
			Bucket: []Bucket{{Name: f.virtualBucket, CreationDate: time.Now().UTC()}},
		},
	}

	xmlData, err := xml.Marshal(result)
	if err != nil {
		return &apigw.S3Response{StatusCode: http.StatusInternalServerError, Error: err}
	}

	headers := make(http.Header)
	headers.Set("Content-Type", "application/xml")
	headers.Set("Content-Length", fmt.Sprintf("%d", len(xmlData)))

	return &apigw.S3Response{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       io.NopCloser(bytes.NewReader(xmlData)),
	}
}

// ListMultipartUploads is a primary-only passthrough: in-flight multipart
// uploads only ever live on the primary backend (see DESIGN.md).
func (f *Fetcher) ListMultipartUploads(ctx context.Context, req *apigw.S3Request) *apigw.S3Response {
	primary, ok := f.backendProvider.GetPrimary()
	if !ok {
		return f.noBackendsResponse()
	}

	input := &s3.ListMultipartUploadsInput{Bucket: aws.String(primary.Config.Bucket)}
	if p := req.Query.Get("prefix"); p != "" {
		input.Prefix = aws.String(p)
	}
	if d := req.Query.Get("delimiter"); d != "" {
		input.Delimiter = aws.String(d)
	}

	result, err := primary.S3Client.ListMultipartUploads(ctx, input)
	if err != nil {
		f.backendProvider.ReportFailure(&backend.BackendResult{BackendID: primary.ID, Method: "LIST_MULTIPART_UPLOADS", Err: err})
		return f.errorResponseFromErr(err)
	}
	f.backendProvider.ReportSuccess(&backend.BackendResult{BackendID: primary.ID, Method: "LIST_MULTIPART_UPLOADS", StatusCode: http.StatusOK})

	type upload struct {
		Key      string `xml:"Key"`
		UploadID string `xml:"UploadId"`
	}
	type listMultipartResult struct {
		XMLName xml.Name `xml:"ListMultipartUploadsResult"`
		Bucket  string   `xml:"Bucket"`
		Upload  []upload `xml:"Upload"`
	}

	body := listMultipartResult{Bucket: req.Bucket}
	for _, u := range result.Uploads {
		body.Upload = append(body.Upload, upload{Key: aws.ToString(u.Key), UploadID: aws.ToString(u.UploadId)})
	}

	xmlData, err := xml.MarshalIndent(body, "", "  ")
	if err != nil {
		return &apigw.S3Response{StatusCode: http.StatusInternalServerError, Error: err}
	}

	headers := make(http.Header)
	headers.Set("Content-Type", "application/xml")
	headers.Set("Content-Length", fmt.Sprintf("%d", len(xmlData)))

	return &apigw.S3Response{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       io.NopCloser(bytes.NewReader(xmlData)),
	}
}
