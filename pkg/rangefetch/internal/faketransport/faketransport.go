// Package faketransport is a minimal http.RoundTripper double for exercising
// the resumable and parallel byte-range transports without a real server:
// it serves GET/HEAD against an in-memory resource, honors Range and
// If-Range the way a real origin would, and can be told to fail a request
// mid-body so a transport's resume/retry path actually gets exercised.
package faketransport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/docker/pdfraster/pkg/rangefetch/internal/httprange"
)

// Resource is the fake content a Transport serves.
type Resource struct {
	Body         []byte
	SupportsRange bool
	ETag         string
	LastModified string
}

// Transport serves a single Resource and can be configured to cut a GET
// response short the first time it is read, so callers can verify a
// transport resumes from the failure point rather than restarting.
type Transport struct {
	mu sync.Mutex

	resource Resource

	// failAfterBytes, when > 0, truncates the *next* full (non-range) GET
	// body after this many bytes; cleared once triggered so later requests
	// succeed.
	failAfterBytes int

	// failRangeStart, when non-nil, makes the next Range request whose start
	// offset matches return a transport error instead of a response; cleared
	// once triggered.
	failRangeStart *int64

	requests []*http.Request
}

// NewTransport serves resource.
func NewTransport(resource Resource) *Transport {
	return &Transport{resource: resource}
}

// FailNextBodyAfter arms a one-shot truncation of the next GET's body after
// n bytes.
func (tr *Transport) FailNextBodyAfter(n int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.failAfterBytes = n
}

// FailRangeStartingAt arms a one-shot transport-level failure (simulating a
// dropped connection, not an HTTP error response) for the next Range
// request beginning at offset start.
func (tr *Transport) FailRangeStartingAt(start int64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.failRangeStart = &start
}

// Requests returns every request observed so far, in order.
func (tr *Transport) Requests() []*http.Request {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]*http.Request, len(tr.requests))
	copy(out, tr.requests)
	return out
}

func (tr *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tr.mu.Lock()
	recorded := req.Clone(req.Context())
	tr.requests = append(tr.requests, recorded)
	tr.mu.Unlock()

	if req.Method == http.MethodHead {
		return tr.headResponse(req), nil
	}

	rangeHdr := req.Header.Get("Range")
	if rangeHdr == "" {
		return tr.fullResponse(req)
	}
	span, ok := httprange.ParseRangeHeader(rangeHdr)
	if !ok {
		return tr.statusResponse(req, http.StatusBadRequest, nil), nil
	}

	tr.mu.Lock()
	if tr.failRangeStart != nil && *tr.failRangeStart == span.Start {
		tr.failRangeStart = nil
		tr.mu.Unlock()
		return nil, fmt.Errorf("faketransport: simulated connection failure for range starting at %d", span.Start)
	}
	tr.mu.Unlock()

	return tr.rangeResponse(req, span)
}

func (tr *Transport) headResponse(req *http.Request) *http.Response {
	resp := tr.statusResponse(req, http.StatusOK, nil)
	resp.ContentLength = int64(len(tr.resource.Body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(tr.resource.Body)))
	return resp
}

func (tr *Transport) fullResponse(req *http.Request) (*http.Response, error) {
	tr.mu.Lock()
	cut := tr.failAfterBytes
	tr.failAfterBytes = 0
	tr.mu.Unlock()

	var body io.ReadCloser
	if cut > 0 && cut < len(tr.resource.Body) {
		body = io.NopCloser(&truncatingReader{r: bytes.NewReader(tr.resource.Body), limit: cut})
	} else {
		body = io.NopCloser(bytes.NewReader(tr.resource.Body))
	}

	resp := tr.statusResponse(req, http.StatusOK, body)
	resp.ContentLength = int64(len(tr.resource.Body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(tr.resource.Body)))
	return resp, nil
}

func (tr *Transport) rangeResponse(req *http.Request, span httprange.Span) (*http.Response, error) {
	total := int64(len(tr.resource.Body))
	end := span.End
	if end < 0 || end >= total {
		end = total - 1
	}
	if span.Start < 0 || span.Start > end {
		resp := tr.statusResponse(req, http.StatusRequestedRangeNotSatisfiable, nil)
		resp.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		return resp, nil
	}

	if ifRange := req.Header.Get("If-Range"); ifRange != "" {
		if ifRange != tr.resource.ETag && ifRange != tr.resource.LastModified {
			// Validator stale: origin serves the full, current body instead.
			return tr.fullResponse(req)
		}
	}

	slice := tr.resource.Body[span.Start : end+1]
	resp := tr.statusResponse(req, http.StatusPartialContent, io.NopCloser(bytes.NewReader(slice)))
	resp.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", span.Start, end, total))
	resp.ContentLength = int64(len(slice))
	return resp, nil
}

func (tr *Transport) statusResponse(req *http.Request, status int, body io.ReadCloser) *http.Response {
	if body == nil {
		body = io.NopCloser(bytes.NewReader(nil))
	}
	h := make(http.Header)
	if tr.resource.SupportsRange {
		h.Set("Accept-Ranges", "bytes")
	}
	if tr.resource.ETag != "" {
		h.Set("ETag", tr.resource.ETag)
	}
	if tr.resource.LastModified != "" {
		h.Set("Last-Modified", tr.resource.LastModified)
	}
	return &http.Response{
		Status:     http.StatusText(status),
		StatusCode: status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     h,
		Body:       body,
		Request:    req,
	}
}

// truncatingReader reads up to limit bytes from r, then fails every
// subsequent Read with io.ErrUnexpectedEOF to simulate a connection drop
// mid-body.
type truncatingReader struct {
	r     io.Reader
	limit int
	read  int
}

func (t *truncatingReader) Read(p []byte) (int, error) {
	if t.read >= t.limit {
		return 0, io.ErrUnexpectedEOF
	}
	if max := t.limit - t.read; len(p) > max {
		p = p[:max]
	}
	n, err := t.r.Read(p)
	t.read += n
	return n, err
}
