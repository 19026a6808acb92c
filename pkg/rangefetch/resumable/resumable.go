// Package resumable wraps an http.RoundTripper so a GET response that
// supports byte ranges survives a mid-stream read failure: instead of
// surfacing the error to the caller, the transport issues a follow-up Range
// request picking up exactly where the previous read stopped, validated
// against the original response's ETag/Last-Modified so it never silently
// stitches together bytes from two different versions of the resource.
//
// A request only becomes resumable when it is a GET, the response is 200 or
// 206, the server advertised "Accept-Ranges: bytes", and the body was not
// transparently decompressed (resumption works on wire offsets, which
// decompression would shift). Everything else passes through untouched.
package resumable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/docker/pdfraster/pkg/rangefetch/internal/httprange"
)

// Option configures a Transport.
type Option func(*Transport)

// WithMaxAttempts sets how many times the transport will try to resume a
// broken stream before giving up. Default: 3.
func WithMaxAttempts(n int) Option {
	return func(t *Transport) { t.maxAttempts = n }
}

// Backoff computes how long to wait before resume attempt n (0-based).
type Backoff func(attempt int) time.Duration

// WithBackoff overrides the default jittered-exponential backoff.
func WithBackoff(b Backoff) Option {
	return func(t *Transport) { t.backoff = b }
}

// Transport is an http.RoundTripper that transparently resumes interrupted
// GET responses from range-capable servers.
type Transport struct {
	next        http.RoundTripper
	maxAttempts int
	backoff     Backoff
}

// New wraps next (http.DefaultTransport if nil) with resume behavior.
func New(next http.RoundTripper, opts ...Option) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	t := &Transport{
		next:        next,
		maxAttempts: 3,
		backoff:     defaultBackoff,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func defaultBackoff(attempt int) time.Duration {
	d := time.Duration(float64(200*time.Millisecond) * math.Pow(2, float64(attempt)))
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	jitter := 0.2 + rand.Float64()*0.4
	return time.Duration(float64(d) * jitter)
}

// RoundTrip sends req through the wrapped transport and, if the response
// qualifies, swaps in a body that resumes itself on a mid-stream failure.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp == nil || !qualifiesForResume(req, resp) {
		return resp, err
	}

	stream := newResumingBody(req, resp, t)
	resp.Body = stream
	if n, ok := stream.totalLength(); ok {
		resp.ContentLength = n
	} else {
		resp.ContentLength = -1
	}
	return resp, nil
}

func qualifiesForResume(req *http.Request, resp *http.Response) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return false
	}
	if !httprange.AcceptsBytes(resp.Header) {
		return false
	}
	if resp.Uncompressed || resp.Header.Get("Content-Encoding") != "" {
		return false
	}
	return true
}

// resumingBody is the io.ReadCloser installed on a resumable response. It
// tracks how many bytes of the logical stream it has delivered and, on a
// read error, asks the owning Transport for a fresh body starting at that
// offset.
type resumingBody struct {
	mu sync.Mutex

	ctx      context.Context
	owner    *Transport
	template *http.Request // basis for follow-up Range requests

	body io.ReadCloser // nil while a resume is pending

	delivered int64 // bytes handed to the caller so far
	wireStart int64 // offset of byte 0 of this stream on the origin's wire
	wireEnd   *int64
	total     *int64

	validator string // If-Range value to send on resume, if any

	attemptsUsed int
	eof          bool
}

func newResumingBody(req *http.Request, resp *http.Response, t *Transport) *resumingBody {
	rb := &resumingBody{
		ctx:       req.Context(),
		owner:     t,
		template:  req,
		body:      resp.Body,
		validator: httprange.StrongValidator(resp.Header),
	}

	if span, ok := httprange.ParseRangeHeader(req.Header.Get("Range")); ok {
		rb.wireStart = span.Start
		if span.HasEnd() {
			end := span.End
			rb.wireEnd = &end
		}
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if cr, ok := httprange.ParseContentRangeHeader(resp.Header.Get("Content-Range")); ok {
			rb.wireStart = cr.Start
			end := cr.End
			rb.wireEnd = &end
			if cr.Total >= 0 {
				total := cr.Total
				rb.total = &total
			}
		}
	case http.StatusOK:
		if resp.ContentLength >= 0 {
			total := resp.ContentLength
			rb.total = &total
		}
	}
	return rb
}

// totalLength reports the exact byte count this body will produce, if the
// initial response disclosed enough to know it up front.
func (rb *resumingBody) totalLength() (int64, bool) {
	if rb.wireEnd != nil {
		return *rb.wireEnd - rb.wireStart + 1, true
	}
	if rb.total != nil {
		return *rb.total, true
	}
	return 0, false
}

func (rb *resumingBody) Read(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.eof {
		return 0, io.EOF
	}
	if rb.body == nil {
		if err := rb.reconnect(); err != nil {
			return 0, err
		}
	}

	n, err := rb.body.Read(p)
	rb.delivered += int64(n)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		rb.eof = true
		return n, io.EOF
	}

	// Mid-stream failure: drop the broken body and let the caller come back
	// for more, unless we already have bytes to hand them first.
	rb.body.Close()
	rb.body = nil
	if n > 0 {
		return n, nil
	}
	if rb.attemptsUsed >= rb.owner.maxAttempts {
		return 0, err
	}
	if rerr := rb.reconnect(); rerr != nil {
		return 0, rerr
	}
	n, err = rb.body.Read(p)
	rb.delivered += int64(n)
	if errors.Is(err, io.EOF) {
		rb.eof = true
	}
	return n, err
}

func (rb *resumingBody) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.body == nil {
		return nil
	}
	return rb.body.Close()
}

// reconnect issues follow-up Range requests, starting at the byte this body
// has already delivered, until one succeeds, the remaining resource proves
// already fully delivered, or the retry budget runs out. Callers must hold
// rb.mu.
func (rb *resumingBody) reconnect() error {
	budget := rb.owner.maxAttempts - rb.attemptsUsed
	for attempt := 0; attempt < budget; attempt++ {
		if err := rb.ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 || rb.attemptsUsed > 0 {
			if err := sleep(rb.ctx, rb.owner.backoff(rb.attemptsUsed+attempt)); err != nil {
				return err
			}
		}

		start := rb.wireStart + rb.delivered
		req := rb.followUpRequest(start)
		resp, err := rb.owner.next.RoundTrip(req)
		if err != nil {
			continue
		}

		switch resp.StatusCode {
		case http.StatusPartialContent:
			cr, ok := httprange.ParseContentRangeHeader(resp.Header.Get("Content-Range"))
			if !ok || cr.Start != start {
				resp.Body.Close()
				continue
			}
			rb.adopt(resp, cr)
			rb.attemptsUsed++
			return nil
		case http.StatusRequestedRangeNotSatisfiable:
			resp.Body.Close()
			if rb.alreadyComplete(rb.delivered) {
				rb.eof = true
				return io.EOF
			}
		case http.StatusOK:
			resp.Body.Close()
			return fmt.Errorf("resumable: server returned 200 to a range request; resource likely changed underneath us")
		default:
			resp.Body.Close()
		}
	}
	return fmt.Errorf("resumable: exceeded resume budget (%d attempts)", rb.owner.maxAttempts)
}

func (rb *resumingBody) followUpRequest(start int64) *http.Request {
	req := rb.template.Clone(rb.ctx)
	req.Body = nil
	req.ContentLength = 0
	req.Header = httprange.CloneHeader(rb.template.Header)
	httprange.StripConditionalHeaders(req.Header)
	req.Header.Set("Range", httprange.FormatRangeHeader(httprange.Span{Start: start, End: endOrMinusOne(rb.wireEnd)}))
	if rb.validator != "" {
		req.Header.Set("If-Range", rb.validator)
	}
	req.Header.Set("Accept-Encoding", "identity")
	return req
}

func endOrMinusOne(end *int64) int64 {
	if end == nil {
		return -1
	}
	return *end
}

func (rb *resumingBody) adopt(resp *http.Response, cr httprange.ContentRange) {
	rb.body = resp.Body
	if v := httprange.StrongValidator(resp.Header); v != "" {
		rb.validator = v
	}
	end := cr.End
	rb.wireEnd = &end
	if cr.Total >= 0 {
		total := cr.Total
		rb.total = &total
	}
}

func (rb *resumingBody) alreadyComplete(delivered int64) bool {
	pos := rb.wireStart + delivered
	if rb.total != nil && pos >= *rb.total {
		return true
	}
	if rb.wireEnd != nil && pos >= *rb.wireEnd+1 {
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
