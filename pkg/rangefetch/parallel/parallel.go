// Package parallel wraps an http.RoundTripper so a single large GET is
// fetched as several concurrent byte-range requests instead of one
// sequential stream, then stitched back together transparently for the
// caller.
//
// A GET first gets a HEAD probe to learn the resource's size and whether
// the origin advertises "Accept-Ranges: bytes"; if it does and the body is
// large enough to be worth splitting, the transport launches one goroutine
// per chunk, each writing its bytes through a spool file, and returns a
// Response whose Body reads the chunks back in order. Anything that isn't a
// plain GET (non-GET methods, a caller-supplied Range, an origin that can't
// or won't split) passes straight through to the wrapped transport.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/pdfraster/pkg/rangefetch/internal/httprange"
	"github.com/docker/pdfraster/pkg/rangefetch/internal/spool"
)

// Option configures a Transport.
type Option func(*Transport)

// WithPerHostLimit caps concurrent requests to each hostname; "" sets the
// default applied to hosts with no specific entry.
func WithPerHostLimit(limits map[string]uint) Option {
	return func(t *Transport) {
		t.perHostLimit = make(map[string]uint, len(limits))
		for host, n := range limits {
			t.perHostLimit[host] = n
		}
	}
}

// WithSplitWidth sets how many concurrent chunks a single request is split
// into. Default: 4.
func WithSplitWidth(n uint) Option {
	return func(t *Transport) { t.splitWidth = n }
}

// WithMinSplittableSize sets the minimum chunk size; a resource is split only
// when it is at least this size times the split width. Default: 1MiB.
func WithMinSplittableSize(n int64) Option {
	return func(t *Transport) { t.minSplittable = n }
}

// WithTempDir sets the directory chunk spool files are created in.
func WithTempDir(dir string) Option {
	return func(t *Transport) { t.tempDir = dir }
}

// Transport is an http.RoundTripper that splits eligible GET requests into
// concurrent byte-range requests.
type Transport struct {
	next http.RoundTripper

	perHostLimit  map[string]uint
	splitWidth    uint
	minSplittable int64
	tempDir       string

	hostGatesMu sync.RWMutex
	hostGates   map[string]*gate
}

// New wraps next (http.DefaultTransport if nil).
func New(next http.RoundTripper, opts ...Option) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	t := &Transport{
		next:          next,
		perHostLimit:  map[string]uint{"": 4},
		splitWidth:    4,
		minSplittable: 1 << 20,
		tempDir:       os.TempDir(),
		hostGates:     make(map[string]*gate),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.next.RoundTrip(req)
	}
	if strings.TrimSpace(req.Header.Get("Range")) != "" {
		return t.next.RoundTrip(req)
	}

	probe, err := t.probe(req)
	if err != nil {
		return nil, err
	}
	if probe == nil || probe.size < t.minSplittable*int64(t.splitWidth) {
		return t.next.RoundTrip(req)
	}
	return t.fetchSplit(req, probe)
}

// splitProbe is what a HEAD request discloses about a resource before the
// transport commits to splitting the GET that follows it.
type splitProbe struct {
	size         int64
	validator    string
	etag         string
	header       http.Header
	proto        string
	protoMajor   int
	protoMinor   int
}

// probe issues a HEAD to learn whether req's target can be split. It
// returns a nil probe (not an error) whenever splitting isn't possible, so
// RoundTrip's fallback path is a single plain branch.
func (t *Transport) probe(req *http.Request) (*splitProbe, error) {
	head := req.Clone(req.Context())
	head.Method = http.MethodHead
	head.Body = nil
	head.ContentLength = 0
	head.Header = req.Header.Clone()
	httprange.StripConditionalHeaders(head.Header)
	head.Header.Set("Accept-Encoding", "identity")

	resp, err := t.next.RoundTrip(head)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, nil
	}
	if !httprange.AcceptsBytes(resp.Header) {
		return nil, nil
	}
	if resp.Header.Get("Content-Encoding") != "" {
		return nil, nil
	}

	size := resp.ContentLength
	if size <= 0 && resp.StatusCode == http.StatusPartialContent {
		if cr, ok := httprange.ParseContentRangeHeader(resp.Header.Get("Content-Range")); ok && cr.Total > 0 {
			size = cr.Total
		}
	}
	if size <= 0 {
		return nil, nil
	}

	return &splitProbe{
		size:       size,
		validator:  httprange.StrongValidator(resp.Header),
		header:     resp.Header.Clone(),
		proto:      resp.Proto,
		protoMajor: resp.ProtoMajor,
		protoMinor: resp.ProtoMinor,
	}, nil
}

// fetchSplit launches one goroutine per chunk and returns a Response whose
// Body stitches their spooled output back together in order.
func (t *Transport) fetchSplit(req *http.Request, probe *splitProbe) (*http.Response, error) {
	bounds := splitBounds(probe.size, int(t.splitWidth), t.minSplittable)
	g := t.gateFor(req.URL.Host)

	pieces := make([]*piece, len(bounds))
	for i, b := range bounds {
		sp, err := spool.New(t.tempDir)
		if err != nil {
			for j := 0; j < i; j++ {
				pieces[j].spool.Close()
			}
			return nil, fmt.Errorf("parallel: allocating chunk spool: %w", err)
		}
		pieces[i] = &piece{span: b, spool: sp}
	}

	for i, p := range pieces {
		go func(i int, p *piece) {
			if err := t.downloadPiece(req, p, g, probe); err != nil {
				p.fail(err)
				p.spool.Close()
				return
			}
			p.spool.CloseWrite()
		}(i, p)
	}

	body := &stitcher{pieces: pieces, ctx: req.Context()}
	resp := &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         probe.proto,
		ProtoMajor:    probe.protoMajor,
		ProtoMinor:    probe.protoMinor,
		Header:        probe.header.Clone(),
		Body:          body,
		ContentLength: probe.size,
		Request:       req,
	}
	resp.Header.Set("Content-Length", strconv.FormatInt(probe.size, 10))
	resp.Header.Del("Content-Range")
	return resp, nil
}

// splitBounds divides [0, size) into up to width inclusive byte spans, each
// at least minChunk bytes wide (the last span absorbs any remainder).
func splitBounds(size int64, width int, minChunk int64) []httprange.Span {
	if size < int64(width)*minChunk {
		width = int(size / minChunk)
	}
	if width < 1 {
		width = 1
	}
	chunkSize := size / int64(width)
	remainder := size % int64(width)

	bounds := make([]httprange.Span, width)
	var start int64
	for i := 0; i < width; i++ {
		n := chunkSize
		if i == width-1 {
			n += remainder
		}
		bounds[i] = httprange.Span{Start: start, End: start + n - 1}
		start += n
	}
	return bounds
}

// piece is one chunk of a split download, buffered through a spool file so
// the network goroutine and the reading goroutine don't have to rendezvous
// byte-for-byte.
type piece struct {
	span  httprange.Span
	spool *spool.File

	mu  sync.Mutex
	err error
}

func (p *piece) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *piece) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (t *Transport) downloadPiece(origReq *http.Request, p *piece, g *gate, probe *splitProbe) error {
	if err := g.enter(origReq.Context()); err != nil {
		return err
	}
	defer g.leave()

	req := origReq.Clone(origReq.Context())
	req.Header = origReq.Header.Clone()
	req.Header.Set("Range", httprange.FormatRangeHeader(p.span))
	req.Header.Set("Accept-Encoding", "identity")
	if probe.validator != "" {
		req.Header.Set("If-Range", probe.validator)
	}
	httprange.StripConditionalHeaders(req.Header)

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return fmt.Errorf("parallel: origin returned 200 to a range request (If-Range validation failed)")
	}
	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("parallel: expected 206, got %d", resp.StatusCode)
	}
	if cr, ok := httprange.ParseContentRangeHeader(resp.Header.Get("Content-Range")); ok {
		if cr.Start != p.span.Start || cr.End != p.span.End {
			return fmt.Errorf("parallel: origin served %d-%d, wanted %d-%d", cr.Start, cr.End, p.span.Start, p.span.End)
		}
	}

	want := p.span.End - p.span.Start + 1
	got, err := io.Copy(p.spool, resp.Body)
	if err != nil {
		return fmt.Errorf("parallel: copying chunk body: %w", err)
	}
	if got != want {
		return fmt.Errorf("parallel: short chunk: got %d bytes, want %d", got, want)
	}
	return nil
}

// gateFor returns the concurrency gate for host, creating it under the
// configured per-host limit if this is the first chunk download to reach
// it.
func (t *Transport) gateFor(host string) *gate {
	canon := canonicalHost(host)

	t.hostGatesMu.RLock()
	g, ok := t.hostGates[canon]
	t.hostGatesMu.RUnlock()
	if ok {
		return g
	}

	t.hostGatesMu.Lock()
	defer t.hostGatesMu.Unlock()
	if g, ok := t.hostGates[canon]; ok {
		return g
	}
	limit := t.perHostLimit[canon]
	if limit == 0 {
		limit = t.perHostLimit[""]
	}
	g = newGate(int(limit))
	t.hostGates[canon] = g
	return g
}

func canonicalHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// stitcher is the Response.Body for a split download: it reads each piece's
// spool in order, presenting one continuous stream.
type stitcher struct {
	mu     sync.Mutex
	pieces []*piece
	next   int
	ctx    context.Context
	closed bool
}

func (s *stitcher) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.New("parallel: read from closed response body")
	}
	if s.next >= len(s.pieces) {
		s.mu.Unlock()
		return 0, io.EOF
	}
	cur := s.pieces[s.next]
	s.mu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	if err := cur.failure(); err != nil {
		return 0, err
	}

	n, err := cur.spool.Read(p)
	if err == io.EOF {
		if ferr := cur.failure(); ferr != nil {
			return n, ferr
		}
		s.mu.Lock()
		s.next++
		s.mu.Unlock()
		if n > 0 {
			return n, nil
		}
		return s.Read(p)
	}
	return n, err
}

func (s *stitcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []string
	for _, p := range s.pieces {
		if err := p.spool.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("parallel: closing chunk spools: %s", strings.Join(errs, "; "))
	}
	return nil
}

// gate is a counting semaphore limiting how many chunk downloads run
// concurrently against one host. A zero-capacity gate never blocks.
type gate struct {
	slots chan struct{}
}

func newGate(capacity int) *gate {
	if capacity <= 0 {
		return &gate{}
	}
	return &gate{slots: make(chan struct{}, capacity)}
}

func (g *gate) enter(ctx context.Context) error {
	if g.slots == nil {
		return nil
	}
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) leave() {
	if g.slots == nil {
		return
	}
	<-g.slots
}
