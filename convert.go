// Package pdfraster converts PDF documents into per-page raster images
// (WebP, PNG, or JPEG) and delivers them to disk, an in-memory buffer, or a
// remote object store. This file is the library's public entry point; the
// actual pipeline lives in pkg/orchestrator and the packages it composes.
package pdfraster

import (
	"context"

	"github.com/docker/pdfraster/pkg/acquire"
	"github.com/docker/pdfraster/pkg/config"
	"github.com/docker/pdfraster/pkg/metrics"
	"github.com/docker/pdfraster/pkg/orchestrator"
	"github.com/docker/pdfraster/pkg/workerpool"
)

// Re-exported so everyday callers only need to import this root package.
type (
	Source        = acquire.Source
	Options       = orchestrator.Options
	Result        = orchestrator.Result
	PageSelection = orchestrator.PageSelection
	RenderKnobs   = orchestrator.RenderKnobs
	Renderer      = orchestrator.Renderer
	Timing        = orchestrator.Timing
)

const (
	RendererAuto     = orchestrator.RendererAuto
	RendererNative   = orchestrator.RendererNative
	RendererPortable = orchestrator.RendererPortable
)

// Sentinel call-level errors; per-page failures are never reported this
// way, see Result.Pages[i].Error instead.
var (
	ErrInvalidInput   = orchestrator.ErrInvalidInput
	ErrCancelled      = orchestrator.ErrCancelled
	ErrConfigError    = orchestrator.ErrConfigError
	ErrSourceNotFound = acquire.ErrSourceNotFound
)

func FromPath(path string) Source { return acquire.FromPath(path) }
func FromBytes(b []byte) Source   { return acquire.FromBytes(b) }
func FromURL(url string) Source   { return acquire.FromURL(url) }

func AllPages() PageSelection                 { return orchestrator.AllPages() }
func ExplicitPages(pages []int) PageSelection { return orchestrator.ExplicitPages(pages) }
func DefaultPages() PageSelection             { return orchestrator.DefaultPages() }
func DefaultRenderKnobs() RenderKnobs         { return orchestrator.DefaultRenderKnobs() }

// Client owns the process-wide resources a convert call needs: a resolved
// Config, an Acquirer, a WorkerPool (with its idle-eviction loop already
// running), and a metrics Tracker. Construct one per process and reuse it
// across calls — a fresh Client per call would re-probe capabilities and
// re-spin a worker pool for no benefit.
type Client struct {
	cfg     *config.Config
	pool    *workerpool.Pool
	tracker *metrics.Tracker
	orch    *orchestrator.Orchestrator
	cancel  context.CancelFunc
}

// NewClient probes capabilities, resolves configuration, and starts the
// worker pool's idle-eviction loop in the background. Call Close when done
// with it.
func NewClient(opts ...config.Option) (*Client, error) {
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}

	pool := workerpool.NewPool(cfg.WorkerSlots, cfg.WorkerMode, cfg.Log, cfg.WorkerIdleTimeout)
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)

	tracker := metrics.NewTracker()
	acquirer := acquire.New(acquire.WithLogger(cfg.Log))
	orch := orchestrator.New(cfg, acquirer, pool, tracker)

	return &Client{cfg: cfg, pool: pool, tracker: tracker, orch: orch, cancel: cancel}, nil
}

// Convert runs one end-to-end conversion: acquire src, pick a strategy,
// render and encode its pages, deliver them per opts.Output.
func (c *Client) Convert(ctx context.Context, src Source, opts Options) (*Result, error) {
	return c.orch.Convert(ctx, src, opts)
}

// InfoResult is the lightweight result of Info: a document's page count and
// byte size, without rendering or encoding anything.
type InfoResult = orchestrator.InfoResult

// Info acquires src and reports its page count and byte size, for the
// CLI's `info` subcommand. It never renders a page.
func (c *Client) Info(ctx context.Context, src Source) (*InfoResult, error) {
	return c.orch.Info(ctx, src)
}

// Metrics returns the Tracker backing this Client's convert calls, so a
// caller can export it (Prometheus scrape, log line, test assertion) on its
// own schedule.
func (c *Client) Metrics() *metrics.Tracker { return c.tracker }

// Config returns the Client's resolved, immutable configuration.
func (c *Client) Config() *config.Config { return c.cfg }

// Close stops the worker pool's idle-eviction loop and releases any warm
// isolated subprocess it's holding. It does not cancel in-flight Convert
// calls; callers should let those finish, or cancel their own ctx, first.
func (c *Client) Close() {
	c.cancel()
}
