// Package orchestrator implements the top-level convert algorithm: validate
// options, acquire input, plan a strategy, dispatch page tasks to the
// worker pool, stream results to the output sink, and aggregate the call's
// Result. Follows the same request-handling shape as a long-lived-resource
// HTTP handler: validate up front, resolve a long-lived resource once, fan
// work out through an errgroup, stream results to their destination instead
// of buffering them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/docker/pdfraster/pkg/acquire"
	"github.com/docker/pdfraster/pkg/config"
	"github.com/docker/pdfraster/pkg/encode"
	"github.com/docker/pdfraster/pkg/logging"
	"github.com/docker/pdfraster/pkg/metrics"
	"github.com/docker/pdfraster/pkg/outputsink"
	"github.com/docker/pdfraster/pkg/plan"
	"github.com/docker/pdfraster/pkg/progress"
	"github.com/docker/pdfraster/pkg/rangefetch"
	"github.com/docker/pdfraster/pkg/render"
	"github.com/docker/pdfraster/pkg/render/native"
	"github.com/docker/pdfraster/pkg/render/portable"
	"github.com/docker/pdfraster/pkg/workerpool"
)

// DefaultPageCount is how many leading pages are rendered when the caller
// specifies no page selection at all.
const DefaultPageCount = 6

// Renderer names an explicit decoder override; RendererAuto defers to the
// StrategyPlanner.
type Renderer string

const (
	RendererAuto     Renderer = "auto"
	RendererNative   Renderer = "native"
	RendererPortable Renderer = "portable"
)

// PageSelection names which pages a convert call renders.
type PageSelection struct {
	All      bool
	Explicit []int // ignored if All is true
}

// AllPages selects every page in the document.
func AllPages() PageSelection { return PageSelection{All: true} }

// ExplicitPages selects exactly the given 1-based page indices.
func ExplicitPages(pages []int) PageSelection { return PageSelection{Explicit: pages} }

// DefaultPages selects the first DefaultPageCount pages.
func DefaultPages() PageSelection { return PageSelection{} }

func (s PageSelection) isDefault() bool { return !s.All && len(s.Explicit) == 0 }

// RenderKnobs are the per-call rendering knobs.
type RenderKnobs struct {
	TargetWidthPx           int
	ImageHeavyTargetWidthPx int
	MaxScale                float64
	DetectScan              bool
}

// DefaultRenderKnobs returns the documented default rendering knobs.
func DefaultRenderKnobs() RenderKnobs {
	return RenderKnobs{TargetWidthPx: 1280, ImageHeavyTargetWidthPx: 1024, MaxScale: 4.0, DetectScan: true}
}

// Options configures one Convert call.
type Options struct {
	Pages    PageSelection
	Render   RenderKnobs
	Encode   encode.Options
	Renderer Renderer
	Output   outputsink.Config

	// Progress, if non-nil, receives per-page lifecycle events as they occur.
	Progress *progress.Reporter
}

// Timing breaks down a convert call's wall-clock cost.
type Timing struct {
	TotalMs  int64
	RenderMs int64
	EncodeMs int64
}

// Result is the aggregate outcome of one Convert call.
type Result struct {
	Success      bool
	NumPages     int
	RenderedPages int
	Format       encode.Format
	RendererUsed render.Kind
	Pages        []outputsink.DeliveryResult
	Timing       Timing
	StreamStats  *rangefetch.Stats
}

// Sentinel error kinds that can abort a whole call. Per-page failures never
// use these; they're attached to that page's DeliveryResult instead.
var (
	ErrInvalidInput = errors.New("orchestrator: invalid input")
	ErrCancelled    = errors.New("orchestrator: cancelled")
	ErrConfigError  = errors.New("orchestrator: no viable strategy")
)

// Orchestrator drives one or more Convert calls against a shared Config,
// Acquirer, WorkerPool, and metrics Tracker.
type Orchestrator struct {
	cfg      *config.Config
	acquirer *acquire.Acquirer
	pool     *workerpool.Pool
	tracker  *metrics.Tracker
	log      logging.Logger
}

// New constructs an Orchestrator. pool must already have Run(ctx) started by
// the caller for the lifetime of the process.
func New(cfg *config.Config, acquirer *acquire.Acquirer, pool *workerpool.Pool, tracker *metrics.Tracker) *Orchestrator {
	log := cfg.Log
	if log == nil {
		log = logging.NewDefault()
	}
	return &Orchestrator{cfg: cfg, acquirer: acquirer, pool: pool, tracker: tracker, log: log}
}

// Convert runs the full acquire-plan-render-encode-deliver pipeline for one
// input against one set of Options.
func (o *Orchestrator) Convert(ctx context.Context, src acquire.Source, opts Options) (*Result, error) {
	start := time.Now()

	_, encOpts, err := normalizeEncodeOptions(opts.Encode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	renderKnobs := opts.Render
	if renderKnobs.TargetWidthPx == 0 {
		renderKnobs = DefaultRenderKnobs()
	}

	sink, err := outputsink.New(opts.Output)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	acquired, err := o.acquirer.Acquire(ctx, src, false)
	if err != nil {
		return nil, err
	}
	defer acquired.Cleanup()

	pageCount := o.probePageCount(ctx, acquired)

	strategy, err := o.decideStrategy(acquired, opts.Renderer, pageCount)
	if err != nil {
		return nil, err
	}
	if o.tracker != nil {
		o.tracker.IncStrategy(strategy.Kind.String())
	}
	o.log.WithField("strategy", strategy.Kind.String()).Infof("Chosen strategy: %s", strategy.Reason)

	if strategy.RequiresBuffered() && acquired.Kind == acquire.Streamed {
		if err := acquired.EnsureBuffered(ctx); err != nil {
			return nil, fmt.Errorf("orchestrator: forcing full download: %w", err)
		}
	}

	if pageCount == 0 {
		pageCount, err = o.finalizePageCount(ctx, acquired, strategy)
		if err != nil {
			return nil, fmt.Errorf("%w: opening decoder: %s", ErrConfigError, err)
		}
	}

	targets := resolveTargetPages(opts.Pages, pageCount)

	decoderOptions := toRenderOptions(renderKnobs)
	openDecoder := func(ctx context.Context) (render.Decoder, error) {
		return o.openDecoder(ctx, acquired, strategy)
	}
	encoder := encode.New(encOpts, o.cfg.Capabilities.NativeWebPAvailable)

	results, renderMs, encodeMs, err := o.dispatchPages(ctx, targets, decoderOptions, openDecoder, encoder, sink, opts.Progress)
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].PageIndex < results[j].PageIndex })

	rendered := 0
	for _, r := range results {
		if r.Success {
			rendered++
		}
	}

	result := &Result{
		Success:       true,
		NumPages:      pageCount,
		RenderedPages: rendered,
		Format:        encoder.Format(),
		RendererUsed:  strategyDecoderKind(strategy),
		Pages:         results,
		Timing: Timing{
			TotalMs:  time.Since(start).Milliseconds(),
			RenderMs: renderMs,
			EncodeMs: encodeMs,
		},
	}
	if acquired.Fetcher != nil {
		stats := acquired.Fetcher.Stats()
		result.StreamStats = &stats
	}
	return result, nil
}

// InfoResult is the lightweight result of probing an input without
// rendering any pages, backing the CLI's `info` subcommand.
type InfoResult struct {
	NumPages  int
	SizeBytes int64
}

// Info acquires src and determines its page count and byte size without
// rendering or encoding anything, using the cheapest decoder the strategy
// planner would pick for it.
func (o *Orchestrator) Info(ctx context.Context, src acquire.Source) (*InfoResult, error) {
	acquired, err := o.acquirer.Acquire(ctx, src, false)
	if err != nil {
		return nil, err
	}
	defer acquired.Cleanup()

	pageCount := o.probePageCount(ctx, acquired)
	if pageCount == 0 {
		strategy, err := o.decideStrategy(acquired, RendererAuto, pageCount)
		if err != nil {
			return nil, err
		}
		if strategy.RequiresBuffered() && acquired.Kind == acquire.Streamed {
			if err := acquired.EnsureBuffered(ctx); err != nil {
				return nil, fmt.Errorf("orchestrator: forcing full download: %w", err)
			}
		}
		pageCount, err = o.finalizePageCount(ctx, acquired, strategy)
		if err != nil {
			return nil, fmt.Errorf("%w: opening decoder: %s", ErrConfigError, err)
		}
	}

	return &InfoResult{NumPages: pageCount, SizeBytes: acquired.Size}, nil
}

func normalizeEncodeOptions(opts encode.Options) (encode.Format, encode.Options, error) {
	if opts == (encode.Options{}) {
		opts = encode.DefaultOptions()
	}
	format, err := encode.ParseFormat(string(opts.Format))
	if err != nil {
		return "", opts, err
	}
	opts.Format = format
	return format, opts, nil
}

// probePageCount best-effort decodes the prefix with the portable decoder
// to learn page_count cheaply before a strategy is even chosen. Failure is
// tolerated; pageCount stays 0 (unknown).
func (o *Orchestrator) probePageCount(ctx context.Context, acquired *acquire.AcquiredInput) int {
	dec, err := portable.Open(ctx, acquired)
	if err != nil {
		return 0
	}
	defer dec.Close()
	n, err := dec.PageCount(ctx)
	if err != nil {
		return 0
	}
	return n
}

func (o *Orchestrator) decideStrategy(acquired *acquire.AcquiredInput, override Renderer, pageCount int) (plan.Strategy, error) {
	buffered := acquired.Kind == acquire.Buffered
	switch override {
	case RendererNative:
		if !o.cfg.Capabilities.NativeDecoderAvailable {
			return plan.Strategy{}, fmt.Errorf("%w: native renderer requested but unavailable", ErrConfigError)
		}
		if buffered {
			return plan.Strategy{Kind: plan.NativeFull, Reason: "explicit native override"}, nil
		}
		return plan.Strategy{Kind: plan.NativeStreamed, Reason: "explicit native override"}, nil
	case RendererPortable:
		if buffered {
			return plan.Strategy{Kind: plan.PortableFull, Reason: "explicit portable override"}, nil
		}
		return plan.Strategy{Kind: plan.PortableStreamed, Reason: "explicit portable override"}, nil
	default:
		return plan.Decide(plan.Input{
			SizeBytes:             acquired.Size,
			PageCountIfKnown:      pageCount,
			AlreadyBuffered:       buffered,
			NativeAvailable:       o.cfg.Capabilities.NativeDecoderAvailable,
			NativeStreamAvailable: o.cfg.Capabilities.NativeStreamAvailable,
			Thresholds:            o.cfg.Thresholds,
		}), nil
	}
}

func strategyDecoderKind(s plan.Strategy) render.Kind {
	if s.IsNative() {
		return render.KindNative
	}
	return render.KindPortable
}

func (o *Orchestrator) openDecoder(ctx context.Context, acquired *acquire.AcquiredInput, strategy plan.Strategy) (render.Decoder, error) {
	if strategy.IsNative() {
		return native.Open(ctx, acquired, o.log, o.cfg.MaxHeapBytesPerWorker)
	}
	return portable.Open(ctx, acquired)
}

func (o *Orchestrator) finalizePageCount(ctx context.Context, acquired *acquire.AcquiredInput, strategy plan.Strategy) (int, error) {
	dec, err := o.openDecoder(ctx, acquired, strategy)
	if err != nil {
		return 0, err
	}
	defer dec.Close()
	return dec.PageCount(ctx)
}

// resolveTargetPages filters the requested page selection down to valid
// indices: any out-of-range index is dropped, the default selection becomes
// the first DefaultPageCount pages, and "all" expands to every known page.
func resolveTargetPages(sel PageSelection, pageCount int) []int {
	if sel.All {
		out := make([]int, pageCount)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}
	if sel.isDefault() {
		n := DefaultPageCount
		if pageCount > 0 && n > pageCount {
			n = pageCount
		}
		out := make([]int, n)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}

	seen := make(map[int]bool, len(sel.Explicit))
	var filtered []int
	for _, p := range sel.Explicit {
		if p < 1 || (pageCount > 0 && p > pageCount) || seen[p] {
			continue
		}
		seen[p] = true
		filtered = append(filtered, p)
	}
	sort.Ints(filtered)
	return filtered
}

func toRenderOptions(k RenderKnobs) render.Options {
	return render.Options{
		TargetWidthPx:           k.TargetWidthPx,
		ImageHeavyTargetWidthPx: k.ImageHeavyTargetWidthPx,
		MaxScale:                k.MaxScale,
		DetectScan:              k.DetectScan,
		CodecMaxDim:             encode.CodecMaxDim,
		CodecMaxPixels:          encode.CodecMaxPixels,
	}
}

// dispatchPages fans one goroutine out per target page, gated by the
// WorkerPool's lease capacity, and streams each EncodedPage to the
// OutputSink as soon as it's ready rather than waiting for the whole set.
// Sink delivery itself is bounded independently by the sink's own
// advertised concurrency.
func (o *Orchestrator) dispatchPages(
	ctx context.Context,
	targets []int,
	renderOpts render.Options,
	openDecoder func(context.Context) (render.Decoder, error),
	encoder *encode.Encoder,
	sink outputsink.Sink,
	reporter *progress.Reporter,
) ([]outputsink.DeliveryResult, int64, int64, error) {
	if len(targets) == 0 {
		return nil, 0, 0, nil
	}

	var slotMu sync.Mutex
	slotWorkers := make(map[int]*workerpool.Worker)
	defer func() {
		slotMu.Lock()
		for _, w := range slotWorkers {
			_ = w.Close()
		}
		slotMu.Unlock()
	}()

	getWorker := func(ctx context.Context, slot int) (*workerpool.Worker, error) {
		slotMu.Lock()
		defer slotMu.Unlock()
		if w, ok := slotWorkers[slot]; ok {
			return w, nil
		}
		dec, err := openDecoder(ctx)
		if err != nil {
			return nil, err
		}
		w := workerpool.NewWorker(o.log, dec, encoder, o.cfg.MaxHeapBytesPerWorker, o.cfg.TailBufferCapacity)
		slotWorkers[slot] = w
		return w, nil
	}

	sinkSem := semaphore.NewWeighted(int64(sink.Concurrency()))
	ext, contentType := encoder.Ext(), encoder.ContentType()

	var resultsMu sync.Mutex
	var results []outputsink.DeliveryResult
	var renderMsTotal, encodeMsTotal int64

	g, gctx := errgroup.WithContext(ctx)
	for _, pageIndex := range targets {
		pageIndex := pageIndex
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return ErrCancelled
			}

			lease, err := o.pool.Lease(gctx)
			if err != nil {
				if errors.Is(err, workerpool.ErrAcquireCanceled) {
					return ErrCancelled
				}
				return err
			}
			defer lease.Release()

			worker, err := getWorker(gctx, lease.Slot)
			if err != nil {
				return err
			}

			page := worker.ProcessPage(gctx, workerpool.PageTask{PageIndex: pageIndex, RenderOpts: renderOpts})
			resultsMu.Lock()
			renderMsTotal += page.RenderTimeMs
			encodeMsTotal += page.EncodeTimeMs
			resultsMu.Unlock()

			if reporter != nil {
				if page.Success {
					reporter.Report(progress.Event{Kind: progress.EventEncoded, PageIndex: pageIndex, PagesTotal: len(targets)})
				} else {
					reporter.Report(progress.Event{Kind: progress.EventFailed, PageIndex: pageIndex, PagesTotal: len(targets), Message: page.Error.Error()})
				}
			}
			if o.tracker != nil {
				o.tracker.ObserveRenderMs(float64(page.RenderTimeMs))
				o.tracker.ObserveEncodeMs(float64(page.EncodeTimeMs))
				o.tracker.ObservePageResult(page.Success)
			}

			if err := sinkSem.Acquire(gctx, 1); err != nil {
				return err
			}
			deliverStart := time.Now()
			delivery := sink.DeliverOne(gctx, page, ext, contentType)
			sinkSem.Release(1)
			if o.tracker != nil {
				o.tracker.ObserveOutputMs(float64(time.Since(deliverStart).Milliseconds()))
			}
			if reporter != nil {
				reporter.Report(progress.Event{Kind: progress.EventDelivered, PageIndex: pageIndex, PagesTotal: len(targets)})
			}

			resultsMu.Lock()
			results = append(results, delivery)
			resultsMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
			return nil, 0, 0, ErrCancelled
		}
		return nil, 0, 0, err
	}

	return results, renderMsTotal, encodeMsTotal, nil
}
