// Package metrics tracks per-convert-call observability: render/encode/
// output duration histograms and strategy-selection counters, snapshotted
// as standard Prometheus metric families so a caller embedding this module
// can expose them however it likes (HTTP /metrics endpoint, log line, test
// assertion) without this package taking a dependency on any particular
// exposition transport.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// DefaultDurationBucketsMs are the histogram bucket upper bounds (in
// milliseconds) used for render/encode/output timings: fine-grained below
// 100ms (typical small pages), coarser above (scanned/oversized pages).
var DefaultDurationBucketsMs = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Tracker accumulates metrics for one or more convert calls. A single
// Tracker may be shared process-wide or constructed fresh per call; all
// methods are safe for concurrent use, since render/encode/output
// observations arrive from concurrent worker goroutines.
type Tracker struct {
	mu sync.Mutex

	renderMs *histogram
	encodeMs *histogram
	outputMs *histogram

	strategyCounts map[string]float64
	pagesSucceeded float64
	pagesFailed    float64
}

// NewTracker constructs a Tracker with DefaultDurationBucketsMs.
func NewTracker() *Tracker {
	return &Tracker{
		renderMs:       newHistogram(DefaultDurationBucketsMs),
		encodeMs:       newHistogram(DefaultDurationBucketsMs),
		outputMs:       newHistogram(DefaultDurationBucketsMs),
		strategyCounts: make(map[string]float64),
	}
}

// ObserveRenderMs records one page's render duration.
func (t *Tracker) ObserveRenderMs(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renderMs.observe(ms)
}

// ObserveEncodeMs records one page's encode duration.
func (t *Tracker) ObserveEncodeMs(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.encodeMs.observe(ms)
}

// ObserveOutputMs records one page's delivery duration.
func (t *Tracker) ObserveOutputMs(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputMs.observe(ms)
}

// IncStrategy increments the counter for a chosen Strategy kind (logged by
// its String() form, e.g. "native_full").
func (t *Tracker) IncStrategy(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strategyCounts[kind]++
}

// ObservePageResult records whether one page's overall processing
// succeeded, for the pdfraster_pages_total counter pair.
func (t *Tracker) ObservePageResult(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if success {
		t.pagesSucceeded++
	} else {
		t.pagesFailed++
	}
}

// Snapshot returns the current metric state as standard Prometheus metric
// families, safe to marshal/export at any point without blocking further
// observations (it copies under the lock and returns immediately).
func (t *Tracker) Snapshot() []*dto.MetricFamily {
	t.mu.Lock()
	defer t.mu.Unlock()

	families := []*dto.MetricFamily{
		t.renderMs.toMetricFamily("pdfraster_render_duration_milliseconds", "Page render duration in milliseconds"),
		t.encodeMs.toMetricFamily("pdfraster_encode_duration_milliseconds", "Page encode duration in milliseconds"),
		t.outputMs.toMetricFamily("pdfraster_output_duration_milliseconds", "Page delivery duration in milliseconds"),
		t.strategyCounterFamily(),
		t.pageResultCounterFamily(),
	}
	return families
}

// WriteText renders the current snapshot in the Prometheus text exposition
// format, the same format an HTTP metrics endpoint would serve (kept here
// as a plain io.Writer sink since this module owns no HTTP server).
func (t *Tracker) WriteText(w io.Writer) error {
	for _, mf := range t.Snapshot() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encoding %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func (t *Tracker) strategyCounterFamily() *dto.MetricFamily {
	name := "pdfraster_strategy_selections_total"
	help := "Count of convert calls by chosen strategy"
	typ := dto.MetricType_COUNTER

	kinds := make([]string, 0, len(t.strategyCounts))
	for k := range t.strategyCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	metrics := make([]*dto.Metric, 0, len(kinds))
	for _, k := range kinds {
		v := t.strategyCounts[k]
		kind := k
		labelName := "strategy"
		metrics = append(metrics, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: &labelName, Value: &kind}},
			Counter: &dto.Counter{Value: &v},
		})
	}
	return &dto.MetricFamily{Name: &name, Help: &help, Type: &typ, Metric: metrics}
}

func (t *Tracker) pageResultCounterFamily() *dto.MetricFamily {
	name := "pdfraster_pages_total"
	help := "Count of pages processed, by outcome"
	typ := dto.MetricType_COUNTER

	labelName := "outcome"
	succeeded, failed := "succeeded", "failed"
	succVal, failVal := t.pagesSucceeded, t.pagesFailed

	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: &typ,
		Metric: []*dto.Metric{
			{Label: []*dto.LabelPair{{Name: &labelName, Value: &succeeded}}, Counter: &dto.Counter{Value: &succVal}},
			{Label: []*dto.LabelPair{{Name: &labelName, Value: &failed}}, Counter: &dto.Counter{Value: &failVal}},
		},
	}
}

// histogram is a minimal cumulative-bucket histogram accumulator, matching
// the shape Prometheus's dto.Histogram expects directly (cumulative counts
// per upper bound) rather than per-bucket counts, so toMetricFamily needs no
// conversion pass.
type histogram struct {
	upperBounds []float64
	counts      []uint64 // cumulative, parallel to upperBounds
	sum         float64
	count       uint64
}

func newHistogram(upperBounds []float64) *histogram {
	bounds := append([]float64(nil), upperBounds...)
	sort.Float64s(bounds)
	return &histogram{upperBounds: bounds, counts: make([]uint64, len(bounds))}
}

func (h *histogram) observe(v float64) {
	h.sum += v
	h.count++
	for i, bound := range h.upperBounds {
		if v <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) toMetricFamily(name, help string) *dto.MetricFamily {
	typ := dto.MetricType_HISTOGRAM
	buckets := make([]*dto.Bucket, len(h.upperBounds))
	for i, bound := range h.upperBounds {
		b, c := bound, h.counts[i]
		buckets[i] = &dto.Bucket{UpperBound: &b, CumulativeCount: &c}
	}
	sum, count := h.sum, h.count
	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: &typ,
		Metric: []*dto.Metric{
			{Histogram: &dto.Histogram{SampleCount: &count, SampleSum: &sum, Bucket: buckets}},
		},
	}
}
