package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/pdfraster/pkg/acquire"
	"github.com/docker/pdfraster/pkg/config"
	"github.com/docker/pdfraster/pkg/logging"
	"github.com/docker/pdfraster/pkg/metrics"
	"github.com/docker/pdfraster/pkg/outputsink"
	"github.com/docker/pdfraster/pkg/progress"
	"github.com/docker/pdfraster/pkg/workerpool"
)

// newTestReporter returns a progress.Reporter that appends each event's
// kind to events under a mutex, since events arrive from concurrent
// worker goroutines.
func newTestReporter(events *[]string) *progress.Reporter {
	var mu sync.Mutex
	return progress.New(nil, func(ev progress.Event) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, string(ev.Kind))
	})
}

// buildPDF assembles a minimal classic-xref PDF with the given page count
// and a fixed small MediaBox, matching the shape pkg/render/portable's own
// tests build against; duplicated here rather than imported since it is an
// unexported test helper in a different package.
func buildPDF(pageCount int) []byte {
	var objs []string
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pageCount)
	for i := 0; i < pageCount; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 200 300] >>",
		strings.Join(kids, " "), pageCount))
	for i := 0; i < pageCount; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /Resources << >> >>")
	}

	var buf strings.Builder
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int64, 0, len(objs))
	writeObj := func(num int, body string) {
		offsets = append(offsets, int64(buf.Len()))
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	writeObj(1, objs[0])
	writeObj(2, objs[1])
	for i := 0; i < pageCount; i++ {
		writeObj(3+i, objs[2+i])
	}

	xrefOffset := buf.Len()
	maxNum := 2 + pageCount
	buf.WriteString("xref\n")
	fmt.Fprintf(&buf, "0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= maxNum; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n-1])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\n", maxNum+1)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF", xrefOffset)

	return []byte(buf.String())
}

// newTestOrchestrator wires an Orchestrator against an in-process
// worker pool with the given number of slots and a real (but tiny) config, matching the
// "small in-package fake ... for orchestrator tests that don't want a real
// PDF or a real bucket" guidance: the fake here is the synthetic PDF bytes
// and the buffer sink, not a mocked decoder, since the portable decoder is
// cheap enough to exercise directly.
func newTestOrchestrator(t *testing.T, slots int) (*Orchestrator, func()) {
	t.Helper()
	cfg, err := config.Load(config.WithWorkerSlots(slots), config.WithLogger(logging.NewDefault()))
	require.NoError(t, err)

	pool := workerpool.NewPool(slots, workerpool.InProcess, cfg.Log, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)

	o := New(cfg, acquire.New(), pool, metrics.NewTracker())
	return o, cancel
}

func bufferOptions() Options {
	return Options{
		Pages:    DefaultPages(),
		Renderer: RendererPortable,
		Output:   outputsink.Config{Mode: outputsink.ModeBuffer},
	}
}

func TestConvertDefaultPageSelection(t *testing.T) {
	o, cancel := newTestOrchestrator(t, 2)
	defer cancel()

	src := acquire.FromBytes(buildPDF(10))
	result, err := o.Convert(context.Background(), src, bufferOptions())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 10, result.NumPages)
	assert.Equal(t, DefaultPageCount, result.RenderedPages)
	require.Len(t, result.Pages, DefaultPageCount)
	for i, p := range result.Pages {
		assert.Equal(t, i+1, p.PageIndex)
		assert.True(t, p.Success)
		assert.NotEmpty(t, p.Bytes)
	}
}

func TestConvertAllPages(t *testing.T) {
	o, cancel := newTestOrchestrator(t, 3)
	defer cancel()

	opts := bufferOptions()
	opts.Pages = AllPages()

	src := acquire.FromBytes(buildPDF(4))
	result, err := o.Convert(context.Background(), src, opts)
	require.NoError(t, err)

	assert.Equal(t, 4, result.NumPages)
	assert.Equal(t, 4, result.RenderedPages)
	require.Len(t, result.Pages, 4)
	for i, p := range result.Pages {
		assert.Equal(t, i+1, p.PageIndex)
	}
}

func TestConvertExplicitPagesFiltersOutOfRangeAndDuplicates(t *testing.T) {
	o, cancel := newTestOrchestrator(t, 2)
	defer cancel()

	opts := bufferOptions()
	opts.Pages = ExplicitPages([]int{-1, 2, 100, 2, 0, 3})

	src := acquire.FromBytes(buildPDF(5))
	result, err := o.Convert(context.Background(), src, opts)
	require.NoError(t, err)

	require.Len(t, result.Pages, 2)
	assert.Equal(t, 2, result.Pages[0].PageIndex)
	assert.Equal(t, 3, result.Pages[1].PageIndex)
}

func TestConvertResultsOrderedByPageIndexRegardlessOfCompletionOrder(t *testing.T) {
	o, cancel := newTestOrchestrator(t, 4)
	defer cancel()

	opts := bufferOptions()
	opts.Pages = AllPages()

	src := acquire.FromBytes(buildPDF(8))
	result, err := o.Convert(context.Background(), src, opts)
	require.NoError(t, err)

	require.Len(t, result.Pages, 8)
	for i := 1; i < len(result.Pages); i++ {
		assert.Less(t, result.Pages[i-1].PageIndex, result.Pages[i].PageIndex)
	}
}

func TestConvertCancelledContext(t *testing.T) {
	o, cancel := newTestOrchestrator(t, 2)
	defer cancel()

	ctx, cancelNow := context.WithCancel(context.Background())
	cancelNow()

	src := acquire.FromBytes(buildPDF(3))
	opts := bufferOptions()
	opts.Pages = AllPages()

	_, err := o.Convert(ctx, src, opts)
	require.Error(t, err)
}

func TestConvertRejectsUnknownOutputMode(t *testing.T) {
	o, cancel := newTestOrchestrator(t, 1)
	defer cancel()

	opts := bufferOptions()
	opts.Output = outputsink.Config{Mode: "bogus"}

	src := acquire.FromBytes(buildPDF(1))
	_, err := o.Convert(context.Background(), src, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConvertProgressReporterReceivesEvents(t *testing.T) {
	o, cancel := newTestOrchestrator(t, 2)
	defer cancel()

	var events []string
	opts := bufferOptions()
	opts.Pages = AllPages()
	opts.Progress = newTestReporter(&events)

	src := acquire.FromBytes(buildPDF(3))
	result, err := o.Convert(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RenderedPages)
	assert.NotEmpty(t, events)
}

func TestConvertTimingIsPopulated(t *testing.T) {
	o, cancel := newTestOrchestrator(t, 2)
	defer cancel()

	src := acquire.FromBytes(buildPDF(2))
	result, err := o.Convert(context.Background(), src, bufferOptions())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.Timing.TotalMs, int64(0))
	assert.Nil(t, result.StreamStats, "in-memory source has no Fetcher, so no stream stats")
}
