package workerpool

import (
	"context"
	"fmt"
	"time"

	sysinfo "github.com/elastic/go-sysinfo"

	"github.com/docker/pdfraster/pkg/encode"
	"github.com/docker/pdfraster/pkg/logging"
	"github.com/docker/pdfraster/pkg/render"
	"github.com/docker/pdfraster/pkg/tailbuffer"
)

// heapSampleInterval bounds how often a Worker re-checks its own RSS against
// MaxHeapBytes; sampling on every page would add syscall overhead for no
// real benefit on documents with many small pages.
const heapSampleInterval = 250 * time.Millisecond

// Worker renders and encodes pages from a single already-open decoder
// handle. A Worker is owned by exactly one convert call for its entire
// lifetime: open once, render many pages, close at end of call.
type Worker struct {
	log     logging.Logger
	decoder render.Decoder
	encoder *encode.Encoder

	// MaxHeapBytes, if non-zero, is the soft RSS ceiling this worker polls
	// against between pages. Exceeding it fails the next task rather than
	// letting the process get OOM-killed; it is not an exact bound.
	MaxHeapBytes int64

	tail         TailReadWriter
	lastHeapOK   time.Time
	heapExceeded bool
}

// TailReadWriter is the subset of tailbuffer's ring buffer a Worker needs.
type TailReadWriter interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// NewWorker constructs a Worker around an already-open decoder and encoder.
// tailCapacity sizes the crash-diagnostics ring buffer (0 disables it).
func NewWorker(log logging.Logger, decoder render.Decoder, encoder *encode.Encoder, maxHeapBytes int64, tailCapacity uint) *Worker {
	var tail TailReadWriter
	if tailCapacity > 0 {
		tail = tailbuffer.NewTailBuffer(tailCapacity)
	}
	return &Worker{
		log:          log,
		decoder:      decoder,
		encoder:      encoder,
		MaxHeapBytes: maxHeapBytes,
		tail:         tail,
	}
}

// Diagnostics drains and returns the worker's captured crash tail, if
// tailCapacity was non-zero at construction. It is most useful after
// ProcessPage reports a panic-recovered error.
func (w *Worker) Diagnostics() string {
	if w.tail == nil {
		return ""
	}
	buf := make([]byte, 4096)
	var out []byte
	for {
		n, err := w.tail.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil || n == 0 {
			break
		}
	}
	return string(out)
}

// LogWriter returns an io.Writer callers can point the decoder/encoder's own
// diagnostic output at, so a crash's last lines survive the panic that
// ultimately ends the worker.
func (w *Worker) LogWriter() TailReadWriter { return w.tail }

// ProcessPage renders and encodes one page, recovering from any panic in
// the decoder or encoder so that one bad page never aborts the rest of the
// convert call. The returned EncodedPage always carries PageIndex; Success
// is false and Error is set on any failure.
func (w *Worker) ProcessPage(ctx context.Context, task PageTask) (page encode.EncodedPage) {
	page.PageIndex = task.PageIndex

	defer func() {
		if r := recover(); r != nil {
			page.Success = false
			page.Error = fmt.Errorf("panic rendering page %d: %v", task.PageIndex, r)
			w.logCrash(task.PageIndex, r)
		}
	}()

	if err := w.checkHeapCeiling(); err != nil {
		page.Error = err
		return page
	}

	renderStart := time.Now()
	bitmap, err := w.decoder.Render(ctx, task.PageIndex, task.RenderOpts)
	if err != nil {
		page.Error = fmt.Errorf("rendering page %d: %w", task.PageIndex, err)
		return page
	}
	page.RenderTimeMs = time.Since(renderStart).Milliseconds()
	page.WidthPx = bitmap.WidthPx
	page.HeightPx = bitmap.HeightPx

	encodeStart := time.Now()
	encoded, err := w.encoder.Encode(bitmap)
	if err != nil {
		page.Error = &encode.EncodeError{PageIndex: task.PageIndex, Err: err}
		return page
	}
	page.EncodeTimeMs = time.Since(encodeStart).Milliseconds()
	page.EncodedBytes = encoded
	page.Success = true
	return page
}

// Close releases the worker's decoder handle. It must be called exactly
// once, after the last ProcessPage call for this convert call.
func (w *Worker) Close() error {
	return w.decoder.Close()
}

func (w *Worker) logCrash(pageIndex int, recovered any) {
	entry := w.log.WithField("page", pageIndex)
	if diag := w.Diagnostics(); diag != "" {
		entry = entry.WithField("diagnostics", diag)
	}
	entry.Warnf("Recovered from panic: %v", recovered)
}

// checkHeapCeiling samples this process's RSS at most once per
// heapSampleInterval and reports an error if it exceeds MaxHeapBytes. Once
// exceeded, every subsequent call on this worker fails fast: a worker that
// blew its ceiling on one page is not trusted to render the rest of the
// document cleanly.
func (w *Worker) checkHeapCeiling() error {
	if w.MaxHeapBytes <= 0 {
		return nil
	}
	if w.heapExceeded {
		return fmt.Errorf("worker exceeded heap ceiling of %d bytes on an earlier page", w.MaxHeapBytes)
	}
	if time.Since(w.lastHeapOK) < heapSampleInterval {
		return nil
	}
	w.lastHeapOK = time.Now()

	rss, err := currentRSS()
	if err != nil {
		// Sampling failure shouldn't abort rendering; just skip enforcement
		// for this round.
		return nil
	}
	if int64(rss) > w.MaxHeapBytes {
		w.heapExceeded = true
		return fmt.Errorf("worker RSS %d exceeds heap ceiling of %d bytes", rss, w.MaxHeapBytes)
	}
	return nil
}

// currentRSS returns this process's resident set size in bytes.
func currentRSS() (uint64, error) {
	proc, err := sysinfo.Self()
	if err != nil {
		return 0, err
	}
	info, err := proc.Memory()
	if err != nil {
		return 0, err
	}
	return info.Resident, nil
}
