//go:build cgo

package native

/*
#cgo pkg-config: mupdf
#include <mupdf/fitz.h>
#include <string.h>

static fz_stream *open_memory_stream(fz_context *ctx, unsigned char *data, size_t n) {
	return fz_open_memory(ctx, data, n);
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"github.com/docker/pdfraster/pkg/acquire"
	"github.com/docker/pdfraster/pkg/logging"
	"github.com/docker/pdfraster/pkg/render"
)

const available = true

// decoder binds one open MuPDF document to a single worker. It is never
// shared across goroutines: the worker pool guarantees one handle per worker
// per convert call, so unlike a multi-threaded server embedding MuPDF, this
// binding needs no fz_locks_context.
type decoder struct {
	ctx      *C.fz_context
	doc      *C.fz_document
	pageBuf  []byte // keeps the source bytes alive for fz_open_memory's lifetime
	numPages int
	log      logging.Logger
}

func open(ctx context.Context, in *acquire.AcquiredInput, log logging.Logger, maxHeapBytes int64) (render.Decoder, error) {
	buf, err := fullyBuffer(ctx, in)
	if err != nil {
		return nil, &render.DecodeOpenError{Kind: render.KindNative, Detail: "buffering input for MuPDF", Err: err}
	}

	limit := C.size_t(0)
	if maxHeapBytes > 0 {
		limit = C.size_t(maxHeapBytes)
	}
	fzctx := C.fz_new_context(nil, nil, limit)
	if fzctx == nil {
		return nil, &render.DecodeOpenError{Kind: render.KindNative, Detail: "fz_new_context failed", Err: errors.New("allocation failure")}
	}
	C.fz_register_document_handlers(fzctx)

	stream := C.open_memory_stream(fzctx, (*C.uchar)(unsafe.Pointer(&buf[0])), C.size_t(len(buf)))
	if stream == nil {
		C.fz_drop_context(fzctx)
		return nil, &render.DecodeOpenError{Kind: render.KindNative, Detail: "fz_open_memory failed", Err: errors.New("stream allocation failure")}
	}

	magic := C.CString("application/pdf")
	defer C.free(unsafe.Pointer(magic))
	doc := C.fz_open_document_with_stream(fzctx, magic, stream)
	C.fz_drop_stream(fzctx, stream)
	if doc == nil {
		C.fz_drop_context(fzctx)
		return nil, &render.DecodeOpenError{Kind: render.KindNative, Detail: "fz_open_document_with_stream failed", Err: errors.New("unrecognized or corrupt PDF")}
	}

	n := int(C.fz_count_pages(fzctx, doc))

	return &decoder{ctx: fzctx, doc: doc, pageBuf: buf, numPages: n, log: log}, nil
}

// fullyBuffer materializes in's bytes. MuPDF's memory stream needs a
// contiguous buffer, so a Streamed AcquiredInput (as NativeStreamed hands
// over) is downloaded in full here before the document is opened.
func fullyBuffer(ctx context.Context, in *acquire.AcquiredInput) ([]byte, error) {
	if in.Kind == acquire.Buffered {
		return in.Bytes, nil
	}
	out := make([]byte, 0, in.Size)
	out = append(out, in.Prefix...)
	if int64(len(out)) < in.Size {
		rest, err := in.Fetcher.Fetch(ctx, int64(len(out)), in.Size-1)
		if err != nil {
			return nil, fmt.Errorf("native: fetching remaining bytes: %w", err)
		}
		out = append(out, rest...)
	}
	return out, nil
}

func (d *decoder) PageCount(_ context.Context) (int, error) {
	return d.numPages, nil
}

func (d *decoder) Close() error {
	if d.doc != nil {
		C.fz_drop_document(d.ctx, d.doc)
		d.doc = nil
	}
	if d.ctx != nil {
		C.fz_drop_context(d.ctx)
		d.ctx = nil
	}
	return nil
}

func (d *decoder) Render(ctx context.Context, pageIndex int, opts render.Options) (*render.RawBitmap, error) {
	if pageIndex < 1 || pageIndex > d.numPages {
		return nil, &render.DecodeRenderError{PageIndex: pageIndex, Detail: "page index out of range", Err: render.ErrPageOutOfRange}
	}

	page := C.fz_load_page(d.ctx, d.doc, C.int(pageIndex-1))
	if page == nil {
		return nil, &render.DecodeRenderError{PageIndex: pageIndex, Detail: "fz_load_page failed", Err: errors.New("could not load page")}
	}
	defer C.fz_drop_page(d.ctx, page)

	bounds := C.fz_bound_page(d.ctx, page)
	naturalW := float64(bounds.x1 - bounds.x0)
	naturalH := float64(bounds.y1 - bounds.y0)

	scanLike := opts.DetectScan && pageIsImageHeavy(d.ctx, d.doc, page)
	scale, outW, outH, clamped := render.ComputeScale(naturalW, naturalH, opts, scanLike)

	matrix := C.fz_scale(C.float(scale), C.float(scale))
	transformed := C.fz_transform_rect(bounds, matrix)
	bbox := C.fz_round_rect(transformed)

	pixels := make([]byte, outW*outH*render.Channels)

	var cookie C.fz_cookie
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cookie.abort = 1
		case <-done:
		}
	}()

	pixmap := C.fz_new_pixmap_with_bbox_and_data(
		d.ctx, C.fz_device_rgb(d.ctx), bbox, nil, 1, (*C.uchar)(unsafe.Pointer(&pixels[0])),
	)
	C.fz_clear_pixmap_with_value(d.ctx, pixmap, C.int(0xff))

	device := C.fz_new_draw_device(d.ctx, matrix, pixmap)
	C.fz_run_page(d.ctx, page, device, C.fz_identity, &cookie)
	C.fz_close_device(d.ctx, device)
	C.fz_drop_device(d.ctx, device)
	C.fz_drop_pixmap(d.ctx, pixmap)
	close(done)

	if ctx.Err() != nil {
		return nil, &render.DecodeRenderError{PageIndex: pageIndex, Detail: "render cancelled", Err: ctx.Err()}
	}
	if cookie.errors > 0 {
		d.log.WithField("page", pageIndex).Warn("MuPDF reported non-fatal errors while rendering page")
	}

	return &render.RawBitmap{
		WidthPx:          outW,
		HeightPx:         outH,
		Channels:         render.Channels,
		Pixels:           pixels,
		ScaleUsed:        scale,
		ScanLike:         scanLike,
		ClampedByCeiling: clamped,
	}, nil
}

// pageIsImageHeavy approximates the scan-like heuristic for the native
// decoder by checking whether the page carries any structured text spans.
// MuPDF's stext device gives an authoritative answer without needing our
// own content-stream parser, unlike the portable decoder's resource-dict
// scan (pkg/render/portable).
func pageIsImageHeavy(fzctx *C.fz_context, _ *C.fz_document, page *C.fz_page) bool {
	stext := C.fz_new_stext_page(fzctx, C.fz_bound_page(fzctx, page))
	defer C.fz_drop_stext_page(fzctx, stext)

	device := C.fz_new_stext_device(fzctx, stext, nil)
	C.fz_run_page(fzctx, page, device, C.fz_identity, nil)
	C.fz_close_device(fzctx, device)
	C.fz_drop_device(fzctx, device)

	for block := stext.first_block; block != nil; block = block.next {
		if block._type == C.FZ_STEXT_BLOCK_TEXT {
			return false
		}
	}
	return true
}
