// Package portable implements the pure-Go PDFDecoder path: a structural PDF
// parser good enough to recover page count, MediaBox dimensions, and the
// scan-like heuristic, without interpreting page content streams. It is the
// fallback path chosen by the StrategyPlanner whenever the native (cgo)
// decoder is unavailable.
package portable

import (
	"context"
	"fmt"

	"github.com/docker/pdfraster/pkg/acquire"
	"github.com/docker/pdfraster/pkg/render"
)

// Decoder implements render.Decoder over a parsed document graph.
type Decoder struct {
	doc   *document
	pages []dict // leaf page dicts in document order, lazily populated
	inh   []inherited
}

// inherited carries the subset of page attributes that propagate down the
// page tree when a leaf page dict omits them (PDF spec §7.7.3.4).
type inherited struct {
	mediaBox *[4]float64
	resources dict
}

var _ render.Decoder = (*Decoder)(nil)

// Open parses in's structural object graph (trailer, xref, page tree).
func Open(ctx context.Context, in *acquire.AcquiredInput) (*Decoder, error) {
	src, err := newRandomAccess(in)
	if err != nil {
		return nil, &render.DecodeOpenError{Kind: render.KindPortable, Detail: "constructing random-access source", Err: err}
	}
	doc, err := openDocument(ctx, src)
	if err != nil {
		return nil, &render.DecodeOpenError{Kind: render.KindPortable, Detail: "parsing PDF structure", Err: err}
	}
	d := &Decoder{doc: doc}
	if err := d.collectPages(ctx); err != nil {
		return nil, &render.DecodeOpenError{Kind: render.KindPortable, Detail: "walking page tree", Err: err}
	}
	return d, nil
}

func (d *Decoder) Close() error { return nil }

func (d *Decoder) PageCount(_ context.Context) (int, error) {
	return len(d.pages), nil
}

// collectPages walks Root -> Pages, flattening the /Kids tree into an
// ordered slice of leaf page dicts, propagating inheritable attributes
// (MediaBox, Resources) down from ancestor /Pages nodes.
func (d *Decoder) collectPages(ctx context.Context) error {
	rootVal, ok, err := d.doc.dictGet(ctx, d.doc.trailer, "Root")
	if err != nil || !ok {
		return fmt.Errorf("portable: trailer missing /Root: %w", err)
	}
	root, ok := rootVal.(dict)
	if !ok {
		return fmt.Errorf("portable: /Root is not a dictionary")
	}
	pagesVal, ok, err := d.doc.dictGet(ctx, root, "Pages")
	if err != nil || !ok {
		return fmt.Errorf("portable: catalog missing /Pages: %w", err)
	}
	pagesRoot, ok := pagesVal.(dict)
	if !ok {
		return fmt.Errorf("portable: /Pages is not a dictionary")
	}
	return d.walk(ctx, pagesRoot, inherited{})
}

func (d *Decoder) walk(ctx context.Context, node dict, inh inherited) error {
	if mb, ok, err := d.doc.dictGet(ctx, node, "MediaBox"); err == nil && ok {
		if box, ok := parseRect(mb); ok {
			inh.mediaBox = &box
		}
	}
	if res, ok, err := d.doc.dictGet(ctx, node, "Resources"); err == nil && ok {
		if rd, ok := res.(dict); ok {
			inh.resources = rd
		}
	}

	typeVal, _, _ := d.doc.dictGet(ctx, node, "Type")
	if typeVal == name("Page") {
		d.pages = append(d.pages, node)
		d.inh = append(d.inh, inh)
		return nil
	}

	kidsVal, ok, err := d.doc.dictGet(ctx, node, "Kids")
	if err != nil || !ok {
		// No /Type and no /Kids: treat as a leaf page, matching lenient
		// real-world PDF generators that omit /Type/Page.
		d.pages = append(d.pages, node)
		d.inh = append(d.inh, inh)
		return nil
	}
	kids, ok := kidsVal.(array)
	if !ok {
		return fmt.Errorf("portable: /Kids is not an array")
	}
	for _, k := range kids {
		kv, err := d.doc.resolveAll(ctx, k)
		if err != nil {
			return err
		}
		kd, ok := kv.(dict)
		if !ok {
			continue
		}
		if err := d.walk(ctx, kd, inh); err != nil {
			return err
		}
	}
	return nil
}

func parseRect(v value) ([4]float64, bool) {
	a, ok := v.(array)
	if !ok || len(a) != 4 {
		return [4]float64{}, false
	}
	var out [4]float64
	for i, e := range a {
		f, ok := toFloat(e)
		if !ok {
			return [4]float64{}, false
		}
		out[i] = f
	}
	return out, true
}

func toFloat(v value) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// pageDimensions returns the natural width/height in points for page index i
// (0-based), defaulting to US Letter when no MediaBox is found anywhere in
// the ancestor chain.
func (d *Decoder) pageDimensions(i int) (w, h float64) {
	const defaultW, defaultH = 612, 792
	box := d.inh[i].mediaBox
	if box == nil {
		return defaultW, defaultH
	}
	w = box[2] - box[0]
	h = box[3] - box[1]
	if w <= 0 || h <= 0 {
		return defaultW, defaultH
	}
	return w, h
}

// scanLike reports whether page i's resource dictionary lists image XObjects
// but no fonts — the heuristic used to widen the render target for scanned
// pages.
func (d *Decoder) scanLike(ctx context.Context, i int) bool {
	res := d.inh[i].resources
	if res == nil {
		return false
	}
	_, hasFont, _ := d.doc.dictGet(ctx, res, "Font")
	if hasFont {
		return false
	}
	xobjVal, ok, err := d.doc.dictGet(ctx, res, "XObject")
	if err != nil || !ok {
		return false
	}
	xobj, ok := xobjVal.(dict)
	if !ok {
		return false
	}
	for _, v := range xobj {
		rv, err := d.doc.resolveAll(ctx, v)
		if err != nil {
			continue
		}
		xd, ok := rv.(dict)
		if !ok {
			continue
		}
		if subtype, _, _ := d.doc.dictGet(ctx, xd, "Subtype"); subtype == name("Image") {
			return true
		}
	}
	return false
}

// Render produces a dimensionally-correct placeholder bitmap for the
// 1-based page index pageIndex: a blank RGBA canvas sized per
// render.ComputeScale. Full content-stream interpretation (actual
// glyph/image painting) is out of scope for the portable path; documents
// that need faithful rasterization are routed to the native decoder by the
// StrategyPlanner.
func (d *Decoder) Render(ctx context.Context, pageIndex int, opts render.Options) (*render.RawBitmap, error) {
	i := pageIndex - 1
	if i < 0 || i >= len(d.pages) {
		return nil, &render.DecodeRenderError{PageIndex: pageIndex, Detail: "page index out of range", Err: render.ErrPageOutOfRange}
	}

	naturalW, naturalH := d.pageDimensions(i)
	scanLike := opts.DetectScan && d.scanLike(ctx, i)

	scale, outW, outH, clamped := render.ComputeScale(naturalW, naturalH, opts, scanLike)

	pixels := make([]byte, outW*outH*render.Channels)
	for p := 0; p < len(pixels); p += render.Channels {
		pixels[p] = 0xff
		pixels[p+1] = 0xff
		pixels[p+2] = 0xff
		pixels[p+3] = 0xff
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
