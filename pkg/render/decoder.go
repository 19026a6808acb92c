// Package render defines the PageDecoder capability: the abstract contract
// satisfied by both the native (cgo) and portable (pure Go) PDF decoders.
// Orchestrators open a handle once per convert call, render zero or more
// pages through it, and close it when done; a handle is never shared across
// worker goroutines.
package render

import (
	"context"
	"errors"
	"fmt"
)

// Channels is the fixed channel depth of every RawBitmap produced by a
// Decoder: 8-bit RGBA.
const Channels = 4

// Options carries the per-call rendering knobs a Decoder needs to pick a
// scale and classify a page, derived from the caller's RenderOptions plus
// the codec ceiling of the format chosen for this call.
type Options struct {
	// TargetWidthPx is the desired output width for an ordinary page.
	TargetWidthPx int
	// ImageHeavyTargetWidthPx is used instead of TargetWidthPx when a page is
	// classified scan-like (images present, no fonts).
	ImageHeavyTargetWidthPx int
	// MaxScale bounds how far a page may be upscaled relative to its natural
	// size.
	MaxScale float64
	// DetectScan enables the has-images/no-fonts classification heuristic. If
	// false, every page is treated as an ordinary page.
	DetectScan bool
	// CodecMaxDim is the encoder's per-axis pixel ceiling for the format
	// selected for this call.
	CodecMaxDim int
	// CodecMaxPixels is the encoder's total-pixel-count ceiling.
	CodecMaxPixels int64
}

// RawBitmap is the decoded pixel buffer for one page. It lives only inside a
// worker, between decode and encode; it must never cross a goroutine boundary
// as an owned value once encoding has begun.
type RawBitmap struct {
	WidthPx  int
	HeightPx int
	Channels int
	Pixels   []byte // row-major, stride = Channels*WidthPx

	// ScaleUsed is the scale factor actually applied, after any codec-ceiling
	// clamping.
	ScaleUsed float64
	// ScanLike reports whether the page was classified as scan-like (images,
	// no fonts) and therefore rendered at ImageHeavyTargetWidthPx.
	ScanLike bool
	// ClampedByCeiling reports whether the requested scale was reduced to
	// satisfy the codec's dimension ceiling.
	ClampedByCeiling bool
}

// Decoder is the capability interface implemented by both the native and
// portable PDF decoders. Implementations need not be safe for concurrent use
// by multiple goroutines — callers must serialize access to a single handle,
// which the worker pool already guarantees by construction (one handle per
// worker).
type Decoder interface {
	// PageCount returns the number of pages in the opened document.
	PageCount(ctx context.Context) (int, error)
	// Render decodes the given 1-based page index into a RawBitmap sized and
	// scaled per opts.
	Render(ctx context.Context, pageIndex int, opts Options) (*RawBitmap, error)
	// Close releases all resources associated with the handle.
	Close() error
}

// Kind identifies which concrete Decoder implementation produced a handle.
type Kind string

const (
	KindNative   Kind = "native"
	KindPortable Kind = "portable"
)

// DecodeOpenError reports that a source could not be opened for decoding.
type DecodeOpenError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *DecodeOpenError) Error() string {
	return fmt.Sprintf("decode open failed (%s): %s", e.Kind, e.Detail)
}

func (e *DecodeOpenError) Unwrap() error { return e.Err }

// DecodeRenderError reports that a specific page failed to render. It never
// aborts the surrounding convert call; it is attached to that page's result.
type DecodeRenderError struct {
	PageIndex int
	Detail    string
	Err       error
}

func (e *DecodeRenderError) Error() string {
	return fmt.Sprintf("decode render failed (page %d): %s", e.PageIndex, e.Detail)
}

func (e *DecodeRenderError) Unwrap() error { return e.Err }

// ErrPageOutOfRange is returned by Render when pageIndex falls outside
// [1, PageCount()].
var ErrPageOutOfRange = errors.New("render: page index out of range")
