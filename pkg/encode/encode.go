// Package encode implements the Encoder: turning a render.RawBitmap into
// compressed image bytes in WebP, PNG, or JPEG, enforcing the codec
// dimension ceilings the rest of the pipeline plans around.
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"

	"github.com/docker/pdfraster/pkg/render"
)

// Format identifies an output image codec.
type Format string

const (
	FormatWebP Format = "webp"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat normalises a caller-supplied format string, accepting "jpg" as
// an alias for "jpeg".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "webp":
		return FormatWebP, nil
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("encode: unsupported format %q", s)
	}
}

// Codec dimension ceilings. Only WebP carries a hard ceiling in the
// upstream codec; PNG/JPEG are given the same ceiling for a uniform
// planning contract across formats.
const (
	CodecMaxDim    = 16383
	CodecMaxPixels = 16383 * 16383
)

// EncodedPage is the output of the Encoder, owned by the Orchestrator until
// handed to the OutputSink.
type EncodedPage struct {
	PageIndex     int
	WidthPx       int
	HeightPx      int
	EncodedBytes  []byte
	EncodeTimeMs  int64
	RenderTimeMs  int64
	Success       bool
	Error         error
}

// EncodeError reports that a specific page failed to encode. It never
// aborts the surrounding convert call.
type EncodeError struct {
	PageIndex int
	Err       error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode failed (page %d): %v", e.PageIndex, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Options carries the per-call codec knobs.
type Options struct {
	Format          Format
	WebPQuality     int // 0-100
	WebPEffort      int // 0-6; accepted for interface completeness, see DESIGN.md
	JPEGQuality     int // 0-100
	PNGCompression  int // 0-9
}

// DefaultOptions returns the documented default codec settings.
func DefaultOptions() Options {
	return Options{
		Format:         FormatWebP,
		WebPQuality:    80,
		WebPEffort:     4,
		JPEGQuality:    85,
		PNGCompression: 6,
	}
}

// Encoder encodes RawBitmaps into compressed bytes for a fixed format and
// knob set, resolved once at construction (e.g. at native-webp-unavailable
// fallback time), per call.
type Encoder struct {
	opts Options
}

// New constructs an Encoder. If opts.Format is FormatWebP but nativeWebPAvailable
// is false, the Encoder falls back to PNG, which Format then reports.
func New(opts Options, nativeWebPAvailable bool) *Encoder {
	if opts.Format == FormatWebP && !nativeWebPAvailable {
		opts.Format = FormatPNG
	}
	return &Encoder{opts: opts}
}

// Format reports the format this Encoder actually emits (post-fallback).
func (e *Encoder) Format() Format { return e.opts.Format }

// Encode never resizes the bitmap; dimension enforcement happens upstream,
// in the decoder's scale computation (render.ComputeScale).
func (e *Encoder) Encode(bitmap *render.RawBitmap) ([]byte, error) {
	img := bitmapToImage(bitmap)

	var buf bytes.Buffer
	var err error
	switch e.opts.Format {
	case FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{
			Lossless: e.opts.WebPQuality >= 100,
			Quality:  float32(e.opts.WebPQuality),
		})
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: pngCompressionLevel(e.opts.PNGCompression)}
		err = enc.Encode(&buf, img)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.opts.JPEGQuality})
	default:
		return nil, fmt.Errorf("encode: unknown format %q", e.opts.Format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Ext returns the filename extension (without a leading dot) for the
// Encoder's format.
func (e *Encoder) Ext() string {
	switch e.opts.Format {
	case FormatJPEG:
		return "jpg"
	default:
		return string(e.opts.Format)
	}
}

// ContentType returns the MIME content type for the Encoder's format.
func (e *Encoder) ContentType() string {
	switch e.opts.Format {
	case FormatWebP:
		return "image/webp"
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func bitmapToImage(b *render.RawBitmap) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, b.WidthPx, b.HeightPx))
	copy(img.Pix, b.Pixels)
	return img
}

func pngCompressionLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 7:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
