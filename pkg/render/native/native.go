// Package native wraps a MuPDF-based decoder behind the render.Decoder
// interface. The actual binding (decoder_cgo.go) only builds with cgo and a
// MuPDF install available at compile time; decoder_nocgo.go supplies a
// reporting-only stub otherwise, so the module always compiles. Callers
// check Available() before asking the StrategyPlanner to route a call here.
package native

import (
	"context"

	"github.com/docker/pdfraster/pkg/acquire"
	"github.com/docker/pdfraster/pkg/logging"
	"github.com/docker/pdfraster/pkg/render"
)

// Available reports whether this build was compiled with cgo and a MuPDF
// binding, i.e. whether Open can succeed at all.
func Available() bool { return available }

// StreamingAvailable reports whether the native decoder can operate against
// a Streamed AcquiredInput (pulling ranges on demand) rather than requiring
// the whole document buffered up front. It tracks Available(): the
// native decoder accepts a Streamed input, but downloads all of its remaining
// bytes before MuPDF opens the document, so nothing is pulled on demand.
func StreamingAvailable() bool { return available }

// Open opens in for native decoding. maxHeapBytes, if positive, is passed as
// MuPDF's resource-store limit (the max_store argument of fz_new_context):
// MuPDF evicts cached resources to stay under it, and other allocations are
// not bounded by it.
func Open(ctx context.Context, in *acquire.AcquiredInput, log logging.Logger, maxHeapBytes int64) (render.Decoder, error) {
	return open(ctx, in, log, maxHeapBytes)
}
