// Package plan implements the StrategyPlanner: a pure function mapping
// acquisition size, page count, decoder availability, and configured
// thresholds onto one of four acquisition/decode strategies.
package plan

import "fmt"

// Strategy names the acquisition mode and decoder chosen for a convert call.
type Strategy struct {
	Kind   Kind
	Reason string
}

// Kind enumerates the four rendering strategies a document can be assigned.
type Kind int

const (
	NativeFull Kind = iota
	NativeStreamed
	PortableStreamed
	PortableFull
)

func (k Kind) String() string {
	switch k {
	case NativeFull:
		return "native_full"
	case NativeStreamed:
		return "native_streamed"
	case PortableStreamed:
		return "portable_streamed"
	case PortableFull:
		return "portable_full"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Thresholds are the immutable, config-resolved knobs the decision table
// reads. NativeFullThreshold unifies two separate-but-identically-defaulted
// knobs (NATIVE_RENDERER_THRESHOLD and NATIVE_STREAM_THRESHOLD) into one.
type Thresholds struct {
	NativeSizeCap       int64 // rule 1: single-page fast-path size cap
	NativeFullThreshold int64 // rules 2 and 4
	ComplexPageBPP      int64 // rule 3: bytes per page
}

// DefaultThresholds returns the documented default size/complexity cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NativeSizeCap:       8 * 1024 * 1024,
		NativeFullThreshold: 8 * 1024 * 1024,
		ComplexPageBPP:      500 * 1024,
	}
}

// Input is the StrategyPlanner's argument tuple.
type Input struct {
	SizeBytes             int64
	PageCountIfKnown      int // 0 if unknown
	AlreadyBuffered       bool
	NativeAvailable       bool
	NativeStreamAvailable bool
	Thresholds            Thresholds
}

// Decide evaluates the decision table top to bottom; first match wins.
func Decide(in Input) Strategy {
	if !in.NativeAvailable {
		if in.AlreadyBuffered {
			return Strategy{PortableFull, "native decoder unavailable, input already buffered"}
		}
		return Strategy{PortableStreamed, "native decoder unavailable"}
	}

	if in.PageCountIfKnown == 1 && in.SizeBytes <= in.Thresholds.NativeSizeCap {
		return Strategy{NativeFull, "single-page file"}
	}

	if in.SizeBytes <= in.Thresholds.NativeFullThreshold {
		return Strategy{NativeFull, "below native full threshold"}
	}

	if in.PageCountIfKnown > 0 && in.SizeBytes/int64(in.PageCountIfKnown) > in.Thresholds.ComplexPageBPP {
		return Strategy{NativeFull, "complex or scan-heavy document"}
	}

	if in.SizeBytes > in.Thresholds.NativeFullThreshold && in.NativeStreamAvailable {
		return Strategy{NativeStreamed, "above native full threshold, native streaming available"}
	}

	return Strategy{PortableStreamed, "default"}
}

// RequiresBuffered reports whether a Strategy needs the AcquiredInput to be
// fully buffered (as opposed to streamed through a RangeFetcher).
func (s Strategy) RequiresBuffered() bool {
	return s.Kind == NativeFull || s.Kind == PortableFull
}

// IsNative reports whether a Strategy uses the native decoder.
func (s Strategy) IsNative() bool {
	return s.Kind == NativeFull || s.Kind == NativeStreamed
}
