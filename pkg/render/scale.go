package render

import "math"

// ComputeScale implements the scale computation shared by every Decoder
// implementation: start from the target width for the page's classification,
// clamp to MaxScale, then clamp further so neither output axis nor the total
// pixel count exceeds the active codec's ceiling. Returns the final scale
// factor, the rounded output dimensions, and whether the codec ceiling forced
// a reduction below the naively requested scale.
func ComputeScale(naturalWidthPx, naturalHeightPx float64, opts Options, scanLike bool) (scale float64, outW, outH int, clampedByCeiling bool) {
	targetWidth := float64(opts.TargetWidthPx)
	if scanLike {
		targetWidth = float64(opts.ImageHeavyTargetWidthPx)
	}
	if naturalWidthPx <= 0 {
		naturalWidthPx = 1
	}
	if naturalHeightPx <= 0 {
		naturalHeightPx = 1
	}

	scale = targetWidth / naturalWidthPx
	if opts.MaxScale > 0 && scale > opts.MaxScale {
		scale = opts.MaxScale
	}
	if scale <= 0 {
		scale = 1
	}

	w := naturalWidthPx * scale
	h := naturalHeightPx * scale

	if factor := ceilingReductionFactor(w, h, opts); factor < 1 {
		scale *= factor
		w = naturalWidthPx * scale
		h = naturalHeightPx * scale
		clampedByCeiling = true
	}

	outW = int(math.Round(w))
	outH = int(math.Round(h))
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return scale, outW, outH, clampedByCeiling
}

// ceilingReductionFactor returns the minimal multiplicative factor (<=1) that
// brings w×h within the codec's per-axis and total-pixel ceilings. Returns 1
// if no reduction is needed or no ceiling is configured.
func ceilingReductionFactor(w, h float64, opts Options) float64 {
	factor := 1.0
	if opts.CodecMaxDim > 0 {
		if w > float64(opts.CodecMaxDim) {
			factor = math.Min(factor, float64(opts.CodecMaxDim)/w)
		}
		if h > float64(opts.CodecMaxDim) {
			factor = math.Min(factor, float64(opts.CodecMaxDim)/h)
		}
	}
	if opts.CodecMaxPixels > 0 {
		if pixels := w * h; pixels > float64(opts.CodecMaxPixels) {
			factor = math.Min(factor, math.Sqrt(float64(opts.CodecMaxPixels)/pixels))
		}
	}
	return factor
}
