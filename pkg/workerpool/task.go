package workerpool

import "github.com/docker/pdfraster/pkg/render"

// PageTask is one unit of work handed to a Worker: render and encode a
// single page from an already-open decoder handle.
type PageTask struct {
	// PageIndex is the 1-based page number to render.
	PageIndex int
	// RenderOpts carries the scale/ceiling knobs for this call.
	RenderOpts render.Options
}
