package outputsink

import (
	"context"
	"fmt"

	"github.com/docker/pdfraster/pkg/encode"
)

// bufferConcurrency has no real I/O to bound; a generous cap keeps the
// orchestrator's fan-out logic uniform across sink modes.
const bufferConcurrency = 32

// bufferSink returns encoded bytes verbatim in the DeliveryResult, for
// callers that want pages in memory rather than written anywhere.
type bufferSink struct{}

func (s *bufferSink) Concurrency() int { return bufferConcurrency }

func (s *bufferSink) DeliverOne(ctx context.Context, page encode.EncodedPage, ext, contentType string) DeliveryResult {
	result := DeliveryResult{PageIndex: page.PageIndex, WidthPx: page.WidthPx, HeightPx: page.HeightPx}
	if !page.Success {
		result.Error = &OutputError{PageIndex: page.PageIndex, Err: fmt.Errorf("page did not render/encode successfully")}
		return result
	}
	result.Success = true
	result.Bytes = page.EncodedBytes
	result.Digest = digestOf(page.EncodedBytes)
	return result
}
