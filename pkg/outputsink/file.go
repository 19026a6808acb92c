package outputsink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/pdfraster/pkg/encode"
	"github.com/docker/pdfraster/pkg/logging"
)

// fileConcurrency is the default I/O concurrency cap for file-mode delivery.
const fileConcurrency = 10

type fileSink struct {
	dir    string
	prefix string
	log    logging.Logger
}

func (s *fileSink) Concurrency() int { return fileConcurrency }

// DeliverOne writes the page via a temp file in the same directory followed
// by an atomic rename, so a crash or cancellation never leaves a partial
// file under the final name.
func (s *fileSink) DeliverOne(ctx context.Context, page encode.EncodedPage, ext, contentType string) DeliveryResult {
	result := DeliveryResult{PageIndex: page.PageIndex, WidthPx: page.WidthPx, HeightPx: page.HeightPx}
	if !page.Success {
		result.Error = &OutputError{PageIndex: page.PageIndex, Err: fmt.Errorf("page did not render/encode successfully")}
		return result
	}

	name := pageFileName(s.prefix, page.PageIndex, ext)
	finalPath := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		result.Error = &OutputError{PageIndex: page.PageIndex, Err: err}
		return result
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(page.EncodedBytes); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		result.Error = &OutputError{PageIndex: page.PageIndex, Err: err}
		return result
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		result.Error = &OutputError{PageIndex: page.PageIndex, Err: err}
		return result
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		result.Error = &OutputError{PageIndex: page.PageIndex, Err: err}
		return result
	}

	result.Success = true
	result.SinkRef = finalPath
	result.Digest = digestOf(page.EncodedBytes)
	s.log.WithField("page", page.PageIndex).Debugf("Wrote %s (digest %s)", finalPath, result.Digest)
	return result
}
